package catalog

import "progresskit/core"

// Defaults is the built-in achievement set.
func Defaults() []core.AchievementDefinition {
	return []core.AchievementDefinition{
		{ID: "first-steps", Name: "First Steps", Description: "Complete your first module", Category: "learning", Rarity: core.RarityCommon, Points: 25, Criteria: core.CriteriaModulesCompleted, Threshold: 1},
		{ID: "module-master", Name: "Module Master", Description: "Complete 10 modules", Category: "learning", Rarity: core.RarityUncommon, Points: 100, Criteria: core.CriteriaModulesCompleted, Threshold: 10},
		{ID: "pathfinder", Name: "Pathfinder", Description: "Complete a learning pathway", Category: "learning", Rarity: core.RarityRare, Points: 150, Criteria: core.CriteriaPathwaysCompleted, Threshold: 1},
		{ID: "trailblazer", Name: "Trailblazer", Description: "Complete 5 learning pathways", Category: "learning", Rarity: core.RarityEpic, Points: 500, Criteria: core.CriteriaPathwaysCompleted, Threshold: 5},
		{ID: "bookworm", Name: "Bookworm", Description: "Complete 25 resources", Category: "learning", Rarity: core.RarityCommon, Points: 50, Criteria: core.CriteriaResourcesCompleted, Threshold: 25},
		{ID: "quiz-whiz", Name: "Quiz Whiz", Description: "Average 90% over your last 5 quizzes", Category: "mastery", Rarity: core.RarityRare, Points: 120, Criteria: core.CriteriaQuizScore, Threshold: 90, Params: core.CriteriaParams{SampleSize: 5, MinSamples: 3}},
		{ID: "perfectionist", Name: "Perfectionist", Description: "Average 100% over your last 3 quizzes", Category: "mastery", Rarity: core.RarityLegendary, Points: 300, Criteria: core.CriteriaQuizScore, Threshold: 100, Params: core.CriteriaParams{SampleSize: 3, MinSamples: 3}, Hidden: true},
		{ID: "on-a-roll", Name: "On a Roll", Description: "Keep a 3 day streak", Category: "consistency", Rarity: core.RarityCommon, Points: 20, Criteria: core.CriteriaStreakDays, Threshold: 3},
		{ID: "week-warrior", Name: "Week Warrior", Description: "Keep a 7 day streak", Category: "consistency", Rarity: core.RarityUncommon, Points: 70, Criteria: core.CriteriaStreakDays, Threshold: 7},
		{ID: "unstoppable", Name: "Unstoppable", Description: "Keep a 30 day streak", Category: "consistency", Rarity: core.RarityEpic, Points: 300, Criteria: core.CriteriaStreakDays, Threshold: 30},
		{ID: "dedicated", Name: "Dedicated", Description: "Spend 10 hours on pathways", Category: "consistency", Rarity: core.RarityUncommon, Points: 80, Criteria: core.CriteriaTimeSpent, Threshold: 10},
		{ID: "hackathon-hero", Name: "Hackathon Hero", Description: "Take part in a hackathon", Category: "community", Rarity: core.RarityRare, Points: 100, Criteria: core.CriteriaSpecialEvent, Threshold: 1, Params: core.CriteriaParams{Event: "hackathon"}},
	}
}
