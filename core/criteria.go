package core

// CriteriaType tags the metric an achievement is measured against.
type CriteriaType string

const (
	CriteriaModulesCompleted   CriteriaType = "modules_completed"
	CriteriaPathwaysCompleted  CriteriaType = "pathways_completed"
	CriteriaQuizScore          CriteriaType = "quiz_score"
	CriteriaStreakDays         CriteriaType = "streak_days"
	CriteriaResourcesCompleted CriteriaType = "resources_completed"
	CriteriaTimeSpent          CriteriaType = "time_spent"
	CriteriaSpecialEvent       CriteriaType = "special_event"
)

// DefaultQuizSampleSize is how many recent quizzes feed the quiz score average.
const DefaultQuizSampleSize = 5

// Rarity is a display hint for achievements.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// CriteriaParams holds optional per-criterion parameters.
type CriteriaParams struct {
	SampleSize int    `json:"sample_size,omitempty"`
	MinSamples int    `json:"min_samples,omitempty"`
	Event      string `json:"event,omitempty"`
}

// AchievementDefinition is an immutable catalog entry.
type AchievementDefinition struct {
	ID          AchievementID  `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category"`
	Rarity      Rarity         `json:"rarity"`
	Points      int64          `json:"points"`
	Criteria    CriteriaType   `json:"criteria_type"`
	Threshold   float64        `json:"threshold"`
	Params      CriteriaParams `json:"params,omitempty"`
	Hidden      bool           `json:"is_hidden"`
}

// ActivitySnapshot is the aggregate learner activity criteria are measured on.
type ActivitySnapshot struct {
	ModulesCompleted   int
	PathwaysCompleted  int
	ResourcesCompleted int
	// QuizScores are completed quiz scores, most recent first.
	QuizScores    []float64
	StreakDays    int
	HoursSpent    float64
	SpecialEvents map[string]int
}

// Criterion is the closed set of achievement criteria. Every kind is a concrete
// type below; the unexported method keeps the set sealed to this package.
type Criterion interface {
	Kind() CriteriaType
	// percent returns the uncapped completion percentage for threshold.
	percent(s ActivitySnapshot, threshold float64) float64
}

type ModulesCompleted struct{}
type PathwaysCompleted struct{}
type StreakDays struct{}
type ResourcesCompleted struct{}
type TimeSpent struct{}

// QuizScore averages the SampleSize most recent scores. With fewer than
// MinSamples scores the percentage is scaled down so it cannot reach 100.
type QuizScore struct {
	SampleSize int
	MinSamples int
}

// SpecialEvent counts caller-reported occurrences of Event.
type SpecialEvent struct {
	Event string
}

func (ModulesCompleted) Kind() CriteriaType   { return CriteriaModulesCompleted }
func (PathwaysCompleted) Kind() CriteriaType  { return CriteriaPathwaysCompleted }
func (StreakDays) Kind() CriteriaType         { return CriteriaStreakDays }
func (ResourcesCompleted) Kind() CriteriaType { return CriteriaResourcesCompleted }
func (TimeSpent) Kind() CriteriaType          { return CriteriaTimeSpent }
func (QuizScore) Kind() CriteriaType          { return CriteriaQuizScore }
func (SpecialEvent) Kind() CriteriaType       { return CriteriaSpecialEvent }

func ratio(metric, threshold float64) float64 { return metric / threshold * 100 }

func (ModulesCompleted) percent(s ActivitySnapshot, t float64) float64 {
	return ratio(float64(s.ModulesCompleted), t)
}

func (PathwaysCompleted) percent(s ActivitySnapshot, t float64) float64 {
	return ratio(float64(s.PathwaysCompleted), t)
}

func (StreakDays) percent(s ActivitySnapshot, t float64) float64 {
	return ratio(float64(s.StreakDays), t)
}

func (ResourcesCompleted) percent(s ActivitySnapshot, t float64) float64 {
	return ratio(float64(s.ResourcesCompleted), t)
}

func (TimeSpent) percent(s ActivitySnapshot, t float64) float64 {
	return ratio(s.HoursSpent, t)
}

func (c QuizScore) percent(s ActivitySnapshot, t float64) float64 {
	n := c.SampleSize
	if n <= 0 {
		n = DefaultQuizSampleSize
	}
	scores := s.QuizScores
	if len(scores) > n {
		scores = scores[:n]
	}
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	p := ratio(sum/float64(len(scores)), t)
	if c.MinSamples > 0 && len(scores) < c.MinSamples {
		p = p * float64(len(scores)) / float64(c.MinSamples)
		if p >= 100 {
			p = 99
		}
	}
	return p
}

func (c SpecialEvent) percent(s ActivitySnapshot, t float64) float64 {
	return ratio(float64(s.SpecialEvents[c.Event]), t)
}

// CriterionFor resolves a definition into its criterion variant.
func CriterionFor(def AchievementDefinition) (Criterion, error) {
	if def.Threshold <= 0 {
		return nil, Errorf("CriterionFor", ErrInvalidCriteria, "achievement %s: threshold must be positive", def.ID)
	}
	switch def.Criteria {
	case CriteriaModulesCompleted:
		return ModulesCompleted{}, nil
	case CriteriaPathwaysCompleted:
		return PathwaysCompleted{}, nil
	case CriteriaQuizScore:
		return QuizScore{SampleSize: def.Params.SampleSize, MinSamples: def.Params.MinSamples}, nil
	case CriteriaStreakDays:
		return StreakDays{}, nil
	case CriteriaResourcesCompleted:
		return ResourcesCompleted{}, nil
	case CriteriaTimeSpent:
		return TimeSpent{}, nil
	case CriteriaSpecialEvent:
		event := def.Params.Event
		if event == "" {
			event = string(def.ID)
		}
		return SpecialEvent{Event: event}, nil
	}
	return nil, Errorf("CriterionFor", ErrInvalidCriteria, "achievement %s: unknown criteria type %q", def.ID, def.Criteria)
}
