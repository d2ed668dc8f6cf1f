package core

import "math"

// Rank is a coarse title tier derived from level.
type Rank string

const (
	RankNovice      Rank = "novice"
	RankApprentice  Rank = "apprentice"
	RankScholar     Rank = "scholar"
	RankAdept       Rank = "adept"
	RankExpert      Rank = "expert"
	RankMaster      Rank = "master"
	RankGrandmaster Rank = "grandmaster"
	RankLegend      Rank = "legend"
)

// rankTiers is ordered highest threshold first.
var rankTiers = []struct {
	minLevel int64
	rank     Rank
}{
	{50, RankLegend},
	{40, RankGrandmaster},
	{30, RankMaster},
	{20, RankExpert},
	{15, RankAdept},
	{10, RankScholar},
	{5, RankApprentice},
	{1, RankNovice},
}

// Ranks lists every tier from lowest to highest.
func Ranks() []Rank {
	out := make([]Rank, 0, len(rankTiers))
	for i := len(rankTiers) - 1; i >= 0; i-- {
		out = append(out, rankTiers[i].rank)
	}
	return out
}

// RankForLevel maps a level to its tier.
func RankForLevel(level int64) Rank {
	for _, t := range rankTiers {
		if level >= t.minLevel {
			return t.rank
		}
	}
	return RankNovice
}

// RequiredXPForLevel is floor(100 * 1.5^(level-1)).
func RequiredXPForLevel(level int64) int64 {
	if level < 1 {
		level = 1
	}
	req := math.Floor(100 * math.Pow(1.5, float64(level-1)))
	if req >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(req)
}

// LevelResult is the outcome of ApplyXP.
type LevelResult struct {
	State        LevelState
	LeveledUp    bool
	LevelsGained int
}

// ApplyXP adds delta to the state, rolling over as many levels as the XP covers.
// A zero delta is a no-op apart from recomputing rank.
func ApplyXP(state LevelState, delta int64) (LevelResult, error) {
	if delta < 0 {
		return LevelResult{}, Errorf("ApplyXP", ErrInvalidInput, "negative xp delta %d", delta)
	}
	if state.Level < 1 {
		state.Level = 1
	}
	if state.RequiredXP < 1 {
		state.RequiredXP = RequiredXPForLevel(state.Level)
	}
	current, err := AddSafe(state.CurrentXP, delta)
	if err != nil {
		return LevelResult{}, Wrap("ApplyXP", ErrInvalidInput, err)
	}
	total, err := AddSafe(state.TotalXP, delta)
	if err != nil {
		return LevelResult{}, Wrap("ApplyXP", ErrInvalidInput, err)
	}
	state.CurrentXP = current
	state.TotalXP = total

	res := LevelResult{}
	for state.CurrentXP >= state.RequiredXP {
		state.CurrentXP -= state.RequiredXP
		state.Level++
		state.RequiredXP = RequiredXPForLevel(state.Level)
		res.LeveledUp = true
		res.LevelsGained++
	}
	state.Rank = RankForLevel(state.Level)
	res.State = state
	return res, nil
}
