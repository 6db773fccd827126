package models

// Credit prices per action.
const (
	CostAssessmentFirst = 0
	CostAssessmentRetry = 2
	CostPromptAnalyzer  = 1
	CostIcebreaker      = 0.25
	CostAMAQuestion     = 0.5
)

// WeeklyCredits is the refill each tier receives on a weekly reset or upgrade.
// Premium is large rather than infinite.
var WeeklyCredits = map[Tier]float64{
	TierFree:    3,
	TierBasic:   5,
	TierPremium: 9999,
}
