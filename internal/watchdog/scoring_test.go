package watchdog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreMotivationRewardsGrowthKeywords(t *testing.T) {
	score, sentiment := scoreMotivation("新しい挑戦と成長の機会があった")
	assert.Equal(t, 84, score)
	assert.InDelta(t, 0.5, sentiment, 0.001)
}

func TestScoreMotivationPenalizesBurnoutKeywords(t *testing.T) {
	score, sentiment := scoreMotivation("疲労と燃え尽きで限界を感じている")
	assert.Equal(t, 0, score)
	assert.InDelta(t, -0.75, sentiment, 0.001)
}

func TestScoreMotivationNeutralTextIsBaseline(t *testing.T) {
	score, sentiment := scoreMotivation("特に変化はありません")
	assert.Equal(t, 60, score)
	assert.Equal(t, 0.0, sentiment)
}

func TestSummarizeMotivationThreeWayVerdict(t *testing.T) {
	assert.Equal(t, "負荷が高く、ケアが必要です。", summarizeMotivation("疲労と限界"))
	assert.Equal(t, "前向きな兆候があり、育成機会を活かせます。", summarizeMotivation("成長の挑戦"))
	assert.Equal(t, "安定傾向。", summarizeMotivation("特になし"))
}

func TestScoreProjectHealthThresholds(t *testing.T) {
	safeScore, safeRisk := scoreProjectHealth("挑戦と成長")
	assert.Equal(t, RiskSafe, safeRisk)
	assert.Greater(t, safeScore, 70)

	_, warnRisk := scoreProjectHealth("疲労があるが大きな問題はない")
	assert.Equal(t, RiskWarning, warnRisk)

	_, criticalRisk := scoreProjectHealth("炎上して対人トラブルと不満が噴出している")
	assert.Equal(t, RiskCritical, criticalRisk)
}

func TestScoreVarianceNeedsAtLeastTwoMembers(t *testing.T) {
	assert.Equal(t, 0.0, scoreVariance(nil))
	assert.Equal(t, 0.0, scoreVariance([]int{70}))
	assert.Equal(t, 0.3, scoreVariance([]int{40, 70}))
}

func TestScoreManagerGapFallsBackToZeroWithoutSignal(t *testing.T) {
	assert.Equal(t, 0.0, scoreManagerGap(nil, []int{50, 60}))
	assert.Equal(t, 0.0, scoreManagerGap(intPtr(80), nil))

	gap := scoreManagerGap(intPtr(90), []int{50, 70})
	assert.Equal(t, 0.3, gap)
}

func TestRecommendedPlanSwitchesAtHealthSixty(t *testing.T) {
	assert.Equal(t, PlanB, recommendedPlan(60))
	assert.Equal(t, PlanB, recommendedPlan(40))
	assert.Equal(t, PlanA, recommendedPlan(61))
	assert.Equal(t, PlanA, recommendedPlan(100))
}

func TestDefaultPlansCoversAllThreeTypes(t *testing.T) {
	plans := defaultPlans()
	assert.Len(t, plans, 3)
	for _, pt := range []PlanType{PlanA, PlanB, PlanC} {
		plan, ok := plans[pt]
		assert.True(t, ok, "missing plan %s", pt)
		assert.NotEmpty(t, plan.Description)
		assert.NotEmpty(t, plan.Impact)
	}
}

func TestDeterminePatternPriorityOrder(t *testing.T) {
	assert.Equal(t, "burnout", determinePattern("疲労が続いている。対人トラブルもある"))
	assert.Equal(t, "toxic", determinePattern("対人トラブルと噂が絶えない"))
	assert.Equal(t, "rising_star", determinePattern("挑戦を続けて伸びしろを感じる"))
	assert.Equal(t, "constraint", determinePattern("週1の顧問稼働のみ"))
	assert.Equal(t, "luxury", determinePattern("高単価の案件を継続中"))
	assert.Equal(t, "the_savior", determinePattern("特記事項なし"))
}

func TestDecisionFromPatternMapping(t *testing.T) {
	assert.Equal(t, "not_recommended", decisionFromPattern("burnout"))
	assert.Equal(t, "not_recommended", decisionFromPattern("toxic"))
	assert.Equal(t, "conditional", decisionFromPattern("rising_star"))
	assert.Equal(t, "conditional", decisionFromPattern("constraint"))
	assert.Equal(t, "conditional", decisionFromPattern("luxury"))
	assert.Equal(t, "recommended", decisionFromPattern("the_savior"))
}

func intPtr(v int) *int { return &v }
