package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kubepilot/pkg/gateway"
)

func TestTransitionTables(t *testing.T) {
	tests := []struct {
		name  string
		kind  WorkflowKind
		from  Phase
		to    Phase
		valid bool
	}{
		{"rec happy path", KindRecommendation, PhaseClarifying, PhaseSolutionAssembled, true},
		{"rec auto skip", KindRecommendation, PhaseSolutionAssembled, PhaseManifestGenerated, true},
		{"rec answers path", KindRecommendation, PhaseSolutionAssembled, PhaseAwaitingAnswers, true},
		{"rec no backwards", KindRecommendation, PhaseManifestGenerated, PhaseClarifying, false},
		{"rec no skip to deploy", KindRecommendation, PhaseClarifying, PhaseDeployed, false},
		{"rec fail from any", KindRecommendation, PhaseAwaitingAnswers, PhaseFailed, true},
		{"rem happy path", KindRemediation, PhaseInvestigating, PhaseAnalyzed, true},
		{"rem auto approval edge", KindRemediation, PhaseAnalyzed, PhaseRemediating, true},
		{"rem no skip approval to executed", KindRemediation, PhaseAnalyzed, PhaseExecuted, false},
		{"rem approval", KindRemediation, PhaseAwaitingApproval, PhaseRemediating, true},
		{"rem fail from non-terminal", KindRemediation, PhaseRemediating, PhaseFailed, true},
		{"terminal deployed", KindRecommendation, PhaseDeployed, PhaseFailed, false},
		{"terminal validated", KindRemediation, PhaseValidated, PhaseFailed, false},
		{"terminal failed", KindRemediation, PhaseFailed, PhaseInvestigating, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{Kind: tt.kind, Phase: tt.from}
			assert.Equal(t, tt.valid, s.CanTransition(tt.to))
		})
	}
}

func TestTransitionToRecordsHistory(t *testing.T) {
	s := &Session{Kind: KindRemediation, Phase: PhaseInvestigating}

	require.NoError(t, s.transitionTo(PhaseAnalyzed, "diagnosed", nil))
	require.NoError(t, s.transitionTo(PhaseAwaitingApproval, "plan ready", nil))

	require.Len(t, s.History, 2)
	assert.Equal(t, PhaseInvestigating, s.History[0].From)
	assert.Equal(t, PhaseAnalyzed, s.History[0].To)
	assert.Equal(t, "diagnosed", s.History[0].Cause)
	assert.False(t, s.History[0].Timestamp.IsZero())
	assert.Equal(t, PhaseAwaitingApproval, s.Phase)

	err := s.transitionTo(PhaseValidated, "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Len(t, s.History, 2, "invalid transition must not touch history")
}

func TestApprovedRequiresApprovalCause(t *testing.T) {
	s := &Session{Kind: KindRemediation, Phase: PhaseInvestigating}
	require.NoError(t, s.transitionTo(PhaseAnalyzed, "diagnosed", nil))
	assert.False(t, s.Approved())

	require.NoError(t, s.transitionTo(PhaseAwaitingApproval, "plan ready", nil))
	assert.False(t, s.Approved())

	require.NoError(t, s.transitionTo(PhaseRemediating, CauseApproved, nil))
	assert.True(t, s.Approved())
}

func TestApprovedAcceptsAutoApproval(t *testing.T) {
	s := &Session{Kind: KindRemediation, Phase: PhaseAnalyzed}
	require.NoError(t, s.transitionTo(PhaseRemediating, CauseAutoApproved, nil))
	assert.True(t, s.Approved())
}

func TestAllowedRiskByPhase(t *testing.T) {
	readOnly := []gateway.RiskClass{gateway.RiskReadOnly}
	both := []gateway.RiskClass{gateway.RiskReadOnly, gateway.RiskMutating}

	tests := []struct {
		name     string
		session  *Session
		expected []gateway.RiskClass
	}{
		{"investigating read-only", &Session{Kind: KindRemediation, Phase: PhaseInvestigating}, readOnly},
		{"analyzed read-only", &Session{Kind: KindRemediation, Phase: PhaseAnalyzed}, readOnly},
		{"awaiting approval exposes nothing", &Session{Kind: KindRemediation, Phase: PhaseAwaitingApproval}, nil},
		{
			"remediating without approval stays read-only",
			&Session{Kind: KindRemediation, Phase: PhaseRemediating},
			readOnly,
		},
		{
			"remediating with approval grants mutating",
			&Session{
				Kind: KindRemediation, Phase: PhaseRemediating,
				History: []Transition{{From: PhaseAwaitingApproval, To: PhaseRemediating, Cause: CauseApproved}},
			},
			both,
		},
		{"recommendation read-only", &Session{Kind: KindRecommendation, Phase: PhaseClarifying}, readOnly},
		{"terminal exposes nothing", &Session{Kind: KindRemediation, Phase: PhaseValidated}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.session.AllowedRisk())
		})
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	s := &Session{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, s.Expired(now))
	assert.True(t, s.Expired(now.Add(2*time.Hour)))
}

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name string
		plan Plan
		want float64
	}{
		{"empty plan, full confidence", Plan{Confidence: 1}, riskBaseNone},
		{
			"read-only plan",
			Plan{Confidence: 1, Actions: []PlannedAction{{Tool: "k8s_get", Risk: "read-only"}}},
			riskBaseReadOnly,
		},
		{
			"mutating dominates",
			Plan{Confidence: 1, Actions: []PlannedAction{
				{Tool: "k8s_get", Risk: "read-only"},
				{Tool: "k8s_apply", Risk: "mutating"},
			}},
			riskBaseMutating,
		},
		{
			"doubt raises score",
			Plan{Confidence: 0.5, Actions: []PlannedAction{{Tool: "k8s_get", Risk: "read-only"}}},
			riskBaseReadOnly + 0.5*riskDoubtFraction,
		},
		{"unknown tool scores worst", Plan{Confidence: 0, Actions: []PlannedAction{{Tool: "mystery"}}}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, riskScore(&tt.plan), 1e-9)
		})
	}
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("Here you go:\n```json\n{\"a\":1}\n```\nDone."))
	assert.Equal(t, `{"a":1}`, extractJSON(`prefix {"a":1} suffix`))
	assert.Equal(t, `{"nested":{"b":2}}`, extractJSON(`{"nested":{"b":2}}`))
}

func TestExtractYAML(t *testing.T) {
	content := "Sure:\n```yaml\napiVersion: v1\nkind: Pod\n```\n"
	assert.Equal(t, "apiVersion: v1\nkind: Pod", extractYAML(content))
	assert.Equal(t, "kind: Pod", extractYAML("kind: Pod"))
}
