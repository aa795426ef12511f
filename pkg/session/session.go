// Package session is the workflow orchestration core: persisted
// multi-step sessions advancing through per-kind phase graphs, with
// phase-scoped tool access, bounded model/tool loops, and terminal
// failure semantics that never erase recorded progress.
package session

import (
	"errors"
	"fmt"
	"time"

	"kubepilot/pkg/deploy"
	"kubepilot/pkg/gateway"
	"kubepilot/pkg/llm"
)

// WorkflowKind selects which phase graph a session follows.
type WorkflowKind string

const (
	// KindRecommendation turns intent into a validated, deployed manifest.
	KindRecommendation WorkflowKind = "recommendation"
	// KindRemediation turns an observed problem into an approved, executed fix.
	KindRemediation WorkflowKind = "remediation"
)

// Valid reports whether the kind is known.
func (k WorkflowKind) Valid() bool {
	return k == KindRecommendation || k == KindRemediation
}

// Phase is one state in a workflow graph. The phase determines which
// tool risk classes the model may reach.
type Phase string

// Recommendation phases.
const (
	PhaseClarifying        Phase = "CLARIFYING"
	PhaseSolutionAssembled Phase = "SOLUTION_ASSEMBLED"
	PhaseAwaitingAnswers   Phase = "AWAITING_ANSWERS"
	PhaseManifestGenerated Phase = "MANIFEST_GENERATED"
	PhaseDeployed          Phase = "DEPLOYED"
)

// Remediation phases.
const (
	PhaseInvestigating    Phase = "INVESTIGATING"
	PhaseAnalyzed         Phase = "ANALYZED"
	PhaseAwaitingApproval Phase = "AWAITING_APPROVAL"
	PhaseRemediating      Phase = "REMEDIATING"
	PhaseExecuted         Phase = "EXECUTED"
	PhaseValidated        Phase = "VALIDATED"
)

// PhaseFailed is the shared terminal failure state, reachable from any
// non-terminal phase.
const PhaseFailed Phase = "FAILED"

// Terminal reports whether no further transitions leave the phase.
func (p Phase) Terminal() bool {
	return p == PhaseDeployed || p == PhaseValidated || p == PhaseFailed
}

// Transition causes recorded in history. Approval causes are load
// bearing: mutating tool access requires one of them in history.
const (
	CauseApproved     = "approved"
	CauseAutoApproved = "auto-approved"
)

// TransitionTable maps each phase to the phases it may advance to.
type TransitionTable map[Phase][]Phase

// Transition tables per workflow kind. The direct SolutionAssembled ->
// ManifestGenerated and Analyzed -> Remediating edges exist only for
// auto mode; the engine still records the approval cause when taking
// the latter.
//
//nolint:gochecknoglobals // Static state graphs
var (
	RecommendationTransitions = TransitionTable{
		PhaseClarifying:        {PhaseSolutionAssembled, PhaseFailed},
		PhaseSolutionAssembled: {PhaseAwaitingAnswers, PhaseManifestGenerated, PhaseFailed},
		PhaseAwaitingAnswers:   {PhaseManifestGenerated, PhaseFailed},
		PhaseManifestGenerated: {PhaseDeployed, PhaseFailed},
		PhaseDeployed:          {},
		PhaseFailed:            {},
	}

	RemediationTransitions = TransitionTable{
		PhaseInvestigating:    {PhaseAnalyzed, PhaseFailed},
		PhaseAnalyzed:         {PhaseAwaitingApproval, PhaseRemediating, PhaseFailed},
		PhaseAwaitingApproval: {PhaseRemediating, PhaseFailed},
		PhaseRemediating:      {PhaseExecuted, PhaseFailed},
		PhaseExecuted:         {PhaseValidated, PhaseFailed},
		PhaseValidated:        {},
		PhaseFailed:           {},
	}
)

// TableFor returns the transition table for a workflow kind.
func TableFor(kind WorkflowKind) TransitionTable {
	if kind == KindRemediation {
		return RemediationTransitions
	}
	return RecommendationTransitions
}

// InitialPhase returns the phase new sessions of a kind start in.
func InitialPhase(kind WorkflowKind) Phase {
	if kind == KindRemediation {
		return PhaseInvestigating
	}
	return PhaseClarifying
}

// Sentinel errors for the distinct failure kinds callers discriminate.
var (
	// ErrNotFound reports an unknown session ID.
	ErrNotFound = errors.New("session not found")
	// ErrExpired reports a session past its expiry time.
	ErrExpired = errors.New("session expired")
	// ErrBusy reports a concurrent Advance on the same session.
	ErrBusy = errors.New("session has a transition in flight")
	// ErrTerminal reports an Advance on a completed or failed session.
	ErrTerminal = errors.New("session is in a terminal phase")
	// ErrInvalidTransition reports a transition the phase graph forbids.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrAwaitingInput reports an Advance that needs caller input
	// (answers or an approval decision) before the session can move.
	ErrAwaitingInput = errors.New("session awaits caller input")
)

// Transition is one recorded phase change.
type Transition struct {
	From      Phase          `json:"from"`
	To        Phase          `json:"to"`
	Timestamp time.Time      `json:"timestamp"`
	Cause     string         `json:"cause,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Question is one clarifying question put to the user.
type Question struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// CapabilityMatch is a capability index hit captured into session
// context.
type CapabilityMatch struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Group        string   `json:"group,omitempty"`
	Version      string   `json:"version"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Score        float64  `json:"score"`
}

// Candidate is one scored solution the model assembled from capability
// matches.
type Candidate struct {
	Name          string   `json:"name"`
	Resources     []string `json:"resources"`
	OperatorBased bool     `json:"operator_based"`
	Score         float64  `json:"score"`
	Rationale     string   `json:"rationale,omitempty"`
}

// PlannedAction is one step of a remediation plan.
type PlannedAction struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
	Risk   string         `json:"risk,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// Plan is the remediation plan produced during analysis. RiskScore in
// [0,1] gates the automatic approval path.
type Plan struct {
	Summary    string          `json:"summary"`
	Actions    []PlannedAction `json:"actions,omitempty"`
	Confidence float64         `json:"confidence"`
	RiskScore  float64         `json:"risk_score"`
}

// ValidationAttempt records one round of the generate-validate-repair
// loop.
type ValidationAttempt struct {
	Iteration int    `json:"iteration"`
	Valid     bool   `json:"valid"`
	Summary   string `json:"summary,omitempty"`
}

// Context accumulates everything a workflow learns and produces. It is
// persisted with the session and only ever appended to.
type Context struct {
	Intent              string                     `json:"intent"`
	AutoApprove         bool                       `json:"auto_approve,omitempty"`
	ConfidenceThreshold float64                    `json:"confidence_threshold,omitempty"`
	Questions           []Question                 `json:"questions,omitempty"`
	Answers             map[string]string          `json:"answers,omitempty"`
	Matches             []CapabilityMatch          `json:"matches,omitempty"`
	Candidates          []Candidate                `json:"candidates,omitempty"`
	Manifest            string                     `json:"manifest,omitempty"`
	ManifestPath        string                     `json:"manifest_path,omitempty"`
	ValidationAttempts  []ValidationAttempt        `json:"validation_attempts,omitempty"`
	Invocations         []gateway.InvocationRecord `json:"invocations,omitempty"`
	Deployment          *deploy.Result             `json:"deployment,omitempty"`
	Diagnosis           string                     `json:"diagnosis,omitempty"`
	Plan                *Plan                      `json:"plan,omitempty"`
	Verification        string                     `json:"verification,omitempty"`
	Usage               llm.Usage                  `json:"usage"`
	Failure             string                     `json:"failure,omitempty"`
}

// Session is the root aggregate of one workflow instance.
type Session struct {
	ID        string       `json:"id"`
	Kind      WorkflowKind `json:"kind"`
	Phase     Phase        `json:"phase"`
	History   []Transition `json:"history"`
	Context   Context      `json:"context"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Expired reports whether the session's lifetime has lapsed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Approved reports whether an approval transition is recorded in
// history. Mutating tool access is granted only when this holds.
func (s *Session) Approved() bool {
	for i := range s.History {
		switch s.History[i].Cause {
		case CauseApproved, CauseAutoApproved:
			return true
		}
	}
	return false
}

// CanTransition reports whether the phase graph allows moving to next.
func (s *Session) CanTransition(next Phase) bool {
	for _, allowed := range TableFor(s.Kind)[s.Phase] {
		if allowed == next {
			return true
		}
	}
	return false
}

// transitionTo validates and records one phase change. History is
// append-only; the caller persists afterwards.
func (s *Session) transitionTo(next Phase, cause string, metadata map[string]any) error {
	if !s.CanTransition(next) {
		return fmt.Errorf("%w: %s cannot move %s -> %s", ErrInvalidTransition, s.Kind, s.Phase, next)
	}
	s.History = append(s.History, Transition{
		From:      s.Phase,
		To:        next,
		Timestamp: time.Now().UTC(),
		Cause:     cause,
		Metadata:  metadata,
	})
	s.Phase = next
	return nil
}

// AllowedRisk returns the tool risk classes the session's current phase
// exposes. Recommendation phases are read-only throughout; remediation
// grants mutating access only in Remediating/Executed and only with an
// approval transition in history. AwaitingApproval and terminal phases
// expose nothing.
func (s *Session) AllowedRisk() []gateway.RiskClass {
	if s.Kind == KindRecommendation {
		switch s.Phase {
		case PhaseClarifying, PhaseSolutionAssembled, PhaseAwaitingAnswers, PhaseManifestGenerated:
			return []gateway.RiskClass{gateway.RiskReadOnly}
		}
		return nil
	}

	switch s.Phase {
	case PhaseInvestigating, PhaseAnalyzed:
		return []gateway.RiskClass{gateway.RiskReadOnly}
	case PhaseRemediating, PhaseExecuted:
		if s.Approved() {
			return []gateway.RiskClass{gateway.RiskReadOnly, gateway.RiskMutating}
		}
		return []gateway.RiskClass{gateway.RiskReadOnly}
	}
	return nil
}
