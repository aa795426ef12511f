package session

import (
	"context"
	"fmt"
	"strings"

	"kubepilot/pkg/gateway"
)

const remediateSystemPrompt = `You are a Kubernetes remediation assistant. You diagnose cluster
problems with the tools you are given and fix them only when explicitly
instructed. Never guess at cluster state: inspect it. When asked for
JSON, reply with exactly one JSON object and nothing else.`

const investigateInstruction = `Investigate the reported problem using the available read-only tools.
When you have enough evidence, reply in plain text with your diagnosis:
what is broken, the root cause, and the evidence supporting it.`

const analyzeInstruction = `Propose a remediation plan for the diagnosis above. Only name tools
from the provided tool list. Reply with JSON:
{"summary": "...", "confidence": 0.0,
 "actions": [{"tool": "...", "args": {...}, "reason": "..."}]}
Confidence is your certainty in [0,1] that the plan fixes the root
cause without collateral damage.`

const remediateInstruction = `Execute the approved remediation plan above using the available
tools, one action at a time, checking the outcome of each. When every
action has been applied, reply in plain text summarizing what changed.`

const verifyInstruction = `Verify with read-only tools whether the remediation resolved the
original problem. Reply with JSON:
{"resolved": true, "summary": "..."}`

// Risk score weights. The score combines the highest-risk tool the
// plan requests with the model's own confidence; auto mode executes
// without the human checkpoint only below the caller's threshold.
const (
	riskBaseNone      = 0.1
	riskBaseReadOnly  = 0.3
	riskBaseMutating  = 0.7
	riskBaseUnknown   = 0.9
	riskDoubtFraction = 0.3
)

// handleInvestigating runs the read-only evidence-gathering loop and
// records the diagnosis.
func (e *Engine) handleInvestigating(ctx context.Context, s *Session, in Input) (Phase, string, error) {
	cm := e.newConversation(remediateSystemPrompt)
	problem := s.Context.Intent
	if in.Message != "" {
		problem += "\n" + in.Message
	}
	cm.AddUser(fmt.Sprintf("Reported problem: %s\n\n%s", problem, investigateInstruction))

	diagnosis, err := e.runToolLoop(ctx, s, cm, s.AllowedRisk())
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(diagnosis) == "" {
		return "", "", fmt.Errorf("investigation produced no diagnosis")
	}
	s.Context.Diagnosis = diagnosis

	return PhaseAnalyzed, "diagnosed", nil
}

// handleAnalyzed turns the diagnosis into a scored remediation plan.
// Auto mode takes the direct edge to Remediating when the risk score
// stays below the caller's threshold; the approval is still recorded in
// history via the transition cause.
func (e *Engine) handleAnalyzed(ctx context.Context, s *Session, _ Input) (Phase, string, error) {
	cm := e.newConversation(remediateSystemPrompt)
	cm.AddUser(fmt.Sprintf("Diagnosis:\n%s\n\nAvailable tools:\n%s\n\n%s",
		s.Context.Diagnosis, e.formatToolList(), analyzeInstruction))

	reply, err := e.runToolLoop(ctx, s, cm, s.AllowedRisk())
	if err != nil {
		return "", "", err
	}

	var plan Plan
	if err := decodeReply(reply, &plan); err != nil {
		return "", "", fmt.Errorf("analysis phase: %w", err)
	}
	if plan.Summary == "" && len(plan.Actions) == 0 {
		return "", "", fmt.Errorf("analysis produced an empty remediation plan")
	}

	e.annotateActionRisk(plan.Actions)
	plan.RiskScore = riskScore(&plan)
	s.Context.Plan = &plan

	if s.Context.AutoApprove && plan.RiskScore < s.Context.ConfidenceThreshold {
		e.logger.Info("session %s: auto-approving plan (risk %.2f < threshold %.2f)",
			s.ID, plan.RiskScore, s.Context.ConfidenceThreshold)
		return PhaseRemediating, CauseAutoApproved, nil
	}
	return PhaseAwaitingApproval, "plan ready", nil
}

// handleAwaitingApproval is the human checkpoint. No tools are exposed
// here; without a decision the session stays put. Rejection is terminal.
func (e *Engine) handleAwaitingApproval(_ context.Context, _ *Session, in Input) (Phase, string, error) {
	if in.Approve == nil {
		return "", "", fmt.Errorf("%w: remediation plan requires an approval decision", ErrAwaitingInput)
	}
	if !*in.Approve {
		return "", "", fmt.Errorf("remediation plan rejected by caller")
	}
	return PhaseRemediating, CauseApproved, nil
}

// handleRemediating executes the approved plan. The approval transition
// already in history is what grants the mutating risk class; the
// gateway still checks every invocation against it.
func (e *Engine) handleRemediating(ctx context.Context, s *Session, _ Input) (Phase, string, error) {
	if s.Context.Plan == nil {
		return "", "", fmt.Errorf("no remediation plan recorded for session %s", s.ID)
	}

	cm := e.newConversation(remediateSystemPrompt)
	cm.AddUser(fmt.Sprintf("Diagnosis:\n%s\n\nApproved plan:\n%s\n\n%s",
		s.Context.Diagnosis, formatPlan(s.Context.Plan), remediateInstruction))

	summary, err := e.runToolLoop(ctx, s, cm, s.AllowedRisk())
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(summary) == "" {
		return "", "", fmt.Errorf("remediation produced no execution summary")
	}

	return PhaseExecuted, "remediation applied", nil
}

// handleExecuted verifies the fix with read-only tools and closes the
// workflow. An unresolved verdict fails the session with the model's
// reasoning surfaced.
func (e *Engine) handleExecuted(ctx context.Context, s *Session, _ Input) (Phase, string, error) {
	cm := e.newConversation(remediateSystemPrompt)
	cm.AddUser(fmt.Sprintf("Original problem: %s\n\nDiagnosis:\n%s\n\n%s",
		s.Context.Intent, s.Context.Diagnosis, verifyInstruction))

	reply, err := e.runToolLoop(ctx, s, cm, s.AllowedRisk())
	if err != nil {
		return "", "", err
	}

	var verdict struct {
		Resolved bool   `json:"resolved"`
		Summary  string `json:"summary"`
	}
	if err := decodeReply(reply, &verdict); err != nil {
		return "", "", fmt.Errorf("verification phase: %w", err)
	}
	s.Context.Verification = verdict.Summary

	if !verdict.Resolved {
		return "", "", fmt.Errorf("remediation did not resolve the problem: %s", verdict.Summary)
	}
	return PhaseValidated, "verified", nil
}

// annotateActionRisk resolves each planned action's risk class from the
// gateway registry. Unknown tools keep an empty class and score worst.
func (e *Engine) annotateActionRisk(actions []PlannedAction) {
	for i := range actions {
		if desc, ok := e.gateway.Lookup(actions[i].Tool); ok {
			actions[i].Risk = string(desc.Risk)
		}
	}
}

// riskScore combines the highest-risk requested tool with the model's
// confidence: score = base + (1 - confidence) * riskDoubtFraction,
// clamped to [0,1]. Higher means riskier.
func riskScore(plan *Plan) float64 {
	base := riskBaseNone
	for _, action := range plan.Actions {
		var b float64
		switch gateway.RiskClass(action.Risk) {
		case gateway.RiskReadOnly:
			b = riskBaseReadOnly
		case gateway.RiskMutating:
			b = riskBaseMutating
		default:
			b = riskBaseUnknown
		}
		if b > base {
			base = b
		}
	}

	confidence := plan.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	score := base + (1-confidence)*riskDoubtFraction
	if score > 1 {
		score = 1
	}
	return score
}

func (e *Engine) formatToolList() string {
	descs := e.gateway.Tools()
	if len(descs) == 0 {
		return "(none registered)"
	}
	var b strings.Builder
	for _, d := range descs {
		fmt.Fprintf(&b, "- %s (%s): %s\n", d.Name, d.Risk, d.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatPlan(plan *Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (confidence %.2f, risk %.2f)\n", plan.Summary, plan.Confidence, plan.RiskScore)
	for i, action := range plan.Actions {
		fmt.Fprintf(&b, "%d. %s", i+1, action.Tool)
		if action.Reason != "" {
			fmt.Fprintf(&b, " - %s", action.Reason)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
