package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"kubepilot/pkg/capindex"
	"kubepilot/pkg/contextmgr"
	"kubepilot/pkg/llm"
)

const recommendSystemPrompt = `You are a Kubernetes operations assistant. You translate user intent
into deployable configuration. Ground every suggestion in the capability
matches provided; they describe resource types available on THIS
cluster. Use the available read-only tools to inspect the cluster when
that helps. When asked for JSON, reply with exactly one JSON object and
nothing else.`

const clarifyingInstruction = `Identify what information is missing before a solution can be
assembled for the intent above. Reply with JSON:
{"questions": [{"id": "q1", "text": "..."}]}
Ask only questions whose answers change the generated configuration.
Reply with an empty list when the intent is already actionable.`

const assembleInstruction = `Assemble candidate solutions for the intent from the capability
matches above. Prefer operator-based solutions over combinations of
manual primitives when both satisfy the intent. Reply with JSON:
{"candidates": [{"name": "...", "resources": ["kind", ...],
"operator_based": true, "score": 0.0, "rationale": "..."}]}
Score each candidate in [0,1] by fit to the intent.`

const manifestInstruction = `Generate the complete Kubernetes manifest implementing the selected
solution. Reply with only the YAML, in a fenced yaml code block. Include
every document the solution needs, separated by "---".`

// handleClarifying queries the capability index with the user's intent
// and asks the model what is still missing. The question set is stored;
// collection happens later so candidate assembly can proceed on what is
// already known.
func (e *Engine) handleClarifying(ctx context.Context, s *Session, in Input) (Phase, string, error) {
	results, err := e.index.Search(ctx, s.Context.Intent, capindex.Filters{}, capindex.DefaultSearchLimit)
	if err != nil {
		return "", "", fmt.Errorf("capability search failed: %w", err)
	}
	s.Context.Matches = toMatches(results)

	cm := e.newConversation(recommendSystemPrompt)
	cm.AddUser(fmt.Sprintf("Intent: %s\n%s\n\nCapability matches:\n%s\n\n%s",
		s.Context.Intent, in.Message, formatMatches(s.Context.Matches), clarifyingInstruction))

	reply, err := e.runToolLoop(ctx, s, cm, s.AllowedRisk())
	if err != nil {
		return "", "", err
	}

	var parsed struct {
		Questions []Question `json:"questions"`
	}
	if err := decodeReply(reply, &parsed); err != nil {
		return "", "", fmt.Errorf("clarifying phase: %w", err)
	}
	s.Context.Questions = parsed.Questions

	return PhaseSolutionAssembled, "clarified", nil
}

// handleSolutionAssembled ranks candidate resource combinations and
// must converge to at least one scored candidate before the workflow
// advances. With questions outstanding the session halts at
// AwaitingAnswers unless auto mode skips the checkpoint; otherwise the
// manifest loop runs now, so entering ManifestGenerated means a
// validated manifest exists.
func (e *Engine) handleSolutionAssembled(ctx context.Context, s *Session, _ Input) (Phase, string, error) {
	cm := e.newConversation(recommendSystemPrompt)
	cm.AddUser(fmt.Sprintf("Intent: %s\n\nCapability matches:\n%s\n\n%s",
		s.Context.Intent, formatMatches(s.Context.Matches), assembleInstruction))

	reply, err := e.runToolLoop(ctx, s, cm, s.AllowedRisk())
	if err != nil {
		return "", "", err
	}

	var parsed struct {
		Candidates []Candidate `json:"candidates"`
	}
	if err := decodeReply(reply, &parsed); err != nil {
		return "", "", fmt.Errorf("solution assembly: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return "", "", fmt.Errorf("no viable candidate solutions for intent %q", s.Context.Intent)
	}

	sort.SliceStable(parsed.Candidates, func(i, j int) bool {
		a, b := parsed.Candidates[i], parsed.Candidates[j]
		if a.OperatorBased != b.OperatorBased {
			return a.OperatorBased
		}
		return a.Score > b.Score
	})
	s.Context.Candidates = parsed.Candidates

	if len(s.Context.Questions) > 0 && !s.Context.AutoApprove {
		return PhaseAwaitingAnswers, "answers required", nil
	}
	if err := e.runManifestLoop(ctx, s); err != nil {
		return "", "", err
	}
	return PhaseManifestGenerated, "manifest validated", nil
}

// handleAwaitingAnswers records the caller's structured answers and
// runs the manifest loop. Without answers the session stays put and
// control returns to the caller.
func (e *Engine) handleAwaitingAnswers(ctx context.Context, s *Session, in Input) (Phase, string, error) {
	if len(in.Answers) == 0 {
		return "", "", fmt.Errorf("%w: %d questions outstanding", ErrAwaitingInput, len(s.Context.Questions))
	}
	if s.Context.Answers == nil {
		s.Context.Answers = make(map[string]string)
	}
	for id, answer := range in.Answers {
		s.Context.Answers[id] = answer
	}

	if err := e.runManifestLoop(ctx, s); err != nil {
		return "", "", err
	}
	return PhaseManifestGenerated, "manifest validated", nil
}

// handleManifestGenerated applies the validated manifest through the
// deploy operation. A readiness timeout still counts as deployed; only
// an apply failure fails the session.
func (e *Engine) handleManifestGenerated(ctx context.Context, s *Session, _ Input) (Phase, string, error) {
	if s.Context.ManifestPath == "" {
		return "", "", fmt.Errorf("no manifest recorded for session %s", s.ID)
	}

	result, err := e.deployer.Deploy(ctx, s.Context.ManifestPath, e.namespace, e.deployTimeout)
	if err != nil {
		return "", "", fmt.Errorf("deploy failed: %w", err)
	}
	s.Context.Deployment = result
	if !result.Success {
		return "", "", fmt.Errorf("apply rejected: %s", result.Output)
	}

	cause := "deployed"
	if result.ReadinessTimeout {
		cause = "deployed, readiness timeout"
	}
	return PhaseDeployed, cause, nil
}

// runManifestLoop drives generate -> validate -> repair up to the
// configured bound. Each failed validation is folded back into the
// conversation as repair instructions. Convergence writes the manifest
// into the session's work directory for the deploy phase.
func (e *Engine) runManifestLoop(ctx context.Context, s *Session) error {
	cm := e.newConversation(recommendSystemPrompt)
	cm.AddUser(e.manifestPrompt(s))

	for iteration := 1; iteration <= e.maxRepairIter; iteration++ {
		req := llm.NewCompletionRequest(cm.Messages())
		req.Temperature = llm.TemperatureDeterministic
		req.MaxTokens = cm.MaxReplyTokens()

		resp, err := e.client.Complete(ctx, req)
		if err != nil {
			return fmt.Errorf("manifest generation failed: %w", err)
		}
		s.Context.Usage.PromptTokens += resp.Usage.PromptTokens
		s.Context.Usage.CompletionTokens += resp.Usage.CompletionTokens
		cm.AddAssistant(resp.Content)

		manifestYAML := extractYAML(resp.Content)
		result, err := e.validator.Validate(ctx, manifestYAML, e.namespace)
		if err != nil {
			return fmt.Errorf("manifest validation did not run: %w", err)
		}

		s.Context.ValidationAttempts = append(s.Context.ValidationAttempts, ValidationAttempt{
			Iteration: iteration,
			Valid:     result.Valid,
			Summary:   result.Summary(),
		})

		if result.Valid {
			s.Context.Manifest = manifestYAML
			path, err := e.writeManifest(s)
			if err != nil {
				return err
			}
			s.Context.ManifestPath = path
			e.logger.Info("session %s: manifest validated on iteration %d", s.ID, iteration)
			return nil
		}

		e.logger.Debug("session %s: manifest iteration %d invalid: %s", s.ID, iteration, result.Summary())
		cm.AddUser(fmt.Sprintf("Validation failed:\n%s\n\nReturn the corrected complete manifest.", result.Summary()))
	}

	return fmt.Errorf("manifest did not validate within %d repair iterations", e.maxRepairIter)
}

func (e *Engine) manifestPrompt(s *Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Intent: %s\n\n", s.Context.Intent)
	if len(s.Context.Candidates) > 0 {
		top := s.Context.Candidates[0]
		fmt.Fprintf(&b, "Selected solution: %s (resources: %s)\n%s\n\n",
			top.Name, strings.Join(top.Resources, ", "), top.Rationale)
	}
	if len(s.Context.Answers) > 0 {
		b.WriteString("User answers:\n")
		for _, q := range s.Context.Questions {
			if answer, ok := s.Context.Answers[q.ID]; ok {
				fmt.Fprintf(&b, "- %s: %s\n", q.Text, answer)
			}
		}
		b.WriteString("\n")
	}
	b.WriteString(manifestInstruction)
	return b.String()
}

// writeManifest persists the generated manifest under the session work
// directory so deploys survive process restarts.
func (e *Engine) writeManifest(s *Session) (string, error) {
	dir := filepath.Join(e.workDir, s.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}
	path := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(path, []byte(s.Context.Manifest), 0o644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return path, nil
}

func (e *Engine) newConversation(system string) *contextmgr.Manager {
	cm := contextmgr.NewManager(e.client.GetModelName())
	cm.Add(llm.NewSystemMessage(system))
	return cm
}

// extractYAML pulls manifest text out of a model reply, preferring a
// fenced yaml block.
func extractYAML(content string) string {
	for _, fence := range []string{"```yaml", "```yml", "```"} {
		if idx := strings.Index(content, fence); idx >= 0 {
			rest := content[idx+len(fence):]
			if end := strings.Index(rest, "```"); end >= 0 {
				return strings.TrimSpace(rest[:end])
			}
		}
	}
	return strings.TrimSpace(content)
}

func toMatches(results []capindex.SearchResult) []CapabilityMatch {
	matches := make([]CapabilityMatch, len(results))
	for i, r := range results {
		matches[i] = CapabilityMatch{
			ID:           r.ID,
			Kind:         r.Kind,
			Group:        r.Group,
			Version:      r.Version,
			Description:  r.Description,
			Capabilities: r.Capabilities,
			Score:        r.Score,
		}
	}
	return matches
}

func formatMatches(matches []CapabilityMatch) string {
	if len(matches) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "- %s (%s/%s, score %.2f): %s",
			m.Kind, m.Group, m.Version, m.Score, m.Description)
		if len(m.Capabilities) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(m.Capabilities, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
