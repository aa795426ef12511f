package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kubepilot/pkg/session"
)

var (
	remediateProblem   string
	remediateAuto      bool
	remediateThreshold float64
)

var remediateCmd = &cobra.Command{
	Use:   "remediate",
	Short: "Diagnose a cluster problem and execute an approved fix",
	Long: `Starts a remediation session: read-only tools gather evidence, the
diagnosis becomes a scored action plan, and the plan executes only
after approval. With --auto, plans whose risk score stays below the
threshold skip the prompt; the auto-approval is still recorded in the
session history.

Examples:

  kubepilot remediate -m "checkout pods are crashlooping in prod"
  kubepilot remediate --auto --threshold 0.4 -m "stale configmap on web"`,
	RunE: runRemediate,
}

func init() {
	remediateCmd.Flags().StringVarP(&remediateProblem, "message", "m", "", "observed problem (required)")
	remediateCmd.Flags().BoolVar(&remediateAuto, "auto", false, "auto-approve low-risk plans")
	remediateCmd.Flags().Float64Var(&remediateThreshold, "threshold", 0.5, "risk threshold for automatic approval")
	_ = remediateCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(remediateCmd)
}

func runRemediate(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime(projectDir)
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := cmd.Context()

	s, err := rt.engine.CreateSession(ctx, session.CreateRequest{
		Kind:                session.KindRemediation,
		Intent:              remediateProblem,
		AutoApprove:         remediateAuto,
		ConfidenceThreshold: remediateThreshold,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Session %s started\n", s.ID)

	in := session.Input{}
	for !s.Phase.Terminal() {
		s, err = rt.engine.Advance(ctx, s.ID, in)
		in = session.Input{}

		switch {
		case errors.Is(err, session.ErrAwaitingInput):
			approved, promptErr := promptApproval(s.Context.Plan)
			if promptErr != nil {
				return promptErr
			}
			in.Approve = &approved
			continue
		case err != nil:
			return fmt.Errorf("session %s failed: %w", s.ID, err)
		}
		fmt.Printf("  %s\n", s.Phase)

		if s.Phase == session.PhaseAnalyzed && s.Context.Diagnosis != "" {
			fmt.Printf("\n%s\n\n", s.Context.Diagnosis)
		}
	}

	fmt.Printf("\nSession %s: %s\n", s.ID, s.Phase)
	if s.Context.Verification != "" {
		fmt.Printf("Verification: %s\n", s.Context.Verification)
	}
	fmt.Printf("Tokens: %d prompt, %d completion\n",
		s.Context.Usage.PromptTokens, s.Context.Usage.CompletionTokens)
	return nil
}

func promptApproval(plan *session.Plan) (bool, error) {
	if plan == nil {
		return false, fmt.Errorf("session needs approval but recorded no plan")
	}

	fmt.Printf("\nProposed plan (risk %.2f, confidence %.2f): %s\n",
		plan.RiskScore, plan.Confidence, plan.Summary)
	for i, action := range plan.Actions {
		fmt.Printf("  %d. [%s] %s", i+1, riskLabel(action.Risk), action.Tool)
		if action.Reason != "" {
			fmt.Printf(": %s", action.Reason)
		}
		fmt.Println()
	}

	fmt.Print("Execute this plan? [y/N] ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read approval: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func riskLabel(risk string) string {
	if risk == "" {
		return "unknown"
	}
	return risk
}
