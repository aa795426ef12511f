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
	recommendIntent    string
	recommendAuto      bool
	recommendThreshold float64
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Turn operational intent into a validated, deployed manifest",
	Long: `Starts a recommendation session: the intent is matched against the
capability index, clarifying questions are asked when the intent is
underspecified, and the generated manifest is server-side validated
before it is applied.

Examples:

  kubepilot recommend -m "run a redis cache with persistence"
  kubepilot recommend --auto -m "expose the web deployment on port 80"`,
	RunE: runRecommend,
}

func init() {
	recommendCmd.Flags().StringVarP(&recommendIntent, "message", "m", "", "operational intent (required)")
	recommendCmd.Flags().BoolVar(&recommendAuto, "auto", false, "skip clarifying questions when possible")
	recommendCmd.Flags().Float64Var(&recommendThreshold, "threshold", 0.5, "risk threshold for automatic approval")
	_ = recommendCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(recommendCmd)
}

func runRecommend(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime(projectDir)
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := cmd.Context()

	s, err := rt.engine.CreateSession(ctx, session.CreateRequest{
		Kind:                session.KindRecommendation,
		Intent:              recommendIntent,
		AutoApprove:         recommendAuto,
		ConfidenceThreshold: recommendThreshold,
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
			answers, promptErr := promptAnswers(s.Context.Questions)
			if promptErr != nil {
				return promptErr
			}
			in.Answers = answers
			continue
		case err != nil:
			return fmt.Errorf("session %s failed: %w", s.ID, err)
		}
		fmt.Printf("  %s\n", s.Phase)

		if s.Phase == session.PhaseAwaitingAnswers {
			continue // next Advance halts and triggers the prompt above
		}
	}

	printRecommendationOutcome(s)
	return nil
}

func promptAnswers(questions []session.Question) (map[string]string, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("session needs input but recorded no questions")
	}
	reader := bufio.NewReader(os.Stdin)
	answers := make(map[string]string, len(questions))
	for _, q := range questions {
		fmt.Printf("❓ %s\n> ", q.Text)
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read answer: %w", err)
		}
		answers[q.ID] = strings.TrimSpace(line)
	}
	return answers, nil
}

func printRecommendationOutcome(s *session.Session) {
	fmt.Printf("\nSession %s: %s\n", s.ID, s.Phase)
	if s.Context.ManifestPath != "" {
		fmt.Printf("Manifest: %s\n", s.Context.ManifestPath)
	}
	if d := s.Context.Deployment; d != nil {
		for _, applied := range d.Applied {
			fmt.Printf("  applied %s\n", applied)
		}
		if d.ReadinessTimeout {
			fmt.Println("  ⚠️  workloads did not become ready within the timeout")
		}
	}
	fmt.Printf("Tokens: %d prompt, %d completion\n",
		s.Context.Usage.PromptTokens, s.Context.Usage.CompletionTokens)
}
