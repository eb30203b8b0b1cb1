package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/kirillkom/docqa/internal/bootstrap"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/core/usage"
)

func newAskCommand() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question and print the answer, sub-questions and token usage",
		Long:  "Answers one question. Without an argument the DEMO_QUESTION setting is used. Failures are printed and exit 0 unless --strict is set.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, io.Discard, func(app *bootstrap.App) error {
				question := app.Config.DemoQuestion
				if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
					question = args[0]
				}

				s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				s.Suffix = " loading indexes"
				s.Start()
				engine, err := app.LoadEngine(ctx)
				if err != nil {
					s.Stop()
					return reportAskError(cmd.OutOrStdout(), err, strict)
				}
				s.Suffix = " thinking"
				defer s.Stop()

				return runAsk(ctx, cmd.OutOrStdout(), engine, question, strict, s.Stop)
			})
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when the question cannot be answered")
	return cmd
}

// runAsk answers question once and prints the result to out. beforePrint runs
// once the answer is ready, so a progress indicator can be cleared first.
func runAsk(ctx context.Context, out io.Writer, svc ports.QueryService, question string, strict bool, beforePrint func()) error {
	resp, err := svc.Answer(usage.WithCounter(ctx, usage.NewCounter()), question)
	if beforePrint != nil {
		beforePrint()
	}
	if err != nil {
		return reportAskError(out, err, strict)
	}

	fmt.Fprintf(out, "Question: %s\n\n", question)
	fmt.Fprintf(out, "Answer:\n%s\n", resp.Answer)
	if len(resp.SubQuestions) > 0 {
		fmt.Fprintln(out, "\nSub-questions:")
		for _, sq := range resp.SubQuestions {
			fmt.Fprintf(out, "  - %s\n", sq)
		}
	} else {
		fmt.Fprintln(out, "\nNo sub-questions were generated.")
	}
	u := resp.Usage
	fmt.Fprintf(out, "\nTokens: embedding=%d prompt=%d completion=%d total_llm=%d\n",
		u.EmbeddingTokens, u.LLM.PromptTokens, u.LLM.CompletionTokens, u.LLMTokens())
	return nil
}

func reportAskError(out io.Writer, err error, strict bool) error {
	if strict {
		return err
	}
	fmt.Fprintf(out, "Error: %v\n", err)
	return nil
}
