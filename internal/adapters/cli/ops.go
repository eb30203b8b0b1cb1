package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docqa/internal/bootstrap"
	"github.com/kirillkom/docqa/internal/config"
	"github.com/kirillkom/docqa/internal/core/domain"
	eventsnats "github.com/kirillkom/docqa/internal/infrastructure/events/nats"
)

func newReindexCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the index of every configured tool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), os.Stderr, func(app *bootstrap.App) error {
				acquired, err := app.Reindex(cmd.Context())
				for i, idx := range acquired {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chunks from %d documents -> %s\n",
						app.Config.Tools[i].Name, len(idx.Index.Records), idx.Index.Meta.DocumentCount, idx.StoragePath)
				}
				return err
			})
		},
	}
}

func newCheckEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-env",
		Short: "Report whether a .env file and the provider credential were found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			writeEnvReport(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func writeEnvReport(out io.Writer, cfg config.Config) {
	if cfg.EnvFile != "" {
		fmt.Fprintf(out, ".env file: found (%s)\n", cfg.EnvFile)
	} else {
		fmt.Fprintln(out, ".env file: not found")
	}
	fmt.Fprintf(out, "LLM provider: %s\n", cfg.LLMProvider)
	if key := cfg.MaskedAPIKey(); key != "" {
		fmt.Fprintf(out, "OPENAI_API_KEY: set (%s)\n", key)
	} else {
		fmt.Fprintln(out, "OPENAI_API_KEY: not set")
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Configuration: invalid (%v)\n", err)
		return
	}
	fmt.Fprintln(out, "Configuration: ok")
}

func newUsageWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "usage-watch",
		Short: "Print query and index events published on NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.NATSURL == "" {
				return domain.WrapError(domain.ErrInvalidInput, "usage-watch", fmt.Errorf("NATS_URL is not set"))
			}
			logger, closeLog, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer closeLog()

			sub, err := eventsnats.New(cfg.NATSURL, cfg.NATSSubject, eventsnats.Options{Logger: logger})
			if err != nil {
				return err
			}
			defer sub.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", sub.Subject())
			return sub.Subscribe(cmd.Context(), func(_ context.Context, env eventsnats.Envelope, raw []byte) error {
				line, err := formatEvent(env, raw)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, line)
				return nil
			})
		},
	}
}

func formatEvent(env eventsnats.Envelope, raw []byte) (string, error) {
	switch env.Type {
	case domain.EventQueryAnswered:
		var e domain.QueryAnsweredEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return "", fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return fmt.Sprintf("%s %s sub_questions=%d sources=%d embedding=%d llm=%d duration_ms=%d",
			e.At.Format("15:04:05"), e.Type, e.SubQuestions, e.Sources,
			e.Usage.EmbeddingTokens, e.Usage.LLMTokens(), e.DurationMS), nil
	case domain.EventIndexRebuilt:
		var e domain.IndexRebuiltEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return "", fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return fmt.Sprintf("%s %s storage=%s reason=%s documents=%d records=%d embedding=%d",
			e.At.Format("15:04:05"), e.Type, e.StoragePath, e.Reason, e.Documents, e.Records, e.EmbedTokens), nil
	default:
		return fmt.Sprintf("%s id=%s", env.Type, env.ID), nil
	}
}
