// Package cli wires the docqa command line: one-shot questions, the terminal
// UI, the MCP server and offline index utilities.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docqa/internal/bootstrap"
	"github.com/kirillkom/docqa/internal/config"
	"github.com/kirillkom/docqa/internal/observability/logging"
)

const serviceName = "docqa"

// Version is set at build time with -ldflags.
var Version = "dev"

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "docqa",
		Short:         "Ask questions about local document collections",
		Long:          "docqa indexes local documents, decomposes questions into sub-questions per document collection and synthesizes one answer.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newAskCommand(),
		newDeskCommand(),
		newMCPCommand(),
		newConvertCommand(),
		newReindexCommand(),
		newCheckEnvCommand(),
		newUsageWatchCommand(),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// newLogger builds the text logger used by interactive commands. Logs go to
// LOG_FILE when set, otherwise to fallback.
func newLogger(cfg config.Config, fallback io.Writer) (*slog.Logger, func(), error) {
	if cfg.LogFile == "" {
		return logging.NewLogger(serviceName, cfg.LogLevel, "text", fallback), func() {}, nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return logging.NewLogger(serviceName, cfg.LogLevel, "text", f), func() { _ = f.Close() }, nil
}

// withApp loads configuration, wires the application and hands it to run.
func withApp(ctx context.Context, logOutput io.Writer, run func(*bootstrap.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg, logOutput)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return run(app)
}
