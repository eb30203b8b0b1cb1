package cli

import (
	"context"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/docqa/internal/adapters/mcp"
	"github.com/kirillkom/docqa/internal/adapters/tui"
	"github.com/kirillkom/docqa/internal/bootstrap"
	"github.com/kirillkom/docqa/internal/core/ports"
)

func newDeskCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "desk",
		Short: "Open the interactive terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			// The terminal belongs to the UI, so logs only go to LOG_FILE.
			return withApp(ctx, io.Discard, func(app *bootstrap.App) error {
				load := func(ctx context.Context) (ports.QueryService, error) {
					engine, err := app.LoadEngine(ctx)
					if err != nil {
						return nil, err
					}
					return engine, nil
				}
				model := tui.New(ctx, "docqa: "+toolNames(app), load)
				_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
				return err
			})
		},
	}
}

func newMCPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the ask_documents tool over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			// Stdout carries the protocol; logs go to stderr.
			return withApp(ctx, os.Stderr, func(app *bootstrap.App) error {
				engine, err := app.LoadEngine(ctx)
				if err != nil {
					return err
				}
				return mcpadapter.New(serviceName, Version, engine, app.Logger).Serve(ctx, os.Stdin, os.Stdout)
			})
		},
	}
}

func toolNames(app *bootstrap.App) string {
	names := make([]string, 0, len(app.Config.Tools))
	for _, tool := range app.Config.Tools {
		names = append(names, tool.Name)
	}
	return strings.Join(names, ", ")
}
