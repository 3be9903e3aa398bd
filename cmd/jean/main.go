// Command jean is the terminal chat client. It keeps one logical connection
// to the relay, renders the conversation in a bubbletea TUI, and executes the
// model's tool calls (read_file, search) against the local workspace.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stulentsev/jean/internal/client"
	"github.com/stulentsev/jean/internal/convlog"
	"github.com/stulentsev/jean/internal/logging"
	"github.com/stulentsev/jean/internal/tools"
	"github.com/stulentsev/jean/internal/tui"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		serverURL  string
		workspace  string
		noMarkdown bool
	)

	cmd := &cobra.Command{
		Use:          "jean",
		Short:        "Terminal chat client for the jean relay",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := client.LoadConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if serverURL != "" {
				cfg.ServerURL = serverURL
			}
			if workspace != "" {
				cfg.Workspace = workspace
			}
			if noMarkdown {
				cfg.Markdown = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runClient(cfg)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "relay WebSocket URL (overrides config)")
	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace root for tool execution (overrides config)")
	cmd.Flags().BoolVar(&noMarkdown, "no-markdown", false, "disable markdown rendering of assistant turns")
	return cmd
}

func runClient(cfg *client.Config) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("jean requires an interactive terminal")
	}

	// The TUI owns the terminal, so diagnostics go to a file only.
	logger, _, err := logging.New(logging.Config{
		Level:      "info",
		File:       cfg.LogFile,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 14,
		Console:    false,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := client.NewConn(cfg.ServerURL, logger.Named("conn"))
	go conn.Run(ctx)

	logDir := filepath.Join(filepath.Dir(cfg.LogFile), "conversation_logs")
	return tui.Run(ctx, tui.Options{
		Conn:      conn,
		Executor:  tools.NewExecutor(cfg.Workspace, logger.Named("tools")),
		ConvLog:   convlog.New(logDir, logger.Named("convlog")),
		Logger:    logger.Named("tui"),
		Workspace: cfg.Workspace,
		Markdown:  cfg.Markdown,
	})
}
