// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jeranaias/parley/internal/storage"
	"github.com/jeranaias/parley/internal/ui"
)

func newTUICmd(opts *globalOptions) *cobra.Command {
	var exportDir string
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the full-screen chat",
		Long: `Open the full-screen chat.

Press F1 for the key bindings. Signing in or out with "parley login" and
"parley logout" from another terminal switches the open session live.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, opts, exportDir)
		},
	}
	cmd.Flags().StringVar(&exportDir, "export-dir", "", "directory for exported chats (default: current directory)")
	return cmd
}

func runTUI(cmd *cobra.Command, opts *globalOptions, exportDir string) error {
	if !IsTTY() || !IsStdoutTTY() {
		return errors.New("the full-screen chat needs a terminal; use \"parley chat\" instead")
	}
	return opts.withApp(cmd, true, func(ctx context.Context, app *App) error {
		n := ui.NewNotifier()
		app.Session.SetObserver(n.Observe)
		app.Session.OnSwitch(func(storage.Scope) { n.Signal() })
		app.Session.Voice().OnSpeaking(func(bool) { n.Signal() })

		screen := ui.New(ui.Options{
			Session:   app.Session,
			Notifier:  n,
			ExportDir: exportDir,
			Context:   ctx,
		})
		p := tea.NewProgram(screen, tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
}
