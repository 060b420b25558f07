// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/parley/internal/export"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// SESSIONS COMMAND
// =============================================================================

func newSessionsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"history"},
		Short:   "Manage saved conversations",
		Long: `List, show, search, export and delete the conversations of the current
user, or of this machine's guest when signed out.`,
	}
	cmd.AddCommand(
		newSessionsListCmd(opts),
		newSessionsShowCmd(opts),
		newSessionsSearchCmd(opts),
		newSessionsDeleteCmd(opts),
		newSessionsExportCmd(opts),
	)
	return cmd
}

func newSessionsListCmd(opts *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, false, func(ctx context.Context, app *App) error {
				data := SessionsData{
					Scope:         app.Session.Scope().String(),
					Conversations: summarize(app.Session.Conversations(), app.Session.CurrentID()),
				}
				if jsonOut {
					return outputJSON(cmd.OutOrStdout(), "sessions list", data)
				}
				printConversationTable(cmd.OutOrStdout(), data.Conversations)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func newSessionsSearchCmd(opts *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find conversations by title or message text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, false, func(ctx context.Context, app *App) error {
				data := SessionsData{
					Scope:         app.Session.Scope().String(),
					Conversations: summarize(app.Session.Search(args[0]), app.Session.CurrentID()),
				}
				if jsonOut {
					return outputJSON(cmd.OutOrStdout(), "sessions search", data)
				}
				printConversationTable(cmd.OutOrStdout(), data.Conversations)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func newSessionsShowCmd(opts *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, false, func(ctx context.Context, app *App) error {
				conv, ok := app.Session.Conversation(args[0])
				if !ok {
					return fmt.Errorf("conversation %q not found", args[0])
				}
				out := cmd.OutOrStdout()
				if jsonOut {
					return outputJSON(out, "sessions show", conv)
				}
				printConversation(out, conv)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func newSessionsDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a conversation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, false, func(ctx context.Context, app *App) error {
				conv, ok := app.Session.Conversation(args[0])
				if !ok {
					return fmt.Errorf("conversation %q not found", args[0])
				}
				if err := app.Session.DeleteConversation(conv.ID); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Deleted "+conv.Title))
				return nil
			})
		},
	}
}

func newSessionsExportCmd(opts *globalOptions) *cobra.Command {
	var (
		format    string
		outputDir string
	)
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a conversation to a Markdown, JSON or HTML file",
		Example: `  parley sessions export 6f1c... --format html --output ~/exports`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			return opts.withApp(cmd, false, func(ctx context.Context, app *App) error {
				conv, ok := app.Session.Conversation(args[0])
				if !ok {
					return fmt.Errorf("conversation %q not found", args[0])
				}
				eo := export.DefaultOptions()
				if outputDir != "" {
					eo.OutputDir = outputDir
				}
				path, err := export.ExportConversation(conv, f, eo)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Exported to "+path))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "output format: markdown, json or html")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default: current directory)")
	return cmd
}

// =============================================================================
// RENDERING
// =============================================================================

func printConversationTable(w io.Writer, rows []ConversationSummary) {
	if len(rows) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No saved conversations."))
		return
	}
	titleWidth := TerminalWidth() - 36 - 22
	if titleWidth < 16 {
		titleWidth = 16
	}
	fmt.Fprintf(w, "  %s  %s  %s\n",
		LabelStyle.UnsetWidth().Render(util.PadRight("ID", 36)),
		LabelStyle.UnsetWidth().Render(util.PadRight("TITLE", titleWidth)),
		LabelStyle.UnsetWidth().Render("MSGS  UPDATED"))
	for _, r := range rows {
		marker := " "
		if r.Current {
			marker = SuccessStyle.Render("*")
		}
		fmt.Fprintf(w, "%s %s  %s  %4d  %s\n",
			marker,
			DimStyle.Render(util.PadRight(r.ID, 36)),
			util.PadRight(util.Truncate(r.Title, titleWidth), titleWidth),
			r.Messages,
			r.UpdatedAt.Local().Format("Jan 2 15:04"),
		)
	}
}

func printConversation(w io.Writer, conv model.Conversation) {
	fmt.Fprintln(w, TitleStyle.Render(conv.Title))
	fmt.Fprintln(w, RenderLabel("ID", conv.ID))
	fmt.Fprintln(w, RenderLabel("Created", conv.CreatedAt.Local().Format("Jan 2, 2006 15:04")))
	fmt.Fprintln(w, RenderLabel("Updated", conv.UpdatedAt.Local().Format("Jan 2, 2006 15:04")))
	fmt.Fprintln(w, RenderSeparator())
	for _, msg := range conv.Messages {
		fmt.Fprintf(w, "%s %s\n%s\n\n",
			roleLabel(msg.Role),
			DimStyle.Render(msg.CreatedAt.Local().Format("15:04")),
			msg.Content)
	}
}
