// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/util"
)

func newModelsCmd(opts *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the available models",
		Long:  "List the available models. The one marked with * is used for new messages.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, false, func(ctx context.Context, app *App) error {
				data := ModelsData{
					Current: app.Session.Preferences().SelectedModelID,
					Models:  model.Catalog(),
				}
				if jsonOut {
					return outputJSON(cmd.OutOrStdout(), "models", data)
				}
				printModelTable(cmd.OutOrStdout(), data)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	cmd.AddCommand(newModelsUseCmd(opts))
	return cmd
}

func newModelsUseCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "use <id|name>",
		Short:   "Select the model for new messages",
		Example: `  parley models use openai/gpt-4
  parley models use "Claude 3 Haiku"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, false, func(ctx context.Context, app *App) error {
				id, err := app.Session.SetModel(args[0])
				if err != nil {
					return err
				}
				if _, known := model.LookupModel(id); !known {
					fmt.Fprintln(cmd.OutOrStdout(), WarningStyle.Render(id+" is not in the catalog; it is sent to the endpoint as given."))
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Model: "+model.ModelName(id)))
				return nil
			})
		},
	}
}

func printModelTable(w io.Writer, data ModelsData) {
	for _, m := range data.Models {
		marker := " "
		if m.ID == data.Current {
			marker = SuccessStyle.Render("*")
		}
		name := m.Name
		if m.Free {
			name = SuccessStyle.UnsetBold().Render(util.PadRight(name, 22))
		} else {
			name = ValueStyle.Render(util.PadRight(name, 22))
		}
		fmt.Fprintf(w, "%s %s %s %s\n", marker, name,
			DimStyle.Render(util.PadRight(m.ID, 32)), m.Description)
	}
	if _, known := model.LookupModel(data.Current); !known && data.Current != "" {
		fmt.Fprintf(w, "%s %s\n", SuccessStyle.Render("*"), ValueStyle.Render(data.Current))
	}
}
