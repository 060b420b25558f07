// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/jeranaias/parley/internal/completion"
	"github.com/jeranaias/parley/internal/model"
)

// AskResult is the JSON output of the ask command.
type AskResult struct {
	Model    string `json:"model"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Duration string `json:"duration"`
}

func newAskCmd(opts *globalOptions) *cobra.Command {
	var (
		modelFlag string
		raw       bool
		jsonOut   bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question without saving it",
		Long: `Ask a single question and print the answer.

The question is read from the arguments, or from stdin when there are none.
Nothing is saved to your conversations.`,
		Example: `  parley ask "What is a goroutine?"
  parley ask --model openai/gpt-4 "Explain CRDTs briefly"
  git diff | parley ask --raw`,
		RunE: func(cmd *cobra.Command, args []string) error {
			question, err := questionFrom(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			modelID := modelFlag
			if modelID == "" {
				modelID = cfg.Completion.DefaultModel
			}
			if info, ok := model.LookupModel(modelID); ok {
				modelID = info.ID
			}

			client := completion.NewClient(cfg.Completion.APIKey).
				WithBaseURL(cfg.Completion.BaseURL).
				WithTimeout(cfg.Completion.Timeout.Duration).
				WithSite(cfg.Completion.SiteURL, cfg.Completion.SiteName)
			if !client.IsConfigured() {
				return fmt.Errorf("%w (set completion.api_key or PARLEY_COMPLETION_API_KEY)", completion.ErrNotConfigured)
			}

			start := time.Now()
			answer, err := client.Complete(cmd.Context(), modelID, question)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return outputJSON(out, "ask", AskResult{
					Model:    modelID,
					Question: question,
					Answer:   answer,
					Duration: time.Since(start).Round(time.Millisecond).String(),
				})
			}
			if raw || !IsStdoutTTY() {
				fmt.Fprintln(out, answer)
				return nil
			}
			fmt.Fprintln(out, renderAnswer(answer))
			return nil
		},
	}
	cmd.Flags().StringVarP(&modelFlag, "model", "m", "", "model ID or name (default: completion.default_model)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the answer without Markdown rendering")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the answer as JSON")
	return cmd
}

// questionFrom joins args, or reads r when there are none.
func questionFrom(args []string, r io.Reader) (string, error) {
	q := strings.TrimSpace(strings.Join(args, " "))
	if q == "" && r != nil && (r != os.Stdin || !IsTTY()) {
		data, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read question: %w", err)
		}
		q = strings.TrimSpace(string(data))
	}
	if q == "" {
		return "", fmt.Errorf("no question given")
	}
	return q, nil
}

// renderAnswer renders Markdown for the terminal, falling back to the raw
// text.
func renderAnswer(answer string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(TerminalWidth()-4),
	)
	if err != nil {
		return answer
	}
	out, err := r.Render(answer)
	if err != nil {
		return answer
	}
	return strings.TrimRight(out, "\n")
}
