// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/parley/internal/identity"
)

// Sign-in is a file: login writes it, logout removes it, and every running
// session watching it switches identity when it changes.

func newLoginCmd(opts *globalOptions) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login <user-id>",
		Short: "Sign in so conversations are kept in the remote store",
		Long: `Sign in as user-id.

Conversations made as a guest on this machine are discarded when you sign
in. Open chat sessions switch to the user immediately.`,
		Example: `  parley login alice
  parley login alice --token "$PARLEY_TOKEN"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			uid := strings.TrimSpace(args[0])
			if err := identity.WriteFile(cfg.Identity.File, identity.Credentials{UserID: uid, Token: token}); err != nil {
				return fmt.Errorf("sign in: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Signed in as "+uid))
			if cfg.Remote.Backend == "none" {
				fmt.Fprintln(cmd.OutOrStdout(), WarningStyle.Render("No remote store is configured; conversations will not be saved while signed in."))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer token for the remote document store")
	return cmd
}

func newLogoutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and continue as a guest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			creds, err := identity.ReadFile(cfg.Identity.File)
			if err == nil && creds.UserID == "" {
				fmt.Fprintln(cmd.OutOrStdout(), DimStyle.Render("Not signed in."))
				return nil
			}
			if err := identity.RemoveFile(cfg.Identity.File); err != nil {
				return fmt.Errorf("sign out: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Signed out."))
			return nil
		},
	}
}

func newWhoamiCmd(opts *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show who is signed in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			creds, err := identity.ReadFile(cfg.Identity.File)
			if err != nil {
				return err
			}
			data := WhoamiData{
				SignedIn: creds.UserID != "",
				UserID:   creds.UserID,
				Remote:   cfg.Remote.Backend,
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return outputJSON(out, "whoami", data)
			}
			if !data.SignedIn {
				fmt.Fprintln(out, RenderLabel("User", "guest"))
			} else {
				fmt.Fprintln(out, RenderLabel("User", data.UserID))
			}
			fmt.Fprintln(out, RenderLabel("Remote", data.Remote))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}
