// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/parley/internal/config"
)

// secretKeys are printed redacted by "config get".
var secretKeys = map[string]bool{
	"completion.api_key": true,
	"remote.dsn":         true,
}

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
		Long: `Show or change settings in the config file.

Environment variables named PARLEY_<SECTION>_<KEY> override the file, e.g.
PARLEY_COMPLETION_API_KEY. "config show" includes them; "config set" only
edits the file.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration (secrets redacted)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), cfg.String())
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := opts.configPathOrDefault()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "keys",
			Short: "List every setting key",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				for _, k := range config.Keys() {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
			},
		},
		newConfigInitCmd(opts),
		newConfigGetCmd(opts),
		newConfigSetCmd(opts),
	)
	return cmd
}

func newConfigInitCmd(opts *globalOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := opts.configPathOrDefault()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := config.SaveTo(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Wrote "+path))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "get <key>",
		Short:   "Print one setting",
		Example: `  parley config get remote.backend`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			key := strings.TrimSpace(args[0])
			v, err := cfg.Get(key)
			if err != nil {
				return err
			}
			s := formatSetting(v)
			if secretKeys[key] && s != "" {
				s = "[REDACTED]"
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func newConfigSetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting in the config file",
		Example: `  parley config set remote.backend http
  parley config set reveal.interval 15ms
  parley config set voice.speak_command "espeak-ng -s 170"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := opts.configPathOrDefault()
			if err != nil {
				return err
			}
			// Edits start from the file alone so environment overrides are
			// never written back.
			cfg, err := config.LoadFile(path)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrConfig, err)
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%w: %v", ErrConfig, err)
			}
			if err := config.SaveTo(cfg, path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Set "+args[0]))
			return nil
		},
	}
}

func formatSetting(v any) string {
	switch v := v.(type) {
	case []string:
		return strings.Join(v, " ")
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
