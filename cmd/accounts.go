package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"account-rotator/config"
	"account-rotator/core"
	"account-rotator/models"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the config file and an empty account store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.configPath); errors.Is(err, os.ErrNotExist) {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				if err := config.Save(cfg, opts.configPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote config %s\n", opts.configPath)
			}
			return withApp(opts, func(a *app) error {
				if err := a.store.Initialize(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Store ready at %s\n", a.store.Path())
				return nil
			})
		},
	}
}

func newAddCmd(opts *rootOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add <key>",
		Short: "Add an account to the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				account, err := a.engine.AddAccount(cmd.Context(), args[0], name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", account.Name, core.MaskKey(account.Key))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (default \"Account N\")")
	return cmd
}

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <index>",
		Aliases: []string{"rm"},
		Short:   "Remove an account by index",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndexArg(args[0])
			if err != nil {
				return err
			}
			return withApp(opts, func(a *app) error {
				removed, err := a.engine.RemoveAccount(cmd.Context(), index)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", removed.Name)
				return nil
			})
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show every account with its health and limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				stats, err := a.engine.Stats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderAccounts(stats))
				return nil
			})
		},
	}
}

func newUseCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "use <index>",
		Short: "Make an account the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndexArg(args[0])
			if err != nil {
				return err
			}
			return withApp(opts, func(a *app) error {
				if err := updateSettings(cmd, a, core.SettingsPatch{ActiveIndex: &index}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Active account is now #%d\n", index)
				return nil
			})
		},
	}
}

func newStrategyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "strategy [round-robin|sticky|health-based]",
		Short:     "Show or set the rotation strategy",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(models.StrategyRoundRobin), string(models.StrategySticky), string(models.StrategyHealthBased)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				if len(args) == 0 {
					cfg, err := a.engine.ListAccounts(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), cfg.RotationStrategy)
					return nil
				}
				strategy, err := models.ParseStrategy(args[0])
				if err != nil {
					return err
				}
				if err := updateSettings(cmd, a, core.SettingsPatch{RotationStrategy: &strategy}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rotation strategy set to %s\n", strategy)
				return nil
			})
		},
	}
}

func newAutoRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "auto-refresh [on|off]",
		Short: "Show or toggle passive health recovery",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				if len(args) == 0 {
					cfg, err := a.engine.ListAccounts(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), onOff(cfg.AutoRefreshHealth))
					return nil
				}
				var enabled bool
				switch args[0] {
				case "on", "true":
					enabled = true
				case "off", "false":
				default:
					return fmt.Errorf("expected on or off, got %q", args[0])
				}
				if err := updateSettings(cmd, a, core.SettingsPatch{AutoRefreshHealth: &enabled}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Auto refresh %s\n", onOff(enabled))
				return nil
			})
		},
	}
}

func newCooldownCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cooldown [minutes]",
		Short: "Show or set the health refresh cooldown",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				if len(args) == 0 {
					cfg, err := a.engine.ListAccounts(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d\n", cfg.HealthRefreshCooldownMinutes)
					return nil
				}
				minutes, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid minutes %q", args[0])
				}
				if err := updateSettings(cmd, a, core.SettingsPatch{HealthRefreshCooldownMinutes: &minutes}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Health refresh cooldown set to %d minutes\n", minutes)
				return nil
			})
		},
	}
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <index>",
		Short: "Lift rate-limit and billing cooldowns on an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndexArg(args[0])
			if err != nil {
				return err
			}
			return withApp(opts, func(a *app) error {
				account, err := a.engine.ClearLimits(cmd.Context(), index)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared limits on %s\n", account.Name)
				return nil
			})
		},
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func updateSettings(cmd *cobra.Command, a *app, patch core.SettingsPatch) error {
	_, err := a.engine.UpdateSettings(cmd.Context(), patch)
	return err
}
