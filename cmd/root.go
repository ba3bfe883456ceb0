package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"account-rotator/config"
)

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "account-rotator",
		Short: "Rotate API credentials across a pool of accounts",
		Long: `account-rotator keeps a pool of API keys in a locked JSON store and picks
the next key to use with round-robin, sticky or health-based rotation.
Callers report each outcome back so rate limits and billing limits are
respected across every process sharing the store.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", config.DefaultPath(), "config file (toml)")
	flags.StringVar(&opts.storePath, "store", "", "override store.path from the config file")
	flags.StringVar(&opts.logLevel, "log-level", "", "override log.level from the config file")

	root.AddCommand(
		newInitCmd(opts),
		newAddCmd(opts),
		newRemoveCmd(opts),
		newListCmd(opts),
		newUseCmd(opts),
		newStrategyCmd(opts),
		newAutoRefreshCmd(opts),
		newCooldownCmd(opts),
		newSelectCmd(opts),
		newReportCmd(opts),
		newClearCmd(opts),
		newRefreshCmd(opts),
		newStatsCmd(opts),
		newHistoryCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// parseIndexArg 解析命令行中的账号索引 (从 0 开始)
func parseIndexArg(raw string) (int, error) {
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		return 0, fmt.Errorf("invalid account index %q", raw)
	}
	return index, nil
}

// withApp 打开依赖、执行 fn 并确保关闭
func withApp(opts *rootOptions, fn func(a *app) error) error {
	a, err := opts.open(false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
