package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"account-rotator/core"
	"account-rotator/server"
)

const storeWatchDebounce = 200 * time.Millisecond

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr  string
		token string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local admin API",
		Long: `Starts an HTTP admin API over the account store.

Endpoints:
  GET    /health                                   Health check
  GET    /admin/accounts                           List accounts (keys masked)
  POST   /admin/accounts                           Add an account
  DELETE /admin/accounts/:index                    Remove an account
  POST   /admin/select                             Select the next account
  POST   /admin/accounts/:index/report/{success,rate-limited,failure,billing,http-failure}
  POST   /admin/accounts/:index/clear              Lift cooldowns
  PUT    /admin/settings                           Strategy, auto refresh, cooldown, active index
  POST   /admin/refresh                            Run passive health recovery
  GET    /admin/stats                              Pool statistics
  GET    /admin/history                            Outcome journal
  WS     /ws                                       Notices and store change events`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(true)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("token") {
				a.cfg.Server.AdminToken = token
			}
			if a.cfg.Server.AdminToken == "" {
				a.logger.Warn("Admin API has no token configured; anyone on this host can call it")
			}

			gin.SetMode(gin.ReleaseMode)
			srv := server.New(a.engine, a.logger, server.Options{
				Addr:       a.cfg.Server.Addr,
				AdminToken: a.cfg.Server.AdminToken,
				RateLimit:  a.cfg.Server.RateLimit,
				Burst:      a.cfg.Server.Burst,
				Journal:    a.journal,
				Hub:        a.hub,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.store.Initialize(ctx); err != nil {
				return err
			}

			// 其它进程 (CLI、其它服务) 的写入也推送给 websocket 客户端
			watcher := core.NewStoreWatcher(a.store.Path(), storeWatchDebounce, a.logger, a.hub.StateChanged)
			if err := watcher.Start(); err != nil {
				a.logger.WithError(err).Warn("store watcher disabled")
			} else {
				defer watcher.Close()
			}

			if minutes := a.cfg.Refresh.IntervalMinutes; minutes > 0 {
				go runRefreshLoop(ctx, a, time.Duration(minutes)*time.Minute)
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				a.logger.Info("Shutting down admin API...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.addr)")
	cmd.Flags().StringVar(&token, "token", "", "admin bearer token (default from server.admin_token)")
	return cmd
}

// runRefreshLoop 定时执行被动恢复，受 autoRefreshHealth 开关控制
func runRefreshLoop(ctx context.Context, a *app, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshOnce(ctx, a)
		}
	}
}

func refreshOnce(ctx context.Context, a *app) {
	if _, err := a.engine.RefreshHealthScores(ctx); err != nil {
		a.logger.WithError(err).Warn("periodic refresh failed")
	}
}
