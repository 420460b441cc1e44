package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zerochurn/success-sync/internal/model"
	"github.com/zerochurn/success-sync/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync trigger and status server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		srvr := server.New(cfg, e.store, e.syncer)

		sched, err := startScheduler(ctx, srvr)
		if err != nil {
			return err
		}
		if sched != nil {
			defer sched.Stop()
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: srvr.Router(),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutCtx); err != nil {
				zap.L().Error("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// startScheduler registers the configured cron schedules. Returns nil
// when no source has a schedule.
func startScheduler(ctx context.Context, srvr *server.Server) (*cron.Cron, error) {
	schedules := map[model.SyncSource]string{
		model.SourceCRM:      cfg.Scheduler.CRM,
		model.SourcePayments: cfg.Scheduler.Payments,
		model.SourceUsage:    cfg.Scheduler.Usage,
	}

	var c *cron.Cron
	for src, expr := range schedules {
		if expr == "" {
			continue
		}
		if c == nil {
			c = cron.New()
		}
		src := src
		_, err := c.AddFunc(expr, func() {
			if _, err := srvr.Trigger(ctx, src); err != nil {
				zap.L().Error("scheduled sync failed",
					zap.String("source", string(src)),
					zap.Error(err))
			}
		})
		if err != nil {
			return nil, eris.Wrapf(err, "schedule %s sync", src)
		}
		zap.L().Info("scheduled sync",
			zap.String("source", string(src)),
			zap.String("cron", expr))
	}
	if c != nil {
		c.Start()
	}
	return c, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
