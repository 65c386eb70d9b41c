package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"arxivd/config"
	"arxivd/internal/scheduler"
)

func scheduleCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the daily digest on the configured cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ctrl, err := newController(cfg, st)
			if err != nil {
				return err
			}
			sched, err := scheduler.New(cfg.Schedule, ctrl, newLogger("[SCHED] "))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := sched.Start(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}
