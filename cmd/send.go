package main

import (
	"github.com/spf13/cobra"

	"arxivd/config"
	"arxivd/internal/pipeline"
	"arxivd/internal/push"
)

func sendCMD() *cobra.Command {
	var runDate string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Render and push the digest from stored summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			// Resend needs neither the fetcher nor the summarizer.
			pusher := push.NewPusher(cfg.Push, nil)
			ctrl := pipeline.NewController(cfg, st, nil, nil, pusher, nil)
			if runDate == "" {
				runDate = today()
			}
			return ctrl.Resend(cmd.Context(), runDate)
		},
	}
	cmd.Flags().StringVar(&runDate, "date", "", "run date (YYYY-MM-DD, default today)")
	return cmd
}
