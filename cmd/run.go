package main

import (
	"github.com/spf13/cobra"

	"arxivd/config"
)

func runCMD() *cobra.Command {
	var runDate string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Full pipeline: fetch, summarize, render, push",
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
			if runDate == "" {
				runDate = today()
			}
			return ctrl.Run(cmd.Context(), runDate)
		},
	}
	cmd.Flags().StringVar(&runDate, "date", "", "run date (YYYY-MM-DD, default today)")
	return cmd
}
