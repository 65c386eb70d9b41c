package main

import (
	"github.com/spf13/cobra"

	"arxivd/config"
	"arxivd/internal/fetch"
)

func fetchCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch papers from arXiv",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			logger := newLogger("[FETCH] ")
			fetcher := fetch.NewFetcher(cfg.Arxiv, logger)
			papers, err := fetcher.FetchPapers(cmd.Context())
			if err != nil {
				return err
			}
			inserted, err := st.UpsertPapers(cmd.Context(), papers)
			if err != nil {
				return err
			}
			logger.Printf("fetched %d papers, %d new", len(papers), inserted)
			return nil
		},
	}
}
