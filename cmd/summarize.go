package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"arxivd/config"
	"arxivd/internal/llm"
	"arxivd/internal/summarize"
)

func summarizeCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize",
		Short: "Summarize papers without a cached summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if err := cfg.LLM.Validate(); err != nil {
				return fmt.Errorf("llm config: %w", err)
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			logger := newLogger("[SUMMARIZE] ")
			papers, err := st.PapersWithoutSummary(cmd.Context())
			if err != nil {
				return err
			}
			if len(papers) == 0 {
				logger.Printf("all papers already summarized")
				return nil
			}
			logger.Printf("summarizing %d papers...", len(papers))

			client := llm.NewClient(cfg.LLM, nil)
			engine := summarize.NewEngine(st, client, logger)
			if _, err := engine.SummarizePapers(cmd.Context(), papers); err != nil {
				return err
			}
			logger.Printf("done")
			return nil
		},
	}
}
