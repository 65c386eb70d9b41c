package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"arxivd/config"
	"arxivd/internal/fetch"
	"arxivd/internal/llm"
	"arxivd/internal/pipeline"
	"arxivd/internal/push"
	"arxivd/internal/store"
	"arxivd/internal/summarize"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:   "arxivd",
		Short: "Daily arXiv paper digest with LLM summarization",
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file directory (default is .)")
	root.AddCommand(runCMD(), fetchCMD(), summarizeCMD(), sendCMD(), scheduleCMD(), doctorCMD())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func today() string {
	return time.Now().Format("2006-01-02")
}

func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.Storage.DBPath, err)
	}
	return st, nil
}

// newController wires the full pipeline. The LLM section is validated
// here rather than at load time so commands that never summarize can
// run without an LLM endpoint configured.
func newController(cfg *config.Config, st *store.Store) (*pipeline.Controller, error) {
	if err := cfg.LLM.Validate(); err != nil {
		return nil, fmt.Errorf("llm config: %w", err)
	}
	client := llm.NewClient(cfg.LLM, nil)
	engine := summarize.NewEngine(st, client, nil)
	fetcher := fetch.NewFetcher(cfg.Arxiv, nil)
	pusher := push.NewPusher(cfg.Push, nil)
	return pipeline.NewController(cfg, st, fetcher, engine, pusher, nil), nil
}

func newLogger(prefix string) *log.Logger {
	return log.New(log.Writer(), prefix, log.LstdFlags)
}
