// Package pipeline orchestrates the fetch, summarize, render and push
// stages of a digest run and records run state for idempotency.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"arxivd/config"
	"arxivd/internal/digest"
	"arxivd/internal/push"
	"arxivd/internal/store"
)

// Fetcher yields candidate papers for a run.
type Fetcher interface {
	FetchPapers(ctx context.Context) ([]store.Paper, error)
}

// Summarizer produces cached summaries for a batch of papers.
type Summarizer interface {
	SummarizePapers(ctx context.Context, papers []store.Paper) ([]store.PaperSummary, error)
}

// Pusher delivers a rendered digest and reports per-channel success.
type Pusher interface {
	Push(ctx context.Context, d push.Digest) map[string]bool
}

// Controller runs the digest pipeline end to end.
type Controller struct {
	cfg        *config.Config
	store      *store.Store
	fetcher    Fetcher
	summarizer Summarizer
	pusher     Pusher
	logger     *log.Logger
}

func NewController(cfg *config.Config, st *store.Store, fetcher Fetcher, summarizer Summarizer, pusher Pusher, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	return &Controller{
		cfg:        cfg,
		store:      st,
		fetcher:    fetcher,
		summarizer: summarizer,
		pusher:     pusher,
		logger:     logger,
	}
}

// Run executes the full pipeline for one run date. A run that already
// reached every configured channel is skipped entirely. Any stage
// failure marks the run failed and is returned to the caller.
func (c *Controller) Run(ctx context.Context, runDate string) error {
	run, found, err := c.store.GetRun(ctx, runDate)
	if err != nil {
		return c.fail(ctx, runDate, fmt.Errorf("load run state: %w", err))
	}
	if found && run.Status == store.RunStatusSent && c.allConfiguredSent(run) {
		c.logger.Printf("run %s already completed and sent, skipping", runDate)
		return nil
	}

	c.logger.Printf("fetching papers...")
	papers, err := c.fetcher.FetchPapers(ctx)
	if err != nil {
		return c.fail(ctx, runDate, fmt.Errorf("fetch papers: %w", err))
	}
	if len(papers) == 0 {
		c.logger.Printf("no papers fetched, nothing to do")
		if err := c.store.UpsertRun(ctx, runDate, store.RunStatusEmpty, ""); err != nil {
			return fmt.Errorf("record empty run: %w", err)
		}
		return nil
	}

	inserted, err := c.store.UpsertPapers(ctx, papers)
	if err != nil {
		return c.fail(ctx, runDate, fmt.Errorf("store papers: %w", err))
	}
	c.logger.Printf("stored %d new papers (%d total fetched)", inserted, len(papers))

	c.logger.Printf("summarizing papers...")
	summarized, err := c.summarizer.SummarizePapers(ctx, papers)
	if err != nil {
		return c.fail(ctx, runDate, fmt.Errorf("summarize papers: %w", err))
	}

	md := digest.RenderMarkdown(summarized, runDate)
	txt := digest.RenderPlaintext(summarized, runDate)
	if err := c.saveDigest(md, txt, runDate); err != nil {
		return c.fail(ctx, runDate, err)
	}
	c.logger.Printf("rendered digest: %d chars markdown", len(md))

	results := c.pusher.Push(ctx, push.Digest{Markdown: md, Plaintext: txt, RunDate: runDate})
	sent := succeededChannels(results)

	status := store.RunStatusRendered
	if len(sent) > 0 {
		status = store.RunStatusSent
	}
	if err := c.store.UpsertRun(ctx, runDate, status, strings.Join(sent, ",")); err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	switch {
	case len(sent) > 0:
		c.logger.Printf("digest pushed via: %s", strings.Join(sent, ", "))
	case len(c.cfg.Push.Channels) > 0:
		c.logger.Printf("no push channels succeeded")
	default:
		c.logger.Printf("no push channels configured, digest rendered only")
	}
	return nil
}

// Resend renders everything summarized so far and pushes it again,
// adding any newly succeeded channels to the run record.
func (c *Controller) Resend(ctx context.Context, runDate string) error {
	papers, err := c.store.AllPapersWithSummaries(ctx)
	if err != nil {
		return fmt.Errorf("load papers: %w", err)
	}
	if len(papers) == 0 {
		c.logger.Printf("no summarized papers found")
		return nil
	}

	md := digest.RenderMarkdown(papers, runDate)
	txt := digest.RenderPlaintext(papers, runDate)
	if err := c.saveDigest(md, txt, runDate); err != nil {
		return err
	}

	results := c.pusher.Push(ctx, push.Digest{Markdown: md, Plaintext: txt, RunDate: runDate})
	sent := succeededChannels(results)
	if len(sent) == 0 {
		c.logger.Printf("no push channels succeeded or configured")
		return nil
	}
	for _, ch := range sent {
		if err := c.store.MarkSent(ctx, runDate, ch); err != nil {
			return fmt.Errorf("mark %s sent: %w", ch, err)
		}
	}
	c.logger.Printf("sent via: %s", strings.Join(sent, ", "))
	return nil
}

// allConfiguredSent reports whether every configured channel already
// received this run. An empty channel list never satisfies the check,
// so runs stay repeatable until delivery is actually configured.
func (c *Controller) allConfiguredSent(run store.Run) bool {
	if len(c.cfg.Push.Channels) == 0 {
		return false
	}
	sent := run.SentSet()
	for _, ch := range c.cfg.Push.Channels {
		if _, ok := sent[ch]; !ok {
			return false
		}
	}
	return true
}

func (c *Controller) saveDigest(md, txt, runDate string) error {
	outDir := c.cfg.Storage.OutputDir
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	mdPath := filepath.Join(outDir, "digest-"+runDate+".md")
	txtPath := filepath.Join(outDir, "digest-"+runDate+".txt")
	if err := os.WriteFile(mdPath, []byte(md), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", mdPath, err)
	}
	if err := os.WriteFile(txtPath, []byte(txt), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", txtPath, err)
	}
	c.logger.Printf("digest saved: %s, %s", mdPath, txtPath)
	return nil
}

// fail records the failed status before propagating the stage error.
// The recording itself is best effort.
func (c *Controller) fail(ctx context.Context, runDate string, err error) error {
	if recErr := c.store.UpsertRun(ctx, runDate, store.RunStatusFailed, ""); recErr != nil {
		c.logger.Printf("record failed run %s: %v", runDate, recErr)
	}
	c.logger.Printf("pipeline failed for %s: %v", runDate, err)
	return err
}

func succeededChannels(results map[string]bool) []string {
	var sent []string
	for ch, ok := range results {
		if ok {
			sent = append(sent, ch)
		}
	}
	sort.Strings(sent)
	return sent
}
