package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"arxivd/internal/llm"
	"arxivd/internal/store"
)

const summarySchema = `{
  "title_zh": "Chinese translation of the paper title",
  "tldr_zh": "One-sentence TL;DR in Chinese",
  "contributions_zh": ["List of key contributions in Chinese"],
  "method_zh": "Methodology description in Chinese",
  "experiments_zh": "Experiments description in Chinese",
  "results_zh": "Key results in Chinese",
  "limitations_zh": "Limitations in Chinese",
  "who_should_read_zh": "Who should read this paper, in Chinese",
  "links": {"abs": "arXiv abstract URL", "pdf": "arXiv PDF URL"}
}`

const summarizePrompt = `You are an expert AI research assistant. Given the following arXiv paper metadata, produce a structured summary in Chinese (Simplified).

**Paper:**
- Title: %s
- Authors: %s
- Category: %s
- Abstract: %s
- arXiv URL: %s
- PDF URL: %s

**Instructions:**
1. Output ONLY valid JSON matching this exact schema (no extra text before/after):
%s

2. All text fields must be in Simplified Chinese.
3. If any information is not available from the abstract, use "unknown" for that field.
4. The "contributions_zh" field must be a JSON array of strings.
5. The "links" field must contain "abs" and "pdf" keys with the URLs provided above.
6. Do NOT hallucinate any details not present in the abstract.
7. Be concise but informative.

Output the JSON now:`

const repairPrompt = `The following text was supposed to be valid JSON matching this schema:
%s

But it failed to parse. Please fix it and return ONLY valid JSON.
Do not add any explanation, just output the corrected JSON.

Broken text:
%s`

const (
	summarizeTemperature = 0.1
	summarizeMaxTokens   = 4096
	repairInputLimit     = 3000
)

// ChatClient is the slice of the LLM client the engine needs.
type ChatClient interface {
	Chat(ctx context.Context, messages []llm.Message, temperature float64, maxTokens int) (string, error)
}

// Engine produces a validated summary for each paper needing one. The
// shared concurrency and rate gates live in the LLM client, so the
// engine can fan out one goroutine per paper.
type Engine struct {
	store  *store.Store
	client ChatClient
	logger *log.Logger
}

// NewEngine wires the engine to its store and chat client.
func NewEngine(st *store.Store, client ChatClient, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[SUMMARIZE] ", log.LstdFlags)
	}
	return &Engine{store: st, client: client, logger: logger}
}

// SummarizePapers summarizes every paper lacking a cached summary and
// returns all input papers paired with their summaries in input order.
// A single paper's failure is never fatal: it gets a minimal fallback
// summary instead.
func (e *Engine) SummarizePapers(ctx context.Context, papers []store.Paper) ([]store.PaperSummary, error) {
	var pending []store.Paper
	for _, p := range papers {
		has, err := e.store.HasSummary(ctx, p.ArxivID)
		if err != nil {
			return nil, err
		}
		if !has {
			pending = append(pending, p)
		}
	}
	e.logger.Printf("%d papers to summarize (%d already cached)", len(pending), len(papers)-len(pending))

	type taskResult struct {
		arxivID string
		err     error
	}

	results := make(chan taskResult, len(pending))
	var wg sync.WaitGroup
	for _, p := range pending {
		wg.Add(1)
		go func(p store.Paper) {
			defer wg.Done()
			summary := e.summarizeOne(ctx, p)
			// The model's echoed links are untrusted.
			summary.Links = Links{Abs: p.AbsURL, PDF: p.PDFURL}

			data, err := json.Marshal(summary)
			if err == nil {
				err = e.store.SaveSummary(ctx, p.ArxivID, data)
			}
			results <- taskResult{arxivID: p.ArxivID, err: err}
		}(p)
	}
	wg.Wait()
	close(results)

	for r := range results {
		if r.err != nil {
			e.logger.Printf("persist summary %s: %v", r.arxivID, r.err)
		} else {
			e.logger.Printf("summarized: %s", r.arxivID)
		}
	}

	// Reassemble in input order from the store, covering both newly
	// summarized and previously cached papers.
	out := make([]store.PaperSummary, 0, len(papers))
	for _, p := range papers {
		raw, ok, err := e.store.GetSummary(ctx, p.ArxivID)
		if err != nil {
			return nil, err
		}
		ps := store.PaperSummary{Paper: p}
		if ok {
			ps.SummaryJSON = raw
		}
		out = append(out, ps)
	}
	return out, nil
}

// summarizeOne always produces a validated summary: parsed model output,
// a repaired reply, or the minimal fallback.
func (e *Engine) summarizeOne(ctx context.Context, p store.Paper) Summary {
	raw, err := e.client.Chat(ctx, buildMessages(p), summarizeTemperature, summarizeMaxTokens)
	if err != nil {
		e.logger.Printf("summarize %s: %v, using fallback", p.ArxivID, err)
		return minimalSummary(p)
	}

	if s, ok := parseReply(raw); ok {
		return Validate(s)
	}

	e.logger.Printf("JSON parse failed for %s, attempting repair", p.ArxivID)
	repaired, err := e.client.Chat(ctx, buildRepairMessages(raw), summarizeTemperature, summarizeMaxTokens)
	if err != nil {
		e.logger.Printf("repair %s: %v, using fallback", p.ArxivID, err)
		return minimalSummary(p)
	}
	if s, ok := parseReply(repaired); ok {
		return Validate(s)
	}

	e.logger.Printf("repair also failed for %s, using fallback", p.ArxivID)
	return minimalSummary(p)
}

func parseReply(reply string) (Summary, bool) {
	data, err := llm.ExtractJSON(reply)
	if err != nil {
		return Summary{}, false
	}
	s, err := Parse(data)
	if err != nil {
		return Summary{}, false
	}
	return s, true
}

func buildMessages(p store.Paper) []llm.Message {
	prompt := fmt.Sprintf(summarizePrompt,
		p.Title, p.Authors, p.Category, p.Abstract, p.AbsURL, p.PDFURL, summarySchema)
	return []llm.Message{{Role: "user", Content: prompt}}
}

func buildRepairMessages(broken string) []llm.Message {
	if len(broken) > repairInputLimit {
		broken = broken[:repairInputLimit]
	}
	return []llm.Message{{Role: "user", Content: fmt.Sprintf(repairPrompt, summarySchema, broken)}}
}

func minimalSummary(p store.Paper) Summary {
	return Validate(Summary{
		TitleZH: p.Title,
		Links:   Links{Abs: p.AbsURL, PDF: p.PDFURL},
	})
}
