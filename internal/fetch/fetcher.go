package fetch

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"arxivd/config"
	"arxivd/internal/store"
)

const (
	pageSize      = 100
	maxFetchLimit = 300
	userAgent     = "arxivd/0.1.0"
)

var (
	versionSuffix = regexp.MustCompile(`v\d+$`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// Fetcher pulls recent papers from the arXiv Atom API, applying the
// configured time-window and keyword filters before returning.
type Fetcher struct {
	cfg        config.ArxivConfig
	httpClient *http.Client
	logger     *log.Logger

	// Politeness delay between result pages; arXiv asks for >= 3s.
	pageDelay time.Duration
	attempts  int
	backoff   time.Duration
	now       func() time.Time
}

// NewFetcher creates a fetcher from configuration.
func NewFetcher(cfg config.ArxivConfig, logger *log.Logger) *Fetcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[FETCH] ", log.LstdFlags)
	}
	return &Fetcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		pageDelay:  4 * time.Second,
		attempts:   5,
		backoff:    10 * time.Second,
		now:        time.Now,
	}
}

// FetchPapers pages through the configured categories and returns
// filtered papers, newest submissions first.
func (f *Fetcher) FetchPapers(ctx context.Context) ([]store.Paper, error) {
	if len(f.cfg.Categories) == 0 {
		f.logger.Printf("no arXiv categories configured")
		return nil, nil
	}

	query := buildQuery(f.cfg.Categories)
	fetchLimit := f.cfg.MaxPapersPerDay * 3
	if fetchLimit > maxFetchLimit {
		fetchLimit = maxFetchLimit
	}

	var all []store.Paper
	seen := make(map[string]struct{})

	for start := 0; start < fetchLimit; start += pageSize {
		if start > 0 {
			select {
			case <-time.After(f.pageDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		batchSize := pageSize
		if remaining := fetchLimit - start; remaining < batchSize {
			batchSize = remaining
		}

		batch, err := f.fetchPage(ctx, query, start, batchSize)
		if err != nil {
			// A later page failing should not discard earlier results.
			f.logger.Printf("fetch page start=%d: %v", start, err)
			break
		}
		if len(batch) == 0 {
			break
		}

		for _, p := range batch {
			if _, ok := seen[p.ArxivID]; ok {
				continue
			}
			seen[p.ArxivID] = struct{}{}
			all = append(all, p)
		}

		if len(batch) < batchSize {
			break
		}
	}

	f.logger.Printf("fetched %d raw papers from arXiv", len(all))

	papers := f.filterByTime(all)
	f.logger.Printf("%d papers within time window (%dh)", len(papers), f.cfg.TimeWindowHours)

	papers = filterByKeywords(papers, f.cfg.IncludeKeywords, f.cfg.ExcludeKeywords)
	f.logger.Printf("%d papers after keyword filter", len(papers))

	if len(papers) > f.cfg.MaxPapersPerDay {
		papers = papers[:f.cfg.MaxPapersPerDay]
	}
	f.logger.Printf("returning %d papers (max %d)", len(papers), f.cfg.MaxPapersPerDay)

	return papers, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, query string, start, maxResults int) ([]store.Paper, error) {
	params := url.Values{}
	params.Set("search_query", query)
	params.Set("start", strconv.Itoa(start))
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")
	pageURL := f.cfg.APIURL + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt < f.attempts; attempt++ {
		if attempt > 0 {
			wait := f.backoff * time.Duration(1<<(attempt-1))
			if wait > 2*time.Minute {
				wait = 2 * time.Minute
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		papers, err := f.fetchPageOnce(ctx, pageURL)
		if err == nil {
			return papers, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch page after %d attempts: %w", f.attempts, lastErr)
}

func (f *Fetcher) fetchPageOnce(ctx context.Context, pageURL string) ([]store.Paper, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	papers := make([]store.Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		papers = append(papers, parseEntry(e))
	}
	return papers, nil
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID              string `xml:"id"`
	Title           string `xml:"title"`
	Summary         string `xml:"summary"`
	Published       string `xml:"published"`
	Updated         string `xml:"updated"`
	Authors         []atomAuthor `xml:"author"`
	PrimaryCategory atomCategory `xml:"primary_category"`
	Links           []atomLink   `xml:"link"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

func buildQuery(categories []string) string {
	parts := make([]string, len(categories))
	for i, cat := range categories {
		parts[i] = "cat:" + cat
	}
	return strings.Join(parts, " OR ")
}

func cleanWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func parseEntry(e atomEntry) store.Paper {
	id := e.ID
	if idx := strings.Index(id, "/abs/"); idx != -1 {
		id = id[idx+len("/abs/"):]
	}
	// Strip the version suffix so revisions dedup to one row.
	id = versionSuffix.ReplaceAllString(id, "")

	var authors []string
	for _, a := range e.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}

	var absURL, pdfURL string
	for _, l := range e.Links {
		switch {
		case l.Title == "pdf" || l.Type == "application/pdf":
			pdfURL = l.Href
		case l.Rel == "alternate":
			absURL = l.Href
		}
	}
	if absURL == "" {
		absURL = "https://arxiv.org/abs/" + id
	}
	if pdfURL == "" {
		pdfURL = "https://arxiv.org/pdf/" + id
	}

	return store.Paper{
		ArxivID:     id,
		Title:       cleanWhitespace(e.Title),
		Authors:     strings.Join(authors, ", "),
		Category:    e.PrimaryCategory.Term,
		PublishedAt: strings.TrimSpace(e.Published),
		UpdatedAt:   strings.TrimSpace(e.Updated),
		AbsURL:      absURL,
		PDFURL:      pdfURL,
		Abstract:    cleanWhitespace(e.Summary),
	}
}

// filterByTime keeps papers published within the configured window.
// Unparseable timestamps are kept rather than dropped.
func (f *Fetcher) filterByTime(papers []store.Paper) []store.Paper {
	cutoff := f.now().UTC().Add(-time.Duration(f.cfg.TimeWindowHours) * time.Hour)
	result := papers[:0]
	for _, p := range papers {
		published, err := time.Parse(time.RFC3339, p.PublishedAt)
		if err != nil || !published.Before(cutoff) {
			result = append(result, p)
		}
	}
	return result
}

func filterByKeywords(papers []store.Paper, include, exclude []string) []store.Paper {
	result := papers[:0]
	for _, p := range papers {
		text := strings.ToLower(p.Title + " " + p.Abstract)
		if matchesAny(text, exclude) {
			continue
		}
		if len(include) > 0 && !matchesAny(text, include) {
			continue
		}
		result = append(result, p)
	}
	return result
}

func matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
