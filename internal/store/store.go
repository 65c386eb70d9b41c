package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Run statuses persisted per run date.
const (
	RunStatusPending  = "pending"
	RunStatusEmpty    = "empty"
	RunStatusRendered = "rendered"
	RunStatusSent     = "sent"
	RunStatusFailed   = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS papers (
    arxiv_id     TEXT PRIMARY KEY,
    title        TEXT NOT NULL,
    authors      TEXT NOT NULL,
    category     TEXT NOT NULL,
    published_at TEXT NOT NULL,
    updated_at   TEXT NOT NULL,
    abs_url      TEXT NOT NULL,
    pdf_url      TEXT NOT NULL,
    abstract     TEXT NOT NULL,
    fetched_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS summaries (
    arxiv_id     TEXT PRIMARY KEY REFERENCES papers(arxiv_id),
    summary_json TEXT NOT NULL,
    created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
    run_date      TEXT PRIMARY KEY,
    status        TEXT NOT NULL DEFAULT 'pending',
    sent_channels TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL
);
`

// Paper is one catalog entry. Never updated after insertion.
type Paper struct {
	ArxivID     string
	Title       string
	Authors     string
	Category    string
	PublishedAt string
	UpdatedAt   string
	AbsURL      string
	PDFURL      string
	Abstract    string
	FetchedAt   string
}

// PaperSummary pairs a paper with its raw summary blob, if any.
type PaperSummary struct {
	Paper
	SummaryJSON []byte
}

// Run captures pipeline progress for one run date.
type Run struct {
	RunDate      string
	Status       string
	SentChannels string
	CreatedAt    string
}

// SentSet parses the comma-joined sent channel list.
func (r Run) SentSet() map[string]struct{} {
	set := make(map[string]struct{})
	for _, ch := range strings.Split(r.SentChannels, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			set[ch] = struct{}{}
		}
	}
	return set
}

type Store struct {
	DB *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and
// bootstraps the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.DB.Close()
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// UpsertPaper inserts a paper, ignoring duplicates. Returns true when a
// new row was created.
func (s *Store) UpsertPaper(ctx context.Context, p Paper) (bool, error) {
	fetched := p.FetchedAt
	if fetched == "" {
		fetched = nowISO()
	}
	res, err := s.DB.ExecContext(ctx, `
INSERT OR IGNORE INTO papers
  (arxiv_id, title, authors, category, published_at, updated_at, abs_url, pdf_url, abstract, fetched_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ArxivID, p.Title, p.Authors, p.Category, p.PublishedAt,
		p.UpdatedAt, p.AbsURL, p.PDFURL, p.Abstract, fetched)
	if err != nil {
		return false, fmt.Errorf("upsert paper %s: %w", p.ArxivID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// UpsertPapers applies UpsertPaper to each entry and returns the count
// of newly inserted rows. Each row is independent; a failure aborts the
// remainder.
func (s *Store) UpsertPapers(ctx context.Context, papers []Paper) (int, error) {
	inserted := 0
	for _, p := range papers {
		ok, err := s.UpsertPaper(ctx, p)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// PapersWithoutSummary returns papers lacking a summary row, newest first.
func (s *Store) PapersWithoutSummary(ctx context.Context) ([]Paper, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT p.arxiv_id, p.title, p.authors, p.category, p.published_at, p.updated_at,
       p.abs_url, p.pdf_url, p.abstract, p.fetched_at
FROM papers p
LEFT JOIN summaries s ON p.arxiv_id = s.arxiv_id
WHERE s.arxiv_id IS NULL
ORDER BY p.published_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query papers without summary: %w", err)
	}
	defer rows.Close()

	var papers []Paper
	for rows.Next() {
		var p Paper
		if err := scanPaper(rows, &p); err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

// PapersForRun returns papers fetched on the given calendar day along
// with their raw summaries, newest first.
func (s *Store) PapersForRun(ctx context.Context, runDate string) ([]PaperSummary, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT p.arxiv_id, p.title, p.authors, p.category, p.published_at, p.updated_at,
       p.abs_url, p.pdf_url, p.abstract, p.fetched_at, s.summary_json
FROM papers p
LEFT JOIN summaries s ON p.arxiv_id = s.arxiv_id
WHERE date(p.fetched_at) = ?
ORDER BY p.published_at DESC`, runDate)
	if err != nil {
		return nil, fmt.Errorf("query papers for run %s: %w", runDate, err)
	}
	defer rows.Close()
	return collectPaperSummaries(rows)
}

// AllPapersWithSummaries returns every paper that has a summary, newest first.
func (s *Store) AllPapersWithSummaries(ctx context.Context) ([]PaperSummary, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT p.arxiv_id, p.title, p.authors, p.category, p.published_at, p.updated_at,
       p.abs_url, p.pdf_url, p.abstract, p.fetched_at, s.summary_json
FROM papers p
INNER JOIN summaries s ON p.arxiv_id = s.arxiv_id
ORDER BY p.published_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query summarized papers: %w", err)
	}
	defer rows.Close()
	return collectPaperSummaries(rows)
}

// HasSummary reports whether a summary exists for the paper.
func (s *Store) HasSummary(ctx context.Context, arxivID string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx,
		`SELECT 1 FROM summaries WHERE arxiv_id = ?`, arxivID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check summary %s: %w", arxivID, err)
	}
	return true, nil
}

// SaveSummary inserts or replaces the summary blob for a paper.
func (s *Store) SaveSummary(ctx context.Context, arxivID string, summaryJSON []byte) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT OR REPLACE INTO summaries (arxiv_id, summary_json, created_at)
VALUES (?,?,?)`, arxivID, string(summaryJSON), nowISO())
	if err != nil {
		return fmt.Errorf("save summary %s: %w", arxivID, err)
	}
	return nil
}

// GetSummary returns the raw summary blob for a paper, if present.
func (s *Store) GetSummary(ctx context.Context, arxivID string) ([]byte, bool, error) {
	var raw string
	err := s.DB.QueryRowContext(ctx,
		`SELECT summary_json FROM summaries WHERE arxiv_id = ?`, arxivID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get summary %s: %w", arxivID, err)
	}
	return []byte(raw), true, nil
}

// GetRun returns the run record for a date, if present.
func (s *Store) GetRun(ctx context.Context, runDate string) (Run, bool, error) {
	var r Run
	err := s.DB.QueryRowContext(ctx, `
SELECT run_date, status, sent_channels, created_at
FROM runs WHERE run_date = ?`, runDate).
		Scan(&r.RunDate, &r.Status, &r.SentChannels, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("get run %s: %w", runDate, err)
	}
	return r, true, nil
}

// UpsertRun inserts or updates a run record. The update path replaces
// status and sent_channels unconditionally.
func (s *Store) UpsertRun(ctx context.Context, runDate, status, sentChannels string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO runs (run_date, status, sent_channels, created_at)
VALUES (?,?,?,?)
ON CONFLICT(run_date) DO UPDATE SET
  status = excluded.status,
  sent_channels = excluded.sent_channels`,
		runDate, status, sentChannels, nowISO())
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", runDate, err)
	}
	return nil
}

// WasSent reports whether the channel is in the run's recorded sent set.
func (s *Store) WasSent(ctx context.Context, runDate, channel string) (bool, error) {
	run, ok, err := s.GetRun(ctx, runDate)
	if err != nil || !ok {
		return false, err
	}
	_, sent := run.SentSet()[channel]
	return sent, nil
}

// MarkSent adds a channel to the run's sent set, forcing status to
// "sent". Read-modify-write: last writer wins, which is acceptable for
// the single sequential writer per run.
func (s *Store) MarkSent(ctx context.Context, runDate, channel string) error {
	run, ok, err := s.GetRun(ctx, runDate)
	if err != nil {
		return err
	}
	if !ok {
		return s.UpsertRun(ctx, runDate, RunStatusSent, channel)
	}
	set := run.SentSet()
	set[channel] = struct{}{}
	channels := make([]string, 0, len(set))
	for ch := range set {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return s.UpsertRun(ctx, runDate, RunStatusSent, strings.Join(channels, ","))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaper(row rowScanner, p *Paper) error {
	if err := row.Scan(&p.ArxivID, &p.Title, &p.Authors, &p.Category,
		&p.PublishedAt, &p.UpdatedAt, &p.AbsURL, &p.PDFURL,
		&p.Abstract, &p.FetchedAt); err != nil {
		return fmt.Errorf("scan paper: %w", err)
	}
	return nil
}

func collectPaperSummaries(rows *sql.Rows) ([]PaperSummary, error) {
	var result []PaperSummary
	for rows.Next() {
		var ps PaperSummary
		var raw sql.NullString
		if err := rows.Scan(&ps.ArxivID, &ps.Title, &ps.Authors, &ps.Category,
			&ps.PublishedAt, &ps.UpdatedAt, &ps.AbsURL, &ps.PDFURL,
			&ps.Abstract, &ps.FetchedAt, &raw); err != nil {
			return nil, fmt.Errorf("scan paper summary: %w", err)
		}
		if raw.Valid {
			ps.SummaryJSON = []byte(raw.String)
		}
		result = append(result, ps)
	}
	return result, rows.Err()
}
