// Package digest renders summarized papers to Markdown and plain text.
package digest

import (
	"fmt"
	"strings"

	"arxivd/internal/store"
	"arxivd/internal/summarize"
)

const (
	markdownAbstractLimit  = 500
	plaintextAbstractLimit = 300
)

// RenderMarkdown renders the full Markdown digest for a run.
func RenderMarkdown(papers []store.PaperSummary, runDate string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# arXiv Daily Digest - %s\n\n", runDate)
	fmt.Fprintf(&b, "**%d papers**\n\n---\n\n", len(papers))

	for i, p := range papers {
		title := p.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, title)
		fmt.Fprintf(&b, "**arXiv:** [%s](%s) | [PDF](%s)\n", p.ArxivID, p.AbsURL, p.PDFURL)
		fmt.Fprintf(&b, "**Authors:** %s\n", p.Authors)
		fmt.Fprintf(&b, "**Category:** %s\n\n", p.Category)

		if s, ok := parseSummary(p.SummaryJSON); ok {
			writeSummaryMarkdown(&b, s)
		} else if p.Abstract != "" {
			fmt.Fprintf(&b, "**Abstract:** %s\n\n", excerpt(p.Abstract, markdownAbstractLimit))
		}

		b.WriteString("---\n\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// RenderPlaintext renders the compact plain text digest used as the
// email text part and for channels without Markdown support.
func RenderPlaintext(papers []store.PaperSummary, runDate string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "arXiv Daily Digest - %s\n", runDate)
	fmt.Fprintf(&b, "%d papers\n", len(papers))
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	for i, p := range papers {
		title := p.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, title)
		fmt.Fprintf(&b, "   arXiv: %s | %s\n", p.ArxivID, p.AbsURL)
		fmt.Fprintf(&b, "   Authors: %s\n", p.Authors)

		if s, ok := parseSummary(p.SummaryJSON); ok {
			if known(s.TLDRZH) {
				fmt.Fprintf(&b, "   TL;DR: %s\n", s.TLDRZH)
			}
		} else if p.Abstract != "" {
			fmt.Fprintf(&b, "   Abstract: %s\n", excerpt(p.Abstract, plaintextAbstractLimit))
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func writeSummaryMarkdown(b *strings.Builder, s summarize.Summary) {
	if known(s.TitleZH) {
		fmt.Fprintf(b, "**中文标题:** %s\n\n", s.TitleZH)
	}
	if known(s.TLDRZH) {
		fmt.Fprintf(b, "**TL;DR:** %s\n\n", s.TLDRZH)
	}
	if len(s.ContributionsZH) > 0 && !(len(s.ContributionsZH) == 1 && s.ContributionsZH[0] == "unknown") {
		b.WriteString("**主要贡献:**\n")
		for _, c := range s.ContributionsZH {
			fmt.Fprintf(b, "- %s\n", c)
		}
		b.WriteString("\n")
	}
	for _, field := range []struct {
		label string
		value string
	}{
		{"方法", s.MethodZH},
		{"实验", s.ExperimentsZH},
		{"结果", s.ResultsZH},
		{"局限性", s.LimitationsZH},
		{"推荐阅读", s.WhoShouldReadZH},
	} {
		if known(field.value) {
			fmt.Fprintf(b, "**%s:** %s\n\n", field.label, field.value)
		}
	}
}

func parseSummary(data []byte) (summarize.Summary, bool) {
	if len(data) == 0 {
		return summarize.Summary{}, false
	}
	s, err := summarize.Parse(data)
	if err != nil {
		return summarize.Summary{}, false
	}
	return s, true
}

func known(v string) bool {
	return v != "" && v != "unknown"
}

func excerpt(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
