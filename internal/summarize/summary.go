package summarize

import (
	"encoding/json"
	"fmt"
	"strings"
)

const unknownField = "unknown"

// Links holds the canonical URLs for a paper.
type Links struct {
	Abs string `json:"abs"`
	PDF string `json:"pdf"`
}

// Summary is the fixed-shape structured record persisted per paper.
// After Validate every field is guaranteed non-empty, so renderers never
// branch on missing keys.
type Summary struct {
	TitleZH         string   `json:"title_zh"`
	TLDRZH          string   `json:"tldr_zh"`
	ContributionsZH []string `json:"contributions_zh"`
	MethodZH        string   `json:"method_zh"`
	ExperimentsZH   string   `json:"experiments_zh"`
	ResultsZH       string   `json:"results_zh"`
	LimitationsZH   string   `json:"limitations_zh"`
	WhoShouldReadZH string   `json:"who_should_read_zh"`
	Links           Links    `json:"links"`
}

// rawSummary tolerates the loose shapes models actually emit: scalar
// contributions, non-object links.
type rawSummary struct {
	TitleZH         string          `json:"title_zh"`
	TLDRZH          string          `json:"tldr_zh"`
	ContributionsZH json.RawMessage `json:"contributions_zh"`
	MethodZH        string          `json:"method_zh"`
	ExperimentsZH   string          `json:"experiments_zh"`
	ResultsZH       string          `json:"results_zh"`
	LimitationsZH   string          `json:"limitations_zh"`
	WhoShouldReadZH string          `json:"who_should_read_zh"`
	Links           json.RawMessage `json:"links"`
}

// Parse decodes a model-produced JSON object into a Summary, wrapping a
// scalar contributions value into a single-element list and replacing a
// non-object links value with the default pair. Defaults for absent
// fields are applied by Validate, not here.
func Parse(data []byte) (Summary, error) {
	var raw rawSummary
	if err := json.Unmarshal(data, &raw); err != nil {
		return Summary{}, fmt.Errorf("decode summary: %w", err)
	}

	s := Summary{
		TitleZH:         raw.TitleZH,
		TLDRZH:          raw.TLDRZH,
		MethodZH:        raw.MethodZH,
		ExperimentsZH:   raw.ExperimentsZH,
		ResultsZH:       raw.ResultsZH,
		LimitationsZH:   raw.LimitationsZH,
		WhoShouldReadZH: raw.WhoShouldReadZH,
		ContributionsZH: decodeContributions(raw.ContributionsZH),
	}
	if len(raw.Links) > 0 {
		// Untrusted; a non-mapping value falls back to the zero pair.
		_ = json.Unmarshal(raw.Links, &s.Links)
	}
	return s, nil
}

func decodeContributions(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, v := range list {
			out = append(out, fmt.Sprint(v))
		}
		return out
	}
	var single any
	if err := json.Unmarshal(raw, &single); err != nil || single == nil {
		return nil
	}
	return []string{fmt.Sprint(single)}
}

// Validate fills every absent or empty field with its defined default,
// guaranteeing a uniform shape is always persisted.
func Validate(s Summary) Summary {
	fields := []*string{
		&s.TitleZH, &s.TLDRZH, &s.MethodZH, &s.ExperimentsZH,
		&s.ResultsZH, &s.LimitationsZH, &s.WhoShouldReadZH,
	}
	for _, f := range fields {
		if strings.TrimSpace(*f) == "" {
			*f = unknownField
		}
	}
	if len(s.ContributionsZH) == 0 {
		s.ContributionsZH = []string{unknownField}
	}
	return s
}
