package summarize

import (
	"reflect"
	"testing"
)

func TestValidateFillsDefaults(t *testing.T) {
	got := Validate(Summary{})

	want := Summary{
		TitleZH:         "unknown",
		TLDRZH:          "unknown",
		ContributionsZH: []string{"unknown"},
		MethodZH:        "unknown",
		ExperimentsZH:   "unknown",
		ResultsZH:       "unknown",
		LimitationsZH:   "unknown",
		WhoShouldReadZH: "unknown",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestValidateKeepsPresentFields(t *testing.T) {
	in := Summary{
		TitleZH:         "标题",
		TLDRZH:          "一句话",
		ContributionsZH: []string{"贡献一", "贡献二"},
		Links:           Links{Abs: "https://arxiv.org/abs/1", PDF: "https://arxiv.org/pdf/1"},
	}
	got := Validate(in)

	if got.TitleZH != "标题" || got.TLDRZH != "一句话" {
		t.Fatalf("present fields were overwritten: %+v", got)
	}
	if len(got.ContributionsZH) != 2 {
		t.Fatalf("contributions changed: %+v", got.ContributionsZH)
	}
	if got.MethodZH != "unknown" {
		t.Fatalf("absent field not defaulted: %+v", got)
	}
	if got.Links != in.Links {
		t.Fatalf("links changed: %+v", got.Links)
	}
}

func TestParseScalarContributionsWrapped(t *testing.T) {
	s, err := Parse([]byte(`{"title_zh":"标题","contributions_zh":"单个贡献"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(s.ContributionsZH, []string{"单个贡献"}) {
		t.Fatalf("scalar not wrapped: %+v", s.ContributionsZH)
	}
}

func TestParseMixedContributionsList(t *testing.T) {
	s, err := Parse([]byte(`{"contributions_zh":["a", 2]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(s.ContributionsZH, []string{"a", "2"}) {
		t.Fatalf("unexpected contributions: %+v", s.ContributionsZH)
	}
}

func TestParseNonObjectLinksReplaced(t *testing.T) {
	s, err := Parse([]byte(`{"links":"https://arxiv.org/abs/1"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Links != (Links{}) {
		t.Fatalf("expected default links, got %+v", s.Links)
	}
}

func TestParseRejectsNonObject(t *testing.T) {
	if _, err := Parse([]byte(`[1,2,3]`)); err == nil {
		t.Fatalf("expected error for non-object input")
	}
}
