package push

import (
	"context"
	"errors"
	"log"
	"strings"
	"testing"

	"arxivd/config"
)

type fakeChannel struct {
	name string
	err  error
	sent []Digest
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, d Digest) error {
	f.sent = append(f.sent, d)
	return f.err
}

func testLogger() *log.Logger {
	return log.New(log.Writer(), "[PUSH] ", log.LstdFlags)
}

func TestPushMixedResults(t *testing.T) {
	cfg := config.PushConfig{Channels: []string{"email", "qq"}}
	p := NewPusher(cfg, testLogger())
	good := &fakeChannel{name: "email"}
	bad := &fakeChannel{name: "qq", err: errors.New("boom")}
	p.Register(good)
	p.Register(bad)

	results := p.Push(context.Background(), Digest{Markdown: "# d", Plaintext: "d", RunDate: "2026-09-01"})

	if !results["email"] || results["qq"] {
		t.Fatalf("results = %v, want email ok and qq failed", results)
	}
	if len(good.sent) != 1 || len(bad.sent) != 1 {
		t.Fatalf("sent counts = %d/%d, want both attempted", len(good.sent), len(bad.sent))
	}
}

func TestPushUnconfiguredChannelFails(t *testing.T) {
	cfg := config.PushConfig{Channels: []string{"email"}}
	p := NewPusher(cfg, testLogger())

	results := p.Push(context.Background(), Digest{RunDate: "2026-09-01"})
	if ok, present := results["email"]; !present || ok {
		t.Fatalf("results = %v, want email recorded as failure", results)
	}
}

func TestPushUnknownChannelFails(t *testing.T) {
	cfg := config.PushConfig{Channels: []string{"pager"}}
	p := NewPusher(cfg, testLogger())

	results := p.Push(context.Background(), Digest{RunDate: "2026-09-01"})
	if ok, present := results["pager"]; !present || ok {
		t.Fatalf("results = %v, want pager recorded as failure", results)
	}
}

func TestPushNoChannels(t *testing.T) {
	p := NewPusher(config.PushConfig{}, testLogger())
	results := p.Push(context.Background(), Digest{RunDate: "2026-09-01"})
	if len(results) != 0 {
		t.Fatalf("results = %v, want empty", results)
	}
}

func TestMarkdownToHTML(t *testing.T) {
	md := "# Title\n\n**Bold:** text\n- item one\n[link](https://example.com)\n---"
	html := markdownToHTML(md)

	for _, want := range []string{
		"<h1>Title</h1>",
		"<b>Bold:</b>",
		"<li>item one</li>",
		`<a href="https://example.com">link</a>`,
		"<hr>",
		"<html><body>",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("html missing %q:\n%s", want, html)
		}
	}
}

func TestBuildMIMEMessage(t *testing.T) {
	msg := string(buildMIMEMessage("a@example.com", "b@example.com, c@example.com",
		"arXiv Digest 2026-09-01", "plain body", "<html><body>html body</body></html>"))

	for _, want := range []string{
		"From: a@example.com\r\n",
		"Subject: arXiv Digest 2026-09-01\r\n",
		"Content-Type: multipart/alternative",
		"Content-Type: text/plain; charset=utf-8",
		"plain body",
		"Content-Type: text/html; charset=utf-8",
		"html body",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSplitRecipients(t *testing.T) {
	got := splitRecipients("a@example.com, b@example.com ,,c@example.com")
	want := []string{"a@example.com", "b@example.com", "c@example.com"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("recipient %d = %q, want %q", i, got[i], want[i])
		}
	}
}
