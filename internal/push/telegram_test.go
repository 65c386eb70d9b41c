package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arxivd/config"
)

func testTelegram(apiBase string) *TelegramChannel {
	ch := NewTelegramChannel(config.TelegramConfig{BotToken: "tok", ChatID: "42"}, testLogger())
	ch.apiBase = apiBase
	ch.backoff = time.Millisecond
	return ch
}

func TestTelegramSend(t *testing.T) {
	var payloads []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottok/sendMessage" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var p map[string]any
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		payloads = append(payloads, p)
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	ch := testTelegram(srv.URL)
	err := ch.Send(context.Background(), Digest{Markdown: "# digest", RunDate: "2026-09-01"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("got %d messages, want 1", len(payloads))
	}
	p := payloads[0]
	if p["chat_id"] != "42" || p["text"] != "# digest" || p["parse_mode"] != "Markdown" {
		t.Errorf("payload = %v", p)
	}
	if p["disable_web_page_preview"] != true {
		t.Errorf("web page preview not disabled: %v", p)
	}
}

func TestTelegramSplitsLongDigest(t *testing.T) {
	var texts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]any
		json.NewDecoder(r.Body).Decode(&p)
		texts = append(texts, p["text"].(string))
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	section := strings.Repeat("x", 3000)
	md := section + "\n---\n" + section

	ch := testTelegram(srv.URL)
	if err := ch.Send(context.Background(), Digest{Markdown: md}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(texts) != 2 {
		t.Fatalf("got %d messages, want 2", len(texts))
	}
	for i, text := range texts {
		if len(text) > telegramMaxMessage {
			t.Errorf("message %d length %d exceeds limit", i, len(text))
		}
	}
}

func TestTelegramRetriesTransientFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	ch := testTelegram(srv.URL)
	if err := ch.Send(context.Background(), Digest{Markdown: "digest"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestTelegramAPIErrorIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"description":"chat not found"}`)
	}))
	defer srv.Close()

	ch := testTelegram(srv.URL)
	err := ch.Send(context.Background(), Digest{Markdown: "digest"})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("err = %v, want chat not found", err)
	}
}

func TestSplitSectionsShortTextUnchanged(t *testing.T) {
	chunks := splitSections("short", 100)
	if len(chunks) != 1 || chunks[0] != "short" {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestSplitSectionsPacksSections(t *testing.T) {
	text := "aaa\n---\nbbb\n---\n" + strings.Repeat("c", 90)
	chunks := splitSections(text, 100)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2: %v", len(chunks), chunks)
	}
	if chunks[0] != "aaa\n---\nbbb" {
		t.Errorf("chunk 0 = %q", chunks[0])
	}
}
