package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arxivd/config"
)

func testConfig(url string) config.LLMConfig {
	return config.LLMConfig{
		BaseURL:            url,
		Model:              "test-model",
		MaxConcurrency:     4,
		RateLimitPerMinute: 600,
		MaxRetries:         3,
		Timeout:            5 * time.Second,
	}.Normalize()
}

func chatReply(content string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"content":%q}}]}`, content)
}

func TestChatReturnsReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		fmt.Fprint(w, chatReply("hello"))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.APIKey = "secret"
	c := NewClient(cfg, nil)

	reply, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0.3, 128)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "hello" {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestChatRetriesTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "upstream busy", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, chatReply("recovered"))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	c.retry.BaseBackoff = time.Millisecond

	reply, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0, 0)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "recovered" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestChatExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	c.retry.BaseBackoff = time.Millisecond

	if _, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0, 0); err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
}

func TestChatNoChoicesIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	if _, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0, 0); err == nil {
		t.Fatalf("expected error for empty choices")
	}
}

func TestChatConcurrencyGate(t *testing.T) {
	var inFlight, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		fmt.Fprint(w, chatReply("ok"))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxConcurrency = 2
	c := NewClient(cfg, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, 0, 0); err != nil {
				t.Errorf("Chat: %v", err)
			}
		}()
	}
	wg.Wait()

	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Fatalf("concurrency gate violated: %d requests in flight", p)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain object", in: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "fenced no lang", in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "prose wrapped", in: "Here you go:\n{\"a\": 1}\nHope that helps!", want: `{"a": 1}`},
		{name: "nested braces", in: `result: {"a":{"b":2}} done`, want: `{"a":{"b":2}}`},
		{name: "not json", in: "I cannot help with that.", wantErr: true},
		{name: "broken object", in: `{"a":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("got %q want %q", got, tt.want)
			}
		})
	}
}
