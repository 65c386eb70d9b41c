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

func testQQ(apiURL string) *QQChannel {
	ch := NewQQChannel(config.QQConfig{
		APIURL:  apiURL,
		GroupID: "12345",
		Token:   "secret",
		BotName: "arXiv Daily",
	}, testLogger())
	ch.backoff = time.Millisecond
	ch.floodWait = 0
	return ch
}

func TestQQShortDigestSingleMessage(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var p map[string]any
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if p["group_id"] != float64(12345) {
			t.Errorf("group_id = %v", p["group_id"])
		}
		fmt.Fprint(w, `{"retcode":0}`)
	}))
	defer srv.Close()

	ch := testQQ(srv.URL)
	if err := ch.Send(context.Background(), Digest{Plaintext: "1. Paper\n   TL;DR: x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(paths) != 1 || paths[0] != "/send_group_msg" {
		t.Fatalf("paths = %v, want one send_group_msg", paths)
	}
}

func TestQQLongDigestUsesForward(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/send_group_forward_msg" {
			var p struct {
				Messages []struct {
					Type string `json:"type"`
					Data struct {
						Name string `json:"name"`
					} `json:"data"`
				} `json:"messages"`
			}
			if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			if len(p.Messages) < 2 {
				t.Errorf("forward nodes = %d, want >= 2", len(p.Messages))
			}
			if p.Messages[0].Type != "node" || p.Messages[0].Data.Name != "arXiv Daily" {
				t.Errorf("node = %+v", p.Messages[0])
			}
		}
		fmt.Fprint(w, `{"retcode":0}`)
	}))
	defer srv.Close()

	ch := testQQ(srv.URL)
	long := "1. First\n" + strings.Repeat("a", 2900) + "\n2. Second\n" + strings.Repeat("b", 1000)
	if err := ch.Send(context.Background(), Digest{Plaintext: long}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(paths) != 1 || paths[0] != "/send_group_forward_msg" {
		t.Fatalf("paths = %v, want only the forward call", paths)
	}
}

func TestQQForwardUnsupportedFallsBackToSplit(t *testing.T) {
	var groupMsgs int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/send_group_forward_msg" {
			fmt.Fprint(w, `{"retcode":1404,"message":"unsupported"}`)
			return
		}
		groupMsgs++
		fmt.Fprint(w, `{"retcode":0}`)
	}))
	defer srv.Close()

	ch := testQQ(srv.URL)
	long := "1. First\n" + strings.Repeat("a", 2900) + "\n2. Second\n" + strings.Repeat("b", 1000)
	if err := ch.Send(context.Background(), Digest{Plaintext: long}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if groupMsgs != 2 {
		t.Fatalf("groupMsgs = %d, want 2 split messages", groupMsgs)
	}
}

func TestQQRetcodeErrorRetriesThenFails(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"retcode":100,"message":"no permission"}`)
	}))
	defer srv.Close()

	ch := testQQ(srv.URL)
	err := ch.Send(context.Background(), Digest{Plaintext: "1. Paper"})
	if err == nil || !strings.Contains(err.Error(), "retcode=100") {
		t.Fatalf("err = %v, want retcode error", err)
	}
	if calls != ch.attempts {
		t.Fatalf("calls = %d, want %d attempts", calls, ch.attempts)
	}
}

func TestQQInvalidGroupID(t *testing.T) {
	ch := NewQQChannel(config.QQConfig{APIURL: "http://x", GroupID: "not-a-number"}, testLogger())
	if err := ch.Send(context.Background(), Digest{Plaintext: "1. Paper"}); err == nil {
		t.Fatal("expected error for non-numeric group id")
	}
}

func TestSplitQQDigestPaperBoundaries(t *testing.T) {
	text := "header\n" + strings.Repeat("a", 600) + "\n2. Second Paper\nbody"
	chunks := splitQQDigest(text)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want split at paper heading: %v", len(chunks), chunks)
	}
	if !strings.HasPrefix(chunks[1], "2. Second Paper") {
		t.Errorf("chunk 1 = %q", chunks[1])
	}
}

func TestSplitQQDigestRespectsLengthLimit(t *testing.T) {
	text := strings.Repeat(strings.Repeat("x", 100)+"\n", 100)
	for i, chunk := range splitQQDigest(text) {
		if len(chunk) > qqMaxMessage {
			t.Errorf("chunk %d length %d exceeds limit", i, len(chunk))
		}
	}
}
