package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"arxivd/config"
)

// Single-message safe limit for OneBot group messages.
const qqMaxMessage = 3000

// QQChannel sends the plain text digest to a QQ group over the
// OneBot v11 HTTP API. It first tries a combined forward message and
// falls back to individual messages when that is unsupported.
type QQChannel struct {
	cfg        config.QQConfig
	httpClient *http.Client
	logger     *log.Logger

	attempts  int
	backoff   time.Duration
	floodWait time.Duration
}

func NewQQChannel(cfg config.QQConfig, logger *log.Logger) *QQChannel {
	return &QQChannel{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
		attempts:   3,
		backoff:    2 * time.Second,
		floodWait:  time.Second,
	}
}

func (q *QQChannel) Name() string { return "qq" }

func (q *QQChannel) Send(ctx context.Context, d Digest) error {
	groupID, err := strconv.ParseInt(q.cfg.GroupID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid qq group id %q: %w", q.cfg.GroupID, err)
	}

	segments := splitQQDigest(d.Plaintext)
	q.logger.Printf("qq digest split into %d segments", len(segments))

	if len(segments) > 1 && q.sendForward(ctx, groupID, segments) {
		q.logger.Printf("qq forward message sent to group %d", groupID)
		return nil
	}

	for i, seg := range segments {
		if err := q.sendGroupMsg(ctx, groupID, seg); err != nil {
			return err
		}
		if i < len(segments)-1 {
			select {
			case <-time.After(q.floodWait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	q.logger.Printf("qq sent %d messages to group %d", len(segments), groupID)
	return nil
}

// sendForward attempts the combined forward message. A failure here is
// not fatal, the caller falls back to split sends.
func (q *QQChannel) sendForward(ctx context.Context, groupID int64, segments []string) bool {
	type node struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	nodes := make([]node, len(segments))
	for i, seg := range segments {
		nodes[i] = node{Type: "node", Data: map[string]any{
			"name":    q.cfg.BotName,
			"uin":     "0",
			"content": seg,
		}}
	}

	err := q.post(ctx, "/send_group_forward_msg", map[string]any{
		"group_id": groupID,
		"messages": nodes,
	})
	if err != nil {
		q.logger.Printf("qq forward message failed, falling back to split send: %v", err)
		return false
	}
	return true
}

func (q *QQChannel) sendGroupMsg(ctx context.Context, groupID int64, text string) error {
	var lastErr error
	for attempt := 0; attempt < q.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(q.backoff * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = q.post(ctx, "/send_group_msg", map[string]any{
			"group_id": groupID,
			"message":  text,
		}); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("qq send after %d attempts: %w", q.attempts, lastErr)
}

func (q *QQChannel) post(ctx context.Context, path string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	url := strings.TrimRight(q.cfg.APIURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+q.cfg.Token)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("onebot request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("onebot returned %s: %s", resp.Status, respBody)
	}

	var apiResp struct {
		Retcode int    `json:"retcode"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Retcode != 0 {
		return fmt.Errorf("onebot api error retcode=%d: %s", apiResp.Retcode, apiResp.Message)
	}
	return nil
}

// splitQQDigest chunks the plain text digest, starting a new chunk at
// each numbered paper line once the current chunk has some content.
func splitQQDigest(plaintext string) []string {
	var chunks []string
	var chunk strings.Builder

	flush := func() {
		if s := strings.TrimSpace(chunk.String()); s != "" {
			chunks = append(chunks, s)
		}
		chunk.Reset()
	}

	for _, line := range strings.Split(plaintext, "\n") {
		switch {
		case isPaperHeading(line) && chunk.Len() > 500:
			flush()
		case chunk.Len()+len(line)+1 > qqMaxMessage:
			flush()
		}
		chunk.WriteString(line)
		chunk.WriteString("\n")
	}
	flush()
	return chunks
}

func isPaperHeading(line string) bool {
	s := strings.TrimSpace(line)
	if s == "" || !unicode.IsDigit(rune(s[0])) {
		return false
	}
	return strings.Contains(s, ". ")
}
