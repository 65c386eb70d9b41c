package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"arxivd/config"
)

const telegramMaxMessage = 4096

// TelegramChannel sends the Markdown digest through the Bot API,
// splitting on paper boundaries when the message is too long.
type TelegramChannel struct {
	cfg        config.TelegramConfig
	apiBase    string
	httpClient *http.Client
	logger     *log.Logger

	attempts int
	backoff  time.Duration
}

func NewTelegramChannel(cfg config.TelegramConfig, logger *log.Logger) *TelegramChannel {
	return &TelegramChannel{
		cfg:        cfg,
		apiBase:    "https://api.telegram.org",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		attempts:   3,
		backoff:    2 * time.Second,
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Send(ctx context.Context, d Digest) error {
	for _, chunk := range splitSections(d.Markdown, telegramMaxMessage) {
		if err := t.sendMessage(ctx, chunk); err != nil {
			return err
		}
	}
	t.logger.Printf("telegram message(s) sent to chat %s", t.cfg.ChatID)
	return nil
}

func (t *TelegramChannel) sendMessage(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id":                  t.cfg.ChatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.cfg.BotToken)

	var lastErr error
	for attempt := 0; attempt < t.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(t.backoff * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = t.sendOnce(ctx, url, payload); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("telegram send after %d attempts: %w", t.attempts, lastErr)
}

func (t *TelegramChannel) sendOnce(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned %s: %s", resp.Status, body)
	}

	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram api error: %s", apiResp.Description)
	}
	return nil
}

// splitSections breaks the digest into chunks no longer than limit,
// preferring to cut at the "---" separators between papers.
func splitSections(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	sections := bytes.Split([]byte(text), []byte("\n---\n"))
	var chunks []string
	var chunk string
	for _, raw := range sections {
		section := string(raw)
		candidate := section
		if chunk != "" {
			candidate = chunk + "\n---\n" + section
		}
		if len(candidate) > limit {
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			chunk = section
		} else {
			chunk = candidate
		}
	}
	if chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}
