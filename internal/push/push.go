// Package push delivers rendered digests over the configured channels.
package push

import (
	"context"
	"log"

	"arxivd/config"
)

// Digest is one rendered run ready for delivery.
type Digest struct {
	Markdown  string
	Plaintext string
	RunDate   string
}

// Channel is a single delivery target. Implementations report success
// or failure per digest; the dispatcher never lets one channel's
// failure stop the others.
type Channel interface {
	Name() string
	Send(ctx context.Context, d Digest) error
}

// Pusher fans a digest out to every configured channel.
type Pusher struct {
	cfg      config.PushConfig
	channels map[string]Channel
	logger   *log.Logger
}

// NewPusher builds the adapter set from configuration. Channels that
// are requested but missing credentials stay in the result map as
// failures rather than being dropped silently.
func NewPusher(cfg config.PushConfig, logger *log.Logger) *Pusher {
	if logger == nil {
		logger = log.New(log.Writer(), "[PUSH] ", log.LstdFlags)
	}
	p := &Pusher{cfg: cfg, channels: make(map[string]Channel), logger: logger}
	if cfg.Email.Configured() {
		p.channels["email"] = NewEmailChannel(cfg.Email, logger)
	}
	if cfg.Telegram.Configured() {
		p.channels["telegram"] = NewTelegramChannel(cfg.Telegram, logger)
	}
	if cfg.QQ.Configured() {
		p.channels["qq"] = NewQQChannel(cfg.QQ, logger)
	}
	return p
}

// Register replaces or adds a channel adapter. Used by tests and by
// callers that need a custom transport.
func (p *Pusher) Register(c Channel) {
	p.channels[c.Name()] = c
}

// Push sends the digest through every configured channel and returns
// a per-channel success map. It never returns an error: a failed
// channel is logged and recorded as false.
func (p *Pusher) Push(ctx context.Context, d Digest) map[string]bool {
	results := make(map[string]bool)
	if len(p.cfg.Channels) == 0 {
		p.logger.Printf("no push channels configured, skipping push")
		return results
	}

	for _, name := range p.cfg.Channels {
		ch, ok := p.channels[name]
		if !ok {
			p.logger.Printf("channel %q requested but not configured", name)
			results[name] = false
			continue
		}
		if err := ch.Send(ctx, d); err != nil {
			p.logger.Printf("push via %s failed: %v", name, err)
			results[name] = false
			continue
		}
		p.logger.Printf("push via %s succeeded", name)
		results[name] = true
	}
	return results
}
