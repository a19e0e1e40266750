// Package delivery implements the placeholder → status → final-answer
// message protocol: one immediately posted placeholder gives the user
// feedback and a stable edit target, and the final answer is split into
// platform-safe chunks that overwrite it and follow it in order.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
	"relaybot/internal/splitter"
)

const (
	genericErrorReply = "Sorry, something went wrong while answering. Please try again."
	emptyAnswerReply  = "Sorry, I didn't get an answer back. Please try again."
)

// Handle identifies the placeholder message for one conversation turn.
type Handle struct {
	ChannelID string
	ThreadTS  string
	MessageTS string
}

// Pipeline posts and edits messages for one turn. Chunks are always posted
// sequentially in split order; no concurrency, precisely to preserve order.
type Pipeline struct {
	client  domain.Messenger
	maxLen  int
	delay   time.Duration
	cursor  string
	logger  *slog.Logger
	metrics *metrics.Collector
}

// Config configures the pipeline.
type Config struct {
	Client domain.Messenger
	// MaxMessageLen is the platform's maximum message length.
	MaxMessageLen int
	// ChunkDelay is an optional pause between follow-up posts to respect
	// platform rate limits.
	ChunkDelay time.Duration
	// Cursor is the placeholder glyph, e.g. ":robot_face:".
	Cursor  string
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

func New(cfg Config) *Pipeline {
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = 3000
	}
	if cfg.Cursor == "" {
		cfg.Cursor = ":robot_face:"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default
	}
	return &Pipeline{
		client:  cfg.Client,
		maxLen:  cfg.MaxMessageLen,
		delay:   cfg.ChunkDelay,
		cursor:  cfg.Cursor,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// StartTurn posts the placeholder and returns its handle.
func (p *Pipeline) StartTurn(ctx context.Context, channelID, threadTS string) (*Handle, error) {
	ts, err := p.client.PostMessage(ctx, channelID, threadTS, p.cursor)
	if err != nil {
		return nil, fmt.Errorf("post placeholder: %w", err)
	}
	return &Handle{ChannelID: channelID, ThreadTS: threadTS, MessageTS: ts}, nil
}

// UpdateStatus edits the placeholder with an intermediate progress marker.
// Purely cosmetic; failures are logged and ignored.
func (p *Pipeline) UpdateStatus(ctx context.Context, h *Handle, status string) {
	if err := p.client.UpdateMessage(ctx, h.ChannelID, h.MessageTS, status+" "+p.cursor); err != nil {
		p.logger.Warn("status update failed", "channel", h.ChannelID, "ts", h.MessageTS, "err", err)
	}
}

// DeliverFinal splits fullText and delivers it: the first chunk overwrites
// the placeholder, the rest are posted as follow-ups in the same thread.
// Per-chunk post failures are logged and the remaining chunks still
// attempted; the turn counts as delivered once the edit succeeded.
func (p *Pipeline) DeliverFinal(ctx context.Context, h *Handle, fullText string) error {
	// The platform rejects empty message edits, so a blank answer gets a
	// fixed reply instead of leaving the placeholder spinning.
	if strings.TrimSpace(fullText) == "" {
		fullText = emptyAnswerReply
	}
	chunks := splitter.Split(formatForSlack(fullText), p.maxLen)

	if err := p.client.UpdateMessage(ctx, h.ChannelID, h.MessageTS, chunks[0]); err != nil {
		p.logger.Error("final edit failed", "channel", h.ChannelID, "ts", h.MessageTS, "err", err)
		p.FailTurn(ctx, h, genericErrorReply)
		return fmt.Errorf("edit placeholder: %w", err)
	}
	p.metrics.Counter("relaybot_chunks_delivered_total", "Chunks delivered to the platform").Inc()

	for i, chunk := range chunks[1:] {
		if err := p.pause(ctx); err != nil {
			p.logger.Warn("delivery interrupted", "remaining", len(chunks)-1-i)
			return nil
		}
		if _, err := p.client.PostMessage(ctx, h.ChannelID, h.ThreadTS, chunk); err != nil {
			// Partial delivery beats aborting a long answer midstream.
			p.logger.Error("follow-up post failed", "channel", h.ChannelID, "chunk", i+1, "err", err)
			continue
		}
		p.metrics.Counter("relaybot_chunks_delivered_total", "Chunks delivered to the platform").Inc()
	}
	return nil
}

// FailTurn replaces the placeholder with a user-facing error so it never
// stays in a permanently "thinking" state. Best effort.
func (p *Pipeline) FailTurn(ctx context.Context, h *Handle, userMsg string) {
	if userMsg == "" {
		userMsg = genericErrorReply
	}
	if err := p.client.UpdateMessage(ctx, h.ChannelID, h.MessageTS, userMsg); err != nil {
		p.logger.Error("error replacement failed", "channel", h.ChannelID, "ts", h.MessageTS, "err", err)
	}
}

// Notify posts a standalone message outside the placeholder protocol, used
// for fixed policy replies.
func (p *Pipeline) Notify(ctx context.Context, channelID, threadTS, text string) {
	if _, err := p.client.PostMessage(ctx, channelID, threadTS, text); err != nil {
		p.logger.Warn("notify failed", "channel", channelID, "err", err)
	}
}

func (p *Pipeline) pause(ctx context.Context) error {
	if p.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(p.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// formatForSlack rewrites common markdown to Slack's dialect.
func formatForSlack(text string) string {
	return strings.ReplaceAll(text, "**", "*")
}
