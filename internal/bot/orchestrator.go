// Package bot wires one inbound event through dedup, throttle, context
// assembly, the remote completion call, and delivery. Each event is handled
// by an independent, stateless invocation; the only shared state lives in
// the context store and the history package's name cache.
package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/delivery"
	"relaybot/internal/domain"
	"relaybot/internal/history"
	"relaybot/internal/metrics"
	"relaybot/internal/store"
)

const (
	msgFetchingHistory = "Reviewing the conversation so far..."
	msgAwaitingModel   = "Waiting for a response..."
	msgChannelPolicy   = "Sorry, I'm not allowed to respond in this channel."
	msgTurnFailed      = "Sorry, something went wrong while answering. Please try again."
)

// Orchestrator handles one conversation turn per inbound event.
type Orchestrator struct {
	store       *store.Store
	pipeline    *delivery.Pipeline
	history     *history.Assembler
	completer   domain.Completer
	persona     string
	systemExtra string
	byteBudget  int
	ceiling     int
	allowed     map[string]struct{}
	turnTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Collector
}

// Config holds the orchestrator's injected collaborators and policy knobs.
type Config struct {
	Store     *store.Store
	Pipeline  *delivery.Pipeline
	History   *history.Assembler
	Completer domain.Completer
	// Persona is the fixed system preamble.
	Persona string
	// SystemExtra is optional deployment-specific instruction text.
	SystemExtra string
	// ByteBudget bounds the serialized thread history.
	ByteBudget int
	// ThrottleCeiling is the max live records per user; 0 disables.
	ThrottleCeiling int
	// AllowedChannels restricts responses to the listed channel ids;
	// empty allows everywhere.
	AllowedChannels []string
	// TurnTimeout bounds the whole turn including the remote call.
	TurnTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Collector
}

func New(cfg Config) *Orchestrator {
	if cfg.ByteBudget <= 0 {
		cfg.ByteBudget = 4000
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default
	}
	var allowed map[string]struct{}
	if len(cfg.AllowedChannels) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedChannels))
		for _, c := range cfg.AllowedChannels {
			allowed[c] = struct{}{}
		}
	}
	return &Orchestrator{
		store:       cfg.Store,
		pipeline:    cfg.Pipeline,
		history:     cfg.History,
		completer:   cfg.Completer,
		persona:     cfg.Persona,
		systemExtra: cfg.SystemExtra,
		byteBudget:  cfg.ByteBudget,
		ceiling:     cfg.ThrottleCeiling,
		allowed:     allowed,
		turnTimeout: cfg.TurnTimeout,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// Handle processes one inbound event end to end. It never returns an error:
// every failure path resolves to either a silent drop or a user-visible
// message on the placeholder.
func (o *Orchestrator) Handle(ctx context.Context, ev domain.InboundEvent) {
	if ev.EventID == "" || ev.UserID == "" {
		return
	}
	o.metrics.Counter("relaybot_events_total", "Inbound events accepted for handling").Inc()

	// Fast duplicate check before anything else, policy replies included:
	// a redelivered event must produce zero additional messages.
	if o.store.Get(ctx, ev.EventID) != "" {
		o.metrics.Counter("relaybot_duplicates_total", "Duplicate deliveries suppressed").Inc()
		o.logger.Info("duplicate event", "event", ev.EventID)
		return
	}

	// Silent drop above the ceiling: no reply, nothing to encourage retries.
	// Checked before the record is written so an event never counts itself.
	if o.ceiling > 0 && o.store.CountByUser(ctx, ev.UserID) >= o.ceiling {
		o.metrics.Counter("relaybot_throttled_total", "Events dropped by the per-user throttle").Inc()
		o.logger.Warn("user throttled", "user", ev.UserID, "ceiling", o.ceiling)
		return
	}

	// Record before doing any work so a crash mid-turn cannot trigger a
	// retry storm; the transactional insert also closes the window where
	// two deliveries both observed "absent".
	if !o.store.PutIfAbsent(ctx, ev.EventID, ev.Text, ev.UserID) {
		o.metrics.Counter("relaybot_duplicates_total", "Duplicate deliveries suppressed").Inc()
		o.logger.Info("duplicate event lost the insert race", "event", ev.EventID)
		return
	}

	if o.allowed != nil {
		if _, ok := o.allowed[ev.ChannelID]; !ok {
			o.logger.Info("channel not allowed", "channel", ev.ChannelID)
			o.pipeline.Notify(ctx, ev.ChannelID, ev.ThreadTS, msgChannelPolicy)
			return
		}
	}

	ctx, cancel := context.WithTimeout(ctx, o.turnTimeout)
	defer cancel()

	handle, err := o.pipeline.StartTurn(ctx, ev.ChannelID, ev.ThreadTS)
	if err != nil {
		o.metrics.Counter("relaybot_turn_errors_total", "Turns that ended in an error").Inc()
		o.logger.Error("placeholder post failed", "channel", ev.ChannelID, "err", err)
		return
	}

	var entries []domain.ThreadContextEntry
	if ev.ThreadTS != "" {
		o.pipeline.UpdateStatus(ctx, handle, msgFetchingHistory)
		entries = o.history.Assemble(ctx, ev.ChannelID, ev.ThreadTS, ev.MessageTS, o.byteBudget)
	}

	req := domain.CompletionRequest{
		System:    o.systemPreamble(),
		Prompt:    buildPrompt(entries, ev.Text, ev.Attachments),
		SessionID: uuid.NewString(),
	}

	o.pipeline.UpdateStatus(ctx, handle, msgAwaitingModel)

	start := time.Now()
	answer, err := o.completer.Complete(ctx, req)
	if err != nil {
		o.metrics.Counter("relaybot_turn_errors_total", "Turns that ended in an error").Inc()
		o.logger.Error("completion failed", "provider", o.completer.Name(), "err", err)
		o.pipeline.FailTurn(ctx, handle, msgTurnFailed)
		return
	}
	o.logger.Info("completion received",
		"provider", o.completer.Name(),
		"duration_ms", time.Since(start).Milliseconds(),
		"answer_len", len(answer),
	)

	if err := o.pipeline.DeliverFinal(ctx, handle, answer); err != nil {
		o.metrics.Counter("relaybot_turn_errors_total", "Turns that ended in an error").Inc()
		return
	}
	o.metrics.Counter("relaybot_turns_total", "Turns delivered").Inc()
}
