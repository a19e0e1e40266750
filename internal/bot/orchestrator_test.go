package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"relaybot/internal/delivery"
	"relaybot/internal/domain"
	"relaybot/internal/history"
	"relaybot/internal/store"
)

type fakeMessenger struct {
	mu      sync.Mutex
	posts   []string
	updates []string
	replies []domain.ThreadMessage
	nextTS  int
}

func (f *fakeMessenger) PostMessage(ctx context.Context, channelID, threadTS, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, text)
	f.nextTS++
	return fmt.Sprintf("ts-%d", f.nextTS), nil
}

func (f *fakeMessenger) UpdateMessage(ctx context.Context, channelID, ts, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, text)
	return nil
}

func (f *fakeMessenger) ThreadReplies(ctx context.Context, channelID, threadTS string) ([]domain.ThreadMessage, error) {
	return f.replies, nil
}

func (f *fakeMessenger) UserDisplayName(ctx context.Context, userID string) (string, error) {
	return "Someone", nil
}

func (f *fakeMessenger) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

type fakeCompleter struct {
	answer   string
	err      error
	requests []domain.CompletionRequest
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	f.requests = append(f.requests, req)
	return f.answer, f.err
}

func (f *fakeCompleter) Healthy(ctx context.Context) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	orch      *Orchestrator
	messenger *fakeMessenger
	completer *fakeCompleter
	store     *store.Store
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	st, err := store.Open(store.Options{InMemory: true, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	messenger := &fakeMessenger{}
	completer := &fakeCompleter{answer: "the answer"}

	cfg := Config{
		Store:           st,
		Pipeline:        delivery.New(delivery.Config{Client: messenger, MaxMessageLen: 3000, Logger: testLogger()}),
		History:         history.New(messenger, "UBOT", testLogger()),
		Completer:       completer,
		ThrottleCeiling: 100,
		Logger:          testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &fixture{
		orch:      New(cfg),
		messenger: messenger,
		completer: completer,
		store:     st,
	}
}

func event(id string) domain.InboundEvent {
	return domain.InboundEvent{
		EventID:   id,
		UserID:    "U1",
		ChannelID: "C1",
		MessageTS: "2000.0",
		Text:      "what is the meaning of life?",
	}
}

func TestHandle_HappyPath(t *testing.T) {
	fx := newFixture(t, nil)
	fx.orch.Handle(context.Background(), event("ev1"))

	// One placeholder post, zero follow-ups for a short answer.
	if fx.messenger.postCount() != 1 {
		t.Errorf("expected 1 post (placeholder), got %d", fx.messenger.postCount())
	}
	last := fx.messenger.updates[len(fx.messenger.updates)-1]
	if last != "the answer" {
		t.Errorf("placeholder should end as the answer, got %q", last)
	}
	if len(fx.completer.requests) != 1 {
		t.Fatalf("expected one completion call, got %d", len(fx.completer.requests))
	}
	if fx.completer.requests[0].SessionID == "" {
		t.Error("session id must be generated per turn")
	}
}

func TestHandle_DuplicateEventSuppressed(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	fx.orch.Handle(ctx, event("ev1"))
	postsAfterFirst := fx.messenger.postCount()

	fx.orch.Handle(ctx, event("ev1"))
	if fx.messenger.postCount() != postsAfterFirst {
		t.Error("second delivery of the same event must produce zero additional posts")
	}
	if len(fx.completer.requests) != 1 {
		t.Errorf("duplicate must not reach the model, got %d calls", len(fx.completer.requests))
	}
}

func TestHandle_ThrottleCeiling(t *testing.T) {
	fx := newFixture(t, func(c *Config) { c.ThrottleCeiling = 3 })
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		fx.orch.Handle(ctx, event(fmt.Sprintf("ev%d", i)))
	}

	// Events 0..2 each post a placeholder; event 3 is silently dropped.
	if fx.messenger.postCount() != 3 {
		t.Errorf("expected 3 placeholders, got %d posts", fx.messenger.postCount())
	}
	if len(fx.completer.requests) != 3 {
		t.Errorf("throttled event must not reach the model, got %d calls", len(fx.completer.requests))
	}
}

func TestHandle_CompletionFailureReplacesPlaceholder(t *testing.T) {
	fx := newFixture(t, nil)
	fx.completer.err = errors.New("model unavailable")
	fx.completer.answer = ""

	fx.orch.Handle(context.Background(), event("ev1"))

	if len(fx.messenger.updates) == 0 {
		t.Fatal("expected placeholder updates")
	}
	last := fx.messenger.updates[len(fx.messenger.updates)-1]
	if !strings.Contains(last, "Sorry") {
		t.Errorf("placeholder should be replaced with a user-facing error, got %q", last)
	}
}

func TestHandle_DisallowedChannel(t *testing.T) {
	fx := newFixture(t, func(c *Config) { c.AllowedChannels = []string{"C-allowed"} })

	fx.orch.Handle(context.Background(), event("ev1"))

	if len(fx.completer.requests) != 0 {
		t.Error("disallowed channel must not reach the model")
	}
	if fx.messenger.postCount() != 1 || !strings.Contains(fx.messenger.posts[0], "not allowed") {
		t.Errorf("expected one policy message, got %v", fx.messenger.posts)
	}
}

func TestHandle_DisallowedChannelRedelivery(t *testing.T) {
	fx := newFixture(t, func(c *Config) { c.AllowedChannels = []string{"C-allowed"} })
	ctx := context.Background()

	fx.orch.Handle(ctx, event("ev1"))
	fx.orch.Handle(ctx, event("ev1"))

	// The policy reply is part of the turn: a redelivered event must be
	// deduplicated before it, not re-post it.
	if fx.messenger.postCount() != 1 {
		t.Errorf("redelivered disallowed event must not repeat the policy message, got %d posts", fx.messenger.postCount())
	}
}

func TestHandle_AttachmentsReachPrompt(t *testing.T) {
	fx := newFixture(t, nil)
	ev := event("ev1")
	ev.Attachments = []string{"https://files.example.com/report.pdf"}

	fx.orch.Handle(context.Background(), ev)

	if len(fx.completer.requests) != 1 {
		t.Fatal("expected one completion call")
	}
	prompt := fx.completer.requests[0].Prompt
	if !strings.Contains(prompt, "<attachments>") || !strings.Contains(prompt, "report.pdf") {
		t.Errorf("prompt missing attachments block:\n%s", prompt)
	}
}

func TestHandle_ThreadedEventIncludesHistory(t *testing.T) {
	fx := newFixture(t, nil)
	fx.messenger.replies = []domain.ThreadMessage{
		{UserID: "U1", Text: "root", Timestamp: "1000.0"},
		{UserID: "U1", Text: "earlier question", Timestamp: "1001.0"},
		{BotID: "B1", Text: "earlier answer", Timestamp: "1002.0"},
		{UserID: "U1", Text: "what is the meaning of life?", Timestamp: "2000.0"},
	}

	ev := event("ev1")
	ev.ThreadTS = "1000.0"
	fx.orch.Handle(context.Background(), ev)

	if len(fx.completer.requests) != 1 {
		t.Fatal("expected one completion call")
	}
	prompt := fx.completer.requests[0].Prompt
	if !strings.Contains(prompt, "<history>") || !strings.Contains(prompt, "earlier answer") {
		t.Errorf("prompt missing history block:\n%s", prompt)
	}
	if strings.Count(prompt, "what is the meaning of life?") != 1 {
		t.Error("the live question must not be echoed into its own history")
	}
	if !strings.Contains(prompt, "<question>\nwhat is the meaning of life?\n</question>") {
		t.Errorf("prompt missing question block:\n%s", prompt)
	}
}

func TestHandle_UnthreadedEventSkipsHistory(t *testing.T) {
	fx := newFixture(t, nil)
	fx.orch.Handle(context.Background(), event("ev1"))

	prompt := fx.completer.requests[0].Prompt
	if strings.Contains(prompt, "<history>") {
		t.Error("unthreaded event should not carry a history block")
	}
}

func TestHandle_MissingIdentifiersIgnored(t *testing.T) {
	fx := newFixture(t, nil)
	fx.orch.Handle(context.Background(), domain.InboundEvent{ChannelID: "C1", Text: "hi"})

	if fx.messenger.postCount() != 0 {
		t.Error("event without id must be dropped silently")
	}
}
