// Package ingress terminates the chat platform's Events API webhook. The
// platform retries on non-200 or slow responses, so every request is
// acknowledged quickly and processing happens off the request goroutine;
// the store-first ordering in the orchestrator keeps retries harmless.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// EventHandler consumes inbound events dispatched by the server.
type EventHandler interface {
	Handle(ctx context.Context, ev domain.InboundEvent)
}

// Config configures the webhook server.
type Config struct {
	Port            int
	Path            string // events URL path (default: /slack/events)
	SigningSecret   string // request signature secret; empty disables verification
	BotUserID       string // the bot's own user id, to avoid replying to self
	Concurrency     int    // max events processed in parallel
	MetricsEndpoint string // metrics URL path; empty disables
	Logger          *slog.Logger
	Metrics         *metrics.Collector
}

// Server accepts Events API callbacks and dispatches them to the handler.
type Server struct {
	port          int
	path          string
	signingSecret string
	botUserID     string
	metricsPath   string
	handler       EventHandler
	logger        *slog.Logger
	metrics       *metrics.Collector
	server        *http.Server
	sem           chan struct{}
	baseCtx       context.Context
}

func New(cfg Config, handler EventHandler) *Server {
	if cfg.Path == "" {
		cfg.Path = "/slack/events"
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default
	}
	return &Server{
		port:          cfg.Port,
		path:          cfg.Path,
		signingSecret: cfg.SigningSecret,
		botUserID:     cfg.BotUserID,
		metricsPath:   cfg.MetricsEndpoint,
		handler:       handler,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		sem:           make(chan struct{}, cfg.Concurrency),
		baseCtx:       context.Background(),
	}
}

// Start runs the HTTP server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleEvents)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok")
	})
	if s.metricsPath != "" {
		mux.Handle(s.metricsPath, s.metrics.Handler())
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("event server starting", "port", s.port, "path", s.path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("event server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("event server: %w", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		s.ack(w)
		return
	}
	defer r.Body.Close()

	// Signature failures and malformed payloads both get a success-shaped
	// acknowledgment with no processing: a non-200 would only make the
	// platform retry the same request.
	if s.signingSecret != "" && !s.verifySignature(r.Header, body) {
		s.logger.Warn("request signature rejected", "remote", r.RemoteAddr)
		s.ack(w)
		return
	}

	apiEvent, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		s.logger.Warn("unparseable event payload", "err", err)
		s.ack(w)
		return
	}

	switch apiEvent.Type {
	case slackevents.URLVerification:
		// The subscription handshake must be answered before anything else.
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			s.ack(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"challenge": challenge.Challenge})

	case slackevents.CallbackEvent:
		callback, ok := apiEvent.Data.(*slackevents.EventsAPICallbackEvent)
		if !ok {
			s.ack(w)
			return
		}
		if ev, ok := s.inboundEvent(callback, apiEvent.InnerEvent); ok {
			s.dispatch(ev)
		}
		s.ack(w)

	default:
		s.ack(w)
	}
}

// inboundEvent maps a callback's inner event to a domain event. Bot-authored
// messages, message edits, and events without the fields the pipeline needs
// are dropped here.
func (s *Server) inboundEvent(callback *slackevents.EventsAPICallbackEvent, inner slackevents.EventsAPIInnerEvent) (domain.InboundEvent, bool) {
	switch ev := inner.Data.(type) {
	case *slackevents.AppMentionEvent:
		if ev.User == "" || ev.User == s.botUserID {
			return domain.InboundEvent{}, false
		}
		thread := ev.ThreadTimeStamp
		if thread == "" {
			// Mentions are always answered in a thread under the
			// mentioning message.
			thread = ev.TimeStamp
		}
		return domain.InboundEvent{
			EventID:     callback.EventID,
			UserID:      ev.User,
			ChannelID:   ev.Channel,
			ThreadTS:    thread,
			MessageTS:   ev.TimeStamp,
			Text:        stripMention(ev.Text),
			Attachments: fileURLs(callback.InnerEvent),
			Timestamp:   time.Now(),
		}, true

	case *slackevents.MessageEvent:
		if ev.User == "" || ev.User == s.botUserID || ev.BotID != "" || ev.SubType != "" {
			return domain.InboundEvent{}, false
		}
		if ev.ClientMsgID == "" {
			return domain.InboundEvent{}, false
		}
		return domain.InboundEvent{
			EventID:     callback.EventID,
			UserID:      ev.User,
			ChannelID:   ev.Channel,
			ThreadTS:    ev.ThreadTimeStamp,
			MessageTS:   ev.TimeStamp,
			Text:        strings.TrimSpace(ev.Text),
			Attachments: fileURLs(callback.InnerEvent),
			Timestamp:   time.Now(),
		}, true
	}
	return domain.InboundEvent{}, false
}

// fileURLs extracts shared-file URLs from the raw inner event. The typed
// slackevents structs do not surface the files array, so it is read off the
// wire payload directly.
func fileURLs(raw *json.RawMessage) []string {
	if raw == nil {
		return nil
	}
	var payload struct {
		Files []struct {
			URLPrivate string `json:"url_private"`
		} `json:"files"`
	}
	if err := json.Unmarshal(*raw, &payload); err != nil {
		return nil
	}
	var urls []string
	for _, f := range payload.Files {
		if f.URLPrivate != "" {
			urls = append(urls, f.URLPrivate)
		}
	}
	return urls
}

// dispatch hands the event to the handler on its own goroutine, bounded by
// the semaphore. The request goroutine returns immediately so the platform
// gets its 200 inside the delivery deadline.
func (s *Server) dispatch(ev domain.InboundEvent) {
	s.metrics.Counter("relaybot_webhook_events_total", "Events accepted off the webhook").Inc()
	go func() {
		s.sem <- struct{}{}
		defer func() {
			<-s.sem
			if rec := recover(); rec != nil {
				s.logger.Error("event handler panicked", "event", ev.EventID, "panic", rec)
			}
		}()
		s.handler.Handle(s.baseCtx, ev)
	}()
}

func (s *Server) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) verifySignature(header http.Header, body []byte) bool {
	verifier, err := slack.NewSecretsVerifier(header, s.signingSecret)
	if err != nil {
		return false
	}
	if _, err := verifier.Write(body); err != nil {
		return false
	}
	return verifier.Ensure() == nil
}

// stripMention removes the leading <@UXXXX> token from a mention's text.
func stripMention(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "<@") {
		if idx := strings.Index(text, ">"); idx >= 0 {
			text = strings.TrimSpace(text[idx+1:])
		}
	}
	return text
}
