// Package provider implements domain.Completer against the supported
// completion APIs and a factory that builds them from config.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"relaybot/internal/config"
	"relaybot/internal/domain"
)

// Constructor builds a completer from a config entry.
type Constructor func(pc config.ProviderConfig, logger *slog.Logger) domain.Completer

// Factory creates and caches completers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]Constructor
	cache        map[string]domain.Completer
	mu           sync.RWMutex
}

// NewFactory creates a factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]Constructor),
		cache:        make(map[string]domain.Completer),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a completer constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["anthropic"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Completer {
		return NewAnthropic(AnthropicConfig{APIKey: pc.APIKey, Model: pc.DefaultModel, MaxRetries: pc.MaxRetries, Logger: logger})
	}

	f.constructors["openai"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Completer {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger})
	}
}

// Get returns the completer with the given name, or the default if name is
// empty. Created completers are cached so the same instance is reused.
// Uses double-check locking to avoid TOCTOU races.
func (f *Factory) Get(name string) (domain.Completer, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	// Fast path: read lock.
	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	// Slow path: write lock with double-check.
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	ctor, found := f.constructors[name]

	var c domain.Completer
	if found {
		c = ctor(pc, f.logger)
	} else if pc.APIBase != "" && pc.APIKey != "" {
		// Fallback: treat unknown providers as OpenAI-compatible.
		c = NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: f.logger})
	} else {
		return nil, fmt.Errorf("provider %s: no constructor registered and no API base/key configured", name)
	}

	f.cache[name] = c
	return c, nil
}

// DefaultCompleter returns the configured default completer.
func (f *Factory) DefaultCompleter() (domain.Completer, error) {
	return f.Get("")
}

// Resolve returns the completer the bot should use: the failover chain when
// one is configured, otherwise the default completer.
func (f *Factory) Resolve() (domain.Completer, error) {
	chain := f.cfg.General.FailoverChain
	if len(chain) == 0 {
		return f.DefaultCompleter()
	}
	completers := make([]domain.Completer, 0, len(chain))
	for _, name := range chain {
		c, err := f.Get(name)
		if err != nil {
			return nil, err
		}
		completers = append(completers, c)
	}
	return NewFailover(completers, f.logger), nil
}

// HealthyCompleter returns the first completer that passes a health check, or nil.
func (f *Factory) HealthyCompleter(ctx context.Context) domain.Completer {
	for name := range f.cfg.Providers {
		c, err := f.Get(name)
		if err != nil || c == nil {
			continue
		}
		if c.Healthy(ctx) == nil {
			return c
		}
	}
	return nil
}
