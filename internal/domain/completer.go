package domain

import "context"

// CompletionRequest carries one fully assembled prompt to the remote
// completion service. SessionID is generated fresh per turn; the service
// keeps no multi-turn memory, all history is reconstructed client-side.
type CompletionRequest struct {
	System    string
	Prompt    string
	SessionID string
	Model     string
	MaxTokens int
}

// Completer is the remote completion/agent collaborator. Complete blocks
// until the full answer text is available; providers that stream reassemble
// the chunks internally before returning.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Healthy(ctx context.Context) error
}
