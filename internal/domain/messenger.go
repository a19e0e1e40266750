package domain

import "context"

// Messenger is the chat-platform surface the bot consumes: post, edit,
// list thread replies, resolve a display name. All calls are fallible
// remote calls; retry policy belongs to the caller.
type Messenger interface {
	// PostMessage posts text to a channel, threaded under threadTS when
	// non-empty, and returns the new message's timestamp identifier.
	PostMessage(ctx context.Context, channelID, threadTS, text string) (string, error)

	// UpdateMessage edits an existing message in place.
	UpdateMessage(ctx context.Context, channelID, ts, text string) error

	// ThreadReplies returns all messages under a thread root, the root
	// message first, oldest to newest.
	ThreadReplies(ctx context.Context, channelID, threadTS string) ([]ThreadMessage, error)

	// UserDisplayName resolves a user id to a human-readable label.
	UserDisplayName(ctx context.Context, userID string) (string, error)
}
