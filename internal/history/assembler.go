// Package history reconstructs a bounded conversation window from thread
// replies. The remote completion service keeps no memory between turns, so
// this is the only source of multi-turn context.
package history

import (
	"context"
	"log/slog"
	"sync"

	"relaybot/internal/domain"
)

// entrySeparator is what joins rendered entries in the prompt; its length
// counts against the byte budget per entry.
const entrySeparator = "\n\n"

// Assembler builds role-tagged transcripts from thread replies. Display
// names are resolved lazily and cached for the process lifetime; the user
// population per deployment is small enough that the cache stays unbounded.
type Assembler struct {
	client    domain.Messenger
	botUserID string
	logger    *slog.Logger
	names     sync.Map // userID -> display name
}

func New(client domain.Messenger, botUserID string, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		client:    client,
		botUserID: botUserID,
		logger:    logger,
	}
}

// Assemble fetches the replies under threadTS, drops the root message and
// the live question (matched by excludeTS), and returns the most recent
// entries that fit byteBudget, in chronological order. Retrieval failures
// yield an empty transcript rather than an error: answering without history
// beats not answering.
func (a *Assembler) Assemble(ctx context.Context, channelID, threadTS, excludeTS string, byteBudget int) []domain.ThreadContextEntry {
	msgs, err := a.client.ThreadReplies(ctx, channelID, threadTS)
	if err != nil {
		a.logger.Warn("thread replies fetch failed", "channel", channelID, "thread", threadTS, "err", err)
		return nil
	}
	if len(msgs) > 0 {
		msgs = msgs[1:] // the root message is the thread starter, not a reply
	}

	var entries []domain.ThreadContextEntry
	size := 0

	// Walk newest-first so budget exhaustion drops the oldest messages.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if excludeTS != "" && m.Timestamp == excludeTS {
			continue
		}

		entry := domain.ThreadContextEntry{Role: "user", Text: m.Text}
		if m.BotID != "" || m.UserID == a.botUserID {
			entry.Role = "assistant"
		} else {
			entry.Author = a.displayName(ctx, m.UserID)
		}

		size += len(entry.Render()) + len(entrySeparator)
		if size > byteBudget {
			break
		}
		entries = append(entries, entry)
	}

	// Reverse back to chronological order for presentation.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

// displayName resolves a user id through the cache. A lost race populating
// the same key twice is harmless; lookup failures are not cached so a later
// turn can retry.
func (a *Assembler) displayName(ctx context.Context, userID string) string {
	if v, ok := a.names.Load(userID); ok {
		return v.(string)
	}
	name, err := a.client.UserDisplayName(ctx, userID)
	if err != nil || name == "" {
		a.logger.Debug("display name lookup failed", "user", userID, "err", err)
		return userID
	}
	actual, _ := a.names.LoadOrStore(userID, name)
	return actual.(string)
}
