package domain

import "time"

// InboundEvent is one user message delivered over the webhook boundary.
// EventID is the platform's delivery identifier and serves as the dedup key
// under at-least-once delivery; MessageTS identifies the message inside its
// thread so history assembly can exclude the live question.
type InboundEvent struct {
	EventID     string
	UserID      string
	ChannelID   string
	ThreadTS    string // empty for unthreaded messages (DMs)
	MessageTS   string
	Text        string
	Attachments []string
	Timestamp   time.Time
}

// ThreadMessage is one reply fetched from a thread, as returned by the
// chat platform.
type ThreadMessage struct {
	ClientMsgID string
	UserID      string
	BotID       string // non-empty when authored by a bot
	Text        string
	Timestamp   string
}

// ThreadContextEntry is one role-tagged line of reconstructed conversation
// history. Entries are ordered oldest to newest and consumed once per turn.
type ThreadContextEntry struct {
	Role   string // user | assistant
	Author string // display name, user entries only
	Text   string
}

// Render serializes the entry the way it is presented to the model. The
// rendered length is also what counts against the history byte budget.
func (e ThreadContextEntry) Render() string {
	if e.Author != "" {
		return e.Role + " " + e.Author + ": " + e.Text
	}
	return e.Role + ": " + e.Text
}
