// Package slackapi adapts the Slack Web API to the domain.Messenger
// interface the rest of the bot is written against.
package slackapi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"relaybot/internal/domain"
)

// repliesPageLimit bounds a single conversations.replies page. Threads longer
// than this are paged via the cursor.
const repliesPageLimit = 200

// Client wraps a slack.Client behind domain.Messenger.
type Client struct {
	api    *slack.Client
	logger *slog.Logger
}

func New(botToken string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:    slack.New(botToken),
		logger: logger,
	}
}

// AuthTest verifies the bot token and returns the bot's own user id.
func (c *Client) AuthTest(ctx context.Context) (string, error) {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return "", fmt.Errorf("slack auth: %w", err)
	}
	c.logger.Info("slack auth ok", "user_id", resp.UserID, "team", resp.Team)
	return resp.UserID, nil
}

// PostMessage posts text to a channel, threaded when threadTS is set, and
// returns the timestamp of the new message.
func (c *Client) PostMessage(ctx context.Context, channelID, threadTS, text string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := c.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	return ts, nil
}

// UpdateMessage replaces the text of an existing message in place.
func (c *Client) UpdateMessage(ctx context.Context, channelID, ts, text string) error {
	_, _, _, err := c.api.UpdateMessageContext(ctx, channelID, ts, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack update: %w", err)
	}
	return nil
}

// ThreadReplies fetches the full thread under threadTS, oldest first,
// including the root message.
func (c *Client) ThreadReplies(ctx context.Context, channelID, threadTS string) ([]domain.ThreadMessage, error) {
	params := &slack.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: threadTS,
		Limit:     repliesPageLimit,
	}

	var out []domain.ThreadMessage
	for {
		msgs, hasMore, nextCursor, err := c.api.GetConversationRepliesContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("slack replies: %w", err)
		}
		for _, m := range msgs {
			out = append(out, domain.ThreadMessage{
				ClientMsgID: m.ClientMsgID,
				UserID:      m.User,
				BotID:       m.BotID,
				Text:        m.Text,
				Timestamp:   m.Timestamp,
			})
		}
		if !hasMore {
			return out, nil
		}
		params.Cursor = nextCursor
	}
}

// UserDisplayName resolves a user id to the best human-readable name
// available on the profile.
func (c *Client) UserDisplayName(ctx context.Context, userID string) (string, error) {
	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("slack user info: %w", err)
	}
	switch {
	case user.Profile.DisplayName != "":
		return user.Profile.DisplayName, nil
	case user.RealName != "":
		return user.RealName, nil
	default:
		return user.Name, nil
	}
}
