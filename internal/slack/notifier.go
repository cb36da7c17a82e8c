// Package slack posts project lifecycle notifications to a Slack channel.
package slack

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/p-blackswan/projecthub/internal/project"
)

// Poster abstracts the Slack API client for testing.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier implements project.Notifier on top of chat.postMessage.
type Notifier struct {
	api     Poster
	channel string
	logger  zerolog.Logger
}

// NewNotifier creates a Notifier posting to channel with a bot token.
func NewNotifier(botToken, channel string, logger zerolog.Logger) *Notifier {
	return NewNotifierWithAPI(slack.New(botToken), channel, logger)
}

// NewNotifierWithAPI creates a Notifier over an existing client.
func NewNotifierWithAPI(api Poster, channel string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		api:     api,
		channel: channel,
		logger:  logger.With().Str("component", "slack").Logger(),
	}
}

// Notify posts n. Urgent notifications are flagged so a human acts on them.
func (n *Notifier) Notify(ctx context.Context, note project.Notification) error {
	text := note.Message
	if note.Urgent {
		text = ":rotating_light: *Action required:* " + text
	}
	_, ts, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(note.Message, false),
		slack.MsgOptionBlocks(buildBlocks(text, note)...),
	)
	if err != nil {
		return fmt.Errorf("failed to post %s notification: %w", note.Event, err)
	}
	n.logger.Debug().Str("event", note.Event).Str("ts", ts).Msg("notification posted")
	return nil
}

func buildBlocks(text string, note project.Notification) []slack.Block {
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
	}

	var ctxElems []slack.MixedElement
	if p := note.Project; p != nil {
		ref := p.Name
		if p.GitHubRepoLink != "" {
			ref = fmt.Sprintf("<%s|%s>", p.GitHubRepoLink, p.Name)
		}
		ctxElems = append(ctxElems, slack.NewTextBlockObject(slack.MarkdownType, "*Project:* "+ref, false, false))
	}
	if note.Actor != "" {
		ctxElems = append(ctxElems, slack.NewTextBlockObject(slack.MarkdownType, "*By:* "+note.Actor, false, false))
	}
	ctxElems = append(ctxElems, slack.NewTextBlockObject(slack.PlainTextType, note.Event, false, false))
	return append(blocks, slack.NewContextBlock("", ctxElems...))
}
