// Package discord connects the moderation engine to Discord through discordgo.
package discord

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/colossusbot/modwatch/internal/errors"
	"github.com/colossusbot/modwatch/internal/logger"
	"github.com/colossusbot/modwatch/internal/moderation"
)

const (
	// transcriptPageSize is the Discord maximum for one message listing.
	transcriptPageSize = 100
	// maxTranscriptMessages bounds how far back a transcript reaches.
	maxTranscriptMessages = 2000
	// maxMessageLength is Discord's content limit.
	maxMessageLength = 2000
)

// Client implements moderation.ActionClient on a discordgo session.
type Client struct {
	session *discordgo.Session
	log     logger.Logger
}

// NewClient wraps session.
func NewClient(session *discordgo.Session, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{session: session, log: log.Module("discord")}
}

func (c *Client) PostMessage(ctx context.Context, channelID, content string) (string, error) {
	msg, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: truncate(content, maxMessageLength),
		// Mentions render but never ping.
		AllowedMentions: noPings(),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to post message to %s: %w", channelID, err)
	}
	return msg.ID, nil
}

// AddReactionOptions adds emojis in order, stopping at the first failure.
func (c *Client) AddReactionOptions(ctx context.Context, channelID, messageID string, emojis []string) error {
	for _, emoji := range emojis {
		if err := c.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("failed to add reaction %s: %w", emoji, err)
		}
	}
	return nil
}

func (c *Client) RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error {
	if err := c.session.MessageReactionRemove(channelID, messageID, emoji, userID, discordgo.WithContext(ctx)); err != nil {
		if isRESTCode(err, discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownEmoji) {
			return nil
		}
		return fmt.Errorf("failed to remove reaction: %w", err)
	}
	return nil
}

// ApplyModeration executes a platform penalty. Targets that already left the
// guild yield moderation.ErrAlreadyApplied.
func (c *Client) ApplyModeration(ctx context.Context, req moderation.ModerationRequest) error {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if req.Reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(truncate(req.Reason, 512)))
	}

	var err error
	switch req.Action {
	case moderation.ActionWarn:
		err = c.sendWarning(ctx, req)
	case moderation.ActionMute:
		if req.RoleID != "" {
			err = c.session.GuildMemberRoleAdd(req.GuildID, req.UserID, req.RoleID, opts...)
		} else {
			until := time.Now().Add(req.Duration)
			err = c.session.GuildMemberTimeout(req.GuildID, req.UserID, &until, opts...)
		}
	case moderation.ActionKick:
		err = c.session.GuildMemberDelete(req.GuildID, req.UserID, opts...)
	case moderation.ActionBan:
		err = c.session.GuildBanCreateWithReason(req.GuildID, req.UserID, req.Reason, req.DeleteMessageDays, opts...)
	default:
		return fmt.Errorf("unsupported action %q", req.Action)
	}
	if err == nil {
		return nil
	}
	if req.Action != moderation.ActionBan && isRESTCode(err, discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser) {
		return fmt.Errorf("%s target %s is gone: %w", req.Action, req.UserID, moderation.ErrAlreadyApplied)
	}
	return errors.New(err).
		Component("discord").
		Category(errors.CategoryNetwork).
		Context("action", string(req.Action)).
		Context("guild_id", req.GuildID).
		Build()
}

func (c *Client) sendWarning(ctx context.Context, req moderation.ModerationRequest) error {
	dm, err := c.session.UserChannelCreate(req.UserID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to open direct message: %w", err)
	}
	content := "⚠️ You received a warning from the moderators."
	if req.Reason != "" {
		content += "\nReason: " + req.Reason
	}
	_, err = c.PostMessage(ctx, dm.ID, content)
	return err
}

func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	if _, err := c.session.ChannelDelete(channelID, discordgo.WithContext(ctx)); err != nil {
		if isRESTCode(err, discordgo.ErrCodeUnknownChannel) {
			return nil
		}
		return fmt.Errorf("failed to delete channel %s: %w", channelID, err)
	}
	return nil
}

// SendTranscript uploads the channel history, oldest first, as a text file.
func (c *Client) SendTranscript(ctx context.Context, channelID, destinationChannelID string) error {
	messages, err := c.history(ctx, channelID)
	if err != nil {
		return err
	}

	name := channelID
	if ch, err := c.channel(ctx, channelID); err == nil && ch.Name != "" {
		name = ch.Name
	}

	_, err = c.session.ChannelMessageSendComplex(destinationChannelID, &discordgo.MessageSend{
		Content:         fmt.Sprintf("Transcript of #%s (%d messages)", name, len(messages)),
		AllowedMentions: noPings(),
		Files: []*discordgo.File{{
			Name:        fmt.Sprintf("transcript-%s.txt", name),
			ContentType: "text/plain; charset=utf-8",
			Reader:      strings.NewReader(RenderTranscript(messages)),
		}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to upload transcript of %s: %w", channelID, err)
	}
	return nil
}

// history pages backwards through the channel and returns oldest first.
func (c *Client) history(ctx context.Context, channelID string) ([]*discordgo.Message, error) {
	var all []*discordgo.Message
	before := ""
	for len(all) < maxTranscriptMessages {
		page, err := c.session.ChannelMessages(channelID, transcriptPageSize, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to read channel history: %w", err)
		}
		all = append(all, page...)
		if len(page) < transcriptPageSize {
			break
		}
		before = page[len(page)-1].ID
	}
	slices.Reverse(all)
	return all, nil
}

func (c *Client) channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	if ch, err := c.session.State.Channel(channelID); err == nil {
		return ch, nil
	}
	return c.session.Channel(channelID, discordgo.WithContext(ctx))
}

// RenderTranscript formats messages one per line.
func RenderTranscript(messages []*discordgo.Message) string {
	var b strings.Builder
	for _, m := range messages {
		author := "unknown"
		if m.Author != nil {
			author = m.Author.Username
		}
		fmt.Fprintf(&b, "[%s] %s: %s", m.Timestamp.UTC().Format(time.RFC3339), author, m.Content)
		for _, att := range m.Attachments {
			fmt.Fprintf(&b, " [attachment: %s]", att.URL)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func noPings() *discordgo.MessageAllowedMentions {
	return &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
}

func isRESTCode(err error, codes ...int) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && slices.Contains(codes, restErr.Message.Code) {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound && restErr.Message == nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
