package discord

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/colossusbot/modwatch/internal/logger"
	"github.com/colossusbot/modwatch/internal/moderation"
)

// EventHandler consumes normalized gateway events.
type EventHandler interface {
	HandleMessage(ctx context.Context, msg *moderation.MessageEvent) error
	HandleReaction(ctx context.Context, ev *moderation.ReactionEvent) (moderation.Outcome, error)
}

// TicketTracker is told about ticket channels found outside of messages.
type TicketTracker interface {
	Track(guildID, channelID, channelName string, lastActivity time.Time) bool
	Forget(channelID string)
}

// Intents needed by the gateway handlers.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsMessageContent

// Gateway converts discordgo events and submits them to the per-guild dispatcher.
type Gateway struct {
	session    *discordgo.Session
	handler    EventHandler
	dispatcher *moderation.GuildDispatcher
	tickets    TicketTracker
	log        logger.Logger
}

// NewGateway creates a gateway. tickets may be nil.
func NewGateway(session *discordgo.Session, handler EventHandler, dispatcher *moderation.GuildDispatcher, tickets TicketTracker, log logger.Logger) *Gateway {
	if log == nil {
		log = logger.NewNop()
	}
	return &Gateway{
		session:    session,
		handler:    handler,
		dispatcher: dispatcher,
		tickets:    tickets,
		log:        log.Module("gateway"),
	}
}

// Register installs the handlers and returns a function removing them.
func (g *Gateway) Register() func() {
	removers := []func(){
		g.session.AddHandler(g.onMessageCreate),
		g.session.AddHandler(g.onReactionAdd),
		g.session.AddHandler(g.onReactionRemove),
		g.session.AddHandler(g.onGuildCreate),
		g.session.AddHandler(g.onChannelDelete),
	}
	return func() {
		for _, remove := range removers {
			remove()
		}
	}
}

func (g *Gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.GuildID == "" {
		return
	}
	ev := &moderation.MessageEvent{
		ID:          m.ID,
		GuildID:     m.GuildID,
		ChannelID:   m.ChannelID,
		ChannelName: g.channelName(m.ChannelID),
		AuthorID:    m.Author.ID,
		AuthorIsBot: m.Author.Bot,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
	}
	for _, att := range m.Attachments {
		ev.Attachments = append(ev.Attachments, moderation.Attachment{
			ID:          att.ID,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			URL:         att.URL,
			Size:        att.Size,
		})
	}
	g.submit(m.GuildID, "message", func(ctx context.Context) {
		if err := g.handler.HandleMessage(ctx, ev); err != nil {
			g.log.Debug("message handling reported faults",
				logger.String("message_id", ev.ID),
				logger.Error(err))
		}
	})
}

func (g *Gateway) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	g.reaction(r.MessageReaction, r.Member, true)
}

func (g *Gateway) onReactionRemove(s *discordgo.Session, r *discordgo.MessageReactionRemove) {
	g.reaction(r.MessageReaction, nil, false)
}

func (g *Gateway) reaction(r *discordgo.MessageReaction, member *discordgo.Member, added bool) {
	if r == nil || r.GuildID == "" || g.isSelf(r.UserID) {
		return
	}
	ev := &moderation.ReactionEvent{
		MessageID: r.MessageID,
		ChannelID: r.ChannelID,
		GuildID:   r.GuildID,
		ReactorID: r.UserID,
		Emoji:     r.Emoji.Name,
		Added:     added,
	}
	if member != nil && member.User != nil {
		ev.ReactorIsBot = member.User.Bot
	}
	g.submit(r.GuildID, "reaction", func(ctx context.Context) {
		outcome, err := g.handler.HandleReaction(ctx, ev)
		if err != nil {
			g.log.Debug("reaction handling reported faults",
				logger.String("message_id", ev.MessageID),
				logger.String("outcome", outcome.String()),
				logger.Error(err))
		}
	})
}

// onGuildCreate seeds ticket channels present when the bot starts or joins,
// so silent tickets are swept without waiting for a new message.
func (g *Gateway) onGuildCreate(s *discordgo.Session, gc *discordgo.GuildCreate) {
	if g.tickets == nil || gc.Guild == nil {
		return
	}
	seeded := 0
	for _, ch := range gc.Channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		if g.tickets.Track(gc.ID, ch.ID, ch.Name, lastActivity(ch)) {
			seeded++
		}
	}
	if seeded > 0 {
		g.log.Info("tracking ticket channels",
			logger.String("guild_id", gc.ID),
			logger.Int("channels", seeded))
	}
}

func (g *Gateway) onChannelDelete(s *discordgo.Session, cd *discordgo.ChannelDelete) {
	if g.tickets != nil && cd.Channel != nil {
		g.tickets.Forget(cd.ID)
	}
}

func (g *Gateway) submit(guildID, kind string, task moderation.Task) {
	if !g.dispatcher.Submit(guildID, task) {
		g.log.Warn("dropped gateway event",
			logger.String("guild_id", guildID),
			logger.String("kind", kind))
	}
}

func (g *Gateway) channelName(channelID string) string {
	if ch, err := g.session.State.Channel(channelID); err == nil {
		return ch.Name
	}
	ch, err := g.session.Channel(channelID)
	if err != nil {
		g.log.Debug("failed to resolve channel name",
			logger.String("channel_id", channelID),
			logger.Error(err))
		return ""
	}
	return ch.Name
}

func (g *Gateway) isSelf(userID string) bool {
	return g.session.State.User != nil && g.session.State.User.ID == userID
}

// lastActivity is the time of the channel's last message, falling back to
// its creation time.
func lastActivity(ch *discordgo.Channel) time.Time {
	if ch.LastMessageID != "" {
		if ts, err := discordgo.SnowflakeTimestamp(ch.LastMessageID); err == nil {
			return ts
		}
	}
	ts, err := discordgo.SnowflakeTimestamp(ch.ID)
	if err != nil {
		return time.Now()
	}
	return ts
}
