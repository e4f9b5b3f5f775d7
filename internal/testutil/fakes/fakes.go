// Package fakes provides in-memory stand-ins for the platform collaborators of
// the moderation engine.
package fakes

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/colossusbot/modwatch/internal/datastore/entities"
	"github.com/colossusbot/modwatch/internal/datastore/repository"
	"github.com/colossusbot/modwatch/internal/moderation"
)

// Post is a message sent through Client.
type Post struct {
	ChannelID string
	MessageID string
	Content   string
}

// RemovedReaction records a RemoveReaction call.
type RemovedReaction struct {
	ChannelID string
	MessageID string
	Emoji     string
	UserID    string
}

// Transcript records a SendTranscript call.
type Transcript struct {
	ChannelID     string
	DestinationID string
}

// Client is a recording moderation.ActionClient.
type Client struct {
	mu          sync.Mutex
	seq         int
	posts       []Post
	options     map[string][]string
	removed     []RemovedReaction
	moderations []moderation.ModerationRequest
	deleted     []string
	transcripts []Transcript

	postErr       error
	moderationErr error
	deleteErr     error
}

// NewClient creates an empty Client.
func NewClient() *Client {
	return &Client{options: make(map[string][]string)}
}

// SetPostError makes PostMessage fail with err until cleared with nil.
func (c *Client) SetPostError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postErr = err
}

// SetModerationError makes ApplyModeration fail with err.
func (c *Client) SetModerationError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moderationErr = err
}

// SetDeleteError makes DeleteChannel fail with err.
func (c *Client) SetDeleteError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteErr = err
}

func (c *Client) PostMessage(_ context.Context, channelID, content string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.postErr != nil {
		return "", c.postErr
	}
	c.seq++
	id := fmt.Sprintf("msg-%d", c.seq)
	c.posts = append(c.posts, Post{ChannelID: channelID, MessageID: id, Content: content})
	return id, nil
}

func (c *Client) AddReactionOptions(_ context.Context, _, messageID string, emojis []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.options[messageID] = append(c.options[messageID], emojis...)
	return nil
}

func (c *Client) RemoveReaction(_ context.Context, channelID, messageID, emoji, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, RemovedReaction{ChannelID: channelID, MessageID: messageID, Emoji: emoji, UserID: userID})
	return nil
}

func (c *Client) ApplyModeration(_ context.Context, req moderation.ModerationRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.moderationErr != nil {
		return c.moderationErr
	}
	c.moderations = append(c.moderations, req)
	return nil
}

func (c *Client) DeleteChannel(_ context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return c.deleteErr
	}
	c.deleted = append(c.deleted, channelID)
	return nil
}

func (c *Client) SendTranscript(_ context.Context, channelID, destinationChannelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcripts = append(c.transcripts, Transcript{ChannelID: channelID, DestinationID: destinationChannelID})
	return nil
}

// Posts returns every message posted.
func (c *Client) Posts() []Post {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Post(nil), c.posts...)
}

// PostsTo returns the messages posted to channelID.
func (c *Client) PostsTo(channelID string) []Post {
	var out []Post
	for _, p := range c.Posts() {
		if p.ChannelID == channelID {
			out = append(out, p)
		}
	}
	return out
}

// HasPostContaining reports whether any message in channelID contains text.
func (c *Client) HasPostContaining(channelID, text string) bool {
	for _, p := range c.PostsTo(channelID) {
		if strings.Contains(p.Content, text) {
			return true
		}
	}
	return false
}

// Options returns the reaction options added to messageID.
func (c *Client) Options(messageID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.options[messageID]...)
}

// Removed returns removed reactions.
func (c *Client) Removed() []RemovedReaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]RemovedReaction(nil), c.removed...)
}

// Moderations returns applied platform penalties.
func (c *Client) Moderations() []moderation.ModerationRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]moderation.ModerationRequest(nil), c.moderations...)
}

// Deleted returns deleted channel ids.
func (c *Client) Deleted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}

// Transcripts returns sent transcripts.
func (c *Client) Transcripts() []Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transcript(nil), c.transcripts...)
}

// Staff is a moderation.StaffOracle backed by a set.
type Staff struct {
	mu    sync.RWMutex
	staff map[string]bool
	err   error
}

// NewStaff returns an oracle that treats the given users as staff in every guild.
func NewStaff(userIDs ...string) *Staff {
	s := &Staff{staff: make(map[string]bool)}
	for _, id := range userIDs {
		s.staff[id] = true
	}
	return s
}

// SetError makes IsStaff fail.
func (s *Staff) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Staff) IsStaff(_ context.Context, _, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return false, s.err
	}
	return s.staff[userID], nil
}

// Penalties is a recording moderation.PenaltyApplier.
type Penalties struct {
	mu    sync.Mutex
	calls []moderation.PenaltyRequest
	err   error
	// Hook runs inside Apply before it returns, outside the lock.
	Hook func(req moderation.PenaltyRequest)
}

// SetError makes Apply fail with err until cleared with nil.
func (p *Penalties) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *Penalties) Apply(_ context.Context, req moderation.PenaltyRequest) error {
	if p.Hook != nil {
		p.Hook(req)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	return p.err
}

// Calls returns every Apply request, including failed ones.
func (p *Penalties) Calls() []moderation.PenaltyRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]moderation.PenaltyRequest(nil), p.calls...)
}

// Guilds is a static moderation.GuildConfigProvider.
type Guilds struct {
	mu      sync.RWMutex
	configs map[string]*entities.GuildConfig
	err     error
}

// NewGuilds returns a provider holding cfgs.
func NewGuilds(cfgs ...*entities.GuildConfig) *Guilds {
	g := &Guilds{configs: make(map[string]*entities.GuildConfig)}
	for _, cfg := range cfgs {
		g.configs[cfg.GuildID] = cfg
	}
	return g
}

// SetError makes GuildConfig fail.
func (g *Guilds) SetError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *Guilds) GuildConfig(_ context.Context, guildID string) (*entities.GuildConfig, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.err != nil {
		return nil, g.err
	}
	cfg, ok := g.configs[guildID]
	if !ok {
		return nil, repository.ErrGuildConfigNotFound
	}
	c := *cfg
	return &c, nil
}

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Detector is a moderation.Detector built from a function.
type Detector struct {
	DetectorName string
	Fn           func(ctx context.Context, msg *moderation.MessageEvent) ([]moderation.Violation, error)
}

func (d *Detector) Name() string { return d.DetectorName }

func (d *Detector) Evaluate(ctx context.Context, msg *moderation.MessageEvent) ([]moderation.Violation, error) {
	return d.Fn(ctx, msg)
}
