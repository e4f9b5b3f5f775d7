package detectors

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/colossusbot/modwatch/internal/logger"
	"github.com/colossusbot/modwatch/internal/moderation"
)

// PausedLookup lists channels exempt from the inactivity sweep.
type PausedLookup interface {
	PausedChannelIDs(ctx context.Context) ([]string, error)
}

// InactivityConfig configures the ticket inactivity detector.
type InactivityConfig struct {
	ChannelPattern *regexp.Regexp
	WarnAfter      time.Duration
	CloseAfter     time.Duration
	Capacity       int
}

// Inactivity tracks the last activity of ticket channels. Evaluate only
// records activity; Sweep reports channels that went silent.
type Inactivity struct {
	cfg    InactivityConfig
	paused PausedLookup
	log    logger.Logger

	mu       sync.Mutex
	channels *lru.Cache[string, *ticketState]
}

type ticketState struct {
	guildID      string
	lastActivity time.Time
	// warnedAt is set once the reminder was delivered for the current silent streak.
	warnedAt time.Time
}

// NewInactivity creates the detector. paused may be nil.
func NewInactivity(cfg InactivityConfig, paused PausedLookup, log logger.Logger) (*Inactivity, error) {
	if cfg.ChannelPattern == nil {
		return nil, fmt.Errorf("inactivity detector requires a channel pattern")
	}
	if cfg.WarnAfter <= 0 || cfg.CloseAfter <= cfg.WarnAfter {
		return nil, fmt.Errorf("inactivity thresholds must satisfy 0 < warn (%s) < close (%s)", cfg.WarnAfter, cfg.CloseAfter)
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10000
	}
	cache, err := lru.New[string, *ticketState](cfg.Capacity)
	if err != nil {
		return nil, err
	}
	return &Inactivity{cfg: cfg, paused: paused, log: log.Module("inactivity"), channels: cache}, nil
}

func (d *Inactivity) Name() string { return "inactivity" }

// Evaluate records activity in ticket channels. It never reports violations.
func (d *Inactivity) Evaluate(_ context.Context, msg *moderation.MessageEvent) ([]moderation.Violation, error) {
	if !d.cfg.ChannelPattern.MatchString(msg.ChannelName) {
		return nil, nil
	}
	d.Track(msg.GuildID, msg.ChannelID, msg.ChannelName, timestampOrNow(msg.Timestamp))
	return nil, nil
}

// Track records activity at lastActivity. Used for messages and for seeding
// channels found at startup. Channels whose name does not match are ignored.
// Older timestamps never move a channel's activity backwards.
func (d *Inactivity) Track(guildID, channelID, channelName string, lastActivity time.Time) bool {
	if !d.cfg.ChannelPattern.MatchString(channelName) {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if st, ok := d.channels.Peek(channelID); ok {
		if lastActivity.After(st.lastActivity) {
			st.lastActivity = lastActivity
			st.warnedAt = time.Time{}
		}
		d.channels.Get(channelID)
		return true
	}
	d.channels.Add(channelID, &ticketState{guildID: guildID, lastActivity: lastActivity})
	return true
}

// Forget stops tracking a channel.
func (d *Inactivity) Forget(channelID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels.Remove(channelID)
}

// MarkReminded records that the reminder for the current silent streak was
// posted at the given time. It is ignored when the channel saw activity after
// that time or was already reminded.
func (d *Inactivity) MarkReminded(channelID string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.channels.Peek(channelID)
	if !ok || !st.warnedAt.IsZero() || st.lastActivity.After(at) {
		return
	}
	st.warnedAt = at
}

// Tracked returns the number of tracked channels.
func (d *Inactivity) Tracked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels.Len()
}

// Sweep reports silent channels. The reminder is reported when the gap reaches
// WarnAfter and keeps being reported until MarkReminded confirms delivery.
// Close is reported once the gap reaches CloseAfter and the reminder has been
// out for CloseAfter-WarnAfter; it repeats on later sweeps until the channel
// is forgotten.
func (d *Inactivity) Sweep(ctx context.Context, now time.Time) []moderation.Violation {
	paused, ok := d.pausedSet(ctx)
	if !ok {
		return nil
	}
	grace := d.cfg.CloseAfter - d.cfg.WarnAfter

	d.mu.Lock()
	defer d.mu.Unlock()

	var out []moderation.Violation
	for _, channelID := range d.channels.Keys() {
		st, ok := d.channels.Peek(channelID)
		if !ok || paused[channelID] {
			continue
		}
		gap := now.Sub(st.lastActivity)
		switch {
		case !st.warnedAt.IsZero() && gap >= d.cfg.CloseAfter && now.Sub(st.warnedAt) >= grace:
			out = append(out, d.violation(moderation.KindInactivityClose, channelID, st, gap, now))
		case st.warnedAt.IsZero() && gap >= d.cfg.WarnAfter:
			out = append(out, d.violation(moderation.KindInactivityWarn, channelID, st, gap, now))
		}
	}
	return out
}

func (d *Inactivity) violation(kind moderation.Kind, channelID string, st *ticketState, gap time.Duration, now time.Time) moderation.Violation {
	return moderation.Violation{
		Kind:       kind,
		GuildID:    st.guildID,
		ChannelID:  channelID,
		Evidence:   fmt.Sprintf("no activity for %s", gap.Truncate(time.Minute)),
		DetectedAt: now,
	}
}

// pausedSet loads the paused channels. ok is false when they are unknown,
// in which case nothing may be swept.
func (d *Inactivity) pausedSet(ctx context.Context) (set map[string]bool, ok bool) {
	if d.paused == nil {
		return nil, true
	}
	ids, err := d.paused.PausedChannelIDs(ctx)
	if err != nil {
		d.log.Warn("failed to load paused channels, skipping sweep", logger.Error(err))
		return nil, false
	}
	set = make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, true
}
