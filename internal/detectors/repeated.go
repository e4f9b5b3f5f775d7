package detectors

import (
	"context"
	"fmt"
	"time"

	"github.com/colossusbot/modwatch/internal/datastore/repository"
	"github.com/colossusbot/modwatch/internal/errors"
	"github.com/colossusbot/modwatch/internal/moderation"
)

// Sighting summarizes how often a fingerprint was seen within the window.
type Sighting struct {
	// DistinctUsers is the number of users who posted the content.
	DistinctUsers int
	// UserCount is how often the current user posted it.
	UserCount int
}

// ContentIndex records message fingerprints across the whole network.
type ContentIndex interface {
	Record(ctx context.Context, fingerprint, userID string, at time.Time) (Sighting, error)
}

// RepeatedConfig holds network-wide defaults; guild settings override them.
type RepeatedConfig struct {
	MinWordCount        int
	SingleUserThreshold int
}

// Repeated reports content posted by more than one user, or posted by one
// user SingleUserThreshold times, within the index window.
type Repeated struct {
	index  ContentIndex
	guilds moderation.GuildConfigProvider
	cfg    RepeatedConfig
}

// NewRepeated creates the detector. guilds may be nil.
func NewRepeated(index ContentIndex, guilds moderation.GuildConfigProvider, cfg RepeatedConfig) *Repeated {
	if cfg.MinWordCount <= 0 {
		cfg.MinWordCount = 5
	}
	if cfg.SingleUserThreshold <= 0 {
		cfg.SingleUserThreshold = 5
	}
	return &Repeated{index: index, guilds: guilds, cfg: cfg}
}

func (d *Repeated) Name() string { return "repeated-message" }

func (d *Repeated) Evaluate(ctx context.Context, msg *moderation.MessageEvent) ([]moderation.Violation, error) {
	minWords, threshold, err := d.limits(ctx, msg.GuildID)
	if err != nil {
		return nil, err
	}
	if WordCount(msg.Content) < minWords {
		return nil, nil
	}

	at := timestampOrNow(msg.Timestamp)
	sighting, err := d.index.Record(ctx, Fingerprint(msg.Content), msg.AuthorID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to record message fingerprint: %w", err)
	}

	var evidence string
	switch {
	case sighting.DistinctUsers > 1:
		evidence = fmt.Sprintf("same message posted by %d users: %s", sighting.DistinctUsers, excerpt(msg.Content))
	case sighting.UserCount >= threshold:
		evidence = fmt.Sprintf("repeated %d times: %s", sighting.UserCount, excerpt(msg.Content))
	default:
		return nil, nil
	}
	return []moderation.Violation{{
		Kind:            moderation.KindRepeatedMessage,
		GuildID:         msg.GuildID,
		ChannelID:       msg.ChannelID,
		SourceMessageID: msg.ID,
		AuthorID:        msg.AuthorID,
		Evidence:        evidence,
		DetectedAt:      at,
	}}, nil
}

func (d *Repeated) limits(ctx context.Context, guildID string) (minWords, threshold int, err error) {
	minWords, threshold = d.cfg.MinWordCount, d.cfg.SingleUserThreshold
	if d.guilds == nil {
		return minWords, threshold, nil
	}
	cfg, err := d.guilds.GuildConfig(ctx, guildID)
	if err != nil {
		if errors.Is(err, repository.ErrGuildConfigNotFound) {
			return minWords, threshold, nil
		}
		return 0, 0, fmt.Errorf("failed to load guild limits: %w", err)
	}
	if cfg.MinWordCount > 0 {
		minWords = cfg.MinWordCount
	}
	if cfg.SingleUserRepeatThreshold > 0 {
		threshold = cfg.SingleUserRepeatThreshold
	}
	return minWords, threshold, nil
}

const maxExcerpt = 120

func excerpt(text string) string {
	r := []rune(text)
	if len(r) <= maxExcerpt {
		return text
	}
	return string(r[:maxExcerpt]) + "…"
}
