package detectors

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/colossusbot/modwatch/internal/moderation"
)

// FlaggedWords reports messages containing configured phrases or matching
// configured regular expressions. It reports at most one violation per
// message, for the first match.
type FlaggedWords struct {
	phrases  []flaggedPhrase
	patterns []*regexp.Regexp
}

type flaggedPhrase struct {
	original   string
	normalized string
}

// NewFlaggedWords compiles the phrase list and patterns.
func NewFlaggedWords(phrases, patterns []string) (*FlaggedWords, error) {
	d := &FlaggedWords{}
	for _, p := range phrases {
		if n := Normalize(p); n != "" {
			d.phrases = append(d.phrases, flaggedPhrase{original: p, normalized: n})
		}
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid flagged word pattern %q: %w", p, err)
		}
		d.patterns = append(d.patterns, re)
	}
	return d, nil
}

func (d *FlaggedWords) Name() string { return "flagged-words" }

func (d *FlaggedWords) Evaluate(_ context.Context, msg *moderation.MessageEvent) ([]moderation.Violation, error) {
	match, ok := d.Match(msg.Content)
	if !ok {
		return nil, nil
	}
	return []moderation.Violation{{
		Kind:            moderation.KindFlaggedWord,
		GuildID:         msg.GuildID,
		ChannelID:       msg.ChannelID,
		SourceMessageID: msg.ID,
		AuthorID:        msg.AuthorID,
		Evidence:        match,
		DetectedAt:      timestampOrNow(msg.Timestamp),
	}}, nil
}

// Match returns the first phrase or pattern match in text.
func (d *FlaggedWords) Match(text string) (string, bool) {
	normalized := Normalize(text)
	for _, p := range d.phrases {
		if containsPhrase(normalized, p.normalized) {
			return p.original, true
		}
	}
	for _, re := range d.patterns {
		if m := re.FindString(text); m != "" {
			return m, true
		}
	}
	return "", false
}

func timestampOrNow(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}
