package detectors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colossusbot/modwatch/internal/datastore/entities"
	"github.com/colossusbot/modwatch/internal/moderation"
	"github.com/colossusbot/modwatch/internal/testutil/fakes"
)

const spamText = "check out my brand new server right now"

func newRepeated(t *testing.T, guilds moderation.GuildConfigProvider) *Repeated {
	t.Helper()
	index, err := NewMemoryIndex(128, time.Hour)
	require.NoError(t, err)
	return NewRepeated(index, guilds, RepeatedConfig{MinWordCount: 5, SingleUserThreshold: 3})
}

func post(guildID, userID, content string, at time.Time) *moderation.MessageEvent {
	return &moderation.MessageEvent{
		ID:        fmt.Sprintf("%s-%s-%d", guildID, userID, at.UnixNano()),
		GuildID:   guildID,
		ChannelID: "c-" + guildID,
		AuthorID:  userID,
		Content:   content,
		Timestamp: at,
	}
}

func TestRepeated_DistinctUsersAcrossGuilds(t *testing.T) {
	t.Parallel()

	d := newRepeated(t, nil)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := d.Evaluate(t.Context(), post("g1", "u1", spamText, start))
	require.NoError(t, err)
	assert.Empty(t, got)

	// Formatting differences still match.
	got, err = d.Evaluate(t.Context(), post("g2", "u2", strings.ToUpper(spamText)+"!!", start.Add(time.Minute)))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, moderation.KindRepeatedMessage, got[0].Kind)
	assert.Equal(t, "g2", got[0].GuildID)
	assert.Equal(t, "u2", got[0].AuthorID)
	assert.Contains(t, got[0].Evidence, "same message posted by 2 users")
}

func TestRepeated_SingleUserThreshold(t *testing.T) {
	t.Parallel()

	d := newRepeated(t, nil)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := range 2 {
		got, err := d.Evaluate(t.Context(), post("g1", "u1", spamText, start.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		assert.Empty(t, got)
	}
	got, err := d.Evaluate(t.Context(), post("g1", "u1", spamText, start.Add(2*time.Minute)))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Evidence, "repeated 3 times")
}

func TestRepeated_ShortMessagesIgnored(t *testing.T) {
	t.Parallel()

	d := newRepeated(t, nil)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		got, err := d.Evaluate(t.Context(), post("g1", fmt.Sprintf("u%d", i), "good morning everyone", start))
		require.NoError(t, err)
		assert.Empty(t, got)
	}
}

func TestRepeated_WindowExpires(t *testing.T) {
	t.Parallel()

	d := newRepeated(t, nil)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := d.Evaluate(t.Context(), post("g1", "u1", spamText, start))
	require.NoError(t, err)
	got, err := d.Evaluate(t.Context(), post("g1", "u2", spamText, start.Add(2*time.Hour)))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRepeated_GuildOverrides(t *testing.T) {
	t.Parallel()

	guilds := fakes.NewGuilds(&entities.GuildConfig{
		GuildID:                   "g1",
		MinWordCount:              2,
		SingleUserRepeatThreshold: 2,
	})
	d := newRepeated(t, guilds)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := d.Evaluate(t.Context(), post("g1", "u1", "buy now", start))
	require.NoError(t, err)
	got, err := d.Evaluate(t.Context(), post("g1", "u1", "buy now", start.Add(time.Second)))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Evidence, "repeated 2 times")

	// An unconfigured guild falls back to the defaults.
	got, err = d.Evaluate(t.Context(), post("g9", "u1", "buy now", start.Add(2*time.Second)))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRepeated_GuildLookupError(t *testing.T) {
	t.Parallel()

	guilds := fakes.NewGuilds()
	guilds.SetError(errors.New("db down"))
	d := newRepeated(t, guilds)

	_, err := d.Evaluate(t.Context(), post("g1", "u1", spamText, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

type failingIndex struct{}

func (failingIndex) Record(context.Context, string, string, time.Time) (Sighting, error) {
	return Sighting{}, errors.New("redis unreachable")
}

func TestRepeated_IndexError(t *testing.T) {
	t.Parallel()

	d := NewRepeated(failingIndex{}, nil, RepeatedConfig{})
	_, err := d.Evaluate(t.Context(), post("g1", "u1", spamText, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis unreachable")
}

func TestExcerpt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", excerpt("short"))
	long := strings.Repeat("é", 200)
	got := excerpt(long)
	assert.Equal(t, maxExcerpt+1, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestMemoryIndex_EvictsLeastRecent(t *testing.T) {
	t.Parallel()

	index, err := NewMemoryIndex(2, time.Hour)
	require.NoError(t, err)
	now := time.Now()

	for _, fp := range []string{"a", "b", "c"} {
		_, err := index.Record(t.Context(), fp, "u1", now)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, index.Len())

	s, err := index.Record(t.Context(), "a", "u1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, s.UserCount, "evicted fingerprint starts over")
}
