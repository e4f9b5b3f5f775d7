package moderation_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colossusbot/modwatch/internal/datastore/entities"
	"github.com/colossusbot/modwatch/internal/datastore/repository"
	"github.com/colossusbot/modwatch/internal/detectors"
	"github.com/colossusbot/modwatch/internal/logger"
	"github.com/colossusbot/modwatch/internal/moderation"
	"github.com/colossusbot/modwatch/internal/penalty"
	"github.com/colossusbot/modwatch/internal/testutil"
	"github.com/colossusbot/modwatch/internal/testutil/fakes"
)

// scenario wires real detectors, the real penalty executor and a SQLite store.
type scenario struct {
	engine     *moderation.Engine
	alerts     repository.AlertRepository
	warnings   repository.WarningRepository
	guildRepo  repository.GuildRepository
	client     *fakes.Client
	clock      *fakes.Clock
	inactivity *detectors.Inactivity
}

func newScenario(t *testing.T) *scenario {
	t.Helper()
	db := testutil.NewTestDB(t)
	s := &scenario{
		alerts:    repository.NewAlertRepository(db),
		warnings:  repository.NewWarningRepository(db),
		guildRepo: repository.NewGuildRepository(db),
		client:    fakes.NewClient(),
		clock:     fakes.NewClock(testStart),
	}
	require.NoError(t, s.guildRepo.SaveGuildConfig(t.Context(), &entities.GuildConfig{
		GuildID:             testGuild,
		ReviewChannelID:     testReview,
		TranscriptChannelID: "transcripts",
		MuteRoleID:          "muted",
	}))
	guilds := guildRepoProvider{s.guildRepo}

	flagged, err := detectors.NewFlaggedWords([]string{"free nitro"}, nil)
	require.NoError(t, err)
	s.inactivity, err = detectors.NewInactivity(detectors.InactivityConfig{
		ChannelPattern: regexp.MustCompile(`^ticket-`),
		WarnAfter:      time.Hour,
		CloseAfter:     2 * time.Hour,
	}, s.guildRepo, logger.NewNop())
	require.NoError(t, err)

	executor := penalty.NewExecutor(penalty.Config{}, s.client, guilds, s.warnings, logger.NewNop())
	s.engine = moderation.NewEngine(moderation.Config{}, moderation.Dependencies{
		Alerts:     s.alerts,
		Guilds:     guilds,
		Client:     s.client,
		Staff:      fakes.NewStaff(testStaffA),
		Penalties:  executor,
		Detectors:  []moderation.Detector{flagged, s.inactivity},
		Inactivity: s.inactivity,
		Now:        s.clock.Now,
	})
	return s
}

// guildRepoProvider serves guild config straight from the repository.
type guildRepoProvider struct {
	repo repository.GuildRepository
}

func (p guildRepoProvider) GuildConfig(ctx context.Context, guildID string) (*entities.GuildConfig, error) {
	return p.repo.GetGuildConfig(ctx, guildID)
}

func TestScenario_FlaggedWordToMute(t *testing.T) {
	t.Parallel()
	s := newScenario(t)
	ctx := t.Context()

	require.NoError(t, s.engine.HandleMessage(ctx, &moderation.MessageEvent{
		ID: "m1", GuildID: testGuild, ChannelID: "general", ChannelName: "general",
		AuthorID: testOffender, Content: "get FREE nitro here", Timestamp: testStart,
	}))

	items, _, err := s.alerts.ListAlerts(ctx, repository.AlertFilter{GuildID: testGuild, WithEvidence: true})
	require.NoError(t, err)
	require.Len(t, items, 1)
	alert := items[0]
	assert.Equal(t, moderation.KindFlaggedWord, moderation.Kind(alert.Kind))
	require.Len(t, alert.Evidence, 1)
	assert.Equal(t, "free nitro", alert.Evidence[0].Detail)
	require.True(t, alert.HasNotification())

	react := func(emoji string) moderation.Outcome {
		outcome, err := s.engine.HandleReaction(ctx, &moderation.ReactionEvent{
			MessageID: *alert.NotificationMessageID, ChannelID: testReview, GuildID: testGuild,
			ReactorID: testStaffA, Emoji: emoji, Added: true,
		})
		require.NoError(t, err)
		return outcome
	}
	assert.Equal(t, moderation.OutcomeConfirmed, react(moderation.EmojiConfirm))
	assert.Equal(t, moderation.OutcomePenalized, react(moderation.EmojiMute))

	mods := s.client.Moderations()
	require.Len(t, mods, 1)
	assert.Equal(t, moderation.ActionMute, mods[0].Action)
	assert.Equal(t, "muted", mods[0].RoleID)
	assert.Equal(t, testOffender, mods[0].UserID)

	final, err := s.alerts.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, moderation.StatePenalized, final.State)
}

func TestScenario_WarnIsRecorded(t *testing.T) {
	t.Parallel()
	s := newScenario(t)
	ctx := t.Context()

	require.NoError(t, s.engine.HandleMessage(ctx, &moderation.MessageEvent{
		ID: "m1", GuildID: testGuild, ChannelID: "general", AuthorID: testOffender,
		Content: "free nitro", Timestamp: testStart,
	}))
	items, _, err := s.alerts.ListAlerts(ctx, repository.AlertFilter{GuildID: testGuild})
	require.NoError(t, err)
	require.Len(t, items, 1)

	for _, emoji := range []string{moderation.EmojiConfirm, moderation.EmojiWarn} {
		_, err := s.engine.HandleReaction(ctx, &moderation.ReactionEvent{
			MessageID: *items[0].NotificationMessageID, ChannelID: testReview, GuildID: testGuild,
			ReactorID: testStaffA, Emoji: emoji, Added: true,
		})
		require.NoError(t, err)
	}

	warnings, total, err := s.warnings.ListWarnings(ctx, repository.WarningFilter{GuildID: testGuild})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.NotNil(t, warnings[0].AlertID)
	assert.Equal(t, items[0].ID, *warnings[0].AlertID)
	assert.Equal(t, testStaffA, warnings[0].ModeratorID)
}

func ticketMessage(at time.Time) *moderation.MessageEvent {
	return &moderation.MessageEvent{
		ID: "t-msg", GuildID: testGuild, ChannelID: "ticket-chan", ChannelName: "ticket-0042",
		AuthorID: testOffender, Content: "hello?", Timestamp: at,
	}
}

func TestScenario_InactiveTicketGetsReminderOnly(t *testing.T) {
	t.Parallel()
	s := newScenario(t)
	ctx := t.Context()

	require.NoError(t, s.engine.HandleMessage(ctx, ticketMessage(testStart)))

	s.clock.Advance(65 * time.Minute)
	require.NoError(t, s.engine.SweepInactivity(ctx))

	posts := s.client.PostsTo("ticket-chan")
	require.Len(t, posts, 1)
	assert.Equal(t, moderation.TicketReminderText, posts[0].Content)
	assert.Empty(t, s.client.Deleted())
	assert.Empty(t, s.client.Transcripts())

	// No duplicate reminder on the next sweep.
	s.clock.Advance(5 * time.Minute)
	require.NoError(t, s.engine.SweepInactivity(ctx))
	assert.Len(t, s.client.PostsTo("ticket-chan"), 1)

	// Inactivity never creates staff alerts.
	_, total, err := s.alerts.ListAlerts(ctx, repository.AlertFilter{GuildID: testGuild})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestScenario_SilentTicketIsClosed(t *testing.T) {
	t.Parallel()
	s := newScenario(t)
	ctx := t.Context()

	require.NoError(t, s.engine.HandleMessage(ctx, ticketMessage(testStart)))

	s.clock.Advance(65 * time.Minute)
	require.NoError(t, s.engine.SweepInactivity(ctx))
	s.clock.Advance(60 * time.Minute)
	require.NoError(t, s.engine.SweepInactivity(ctx))

	posts := s.client.PostsTo("ticket-chan")
	require.Len(t, posts, 2)
	assert.Equal(t, moderation.TicketReminderText, posts[0].Content)
	assert.Equal(t, moderation.TicketClosingText, posts[1].Content)
	assert.Equal(t, []fakes.Transcript{{ChannelID: "ticket-chan", DestinationID: "transcripts"}}, s.client.Transcripts())
	assert.Equal(t, []string{"ticket-chan"}, s.client.Deleted())
	assert.Zero(t, s.inactivity.Tracked())
}

func TestScenario_FailedReminderDelaysClose(t *testing.T) {
	t.Parallel()
	s := newScenario(t)
	ctx := t.Context()

	require.NoError(t, s.engine.HandleMessage(ctx, ticketMessage(testStart)))

	s.client.SetPostError(errors.New("rate limited"))
	s.clock.Advance(65 * time.Minute)
	require.ErrorIs(t, s.engine.SweepInactivity(ctx), moderation.ErrNotificationDelivery)
	s.client.SetPostError(nil)

	// Past CloseAfter, but no reminder was delivered yet.
	s.clock.Advance(60 * time.Minute)
	require.NoError(t, s.engine.SweepInactivity(ctx))
	posts := s.client.PostsTo("ticket-chan")
	require.Len(t, posts, 1)
	assert.Equal(t, moderation.TicketReminderText, posts[0].Content)
	assert.Empty(t, s.client.Deleted())

	// The grace runs from the delivered reminder.
	s.clock.Advance(59 * time.Minute)
	require.NoError(t, s.engine.SweepInactivity(ctx))
	assert.Empty(t, s.client.Deleted())

	s.clock.Advance(time.Minute)
	require.NoError(t, s.engine.SweepInactivity(ctx))
	assert.Equal(t, []string{"ticket-chan"}, s.client.Deleted())
}

func TestScenario_PausedTicketIsKept(t *testing.T) {
	t.Parallel()
	s := newScenario(t)
	ctx := t.Context()

	require.NoError(t, s.engine.HandleMessage(ctx, ticketMessage(testStart)))
	require.NoError(t, s.guildRepo.PauseChannel(ctx, &entities.PausedChannel{
		ChannelID: "ticket-chan", GuildID: testGuild, PausedBy: testStaffA,
	}))

	s.clock.Advance(3 * time.Hour)
	require.NoError(t, s.engine.SweepInactivity(ctx))
	assert.Empty(t, s.client.PostsTo("ticket-chan"))
	assert.Empty(t, s.client.Deleted())
}

func TestScenario_FailedDeleteIsRetried(t *testing.T) {
	t.Parallel()
	s := newScenario(t)
	ctx := t.Context()

	require.NoError(t, s.engine.HandleMessage(ctx, ticketMessage(testStart)))
	s.clock.Advance(65 * time.Minute)
	require.NoError(t, s.engine.SweepInactivity(ctx))

	s.client.SetDeleteError(errors.New("missing access"))
	s.clock.Advance(60 * time.Minute)
	err := s.engine.SweepInactivity(ctx)
	require.ErrorIs(t, err, moderation.ErrNotificationDelivery)
	assert.Equal(t, 1, s.inactivity.Tracked())

	s.client.SetDeleteError(nil)
	s.clock.Advance(5 * time.Minute)
	require.NoError(t, s.engine.SweepInactivity(ctx))
	assert.Equal(t, []string{"ticket-chan"}, s.client.Deleted())
}
