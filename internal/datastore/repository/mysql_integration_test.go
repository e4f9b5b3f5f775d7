//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/colossusbot/modwatch/internal/datastore"
	"github.com/colossusbot/modwatch/internal/datastore/entities"
	"github.com/colossusbot/modwatch/internal/datastore/repository"
	"github.com/colossusbot/modwatch/internal/errors"
	"github.com/colossusbot/modwatch/internal/logger"
	"github.com/colossusbot/modwatch/internal/testutil/containers"
)

var (
	mysqlContainer *containers.MySQLContainer
	testDB         *gorm.DB
)

func TestMain(m *testing.M) {
	ctx := context.Background() //nolint:gocritic // TestMain has no *testing.T for t.Context()

	var err error
	mysqlContainer, err = containers.NewMySQLContainer(ctx, nil)
	if err != nil {
		panic("failed to create MySQL container: " + err.Error())
	}

	settings := mysqlContainer.Settings()
	testDB, err = datastore.Open(&settings, logger.NewNop())
	if err != nil {
		_ = mysqlContainer.Terminate(ctx)
		panic("failed to open database: " + err.Error())
	}
	// twice: migrations must be idempotent
	for range 2 {
		if err := datastore.Migrate(testDB); err != nil {
			_ = mysqlContainer.Terminate(ctx)
			panic("failed to migrate: " + err.Error())
		}
	}

	code := m.Run()

	_ = datastore.Close(testDB)
	_ = mysqlContainer.Terminate(ctx)
	os.Exit(code)
}

// guildID isolates tests sharing the database.
func guildID() string { return uuid.NewString()[:18] }

func TestMySQL_ConcurrentViolationsFoldIntoOneAlert(t *testing.T) {
	repo := repository.NewAlertRepository(testDB)
	ctx := t.Context()
	guild := guildID()

	const workers = 12
	var created atomic.Int32
	var wg sync.WaitGroup
	for i := range workers {
		wg.Go(func() {
			_, isNew, err := repo.OpenOrAppend(ctx,
				&entities.Alert{GuildID: guild, TargetUserID: "u1", Kind: "repeated-message", ChannelID: "c1"},
				&entities.AlertEvidence{Detail: fmt.Sprintf("copy %d", i), ChannelID: "c1", DetectedAt: time.Now()})
			assert.NoError(t, err)
			if isNew {
				created.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	items, total, err := repo.ListAlerts(ctx, repository.AlertFilter{GuildID: guild, WithEvidence: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, workers, items[0].EvidenceCount)
	for i, ev := range items[0].Evidence {
		assert.Equal(t, i+1, ev.Seq)
	}
}

func TestMySQL_ConcurrentClaimsExactlyOneWins(t *testing.T) {
	repo := repository.NewAlertRepository(testDB)
	ctx := t.Context()

	alert, _, err := repo.OpenOrAppend(ctx,
		&entities.Alert{GuildID: guildID(), TargetUserID: "u1", Kind: "flagged-word", ChannelID: "c1"},
		&entities.AlertEvidence{Detail: "x", ChannelID: "c1", DetectedAt: time.Now()})
	require.NoError(t, err)

	const workers = 8
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := range workers {
		snapshot := *alert
		wg.Go(func() {
			err := repo.Transition(ctx, &snapshot, repository.AlertTransition{
				Claim: &repository.PenaltyClaim{Action: "kick", ClaimedBy: fmt.Sprintf("staff-%d", i), ClaimedAt: time.Now()},
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, repository.ErrVersionConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())
}

func TestMySQL_GuildConfigAndPausedChannels(t *testing.T) {
	repo := repository.NewGuildRepository(testDB)
	ctx := t.Context()
	guild := guildID()

	require.NoError(t, repo.SaveGuildConfig(ctx, &entities.GuildConfig{GuildID: guild, ReviewChannelID: "review", MinWordCount: 3}))
	cfg, err := repo.GetGuildConfig(ctx, guild)
	require.NoError(t, err)
	assert.Equal(t, "review", cfg.ReviewChannelID)
	assert.Equal(t, 3, cfg.MinWordCount)

	_, err = repo.GetGuildConfig(ctx, guildID())
	require.ErrorIs(t, err, repository.ErrGuildConfigNotFound)

	channel := guildID()
	require.NoError(t, repo.PauseChannel(ctx, &entities.PausedChannel{ChannelID: channel, GuildID: guild, PausedBy: "staff"}))
	paused, err := repo.IsChannelPaused(ctx, channel)
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, repo.ResumeChannel(ctx, guild, channel))
	paused, err = repo.IsChannelPaused(ctx, channel)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestMySQL_WarningRecordedOncePerAlert(t *testing.T) {
	repo := repository.NewWarningRepository(testDB)
	ctx := t.Context()
	guild := guildID()
	alertID := uuid.NewString()

	w := func() *entities.Warning {
		return &entities.Warning{GuildID: guild, UserID: "u1", ModeratorID: "staff", Reason: "flagged words", AlertID: &alertID}
	}
	first, err := repo.RecordWarning(ctx, w())
	require.NoError(t, err)
	again, err := repo.RecordWarning(ctx, w())
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, again)
	count, err := repo.CountWarnings(ctx, guild, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
