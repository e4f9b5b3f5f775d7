package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colossusbot/modwatch/internal/conf"
	"github.com/colossusbot/modwatch/internal/datastore"
	"github.com/colossusbot/modwatch/internal/logger"
	"github.com/colossusbot/modwatch/internal/moderation"
	"github.com/colossusbot/modwatch/internal/scheduler"
)

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := RootCommand("1.2.3")
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	root.SetContext(t.Context())
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "modwatch 1.2.3\n", out)
}

func TestMigrateCommand_CreatesSchema(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "modwatch.db")
	cfg := writeConfig(t, `
log:
  level: debug
  format: text
database:
  driver: sqlite
  sqlite:
    path: `+dbPath+`
`)

	_, stderr, err := execute(t, "--config", cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, stderr, "schema migrated")

	db, err := datastore.Open(&conf.DatabaseSettings{Driver: "sqlite", SQLite: conf.SQLiteSettings{Path: dbPath}}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = datastore.Close(db) })
	assert.True(t, db.Migrator().HasTable("alerts"))
	assert.True(t, db.Migrator().HasTable("paused_channels"))
}

func TestMigrateCommand_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, `
database:
  driver: postgres
`)
	_, _, err := execute(t, "--config", cfg, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := newLogger(&conf.LogSettings{Level: "info", Format: "json", Timezone: "UTC"}, &buf)
	require.NoError(t, err)
	log.Debug("hidden")
	log.Info("shown", logger.String("k", "v"))
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"k":"v"`)

	_, err = newLogger(&conf.LogSettings{Level: "info", Timezone: "Mars/Olympus"}, &buf)
	require.Error(t, err)

	_, err = newLogger(&conf.LogSettings{Level: "loud"}, &buf)
	require.Error(t, err)
}

func TestBuildDetectors_Defaults(t *testing.T) {
	t.Parallel()

	settings := conf.Defaults()
	dets, inactivity, err := buildDetectors(&settings.Detectors, nil, nil, nil, "", logger.NewNop())
	require.NoError(t, err)
	require.NotNil(t, inactivity)

	names := make([]string, 0, len(dets))
	for _, d := range dets {
		names = append(names, d.Name())
	}
	assert.Equal(t, []string{"flagged-words", "nsfw", "repeated-message", "inactivity"}, names)
}

func TestBuildDetectors_Disabled(t *testing.T) {
	t.Parallel()

	settings := conf.Defaults()
	settings.Detectors.NSFW.Enabled = false
	settings.Detectors.Inactivity.Enabled = false

	dets, inactivity, err := buildDetectors(&settings.Detectors, nil, nil, nil, "", logger.NewNop())
	require.NoError(t, err)
	assert.Nil(t, inactivity)
	assert.Len(t, dets, 2)
}

func TestBuildDetectors_RedisBackendNeedsClient(t *testing.T) {
	t.Parallel()

	settings := conf.Defaults()
	settings.Detectors.Repeated.Backend = conf.RepeatBackendRedis

	_, _, err := buildDetectors(&settings.Detectors, nil, nil, nil, "", logger.NewNop())
	require.Error(t, err)
}

func TestBuildDetectors_BadPattern(t *testing.T) {
	t.Parallel()

	settings := conf.Defaults()
	settings.Detectors.FlaggedWords.Patterns = []string{"(unclosed"}

	_, _, err := buildDetectors(&settings.Detectors, nil, nil, nil, "", logger.NewNop())
	require.Error(t, err)
}

func TestEngineConfig(t *testing.T) {
	t.Parallel()

	settings := conf.Defaults()
	settings.Discord.NotifyRate = 2
	settings.Discord.NotifyBurst = 0

	cfg := engineConfig(settings)
	assert.Equal(t, 24*time.Hour, cfg.TTL)
	assert.Equal(t, conf.ConfirmModeTwoStep, cfg.ConfirmMode)
	require.NotNil(t, cfg.NotifyLimiter)
	assert.Equal(t, 1, cfg.NotifyLimiter.Burst())

	settings.Discord.NotifyRate = 0
	assert.Nil(t, engineConfig(settings).NotifyLimiter)
}

func TestNewScheduler_Jobs(t *testing.T) {
	t.Parallel()

	settings := conf.Defaults()
	engine := moderation.NewEngine(engineConfig(settings), moderation.Dependencies{})

	sched, err := newScheduler(settings, engine, true, nil, logger.NewNop())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		scheduler.JobAlertExpiry,
		scheduler.JobNotificationRetry,
		scheduler.JobInactivitySweep,
	}, sched.Jobs())

	sched, err = newScheduler(settings, engine, false, nil, logger.NewNop())
	require.NoError(t, err)
	assert.NotContains(t, sched.Jobs(), scheduler.JobInactivitySweep)
}

type slowConn struct {
	release chan struct{}
	openErr error
	closed  atomic.Int32
}

func (c *slowConn) Open() error {
	<-c.release
	return c.openErr
}

func (c *slowConn) Close() error {
	c.closed.Add(1)
	return nil
}

func TestOpenSession(t *testing.T) {
	t.Parallel()

	conn := &slowConn{release: make(chan struct{})}
	close(conn.release)
	require.NoError(t, openSession(t.Context(), conn, time.Second))
	assert.Zero(t, conn.closed.Load())

	failing := &slowConn{release: make(chan struct{}), openErr: errors.New("4004 authentication failed")}
	close(failing.release)
	err := openSession(t.Context(), failing, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed")
}

func TestOpenSession_LateConnectIsClosed(t *testing.T) {
	t.Parallel()

	conn := &slowConn{release: make(chan struct{})}
	err := openSession(t.Context(), conn, 10*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, conn.closed.Load())

	close(conn.release)
	assert.Eventually(t, func() bool { return conn.closed.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestOpenSession_LateFailureIsNotClosed(t *testing.T) {
	t.Parallel()

	conn := &slowConn{release: make(chan struct{}), openErr: errors.New("dial failed")}
	require.Error(t, openSession(t.Context(), conn, 10*time.Millisecond))

	close(conn.release)
	assert.Never(t, func() bool { return conn.closed.Load() != 0 }, 50*time.Millisecond, 5*time.Millisecond)
}
