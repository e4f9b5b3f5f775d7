package telemetry

import (
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colossusbot/modwatch/internal/conf"
	"github.com/colossusbot/modwatch/internal/errors"
	"github.com/colossusbot/modwatch/internal/logger"
)

type captureRecorder struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (c *captureRecorder) CaptureEvent(event *sentry.Event) *sentry.EventID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	id := sentry.EventID("test")
	return &id
}

func TestReporter_FiltersByCategory(t *testing.T) {
	t.Parallel()

	rec := &captureRecorder{}
	report := NewReporter(rec)

	report(errors.Newf("store down").Component("repository").Category(errors.CategoryDatabase).
		Context("alert_id", "a-1").Build())
	report(errors.Newf("bad input").Category(errors.CategoryValidation).Build())
	report(errors.Newf("race").Category(errors.CategoryConflict).Build())

	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	assert.Equal(t, "store down", ev.Message)
	assert.Equal(t, "repository", ev.Tags["component"])
	assert.Equal(t, "database", ev.Tags["category"])
	assert.Equal(t, "a-1", ev.Contexts["error"]["alert_id"])
}

func TestInit_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	flush, err := Init(&conf.SentrySettings{Enabled: false}, "dev", logger.NewNop())
	require.NoError(t, err)
	require.NotNil(t, flush)
	flush()
}
