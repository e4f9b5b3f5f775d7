package detectors

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colossusbot/modwatch/internal/logger"
	"github.com/colossusbot/modwatch/internal/moderation"
)

type pausedList struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (p *pausedList) PausedChannelIDs(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ids, p.err
}

var ticketStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newInactivity(t *testing.T, paused PausedLookup) *Inactivity {
	t.Helper()
	d, err := NewInactivity(InactivityConfig{
		ChannelPattern: regexp.MustCompile(`^ticket-`),
		WarnAfter:      time.Hour,
		CloseAfter:     2 * time.Hour,
	}, paused, logger.NewNop())
	require.NoError(t, err)
	return d
}

func kinds(vs []moderation.Violation) []moderation.Kind {
	out := make([]moderation.Kind, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Kind)
	}
	return out
}

// sweep runs one sweep and confirms every reminder as delivered.
func sweep(t *testing.T, d *Inactivity, now time.Time) []moderation.Violation {
	t.Helper()
	got := d.Sweep(t.Context(), now)
	for _, v := range got {
		if v.Kind == moderation.KindInactivityWarn {
			d.MarkReminded(v.ChannelID, now)
		}
	}
	return got
}

func TestNewInactivity_Validation(t *testing.T) {
	t.Parallel()

	pattern := regexp.MustCompile(`^ticket-`)
	_, err := NewInactivity(InactivityConfig{WarnAfter: time.Hour, CloseAfter: 2 * time.Hour}, nil, logger.NewNop())
	require.Error(t, err)
	_, err = NewInactivity(InactivityConfig{ChannelPattern: pattern, WarnAfter: time.Hour, CloseAfter: time.Hour}, nil, logger.NewNop())
	require.Error(t, err)
	_, err = NewInactivity(InactivityConfig{ChannelPattern: pattern, CloseAfter: time.Hour}, nil, logger.NewNop())
	require.Error(t, err)
}

func TestInactivity_TracksOnlyTicketChannels(t *testing.T) {
	t.Parallel()

	d := newInactivity(t, nil)
	got, err := d.Evaluate(t.Context(), &moderation.MessageEvent{
		GuildID: "g1", ChannelID: "t1", ChannelName: "ticket-0001", Timestamp: ticketStart,
	})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = d.Evaluate(t.Context(), &moderation.MessageEvent{
		GuildID: "g1", ChannelID: "c1", ChannelName: "general", Timestamp: ticketStart,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Tracked())
	assert.False(t, d.Track("g1", "c2", "random", ticketStart))
}

func TestInactivity_ReminderOnlyAfter65Minutes(t *testing.T) {
	t.Parallel()

	d := newInactivity(t, nil)
	require.True(t, d.Track("g1", "t1", "ticket-0001", ticketStart))

	assert.Empty(t, d.Sweep(t.Context(), ticketStart.Add(59*time.Minute)))

	got := sweep(t, d, ticketStart.Add(65*time.Minute))
	require.Len(t, got, 1)
	assert.Equal(t, moderation.KindInactivityWarn, got[0].Kind)
	assert.Equal(t, "g1", got[0].GuildID)
	assert.Equal(t, "t1", got[0].ChannelID)
	assert.Equal(t, "no activity for 1h5m0s", got[0].Evidence)

	// Once per silent streak.
	assert.Empty(t, sweep(t, d, ticketStart.Add(70*time.Minute)))
}

func TestInactivity_ClosesAfterReminderGrace(t *testing.T) {
	t.Parallel()

	d := newInactivity(t, nil)
	d.Track("g1", "t1", "ticket-0001", ticketStart)

	assert.Equal(t, []moderation.Kind{moderation.KindInactivityWarn},
		kinds(sweep(t, d, ticketStart.Add(65*time.Minute))))
	// Gap past CloseAfter but the reminder has not been out for an hour yet.
	assert.Empty(t, sweep(t, d, ticketStart.Add(121*time.Minute)))

	assert.Equal(t, []moderation.Kind{moderation.KindInactivityClose},
		kinds(sweep(t, d, ticketStart.Add(125*time.Minute))))
	// Repeats until forgotten.
	assert.Equal(t, []moderation.Kind{moderation.KindInactivityClose},
		kinds(sweep(t, d, ticketStart.Add(130*time.Minute))))

	d.Forget("t1")
	assert.Empty(t, sweep(t, d, ticketStart.Add(140*time.Minute)))
	assert.Zero(t, d.Tracked())
}

func TestInactivity_SeededChannelWarnsBeforeClosing(t *testing.T) {
	t.Parallel()

	d := newInactivity(t, nil)
	// Seeded from history: already silent for three hours.
	d.Track("g1", "t1", "ticket-0001", ticketStart.Add(-3*time.Hour))

	assert.Equal(t, []moderation.Kind{moderation.KindInactivityWarn},
		kinds(sweep(t, d, ticketStart)))
	assert.Empty(t, sweep(t, d, ticketStart.Add(30*time.Minute)))
	assert.Equal(t, []moderation.Kind{moderation.KindInactivityClose},
		kinds(sweep(t, d, ticketStart.Add(time.Hour))))
}

func TestInactivity_ActivityResetsStreak(t *testing.T) {
	t.Parallel()

	d := newInactivity(t, nil)
	d.Track("g1", "t1", "ticket-0001", ticketStart)
	require.Len(t, sweep(t, d, ticketStart.Add(65*time.Minute)), 1)

	d.Track("g1", "t1", "ticket-0001", ticketStart.Add(90*time.Minute))
	// Older activity never moves the clock back.
	d.Track("g1", "t1", "ticket-0001", ticketStart)

	assert.Empty(t, sweep(t, d, ticketStart.Add(125*time.Minute)))
	assert.Equal(t, []moderation.Kind{moderation.KindInactivityWarn},
		kinds(sweep(t, d, ticketStart.Add(151*time.Minute))))
}

func TestInactivity_PausedChannelsSkipped(t *testing.T) {
	t.Parallel()

	paused := &pausedList{ids: []string{"t1"}}
	d := newInactivity(t, paused)
	d.Track("g1", "t1", "ticket-0001", ticketStart)
	d.Track("g1", "t2", "ticket-0002", ticketStart)

	got := d.Sweep(t.Context(), ticketStart.Add(65*time.Minute))
	require.Len(t, got, 1)
	assert.Equal(t, "t2", got[0].ChannelID)
}

func TestInactivity_PausedLookupFailureSkipsSweep(t *testing.T) {
	t.Parallel()

	paused := &pausedList{err: errors.New("db down")}
	d := newInactivity(t, paused)
	d.Track("g1", "t1", "ticket-0001", ticketStart)

	assert.Empty(t, d.Sweep(t.Context(), ticketStart.Add(3*time.Hour)))

	paused.mu.Lock()
	paused.err = nil
	paused.mu.Unlock()
	assert.Len(t, d.Sweep(t.Context(), ticketStart.Add(3*time.Hour)), 1)
}

func TestInactivity_UndeliveredReminderIsReportedAgain(t *testing.T) {
	t.Parallel()

	d := newInactivity(t, nil)
	d.Track("g1", "t1", "ticket-0001", ticketStart)

	// The reminder post failed, so nothing is confirmed.
	assert.Equal(t, []moderation.Kind{moderation.KindInactivityWarn},
		kinds(d.Sweep(t.Context(), ticketStart.Add(65*time.Minute))))
	// Past CloseAfter the channel still gets its reminder before any close.
	assert.Equal(t, []moderation.Kind{moderation.KindInactivityWarn},
		kinds(d.Sweep(t.Context(), ticketStart.Add(125*time.Minute))))

	d.MarkReminded("t1", ticketStart.Add(125*time.Minute))
	assert.Empty(t, d.Sweep(t.Context(), ticketStart.Add(150*time.Minute)))
	assert.Equal(t, []moderation.Kind{moderation.KindInactivityClose},
		kinds(d.Sweep(t.Context(), ticketStart.Add(185*time.Minute))))
}

func TestInactivity_MarkRemindedIgnoresNewerActivity(t *testing.T) {
	t.Parallel()

	d := newInactivity(t, nil)
	d.Track("g1", "t1", "ticket-0001", ticketStart)
	require.Len(t, d.Sweep(t.Context(), ticketStart.Add(65*time.Minute)), 1)

	// A message arrived between the sweep and the confirmation.
	d.Track("g1", "t1", "ticket-0001", ticketStart.Add(66*time.Minute))
	d.MarkReminded("t1", ticketStart.Add(65*time.Minute))

	assert.Equal(t, []moderation.Kind{moderation.KindInactivityWarn},
		kinds(d.Sweep(t.Context(), ticketStart.Add(135*time.Minute))))
}
