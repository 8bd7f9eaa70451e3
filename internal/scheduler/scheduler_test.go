package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddCronRejectsBadExpression(t *testing.T) {
	s := New()
	_, err := s.AddCron([]string{"echo", "x"}, "", "not a cron expr")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ScheduleParseError")
	assert.Empty(t, s.List())
}

func TestAddIntervalRejectsNonPositiveDuration(t *testing.T) {
	s := New()
	_, err := s.AddInterval([]string{"echo"}, "", 0)
	require.Error(t, err)
}

func TestEverySecondCronFiresOncePerSecond(t *testing.T) {
	s := New()
	e, err := s.AddCron([]string{"echo", "tick"}, "", "* * * * * *")
	require.NoError(t, err)

	start := e.NextFireAt()
	s.tick(start)
	s.tick(start.Add(1 * time.Second))
	s.tick(start.Add(2 * time.Second))

	count := 0
loop:
	for {
		select {
		case <-s.fires:
			count++
		default:
			break loop
		}
	}
	assert.Equal(t, 3, count)
}

func TestMissedTickDoesNotCatchUp(t *testing.T) {
	s := New()
	e, err := s.AddInterval([]string{"echo"}, "", 2*time.Second)
	require.NoError(t, err)

	first := e.NextFireAt()
	// Simulate a 10-second clock jump: many intervals were missed.
	s.tick(first.Add(10 * time.Second))

	count := 0
loop:
	for {
		select {
		case <-s.fires:
			count++
		default:
			break loop
		}
	}
	assert.Equal(t, 1, count, "a missed fire should fire exactly once, not catch up")

	entries := s.List()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].NextFireAt().After(first.Add(10*time.Second)))
}

func TestSimultaneousFiresTieBreakByAscendingEntryID(t *testing.T) {
	s := New()
	e1, _ := s.AddInterval([]string{"a"}, "", time.Second)
	e2, _ := s.AddInterval([]string{"b"}, "", time.Second)
	require.Less(t, e1.EntryID, e2.EntryID)

	now := e1.NextFireAt().Add(time.Hour) // force both due
	s.tick(now)

	first := <-s.fires
	second := <-s.fires
	assert.Equal(t, e1.EntryID, first.EntryID)
	assert.Equal(t, e2.EntryID, second.EntryID)
}

func TestRemoveEntryStopsFutureFires(t *testing.T) {
	s := New()
	e, _ := s.AddInterval([]string{"a"}, "", time.Second)
	s.Remove(e.EntryID)
	assert.Empty(t, s.List())

	s.tick(e.NextFireAt().Add(time.Hour))
	assert.Len(t, s.fires, 0, "a removed entry must not fire")
}
