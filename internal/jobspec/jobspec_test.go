package jobspec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestartPolicyCommandNeverRestarts(t *testing.T) {
	d := RestartPolicy(KindCommand, 0, 0, time.Minute)
	assert.False(t, d.Restart)

	d = RestartPolicy(KindCommand, 1, 3, time.Minute)
	assert.False(t, d.Restart)
}

func TestRestartPolicyScheduledNeverRestartsFromSupervisor(t *testing.T) {
	for _, k := range []Kind{KindCron, KindInterval} {
		d := RestartPolicy(k, 1, 0, 0)
		assert.False(t, d.Restart, "kind %s", k)
	}
}

func TestRestartPolicyServiceSuccessRestartsImmediately(t *testing.T) {
	d := RestartPolicy(KindService, 0, 5, time.Second)
	require.True(t, d.Restart)
	assert.False(t, d.Backoff)
	assert.Zero(t, d.Delay)
}

func TestRestartPolicyServiceFailureBacksOffWithinJitterBounds(t *testing.T) {
	for n := 0; n < 12; n++ {
		d := RestartPolicy(KindService, 1, n, 0)
		require.True(t, d.Restart)
		require.True(t, d.Backoff)

		want := BackoffBase * time.Duration(1<<uint(n))
		if want > BackoffCap {
			want = BackoffCap
		}
		lo := time.Duration(float64(want) * 0.8)
		hi := time.Duration(float64(want) * 1.2)
		assert.GreaterOrEqualf(t, d.Delay, lo, "n=%d delay=%v want>=%v", n, d.Delay, lo)
		assert.LessOrEqualf(t, d.Delay, hi, "n=%d delay=%v want<=%v", n, d.Delay, hi)
	}
}

func TestRestartPolicyServiceSettleWindowResetsSequence(t *testing.T) {
	// A failure after >=30s uptime should compute backoff as if
	// restart_count were 0, regardless of the accumulated count.
	d := RestartPolicy(KindService, 1, 9, SettleWindow)
	lo := time.Duration(float64(BackoffBase) * 0.8)
	hi := time.Duration(float64(BackoffBase) * 1.2)
	assert.GreaterOrEqual(t, d.Delay, lo)
	assert.LessOrEqual(t, d.Delay, hi)
}

func TestStateTerminalAndActive(t *testing.T) {
	assert.True(t, StateExitedOK.Terminal())
	assert.True(t, StateStopped.Terminal())
	assert.False(t, StateRunning.Terminal())

	assert.True(t, StateBackoff.Active())
	assert.True(t, StatePending.Active())
	assert.True(t, StateRunning.Active())
	assert.False(t, StateExitedFail.Active())
}

func TestRecordSnapshot(t *testing.T) {
	r := &Record{
		JobID:       7,
		Kind:        KindService,
		CommandLine: []string{"sleep", "100"},
		State:       StateRunning,
		PID:         1234,
	}
	snap := r.Snapshot()
	assert.Equal(t, int64(7), snap.JobID)
	assert.Equal(t, "service", snap.Kind)
	assert.Equal(t, "running", snap.State)
	assert.Equal(t, 1234, snap.PID)
}
