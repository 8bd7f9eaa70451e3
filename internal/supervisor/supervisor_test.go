package supervisor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianlt/shelld/internal/logbuf"
	"github.com/ianlt/shelld/internal/recipe"
	"github.com/ianlt/shelld/internal/registry"
	"github.com/ianlt/shelld/internal/sampler"
	"github.com/ianlt/shelld/internal/scheduler"
	"github.com/ianlt/shelld/internal/wire"
)

func newTestSupervisor(t *testing.T) (*Supervisor, func()) {
	t.Helper()
	sched := scheduler.New()
	sup := New(Config{
		Registry:  registry.New(),
		Logs:      logbuf.NewBuffer(),
		Scheduler: sched,
		Recipes:   recipe.Empty{},
		Sampler:   sampler.GopsutilSampler{},
		Logger:    zerolog.Nop(),
	})
	go sched.Run()
	go sup.Run()
	return sup, func() {
		sup.Stop()
		sched.Stop()
	}
}

func waitForState(t *testing.T, sup *Supervisor, jobID int64, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		res := sup.Submit(Request{Kind: wire.TypeJobs})
		for _, j := range res.JobList.Jobs {
			if j.JobID == jobID && j.State == want {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("job %d did not reach state %q within %v", jobID, want, timeout)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestRunEchoProducesSingleLogLineAndExitsOK(t *testing.T) {
	sup, cleanup := newTestSupervisor(t)
	defer cleanup()

	res := sup.Submit(Request{Kind: wire.TypeRun, Run: &wire.RunRequest{CommandLine: []string{"echo", "hello"}}})
	require.Nil(t, res.Err)
	jobID := res.Ack.JobID

	waitForState(t, sup, jobID, "exited-ok", 3*time.Second)

	entries := sup.Logs().Snapshot(jobID, "out", 0)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Line)
}

func TestRunWithMixedStreamsAndNonZeroExit(t *testing.T) {
	sup, cleanup := newTestSupervisor(t)
	defer cleanup()

	res := sup.Submit(Request{Kind: wire.TypeRun, Run: &wire.RunRequest{
		CommandLine: []string{"sh", "-c", "echo A; echo B >&2; exit 3"},
	}})
	require.Nil(t, res.Err)
	jobID := res.Ack.JobID

	waitForState(t, sup, jobID, "exited-fail", 3*time.Second)

	out := sup.Logs().Snapshot(jobID, "out", 0)
	errs := sup.Logs().Snapshot(jobID, "err", 0)
	require.Len(t, out, 1)
	require.Len(t, errs, 1)
	assert.Equal(t, "A", out[0].Line)
	assert.Equal(t, "B", errs[0].Line)

	jobs := sup.Submit(Request{Kind: wire.TypeJobs}).JobList.Jobs
	var found bool
	for _, j := range jobs {
		if j.JobID == jobID {
			found = true
			assert.Equal(t, 3, j.ExitStatus)
		}
	}
	assert.True(t, found)
}

func TestConcurrentStartOfSameServiceYieldsAlreadyRunning(t *testing.T) {
	sup, cleanup := newTestSupervisor(t)
	defer cleanup()

	req := &wire.StartRequest{Name: "", CommandLine: []string{"sleep", "5"}}
	first := sup.Submit(Request{Kind: wire.TypeStart, Start: req})
	require.Nil(t, first.Err)
	jobID := first.Ack.JobID

	waitForState(t, sup, jobID, "running", time.Second)

	second := sup.Submit(Request{Kind: wire.TypeStart, Start: req})
	require.NotNil(t, second.Err)
	assert.Equal(t, wire.ErrAlreadyRunning, second.Err.Kind)
	assert.Equal(t, jobID, second.Ack.JobID)

	sup.Submit(Request{Kind: wire.TypeStop, Stop: &wire.StopRequest{JobID: jobID}})
}

func TestServiceBacksOffAfterFailureAndStopEndsBackoff(t *testing.T) {
	sup, cleanup := newTestSupervisor(t)
	defer cleanup()

	res := sup.Submit(Request{Kind: wire.TypeStart, Start: &wire.StartRequest{CommandLine: []string{"sh", "-c", "exit 1"}}})
	require.Nil(t, res.Err)
	jobID := res.Ack.JobID

	waitForState(t, sup, jobID, "backoff", 3*time.Second)

	jobs := sup.Submit(Request{Kind: wire.TypeJobs}).JobList.Jobs
	var nextRetry int64
	for _, j := range jobs {
		if j.JobID == jobID {
			nextRetry = j.NextRetryAtUnixMilli
		}
	}
	require.NotZero(t, nextRetry)

	sup.Submit(Request{Kind: wire.TypeStop, Stop: &wire.StopRequest{JobID: jobID}})
	waitForState(t, sup, jobID, "stopped", time.Second)
}

func TestUpStartsEveryRecipeInGroupAndDownStopsThem(t *testing.T) {
	sup, cleanup := newTestSupervisor(t)
	defer cleanup()

	sup.recipes = fakeEnumerator{
		byGroup: map[string][]recipe.Recipe{
			"autostart": {
				{Name: "proc1", Group: "autostart", CommandLine: []string{"sleep", "5"}},
				{Name: "proc2", Group: "autostart", CommandLine: []string{"sleep", "6"}},
			},
		},
	}

	res := sup.Submit(Request{Kind: wire.TypeUp, Up: &wire.UpRequest{Group: "autostart"}})
	require.Nil(t, res.Err)

	deadline := time.After(2 * time.Second)
	for {
		jobs := sup.Submit(Request{Kind: wire.TypeJobs}).JobList.Jobs
		running := 0
		for _, j := range jobs {
			if j.Group == "autostart" && j.State == "running" {
				running++
			}
		}
		if running == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("both autostart jobs did not reach running")
		case <-time.After(20 * time.Millisecond):
		}
	}

	sup.Submit(Request{Kind: wire.TypeDown, Down: &wire.DownRequest{Group: "autostart"}})

	deadline = time.After(12 * time.Second)
	for {
		jobs := sup.Submit(Request{Kind: wire.TypeJobs}).JobList.Jobs
		stopped := 0
		for _, j := range jobs {
			if j.Group == "autostart" && j.State == "stopped" {
				stopped++
			}
		}
		if stopped == 2 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("both autostart jobs did not reach stopped")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestCronScheduleFiresRepeatedlyAndCreatesNewJobsEachTime(t *testing.T) {
	sup, cleanup := newTestSupervisor(t)
	defer cleanup()

	res := sup.Submit(Request{Kind: wire.TypeSchedule, Schedule: &wire.ScheduleRequest{
		Kind:        "cron",
		Expr:        "* * * * * *",
		CommandLine: []string{"echo", "tick"},
	}})
	require.Nil(t, res.Err)

	time.Sleep(3500 * time.Millisecond)

	jobs := sup.Submit(Request{Kind: wire.TypeJobs}).JobList.Jobs
	tickJobs := 0
	for _, j := range jobs {
		if j.Kind == "cron" {
			tickJobs++
		}
	}
	assert.GreaterOrEqual(t, tickJobs, 3)
}

type fakeEnumerator struct {
	byGroup map[string][]recipe.Recipe
}

func (f fakeEnumerator) ByName(string) (recipe.Recipe, bool)  { return recipe.Recipe{}, false }
func (f fakeEnumerator) ByGroup(group string) []recipe.Recipe { return f.byGroup[group] }
