package scheduler_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternhq/lantern/internal/scheduler"
)

func TestJobRunsOnSchedule(t *testing.T) {
	s := scheduler.New(zerolog.Nop())

	// cron rounds sub-second @every intervals up to one second
	var runs atomic.Int64
	require.NoError(t, s.AddJob("@every 1s", scheduler.Func{
		JobName: "counter",
		Fn: func() error {
			runs.Add(1)
			return nil
		},
	}))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 5*time.Second, 50*time.Millisecond)
}

func TestFailingJobDoesNotStopOthers(t *testing.T) {
	s := scheduler.New(zerolog.Nop())

	var ok atomic.Int64
	require.NoError(t, s.AddJob("@every 1s", scheduler.Func{
		JobName: "broken",
		Fn:      func() error { return errors.New("boom") },
	}))
	require.NoError(t, s.AddJob("@every 1s", scheduler.Func{
		JobName: "healthy",
		Fn: func() error {
			ok.Add(1)
			return nil
		},
	}))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return ok.Load() >= 2
	}, 5*time.Second, 50*time.Millisecond)
}

func TestStopWaitsForInflightJob(t *testing.T) {
	s := scheduler.New(zerolog.Nop())

	started := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, s.AddJob("@every 1s", scheduler.Func{
		JobName: "slow",
		Fn: func() error {
			select {
			case started <- struct{}{}:
			default:
			}
			time.Sleep(200 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	}))

	s.Start()
	<-started
	s.Stop()

	assert.True(t, finished.Load(), "Stop must drain the running job")
}

func TestKickoffRunsImmediately(t *testing.T) {
	s := scheduler.New(zerolog.Nop())

	done := make(chan struct{})
	s.Kickoff(scheduler.Func{
		JobName: "startup",
		Fn: func() error {
			close(done)
			return nil
		},
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("kickoff did not run")
	}
}

func TestBadScheduleRejected(t *testing.T) {
	s := scheduler.New(zerolog.Nop())
	err := s.AddJob("not a schedule", scheduler.Func{JobName: "x", Fn: func() error { return nil }})
	assert.Error(t, err)
}
