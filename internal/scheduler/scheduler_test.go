package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.AddJob("not a schedule", JobFunc{JobName: "noop", Fn: func(context.Context) error { return nil }})
	assert.Error(t, err)
}

func TestJobRunsOnSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	var runs atomic.Int32
	require.NoError(t, s.AddJob("@every 10ms", JobFunc{
		JobName: "counter",
		Fn: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStopCancelsJobContext(t *testing.T) {
	s := New(zerolog.Nop())
	started := make(chan struct{})
	done := make(chan struct{})
	var once, startOnce sync.Once
	require.NoError(t, s.AddJob("@every 10ms", JobFunc{
		JobName: "blocker",
		Fn: func(ctx context.Context) error {
			startOnce.Do(func() { close(started) })
			<-ctx.Done()
			once.Do(func() { close(done) })
			return ctx.Err()
		},
	}))

	s.Start()
	<-started
	s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not cancelled on Stop")
	}
}
