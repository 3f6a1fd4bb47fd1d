package scheduling

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noemagraph/retrieval-core/internal/logging"
)

func TestScheduler_RunsTaskRepeatedly(t *testing.T) {
	t.Parallel()
	var runs int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logging.New(logging.Options{Level: "error"})
	sched := New(log, ScheduledTask{
		Name:     "counter",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})
	sched.Start(ctx)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 3
	}, 500*time.Millisecond, 5*time.Millisecond)
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	t.Parallel()
	var runs int32
	ctx, cancel := context.WithCancel(context.Background())

	log := logging.New(logging.Options{Level: "error"})
	sched := New(log, ScheduledTask{
		Name:     "counter",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})
	sched.Start(ctx)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 1
	}, 200*time.Millisecond, 5*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	stoppedAt := atomic.LoadInt32(&runs)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stoppedAt, atomic.LoadInt32(&runs))
}

func TestScheduler_ErrorsDoNotStopFutureTicks(t *testing.T) {
	t.Parallel()
	var runs int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logging.New(logging.Options{Level: "error"})
	sched := New(log, ScheduledTask{
		Name:     "always_fails",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return assert.AnError
		},
	})
	sched.Start(ctx)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 3
	}, 500*time.Millisecond, 5*time.Millisecond)
}
