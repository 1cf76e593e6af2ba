package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_RunsJobsUntilStopped(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler()
	s.AddJob("counter", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())

	// a second Stop is a no-op
	s.Stop()
}

func TestScheduler_RunOnceContinuesAfterFailure(t *testing.T) {
	var order []string
	s := NewScheduler()
	s.AddJob("first", time.Hour, func(ctx context.Context) error {
		order = append(order, "first")
		return errors.New("boom")
	})
	s.AddJob("second", time.Hour, func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	})

	s.RunOnce(context.Background())
	assert.Equal(t, []string{"first", "second"}, order)
}
