package provisioner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop(t *testing.T) {
	t.Run("CallRunsInOrder", func(t *testing.T) {
		l := NewLoop(4)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go l.Run(ctx)

		var order []int
		for i := 0; i < 3; i++ {
			require.True(t, l.Post(func() { order = append(order, i) }))
		}
		require.NoError(t, l.Call(ctx, func() { order = append(order, 99) }))
		assert.Equal(t, []int{0, 1, 2, 99}, order)
	})

	t.Run("Schedule", func(t *testing.T) {
		l := NewLoop(4)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go l.Run(ctx)

		fired := make(chan struct{})
		l.Schedule(5*time.Millisecond, func() { close(fired) })
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("scheduled function did not run")
		}
	})

	t.Run("StoppedTimerDoesNotFire", func(t *testing.T) {
		l := NewLoop(4)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go l.Run(ctx)

		ran := false
		var stop func()
		require.NoError(t, l.Call(ctx, func() {
			tm := l.Schedule(5*time.Millisecond, func() { ran = true })
			stop = tm.Stop
		}))
		require.NoError(t, l.Call(ctx, stop))

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, l.Call(ctx, func() {}))
		assert.False(t, ran)
	})

	t.Run("PostAfterStop", func(t *testing.T) {
		l := NewLoop(1)
		ctx, cancel := context.WithCancel(context.Background())
		go l.Run(ctx)
		cancel()
		<-l.Done()

		assert.False(t, l.Post(func() {}))
		assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrLoopStopped)
	})

	t.Run("CallHonoursContext", func(t *testing.T) {
		l := NewLoop(1)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		// Not running: the task is buffered but never executed.
		assert.ErrorIs(t, l.Call(ctx, func() {}), context.Canceled)
	})
}
