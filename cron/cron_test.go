package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/dailyyoga/mongoconfigs/routine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRun_PassesSharedData(t *testing.T) {
	c := NewCron(logger.Nop())
	var got atomic.Value

	require.NoError(t, c.AddTasks("reload", "0 0 * * * *",
		TaskFunc("reload-all", func(ctx context.Context) error {
			GetSharedData(ctx).Set("reloaded", []string{"shop", "arena"})
			return nil
		}),
		TaskFunc("publish", func(ctx context.Context) error {
			ids, ok := Value[[]string](ctx, "reloaded")
			if !ok {
				return ErrMissingValue("reloaded")
			}
			got.Store(ids)
			return nil
		}),
	))

	require.NoError(t, c.Run(context.Background(), "reload"))
	assert.Equal(t, []string{"shop", "arena"}, got.Load())
}

func TestRun_AbortsOnFailure(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	c := NewCron(zap.New(core))
	boom := errors.New("boom")
	var second atomic.Bool

	require.NoError(t, c.AddTasks("chain", "@every 1h",
		TaskFunc("first", func(context.Context) error { return boom }),
		TaskFunc("second", func(context.Context) error { second.Store(true); return nil }),
	))

	err := c.Run(context.Background(), "chain")
	assert.ErrorIs(t, err, boom)
	assert.False(t, second.Load())

	aborted := recorded.FilterMessage("chain job aborted due to task failure").All()
	require.Len(t, aborted, 1)
	assert.Equal(t, "chain:first", aborted[0].ContextMap()["task_name"])
}

func TestRun_RecoversPanics(t *testing.T) {
	c := NewCron(logger.Nop())
	require.NoError(t, c.AddTasks("chain", "@every 1h",
		TaskFunc("panics", func(context.Context) error { panic("bad task") }),
	))

	err := c.Run(context.Background(), "chain")
	assert.ErrorIs(t, err, routine.ErrPanicRecovered)
}

func TestRun_CancelledContextStopsChain(t *testing.T) {
	c := NewCron(logger.Nop())
	ran := false
	require.NoError(t, c.AddTasks("chain", "@every 1h",
		TaskFunc("task", func(context.Context) error { ran = true; return nil }),
	))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Run(ctx, "chain"), context.Canceled)
	assert.False(t, ran)
}

func TestAddTasks_Errors(t *testing.T) {
	c := NewCron(logger.Nop())
	assert.ErrorIs(t, c.AddTasks("empty", "@every 1h"), ErrNoTasks)
	assert.Error(t, c.AddTasks("bad", "not a spec", TaskFunc("t", func(context.Context) error { return nil })))
	assert.Error(t, c.Run(context.Background(), "missing"))
}

func TestTimeoutMiddleware(t *testing.T) {
	c := NewCron(logger.Nop(), TimeoutMiddleware(10*time.Millisecond))
	require.NoError(t, c.AddTasks("slow", "@every 1h",
		TaskFunc("wait", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	))
	assert.ErrorIs(t, c.Run(context.Background(), "slow"), context.DeadlineExceeded)
}

func TestSchedule_RunsChain(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the scheduler")
	}
	c := NewCron(logger.Nop())
	runs := make(chan struct{}, 4)
	require.NoError(t, c.AddChain(Chain{
		Name: "tick",
		Spec: "@every 1s",
		Tasks: []Task{TaskFunc("tick", func(context.Context) error {
			runs <- struct{}{}
			return nil
		})},
	}))

	c.Start(context.Background())
	defer c.Close()

	select {
	case <-runs:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled chain did not run")
	}
}

func TestValue_OutsideChain(t *testing.T) {
	_, ok := Value[string](context.Background(), "x")
	assert.False(t, ok)
}
