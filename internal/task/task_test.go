package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-astm/logger"
)

func newTestManager(t *testing.T) (*Manager, *logger.MockLogger) {
	t.Helper()

	l := logger.NewMockLogger().AllowAll()
	mgr := NewManager(context.Background(), l)
	t.Cleanup(func() {
		mgr.Stop()
		mgr.WaitTimeout(time.Second)
	})

	return mgr, l
}

func TestManager_StartLoop(t *testing.T) {
	mgr, _ := newTestManager(t)

	var n atomic.Int32
	require.NoError(t, mgr.Start("loop", func() bool {
		return n.Add(1) < 5
	}))

	require.True(t, mgr.WaitTimeout(time.Second))
	assert.Equal(t, int32(5), n.Load())
	assert.Equal(t, 0, mgr.TaskCount())
}

func TestManager_GoReceivesCancel(t *testing.T) {
	mgr, _ := newTestManager(t)

	started := make(chan struct{})
	require.NoError(t, mgr.Go("worker", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}))

	<-started
	assert.Equal(t, 1, mgr.TaskCount())

	mgr.Stop()
	require.True(t, mgr.WaitTimeout(time.Second))
	assert.Equal(t, 0, mgr.TaskCount())
}

func TestManager_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mgr := NewManager(ctx, logger.NewMockLogger().AllowAll())

	require.NoError(t, mgr.Go("worker", func(ctx context.Context) { <-ctx.Done() }))

	cancel()
	require.True(t, mgr.WaitTimeout(time.Second))

	assert.ErrorIs(t, mgr.Go("late", func(context.Context) {}), ErrStopped)
}

func TestManager_StartAfterStop(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.Stop()

	assert.ErrorIs(t, mgr.Start("loop", func() bool { return false }), ErrStopped)
	assert.ErrorIs(t, mgr.Go("once", func(context.Context) {}), ErrStopped)
	assert.ErrorIs(t, mgr.StartInterval("tick", func() bool { return false }, time.Millisecond), ErrStopped)
}

func TestManager_PanicRecovered(t *testing.T) {
	mgr, l := newTestManager(t)

	require.NoError(t, mgr.Go("boom", func(context.Context) { panic("boom") }))
	require.NoError(t, mgr.Start("boom-loop", func() bool { panic("loop") }))

	require.True(t, mgr.WaitTimeout(time.Second))
	l.AssertCalled(t, "Error", "panic in task", mock.Anything)
}

func TestManager_StartInterval(t *testing.T) {
	mgr, _ := newTestManager(t)

	var n atomic.Int32
	require.NoError(t, mgr.StartInterval("tick", func() bool {
		return n.Add(1) < 3
	}, 5*time.Millisecond))

	assert.Error(t, mgr.StartInterval("tick", func() bool { return true }, time.Millisecond))
	assert.Error(t, mgr.StartInterval("bad", func() bool { return true }, 0))

	require.Eventually(t, func() bool { return n.Load() == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return mgr.TaskCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestManager_StopInterval(t *testing.T) {
	mgr, _ := newTestManager(t)

	require.NoError(t, mgr.StartInterval("tick", func() bool { return true }, time.Hour))
	require.NoError(t, mgr.StopInterval("tick"))
	assert.Error(t, mgr.StopInterval("tick"))
}

func TestManager_WaitTimeoutExpires(t *testing.T) {
	mgr, _ := newTestManager(t)

	release := make(chan struct{})
	require.NoError(t, mgr.Go("stuck", func(context.Context) { <-release }))

	assert.False(t, mgr.WaitTimeout(20*time.Millisecond))
	close(release)
	assert.True(t, mgr.WaitTimeout(time.Second))
}
