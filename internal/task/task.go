// Package task runs named goroutines with panic recovery and a shared
// cancellation context.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-astm/logger"
)

// ErrStopped is returned when a task is started after Stop.
var ErrStopped = errors.New("task: manager stopped")

// LoopFunc is called repeatedly until it returns false or the manager stops.
type LoopFunc func() bool

// Func runs once with the manager's context.
type Func func(ctx context.Context)

// Manager manages the lifecycle of goroutines.
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.Start("accept", func() bool { ... return true })
//	_ = mgr.Go("conn", func(ctx context.Context) { ... })
//	mgr.Stop()
//	ok := mgr.WaitTimeout(10 * time.Second)
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logger.Logger
	count   atomic.Int32
	tickers sync.Map   // map[string]*time.Ticker
	mu      sync.Mutex // serializes wg.Add against Wait
	stopped bool
}

// NewManager creates a manager whose tasks are cancelled with ctx.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	if l == nil {
		l = logger.GetLogger()
	}

	mgr := &Manager{logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context passed to tasks.
func (mgr *Manager) Context() context.Context {
	return mgr.ctx
}

// Start runs fn in a loop on a new goroutine until it returns false or the
// manager stops. A panic in fn ends the loop.
func (mgr *Manager) Start(name string, fn LoopFunc) error {
	return mgr.spawn(name, func() {
		for {
			select {
			case <-mgr.ctx.Done():
				return
			default:
			}

			if !mgr.callWithRecoverBool(name, fn) {
				return
			}
		}
	})
}

// Go runs fn once on a new goroutine.
func (mgr *Manager) Go(name string, fn Func) error {
	return mgr.spawn(name, func() {
		mgr.callWithRecover(name, func() { fn(mgr.ctx) })
	})
}

// StartInterval runs fn every interval until it returns false, the interval
// is stopped, or the manager stops.
func (mgr *Manager) StartInterval(name string, fn LoopFunc, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("task: invalid interval %v", interval)
	}

	ticker := time.NewTicker(interval)
	if _, loaded := mgr.tickers.LoadOrStore(name, ticker); loaded {
		ticker.Stop()
		return fmt.Errorf("task: interval task %s already exists", name)
	}

	cleanup := func() {
		ticker.Stop()
		mgr.tickers.CompareAndDelete(name, ticker)
	}

	err := mgr.spawn(name, func() {
		defer cleanup()

		for {
			select {
			case <-mgr.ctx.Done():
				return
			case <-ticker.C:
				if !mgr.callWithRecoverBool(name, fn) {
					return
				}
			}
		}
	})
	if err != nil {
		cleanup()
	}

	return err
}

// StopInterval stops the interval task with the given name.
func (mgr *Manager) StopInterval(name string) error {
	v, ok := mgr.tickers.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("task: interval task %s not found", name)
	}

	v.(*time.Ticker).Stop() //nolint:forcetypeassert

	return nil
}

// Stop cancels the context of all tasks. Tasks started afterwards fail with
// ErrStopped.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	mgr.stopped = true
	mgr.mu.Unlock()

	mgr.tickers.Range(func(_, v any) bool {
		v.(*time.Ticker).Stop() //nolint:forcetypeassert
		return true
	})

	mgr.cancel()
}

// WaitTimeout waits up to d for all tasks and reports whether they all
// returned.
func (mgr *Manager) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		mgr.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// TaskCount returns the number of running tasks.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) spawn(name string, body func()) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.stopped || mgr.ctx.Err() != nil {
		return fmt.Errorf("start %s: %w", name, ErrStopped)
	}

	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer func() {
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("task terminated", "name", name, "taskCount", mgr.TaskCount())
		}()

		body()
	}()

	return nil
}

func (mgr *Manager) callWithRecover(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
		}
	}()

	fn()
}

func (mgr *Manager) callWithRecoverBool(name string, fn func() bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			ok = false
		}
	}()

	return fn()
}
