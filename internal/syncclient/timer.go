package syncclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type TimerState int

const (
	TimerIdle TimerState = iota
	TimerRunning
	TimerPaused
)

func (s TimerState) String() string {
	switch s {
	case TimerRunning:
		return "running"
	case TimerPaused:
		return "paused"
	default:
		return "idle"
	}
}

var ErrTimerState = errors.New("timer is not in a state that allows this")

// TimeLogger receives the total when a WorkTimer stops.
type TimeLogger interface {
	LogTime(ctx context.Context, taskID uuid.UUID, seconds int) error
}

// WorkTimer measures work on one task across pauses. Nothing reaches the
// server until Stop.
type WorkTimer struct {
	taskID uuid.UUID
	logger TimeLogger
	now    func() time.Time

	mu      sync.Mutex
	state   TimerState
	since   time.Time
	elapsed time.Duration

	// stopping is set while Stop waits on the server.
	stopping bool
}

func NewWorkTimer(taskID uuid.UUID, logger TimeLogger) *WorkTimer {
	return &WorkTimer{taskID: taskID, logger: logger, now: time.Now}
}

func (t *WorkTimer) State() TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Elapsed includes the current running stretch.
func (t *WorkTimer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsedLocked()
}

func (t *WorkTimer) elapsedLocked() time.Duration {
	if t.state == TimerRunning {
		return t.elapsed + t.now().Sub(t.since)
	}
	return t.elapsed
}

func (t *WorkTimer) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TimerIdle {
		return fmt.Errorf("start %s timer: %w", t.state, ErrTimerState)
	}
	t.state = TimerRunning
	t.since = t.now()
	t.elapsed = 0
	return nil
}

func (t *WorkTimer) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TimerRunning {
		return fmt.Errorf("pause %s timer: %w", t.state, ErrTimerState)
	}
	t.elapsed += t.now().Sub(t.since)
	t.state = TimerPaused
	return nil
}

func (t *WorkTimer) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TimerPaused || t.stopping {
		return fmt.Errorf("resume %s timer: %w", t.state, ErrTimerState)
	}
	t.state = TimerRunning
	t.since = t.now()
	return nil
}

// Stop logs the whole seconds worked and returns the timer to idle. If the
// write fails the timer is left paused with its total intact, so Stop can
// be retried. Less than a second of work is discarded without a write.
func (t *WorkTimer) Stop(ctx context.Context) (time.Duration, error) {
	t.mu.Lock()
	if t.state == TimerIdle || t.stopping {
		t.mu.Unlock()
		return 0, fmt.Errorf("stop %s timer: %w", t.state, ErrTimerState)
	}
	total := t.elapsedLocked()
	t.elapsed = total
	t.state = TimerPaused
	t.stopping = true
	t.mu.Unlock()

	if seconds := int(total / time.Second); seconds >= 1 {
		if err := t.logger.LogTime(ctx, t.taskID, seconds); err != nil {
			t.mu.Lock()
			t.stopping = false
			t.mu.Unlock()
			return total, fmt.Errorf("log time: %w", err)
		}
	}

	t.mu.Lock()
	t.stopping = false
	t.state = TimerIdle
	t.elapsed = 0
	t.mu.Unlock()
	return total, nil
}
