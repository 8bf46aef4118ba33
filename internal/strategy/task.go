package strategy

import (
	"context"
	"errors"
)

var ErrNotRunning = errors.New("strategy is not running")

// Task is a handle to one background unit spawned by a strategy.
type Task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func finishedTask(name string, err error) *Task {
	t := &Task{name: name, cancel: func() {}, done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *Task) Name() string { return t.name }

func (t *Task) Cancel() { t.cancel() }

// Done reports whether the task has returned.
func (t *Task) Done() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the task returns and yields its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Err is valid once Done is true.
func (t *Task) Err() error {
	if !t.Done() {
		return nil
	}
	return t.err
}
