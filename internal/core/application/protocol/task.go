package protocol

import (
	"context"
	"fmt"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

// Step is the context shared by the tasks of a single protocol step.
type Step struct {
	ctx     context.Context
	p       *Protocol
	Message domain.TradeMessage
	Peer    domain.NodeAddress
}

// Context ...
func (s *Step) Context() context.Context {
	return s.ctx
}

// Env ...
func (s *Step) Env() Env {
	return s.p.env
}

// Result is what a task returns, either the next trade snapshot or the
// reason it failed.
type Result struct {
	trade *domain.Trade
	err   error
}

// Continue hands the trade over to the next task.
func Continue(t *domain.Trade) Result {
	return Result{trade: t}
}

// Fail aborts the step.
func Fail(err error) Result {
	return Result{err: err}
}

// Failf ...
func Failf(format string, args ...interface{}) Result {
	return Result{err: fmt.Errorf(format, args...)}
}

// Task is a named unit of work of a protocol step.
type Task struct {
	Name string
	Fn   func(s *Step, t *domain.Trade) Result
}

func (t Task) String() string {
	return t.Name
}

func newTask(name string, fn func(s *Step, t *domain.Trade) Result) Task {
	return Task{Name: name, Fn: fn}
}

// messageOf returns the message that triggered the step as its concrete type.
func messageOf[T domain.TradeMessage](s *Step) (T, error) {
	m, ok := s.Message.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: unexpected %T", ErrInvalidMessage, s.Message)
	}
	return m, nil
}
