package protocol

import (
	"fmt"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

// TaskRunner runs the tasks of a step and calls exactly one of the
// continuations once done.
type TaskRunner interface {
	Run(
		s *Step, trade *domain.Trade, tasks []Task,
		onSuccess func(t *domain.Trade),
		onFault func(reason string, last *domain.Trade),
	)
}

// FoldRunner runs the tasks in sequence, each one receiving a private copy of
// the previous result. The first failure aborts the step.
type FoldRunner struct{}

// NewFoldRunner ...
func NewFoldRunner() TaskRunner {
	return FoldRunner{}
}

func (FoldRunner) Run(
	s *Step, trade *domain.Trade, tasks []Task,
	onSuccess func(t *domain.Trade),
	onFault func(reason string, last *domain.Trade),
) {
	current := trade
	for _, task := range tasks {
		res := task.Fn(s, current.Clone())
		if res.err != nil {
			taskFailures.WithLabelValues(task.Name).Inc()
			onFault(fmt.Sprintf("%s: %s", task.Name, res.err), current)
			return
		}
		current = res.trade
	}
	onSuccess(current)
}
