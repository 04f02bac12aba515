package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

type mode int

const (
	// modeExpect logs unmet conditions as errors and reports them back.
	modeExpect mode = iota
	// modeGiven silently skips unmet conditions.
	modeGiven
)

// Setup holds the tasks run once a condition is met.
type Setup struct {
	tasks   []Task
	timeout time.Duration
	runner  TaskRunner
}

// Tasks ...
func Tasks(tasks ...Task) *Setup {
	return &Setup{tasks: tasks}
}

// WithTimeout starts a timer once the tasks are launched. The timer is
// stopped by the next valid step of the protocol.
func (s *Setup) WithTimeout(d time.Duration) *Setup {
	s.timeout = d
	return s
}

// Using overrides the runner of the protocol for this step.
func (s *Setup) Using(r TaskRunner) *Setup {
	s.runner = r
	return s
}

type fluent struct {
	p     *Protocol
	cond  *Condition
	mode  mode
	steps *Setup
	runFn func(t *domain.Trade) error
}

func (p *Protocol) expect(c *Condition) *fluent {
	return &fluent{p: p, cond: c, mode: modeExpect}
}

func (p *Protocol) given(c *Condition) *fluent {
	return &fluent{p: p, cond: c, mode: modeGiven}
}

func (f *fluent) setup(s *Setup) *fluent {
	f.steps = s
	return f
}

// run registers a side effect applied to the trade, and persisted, before
// the tasks start.
func (f *fluent) run(fn func(t *domain.Trade) error) *fluent {
	f.runFn = fn
	return f
}

func (f *fluent) name() string {
	if f.cond.event != nil {
		return f.cond.event.String()
	}
	if f.cond.message != nil {
		return string(f.cond.message.Kind())
	}
	return "step"
}

func (f *fluent) executeTasks(ctx context.Context) error {
	p := f.p
	msg := f.cond.message
	name := f.name()
	logger := p.logger().WithField("step", name)
	if msg != nil {
		logger = logger.WithField("uid", msg.Header().UID)
	}

	res := f.cond.evaluate(p.trade, p.role.events)
	if !res.valid() {
		if f.mode == modeGiven {
			logger.Debugf("skipped: %s", res.reason)
			return nil
		}
		// A precondition with a fallback marks a step already done, like a
		// replayed mailbox message.
		if res.err == ErrPreconditionFailed && res.fallback != nil {
			stepsTotal.WithLabelValues(name, "duplicate").Inc()
			res.fallback()
			logger.Info("step already done, skipping")
			return nil
		}
		stepsTotal.WithLabelValues(name, "rejected").Inc()
		if res.err == ErrPreconditionFailed {
			logger.Warnf("not executed: %s", res.reason)
		} else {
			logger.WithError(res.err).Errorf("rejected: %s", res.reason)
			if msg != nil {
				p.sendAck(ctx, msg, false, res.reason)
			}
		}
		return fmt.Errorf("%w: %s", res.err, res.reason)
	}

	p.stopTimeout()

	if f.runFn != nil {
		t := p.trade.Clone()
		if err := f.runFn(t); err != nil {
			return p.handleFault(ctx, name, err.Error(), p.trade, msg)
		}
		p.commit(ctx, t)
	}

	if f.steps == nil || len(f.steps.tasks) == 0 {
		stepsTotal.WithLabelValues(name, "completed").Inc()
		if msg != nil {
			p.sendAck(ctx, msg, true, "")
		}
		return nil
	}

	if f.steps.timeout > 0 {
		p.startTimeout(f.steps.timeout)
	}

	runner := f.steps.runner
	if runner == nil {
		runner = p.newRunner()
	}

	step := &Step{ctx: ctx, p: p, Message: msg}
	if f.cond.from != nil {
		step.Peer = *f.cond.from
	}

	var err error
	runner.Run(
		step, p.trade.Clone(), f.steps.tasks,
		func(t *domain.Trade) {
			p.commit(ctx, t)
			stepsTotal.WithLabelValues(name, "completed").Inc()
			logger.Debugf("completed, trade is in %s/%s", t.Phase, t.State)
			if msg != nil {
				p.sendAck(ctx, msg, true, "")
			}
		},
		func(reason string, last *domain.Trade) {
			err = p.handleFault(ctx, name, reason, last, msg)
		},
	)
	return err
}
