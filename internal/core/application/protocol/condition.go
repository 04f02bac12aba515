package protocol

import (
	"fmt"
	"strings"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

type precondition struct {
	ok       bool
	fallback func()
}

// Condition describes when a protocol step applies. Checks are evaluated in
// order: phase, state, event or message, sender, preconditions.
type Condition struct {
	phases        []domain.Phase
	states        []domain.State
	event         *Event
	message       domain.TradeMessage
	from          *domain.NodeAddress
	preconditions []precondition
}

// InPhase ...
func InPhase(phase domain.Phase) *Condition {
	return &Condition{phases: []domain.Phase{phase}}
}

// AnyPhase ...
func AnyPhase(phases ...domain.Phase) *Condition {
	return &Condition{phases: phases}
}

// PhaseRange matches every phase between from and to, inclusive.
func PhaseRange(from, to domain.Phase) *Condition {
	phases := make([]domain.Phase, 0)
	for p := from; p <= to; p++ {
		phases = append(phases, p)
	}
	return &Condition{phases: phases}
}

// AnyState restricts the condition to the given states. No state means any.
func (c *Condition) AnyState(states ...domain.State) *Condition {
	c.states = states
	return c
}

// WithEvent ...
func (c *Condition) WithEvent(e Event) *Condition {
	c.event = &e
	return c
}

// WithMessage ...
func (c *Condition) WithMessage(m domain.TradeMessage) *Condition {
	c.message = m
	return c
}

// From requires the message to be sent by the trading peer.
func (c *Condition) From(addr domain.NodeAddress) *Condition {
	c.from = &addr
	return c
}

// PreCondition adds a check that, when false, runs the optional fallback
// instead of the step.
func (c *Condition) PreCondition(ok bool, fallback ...func()) *Condition {
	pc := precondition{ok: ok}
	if len(fallback) > 0 {
		pc.fallback = fallback[0]
	}
	c.preconditions = append(c.preconditions, pc)
	return c
}

type conditionResult struct {
	err      error
	reason   string
	fallback func()
}

func (r conditionResult) valid() bool {
	return r.err == nil
}

func invalid(err error, format string, args ...interface{}) conditionResult {
	return conditionResult{err: err, reason: fmt.Sprintf(format, args...)}
}

func (c *Condition) evaluate(t *domain.Trade, eventsOfRole map[Event]bool) conditionResult {
	if len(c.phases) > 0 && !containsPhase(c.phases, t.Phase) {
		return invalid(
			ErrInvalidPhase, "expected phase %s, trade is in %s",
			phasesString(c.phases), t.Phase,
		)
	}
	if len(c.states) > 0 && !containsState(c.states, t.State) {
		return invalid(ErrInvalidState, "trade is in state %s", t.State)
	}
	if c.event != nil && !eventsOfRole[*c.event] {
		return invalid(ErrInvalidEvent, "%s not handled by %s", c.event, t.Variant)
	}
	if c.message != nil && c.message.Header().TradeID != t.ID {
		return invalid(
			ErrInvalidMessage, "%s for trade %s",
			c.message.Kind(), c.message.Header().TradeID,
		)
	}
	if c.from != nil {
		peer := t.PeerNodeAddress()
		if !peer.IsEmpty() && peer != *c.from {
			return invalid(ErrInvalidSender, "expected %s, got %s", peer, c.from)
		}
	}
	for _, pc := range c.preconditions {
		if !pc.ok {
			res := invalid(ErrPreconditionFailed, "step already done or not allowed")
			res.fallback = pc.fallback
			return res
		}
	}
	return conditionResult{}
}

func containsPhase(phases []domain.Phase, p domain.Phase) bool {
	for _, phase := range phases {
		if phase == p {
			return true
		}
	}
	return false
}

func containsState(states []domain.State, s domain.State) bool {
	for _, state := range states {
		if state == s {
			return true
		}
	}
	return false
}

func phasesString(phases []domain.Phase) string {
	names := make([]string, 0, len(phases))
	for _, p := range phases {
		names = append(names, p.String())
	}
	return strings.Join(names, "|")
}
