package protocol

import "errors"

var (
	// ErrInvalidPhase is returned when an event or message is not expected in
	// the current phase of the trade.
	ErrInvalidPhase = errors.New("invalid phase")
	// ErrInvalidState ...
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidEvent is returned for events the role of the trade does not
	// handle.
	ErrInvalidEvent = errors.New("event not handled by trade role")
	// ErrInvalidMessage ...
	ErrInvalidMessage = errors.New("message does not belong to trade")
	// ErrInvalidSender is returned when a message comes from a peer other than
	// the trading peer.
	ErrInvalidSender = errors.New("message sent by unknown peer")
	// ErrPreconditionFailed ...
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrTaskFailed wraps the reason of a failing task.
	ErrTaskFailed = errors.New("task failed")
	// ErrLockTimeNotReached is returned when trying to publish the delayed
	// payout transaction too early.
	ErrLockTimeNotReached = errors.New("lock time not reached")
	// ErrContractMismatch ...
	ErrContractMismatch = errors.New("contract does not match trade terms")
	// ErrTxMismatch ...
	ErrTxMismatch = errors.New("transaction does not match the expected one")
)
