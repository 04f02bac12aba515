package p2pwebsocket

import "errors"

var (
	// ErrUnknownKind is returned when decoding an envelope of unknown kind.
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrMissingUID ...
	ErrMissingUID = errors.New("message without uid")
	// ErrNotStarted is returned when sending before Start.
	ErrNotStarted = errors.New("p2p service not started")
	// ErrRejected is returned when the peer replies with an error receipt.
	ErrRejected = errors.New("message rejected by peer")
	// ErrMailboxMessageNotFound ...
	ErrMailboxMessageNotFound = errors.New("mailbox message not found")
)
