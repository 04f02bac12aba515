package btcwallet

import "errors"

var (
	// ErrNullSeed ...
	ErrNullSeed = errors.New("wallet seed must not be null")
	// ErrNullNetwork ...
	ErrNullNetwork = errors.New("network params are null")
	// ErrNullExplorer ...
	ErrNullExplorer = errors.New("explorer service must not be null")
	// ErrInvalidFeeAddress ...
	ErrInvalidFeeAddress = errors.New("fee address is not valid for network")
	// ErrInvalidAmount ...
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrInsufficientFunds ...
	ErrInsufficientFunds = errors.New("wallet coins do not cover the target amount")
	// ErrInputsDoNotCover ...
	ErrInputsDoNotCover = errors.New("inputs do not cover the contribution")
	// ErrEscrowNotCovered ...
	ErrEscrowNotCovered = errors.New("contributions do not cover the escrow amount")
	// ErrOutputsExceedEscrow ...
	ErrOutputsExceedEscrow = errors.New("payout amounts exceed the escrow amount")
	// ErrFeeExceedsEscrow ...
	ErrFeeExceedsEscrow = errors.New("miner fee exceeds the escrow amount")
	// ErrInvalidLockTime ...
	ErrInvalidLockTime = errors.New("lock time must be a positive unix timestamp")
	// ErrMissingPrevOut ...
	ErrMissingPrevOut = errors.New("missing previous output for input")
	// ErrEscrowInputNotFound ...
	ErrEscrowInputNotFound = errors.New("transaction does not spend the escrow output")
	// ErrNotEscrowParticipant ...
	ErrNotEscrowParticipant = errors.New("trade key is not part of the escrow")
	// ErrInvalidEscrowSignature ...
	ErrInvalidEscrowSignature = errors.New("invalid escrow signature")
	// ErrDelayedPayoutTxMismatch ...
	ErrDelayedPayoutTxMismatch = errors.New(
		"delayed payout transaction does not match the expected one",
	)
	// ErrTxMismatch ...
	ErrTxMismatch = errors.New("transactions to combine are not the same")
	// ErrInvalidSignature ...
	ErrInvalidSignature = errors.New("invalid signature")
)
