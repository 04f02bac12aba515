package domain

import "errors"

var (
	// ErrPhaseRegression is returned when trying to move a trade to a state
	// that belongs to an earlier phase than the current one.
	ErrPhaseRegression = errors.New("state would move the trade back to a previous phase")
	// ErrTradeFailed is returned when trying to advance a failed trade.
	ErrTradeFailed = errors.New("trade is failed")
	// ErrTradeNotFailed is returned when trying to un-fail a trade that is not
	// failed.
	ErrTradeNotFailed = errors.New("trade is not failed")
	// ErrDelayedPayoutTxAlreadySet is returned when trying to replace the
	// delayed payout transaction with a different one.
	ErrDelayedPayoutTxAlreadySet = errors.New("delayed payout transaction is already set")
	// ErrDepositTxAlreadySet ...
	ErrDepositTxAlreadySet = errors.New("deposit transaction is already set")
	// ErrInvalidTradeID is returned when a trade id does not match the one
	// derived from offer id and taker fee transaction id.
	ErrInvalidTradeID = errors.New("trade id does not match offer and taker fee tx")
	// ErrInvalidAmount ...
	ErrInvalidAmount = errors.New("trade amount is out of offer range")
	// ErrMissingContract ...
	ErrMissingContract = errors.New("trade has no contract")
	// ErrTradeNotFound ...
	ErrTradeNotFound = errors.New("trade not found")
	// ErrOfferNotFound ...
	ErrOfferNotFound = errors.New("offer not found")
	// ErrTradeAlreadyExists ...
	ErrTradeAlreadyExists = errors.New("trade already exists")
	// ErrOfferAlreadyExists ...
	ErrOfferAlreadyExists = errors.New("offer already exists")
)
