package trade

import "errors"

var (
	// ErrServiceUnavailable is returned for unexpected storage failures.
	ErrServiceUnavailable = errors.New("service is unavailable, retry later")
	// ErrServiceStopped is returned for operations on a stopped service.
	ErrServiceStopped = errors.New("trade service is stopped")
	// ErrTradeNotActive is returned for operations on a trade whose protocol
	// is not running, like a withdrawn trade.
	ErrTradeNotActive = errors.New("trade is not active")
	// ErrOfferAlreadyTaken is returned when taking an offer that already has a
	// pending trade.
	ErrOfferAlreadyTaken = errors.New("offer already has a pending trade")
	// ErrMissingMarketPrice is returned when taking a market based offer
	// without providing the market price.
	ErrMissingMarketPrice = errors.New("market price is required for market based offers")
	// ErrInvalidOffer ...
	ErrInvalidOffer = errors.New("invalid offer")
	// ErrPriceMismatch is returned to a taker whose price differs from the
	// fixed price of the offer.
	ErrPriceMismatch = errors.New("trade price does not match offer price")
)
