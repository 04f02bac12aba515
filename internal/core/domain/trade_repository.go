package domain

import "context"

// TradeRepository is the abstraction for any kind of database intended to
// persist Trades.
type TradeRepository interface {
	// AddTrade stores a new trade.
	AddTrade(ctx context.Context, trade *Trade) error
	// GetTrade returns the trade with the given id or ErrTradeNotFound.
	GetTrade(ctx context.Context, tradeID string) (*Trade, error)
	// GetAllTrades returns all the trades stored in the repository.
	GetAllTrades(ctx context.Context) ([]*Trade, error)
	// GetPendingTrades returns the trades that are neither withdrawn nor
	// failed.
	GetPendingTrades(ctx context.Context) ([]*Trade, error)
	// GetTradesByOfferID returns all the trades that took the given offer.
	GetTradesByOfferID(ctx context.Context, offerID string) ([]*Trade, error)
	// UpdateTrade allows to commit multiple changes to the same trade in a
	// transactional way.
	UpdateTrade(
		ctx context.Context,
		tradeID string,
		updateFn func(t *Trade) (*Trade, error),
	) error
	// DeleteTrade ...
	DeleteTrade(ctx context.Context, tradeID string) error
}

// OfferRepository persists the open offers of the local trader.
type OfferRepository interface {
	AddOffer(ctx context.Context, offer *Offer) error
	GetOffer(ctx context.Context, offerID string) (*Offer, error)
	GetAllOffers(ctx context.Context) ([]*Offer, error)
	DeleteOffer(ctx context.Context, offerID string) error
}
