package ports

import "github.com/p2p-escrow/trade-daemon/internal/core/domain"

// RepoManager interface defines the methods for trades and open offers.
type RepoManager interface {
	TradeRepository() domain.TradeRepository
	OfferRepository() domain.OfferRepository

	Close()
}
