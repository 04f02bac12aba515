package inmemory

import (
	"sync"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
)

type tradeInmemoryStore struct {
	trades        map[string]domain.Trade
	tradesByOffer map[string][]string
	locker        *sync.RWMutex
}

type offerInmemoryStore struct {
	offers map[string]domain.Offer
	locker *sync.RWMutex
}

type RepoManager struct {
	tradeRepository domain.TradeRepository
	offerRepository domain.OfferRepository
}

func NewRepoManager() ports.RepoManager {
	tradeStore := &tradeInmemoryStore{
		trades:        map[string]domain.Trade{},
		tradesByOffer: map[string][]string{},
		locker:        &sync.RWMutex{},
	}
	offerStore := &offerInmemoryStore{
		offers: map[string]domain.Offer{},
		locker: &sync.RWMutex{},
	}

	return &RepoManager{
		tradeRepository: NewTradeRepositoryImpl(tradeStore),
		offerRepository: NewOfferRepositoryImpl(offerStore),
	}
}

func (d *RepoManager) TradeRepository() domain.TradeRepository {
	return d.tradeRepository
}

func (d *RepoManager) OfferRepository() domain.OfferRepository {
	return d.offerRepository
}

func (d *RepoManager) Close() {}
