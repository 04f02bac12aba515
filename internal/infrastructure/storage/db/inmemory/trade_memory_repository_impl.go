package inmemory

import (
	"context"
	"sort"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

type tradeRepositoryImpl struct {
	store *tradeInmemoryStore
}

// NewTradeRepositoryImpl returns a new inmemory TradeRepository implementation.
func NewTradeRepositoryImpl(store *tradeInmemoryStore) domain.TradeRepository {
	return &tradeRepositoryImpl{store}
}

func (r tradeRepositoryImpl) AddTrade(_ context.Context, trade *domain.Trade) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	if _, ok := r.store.trades[trade.ID]; ok {
		return domain.ErrTradeAlreadyExists
	}

	r.store.trades[trade.ID] = *trade.Clone()
	r.addTradeByOffer(trade.Offer.ID, trade.ID)
	return nil
}

func (r tradeRepositoryImpl) GetTrade(_ context.Context, tradeID string) (*domain.Trade, error) {
	r.store.locker.RLock()
	defer r.store.locker.RUnlock()

	trade, ok := r.store.trades[tradeID]
	if !ok {
		return nil, domain.ErrTradeNotFound
	}
	return trade.Clone(), nil
}

func (r tradeRepositoryImpl) GetAllTrades(_ context.Context) ([]*domain.Trade, error) {
	r.store.locker.RLock()
	defer r.store.locker.RUnlock()

	return r.filterTrades(func(*domain.Trade) bool { return true }), nil
}

func (r tradeRepositoryImpl) GetPendingTrades(_ context.Context) ([]*domain.Trade, error) {
	r.store.locker.RLock()
	defer r.store.locker.RUnlock()

	return r.filterTrades(func(t *domain.Trade) bool { return t.IsPending() }), nil
}

func (r tradeRepositoryImpl) GetTradesByOfferID(
	_ context.Context, offerID string,
) ([]*domain.Trade, error) {
	r.store.locker.RLock()
	defer r.store.locker.RUnlock()

	tradeIDs := r.store.tradesByOffer[offerID]
	trades := make([]*domain.Trade, 0, len(tradeIDs))
	for _, id := range tradeIDs {
		trade := r.store.trades[id]
		trades = append(trades, trade.Clone())
	}
	return trades, nil
}

func (r tradeRepositoryImpl) UpdateTrade(
	_ context.Context,
	tradeID string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	currentTrade, ok := r.store.trades[tradeID]
	if !ok {
		return domain.ErrTradeNotFound
	}

	updatedTrade, err := updateFn(currentTrade.Clone())
	if err != nil {
		return err
	}
	if updatedTrade == nil {
		return ErrNilTrade
	}

	r.store.trades[tradeID] = *updatedTrade.Clone()
	return nil
}

func (r tradeRepositoryImpl) DeleteTrade(_ context.Context, tradeID string) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	trade, ok := r.store.trades[tradeID]
	if !ok {
		return domain.ErrTradeNotFound
	}
	delete(r.store.trades, tradeID)

	ids := r.store.tradesByOffer[trade.Offer.ID]
	for i, id := range ids {
		if id == tradeID {
			r.store.tradesByOffer[trade.Offer.ID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (r tradeRepositoryImpl) filterTrades(
	keep func(*domain.Trade) bool,
) []*domain.Trade {
	trades := make([]*domain.Trade, 0, len(r.store.trades))
	for _, trade := range r.store.trades {
		trade := trade
		if keep(&trade) {
			trades = append(trades, trade.Clone())
		}
	}
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].CreatedAt < trades[j].CreatedAt
	})
	return trades
}

func (r tradeRepositoryImpl) addTradeByOffer(offerID, tradeID string) {
	for _, id := range r.store.tradesByOffer[offerID] {
		if id == tradeID {
			return
		}
	}
	r.store.tradesByOffer[offerID] = append(r.store.tradesByOffer[offerID], tradeID)
}
