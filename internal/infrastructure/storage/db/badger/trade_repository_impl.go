package dbbadger

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type tradeRepositoryImpl struct {
	store *badgerhold.Store
}

// NewTradeRepositoryImpl returns a badgerhold backed TradeRepository.
func NewTradeRepositoryImpl(store *badgerhold.Store) domain.TradeRepository {
	return tradeRepositoryImpl{store}
}

func (t tradeRepositoryImpl) AddTrade(
	ctx context.Context, trade *domain.Trade,
) error {
	if err := t.store.Insert(trade.ID, *trade); err != nil {
		if err == badgerhold.ErrKeyExists {
			return domain.ErrTradeAlreadyExists
		}
		return err
	}
	return nil
}

func (t tradeRepositoryImpl) GetTrade(
	ctx context.Context, tradeID string,
) (*domain.Trade, error) {
	var trade domain.Trade
	if err := t.store.Get(tradeID, &trade); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, domain.ErrTradeNotFound
		}
		return nil, err
	}
	return &trade, nil
}

func (t tradeRepositoryImpl) GetAllTrades(
	ctx context.Context,
) ([]*domain.Trade, error) {
	return t.findTrades(nil)
}

func (t tradeRepositoryImpl) GetPendingTrades(
	ctx context.Context,
) ([]*domain.Trade, error) {
	query := badgerhold.Where("Phase").Lt(domain.PhaseWithdrawn)
	return t.findTrades(query)
}

func (t tradeRepositoryImpl) GetTradesByOfferID(
	ctx context.Context, offerID string,
) ([]*domain.Trade, error) {
	query := badgerhold.Where("Offer.ID").Eq(offerID)
	return t.findTrades(query)
}

func (t tradeRepositoryImpl) UpdateTrade(
	ctx context.Context,
	tradeID string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	return t.store.Badger().Update(func(tx *badger.Txn) error {
		var trade domain.Trade
		if err := t.store.TxGet(tx, tradeID, &trade); err != nil {
			if err == badgerhold.ErrNotFound {
				return domain.ErrTradeNotFound
			}
			return err
		}

		updatedTrade, err := updateFn(&trade)
		if err != nil {
			return err
		}
		if updatedTrade == nil {
			return ErrNilTrade
		}

		return t.store.TxUpdate(tx, tradeID, *updatedTrade)
	})
}

func (t tradeRepositoryImpl) DeleteTrade(
	ctx context.Context, tradeID string,
) error {
	if err := t.store.Delete(tradeID, domain.Trade{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return domain.ErrTradeNotFound
		}
		return err
	}
	return nil
}

func (t tradeRepositoryImpl) findTrades(
	query *badgerhold.Query,
) ([]*domain.Trade, error) {
	var found []domain.Trade
	if err := t.store.Find(&found, query); err != nil {
		return nil, err
	}

	trades := make([]*domain.Trade, 0, len(found))
	for i := range found {
		trades = append(trades, &found[i])
	}
	return trades, nil
}
