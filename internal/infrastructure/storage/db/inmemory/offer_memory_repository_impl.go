package inmemory

import (
	"context"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

type offerRepositoryImpl struct {
	store *offerInmemoryStore
}

// NewOfferRepositoryImpl returns a new inmemory OfferRepository implementation.
func NewOfferRepositoryImpl(store *offerInmemoryStore) domain.OfferRepository {
	return &offerRepositoryImpl{store}
}

func (r offerRepositoryImpl) AddOffer(_ context.Context, offer *domain.Offer) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	if _, ok := r.store.offers[offer.ID]; ok {
		return domain.ErrOfferAlreadyExists
	}
	r.store.offers[offer.ID] = *offer
	return nil
}

func (r offerRepositoryImpl) GetOffer(_ context.Context, offerID string) (*domain.Offer, error) {
	r.store.locker.RLock()
	defer r.store.locker.RUnlock()

	offer, ok := r.store.offers[offerID]
	if !ok {
		return nil, domain.ErrOfferNotFound
	}
	return &offer, nil
}

func (r offerRepositoryImpl) GetAllOffers(_ context.Context) ([]*domain.Offer, error) {
	r.store.locker.RLock()
	defer r.store.locker.RUnlock()

	offers := make([]*domain.Offer, 0, len(r.store.offers))
	for _, offer := range r.store.offers {
		offer := offer
		offers = append(offers, &offer)
	}
	return offers, nil
}

func (r offerRepositoryImpl) DeleteOffer(_ context.Context, offerID string) error {
	r.store.locker.Lock()
	defer r.store.locker.Unlock()

	if _, ok := r.store.offers[offerID]; !ok {
		return domain.ErrOfferNotFound
	}
	delete(r.store.offers, offerID)
	return nil
}
