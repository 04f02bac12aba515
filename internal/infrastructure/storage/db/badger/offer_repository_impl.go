package dbbadger

import (
	"context"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type offerRepositoryImpl struct {
	store *badgerhold.Store
}

// NewOfferRepositoryImpl returns a badgerhold backed OfferRepository.
func NewOfferRepositoryImpl(store *badgerhold.Store) domain.OfferRepository {
	return offerRepositoryImpl{store}
}

func (o offerRepositoryImpl) AddOffer(
	ctx context.Context, offer *domain.Offer,
) error {
	if err := o.store.Insert(offer.ID, *offer); err != nil {
		if err == badgerhold.ErrKeyExists {
			return domain.ErrOfferAlreadyExists
		}
		return err
	}
	return nil
}

func (o offerRepositoryImpl) GetOffer(
	ctx context.Context, offerID string,
) (*domain.Offer, error) {
	var offer domain.Offer
	if err := o.store.Get(offerID, &offer); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, domain.ErrOfferNotFound
		}
		return nil, err
	}
	return &offer, nil
}

func (o offerRepositoryImpl) GetAllOffers(
	ctx context.Context,
) ([]*domain.Offer, error) {
	var found []domain.Offer
	if err := o.store.Find(&found, nil); err != nil {
		return nil, err
	}

	offers := make([]*domain.Offer, 0, len(found))
	for i := range found {
		offers = append(offers, &found[i])
	}
	return offers, nil
}

func (o offerRepositoryImpl) DeleteOffer(
	ctx context.Context, offerID string,
) error {
	if err := o.store.Delete(offerID, domain.Offer{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return domain.ErrOfferNotFound
		}
		return err
	}
	return nil
}
