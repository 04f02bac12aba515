package db_test

import (
	"context"
	"testing"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestOfferRepositoryImplementations(t *testing.T) {
	repositories := createRepoManagers(t)

	for i := range repositories {
		repo := repositories[i]

		t.Run(repo.Name, func(t *testing.T) {
			t.Parallel()

			offerRepo := repo.DBManager.OfferRepository()
			ctx := context.Background()
			offer := makeRandomOffer()

			_, err := offerRepo.GetOffer(ctx, offer.ID)
			require.ErrorIs(t, err, domain.ErrOfferNotFound)

			require.NoError(t, offerRepo.AddOffer(ctx, offer))
			err = offerRepo.AddOffer(ctx, offer)
			require.ErrorIs(t, err, domain.ErrOfferAlreadyExists)

			storedOffer, err := offerRepo.GetOffer(ctx, offer.ID)
			require.NoError(t, err)
			require.Equal(t, offer.MakerFeeTxID, storedOffer.MakerFeeTxID)
			require.Equal(t, offer.MakerNodeAddress, storedOffer.MakerNodeAddress)
			require.True(t, offer.Price.Equal(storedOffer.Price))

			offers, err := offerRepo.GetAllOffers(ctx)
			require.NoError(t, err)
			require.Len(t, offers, 1)

			require.NoError(t, offerRepo.DeleteOffer(ctx, offer.ID))
			err = offerRepo.DeleteOffer(ctx, offer.ID)
			require.ErrorIs(t, err, domain.ErrOfferNotFound)

			offers, err = offerRepo.GetAllOffers(ctx)
			require.NoError(t, err)
			require.Empty(t, offers)
		})
	}
}
