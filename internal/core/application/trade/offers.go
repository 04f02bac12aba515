package trade

import (
	"context"

	"github.com/google/uuid"
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

// PlaceOffer pays the maker fee and stores the offer as open. Id, maker
// address, maker keys, fee tx and date are filled by the service.
func (s *Service) PlaceOffer(ctx context.Context, offer domain.Offer) (*domain.Offer, error) {
	if err := validateOffer(offer); err != nil {
		return nil, err
	}

	_, feeTxHex, err := s.wallet.CreateFeeTx(ctx, s.cfg.MakerFee)
	if err != nil {
		return nil, err
	}
	feeTxID, err := s.wallet.BroadcastTransaction(ctx, feeTxHex)
	if err != nil {
		return nil, err
	}

	if offer.ID == "" {
		offer.ID = uuid.New().String()
	}
	offer.MakerFeeTxID = feeTxID
	offer.MakerNodeAddress = s.p2p.Address()
	offer.MakerPubKeyRing = s.keyRing.PubKeyRing()
	offer.Date = s.clock.Now().Unix()

	if err := s.repoManager.OfferRepository().AddOffer(ctx, &offer); err != nil {
		return nil, err
	}

	log.WithField("offer_id", offer.ID).Infof(
		"placed offer to %s %d sats for %s", offer.Direction, offer.Amount,
		offer.CurrencyCode,
	)
	return &offer, nil
}

// CancelOffer removes an open offer. Trades already started for it are not
// affected.
func (s *Service) CancelOffer(ctx context.Context, offerID string) error {
	s.offerLock.Lock()
	defer s.offerLock.Unlock()

	if err := s.repoManager.OfferRepository().DeleteOffer(ctx, offerID); err != nil {
		return err
	}
	log.WithField("offer_id", offerID).Info("offer canceled")
	return nil
}

// ListOffers returns the open offers of the local trader.
func (s *Service) ListOffers(ctx context.Context) ([]*domain.Offer, error) {
	offers, err := s.repoManager.OfferRepository().GetAllOffers(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to list offers")
		return nil, ErrServiceUnavailable
	}
	return offers, nil
}

func validateOffer(offer domain.Offer) error {
	if offer.Amount <= 0 || offer.MinAmount < 0 || offer.MinAmount > offer.Amount {
		return ErrInvalidOffer
	}
	if offer.CurrencyCode == "" || offer.PaymentMethodID == "" {
		return ErrInvalidOffer
	}
	if offer.UseMarketPrice {
		if offer.MarketPriceMargin.Abs().GreaterThanOrEqual(one) {
			return ErrInvalidOffer
		}
	} else if !offer.Price.IsPositive() {
		return ErrInvalidOffer
	}
	if offer.BuyerSecurityDeposit <= 0 || offer.SellerSecurityDeposit <= 0 {
		return ErrInvalidOffer
	}
	return nil
}
