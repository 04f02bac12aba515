package trade

import (
	"context"

	"github.com/p2p-escrow/trade-daemon/internal/core/application/protocol"
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var one = decimal.NewFromInt(1)

// TakeOffer creates the taker fee transaction, derives the trade id from it
// and starts the take offer protocol. The market price is used only for
// market based offers.
func (s *Service) TakeOffer(
	ctx context.Context, offer domain.Offer, amount int64, marketPrice decimal.Decimal,
) (*domain.Trade, error) {
	if s.isStopped() {
		return nil, ErrServiceStopped
	}
	if offer.UseMarketPrice && !marketPrice.IsPositive() {
		return nil, ErrMissingMarketPrice
	}
	if !offer.IsAmountInRange(amount) {
		return nil, domain.ErrInvalidAmount
	}

	trades, err := s.repoManager.TradeRepository().GetTradesByOfferID(ctx, offer.ID)
	if err != nil {
		log.WithError(err).Warn("failed to fetch trades of offer")
		return nil, ErrServiceUnavailable
	}
	for _, t := range trades {
		if t.IsPending() {
			return nil, ErrOfferAlreadyTaken
		}
	}

	feeTxID, feeTxHex, err := s.wallet.CreateFeeTx(ctx, s.cfg.TakerFee)
	if err != nil {
		return nil, err
	}

	trade, err := domain.NewTrade(
		domain.DeriveTradeID(offer.ID, feeTxID), offer, domain.PositionTaker,
		amount, offer.TradePrice(marketPrice), s.cfg.TxFee, s.cfg.TakerFee,
	)
	if err != nil {
		return nil, err
	}
	trade.CreatedAt = s.clock.Now().Unix()
	trade.TakerFeeTxID = feeTxID
	trade.ProcessModel.TakerFeeTx = feeTxHex

	if err := s.repoManager.TradeRepository().AddTrade(ctx, trade); err != nil {
		return nil, err
	}

	actor := s.spawn(trade)
	if actor == nil {
		return nil, ErrServiceStopped
	}
	if err := actor.do(ctx, func(p *protocol.Protocol) error {
		return p.TakeOffer(ctx)
	}); err != nil {
		return actor.trade().Clone(), err
	}

	log.WithField("trade_id", trade.ID).Infof(
		"took offer %s for %d sats", offer.ID, amount,
	)
	return actor.trade().Clone(), nil
}

// PublishDepositTx retries the deposit broadcast of a seller whose previous
// attempt failed.
func (s *Service) PublishDepositTx(ctx context.Context, tradeID string) error {
	return s.withActor(ctx, tradeID, func(p *protocol.Protocol) error {
		return p.PublishDepositTx(ctx)
	})
}

// ConfirmPaymentStarted is called by the buyer once the counter currency
// transfer has been initiated.
func (s *Service) ConfirmPaymentStarted(
	ctx context.Context, tradeID, counterCurrencyTxID string,
) error {
	return s.withActor(ctx, tradeID, func(p *protocol.Protocol) error {
		return p.PaymentStarted(ctx, counterCurrencyTxID)
	})
}

// ConfirmPaymentReceived is called by the seller once the counter currency
// transfer has been received. It triggers the payout.
func (s *Service) ConfirmPaymentReceived(ctx context.Context, tradeID string) error {
	return s.withActor(ctx, tradeID, func(p *protocol.Protocol) error {
		return p.PaymentReceived(ctx)
	})
}

// ApplyMediationProposal stores the payout split proposed by the mediator.
func (s *Service) ApplyMediationProposal(
	ctx context.Context, tradeID string, result domain.MediationResult,
) error {
	return s.withActor(ctx, tradeID, func(p *protocol.Protocol) error {
		return p.ApplyMediationProposal(ctx, result)
	})
}

// AcceptMediationResult signs the mediated payout and sends the signature to
// the peer.
func (s *Service) AcceptMediationResult(ctx context.Context, tradeID string) error {
	return s.withActor(ctx, tradeID, func(p *protocol.Protocol) error {
		return p.AcceptMediationResult(ctx)
	})
}

// FinalizeMediationResultPayout publishes the mediated payout once the peer
// signature is known.
func (s *Service) FinalizeMediationResultPayout(ctx context.Context, tradeID string) error {
	return s.withActor(ctx, tradeID, func(p *protocol.Protocol) error {
		return p.FinalizeMediationResultPayout(ctx)
	})
}

// PublishDelayedPayoutTx publishes the time-locked fallback transaction.
func (s *Service) PublishDelayedPayoutTx(ctx context.Context, tradeID string) error {
	return s.withActor(ctx, tradeID, func(p *protocol.Protocol) error {
		return p.PublishDelayedPayoutTx(ctx)
	})
}

// WithdrawCompleted closes a trade whose payout is published. The protocol
// of the trade is stopped afterwards.
func (s *Service) WithdrawCompleted(ctx context.Context, tradeID string) error {
	if err := s.withActor(ctx, tradeID, func(p *protocol.Protocol) error {
		return p.WithdrawCompleted(ctx)
	}); err != nil {
		return err
	}
	s.removeActor(tradeID)
	return nil
}

// FailTrade moves the trade to FAILED. Funds reserved for a deposit that was
// never published are released.
func (s *Service) FailTrade(ctx context.Context, tradeID, reason string) error {
	var trade *domain.Trade
	if err := s.withActor(ctx, tradeID, func(p *protocol.Protocol) error {
		if err := p.FailTrade(ctx, reason); err != nil {
			return err
		}
		trade = p.Trade()
		return nil
	}); err != nil {
		return err
	}

	if !trade.IsDepositPublished() && len(trade.ProcessModel.MyRawInputs) > 0 {
		s.wallet.ReleaseInputs(ctx, trade.ProcessModel.MyRawInputs)
	}
	return nil
}

// UnfailTrade restores a failed trade to the phase it had before failing and
// resumes its protocol.
func (s *Service) UnfailTrade(ctx context.Context, tradeID string) error {
	return s.withActor(ctx, tradeID, func(p *protocol.Protocol) error {
		if err := p.UnfailTrade(ctx); err != nil {
			return err
		}
		return p.OnInitialized(ctx)
	})
}

// OnDepositConfirmed is called by the deposit watcher. Late or repeated
// notifications are ignored by the protocol.
func (s *Service) OnDepositConfirmed(tradeID string) {
	actor, ok := s.getActor(tradeID)
	if !ok {
		log.WithField("trade_id", tradeID).Debug("deposit confirmed for inactive trade")
		return
	}
	actor.post(func() {
		if err := actor.proto.DepositConfirmed(context.Background()); err != nil {
			log.WithError(err).WithField("trade_id", tradeID).
				Warn("failed to handle deposit confirmation")
		}
	})
}
