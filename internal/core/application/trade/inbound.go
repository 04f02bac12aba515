package trade

import (
	"context"

	"github.com/p2p-escrow/trade-daemon/internal/core/application/protocol"
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// OnDirectMessage implements ports.InboundHandler.
func (s *Service) OnDirectMessage(msg domain.TradeMessage, from domain.NodeAddress) {
	s.route(msg, from, false)
}

// OnMailboxMessage implements ports.InboundHandler.
func (s *Service) OnMailboxMessage(msg domain.TradeMessage, from domain.NodeAddress) {
	s.route(msg, from, true)
}

// route hands the message over to the actor of its trade. It never blocks on
// the protocol, so it's safe to call from the network goroutines.
func (s *Service) route(msg domain.TradeMessage, from domain.NodeAddress, mailbox bool) {
	ctx := context.Background()
	tradeID := msg.Header().TradeID
	logger := log.WithFields(log.Fields{
		"trade_id": tradeID,
		"kind":     msg.Kind(),
		"uid":      msg.Header().UID,
	})

	if s.isStopped() {
		logger.Debug("service stopped, dropping message")
		return
	}

	actor, ok := s.getActor(tradeID)
	if !ok {
		trade, err := s.loadOrCreateTrade(ctx, msg)
		if err != nil {
			logger.WithError(err).Warn("dropping message")
			return
		}
		if actor = s.spawn(trade); actor == nil {
			return
		}
	}

	actor.post(func() {
		handle := (*protocol.Protocol).OnTradeMessage
		if mailbox {
			handle = (*protocol.Protocol).OnMailboxMessage
		}
		if err := handle(actor.proto, ctx, msg, from); err != nil {
			logger.WithError(err).Debug("message not processed")
		}
	})
}

// loadOrCreateTrade returns the stored trade the message belongs to. A take
// offer request for an open offer creates the maker side of the trade.
func (s *Service) loadOrCreateTrade(
	ctx context.Context, msg domain.TradeMessage,
) (*domain.Trade, error) {
	tradeID := msg.Header().TradeID
	trade, err := s.repoManager.TradeRepository().GetTrade(ctx, tradeID)
	if err == nil {
		return trade, nil
	}
	if err != domain.ErrTradeNotFound {
		return nil, err
	}

	var (
		offerID, takerFeeTxID string
		amount, txFee, fee    int64
		price                 decimal.Decimal
	)
	switch m := msg.(type) {
	case *domain.InputsForDepositTxRequest:
		offerID, takerFeeTxID = m.OfferID, m.TakerFeeTxID
		amount, price, txFee, fee = m.TradeAmount, m.TradePrice, m.TxFee, m.TakerFee
	case *domain.SwapRequest:
		offerID, takerFeeTxID = m.OfferID, m.TakerFeeTxID
		amount, price, txFee, fee = m.TradeAmount, m.TradePrice, m.TxFee, m.TakerFee
	default:
		return nil, domain.ErrTradeNotFound
	}

	if tradeID != domain.DeriveTradeID(offerID, takerFeeTxID) {
		return nil, domain.ErrInvalidTradeID
	}

	s.offerLock.Lock()
	defer s.offerLock.Unlock()

	// A retried request may have created the trade meanwhile.
	if trade, err := s.repoManager.TradeRepository().GetTrade(ctx, tradeID); err == nil {
		return trade, nil
	}

	offers := s.repoManager.OfferRepository()
	offer, err := offers.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if !offer.UseMarketPrice && !price.Equal(offer.Price) {
		return nil, ErrPriceMismatch
	}

	trade, err = domain.NewTrade(
		tradeID, *offer, domain.PositionMaker, amount, price, txFee, fee,
	)
	if err != nil {
		return nil, err
	}
	trade.CreatedAt = s.clock.Now().Unix()
	trade.TakerFeeTxID = takerFeeTxID

	// An offer can be taken only once.
	if err := offers.DeleteOffer(ctx, offerID); err != nil {
		return nil, err
	}
	if err := s.repoManager.TradeRepository().AddTrade(ctx, trade); err != nil {
		if err := offers.AddOffer(ctx, offer); err != nil {
			log.WithError(err).WithField("offer_id", offerID).Warn("failed to reopen offer")
		}
		return nil, err
	}

	log.WithField("trade_id", tradeID).Infof(
		"offer %s taken for %d sats", offerID, amount,
	)
	return trade, nil
}
