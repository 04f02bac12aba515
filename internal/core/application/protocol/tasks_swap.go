package protocol

import (
	"fmt"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

var (
	swapTakerCreatesInputs = newTask("SwapTakerCreatesInputs",
		func(s *Step, t *domain.Trade) Result {
			setMakerAsPeer(t)
			if err := prepareTraderData(s, t); err != nil {
				return Fail(err)
			}
			if err := fundTrade(s, t); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	swapTakerSendsSwapRequest = newTask("SwapTakerSendsSwapRequest",
		func(s *Step, t *domain.Trade) Result {
			pm := t.ProcessModel
			msg := &domain.SwapRequest{
				MessageHeader:       domain.NewMessageHeader(t.ID, s.p.env.P2P.Address()),
				OfferID:             t.Offer.ID,
				TradeAmount:         t.Amount,
				TradePrice:          t.Price,
				TxFee:               t.TxFee,
				TakerFee:            t.TakerFee,
				TakerFeeTxID:        t.TakerFeeTxID,
				TakerPubKeyRing:     pm.MyPubKeyRing,
				TakerReceiveAddress: pm.MyPayoutAddress,
				TakerChangeAddress:  pm.MyChangeAddress,
				TakerRawInputs:      pm.MyRawInputs,
			}
			if err := s.p.sendDirect(s.ctx, t, msg); err != nil {
				return Fail(err)
			}
			if err := t.SetState(domain.StateSwapTakerSentRequest); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	swapMakerProcessesSwapRequest = newTask("SwapMakerProcessesSwapRequest",
		func(s *Step, t *domain.Trade) Result {
			m, err := messageOf[*domain.SwapRequest](s)
			if err != nil {
				return Fail(err)
			}
			if err := checkTakeRequest(t, m.Header(), m.OfferID, m.TakerFeeTxID, m.TradeAmount); err != nil {
				return Fail(err)
			}
			peer := &t.ProcessModel.Peer
			peer.NodeAddress = m.SenderNodeAddress
			peer.PubKeyRing = m.TakerPubKeyRing
			peer.PayoutAddress = m.TakerReceiveAddress
			peer.ChangeAddress = m.TakerChangeAddress
			peer.RawInputs = m.TakerRawInputs
			peer.FeeTxID = m.TakerFeeTxID
			t.TakerFeeTxID = m.TakerFeeTxID

			if err := validatePeerInputs(t, m.TakerRawInputs); err != nil {
				return Fail(err)
			}
			if err := prepareTraderData(s, t); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	swapMakerCreatesInputs = newTask("SwapMakerCreatesInputs",
		func(s *Step, t *domain.Trade) Result {
			if err := fundTrade(s, t); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	swapMakerSendsTxInputsMessage = newTask("SwapMakerSendsTxInputsMessage",
		func(s *Step, t *domain.Trade) Result {
			pm := t.ProcessModel
			msg := &domain.SwapTxInputsMessage{
				MessageHeader:       domain.NewMessageHeader(t.ID, s.p.env.P2P.Address()),
				MakerReceiveAddress: pm.MyPayoutAddress,
				MakerChangeAddress:  pm.MyChangeAddress,
				MakerRawInputs:      pm.MyRawInputs,
			}
			if err := s.p.sendDirect(s.ctx, t, msg); err != nil {
				return Fail(err)
			}
			if err := t.SetState(domain.StateSwapMakerSentTxInputs); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	swapTakerProcessesTxInputsMessage = newTask("SwapTakerProcessesTxInputsMessage",
		func(s *Step, t *domain.Trade) Result {
			m, err := messageOf[*domain.SwapTxInputsMessage](s)
			if err != nil {
				return Fail(err)
			}
			if err := validatePeerInputs(t, m.MakerRawInputs); err != nil {
				return Fail(err)
			}
			peer := &t.ProcessModel.Peer
			peer.PayoutAddress = m.MakerReceiveAddress
			peer.ChangeAddress = m.MakerChangeAddress
			peer.RawInputs = m.MakerRawInputs
			return Continue(t)
		},
	)

	swapTakerCreatesAndSignsTx = newTask("SwapTakerCreatesAndSignsTx",
		func(s *Step, t *domain.Trade) Result {
			w := s.p.env.Wallet
			txHex, err := w.CreateSwapTx(s.ctx, swapTxArgs(t))
			if err != nil {
				return Fail(err)
			}
			signed, err := w.SignTxInputs(s.ctx, txHex, prevOuts(t))
			if err != nil {
				return Fail(err)
			}
			t.ProcessModel.PreparedSwapTx = signed
			return Continue(t)
		},
	)

	swapTakerSendsFinalizeTxRequest = newTask("SwapTakerSendsFinalizeTxRequest",
		func(s *Step, t *domain.Trade) Result {
			msg := &domain.SwapFinalizeTxRequest{
				MessageHeader: domain.NewMessageHeader(t.ID, s.p.env.P2P.Address()),
				SwapTx:        t.ProcessModel.PreparedSwapTx,
			}
			if err := s.p.sendDirect(s.ctx, t, msg); err != nil {
				return Fail(err)
			}
			if err := t.SetState(domain.StateSwapTakerSentFinalizeTxRequest); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	swapMakerProcessesFinalizeTxRequest = newTask("SwapMakerProcessesFinalizeTxRequest",
		func(s *Step, t *domain.Trade) Result {
			m, err := messageOf[*domain.SwapFinalizeTxRequest](s)
			if err != nil {
				return Fail(err)
			}
			w := s.p.env.Wallet
			expected, err := w.CreateSwapTx(s.ctx, swapTxArgs(t))
			if err != nil {
				return Fail(err)
			}
			expectedID, err := w.TxID(expected)
			if err != nil {
				return Fail(err)
			}
			if err := checkTxID(s, m.SwapTx, expectedID); err != nil {
				return Fail(fmt.Errorf("invalid swap tx: %w", err))
			}
			t.ProcessModel.PreparedSwapTx = m.SwapTx
			return Continue(t)
		},
	)

	swapMakerFinalizesTx = newTask("SwapMakerFinalizesTx",
		func(s *Step, t *domain.Trade) Result {
			w := s.p.env.Wallet
			final, err := w.SignTxInputs(s.ctx, t.ProcessModel.PreparedSwapTx, prevOuts(t))
			if err != nil {
				return Fail(err)
			}
			t.ProcessModel.PreparedPayoutTx = final
			return Continue(t)
		},
	)

	swapMakerPublishesTx = newTask("SwapMakerPublishesTx",
		func(s *Step, t *domain.Trade) Result {
			if err := broadcastPayoutTx(s, t); err != nil {
				return Fail(err)
			}
			if err := t.SetState(domain.StateSwapTxPublished); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	swapMakerSendsFinalizedTxMessage = newTask("SwapMakerSendsFinalizedTxMessage",
		func(s *Step, t *domain.Trade) Result {
			msg := &domain.SwapFinalizedTxMessage{
				MessageHeader: domain.NewMessageHeader(t.ID, s.p.env.P2P.Address()),
				SwapTx:        t.PayoutTx,
			}
			if _, err := s.p.sendMailbox(s.ctx, t, msg); err != nil {
				s.p.logger().WithError(err).Warn("swap finalized message not delivered")
			}
			return Continue(t)
		},
	)

	swapTakerProcessesFinalizedTxMessage = newTask("SwapTakerProcessesFinalizedTxMessage",
		func(s *Step, t *domain.Trade) Result {
			m, err := messageOf[*domain.SwapFinalizedTxMessage](s)
			if err != nil {
				return Fail(err)
			}
			w := s.p.env.Wallet
			expectedID, err := w.TxID(t.ProcessModel.PreparedSwapTx)
			if err != nil {
				return Fail(err)
			}
			if err := checkTxID(s, m.SwapTx, expectedID); err != nil {
				return Fail(fmt.Errorf("invalid swap tx: %w", err))
			}
			t.SetPayoutTx(expectedID, m.SwapTx)
			if err := t.SetState(domain.StateSwapTxPublished); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)
)
