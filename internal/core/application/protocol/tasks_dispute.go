package protocol

import (
	"fmt"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
)

var (
	signMediatedPayoutTx = newTask("SignMediatedPayoutTx",
		func(s *Step, t *domain.Trade) Result {
			if t.MediationResult == nil {
				return Failf("no mediation result")
			}
			w := s.p.env.Wallet
			txHex, err := w.CreatePayoutTx(s.ctx, mediatedPayoutTxArgs(t))
			if err != nil {
				return Fail(err)
			}
			sig, err := w.SignEscrowInput(s.ctx, txHex, escrowOf(t), t.ID)
			if err != nil {
				return Fail(err)
			}
			t.ProcessModel.MyMediatedPayoutTxSignature = sig
			return Continue(t)
		},
	)

	sendMediatedPayoutSignatureMessage = newTask("SendMediatedPayoutSignatureMessage",
		func(s *Step, t *domain.Trade) Result {
			msg := &domain.MediatedPayoutTxSignatureMessage{
				MessageHeader: domain.NewMessageHeader(t.ID, s.p.env.P2P.Address()),
				Signature:     t.ProcessModel.MyMediatedPayoutTxSignature,
			}
			t.MediationResultState = domain.MediationResultSigMsgSent
			outcome, err := s.p.sendMailbox(s.ctx, t, msg)
			switch {
			case err != nil:
				s.p.logger().WithError(err).Warn("mediated payout signature not delivered")
				t.MediationResultState = domain.MediationResultSigMsgSendFailed
			case outcome == ports.DeliveryStoredInMailbox:
				t.MediationResultState = domain.MediationResultSigMsgInMailbox
			default:
				t.MediationResultState = domain.MediationResultSigMsgArrived
			}
			return Continue(t)
		},
	)

	processMediatedPayoutTxSignatureMessage = newTask("ProcessMediatedPayoutTxSignatureMessage",
		func(s *Step, t *domain.Trade) Result {
			m, err := messageOf[*domain.MediatedPayoutTxSignatureMessage](s)
			if err != nil {
				return Fail(err)
			}
			if t.MediationResult == nil {
				return Failf("no mediation result")
			}
			w := s.p.env.Wallet
			txHex, err := w.CreatePayoutTx(s.ctx, mediatedPayoutTxArgs(t))
			if err != nil {
				return Fail(err)
			}
			escrow := escrowOf(t)
			peerKey := escrow.SellerPubKey
			if t.IsSeller() {
				peerKey = escrow.BuyerPubKey
			}
			if err := w.VerifyEscrowSignature(s.ctx, txHex, escrow, peerKey, m.Signature); err != nil {
				return Fail(err)
			}
			t.ProcessModel.Peer.MediatedPayoutTxSignature = m.Signature
			t.MediationResultState = domain.MediationResultReceivedSigMsg
			return Continue(t)
		},
	)

	finalizeMediatedPayoutTx = newTask("FinalizeMediatedPayoutTx",
		func(s *Step, t *domain.Trade) Result {
			w := s.p.env.Wallet
			pm := t.ProcessModel
			txHex, err := w.CreatePayoutTx(s.ctx, mediatedPayoutTxArgs(t))
			if err != nil {
				return Fail(err)
			}
			buyerSig, sellerSig := buyerAndSeller(
				t, pm.MyMediatedPayoutTxSignature, pm.Peer.MediatedPayoutTxSignature,
			)
			final, err := w.FinalizeEscrowSpend(s.ctx, txHex, escrowOf(t), buyerSig, sellerSig)
			if err != nil {
				return Fail(err)
			}
			t.ProcessModel.PreparedPayoutTx = final
			return Continue(t)
		},
	)

	broadcastMediatedPayoutTx = newTask("BroadcastMediatedPayoutTx",
		func(s *Step, t *domain.Trade) Result {
			if err := broadcastPayoutTx(s, t); err != nil {
				return Fail(err)
			}
			if err := t.SetState(domain.StateMediatedPayoutTxPublished); err != nil {
				return Fail(err)
			}
			t.MediationResultState = domain.MediationResultPayoutTxPublished
			t.DisputeState = domain.DisputeStateMediationClosed
			return Continue(t)
		},
	)

	sendMediatedPayoutTxPublishedMessage = newTask("SendMediatedPayoutTxPublishedMessage",
		func(s *Step, t *domain.Trade) Result {
			msg := &domain.MediatedPayoutTxPublishedMessage{
				MessageHeader: domain.NewMessageHeader(t.ID, s.p.env.P2P.Address()),
				PayoutTx:      t.PayoutTx,
			}
			if _, err := s.p.sendMailbox(s.ctx, t, msg); err != nil {
				s.p.logger().WithError(err).Warn("mediated payout published message not delivered")
				return Continue(t)
			}
			t.MediationResultState = domain.MediationResultPayoutTxPublishedMsgSent
			return Continue(t)
		},
	)

	processMediatedPayoutTxPublishedMessage = newTask("ProcessMediatedPayoutTxPublishedMessage",
		func(s *Step, t *domain.Trade) Result {
			m, err := messageOf[*domain.MediatedPayoutTxPublishedMessage](s)
			if err != nil {
				return Fail(err)
			}
			w := s.p.env.Wallet
			txID, err := w.TxID(m.PayoutTx)
			if err != nil {
				return Fail(err)
			}
			if t.MediationResult != nil {
				expected, err := w.CreatePayoutTx(s.ctx, mediatedPayoutTxArgs(t))
				if err != nil {
					return Fail(err)
				}
				if err := checkTxID(s, expected, txID); err != nil {
					return Fail(fmt.Errorf("invalid mediated payout tx: %w", err))
				}
			}
			t.SetPayoutTx(txID, m.PayoutTx)
			if err := t.SetState(domain.StateMediatedPayoutTxPublished); err != nil {
				return Fail(err)
			}
			t.MediationResultState = domain.MediationResultReceivedPayoutTxPublishedMsg
			t.DisputeState = domain.DisputeStateMediationClosed
			return Continue(t)
		},
	)

	publishDelayedPayoutTx = newTask("PublishDelayedPayoutTx",
		func(s *Step, t *domain.Trade) Result {
			if t.DisputeState == domain.DisputeStateDelayedPayoutTxPublished ||
				t.DisputeState == domain.DisputeStatePeerPublishedDelayedPayoutTx {
				return Continue(t)
			}
			if now := s.p.env.Clock.Now().Unix(); now < t.LockTime {
				return Fail(fmt.Errorf(
					"%w: %d seconds left", ErrLockTimeNotReached, t.LockTime-now,
				))
			}
			if _, err := s.p.env.Wallet.BroadcastTransaction(s.ctx, t.DelayedPayoutTx); err != nil {
				return Fail(err)
			}
			t.DisputeState = domain.DisputeStateDelayedPayoutTxPublished
			return Continue(t)
		},
	)

	sendPeerPublishedDelayedPayoutTxMessage = newTask("SendPeerPublishedDelayedPayoutTxMessage",
		func(s *Step, t *domain.Trade) Result {
			msg := &domain.PeerPublishedDelayedPayoutTxMessage{
				MessageHeader: domain.NewMessageHeader(t.ID, s.p.env.P2P.Address()),
			}
			if t.DisputeState == domain.DisputeStatePeerPublishedDelayedPayoutTx {
				return Continue(t)
			}
			if _, err := s.p.sendMailbox(s.ctx, t, msg); err != nil {
				s.p.logger().WithError(err).Warn("failed to notify peer of delayed payout")
			}
			return Continue(t)
		},
	)
)
