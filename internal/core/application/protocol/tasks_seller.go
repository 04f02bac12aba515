package protocol

import (
	"bytes"
	"fmt"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
)

var (
	sellerProcessesDepositTxMessage = newTask("SellerProcessesDepositTxMessage",
		func(s *Step, t *domain.Trade) Result {
			m, err := messageOf[*domain.DepositTxMessage](s)
			if err != nil {
				return Fail(err)
			}
			if err := checkTxID(s, m.DepositTx, t.DepositTxID); err != nil {
				return Fail(fmt.Errorf("invalid deposit tx: %w", err))
			}
			if err := verifyPeerContractSignature(s, t, m.TakerContractSignature); err != nil {
				return Fail(err)
			}
			t.TakerContractSignature = m.TakerContractSignature
			t.ProcessModel.Peer.ContractSignature = m.TakerContractSignature
			t.ProcessModel.Peer.SignedDepositTx = m.DepositTx
			return Continue(t)
		},
	)

	sellerCreatesDelayedPayoutTx = newTask("SellerCreatesDelayedPayoutTx",
		func(s *Step, t *domain.Trade) Result {
			txHex, err := s.p.env.Wallet.CreateDelayedPayoutTx(s.ctx, delayedPayoutTxArgs(s, t))
			if err != nil {
				return Fail(err)
			}
			t.ProcessModel.PreparedDelayedPayoutTx = txHex
			return Continue(t)
		},
	)

	sellerSignsDelayedPayoutTx = newTask("SellerSignsDelayedPayoutTx",
		func(s *Step, t *domain.Trade) Result {
			sig, err := s.p.env.Wallet.SignEscrowInput(
				s.ctx, t.ProcessModel.PreparedDelayedPayoutTx, escrowOf(t), t.ID,
			)
			if err != nil {
				return Fail(err)
			}
			t.ProcessModel.MyDelayedPayoutTxSignature = sig
			return Continue(t)
		},
	)

	sellerSendsDelayedPayoutTxSignatureRequest = newTask("SellerSendsDelayedPayoutTxSignatureRequest",
		func(s *Step, t *domain.Trade) Result {
			msg := &domain.DelayedPayoutTxSignatureRequest{
				MessageHeader:   domain.NewMessageHeader(t.ID, s.p.env.P2P.Address()),
				DelayedPayoutTx: t.ProcessModel.PreparedDelayedPayoutTx,
				SellerSignature: t.ProcessModel.MyDelayedPayoutTxSignature,
			}
			if t.IsTaker() {
				msg.TakerContractSignature = t.TakerContractSignature
			}
			if err := s.p.sendDirect(s.ctx, t, msg); err != nil {
				return Fail(err)
			}
			if err := t.SetState(domain.StateSellerSentDelayedPayoutTxSignatureRequest); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	sellerProcessesDelayedPayoutTxSignatureResponse = newTask(
		"SellerProcessesDelayedPayoutTxSignatureResponse",
		func(s *Step, t *domain.Trade) Result {
			m, err := messageOf[*domain.DelayedPayoutTxSignatureResponse](s)
			if err != nil {
				return Fail(err)
			}
			escrow := escrowOf(t)
			if err := s.p.env.Wallet.VerifyEscrowSignature(
				s.ctx, t.ProcessModel.PreparedDelayedPayoutTx, escrow,
				escrow.BuyerPubKey, m.BuyerSignature,
			); err != nil {
				return Fail(err)
			}
			if err := checkTxID(s, m.SignedDepositTx, t.DepositTxID); err != nil {
				return Fail(fmt.Errorf("invalid deposit tx: %w", err))
			}
			t.ProcessModel.Peer.DelayedPayoutTxSignature = m.BuyerSignature
			t.ProcessModel.Peer.SignedDepositTx = m.SignedDepositTx
			return Continue(t)
		},
	)

	sellerFinalizesDepositTx = newTask("SellerFinalizesDepositTx",
		func(s *Step, t *domain.Trade) Result {
			w := s.p.env.Wallet
			pm := &t.ProcessModel
			signed, err := w.SignTxInputs(s.ctx, pm.PreparedDepositTx, prevOuts(t))
			if err != nil {
				return Fail(err)
			}
			final, err := w.CombineTxSignatures(s.ctx, signed, pm.Peer.SignedDepositTx)
			if err != nil {
				return Fail(err)
			}
			if err := checkTxID(s, final, t.DepositTxID); err != nil {
				return Fail(err)
			}
			if err := t.SetDepositTx(t.DepositTxID, final); err != nil {
				return Fail(err)
			}
			pm.PreparedDepositTx = final
			return Continue(t)
		},
	)

	sellerFinalizesDelayedPayoutTx = newTask("SellerFinalizesDelayedPayoutTx",
		func(s *Step, t *domain.Trade) Result {
			pm := t.ProcessModel
			final, err := s.p.env.Wallet.FinalizeEscrowSpend(
				s.ctx, pm.PreparedDelayedPayoutTx, escrowOf(t),
				pm.Peer.DelayedPayoutTxSignature, pm.MyDelayedPayoutTxSignature,
			)
			if err != nil {
				return Fail(err)
			}
			if err := t.SetDelayedPayoutTx(final); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	sellerSendsDepositTxAndDelayedPayoutTxMessage = newTask(
		"SellerSendsDepositTxAndDelayedPayoutTxMessage",
		func(s *Step, t *domain.Trade) Result {
			msg := &domain.DepositTxAndDelayedPayoutTxMessage{
				MessageHeader:   domain.NewMessageHeader(t.ID, s.p.env.P2P.Address()),
				DepositTx:       t.DepositTx,
				DelayedPayoutTx: t.DelayedPayoutTx,
			}
			if _, err := s.p.sendMailbox(s.ctx, t, msg); err != nil {
				return Fail(err)
			}
			if err := t.SetState(domain.StateSellerSentDepositTxAndDelayedPayoutTxMessage); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	sellerPublishesDepositTx = newTask("SellerPublishesDepositTx",
		func(s *Step, t *domain.Trade) Result {
			w := s.p.env.Wallet
			published, err := w.IsTransactionPublished(s.ctx, t.DepositTxID)
			if err != nil {
				return Fail(err)
			}
			if !published {
				if _, err := w.BroadcastTransaction(s.ctx, t.DepositTx); err != nil {
					return Fail(err)
				}
			}
			if err := t.SetState(domain.StateSellerPublishedDepositTx); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	sellerProcessesShareBuyerPaymentAccountMessage = newTask(
		"SellerProcessesShareBuyerPaymentAccountMessage",
		func(s *Step, t *domain.Trade) Result {
			m, err := messageOf[*domain.ShareBuyerPaymentAccountMessage](s)
			if err != nil {
				return Fail(err)
			}
			if t.Contract == nil {
				return Fail(domain.ErrMissingContract)
			}
			expected := t.Contract.TakerPaymentAccountPayloadHash
			if t.Contract.IsBuyerMakerAndSellerTaker {
				expected = t.Contract.MakerPaymentAccountPayloadHash
			}
			payload := m.BuyerPaymentAccountPayload
			if !bytes.Equal(payload.Hash(), expected) {
				return Failf("buyer payment account does not match the contract")
			}
			t.ProcessModel.Peer.PaymentAccountPayload = &payload
			return Continue(t)
		},
	)

	sellerProcessesCounterCurrencyTransferStartedMessage = newTask(
		"SellerProcessesCounterCurrencyTransferStartedMessage",
		func(s *Step, t *domain.Trade) Result {
			m, err := messageOf[*domain.CounterCurrencyTransferStartedMessage](s)
			if err != nil {
				return Fail(err)
			}
			if m.BuyerPayoutAddress != t.ProcessModel.Peer.PayoutAddress {
				return Failf("buyer payout address does not match the contract")
			}
			w := s.p.env.Wallet
			txHex, err := w.CreatePayoutTx(s.ctx, payoutTxArgs(t))
			if err != nil {
				return Fail(err)
			}
			escrow := escrowOf(t)
			if err := w.VerifyEscrowSignature(
				s.ctx, txHex, escrow, escrow.BuyerPubKey, m.BuyerSignature,
			); err != nil {
				return Fail(err)
			}
			t.ProcessModel.Peer.PayoutTxSignature = m.BuyerSignature
			t.ProcessModel.Peer.CounterCurrencyTxID = m.CounterCurrencyTxID
			if err := t.SetState(domain.StateSellerReceivedPaymentInitiatedMessage); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	sellerSignsAndFinalizesPayoutTx = newTask("SellerSignsAndFinalizesPayoutTx",
		func(s *Step, t *domain.Trade) Result {
			w := s.p.env.Wallet
			pm := &t.ProcessModel
			escrow := escrowOf(t)
			txHex, err := w.CreatePayoutTx(s.ctx, payoutTxArgs(t))
			if err != nil {
				return Fail(err)
			}
			sig, err := w.SignEscrowInput(s.ctx, txHex, escrow, t.ID)
			if err != nil {
				return Fail(err)
			}
			final, err := w.FinalizeEscrowSpend(s.ctx, txHex, escrow, pm.Peer.PayoutTxSignature, sig)
			if err != nil {
				return Fail(err)
			}
			pm.MyPayoutTxSignature = sig
			pm.PreparedPayoutTx = final
			return Continue(t)
		},
	)

	// sellerBroadcastsPayoutTx records the payout on the trade only once it
	// is broadcast, so a failure leaves the escrow spendable by a retry or
	// the delayed payout.
	sellerBroadcastsPayoutTx = newTask("SellerBroadcastsPayoutTx",
		func(s *Step, t *domain.Trade) Result {
			if err := broadcastPayoutTx(s, t); err != nil {
				return Fail(err)
			}
			if err := t.SetState(domain.StateSellerPublishedPayoutTx); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	// sellerSendsPayoutTxPublishedMessage does not fail the step if the buyer
	// can't be reached: the payout is already on chain.
	sellerSendsPayoutTxPublishedMessage = newTask("SellerSendsPayoutTxPublishedMessage",
		func(s *Step, t *domain.Trade) Result {
			msg := &domain.PayoutTxPublishedMessage{
				MessageHeader: domain.NewMessageHeader(t.ID, s.p.env.P2P.Address()),
				PayoutTx:      t.PayoutTx,
			}
			if err := t.SetState(domain.StateSellerSentPayoutTxPublishedMessage); err != nil {
				return Fail(err)
			}

			outcome, err := s.p.sendMailbox(s.ctx, t, msg)
			next := domain.StateSellerSawArrivedPayoutTxPublishedMessage
			switch {
			case err != nil:
				s.p.logger().WithError(err).Warn("payout published message not delivered")
				next = domain.StateSellerSendFailedPayoutTxPublishedMessage
			case outcome == ports.DeliveryStoredInMailbox:
				next = domain.StateSellerStoredInMailboxPayoutTxPublishedMessage
			}
			if err := t.SetState(next); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)
)
