package protocol

import (
	"fmt"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
)

var (
	buyerSendsDepositTxMessage = newTask("BuyerSendsDepositTxMessage",
		func(s *Step, t *domain.Trade) Result {
			msg := &domain.DepositTxMessage{
				MessageHeader:          domain.NewMessageHeader(t.ID, s.p.env.P2P.Address()),
				DepositTx:              t.ProcessModel.PreparedDepositTx,
				TakerContractSignature: t.TakerContractSignature,
			}
			if err := s.p.sendDirect(s.ctx, t, msg); err != nil {
				return Fail(err)
			}
			if err := t.SetState(domain.StateBuyerSentDepositTxMessage); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	buyerProcessesDelayedPayoutTxSignatureRequest = newTask("BuyerProcessesDelayedPayoutTxSignatureRequest",
		func(s *Step, t *domain.Trade) Result {
			m, err := messageOf[*domain.DelayedPayoutTxSignatureRequest](s)
			if err != nil {
				return Fail(err)
			}
			if t.IsMaker() {
				t.TakerContractSignature = m.TakerContractSignature
				t.ProcessModel.Peer.ContractSignature = m.TakerContractSignature
				if err := verifyPeerContractSignature(s, t, m.TakerContractSignature); err != nil {
					return Fail(err)
				}
			}
			if m.DelayedPayoutTx == "" || len(m.SellerSignature) == 0 {
				return Failf("missing delayed payout tx or seller signature")
			}
			t.ProcessModel.PreparedDelayedPayoutTx = m.DelayedPayoutTx
			t.ProcessModel.Peer.DelayedPayoutTxSignature = m.SellerSignature
			return Continue(t)
		},
	)

	buyerVerifiesPreparedDelayedPayoutTx = newTask("BuyerVerifiesPreparedDelayedPayoutTx",
		func(s *Step, t *domain.Trade) Result {
			w := s.p.env.Wallet
			pm := t.ProcessModel
			escrow := escrowOf(t)
			if err := w.VerifyDelayedPayoutTx(
				s.ctx, pm.PreparedDelayedPayoutTx, delayedPayoutTxArgs(s, t),
			); err != nil {
				return Fail(err)
			}
			if err := w.VerifyEscrowSignature(
				s.ctx, pm.PreparedDelayedPayoutTx, escrow,
				escrow.SellerPubKey, pm.Peer.DelayedPayoutTxSignature,
			); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	buyerSignsDelayedPayoutTx = newTask("BuyerSignsDelayedPayoutTx",
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

	buyerSendsDelayedPayoutTxSignatureResponse = newTask("BuyerSendsDelayedPayoutTxSignatureResponse",
		func(s *Step, t *domain.Trade) Result {
			msg := &domain.DelayedPayoutTxSignatureResponse{
				MessageHeader:   domain.NewMessageHeader(t.ID, s.p.env.P2P.Address()),
				BuyerSignature:  t.ProcessModel.MyDelayedPayoutTxSignature,
				SignedDepositTx: t.ProcessModel.PreparedDepositTx,
			}
			if err := s.p.sendDirect(s.ctx, t, msg); err != nil {
				return Fail(err)
			}
			if err := t.SetState(domain.StateBuyerSentDelayedPayoutTxSignatureResponse); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	buyerProcessesDepositTxAndDelayedPayoutTxMessage = newTask(
		"BuyerProcessesDepositTxAndDelayedPayoutTxMessage",
		func(s *Step, t *domain.Trade) Result {
			m, err := messageOf[*domain.DepositTxAndDelayedPayoutTxMessage](s)
			if err != nil {
				return Fail(err)
			}
			if err := checkTxID(s, m.DepositTx, t.DepositTxID); err != nil {
				return Fail(fmt.Errorf("invalid deposit tx: %w", err))
			}
			if err := t.SetDepositTx(t.DepositTxID, m.DepositTx); err != nil {
				return Fail(err)
			}
			if err := t.SetDelayedPayoutTx(m.DelayedPayoutTx); err != nil {
				return Fail(err)
			}
			// The message may arrive through the mailbox once the trade has
			// already moved on.
			if t.Phase <= domain.PhaseDepositPublished {
				if err := t.SetState(domain.StateBuyerReceivedDepositTxAndDelayedPayoutTxMessage); err != nil {
					return Fail(err)
				}
			}
			return Continue(t)
		},
	)

	buyerVerifiesFinalDelayedPayoutTx = newTask("BuyerVerifiesFinalDelayedPayoutTx",
		func(s *Step, t *domain.Trade) Result {
			if err := s.p.env.Wallet.VerifyDelayedPayoutTx(
				s.ctx, t.DelayedPayoutTx, delayedPayoutTxArgs(s, t),
			); err != nil {
				return Fail(err)
			}
			if prepared := t.ProcessModel.PreparedDelayedPayoutTx; prepared != "" {
				txID, err := s.p.env.Wallet.TxID(prepared)
				if err != nil {
					return Fail(err)
				}
				if err := checkTxID(s, t.DelayedPayoutTx, txID); err != nil {
					return Fail(fmt.Errorf("invalid delayed payout tx: %w", err))
				}
			}
			return Continue(t)
		},
	)

	buyerSendsShareBuyerPaymentAccountMessage = newTask("BuyerSendsShareBuyerPaymentAccountMessage",
		func(s *Step, t *domain.Trade) Result {
			payload := t.ProcessModel.MyPaymentAccountPayload
			if payload == nil {
				s.p.logger().Warn("no payment account to share with seller")
				return Continue(t)
			}
			msg := &domain.ShareBuyerPaymentAccountMessage{
				MessageHeader:              domain.NewMessageHeader(t.ID, s.p.env.P2P.Address()),
				BuyerPaymentAccountPayload: *payload,
			}
			if _, err := s.p.sendMailbox(s.ctx, t, msg); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	buyerSignsPayoutTx = newTask("BuyerSignsPayoutTx",
		func(s *Step, t *domain.Trade) Result {
			if len(t.ProcessModel.MyPayoutTxSignature) > 0 {
				return Continue(t)
			}
			w := s.p.env.Wallet
			txHex, err := w.CreatePayoutTx(s.ctx, payoutTxArgs(t))
			if err != nil {
				return Fail(err)
			}
			sig, err := w.SignEscrowInput(s.ctx, txHex, escrowOf(t), t.ID)
			if err != nil {
				return Fail(err)
			}
			t.ProcessModel.MyPayoutTxSignature = sig
			return Continue(t)
		},
	)

	// buyerSendsCounterCurrencyTransferStartedMessage does not fail the step
	// if the seller can't be reached: the message is resent on restart.
	buyerSendsCounterCurrencyTransferStartedMessage = newTask(
		"BuyerSendsCounterCurrencyTransferStartedMessage",
		func(s *Step, t *domain.Trade) Result {
			pm := t.ProcessModel
			msg := &domain.CounterCurrencyTransferStartedMessage{
				MessageHeader:       domain.NewMessageHeader(t.ID, s.p.env.P2P.Address()),
				BuyerPayoutAddress:  pm.MyPayoutAddress,
				BuyerSignature:      pm.MyPayoutTxSignature,
				CounterCurrencyTxID: pm.CounterCurrencyTxID,
			}
			if err := t.SetState(domain.StateBuyerSentPaymentInitiatedMessage); err != nil {
				return Fail(err)
			}

			outcome, err := s.p.sendMailbox(s.ctx, t, msg)
			next := domain.StateBuyerSawArrivedPaymentInitiatedMessage
			switch {
			case err != nil:
				s.p.logger().WithError(err).Warn("payment started message not delivered")
				next = domain.StateBuyerSendFailedPaymentInitiatedMessage
			case outcome == ports.DeliveryStoredInMailbox:
				next = domain.StateBuyerStoredInMailboxPaymentInitiatedMessage
			}
			if err := t.SetState(next); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	buyerProcessesPayoutTxPublishedMessage = newTask("BuyerProcessesPayoutTxPublishedMessage",
		func(s *Step, t *domain.Trade) Result {
			m, err := messageOf[*domain.PayoutTxPublishedMessage](s)
			if err != nil {
				return Fail(err)
			}
			w := s.p.env.Wallet
			expected, err := w.CreatePayoutTx(s.ctx, payoutTxArgs(t))
			if err != nil {
				return Fail(err)
			}
			expectedID, err := w.TxID(expected)
			if err != nil {
				return Fail(err)
			}
			if err := checkTxID(s, m.PayoutTx, expectedID); err != nil {
				return Fail(fmt.Errorf("invalid payout tx: %w", err))
			}
			t.SetPayoutTx(expectedID, m.PayoutTx)
			if err := t.SetState(domain.StateBuyerReceivedPayoutTxPublishedMessage); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)
)
