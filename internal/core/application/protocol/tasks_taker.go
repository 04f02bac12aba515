package protocol

import (
	"fmt"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

var (
	// createTakerFeeTx publishes the taker fee transaction prepared when the
	// trade was created, the trade id being derived from its id.
	createTakerFeeTx = newTask("CreateTakerFeeTx",
		func(s *Step, t *domain.Trade) Result {
			pm := &t.ProcessModel
			if !pm.TakerFeeTxPublished {
				if pm.TakerFeeTx == "" {
					return Failf("missing prepared taker fee transaction")
				}
				txID, err := s.p.env.Wallet.BroadcastTransaction(s.ctx, pm.TakerFeeTx)
				if err != nil {
					return Fail(err)
				}
				if t.TakerFeeTxID != "" && txID != t.TakerFeeTxID {
					return Fail(fmt.Errorf(
						"%w: broadcasted fee tx %s, expected %s", ErrTxMismatch, txID, t.TakerFeeTxID,
					))
				}
				t.TakerFeeTxID = txID
				pm.TakerFeeTxPublished = true
			}
			if t.Variant.Generation == domain.GenerationEscrow {
				if err := t.SetState(domain.StateTakerPublishedTakerFeeTx); err != nil {
					return Fail(err)
				}
			}
			return Continue(t)
		},
	)

	takerCreatesDepositTxInputs = newTask("TakerCreatesDepositTxInputs",
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

	takerSendsInputsForDepositTxRequest = newTask("TakerSendsInputsForDepositTxRequest",
		func(s *Step, t *domain.Trade) Result {
			pm := t.ProcessModel
			var payloadHash []byte
			if pm.MyPaymentAccountPayload != nil {
				payloadHash = pm.MyPaymentAccountPayload.Hash()
			}
			msg := &domain.InputsForDepositTxRequest{
				MessageHeader:             domain.NewMessageHeader(t.ID, s.p.env.P2P.Address()),
				OfferID:                   t.Offer.ID,
				TradeAmount:               t.Amount,
				TradePrice:                t.Price,
				TxFee:                     t.TxFee,
				TakerFee:                  t.TakerFee,
				TakerFeeTxID:              t.TakerFeeTxID,
				TakerAccountID:            pm.AccountID,
				TakerPubKeyRing:           pm.MyPubKeyRing,
				TakerMultisigPubKey:       pm.MyMultisigPubKey,
				TakerPayoutAddress:        pm.MyPayoutAddress,
				TakerChangeAddress:        pm.MyChangeAddress,
				TakerRawInputs:            pm.MyRawInputs,
				PaymentAccountPayloadHash: payloadHash,
			}
			if err := s.p.sendDirect(s.ctx, t, msg); err != nil {
				return Fail(err)
			}
			if err := t.SetState(domain.StateTakerSentInputsForDepositTxRequest); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)

	takerProcessesInputsForDepositTxResponse = newTask("TakerProcessesInputsForDepositTxResponse",
		func(s *Step, t *domain.Trade) Result {
			m, err := messageOf[*domain.InputsForDepositTxResponse](s)
			if err != nil {
				return Fail(err)
			}
			if m.LockTime <= 0 {
				return Failf("invalid lock time %d", m.LockTime)
			}
			if err := validatePeerInputs(t, m.MakerRawInputs); err != nil {
				return Fail(err)
			}

			peer := &t.ProcessModel.Peer
			peer.AccountID = m.MakerAccountID
			peer.MultisigPubKey = m.MakerMultisigPubKey
			peer.PayoutAddress = m.MakerPayoutAddress
			peer.ChangeAddress = m.MakerChangeAddress
			peer.RawInputs = m.MakerRawInputs
			peer.PaymentAccountPayloadHash = m.PaymentAccountPayloadHash
			peer.ContractSignature = m.MakerContractSignature
			t.MakerContractSignature = m.MakerContractSignature
			t.LockTime = m.LockTime

			txID, _, err := s.p.env.Wallet.CreateDepositTx(s.ctx, depositTxArgs(t))
			if err != nil {
				return Fail(err)
			}
			if err := checkTxID(s, m.PreparedDepositTx, txID); err != nil {
				return Fail(fmt.Errorf("invalid prepared deposit tx: %w", err))
			}
			if err := t.SetDepositTx(txID, m.PreparedDepositTx); err != nil {
				return Fail(err)
			}
			t.ProcessModel.PreparedDepositTx = m.PreparedDepositTx
			return Continue(t)
		},
	)

	takerVerifiesAndSignsContract = newTask("TakerVerifiesAndSignsContract",
		func(s *Step, t *domain.Trade) Result {
			m, err := messageOf[*domain.InputsForDepositTxResponse](s)
			if err != nil {
				return Fail(err)
			}
			contract := buildContract(t)
			if !contract.Equal(m.Contract) {
				return Fail(ErrContractMismatch)
			}
			t.Contract = &contract

			if err := verifyPeerContractSignature(s, t, t.MakerContractSignature); err != nil {
				return Fail(err)
			}
			hash, err := contract.Hash()
			if err != nil {
				return Fail(err)
			}
			sig, err := s.p.env.KeyRing.Sign(hash)
			if err != nil {
				return Fail(err)
			}
			t.TakerContractSignature = sig
			return Continue(t)
		},
	)
)

// setMakerAsPeer fills the peer data the taker knows from the offer.
func setMakerAsPeer(t *domain.Trade) {
	peer := &t.ProcessModel.Peer
	peer.NodeAddress = t.Offer.MakerNodeAddress
	peer.PubKeyRing = t.Offer.MakerPubKeyRing
	peer.FeeTxID = t.Offer.MakerFeeTxID
}
