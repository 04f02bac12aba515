package protocol

import (
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

var (
	makerProcessesInputsForDepositTxRequest = newTask("MakerProcessesInputsForDepositTxRequest",
		func(s *Step, t *domain.Trade) Result {
			m, err := messageOf[*domain.InputsForDepositTxRequest](s)
			if err != nil {
				return Fail(err)
			}
			if err := checkTakeRequest(t, m.Header(), m.OfferID, m.TakerFeeTxID, m.TradeAmount); err != nil {
				return Fail(err)
			}

			peer := &t.ProcessModel.Peer
			peer.NodeAddress = m.SenderNodeAddress
			peer.PubKeyRing = m.TakerPubKeyRing
			peer.AccountID = m.TakerAccountID
			peer.MultisigPubKey = m.TakerMultisigPubKey
			peer.PayoutAddress = m.TakerPayoutAddress
			peer.ChangeAddress = m.TakerChangeAddress
			peer.RawInputs = m.TakerRawInputs
			peer.FeeTxID = m.TakerFeeTxID
			peer.PaymentAccountPayloadHash = m.PaymentAccountPayloadHash
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

	makerVerifyTakerFeePayment = newTask("MakerVerifyTakerFeePayment",
		func(s *Step, t *domain.Trade) Result {
			if res := verifyFeePayment(s, t, t.ProcessModel.Peer.FeeTxID); res.err != nil {
				return res
			}
			if t.Variant.Generation == domain.GenerationEscrow {
				if err := t.SetState(domain.StateTakerPublishedTakerFeeTx); err != nil {
					return Fail(err)
				}
			}
			return Continue(t)
		},
	)

	makerSetsLockTime = newTask("MakerSetsLockTime",
		func(s *Step, t *domain.Trade) Result {
			env := s.p.env
			t.LockTime = env.Clock.Now().Add(env.Config.LockTimeDelay).Unix()
			return Continue(t)
		},
	)

	makerCreatesAndSignsContract = newTask("MakerCreatesAndSignsContract",
		func(s *Step, t *domain.Trade) Result {
			contract := buildContract(t)
			hash, err := contract.Hash()
			if err != nil {
				return Fail(err)
			}
			sig, err := s.p.env.KeyRing.Sign(hash)
			if err != nil {
				return Fail(err)
			}
			t.Contract = &contract
			t.MakerContractSignature = sig
			return Continue(t)
		},
	)

	makerCreatesDepositTx = newTask("MakerCreatesDepositTx",
		func(s *Step, t *domain.Trade) Result {
			if err := fundTrade(s, t); err != nil {
				return Fail(err)
			}
			txID, txHex, err := s.p.env.Wallet.CreateDepositTx(s.ctx, depositTxArgs(t))
			if err != nil {
				return Fail(err)
			}
			if err := t.SetDepositTx(txID, txHex); err != nil {
				return Fail(err)
			}
			t.ProcessModel.PreparedDepositTx = txHex
			return Continue(t)
		},
	)

	makerSendsInputsForDepositTxResponse = newTask("MakerSendsInputsForDepositTxResponse",
		func(s *Step, t *domain.Trade) Result {
			pm := t.ProcessModel
			var payloadHash []byte
			if pm.MyPaymentAccountPayload != nil {
				payloadHash = pm.MyPaymentAccountPayload.Hash()
			}
			msg := &domain.InputsForDepositTxResponse{
				MessageHeader:             domain.NewMessageHeader(t.ID, s.p.env.P2P.Address()),
				MakerAccountID:            pm.AccountID,
				MakerMultisigPubKey:       pm.MyMultisigPubKey,
				MakerPayoutAddress:        pm.MyPayoutAddress,
				MakerChangeAddress:        pm.MyChangeAddress,
				MakerRawInputs:            pm.MyRawInputs,
				PaymentAccountPayloadHash: payloadHash,
				Contract:                  *t.Contract,
				MakerContractSignature:    t.MakerContractSignature,
				PreparedDepositTx:         pm.PreparedDepositTx,
				LockTime:                  t.LockTime,
			}
			if err := s.p.sendDirect(s.ctx, t, msg); err != nil {
				return Fail(err)
			}
			if err := t.SetState(domain.StateMakerSentInputsForDepositTxResponse); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)
)

// checkTakeRequest validates the terms requested by the taker against the
// maker's trade.
func checkTakeRequest(
	t *domain.Trade, header domain.MessageHeader, offerID, takerFeeTxID string, amount int64,
) error {
	if offerID != t.Offer.ID {
		return domain.ErrOfferNotFound
	}
	if domain.DeriveTradeID(offerID, takerFeeTxID) != header.TradeID {
		return domain.ErrInvalidTradeID
	}
	if amount != t.Amount || !t.Offer.IsAmountInRange(amount) {
		return domain.ErrInvalidAmount
	}
	return nil
}
