package protocol

import (
	"fmt"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
)

// fundingAmount is what the given side contributes to the deposit (or swap)
// transaction, miner fee share included.
func fundingAmount(t *domain.Trade, side domain.Side) int64 {
	feeShare := t.TxFee / 2
	if t.Variant.Generation == domain.GenerationAtomicSwap {
		if side == domain.SideBuyer {
			return domain.SwapCounterAmount(t.Amount, t.Price) + feeShare
		}
		return t.Amount + feeShare
	}
	if side == domain.SideBuyer {
		return t.BuyerDepositAmount() + feeShare
	}
	return t.SellerDepositAmount() + feeShare
}

func sumInputs(inputs []domain.RawInput) int64 {
	var sum int64
	for _, in := range inputs {
		sum += in.Value
	}
	return sum
}

// buyerAndSeller returns the local and peer values of something ordered as
// buyer first, seller second.
func buyerAndSeller[T any](t *domain.Trade, mine, peer T) (T, T) {
	if t.IsBuyer() {
		return mine, peer
	}
	return peer, mine
}

func makerAndTaker[T any](t *domain.Trade, mine, peer T) (T, T) {
	if t.IsMaker() {
		return mine, peer
	}
	return peer, mine
}

func escrowOf(t *domain.Trade) ports.Escrow {
	pm := t.ProcessModel
	buyerKey, sellerKey := buyerAndSeller(t, pm.MyMultisigPubKey, pm.Peer.MultisigPubKey)
	return ports.Escrow{
		DepositTxID:  t.DepositTxID,
		Amount:       t.EscrowAmount(),
		BuyerPubKey:  buyerKey,
		SellerPubKey: sellerKey,
	}
}

func depositInputs(t *domain.Trade) (buyer, seller []domain.RawInput) {
	pm := t.ProcessModel
	return buyerAndSeller(t, pm.MyRawInputs, pm.Peer.RawInputs)
}

// prevOuts lists all the inputs of a deposit or swap transaction in the
// order they appear in it.
func prevOuts(t *domain.Trade) []domain.RawInput {
	buyer, seller := depositInputs(t)
	all := make([]domain.RawInput, 0, len(buyer)+len(seller))
	all = append(all, buyer...)
	return append(all, seller...)
}

func depositTxArgs(t *domain.Trade) ports.DepositTxArgs {
	pm := t.ProcessModel
	buyerInputs, sellerInputs := depositInputs(t)
	buyerChange, sellerChange := buyerAndSeller(t, pm.MyChangeAddress, pm.Peer.ChangeAddress)
	escrow := escrowOf(t)
	return ports.DepositTxArgs{
		BuyerInputs:         buyerInputs,
		SellerInputs:        sellerInputs,
		BuyerContribution:   fundingAmount(t, domain.SideBuyer),
		SellerContribution:  fundingAmount(t, domain.SideSeller),
		BuyerChangeAddress:  buyerChange,
		SellerChangeAddress: sellerChange,
		BuyerPubKey:         escrow.BuyerPubKey,
		SellerPubKey:        escrow.SellerPubKey,
		EscrowAmount:        escrow.Amount,
	}
}

func delayedPayoutTxArgs(s *Step, t *domain.Trade) ports.DelayedPayoutTxArgs {
	return ports.DelayedPayoutTxArgs{
		Escrow:          escrowOf(t),
		DonationAddress: s.p.env.Config.DonationAddress,
		Fee:             t.TxFee,
		LockTime:        t.LockTime,
	}
}

func payoutAddresses(t *domain.Trade) (buyer, seller string) {
	pm := t.ProcessModel
	return buyerAndSeller(t, pm.MyPayoutAddress, pm.Peer.PayoutAddress)
}

func payoutTxArgs(t *domain.Trade) ports.PayoutTxArgs {
	buyerAddr, sellerAddr := payoutAddresses(t)
	return ports.PayoutTxArgs{
		Escrow:        escrowOf(t),
		BuyerAddress:  buyerAddr,
		BuyerAmount:   t.BuyerPayoutAmount(),
		SellerAddress: sellerAddr,
		SellerAmount:  t.SellerPayoutAmount(),
	}
}

func mediatedPayoutTxArgs(t *domain.Trade) ports.PayoutTxArgs {
	args := payoutTxArgs(t)
	args.BuyerAmount = t.MediationResult.BuyerPayoutAmount
	args.SellerAmount = t.MediationResult.SellerPayoutAmount
	return args
}

func swapTxArgs(t *domain.Trade) ports.SwapTxArgs {
	pm := t.ProcessModel
	buyerInputs, sellerInputs := depositInputs(t)
	buyerReceive, sellerReceive := payoutAddresses(t)
	buyerChange, sellerChange := buyerAndSeller(t, pm.MyChangeAddress, pm.Peer.ChangeAddress)

	counterAmount := domain.SwapCounterAmount(t.Amount, t.Price)
	outputs := []ports.TxOutput{
		{Address: buyerReceive, Amount: t.Amount},
		{Address: sellerReceive, Amount: counterAmount},
	}
	if change := sumInputs(buyerInputs) - fundingAmount(t, domain.SideBuyer); change > 0 {
		outputs = append(outputs, ports.TxOutput{Address: buyerChange, Amount: change})
	}
	if change := sumInputs(sellerInputs) - fundingAmount(t, domain.SideSeller); change > 0 {
		outputs = append(outputs, ports.TxOutput{Address: sellerChange, Amount: change})
	}
	return ports.SwapTxArgs{
		Inputs:  prevOuts(t),
		Outputs: outputs,
	}
}

func buildContract(t *domain.Trade) domain.Contract {
	pm := t.ProcessModel
	var myHash []byte
	if pm.MyPaymentAccountPayload != nil {
		myHash = pm.MyPaymentAccountPayload.Hash()
	}
	makerAccount, takerAccount := makerAndTaker(t, pm.AccountID, pm.Peer.AccountID)
	makerHash, takerHash := makerAndTaker(t, myHash, pm.Peer.PaymentAccountPayloadHash)
	makerKeys, takerKeys := makerAndTaker(t, pm.MyPubKeyRing, pm.Peer.PubKeyRing)
	makerMultisig, takerMultisig := makerAndTaker(t, pm.MyMultisigPubKey, pm.Peer.MultisigPubKey)
	makerPayout, takerPayout := makerAndTaker(t, pm.MyPayoutAddress, pm.Peer.PayoutAddress)
	buyerNode, sellerNode := buyerAndSeller(t, pm.MyNodeAddress, pm.Peer.NodeAddress)

	return domain.Contract{
		OfferID:                        t.Offer.ID,
		TradeAmount:                    t.Amount,
		TradePrice:                     t.Price.String(),
		TakerFeeTxID:                   t.TakerFeeTxID,
		BuyerNodeAddress:               buyerNode,
		SellerNodeAddress:              sellerNode,
		IsBuyerMakerAndSellerTaker:     t.Offer.Direction == domain.DirectionBuy,
		MakerAccountID:                 makerAccount,
		TakerAccountID:                 takerAccount,
		MakerPaymentAccountPayloadHash: makerHash,
		TakerPaymentAccountPayloadHash: takerHash,
		MakerPubKeyRing:                makerKeys,
		TakerPubKeyRing:                takerKeys,
		MakerMultisigPubKey:            makerMultisig,
		TakerMultisigPubKey:            takerMultisig,
		MakerPayoutAddress:             makerPayout,
		TakerPayoutAddress:             takerPayout,
		LockTime:                       t.LockTime,
	}
}

// verifyPeerContractSignature checks the peer signed the contract of the
// trade.
func verifyPeerContractSignature(s *Step, t *domain.Trade, sig []byte) error {
	if t.Contract == nil {
		return domain.ErrMissingContract
	}
	hash, err := t.Contract.Hash()
	if err != nil {
		return err
	}
	pubKey := t.ProcessModel.Peer.PubKeyRing.SignaturePubKey
	if err := s.p.env.KeyRing.Verify(pubKey, hash, sig); err != nil {
		return fmt.Errorf("invalid peer contract signature: %w", err)
	}
	return nil
}

// prepareTraderData fills the local trader data needed by the contract.
func prepareTraderData(s *Step, t *domain.Trade) error {
	env := s.p.env
	pm := &t.ProcessModel

	pm.MyNodeAddress = env.P2P.Address()
	pm.MyPubKeyRing = env.KeyRing.PubKeyRing()
	if pm.AccountID == "" {
		pm.AccountID = env.Config.AccountID
	}
	if pm.MyPaymentAccountPayload == nil && env.Config.PaymentAccount != nil {
		payload := *env.Config.PaymentAccount
		pm.MyPaymentAccountPayload = &payload
	}
	if len(pm.MyMultisigPubKey) == 0 {
		key, err := env.Wallet.NewMultisigPubKey(s.ctx, t.ID)
		if err != nil {
			return err
		}
		pm.MyMultisigPubKey = key
	}
	if pm.MyPayoutAddress == "" {
		addr, err := env.Wallet.NewAddress(s.ctx)
		if err != nil {
			return err
		}
		pm.MyPayoutAddress = addr
	}
	if pm.MyChangeAddress == "" {
		addr, err := env.Wallet.NewAddress(s.ctx)
		if err != nil {
			return err
		}
		pm.MyChangeAddress = addr
	}
	return nil
}

// fundTrade reserves the wallet coins the local trader contributes.
func fundTrade(s *Step, t *domain.Trade) error {
	if len(t.ProcessModel.MyRawInputs) > 0 {
		return nil
	}
	inputs, err := s.p.env.Wallet.SelectInputs(s.ctx, fundingAmount(t, t.Variant.Side))
	if err != nil {
		return err
	}
	t.ProcessModel.MyRawInputs = inputs
	return nil
}

func validatePeerInputs(t *domain.Trade, inputs []domain.RawInput) error {
	if len(inputs) == 0 {
		return fmt.Errorf("peer provided no inputs")
	}
	peerSide := domain.SideBuyer
	if t.IsBuyer() {
		peerSide = domain.SideSeller
	}
	if sumInputs(inputs) < fundingAmount(t, peerSide) {
		return fmt.Errorf(
			"peer inputs amount %d is lower than expected %d",
			sumInputs(inputs), fundingAmount(t, peerSide),
		)
	}
	return nil
}

func checkTxID(s *Step, txHex, expected string) error {
	txID, err := s.p.env.Wallet.TxID(txHex)
	if err != nil {
		return err
	}
	if txID != expected {
		return fmt.Errorf("%w: got %s, expected %s", ErrTxMismatch, txID, expected)
	}
	return nil
}

// broadcastPayoutTx publishes the prepared payout and records it on the
// trade.
func broadcastPayoutTx(s *Step, t *domain.Trade) error {
	w := s.p.env.Wallet
	txHex := t.ProcessModel.PreparedPayoutTx
	if txHex == "" {
		return fmt.Errorf("no payout tx to broadcast")
	}
	txID, err := w.TxID(txHex)
	if err != nil {
		return err
	}
	if _, err := w.BroadcastTransaction(s.ctx, txHex); err != nil {
		return err
	}
	t.SetPayoutTx(txID, txHex)
	return nil
}

var (
	takerVerifyMakerFeePayment = newTask("TakerVerifyMakerFeePayment",
		func(s *Step, t *domain.Trade) Result {
			return verifyFeePayment(s, t, t.Offer.MakerFeeTxID)
		},
	)

	signDepositTxInputs = newTask("SignDepositTxInputs",
		func(s *Step, t *domain.Trade) Result {
			signed, err := s.p.env.Wallet.SignTxInputs(
				s.ctx, t.ProcessModel.PreparedDepositTx, prevOuts(t),
			)
			if err != nil {
				return Fail(err)
			}
			t.ProcessModel.PreparedDepositTx = signed
			return Continue(t)
		},
	)

	persistTrade = newTask("PersistTrade",
		func(s *Step, t *domain.Trade) Result {
			s.p.commit(s.ctx, t)
			return Continue(t)
		},
	)

	setupDepositTxListener = newTask("SetupDepositTxListener",
		func(s *Step, t *domain.Trade) Result {
			if s.p.env.Watcher == nil {
				return Continue(t)
			}
			if err := s.p.env.Watcher.WatchDepositTx(t.ID, t.DepositTxID); err != nil {
				return Fail(err)
			}
			return Continue(t)
		},
	)
)

func verifyFeePayment(s *Step, t *domain.Trade, txID string) Result {
	if txID == "" {
		return Failf("missing fee transaction id")
	}
	published, err := s.p.env.Wallet.IsTransactionPublished(s.ctx, txID)
	if err != nil {
		return Fail(err)
	}
	if !published {
		return Failf("fee transaction %s not found in network", txID)
	}
	return Continue(t)
}
