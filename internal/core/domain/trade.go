package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"
)

// MediationResult is the payout split proposed by the mediator.
type MediationResult struct {
	BuyerPayoutAmount  int64
	SellerPayoutAmount int64
}

// Trade is the aggregate root of a single trade between two peers. It is
// mutated only by the protocol instance driving it, and every protocol step
// works on a clone so that a failing step leaves the trade untouched.
type Trade struct {
	ID                     string
	Variant                TradeVariant
	Phase                  Phase
	State                  State
	DisputeState           DisputeState
	MediationResultState   MediationResultState
	Offer                  Offer
	Amount                 int64
	Price                  decimal.Decimal
	TxFee                  int64
	TakerFee               int64
	Contract               *Contract
	MakerContractSignature []byte
	TakerContractSignature []byte
	LockTime               int64
	TakerFeeTxID           string
	DepositTxID            string
	DepositTx              string
	DelayedPayoutTx        string
	PayoutTxID             string
	PayoutTx               string
	MediationResult        *MediationResult
	ErrorMessage           string
	FailedReason           string
	PhaseBeforeFailure     Phase
	StateBeforeFailure     State
	CreatedAt              int64
	ProcessModel           ProcessModel
}

// DeriveTradeID returns the trade id both peers compute from the offer id and
// the taker fee transaction id.
func DeriveTradeID(offerID, takerFeeTxID string) string {
	h := sha256.Sum256([]byte(offerID + takerFeeTxID))
	return hex.EncodeToString(h[:16])
}

// NewTrade returns a trade in PREPARATION state for the given offer.
func NewTrade(
	id string, offer Offer, position Position,
	amount int64, price decimal.Decimal, txFee, takerFee int64,
) (*Trade, error) {
	if !offer.IsAmountInRange(amount) {
		return nil, ErrInvalidAmount
	}
	return &Trade{
		ID:        id,
		Variant:   VariantFor(offer, position),
		Phase:     PhaseInit,
		State:     StatePreparation,
		Offer:     offer,
		Amount:    amount,
		Price:     price,
		TxFee:     txFee,
		TakerFee:  takerFee,
		CreatedAt: time.Now().Unix(),
		ProcessModel: ProcessModel{
			OfferID: offer.ID,
		},
	}, nil
}

// SetState moves the trade to the given state and to the phase it belongs
// to. States of an earlier phase are rejected.
func (t *Trade) SetState(s State) error {
	if t.Phase == PhaseFailed && s != StateFailed {
		return ErrTradeFailed
	}
	if s.Phase() < t.Phase {
		return ErrPhaseRegression
	}
	t.State = s
	t.Phase = s.Phase()
	return nil
}

// Fail moves the trade to FAILED remembering where it was.
func (t *Trade) Fail(reason string) (bool, error) {
	if t.Phase == PhaseFailed {
		return true, nil
	}
	t.PhaseBeforeFailure = t.Phase
	t.StateBeforeFailure = t.State
	t.Phase = PhaseFailed
	t.State = StateFailed
	t.FailedReason = reason
	return true, nil
}

// Unfail restores the phase and state held before the failure.
func (t *Trade) Unfail() (bool, error) {
	if t.Phase != PhaseFailed {
		return false, ErrTradeNotFailed
	}
	t.Phase = t.PhaseBeforeFailure
	t.State = t.StateBeforeFailure
	t.FailedReason = ""
	return true, nil
}

// SetDepositTx ...
func (t *Trade) SetDepositTx(txID, txHex string) error {
	if t.DepositTxID != "" && t.DepositTxID != txID {
		return ErrDepositTxAlreadySet
	}
	t.DepositTxID = txID
	t.DepositTx = txHex
	return nil
}

// SetDelayedPayoutTx stores the delayed payout transaction. Once set it can
// only be set again to the very same value.
func (t *Trade) SetDelayedPayoutTx(txHex string) error {
	if t.DelayedPayoutTx != "" && t.DelayedPayoutTx != txHex {
		return ErrDelayedPayoutTxAlreadySet
	}
	t.DelayedPayoutTx = txHex
	return nil
}

// SetPayoutTx ...
func (t *Trade) SetPayoutTx(txID, txHex string) {
	t.PayoutTxID = txID
	t.PayoutTx = txHex
}

// IsDepositPublished ...
func (t *Trade) IsDepositPublished() bool {
	return t.reached(PhaseDepositPublished)
}

// IsPayoutPublished ...
func (t *Trade) IsPayoutPublished() bool {
	return t.PayoutTxID != "" || t.reached(PhasePayoutPublished)
}

// IsPending returns whether the protocol can still make progress.
func (t *Trade) IsPending() bool {
	return !t.Phase.IsTerminal()
}

func (t *Trade) reached(p Phase) bool {
	phase := t.Phase
	if phase == PhaseFailed {
		phase = t.PhaseBeforeFailure
	}
	return phase >= p
}

// IsBuyer ...
func (t *Trade) IsBuyer() bool { return t.Variant.IsBuyer() }

// IsSeller ...
func (t *Trade) IsSeller() bool { return t.Variant.IsSeller() }

// IsMaker ...
func (t *Trade) IsMaker() bool { return t.Variant.IsMaker() }

// IsTaker ...
func (t *Trade) IsTaker() bool { return t.Variant.IsTaker() }

// PeerNodeAddress ...
func (t *Trade) PeerNodeAddress() NodeAddress {
	return t.ProcessModel.Peer.NodeAddress
}

// BuyerDepositAmount is what the buyer locks into the escrow.
func (t *Trade) BuyerDepositAmount() int64 {
	return t.Offer.BuyerSecurityDeposit
}

// SellerDepositAmount is what the seller locks into the escrow, including
// the miner fee reserved for the payout.
func (t *Trade) SellerDepositAmount() int64 {
	return t.Amount + t.Offer.SellerSecurityDeposit + t.TxFee
}

// EscrowAmount is the value of the 2-of-2 multisig output.
func (t *Trade) EscrowAmount() int64 {
	return t.BuyerDepositAmount() + t.SellerDepositAmount()
}

// BuyerPayoutAmount is what the buyer receives on a regular payout.
func (t *Trade) BuyerPayoutAmount() int64 {
	return t.Amount + t.Offer.BuyerSecurityDeposit
}

// SellerPayoutAmount is what the seller receives on a regular payout.
func (t *Trade) SellerPayoutAmount() int64 {
	return t.Offer.SellerSecurityDeposit
}

// Volume returns the counter currency volume of the trade.
func (t *Trade) Volume() decimal.Decimal {
	return Volume(t.Amount, t.Price)
}

// Clone returns a deep copy of the trade.
func (t *Trade) Clone() *Trade {
	c := *t
	if t.Contract != nil {
		contract := *t.Contract
		contract.MakerPaymentAccountPayloadHash = cloneBytes(t.Contract.MakerPaymentAccountPayloadHash)
		contract.TakerPaymentAccountPayloadHash = cloneBytes(t.Contract.TakerPaymentAccountPayloadHash)
		contract.MakerMultisigPubKey = cloneBytes(t.Contract.MakerMultisigPubKey)
		contract.TakerMultisigPubKey = cloneBytes(t.Contract.TakerMultisigPubKey)
		c.Contract = &contract
	}
	if t.MediationResult != nil {
		result := *t.MediationResult
		c.MediationResult = &result
	}
	c.MakerContractSignature = cloneBytes(t.MakerContractSignature)
	c.TakerContractSignature = cloneBytes(t.TakerContractSignature)
	c.ProcessModel = t.ProcessModel.clone()
	return &c
}
