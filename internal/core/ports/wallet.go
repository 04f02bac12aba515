package ports

import (
	"context"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

// Wallet defines the bitcoin wallet operations the protocol needs. All
// methods are synchronous from the protocol's point of view.
type Wallet interface {
	// CreateFeeTx returns a signed, not yet broadcasted, transaction paying
	// the given fee to the fee address.
	CreateFeeTx(ctx context.Context, amount int64) (txID, txHex string, err error)
	// NewAddress returns a fresh receiving address.
	NewAddress(ctx context.Context) (string, error)
	// NewMultisigPubKey returns the key used for the escrow of the trade.
	NewMultisigPubKey(ctx context.Context, tradeID string) ([]byte, error)
	// SelectInputs selects and reserves wallet coins covering amount.
	SelectInputs(ctx context.Context, amount int64) ([]domain.RawInput, error)
	// ReleaseInputs makes reserved coins selectable again.
	ReleaseInputs(ctx context.Context, inputs []domain.RawInput)

	// CreateDepositTx returns the unsigned deposit transaction locking both
	// contributions into the 2-of-2 multisig output at index 0.
	CreateDepositTx(ctx context.Context, args DepositTxArgs) (txID, txHex string, err error)
	// SignTxInputs adds witnesses for the inputs owned by the wallet.
	SignTxInputs(ctx context.Context, txHex string, prevOuts []domain.RawInput) (string, error)
	// CombineTxSignatures merges the input witnesses of two copies of the
	// same transaction.
	CombineTxSignatures(ctx context.Context, txHex, otherTxHex string) (string, error)

	// CreateDelayedPayoutTx returns the unsigned time-locked transaction that
	// spends the escrow to the donation address.
	CreateDelayedPayoutTx(ctx context.Context, args DelayedPayoutTxArgs) (string, error)
	// VerifyDelayedPayoutTx checks the transaction matches the args.
	VerifyDelayedPayoutTx(ctx context.Context, txHex string, args DelayedPayoutTxArgs) error
	// CreatePayoutTx returns the unsigned transaction splitting the escrow
	// between buyer and seller.
	CreatePayoutTx(ctx context.Context, args PayoutTxArgs) (string, error)
	// SignEscrowInput signs the escrow spending input of the transaction with
	// the multisig key of the trade.
	SignEscrowInput(ctx context.Context, txHex string, escrow Escrow, tradeID string) ([]byte, error)
	// VerifyEscrowSignature checks a peer signature over the escrow input.
	VerifyEscrowSignature(ctx context.Context, txHex string, escrow Escrow, pubKey, sig []byte) error
	// FinalizeEscrowSpend sets the witness of the escrow spending input.
	FinalizeEscrowSpend(
		ctx context.Context, txHex string, escrow Escrow, buyerSig, sellerSig []byte,
	) (string, error)

	// CreateSwapTx returns the unsigned single transaction settling both legs
	// of an atomic swap.
	CreateSwapTx(ctx context.Context, args SwapTxArgs) (string, error)

	// TxID returns the id of the given transaction.
	TxID(txHex string) (string, error)
	// BroadcastTransaction ...
	BroadcastTransaction(ctx context.Context, txHex string) (string, error)
	// IsTransactionPublished returns whether the transaction is known to the
	// network, either in mempool or in a block.
	IsTransactionPublished(ctx context.Context, txID string) (bool, error)
}

// Escrow identifies the 2-of-2 multisig output of a deposit transaction.
type Escrow struct {
	DepositTxID  string
	Amount       int64
	BuyerPubKey  []byte
	SellerPubKey []byte
}

type DepositTxArgs struct {
	BuyerInputs         []domain.RawInput
	SellerInputs        []domain.RawInput
	BuyerContribution   int64
	SellerContribution  int64
	BuyerChangeAddress  string
	SellerChangeAddress string
	BuyerPubKey         []byte
	SellerPubKey        []byte
	EscrowAmount        int64
}

type DelayedPayoutTxArgs struct {
	Escrow          Escrow
	DonationAddress string
	Fee             int64
	LockTime        int64
}

type PayoutTxArgs struct {
	Escrow        Escrow
	BuyerAddress  string
	BuyerAmount   int64
	SellerAddress string
	SellerAmount  int64
}

type TxOutput struct {
	Address string
	Amount  int64
}

type SwapTxArgs struct {
	Inputs  []domain.RawInput
	Outputs []TxOutput
}
