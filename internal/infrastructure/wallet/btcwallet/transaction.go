package btcwallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
)

const (
	txVersion = 2
	// lockTimeSequence enables the lock time of a transaction without
	// signaling replaceability.
	lockTimeSequence = wire.MaxTxInSequenceNum - 1
)

// CreateDepositTx returns the unsigned deposit transaction. The escrow is
// always output 0, followed by buyer and seller change outputs when above
// dust.
func (w *Wallet) CreateDepositTx(
	_ context.Context, args ports.DepositTxArgs,
) (string, string, error) {
	if args.BuyerContribution+args.SellerContribution < args.EscrowAmount {
		return "", "", ErrEscrowNotCovered
	}
	escrowScript, err := escrowPkScript(args.BuyerPubKey, args.SellerPubKey)
	if err != nil {
		return "", "", err
	}

	buyerChange := sumInputs(args.BuyerInputs) - args.BuyerContribution
	sellerChange := sumInputs(args.SellerInputs) - args.SellerContribution
	if buyerChange < 0 || sellerChange < 0 {
		return "", "", ErrInputsDoNotCover
	}

	inputs := make([]domain.RawInput, 0, len(args.BuyerInputs)+len(args.SellerInputs))
	inputs = append(inputs, args.BuyerInputs...)
	inputs = append(inputs, args.SellerInputs...)

	tx, err := w.newTx(inputs, nil, 0)
	if err != nil {
		return "", "", err
	}
	tx.AddTxOut(wire.NewTxOut(args.EscrowAmount, escrowScript))

	changes := []ports.TxOutput{
		{Address: args.BuyerChangeAddress, Amount: buyerChange},
		{Address: args.SellerChangeAddress, Amount: sellerChange},
	}
	for _, change := range changes {
		if change.Amount < dustLimit {
			continue
		}
		if err := w.addOutput(tx, change); err != nil {
			return "", "", err
		}
	}

	txHex, err := serializeTx(tx)
	if err != nil {
		return "", "", err
	}
	return tx.TxHash().String(), txHex, nil
}

// SignTxInputs adds the witnesses of the inputs owned by the wallet. All the
// prevouts of the transaction must be given.
func (w *Wallet) SignTxInputs(
	_ context.Context, txHex string, prevOuts []domain.RawInput,
) (string, error) {
	tx, err := deserializeTx(txHex)
	if err != nil {
		return "", err
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	if err := w.signInputs(tx, prevOuts); err != nil {
		return "", err
	}
	return serializeTx(tx)
}

// CombineTxSignatures copies into txHex the witnesses that are set only in
// otherTxHex.
func (w *Wallet) CombineTxSignatures(
	_ context.Context, txHex, otherTxHex string,
) (string, error) {
	tx, err := deserializeTx(txHex)
	if err != nil {
		return "", err
	}
	other, err := deserializeTx(otherTxHex)
	if err != nil {
		return "", err
	}
	if tx.TxHash() != other.TxHash() {
		return "", ErrTxMismatch
	}

	for i, in := range tx.TxIn {
		if len(in.Witness) <= 0 {
			in.Witness = other.TxIn[i].Witness
		}
	}
	return serializeTx(tx)
}

// CreateDelayedPayoutTx returns the unsigned time-locked transaction spending
// the whole escrow, minus the miner fee, to the donation address.
func (w *Wallet) CreateDelayedPayoutTx(
	_ context.Context, args ports.DelayedPayoutTxArgs,
) (string, error) {
	tx, err := w.delayedPayoutTx(args)
	if err != nil {
		return "", err
	}
	return serializeTx(tx)
}

// VerifyDelayedPayoutTx checks the transaction is exactly the one built from
// args, witnesses excluded.
func (w *Wallet) VerifyDelayedPayoutTx(
	_ context.Context, txHex string, args ports.DelayedPayoutTxArgs,
) error {
	tx, err := deserializeTx(txHex)
	if err != nil {
		return err
	}
	expected, err := w.delayedPayoutTx(args)
	if err != nil {
		return err
	}
	if tx.TxHash() != expected.TxHash() {
		return ErrDelayedPayoutTxMismatch
	}
	return nil
}

// CreatePayoutTx returns the unsigned transaction splitting the escrow.
// Zero amounts are omitted and what is left over goes to the miners.
func (w *Wallet) CreatePayoutTx(
	_ context.Context, args ports.PayoutTxArgs,
) (string, error) {
	if args.BuyerAmount < 0 || args.SellerAmount < 0 {
		return "", ErrInvalidAmount
	}
	if args.BuyerAmount+args.SellerAmount > args.Escrow.Amount {
		return "", ErrOutputsExceedEscrow
	}

	tx, err := w.escrowSpendTx(args.Escrow, 0, wire.MaxTxInSequenceNum)
	if err != nil {
		return "", err
	}
	outputs := []ports.TxOutput{
		{Address: args.BuyerAddress, Amount: args.BuyerAmount},
		{Address: args.SellerAddress, Amount: args.SellerAmount},
	}
	for _, out := range outputs {
		if out.Amount <= 0 {
			continue
		}
		if err := w.addOutput(tx, out); err != nil {
			return "", err
		}
	}
	return serializeTx(tx)
}

// CreateSwapTx returns the unsigned transaction settling both legs of an
// atomic swap.
func (w *Wallet) CreateSwapTx(_ context.Context, args ports.SwapTxArgs) (string, error) {
	var in, out int64
	for _, o := range args.Outputs {
		if o.Amount <= 0 {
			return "", ErrInvalidAmount
		}
		out += o.Amount
	}
	in = sumInputs(args.Inputs)
	if in < out {
		return "", ErrInputsDoNotCover
	}

	tx, err := w.newTx(args.Inputs, args.Outputs, 0)
	if err != nil {
		return "", err
	}
	return serializeTx(tx)
}

// SignEscrowInput returns the signature of the trade's escrow key over the
// escrow spending input.
func (w *Wallet) SignEscrowInput(
	_ context.Context, txHex string, escrow ports.Escrow, tradeID string,
) ([]byte, error) {
	tx, err := deserializeTx(txHex)
	if err != nil {
		return nil, err
	}
	index, err := escrowInputIndex(tx, escrow)
	if err != nil {
		return nil, err
	}

	key, err := w.tradeKey(tradeID)
	if err != nil {
		return nil, err
	}
	pubKey := key.PubKey().SerializeCompressed()
	if !bytes.Equal(pubKey, escrow.BuyerPubKey) &&
		!bytes.Equal(pubKey, escrow.SellerPubKey) {
		return nil, ErrNotEscrowParticipant
	}

	script, err := escrowWitnessScript(escrow.BuyerPubKey, escrow.SellerPubKey)
	if err != nil {
		return nil, err
	}
	sigHashes, err := escrowSigHashes(tx, escrow)
	if err != nil {
		return nil, err
	}
	return txscript.RawTxInWitnessSignature(
		tx, sigHashes, index, escrow.Amount, script, txscript.SigHashAll, key,
	)
}

// VerifyEscrowSignature checks a signature over the escrow spending input.
func (w *Wallet) VerifyEscrowSignature(
	_ context.Context, txHex string, escrow ports.Escrow, pubKey, sig []byte,
) error {
	tx, err := deserializeTx(txHex)
	if err != nil {
		return err
	}
	return verifyEscrowSignature(tx, escrow, pubKey, sig)
}

// FinalizeEscrowSpend sets the 2-of-2 witness of the escrow spending input
// once both signatures are verified.
func (w *Wallet) FinalizeEscrowSpend(
	_ context.Context, txHex string, escrow ports.Escrow, buyerSig, sellerSig []byte,
) (string, error) {
	tx, err := deserializeTx(txHex)
	if err != nil {
		return "", err
	}
	index, err := escrowInputIndex(tx, escrow)
	if err != nil {
		return "", err
	}
	if err := verifyEscrowSignature(tx, escrow, escrow.BuyerPubKey, buyerSig); err != nil {
		return "", fmt.Errorf("buyer: %w", err)
	}
	if err := verifyEscrowSignature(tx, escrow, escrow.SellerPubKey, sellerSig); err != nil {
		return "", fmt.Errorf("seller: %w", err)
	}

	script, err := escrowWitnessScript(escrow.BuyerPubKey, escrow.SellerPubKey)
	if err != nil {
		return "", err
	}
	// Signatures follow the order of the keys in the script. The leading
	// empty item is consumed by the CHECKMULTISIG off-by-one.
	tx.TxIn[index].Witness = wire.TxWitness{nil, buyerSig, sellerSig, script}
	return serializeTx(tx)
}

func (w *Wallet) delayedPayoutTx(args ports.DelayedPayoutTxArgs) (*wire.MsgTx, error) {
	if args.LockTime <= 0 {
		return nil, ErrInvalidLockTime
	}
	if args.Fee >= args.Escrow.Amount {
		return nil, ErrFeeExceedsEscrow
	}

	tx, err := w.escrowSpendTx(args.Escrow, uint32(args.LockTime), lockTimeSequence)
	if err != nil {
		return nil, err
	}
	donation := ports.TxOutput{
		Address: args.DonationAddress,
		Amount:  args.Escrow.Amount - args.Fee,
	}
	if err := w.addOutput(tx, donation); err != nil {
		return nil, err
	}
	return tx, nil
}

func (w *Wallet) escrowSpendTx(
	escrow ports.Escrow, lockTime, sequence uint32,
) (*wire.MsgTx, error) {
	outpoint, err := escrowOutpoint(escrow)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(txVersion)
	tx.LockTime = lockTime
	in := wire.NewTxIn(outpoint, nil, nil)
	in.Sequence = sequence
	tx.AddTxIn(in)
	return tx, nil
}

func (w *Wallet) newTx(
	inputs []domain.RawInput, outputs []ports.TxOutput, lockTime uint32,
) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(txVersion)
	tx.LockTime = lockTime
	for _, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return nil, fmt.Errorf("invalid input txid %s: %w", in.TxID, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, in.Vout), nil, nil))
	}
	for _, out := range outputs {
		if err := w.addOutput(tx, out); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

func (w *Wallet) addOutput(tx *wire.MsgTx, out ports.TxOutput) error {
	script, err := w.addressScript(out.Address)
	if err != nil {
		return err
	}
	tx.AddTxOut(wire.NewTxOut(out.Amount, script))
	return nil
}

// signInputs must be called with the lock held.
func (w *Wallet) signInputs(tx *wire.MsgTx, prevOuts []domain.RawInput) error {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, prevOut := range prevOuts {
		hash, err := chainhash.NewHashFromStr(prevOut.TxID)
		if err != nil {
			return fmt.Errorf("invalid prevout txid %s: %w", prevOut.TxID, err)
		}
		fetcher.AddPrevOut(
			*wire.NewOutPoint(hash, prevOut.Vout),
			wire.NewTxOut(prevOut.Value, prevOut.PkScript),
		)
	}
	for i, in := range tx.TxIn {
		if fetcher.FetchPrevOutput(in.PreviousOutPoint) == nil {
			return fmt.Errorf("%w %d", ErrMissingPrevOut, i)
		}
	}

	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, in := range tx.TxIn {
		prevOut := fetcher.FetchPrevOutput(in.PreviousOutPoint)
		key, ok, err := w.ownedKey(prevOut.PkScript)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		witness, err := txscript.WitnessSignature(
			tx, sigHashes, i, prevOut.Value, prevOut.PkScript,
			txscript.SigHashAll, key, true,
		)
		if err != nil {
			return fmt.Errorf("failed to sign input %d: %w", i, err)
		}
		in.Witness = witness
	}
	return nil
}

func sumInputs(inputs []domain.RawInput) int64 {
	var sum int64
	for _, in := range inputs {
		sum += in.Value
	}
	return sum
}

func serializeTx(tx *wire.MsgTx) (string, error) {
	buf := bytes.NewBuffer(make([]byte, 0, tx.SerializeSize()))
	if err := tx.Serialize(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func deserializeTx(txHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("invalid tx hex: %w", err)
	}
	tx := wire.NewMsgTx(txVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("invalid tx: %w", err)
	}
	return tx, nil
}
