package btcwallet

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
)

// escrowVout is the index of the multisig output in the deposit tx.
const escrowVout = 0

// escrowWitnessScript returns OP_2 <buyer> <seller> OP_2 OP_CHECKMULTISIG.
func escrowWitnessScript(buyerPubKey, sellerPubKey []byte) ([]byte, error) {
	for _, key := range [][]byte{buyerPubKey, sellerPubKey} {
		if _, err := btcec.ParsePubKey(key); err != nil {
			return nil, fmt.Errorf("invalid escrow pubkey: %w", err)
		}
	}
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_2).
		AddData(buyerPubKey).
		AddData(sellerPubKey).
		AddOp(txscript.OP_2).
		AddOp(txscript.OP_CHECKMULTISIG).
		Script()
}

func escrowPkScript(buyerPubKey, sellerPubKey []byte) ([]byte, error) {
	script, err := escrowWitnessScript(buyerPubKey, sellerPubKey)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(script)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(hash[:]).
		Script()
}

func escrowOutpoint(escrow ports.Escrow) (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(escrow.DepositTxID)
	if err != nil {
		return nil, fmt.Errorf("invalid deposit txid %s: %w", escrow.DepositTxID, err)
	}
	return wire.NewOutPoint(hash, escrowVout), nil
}

func escrowInputIndex(tx *wire.MsgTx, escrow ports.Escrow) (int, error) {
	outpoint, err := escrowOutpoint(escrow)
	if err != nil {
		return -1, err
	}
	for i, in := range tx.TxIn {
		if in.PreviousOutPoint == *outpoint {
			return i, nil
		}
	}
	return -1, ErrEscrowInputNotFound
}

func escrowSigHashes(tx *wire.MsgTx, escrow ports.Escrow) (*txscript.TxSigHashes, error) {
	pkScript, err := escrowPkScript(escrow.BuyerPubKey, escrow.SellerPubKey)
	if err != nil {
		return nil, err
	}
	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, escrow.Amount)
	return txscript.NewTxSigHashes(tx, fetcher), nil
}

func verifyEscrowSignature(
	tx *wire.MsgTx, escrow ports.Escrow, pubKey, sig []byte,
) error {
	if len(sig) <= 1 {
		return ErrInvalidEscrowSignature
	}
	if txscript.SigHashType(sig[len(sig)-1]) != txscript.SigHashAll {
		return fmt.Errorf("%w: unexpected sighash type", ErrInvalidEscrowSignature)
	}

	index, err := escrowInputIndex(tx, escrow)
	if err != nil {
		return err
	}
	script, err := escrowWitnessScript(escrow.BuyerPubKey, escrow.SellerPubKey)
	if err != nil {
		return err
	}
	sigHashes, err := escrowSigHashes(tx, escrow)
	if err != nil {
		return err
	}
	hash, err := txscript.CalcWitnessSigHash(
		script, sigHashes, txscript.SigHashAll, tx, index, escrow.Amount,
	)
	if err != nil {
		return err
	}

	key, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidEscrowSignature, err)
	}
	signature, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidEscrowSignature, err)
	}
	if !signature.Verify(hash, key) {
		return ErrInvalidEscrowSignature
	}
	return nil
}
