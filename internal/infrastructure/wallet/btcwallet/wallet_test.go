package btcwallet

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
	"github.com/p2p-escrow/trade-daemon/pkg/explorer"
	"github.com/stretchr/testify/require"
)

var (
	ctx     = context.Background()
	network = &chaincfg.RegressionNetParams
	tradeID = "trade-1"
)

type mockUtxo struct {
	hash  string
	index uint32
	value uint64
}

func (u mockUtxo) Hash() string      { return u.hash }
func (u mockUtxo) Index() uint32     { return u.index }
func (u mockUtxo) Value() uint64     { return u.value }
func (u mockUtxo) IsConfirmed() bool { return true }

type mockStatus struct{}

func (mockStatus) Confirmed() bool     { return false }
func (mockStatus) BlockHash() string   { return "" }
func (mockStatus) BlockHeight() int    { return 0 }
func (mockStatus) BlockTime() int      { return 0 }

type mockExplorer struct {
	lock      sync.Mutex
	utxos     map[string][]explorer.Utxo
	published map[string]string
}

func newMockExplorer() *mockExplorer {
	return &mockExplorer{
		utxos:     make(map[string][]explorer.Utxo),
		published: make(map[string]string),
	}
}

func (e *mockExplorer) fund(addr string, value uint64) string {
	e.lock.Lock()
	defer e.lock.Unlock()
	h := sha256.Sum256([]byte(addr))
	txid := hex.EncodeToString(h[:])
	e.utxos[addr] = append(e.utxos[addr], mockUtxo{txid, 0, value})
	return txid
}

func (e *mockExplorer) GetUnspents(addr string) ([]explorer.Utxo, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.utxos[addr], nil
}

func (e *mockExplorer) GetUnspentsForAddresses(addresses []string) ([]explorer.Utxo, error) {
	utxos := make([]explorer.Utxo, 0)
	for _, addr := range addresses {
		u, _ := e.GetUnspents(addr)
		utxos = append(utxos, u...)
	}
	return utxos, nil
}

func (e *mockExplorer) GetTransactionHex(txid string) (string, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	txHex, ok := e.published[txid]
	if !ok {
		return "", explorer.ErrTransactionNotFound
	}
	return txHex, nil
}

func (e *mockExplorer) IsTransactionConfirmed(string) (bool, error) {
	return false, nil
}

func (e *mockExplorer) GetTransactionStatus(txid string) (explorer.TransactionStatus, error) {
	if _, err := e.GetTransactionHex(txid); err != nil {
		return nil, err
	}
	return mockStatus{}, nil
}

func (e *mockExplorer) BroadcastTransaction(txHex string) (string, error) {
	tx, err := deserializeTx(txHex)
	if err != nil {
		return "", err
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	txid := tx.TxHash().String()
	e.published[txid] = txHex
	return txid, nil
}

func (e *mockExplorer) GetBlockHeight() (int, error) {
	return 100, nil
}

func newSeed(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func randomAddress(t *testing.T, b byte) string {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(bytes.Repeat([]byte{b}, 20), network)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

func newTestWallet(t *testing.T, seed byte, exp explorer.Service) *Wallet {
	w, err := New(Opts{
		Seed:       newSeed(seed),
		Network:    network,
		Explorer:   exp,
		FeeAddress: randomAddress(t, 0xfe),
	})
	require.NoError(t, err)
	return w
}

// fundedWallet returns a wallet with a single coin of the given value.
func fundedWallet(t *testing.T, seed byte, exp *mockExplorer, value uint64) *Wallet {
	w := newTestWallet(t, seed, exp)
	addr, err := w.NewAddress(ctx)
	require.NoError(t, err)
	exp.fund(addr, value)
	return w
}

func decodeTx(t *testing.T, txHex string) *wire.MsgTx {
	tx, err := deserializeTx(txHex)
	require.NoError(t, err)
	return tx
}

func executeScript(
	t *testing.T, tx *wire.MsgTx, index int, pkScript []byte, amount int64,
	fetcher txscript.PrevOutputFetcher,
) {
	t.Helper()
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	engine, err := txscript.NewEngine(
		pkScript, tx, index, txscript.StandardVerifyFlags, nil, sigHashes,
		amount, fetcher,
	)
	require.NoError(t, err)
	require.NoError(t, engine.Execute())
}

func TestNewWalletInvalidOpts(t *testing.T) {
	exp := newMockExplorer()
	feeAddr := randomAddress(t, 0xfe)
	mainnetAddr, err := btcutil.NewAddressWitnessPubKeyHash(
		bytes.Repeat([]byte{1}, 20), &chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	tests := []struct {
		name string
		opts Opts
		err  error
	}{
		{"missing seed", Opts{Network: network, Explorer: exp, FeeAddress: feeAddr}, ErrNullSeed},
		{"missing network", Opts{Seed: newSeed(1), Explorer: exp, FeeAddress: feeAddr}, ErrNullNetwork},
		{"missing explorer", Opts{Seed: newSeed(1), Network: network, FeeAddress: feeAddr}, ErrNullExplorer},
		{
			"fee address of other network",
			Opts{Seed: newSeed(1), Network: network, Explorer: exp, FeeAddress: mainnetAddr.EncodeAddress()},
			ErrInvalidFeeAddress,
		},
	}
	for _, tt := range tests {
		_, err := New(tt.opts)
		require.ErrorIs(t, err, tt.err, tt.name)
	}
}

func TestRestore(t *testing.T) {
	exp := newMockExplorer()
	w := newTestWallet(t, 1, exp)

	addresses := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		addr, err := w.NewAddress(ctx)
		require.NoError(t, err)
		addresses = append(addresses, addr)
	}
	exp.fund(addresses[2], 10000)

	restored := newTestWallet(t, 1, exp)
	addr, err := restored.NewAddress(ctx)
	require.NoError(t, err)
	require.Equal(t, addresses[3], addr)
}

func TestKeyRing(t *testing.T) {
	keyRing, err := NewKeyRing(newSeed(1), network)
	require.NoError(t, err)
	other, err := NewKeyRing(newSeed(2), network)
	require.NoError(t, err)

	same, err := NewKeyRing(newSeed(1), network)
	require.NoError(t, err)
	require.Equal(t, keyRing.PubKeyRing(), same.PubKeyRing())

	digest := sha256.Sum256([]byte("contract"))
	sig, err := keyRing.Sign(digest[:])
	require.NoError(t, err)

	pubKey := keyRing.PubKeyRing().SignaturePubKey
	require.NoError(t, other.Verify(pubKey, digest[:], sig))

	err = other.Verify(other.PubKeyRing().SignaturePubKey, digest[:], sig)
	require.ErrorIs(t, err, ErrInvalidSignature)

	otherDigest := sha256.Sum256([]byte("other contract"))
	err = other.Verify(pubKey, otherDigest[:], sig)
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = keyRing.Sign([]byte("short"))
	require.Error(t, err)

	_, err = NewKeyRing(nil, network)
	require.ErrorIs(t, err, ErrNullSeed)
}

func TestMultisigPubKey(t *testing.T) {
	exp := newMockExplorer()
	w := newTestWallet(t, 1, exp)
	restored := newTestWallet(t, 1, exp)

	key, err := w.NewMultisigPubKey(ctx, tradeID)
	require.NoError(t, err)
	require.Len(t, key, 33)

	sameKey, err := restored.NewMultisigPubKey(ctx, tradeID)
	require.NoError(t, err)
	require.Equal(t, key, sameKey)

	otherKey, err := w.NewMultisigPubKey(ctx, "trade-2")
	require.NoError(t, err)
	require.NotEqual(t, key, otherKey)
}

func TestCreateFeeTx(t *testing.T) {
	exp := newMockExplorer()
	w := fundedWallet(t, 1, exp, 100000)

	txID, txHex, err := w.CreateFeeTx(ctx, 5000)
	require.NoError(t, err)

	tx := decodeTx(t, txHex)
	require.Equal(t, txID, tx.TxHash().String())
	require.Len(t, tx.TxIn, 1)
	require.NotEmpty(t, tx.TxIn[0].Witness)
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, int64(5000), tx.TxOut[0].Value)
	require.Equal(t, int64(100000-5000-DefaultMinerFee), tx.TxOut[1].Value)

	// The spent coin is reserved.
	_, _, err = w.CreateFeeTx(ctx, 5000)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, _, err = w.CreateFeeTx(ctx, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)

	published, err := w.IsTransactionPublished(ctx, txID)
	require.NoError(t, err)
	require.False(t, published)

	broadcastedID, err := w.BroadcastTransaction(ctx, txHex)
	require.NoError(t, err)
	require.Equal(t, txID, broadcastedID)

	published, err = w.IsTransactionPublished(ctx, txID)
	require.NoError(t, err)
	require.True(t, published)
}

func TestSelectAndReleaseInputs(t *testing.T) {
	exp := newMockExplorer()
	w := fundedWallet(t, 1, exp, 100000)

	inputs, err := w.SelectInputs(ctx, 50000)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	require.Equal(t, int64(100000), inputs[0].Value)
	require.NotEmpty(t, inputs[0].PkScript)

	_, err = w.SelectInputs(ctx, 50000)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	w.ReleaseInputs(ctx, inputs)
	again, err := w.SelectInputs(ctx, 50000)
	require.NoError(t, err)
	require.Equal(t, inputs, again)

	_, err = w.SelectInputs(ctx, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

type escrowFixture struct {
	buyer, seller *Wallet
	escrow        ports.Escrow
	depositTx     *wire.MsgTx
}

// newEscrowFixture builds and fully signs a deposit tx locking the
// contributions of buyer and seller.
func newEscrowFixture(t *testing.T) escrowFixture {
	exp := newMockExplorer()
	buyer := fundedWallet(t, 1, exp, 1000000)
	seller := fundedWallet(t, 2, exp, 1000000)

	buyerInputs, err := buyer.SelectInputs(ctx, 200000)
	require.NoError(t, err)
	sellerInputs, err := seller.SelectInputs(ctx, 300000)
	require.NoError(t, err)
	buyerChange, err := buyer.NewAddress(ctx)
	require.NoError(t, err)
	sellerChange, err := seller.NewAddress(ctx)
	require.NoError(t, err)
	buyerKey, err := buyer.NewMultisigPubKey(ctx, tradeID)
	require.NoError(t, err)
	sellerKey, err := seller.NewMultisigPubKey(ctx, tradeID)
	require.NoError(t, err)

	args := ports.DepositTxArgs{
		BuyerInputs:         buyerInputs,
		SellerInputs:        sellerInputs,
		BuyerContribution:   200000,
		SellerContribution:  300000,
		BuyerChangeAddress:  buyerChange,
		SellerChangeAddress: sellerChange,
		BuyerPubKey:         buyerKey,
		SellerPubKey:        sellerKey,
		EscrowAmount:        495000,
	}
	depositTxID, depositTxHex, err := buyer.CreateDepositTx(ctx, args)
	require.NoError(t, err)

	prevOuts := append(append([]domain.RawInput{}, buyerInputs...), sellerInputs...)
	buyerSigned, err := buyer.SignTxInputs(ctx, depositTxHex, prevOuts)
	require.NoError(t, err)
	sellerSigned, err := seller.SignTxInputs(ctx, depositTxHex, prevOuts)
	require.NoError(t, err)
	signed, err := seller.CombineTxSignatures(ctx, sellerSigned, buyerSigned)
	require.NoError(t, err)

	depositTx := decodeTx(t, signed)
	require.Equal(t, depositTxID, depositTx.TxHash().String())

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, in := range prevOuts {
		hash, err := chainhash.NewHashFromStr(in.TxID)
		require.NoError(t, err)
		fetcher.AddPrevOut(*wire.NewOutPoint(hash, in.Vout), wire.NewTxOut(in.Value, in.PkScript))
	}
	for i, in := range prevOuts {
		executeScript(t, depositTx, i, in.PkScript, in.Value, fetcher)
	}

	return escrowFixture{
		buyer:  buyer,
		seller: seller,
		escrow: ports.Escrow{
			DepositTxID:  depositTxID,
			Amount:       args.EscrowAmount,
			BuyerPubKey:  buyerKey,
			SellerPubKey: sellerKey,
		},
		depositTx: depositTx,
	}
}

func TestCreateDepositTx(t *testing.T) {
	f := newEscrowFixture(t)

	tx := f.depositTx
	require.Len(t, tx.TxIn, 2)
	require.Len(t, tx.TxOut, 3)

	escrowScript, err := escrowPkScript(f.escrow.BuyerPubKey, f.escrow.SellerPubKey)
	require.NoError(t, err)
	require.Equal(t, escrowScript, tx.TxOut[escrowVout].PkScript)
	require.Equal(t, f.escrow.Amount, tx.TxOut[escrowVout].Value)
	require.Equal(t, int64(1000000-200000), tx.TxOut[1].Value)
	require.Equal(t, int64(1000000-300000), tx.TxOut[2].Value)

	_, _, err = f.buyer.CreateDepositTx(ctx, ports.DepositTxArgs{
		BuyerContribution:  100,
		SellerContribution: 100,
		EscrowAmount:       1000,
	})
	require.ErrorIs(t, err, ErrEscrowNotCovered)
}

func TestPayoutTx(t *testing.T) {
	f := newEscrowFixture(t)

	buyerAddr, err := f.buyer.NewAddress(ctx)
	require.NoError(t, err)
	sellerAddr, err := f.seller.NewAddress(ctx)
	require.NoError(t, err)

	payoutHex, err := f.seller.CreatePayoutTx(ctx, ports.PayoutTxArgs{
		Escrow:        f.escrow,
		BuyerAddress:  buyerAddr,
		BuyerAmount:   350000,
		SellerAddress: sellerAddr,
		SellerAmount:  140000,
	})
	require.NoError(t, err)

	buyerSig, err := f.buyer.SignEscrowInput(ctx, payoutHex, f.escrow, tradeID)
	require.NoError(t, err)
	sellerSig, err := f.seller.SignEscrowInput(ctx, payoutHex, f.escrow, tradeID)
	require.NoError(t, err)

	require.NoError(t, f.seller.VerifyEscrowSignature(
		ctx, payoutHex, f.escrow, f.escrow.BuyerPubKey, buyerSig,
	))
	err = f.seller.VerifyEscrowSignature(
		ctx, payoutHex, f.escrow, f.escrow.SellerPubKey, buyerSig,
	)
	require.ErrorIs(t, err, ErrInvalidEscrowSignature)

	_, err = f.seller.FinalizeEscrowSpend(ctx, payoutHex, f.escrow, sellerSig, buyerSig)
	require.ErrorIs(t, err, ErrInvalidEscrowSignature)

	finalHex, err := f.seller.FinalizeEscrowSpend(ctx, payoutHex, f.escrow, buyerSig, sellerSig)
	require.NoError(t, err)

	payout := decodeTx(t, finalHex)
	require.Len(t, payout.TxOut, 2)
	require.Len(t, payout.TxIn[0].Witness, 4)

	escrowScript, err := escrowPkScript(f.escrow.BuyerPubKey, f.escrow.SellerPubKey)
	require.NoError(t, err)
	fetcher := txscript.NewCannedPrevOutputFetcher(escrowScript, f.escrow.Amount)
	executeScript(t, payout, 0, escrowScript, f.escrow.Amount, fetcher)

	// A wallet without the trade key can't sign.
	other := newTestWallet(t, 3, newMockExplorer())
	_, err = other.SignEscrowInput(ctx, payoutHex, f.escrow, tradeID)
	require.ErrorIs(t, err, ErrNotEscrowParticipant)

	_, err = f.seller.CreatePayoutTx(ctx, ports.PayoutTxArgs{
		Escrow:        f.escrow,
		BuyerAddress:  buyerAddr,
		BuyerAmount:   f.escrow.Amount,
		SellerAddress: sellerAddr,
		SellerAmount:  1,
	})
	require.ErrorIs(t, err, ErrOutputsExceedEscrow)
}

func TestDelayedPayoutTx(t *testing.T) {
	f := newEscrowFixture(t)

	args := ports.DelayedPayoutTxArgs{
		Escrow:          f.escrow,
		DonationAddress: randomAddress(t, 0xdd),
		Fee:             2000,
		LockTime:        1774000000,
	}
	txHex, err := f.seller.CreateDelayedPayoutTx(ctx, args)
	require.NoError(t, err)

	tx := decodeTx(t, txHex)
	require.Equal(t, uint32(args.LockTime), tx.LockTime)
	require.Len(t, tx.TxIn, 1)
	require.Equal(t, uint32(wire.MaxTxInSequenceNum-1), tx.TxIn[0].Sequence)
	require.Len(t, tx.TxOut, 1)
	require.Equal(t, f.escrow.Amount-args.Fee, tx.TxOut[0].Value)

	require.NoError(t, f.buyer.VerifyDelayedPayoutTx(ctx, txHex, args))

	tampered := args
	tampered.LockTime++
	err = f.buyer.VerifyDelayedPayoutTx(ctx, txHex, tampered)
	require.ErrorIs(t, err, ErrDelayedPayoutTxMismatch)

	tampered = args
	tampered.DonationAddress = randomAddress(t, 0xee)
	err = f.buyer.VerifyDelayedPayoutTx(ctx, txHex, tampered)
	require.ErrorIs(t, err, ErrDelayedPayoutTxMismatch)

	invalid := args
	invalid.LockTime = 0
	_, err = f.seller.CreateDelayedPayoutTx(ctx, invalid)
	require.ErrorIs(t, err, ErrInvalidLockTime)

	invalid = args
	invalid.Fee = f.escrow.Amount
	_, err = f.seller.CreateDelayedPayoutTx(ctx, invalid)
	require.ErrorIs(t, err, ErrFeeExceedsEscrow)
}

func TestDerivationPath(t *testing.T) {
	path, err := ParseDerivationPath("m/84'/1'/0'/0/7")
	require.NoError(t, err)
	require.Equal(t, "m/84'/1'/0'/0/7", path.String())
	require.Equal(t, "m/84'/1'/0'/0/7/1", path.Extend(1).String())
	require.Len(t, path, 5)

	for _, p := range []string{"", "m", "m/a", "m//1", "m/-1"} {
		_, err := ParseDerivationPath(p)
		require.Error(t, err, p)
	}
}
