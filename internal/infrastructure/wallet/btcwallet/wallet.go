package btcwallet

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
	"github.com/p2p-escrow/trade-daemon/pkg/explorer"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultMinerFee is the flat fee paid by the wallet's own transactions.
	DefaultMinerFee = 1000
	// DefaultAddressLookahead is the number of receiving addresses scanned
	// for coins when the wallet is restored.
	DefaultAddressLookahead = 20

	dustLimit = 546
	purpose   = 84
	// tradeKeysPurpose is the purpose of the paths of identity and escrow
	// keys.
	tradeKeysPurpose = 1017
)

// Opts defines the parameters to create a wallet.
type Opts struct {
	Seed             []byte
	Network          *chaincfg.Params
	Explorer         explorer.Service
	FeeAddress       string
	MinerFee         int64
	AddressLookahead int
}

func (o Opts) validate() error {
	if len(o.Seed) <= 0 {
		return ErrNullSeed
	}
	if o.Network == nil {
		return ErrNullNetwork
	}
	if o.Explorer == nil {
		return ErrNullExplorer
	}
	if _, err := btcutil.DecodeAddress(o.FeeAddress, o.Network); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidFeeAddress, err)
	}
	if o.MinerFee < 0 {
		return fmt.Errorf("miner fee must not be negative")
	}
	if o.AddressLookahead < 0 {
		return fmt.Errorf("address lookahead must not be negative")
	}
	return nil
}

// Wallet is a single account P2WPKH wallet backed by an explorer. Coins
// selected for a trade are reserved until released or spent.
type Wallet struct {
	network    *chaincfg.Params
	explorer   explorer.Service
	master     *hdkeychain.ExtendedKey
	feeAddress string
	minerFee   int64

	lock      sync.Mutex
	nextIndex uint32
	// hex(pkScript) -> address index
	scripts   map[string]uint32
	addresses []string
	reserved  map[string]struct{}
}

// New restores the wallet from its seed and scans the first lookahead
// addresses to find where to resume the derivation from.
func New(opts Opts) (*Wallet, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.MinerFee == 0 {
		opts.MinerFee = DefaultMinerFee
	}
	if opts.AddressLookahead == 0 {
		opts.AddressLookahead = DefaultAddressLookahead
	}

	master, err := hdkeychain.NewMaster(opts.Seed, opts.Network)
	if err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}

	w := &Wallet{
		network:    opts.Network,
		explorer:   opts.Explorer,
		master:     master,
		feeAddress: opts.FeeAddress,
		minerFee:   opts.MinerFee,
		scripts:    make(map[string]uint32),
		reserved:   make(map[string]struct{}),
	}

	if err := w.restore(opts.AddressLookahead); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Wallet) restore(lookahead int) error {
	lastUsed := -1
	for i := 0; i < lookahead; i++ {
		addr, err := w.deriveAddress()
		if err != nil {
			return err
		}
		utxos, err := w.explorer.GetUnspents(addr)
		if err != nil {
			return fmt.Errorf("failed to scan address %s: %w", addr, err)
		}
		if len(utxos) > 0 {
			lastUsed = i
		}
	}
	w.nextIndex = uint32(lastUsed + 1)
	log.Debugf("wallet restored, next address index %d", w.nextIndex)
	return nil
}

// NewAddress returns the next unused receiving address.
func (w *Wallet) NewAddress(_ context.Context) (string, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	return w.nextAddress()
}

// NewMultisigPubKey returns the escrow key of the trade. The key is derived
// from the trade id, so that it can be recomputed after a restart.
func (w *Wallet) NewMultisigPubKey(_ context.Context, tradeID string) ([]byte, error) {
	key, err := w.tradeKey(tradeID)
	if err != nil {
		return nil, err
	}
	return key.PubKey().SerializeCompressed(), nil
}

// SelectInputs selects and reserves wallet coins covering amount.
func (w *Wallet) SelectInputs(_ context.Context, amount int64) ([]domain.RawInput, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	inputs, _, err := w.selectCoins(amount)
	if err != nil {
		return nil, err
	}
	w.reserve(inputs)
	return inputs, nil
}

// ReleaseInputs makes reserved coins selectable again.
func (w *Wallet) ReleaseInputs(_ context.Context, inputs []domain.RawInput) {
	w.lock.Lock()
	defer w.lock.Unlock()

	for _, in := range inputs {
		delete(w.reserved, outpointKey(in.TxID, in.Vout))
	}
}

// CreateFeeTx returns a signed transaction paying amount to the fee address.
// The spent coins are reserved so that they are not selected again before
// the transaction is broadcasted.
func (w *Wallet) CreateFeeTx(
	_ context.Context, amount int64,
) (string, string, error) {
	if amount <= 0 {
		return "", "", ErrInvalidAmount
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	inputs, change, err := w.selectCoins(amount + w.minerFee)
	if err != nil {
		return "", "", err
	}

	outputs := []ports.TxOutput{{Address: w.feeAddress, Amount: amount}}
	if change >= dustLimit {
		changeAddr, err := w.nextAddress()
		if err != nil {
			return "", "", err
		}
		outputs = append(outputs, ports.TxOutput{Address: changeAddr, Amount: change})
	}

	tx, err := w.newTx(inputs, outputs, 0)
	if err != nil {
		return "", "", err
	}
	if err := w.signInputs(tx, inputs); err != nil {
		return "", "", err
	}
	txHex, err := serializeTx(tx)
	if err != nil {
		return "", "", err
	}

	w.reserve(inputs)
	return tx.TxHash().String(), txHex, nil
}

// TxID returns the id of the given transaction.
func (w *Wallet) TxID(txHex string) (string, error) {
	tx, err := deserializeTx(txHex)
	if err != nil {
		return "", err
	}
	return tx.TxHash().String(), nil
}

// BroadcastTransaction ...
func (w *Wallet) BroadcastTransaction(_ context.Context, txHex string) (string, error) {
	return w.explorer.BroadcastTransaction(txHex)
}

// IsTransactionPublished returns whether the transaction is either in mempool
// or in a block.
func (w *Wallet) IsTransactionPublished(_ context.Context, txID string) (bool, error) {
	if _, err := w.explorer.GetTransactionStatus(txID); err != nil {
		if errors.Is(err, explorer.ErrTransactionNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (w *Wallet) nextAddress() (string, error) {
	if int(w.nextIndex) < len(w.addresses) {
		addr := w.addresses[w.nextIndex]
		w.nextIndex++
		return addr, nil
	}
	addr, err := w.deriveAddress()
	if err != nil {
		return "", err
	}
	w.nextIndex++
	return addr, nil
}

// deriveAddress derives the address following the last one known and starts
// tracking it.
func (w *Wallet) deriveAddress() (string, error) {
	index := uint32(len(w.addresses))
	key, err := w.receivingKey(index)
	if err != nil {
		return "", err
	}
	pubKeyHash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, w.network)
	if err != nil {
		return "", err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", err
	}

	w.addresses = append(w.addresses, addr.EncodeAddress())
	w.scripts[hex.EncodeToString(script)] = index
	return addr.EncodeAddress(), nil
}

func (w *Wallet) accountPath() DerivationPath {
	return DerivationPath{
		hdkeychain.HardenedKeyStart + purpose,
		hdkeychain.HardenedKeyStart + w.network.HDCoinType,
		hdkeychain.HardenedKeyStart + 0,
	}
}

func (w *Wallet) receivingKey(index uint32) (*btcec.PrivateKey, error) {
	key, err := deriveKey(w.master, w.accountPath().Extend(0, index))
	if err != nil {
		return nil, err
	}
	return key.ECPrivKey()
}

func (w *Wallet) tradeKey(tradeID string) (*btcec.PrivateKey, error) {
	hash := sha256.Sum256([]byte(tradeID))
	index := binary.BigEndian.Uint32(hash[:4]) &^ hdkeychain.HardenedKeyStart
	path := DerivationPath{
		hdkeychain.HardenedKeyStart + tradeKeysPurpose,
		hdkeychain.HardenedKeyStart + w.network.HDCoinType,
		hdkeychain.HardenedKeyStart + 1,
		index,
	}
	key, err := deriveKey(w.master, path)
	if err != nil {
		return nil, err
	}
	return key.ECPrivKey()
}

// ownedKey returns the key controlling the given script, if any. It must be
// called with the lock held.
func (w *Wallet) ownedKey(pkScript []byte) (*btcec.PrivateKey, bool, error) {
	index, ok := w.scripts[hex.EncodeToString(pkScript)]
	if !ok {
		return nil, false, nil
	}
	key, err := w.receivingKey(index)
	if err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// selectCoins must be called with the lock held.
func (w *Wallet) selectCoins(amount int64) ([]domain.RawInput, int64, error) {
	coins := make(map[string]domain.RawInput)
	utxos := make([]explorer.Utxo, 0)
	for _, addr := range w.addresses {
		addrUtxos, err := w.explorer.GetUnspents(addr)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to fetch coins of %s: %w", addr, err)
		}
		if len(addrUtxos) <= 0 {
			continue
		}
		script, err := w.addressScript(addr)
		if err != nil {
			return nil, 0, err
		}
		for _, u := range addrUtxos {
			key := outpointKey(u.Hash(), u.Index())
			if _, ok := w.reserved[key]; ok {
				continue
			}
			coins[key] = domain.RawInput{
				TxID:     u.Hash(),
				Vout:     u.Index(),
				Value:    int64(u.Value()),
				PkScript: script,
			}
			utxos = append(utxos, u)
		}
	}

	selected, change, err := explorer.SelectUnspents(utxos, uint64(amount))
	if err != nil {
		if errors.Is(err, explorer.ErrInsufficientFunds) {
			return nil, 0, fmt.Errorf("%w: %d sats", ErrInsufficientFunds, amount)
		}
		return nil, 0, err
	}

	inputs := make([]domain.RawInput, 0, len(selected))
	for _, u := range selected {
		inputs = append(inputs, coins[outpointKey(u.Hash(), u.Index())])
	}
	return inputs, int64(change), nil
}

func (w *Wallet) reserve(inputs []domain.RawInput) {
	for _, in := range inputs {
		w.reserved[outpointKey(in.TxID, in.Vout)] = struct{}{}
	}
}

func (w *Wallet) addressScript(addr string) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(addr, w.network)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", addr, err)
	}
	return txscript.PayToAddrScript(decoded)
}

func outpointKey(txID string, vout uint32) string {
	return fmt.Sprintf("%s:%d", txID, vout)
}
