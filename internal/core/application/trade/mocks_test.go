package trade_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
)

// mockTx is the transaction format understood by mockWallet. Its id doesn't
// commit to signatures.
type mockTx struct {
	Kind     string
	Inputs   []string
	Outputs  []ports.TxOutput
	LockTime int64
	Sigs     map[string]string `json:",omitempty"`
}

func (tx mockTx) id() string {
	tx.Sigs = nil
	buf, _ := json.Marshal(tx)
	h := sha256.Sum256(buf)
	return hex.EncodeToString(h[:])
}

func (tx mockTx) encode() string {
	buf, _ := json.Marshal(tx)
	return hex.EncodeToString(buf)
}

func decodeMockTx(txHex string) (mockTx, error) {
	buf, err := hex.DecodeString(txHex)
	if err != nil {
		return mockTx{}, err
	}
	var tx mockTx
	if err := json.Unmarshal(buf, &tx); err != nil {
		return mockTx{}, err
	}
	return tx, nil
}

type mockChain struct {
	lock sync.Mutex
	txs  map[string]mockTx
}

func newMockChain() *mockChain {
	return &mockChain{txs: make(map[string]mockTx)}
}

func (c *mockChain) publish(tx mockTx) string {
	c.lock.Lock()
	defer c.lock.Unlock()
	id := tx.id()
	c.txs[id] = tx
	return id
}

func (c *mockChain) get(id string) (mockTx, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	tx, ok := c.txs[id]
	return tx, ok
}

type mockWallet struct {
	lock     sync.Mutex
	name     string
	chain    *mockChain
	counter  int
	released int
}

func newMockWallet(name string, chain *mockChain) *mockWallet {
	return &mockWallet{name: name, chain: chain}
}

func (w *mockWallet) next() int {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.counter++
	return w.counter
}

func (w *mockWallet) releasedCount() int {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.released
}

func (w *mockWallet) CreateFeeTx(_ context.Context, amount int64) (string, string, error) {
	tx := mockTx{
		Kind:    "fee",
		Inputs:  []string{fmt.Sprintf("%s-fee-%d", w.name, w.next())},
		Outputs: []ports.TxOutput{{Address: "fee-address", Amount: amount}},
	}
	return tx.id(), tx.encode(), nil
}

func (w *mockWallet) NewAddress(context.Context) (string, error) {
	return fmt.Sprintf("%s-addr-%d", w.name, w.next()), nil
}

func (w *mockWallet) NewMultisigPubKey(_ context.Context, tradeID string) ([]byte, error) {
	return []byte(w.name + "-multisig-" + tradeID), nil
}

func (w *mockWallet) SelectInputs(_ context.Context, amount int64) ([]domain.RawInput, error) {
	return []domain.RawInput{{
		TxID:  fmt.Sprintf("%s-utxo-%d", w.name, w.next()),
		Value: amount + 10000,
	}}, nil
}

func (w *mockWallet) ReleaseInputs(context.Context, []domain.RawInput) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.released++
}

func (w *mockWallet) CreateDepositTx(_ context.Context, args ports.DepositTxArgs) (string, string, error) {
	inputs := make([]string, 0)
	for _, in := range args.BuyerInputs {
		inputs = append(inputs, in.TxID)
	}
	for _, in := range args.SellerInputs {
		inputs = append(inputs, in.TxID)
	}
	tx := mockTx{
		Kind:   "deposit",
		Inputs: inputs,
		Outputs: []ports.TxOutput{{
			Address: "multisig(" + string(args.BuyerPubKey) + "," + string(args.SellerPubKey) + ")",
			Amount:  args.EscrowAmount,
		}},
	}
	return tx.id(), tx.encode(), nil
}

func (w *mockWallet) SignTxInputs(_ context.Context, txHex string, prevOuts []domain.RawInput) (string, error) {
	tx, err := decodeMockTx(txHex)
	if err != nil {
		return "", err
	}
	if tx.Sigs == nil {
		tx.Sigs = make(map[string]string)
	}
	for _, in := range prevOuts {
		if strings.HasPrefix(in.TxID, w.name+"-") {
			tx.Sigs[in.TxID] = w.name
		}
	}
	return tx.encode(), nil
}

func (w *mockWallet) CombineTxSignatures(_ context.Context, txHex, otherTxHex string) (string, error) {
	tx, err := decodeMockTx(txHex)
	if err != nil {
		return "", err
	}
	other, err := decodeMockTx(otherTxHex)
	if err != nil {
		return "", err
	}
	if tx.id() != other.id() {
		return "", errors.New("combining different transactions")
	}
	if tx.Sigs == nil {
		tx.Sigs = make(map[string]string)
	}
	for k, v := range other.Sigs {
		tx.Sigs[k] = v
	}
	return tx.encode(), nil
}

func (w *mockWallet) delayedPayoutTx(args ports.DelayedPayoutTxArgs) mockTx {
	return mockTx{
		Kind:     "delayed_payout",
		Inputs:   []string{args.Escrow.DepositTxID + ":0"},
		Outputs:  []ports.TxOutput{{Address: args.DonationAddress, Amount: args.Escrow.Amount - args.Fee}},
		LockTime: args.LockTime,
	}
}

func (w *mockWallet) CreateDelayedPayoutTx(_ context.Context, args ports.DelayedPayoutTxArgs) (string, error) {
	return w.delayedPayoutTx(args).encode(), nil
}

func (w *mockWallet) VerifyDelayedPayoutTx(_ context.Context, txHex string, args ports.DelayedPayoutTxArgs) error {
	tx, err := decodeMockTx(txHex)
	if err != nil {
		return err
	}
	if tx.id() != w.delayedPayoutTx(args).id() {
		return errors.New("delayed payout tx does not match")
	}
	return nil
}

func (w *mockWallet) CreatePayoutTx(_ context.Context, args ports.PayoutTxArgs) (string, error) {
	outputs := make([]ports.TxOutput, 0)
	if args.BuyerAmount > 0 {
		outputs = append(outputs, ports.TxOutput{Address: args.BuyerAddress, Amount: args.BuyerAmount})
	}
	if args.SellerAmount > 0 {
		outputs = append(outputs, ports.TxOutput{Address: args.SellerAddress, Amount: args.SellerAmount})
	}
	tx := mockTx{
		Kind:    "payout",
		Inputs:  []string{args.Escrow.DepositTxID + ":0"},
		Outputs: outputs,
	}
	return tx.encode(), nil
}

func (w *mockWallet) SignEscrowInput(
	_ context.Context, txHex string, _ ports.Escrow, tradeID string,
) ([]byte, error) {
	tx, err := decodeMockTx(txHex)
	if err != nil {
		return nil, err
	}
	key, _ := w.NewMultisigPubKey(context.Background(), tradeID)
	return []byte(string(key) + "|" + tx.id()), nil
}

func (w *mockWallet) VerifyEscrowSignature(
	_ context.Context, txHex string, _ ports.Escrow, pubKey, sig []byte,
) error {
	tx, err := decodeMockTx(txHex)
	if err != nil {
		return err
	}
	if string(sig) != string(pubKey)+"|"+tx.id() {
		return errors.New("invalid escrow signature")
	}
	return nil
}

func (w *mockWallet) FinalizeEscrowSpend(
	ctx context.Context, txHex string, escrow ports.Escrow, buyerSig, sellerSig []byte,
) (string, error) {
	if err := w.VerifyEscrowSignature(ctx, txHex, escrow, escrow.BuyerPubKey, buyerSig); err != nil {
		return "", err
	}
	if err := w.VerifyEscrowSignature(ctx, txHex, escrow, escrow.SellerPubKey, sellerSig); err != nil {
		return "", err
	}
	tx, _ := decodeMockTx(txHex)
	tx.Sigs = map[string]string{"escrow": string(buyerSig) + "," + string(sellerSig)}
	return tx.encode(), nil
}

func (w *mockWallet) CreateSwapTx(_ context.Context, args ports.SwapTxArgs) (string, error) {
	inputs := make([]string, 0, len(args.Inputs))
	for _, in := range args.Inputs {
		inputs = append(inputs, in.TxID)
	}
	tx := mockTx{Kind: "swap", Inputs: inputs, Outputs: args.Outputs}
	return tx.encode(), nil
}

func (w *mockWallet) TxID(txHex string) (string, error) {
	tx, err := decodeMockTx(txHex)
	if err != nil {
		return "", err
	}
	return tx.id(), nil
}

func (w *mockWallet) BroadcastTransaction(_ context.Context, txHex string) (string, error) {
	tx, err := decodeMockTx(txHex)
	if err != nil {
		return "", err
	}
	if tx.Kind == "deposit" || tx.Kind == "swap" {
		for _, in := range tx.Inputs {
			if _, ok := tx.Sigs[in]; !ok {
				return "", fmt.Errorf("input %s not signed", in)
			}
		}
	}
	return w.chain.publish(tx), nil
}

func (w *mockWallet) IsTransactionPublished(_ context.Context, txID string) (bool, error) {
	_, ok := w.chain.get(txID)
	return ok, nil
}

type mockKeyRing struct {
	name string
}

func (k mockKeyRing) PubKeyRing() domain.PubKeyRing {
	return domain.PubKeyRing{SignaturePubKey: []byte(k.name)}
}

func (k mockKeyRing) Sign(digest []byte) ([]byte, error) {
	return append([]byte(k.name+":"), digest...), nil
}

func (k mockKeyRing) Verify(pubKey, digest, sig []byte) error {
	want := append(append([]byte{}, pubKey...), append([]byte(":"), digest...)...)
	if string(sig) != string(want) {
		return errors.New("invalid signature")
	}
	return nil
}

type mockWatcher struct {
	lock    sync.Mutex
	watched map[string]string
}

func newMockWatcher() *mockWatcher {
	return &mockWatcher{watched: make(map[string]string)}
}

func (w *mockWatcher) WatchDepositTx(tradeID, txID string) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.watched[txID] = tradeID
	return nil
}

func (w *mockWatcher) StopWatching(txID string) {
	w.lock.Lock()
	defer w.lock.Unlock()
	delete(w.watched, txID)
}

func (w *mockWatcher) isWatching(txID string) bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	_, ok := w.watched[txID]
	return ok
}

func (c *mockChain) count(kind string) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	n := 0
	for _, tx := range c.txs {
		if tx.Kind == kind {
			n++
		}
	}
	return n
}
