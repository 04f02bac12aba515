package protocol_test

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

// fakeTx is the transaction format understood by fakeWallet. Its id does not
// commit to the signatures, like segwit transactions.
type fakeTx struct {
	Kind     string
	Inputs   []string
	Outputs  []ports.TxOutput
	LockTime int64
	Sigs     map[string]string `json:",omitempty"`
}

func (tx fakeTx) id() string {
	tx.Sigs = nil
	buf, _ := json.Marshal(tx)
	h := sha256.Sum256(buf)
	return hex.EncodeToString(h[:])
}

func (tx fakeTx) encode() string {
	buf, _ := json.Marshal(tx)
	return hex.EncodeToString(buf)
}

func decodeTx(txHex string) (fakeTx, error) {
	buf, err := hex.DecodeString(txHex)
	if err != nil {
		return fakeTx{}, err
	}
	var tx fakeTx
	if err := json.Unmarshal(buf, &tx); err != nil {
		return fakeTx{}, err
	}
	return tx, nil
}

type fakeChain struct {
	lock      sync.Mutex
	published map[string]fakeTx
	history   []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{published: make(map[string]fakeTx)}
}

func (c *fakeChain) publish(tx fakeTx) string {
	c.lock.Lock()
	defer c.lock.Unlock()
	id := tx.id()
	if _, ok := c.published[id]; !ok {
		c.published[id] = tx
		c.history = append(c.history, tx.Kind)
	}
	return id
}

func (c *fakeChain) get(id string) (fakeTx, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	tx, ok := c.published[id]
	return tx, ok
}

func (c *fakeChain) kinds() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]string{}, c.history...)
}

func (c *fakeChain) count(kind string) int {
	n := 0
	for _, k := range c.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// fakeWallet is a deterministic wallet: escrow signatures are the signer key
// concatenated with the id of the signed transaction.
type fakeWallet struct {
	lock     sync.Mutex
	name     string
	chain    *fakeChain
	counter  int
	released int
	failOn   map[string]error
}

func newFakeWallet(name string, chain *fakeChain) *fakeWallet {
	return &fakeWallet{name: name, chain: chain, failOn: make(map[string]error)}
}

func (w *fakeWallet) next() int {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.counter++
	return w.counter
}

func (w *fakeWallet) fail(method string, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.failOn[method] = err
}

func (w *fakeWallet) err(method string) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.failOn[method]
}

func (w *fakeWallet) CreateFeeTx(_ context.Context, amount int64) (string, string, error) {
	tx := fakeTx{
		Kind:    "fee",
		Inputs:  []string{fmt.Sprintf("%s-fee-%d", w.name, w.next())},
		Outputs: []ports.TxOutput{{Address: "fee-address", Amount: amount}},
	}
	return tx.id(), tx.encode(), nil
}

func (w *fakeWallet) NewAddress(context.Context) (string, error) {
	return fmt.Sprintf("%s-addr-%d", w.name, w.next()), nil
}

func (w *fakeWallet) NewMultisigPubKey(_ context.Context, tradeID string) ([]byte, error) {
	return []byte(w.name + "-multisig-" + tradeID), nil
}

func (w *fakeWallet) SelectInputs(_ context.Context, amount int64) ([]domain.RawInput, error) {
	if err := w.err("SelectInputs"); err != nil {
		return nil, err
	}
	return []domain.RawInput{{
		TxID:  fmt.Sprintf("%s-utxo-%d", w.name, w.next()),
		Value: amount + 10000,
	}}, nil
}

func (w *fakeWallet) ReleaseInputs(context.Context, []domain.RawInput) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.released++
}

func (w *fakeWallet) CreateDepositTx(_ context.Context, args ports.DepositTxArgs) (string, string, error) {
	inputs := make([]string, 0)
	for _, in := range append(append([]domain.RawInput{}, args.BuyerInputs...), args.SellerInputs...) {
		inputs = append(inputs, in.TxID)
	}
	outputs := []ports.TxOutput{{Address: escrowAddress(args.BuyerPubKey, args.SellerPubKey), Amount: args.EscrowAmount}}
	if change := sum(args.BuyerInputs) - args.BuyerContribution; change > 0 {
		outputs = append(outputs, ports.TxOutput{Address: args.BuyerChangeAddress, Amount: change})
	}
	if change := sum(args.SellerInputs) - args.SellerContribution; change > 0 {
		outputs = append(outputs, ports.TxOutput{Address: args.SellerChangeAddress, Amount: change})
	}
	tx := fakeTx{Kind: "deposit", Inputs: inputs, Outputs: outputs}
	return tx.id(), tx.encode(), nil
}

func (w *fakeWallet) SignTxInputs(_ context.Context, txHex string, prevOuts []domain.RawInput) (string, error) {
	tx, err := decodeTx(txHex)
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

func (w *fakeWallet) CombineTxSignatures(_ context.Context, txHex, otherTxHex string) (string, error) {
	tx, err := decodeTx(txHex)
	if err != nil {
		return "", err
	}
	other, err := decodeTx(otherTxHex)
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

func (w *fakeWallet) delayedPayoutTx(args ports.DelayedPayoutTxArgs) fakeTx {
	return fakeTx{
		Kind:     "delayed_payout",
		Inputs:   []string{args.Escrow.DepositTxID + ":0"},
		Outputs:  []ports.TxOutput{{Address: args.DonationAddress, Amount: args.Escrow.Amount - args.Fee}},
		LockTime: args.LockTime,
	}
}

func (w *fakeWallet) CreateDelayedPayoutTx(_ context.Context, args ports.DelayedPayoutTxArgs) (string, error) {
	return w.delayedPayoutTx(args).encode(), nil
}

func (w *fakeWallet) VerifyDelayedPayoutTx(_ context.Context, txHex string, args ports.DelayedPayoutTxArgs) error {
	tx, err := decodeTx(txHex)
	if err != nil {
		return err
	}
	if tx.id() != w.delayedPayoutTx(args).id() {
		return errors.New("delayed payout tx does not match")
	}
	return nil
}

func (w *fakeWallet) CreatePayoutTx(_ context.Context, args ports.PayoutTxArgs) (string, error) {
	outputs := make([]ports.TxOutput, 0)
	if args.BuyerAmount > 0 {
		outputs = append(outputs, ports.TxOutput{Address: args.BuyerAddress, Amount: args.BuyerAmount})
	}
	if args.SellerAmount > 0 {
		outputs = append(outputs, ports.TxOutput{Address: args.SellerAddress, Amount: args.SellerAmount})
	}
	tx := fakeTx{
		Kind:    "payout",
		Inputs:  []string{args.Escrow.DepositTxID + ":0"},
		Outputs: outputs,
	}
	return tx.encode(), nil
}

func (w *fakeWallet) SignEscrowInput(
	_ context.Context, txHex string, _ ports.Escrow, tradeID string,
) ([]byte, error) {
	tx, err := decodeTx(txHex)
	if err != nil {
		return nil, err
	}
	key, _ := w.NewMultisigPubKey(context.Background(), tradeID)
	return escrowSig(key, tx.id()), nil
}

func (w *fakeWallet) VerifyEscrowSignature(
	_ context.Context, txHex string, _ ports.Escrow, pubKey, sig []byte,
) error {
	tx, err := decodeTx(txHex)
	if err != nil {
		return err
	}
	if string(sig) != string(escrowSig(pubKey, tx.id())) {
		return errors.New("invalid escrow signature")
	}
	return nil
}

func (w *fakeWallet) FinalizeEscrowSpend(
	ctx context.Context, txHex string, escrow ports.Escrow, buyerSig, sellerSig []byte,
) (string, error) {
	if err := w.VerifyEscrowSignature(ctx, txHex, escrow, escrow.BuyerPubKey, buyerSig); err != nil {
		return "", fmt.Errorf("buyer: %w", err)
	}
	if err := w.VerifyEscrowSignature(ctx, txHex, escrow, escrow.SellerPubKey, sellerSig); err != nil {
		return "", fmt.Errorf("seller: %w", err)
	}
	tx, _ := decodeTx(txHex)
	tx.Sigs = map[string]string{"escrow": string(buyerSig) + "," + string(sellerSig)}
	return tx.encode(), nil
}

func (w *fakeWallet) CreateSwapTx(_ context.Context, args ports.SwapTxArgs) (string, error) {
	inputs := make([]string, 0, len(args.Inputs))
	for _, in := range args.Inputs {
		inputs = append(inputs, in.TxID)
	}
	tx := fakeTx{Kind: "swap", Inputs: inputs, Outputs: args.Outputs}
	return tx.encode(), nil
}

func (w *fakeWallet) TxID(txHex string) (string, error) {
	tx, err := decodeTx(txHex)
	if err != nil {
		return "", err
	}
	return tx.id(), nil
}

func (w *fakeWallet) BroadcastTransaction(_ context.Context, txHex string) (string, error) {
	if err := w.err("BroadcastTransaction"); err != nil {
		return "", err
	}
	tx, err := decodeTx(txHex)
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

func (w *fakeWallet) IsTransactionPublished(_ context.Context, txID string) (bool, error) {
	_, ok := w.chain.get(txID)
	return ok, nil
}

func escrowAddress(buyerKey, sellerKey []byte) string {
	return "multisig(" + string(buyerKey) + "," + string(sellerKey) + ")"
}

func escrowSig(key []byte, txID string) []byte {
	return []byte(string(key) + "|" + txID)
}

func sum(inputs []domain.RawInput) int64 {
	var total int64
	for _, in := range inputs {
		total += in.Value
	}
	return total
}

type fakeKeyRing struct {
	name string
}

func (k fakeKeyRing) PubKeyRing() domain.PubKeyRing {
	return domain.PubKeyRing{SignaturePubKey: []byte(k.name)}
}

func (k fakeKeyRing) Sign(digest []byte) ([]byte, error) {
	return append([]byte(k.name+":"), digest...), nil
}

func (k fakeKeyRing) Verify(pubKey, digest, sig []byte) error {
	if string(sig) != string(append(append([]byte{}, pubKey...), append([]byte(":"), digest...)...)) {
		return errors.New("invalid signature")
	}
	return nil
}

type fakeWatcher struct {
	lock    sync.Mutex
	watched map[string]string
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{watched: make(map[string]string)}
}

func (w *fakeWatcher) WatchDepositTx(tradeID, txID string) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.watched[txID] = tradeID
	return nil
}

func (w *fakeWatcher) StopWatching(txID string) {
	w.lock.Lock()
	defer w.lock.Unlock()
	delete(w.watched, txID)
}

func (w *fakeWatcher) isWatching(txID string) bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	_, ok := w.watched[txID]
	return ok
}

type fakeStore struct {
	lock     sync.Mutex
	persists int
	last     *domain.Trade
}

func (s *fakeStore) PersistTrade(_ context.Context, t *domain.Trade) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.persists++
	s.last = t
	return nil
}

type envelope struct {
	to      domain.NodeAddress
	from    domain.NodeAddress
	msg     domain.TradeMessage
	mailbox bool
}

// fakeNetwork queues messages until flushed, so that protocol instances are
// never re-entered while running a step.
type fakeNetwork struct {
	lock     sync.Mutex
	offline     map[domain.NodeAddress]bool
	unreachable map[domain.NodeAddress]bool
	queue       []envelope
	delivered   []envelope
	mailbox     map[domain.NodeAddress][]envelope
	removed     map[string]bool
	sent        []domain.MessageKind
	handlers    map[domain.NodeAddress]func(envelope)
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		offline:     make(map[domain.NodeAddress]bool),
		unreachable: make(map[domain.NodeAddress]bool),
		mailbox:     make(map[domain.NodeAddress][]envelope),
		removed:     make(map[string]bool),
		handlers:    make(map[domain.NodeAddress]func(envelope)),
	}
}

func (n *fakeNetwork) setOnline(addr domain.NodeAddress, online bool) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.offline[addr] = !online
	if online {
		n.queue = append(n.queue, n.mailbox[addr]...)
		delete(n.mailbox, addr)
	}
}

// setUnreachable makes every send to the given peer fail, mailbox included.
func (n *fakeNetwork) setUnreachable(addr domain.NodeAddress, unreachable bool) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.unreachable[addr] = unreachable
}

func (n *fakeNetwork) setHandler(addr domain.NodeAddress, handler func(envelope)) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.handlers[addr] = handler
}

// lastDelivered returns the last envelope of the given kind handed to a
// handler.
func (n *fakeNetwork) lastDelivered(kind domain.MessageKind) (envelope, bool) {
	n.lock.Lock()
	defer n.lock.Unlock()
	for i := len(n.delivered) - 1; i >= 0; i-- {
		if n.delivered[i].msg.Kind() == kind {
			return n.delivered[i], true
		}
	}
	return envelope{}, false
}

func (n *fakeNetwork) sentKinds() []domain.MessageKind {
	n.lock.Lock()
	defer n.lock.Unlock()
	return append([]domain.MessageKind{}, n.sent...)
}

func (n *fakeNetwork) countSent(kind domain.MessageKind) int {
	c := 0
	for _, k := range n.sentKinds() {
		if k == kind {
			c++
		}
	}
	return c
}

func (n *fakeNetwork) pop() (envelope, bool) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if len(n.queue) == 0 {
		return envelope{}, false
	}
	e := n.queue[0]
	n.queue = n.queue[1:]
	return e, true
}

// flush delivers the queued messages until none is left.
func (n *fakeNetwork) flush() {
	for {
		e, ok := n.pop()
		if !ok {
			return
		}
		n.lock.Lock()
		handler := n.handlers[e.to]
		if handler != nil {
			n.delivered = append(n.delivered, e)
		}
		n.lock.Unlock()
		if handler != nil {
			handler(e)
		}
	}
}

func (n *fakeNetwork) endpoint(addr domain.NodeAddress) *fakeEndpoint {
	return &fakeEndpoint{net: n, addr: addr}
}

type fakeEndpoint struct {
	net  *fakeNetwork
	addr domain.NodeAddress
}

func (e *fakeEndpoint) Address() domain.NodeAddress {
	return e.addr
}

func (e *fakeEndpoint) SendDirect(_ context.Context, peer domain.NodeAddress, msg domain.TradeMessage) error {
	n := e.net
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.offline[peer] || n.unreachable[peer] {
		return fmt.Errorf("peer %s offline", peer)
	}
	n.sent = append(n.sent, msg.Kind())
	n.queue = append(n.queue, envelope{to: peer, from: e.addr, msg: msg})
	return nil
}

func (e *fakeEndpoint) SendMailbox(
	_ context.Context, peer domain.NodeAddress, msg domain.TradeMessage,
) (ports.DeliveryOutcome, error) {
	n := e.net
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.unreachable[peer] {
		return 0, fmt.Errorf("peer %s unreachable", peer)
	}
	n.sent = append(n.sent, msg.Kind())
	env := envelope{to: peer, from: e.addr, msg: msg, mailbox: true}
	if n.offline[peer] {
		n.mailbox[peer] = append(n.mailbox[peer], env)
		return ports.DeliveryStoredInMailbox, nil
	}
	n.queue = append(n.queue, env)
	return ports.DeliveryArrived, nil
}

func (e *fakeEndpoint) RemoveMailboxMessage(_ context.Context, uid string) error {
	e.net.lock.Lock()
	defer e.net.lock.Unlock()
	e.net.removed[uid] = true
	return nil
}

func (e *fakeEndpoint) PendingMailboxMessages(context.Context) ([]ports.InboundMessage, error) {
	e.net.lock.Lock()
	defer e.net.lock.Unlock()
	msgs := make([]ports.InboundMessage, 0)
	for _, env := range e.net.mailbox[e.addr] {
		msgs = append(msgs, ports.InboundMessage{Message: env.msg, From: env.from, Mailbox: true})
	}
	return msgs, nil
}

func (e *fakeEndpoint) RegisterHandler(ports.InboundHandler) {}

func (e *fakeEndpoint) Start(context.Context) error { return nil }

func (e *fakeEndpoint) Stop() {}
