package protocol_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/p2p-escrow/trade-daemon/internal/core/application/protocol"
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/raulk/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	tradeAmount    = int64(1000000)
	buyerDeposit   = int64(150000)
	sellerDeposit  = int64(150000)
	txFee          = int64(5000)
	takerFeeAmount = int64(3000)
	makerFeeAmount = int64(2000)
)

var (
	ctx       = context.Background()
	makerAddr = domain.NodeAddress{Host: "maker.onion", Port: 9999}
	takerAddr = domain.NodeAddress{Host: "taker.onion", Port: 9999}
	startTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type party struct {
	name    string
	addr    domain.NodeAddress
	wallet  *fakeWallet
	store   *fakeStore
	watcher *fakeWatcher
	proto   *protocol.Protocol
	errs    map[domain.MessageKind]error
	phases  []domain.Phase
}

func (p *party) trade() *domain.Trade {
	return p.proto.Trade()
}

type harness struct {
	t     *testing.T
	mu    sync.Mutex
	clock *clock.Mock
	chain *fakeChain
	net   *fakeNetwork
	offer domain.Offer
	maker *party
	taker *party
}

func newHarness(t *testing.T, direction domain.Direction, generation domain.Generation) *harness {
	chain := newFakeChain()
	clk := clock.NewMock()
	clk.Set(startTime)

	h := &harness{
		t:     t,
		clock: clk,
		chain: chain,
		net:   newFakeNetwork(),
	}
	h.maker = h.newParty("maker", makerAddr)
	h.taker = h.newParty("taker", takerAddr)

	_, makerFeeTx, err := h.maker.wallet.CreateFeeTx(ctx, makerFeeAmount)
	require.NoError(t, err)
	makerFeeTxID, err := h.maker.wallet.BroadcastTransaction(ctx, makerFeeTx)
	require.NoError(t, err)

	h.offer = domain.Offer{
		ID:                    "offer-1",
		Direction:             direction,
		CurrencyCode:          "EUR",
		Price:                 decimal.NewFromInt(30000),
		Amount:                tradeAmount,
		MinAmount:             tradeAmount / 2,
		PaymentMethodID:       "SEPA",
		MakerFeeTxID:          makerFeeTxID,
		MakerNodeAddress:      makerAddr,
		MakerPubKeyRing:       fakeKeyRing{"maker"}.PubKeyRing(),
		BuyerSecurityDeposit:  buyerDeposit,
		SellerSecurityDeposit: sellerDeposit,
		Generation:            generation,
		Date:                  startTime.Unix(),
	}

	takerFeeTxID, takerFeeTx, err := h.taker.wallet.CreateFeeTx(ctx, takerFeeAmount)
	require.NoError(t, err)
	trade, err := domain.NewTrade(
		domain.DeriveTradeID(h.offer.ID, takerFeeTxID), h.offer, domain.PositionTaker,
		tradeAmount, h.offer.Price, txFee, takerFeeAmount,
	)
	require.NoError(t, err)
	trade.TakerFeeTxID = takerFeeTxID
	trade.ProcessModel.TakerFeeTx = takerFeeTx
	h.taker.proto = h.newProtocol(h.taker, trade)

	h.net.setHandler(makerAddr, h.deliver(h.maker))
	h.net.setHandler(takerAddr, h.deliver(h.taker))
	return h
}

func (h *harness) newParty(name string, addr domain.NodeAddress) *party {
	return &party{
		name:    name,
		addr:    addr,
		wallet:  newFakeWallet(name, h.chain),
		store:   &fakeStore{},
		watcher: newFakeWatcher(),
		errs:    make(map[domain.MessageKind]error),
	}
}

func (h *harness) newProtocol(p *party, trade *domain.Trade) *protocol.Protocol {
	env := protocol.Env{
		Wallet:  p.wallet,
		P2P:     h.net.endpoint(p.addr),
		KeyRing: fakeKeyRing{p.name},
		Watcher: p.watcher,
		Trades:  p.store,
		Clock:   h.clock,
		Config: protocol.Config{
			DonationAddress: "donation",
			AccountID:       p.name + "-account",
			PaymentAccount: &domain.PaymentAccountPayload{
				ID:              p.name + "-sepa",
				PaymentMethodID: "SEPA",
				HolderName:      strings.ToUpper(p.name),
				Details:         map[string]string{"iban": "DE00" + p.name},
			},
		},
	}
	return protocol.New(
		trade, env,
		protocol.WithExecutor(h.post),
		protocol.WithUpdateHandler(func(t *domain.Trade) {
			p.phases = append(p.phases, t.Phase)
		}),
	)
}

// createMakerTrade mimics the trade manager of the maker, creating the trade
// on the first take request of the offer.
func (h *harness) createMakerTrade(msg domain.TradeMessage) {
	var (
		amount  int64
		price   decimal.Decimal
		fee     int64
		takeFee int64
	)
	switch m := msg.(type) {
	case *domain.InputsForDepositTxRequest:
		amount, price, fee, takeFee = m.TradeAmount, m.TradePrice, m.TxFee, m.TakerFee
	case *domain.SwapRequest:
		amount, price, fee, takeFee = m.TradeAmount, m.TradePrice, m.TxFee, m.TakerFee
	default:
		return
	}
	trade, err := domain.NewTrade(
		msg.Header().TradeID, h.offer, domain.PositionMaker, amount, price, fee, takeFee,
	)
	require.NoError(h.t, err)
	h.maker.proto = h.newProtocol(h.maker, trade)
}

func (h *harness) deliver(p *party) func(envelope) {
	return func(e envelope) {
		h.mu.Lock()
		defer h.mu.Unlock()

		if p.proto == nil {
			h.createMakerTrade(e.msg)
			if p.proto == nil {
				return
			}
		}
		var err error
		if e.mailbox {
			err = p.proto.OnMailboxMessage(ctx, e.msg, e.from)
		} else {
			err = p.proto.OnTradeMessage(ctx, e.msg, e.from)
		}
		p.errs[e.msg.Kind()] = err
	}
}

func (h *harness) post(f func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f()
}

func (h *harness) do(f func(p *party) error, p *party) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return f(p)
}

func (h *harness) buyer() *party {
	if h.maker.proto.Trade().IsBuyer() {
		return h.maker
	}
	return h.taker
}

func (h *harness) seller() *party {
	if h.maker.proto.Trade().IsSeller() {
		return h.maker
	}
	return h.taker
}

// publishDeposit runs the protocol up to the deposit being published and
// confirmed.
func (h *harness) publishDeposit() {
	t := h.t
	err := h.do(func(p *party) error { return p.proto.TakeOffer(ctx) }, h.taker)
	require.NoError(t, err)
	h.net.flush()

	for _, p := range []*party{h.maker, h.taker} {
		require.NotNil(t, p.proto, p.name)
		require.Equal(t, domain.PhaseDepositPublished, p.trade().Phase, p.name)
		for kind, err := range p.errs {
			require.NoError(t, err, "%s handling %s", p.name, kind)
		}
		err := h.do(func(p *party) error { return p.proto.DepositConfirmed(ctx) }, p)
		require.NoError(t, err)
		require.Equal(t, domain.PhaseDepositConfirmed, p.trade().Phase, p.name)
	}
}

func TestEscrowTrade(t *testing.T) {
	t.Parallel()

	directions := []domain.Direction{domain.DirectionBuy, domain.DirectionSell}
	for _, d := range directions {
		d := d
		t.Run("maker "+d.String(), func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, d, domain.GenerationEscrow)
			h.publishDeposit()

			buyer, seller := h.buyer(), h.seller()
			require.NotSame(t, buyer, seller)

			require.Equal(t, buyer.trade().ID, seller.trade().ID)
			require.Equal(t, buyer.trade().DepositTxID, seller.trade().DepositTxID)
			require.NotEmpty(t, buyer.trade().DelayedPayoutTx)
			require.Equal(t, buyer.trade().DelayedPayoutTx, seller.trade().DelayedPayoutTx)
			require.True(t, buyer.watcher.isWatching(buyer.trade().DepositTxID))
			require.True(t, seller.watcher.isWatching(seller.trade().DepositTxID))

			payload := seller.trade().ProcessModel.Peer.PaymentAccountPayload
			require.NotNil(t, payload)
			require.Equal(t, buyer.name+"-sepa", payload.ID)

			deposit, ok := h.chain.get(buyer.trade().DepositTxID)
			require.True(t, ok)
			require.Equal(t, buyer.trade().EscrowAmount(), deposit.Outputs[0].Amount)

			err := h.do(func(p *party) error {
				return p.proto.PaymentStarted(ctx, "sepa-ref-1")
			}, buyer)
			require.NoError(t, err)
			require.Equal(t, domain.PhaseFiatSent, buyer.trade().Phase)
			h.net.flush()

			require.Equal(t, domain.PhaseFiatSent, seller.trade().Phase)
			require.Equal(t, domain.StateBuyerSawArrivedPaymentInitiatedMessage, buyer.trade().State)
			require.Equal(t, "sepa-ref-1", seller.trade().ProcessModel.Peer.CounterCurrencyTxID)

			err = h.do(func(p *party) error { return p.proto.PaymentReceived(ctx) }, seller)
			require.NoError(t, err)
			h.net.flush()

			for _, p := range []*party{buyer, seller} {
				require.Equal(t, domain.PhasePayoutPublished, p.trade().Phase, p.name)
				require.Equal(t, seller.trade().PayoutTxID, p.trade().PayoutTxID)
			}
			require.Equal(
				t, domain.StateSellerSawArrivedPayoutTxPublishedMessage, seller.trade().State,
			)

			payout, ok := h.chain.get(seller.trade().PayoutTxID)
			require.True(t, ok)
			require.Len(t, payout.Outputs, 2)
			require.Equal(t, tradeAmount+buyerDeposit, payout.Outputs[0].Amount)
			require.Equal(t, sellerDeposit, payout.Outputs[1].Amount)

			for _, p := range []*party{buyer, seller} {
				err := h.do(func(p *party) error { return p.proto.WithdrawCompleted(ctx) }, p)
				require.NoError(t, err)
				require.Equal(t, domain.PhaseWithdrawn, p.trade().Phase)
				require.Empty(t, p.trade().ErrorMessage)
				requireMonotonic(t, p.phases)
			}

			require.Equal(t, []string{"fee", "fee", "deposit", "payout"}, h.chain.kinds())
			require.Zero(t, h.chain.count("delayed_payout"))

			// Timers of completed steps never fire.
			h.clock.Add(2 * protocol.DefaultTimeout)
			require.Never(t, func() bool {
				return buyer.trade().ErrorMessage != "" || seller.trade().ErrorMessage != ""
			}, 100*time.Millisecond, 10*time.Millisecond)
		})
	}
}

func requireMonotonic(t *testing.T, phases []domain.Phase) {
	t.Helper()
	for i := 1; i < len(phases); i++ {
		require.GreaterOrEqual(t, phases[i], phases[i-1], "phase went back at step %d", i)
	}
}

func TestDuplicateMessage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, domain.DirectionBuy, domain.GenerationEscrow)
	h.publishDeposit()
	buyer := h.buyer()

	e, ok := h.net.lastDelivered(domain.KindDepositTxAndDelayedPayoutTxMessage)
	require.True(t, ok)

	acks := h.net.countSent(domain.KindAckMessage)
	persists := buyer.store.persists
	trade := buyer.trade()

	h.deliver(buyer)(e)

	require.NoError(t, buyer.errs[domain.KindDepositTxAndDelayedPayoutTxMessage])
	require.Equal(t, acks+1, h.net.countSent(domain.KindAckMessage))
	require.Equal(t, persists, buyer.store.persists)
	require.Same(t, trade, buyer.trade())
	h.net.flush()
}

func TestUnexpectedMessage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, domain.DirectionSell, domain.GenerationEscrow)
	h.publishDeposit()
	buyer := h.buyer()
	state := buyer.trade().State

	t.Run("out of phase", func(t *testing.T) {
		e, ok := h.net.lastDelivered(domain.KindDelayedPayoutTxSignatureRequest)
		require.True(t, ok)
		acks := h.net.countSent(domain.KindAckMessage)

		h.deliver(buyer)(e)

		require.ErrorIs(t, buyer.errs[domain.KindDelayedPayoutTxSignatureRequest], protocol.ErrInvalidPhase)
		require.Equal(t, acks+1, h.net.countSent(domain.KindAckMessage))
		require.Equal(t, state, buyer.trade().State)
	})

	t.Run("unknown sender", func(t *testing.T) {
		mallory := domain.NodeAddress{Host: "mallory.onion", Port: 9999}
		msg := &domain.PayoutTxPublishedMessage{
			MessageHeader: domain.NewMessageHeader(buyer.trade().ID, mallory),
			PayoutTx:      "00",
		}
		e := envelope{to: buyer.addr, from: mallory, msg: msg, mailbox: true}

		h.deliver(buyer)(e)

		require.ErrorIs(t, buyer.errs[domain.KindPayoutTxPublishedMessage], protocol.ErrInvalidSender)
		require.Equal(t, state, buyer.trade().State)
		require.Empty(t, buyer.trade().PayoutTxID)
	})

	h.net.flush()
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, domain.DirectionBuy, domain.GenerationEscrow)
	// The maker never answers.
	h.net.setHandler(makerAddr, nil)

	err := h.do(func(p *party) error { return p.proto.TakeOffer(ctx) }, h.taker)
	require.NoError(t, err)
	h.net.flush()
	require.Empty(t, h.taker.trade().ErrorMessage)

	h.clock.Add(protocol.DefaultTimeout - time.Second)
	require.Never(t, func() bool {
		return h.taker.trade().ErrorMessage != ""
	}, 100*time.Millisecond, 10*time.Millisecond)

	h.clock.Add(time.Second)
	require.Eventually(t, func() bool {
		return strings.HasPrefix(h.taker.trade().ErrorMessage, "Timeout reached")
	}, time.Second, 10*time.Millisecond)

	h.taker.store.lock.Lock()
	persists := h.taker.store.persists
	h.taker.store.lock.Unlock()

	h.clock.Add(10 * protocol.DefaultTimeout)
	require.Never(t, func() bool {
		h.taker.store.lock.Lock()
		defer h.taker.store.lock.Unlock()
		return h.taker.store.persists != persists
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestRoleAsymmetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		variant     domain.TradeVariant
		verifyFee   string
		consumes    domain.MessageKind
		notConsumes domain.MessageKind
	}{
		{
			variant:     domain.TradeVariant{Side: domain.SideBuyer, Position: domain.PositionMaker},
			verifyFee:   "MakerVerifyTakerFeePayment",
			consumes:    domain.KindDelayedPayoutTxSignatureRequest,
			notConsumes: domain.KindInputsForDepositTxResponse,
		},
		{
			variant:     domain.TradeVariant{Side: domain.SideBuyer, Position: domain.PositionTaker},
			verifyFee:   "TakerVerifyMakerFeePayment",
			consumes:    domain.KindDepositTxAndDelayedPayoutTxMessage,
			notConsumes: domain.KindInputsForDepositTxRequest,
		},
		{
			variant:     domain.TradeVariant{Side: domain.SideSeller, Position: domain.PositionMaker},
			verifyFee:   "MakerVerifyTakerFeePayment",
			consumes:    domain.KindDepositTxMessage,
			notConsumes: domain.KindPayoutTxPublishedMessage,
		},
		{
			variant:     domain.TradeVariant{Side: domain.SideSeller, Position: domain.PositionTaker},
			verifyFee:   "TakerVerifyMakerFeePayment",
			consumes:    domain.KindCounterCurrencyTransferStarted,
			notConsumes: domain.KindDepositTxMessage,
		},
		{
			variant: domain.TradeVariant{
				Side: domain.SideBuyer, Position: domain.PositionTaker,
				Generation: domain.GenerationAtomicSwap,
			},
			verifyFee:   "TakerVerifyMakerFeePayment",
			consumes:    domain.KindSwapFinalizedTxMessage,
			notConsumes: domain.KindDepositTxAndDelayedPayoutTxMessage,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.variant.String(), func(t *testing.T) {
			t.Parallel()

			role := protocol.NewRole(tt.variant)
			require.Equal(t, tt.verifyFee, role.PeerFeeVerification().Name)
			require.Equal(t, tt.variant.IsTaker(), role.CanTakeOffer())
			require.True(t, role.Consumes(tt.consumes))
			require.False(t, role.Consumes(tt.notConsumes))
			require.True(t, role.Consumes(domain.KindAckMessage))
		})
	}

	t.Run("unsupported variant", func(t *testing.T) {
		t.Parallel()

		require.Panics(t, func() {
			protocol.NewRole(domain.TradeVariant{Generation: domain.Generation(7)})
		})
	})
}

func TestEventNotHandledByRole(t *testing.T) {
	t.Parallel()

	h := newHarness(t, domain.DirectionBuy, domain.GenerationEscrow)
	h.publishDeposit()

	buyer, seller := h.buyer(), h.seller()

	err := h.do(func(p *party) error { return p.proto.PaymentReceived(ctx) }, seller)
	require.ErrorIs(t, err, protocol.ErrInvalidPhase)

	err = h.do(func(p *party) error { return p.proto.PaymentStarted(ctx, "") }, seller)
	require.ErrorIs(t, err, protocol.ErrInvalidEvent)

	err = h.do(func(p *party) error { return p.proto.TakeOffer(ctx) }, h.maker)
	require.ErrorIs(t, err, protocol.ErrInvalidPhase)

	err = h.do(func(p *party) error { return p.proto.PaymentStarted(ctx, "") }, buyer)
	require.NoError(t, err)
	h.net.flush()

	err = h.do(func(p *party) error { return p.proto.PaymentReceived(ctx) }, buyer)
	require.ErrorIs(t, err, protocol.ErrInvalidEvent)
	require.Equal(t, domain.PhaseFiatSent, buyer.trade().Phase)
}

func TestDelayedPayoutFallback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, domain.DirectionSell, domain.GenerationEscrow)
	h.publishDeposit()
	buyer, seller := h.buyer(), h.seller()
	h.net.setUnreachable(seller.addr, true)

	lockTime := buyer.trade().LockTime
	require.Equal(t, startTime.Add(protocol.DefaultLockTimeDelay).Unix(), lockTime)

	err := h.do(func(p *party) error { return p.proto.PublishDelayedPayoutTx(ctx) }, buyer)
	require.ErrorIs(t, err, protocol.ErrTaskFailed)
	require.Contains(t, buyer.trade().ErrorMessage, protocol.ErrLockTimeNotReached.Error())
	require.Zero(t, h.chain.count("delayed_payout"))

	h.clock.Add(protocol.DefaultLockTimeDelay)

	err = h.do(func(p *party) error { return p.proto.PublishDelayedPayoutTx(ctx) }, buyer)
	require.NoError(t, err)
	require.Equal(t, 1, h.chain.count("delayed_payout"))
	require.Equal(t, domain.DisputeStateDelayedPayoutTxPublished, buyer.trade().DisputeState)

	dpt, err := decodeTx(buyer.trade().DelayedPayoutTx)
	require.NoError(t, err)
	require.Equal(t, "donation", dpt.Outputs[0].Address)
	require.Equal(t, buyer.trade().EscrowAmount()-txFee, dpt.Outputs[0].Amount)
	require.Equal(t, lockTime, dpt.LockTime)

	h.net.flush()
	require.Equal(t, domain.DisputeStateNone, seller.trade().DisputeState)

	// Publishing again is harmless and lets the peer know.
	h.net.setUnreachable(seller.addr, false)
	err = h.do(func(p *party) error { return p.proto.PublishDelayedPayoutTx(ctx) }, buyer)
	require.NoError(t, err)
	h.net.flush()
	require.Equal(t, 1, h.chain.count("delayed_payout"))
	require.Equal(t, domain.DisputeStatePeerPublishedDelayedPayoutTx, seller.trade().DisputeState)
}

func TestMediation(t *testing.T) {
	t.Parallel()

	result := domain.MediationResult{
		BuyerPayoutAmount:  tradeAmount + buyerDeposit - 50000,
		SellerPayoutAmount: sellerDeposit + 50000,
	}

	t.Run("invalid proposal", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, domain.DirectionBuy, domain.GenerationEscrow)
		h.publishDeposit()
		buyer := h.buyer()

		invalid := domain.MediationResult{
			BuyerPayoutAmount:  buyer.trade().EscrowAmount(),
			SellerPayoutAmount: 1,
		}
		err := h.do(func(p *party) error { return p.proto.ApplyMediationProposal(ctx, invalid) }, buyer)
		require.ErrorIs(t, err, protocol.ErrTaskFailed)
		require.Nil(t, buyer.trade().MediationResult)
	})

	t.Run("race", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, domain.DirectionSell, domain.GenerationEscrow)
		h.publishDeposit()
		a, b := h.buyer(), h.seller()

		for _, p := range []*party{a, b} {
			err := h.do(func(p *party) error { return p.proto.ApplyMediationProposal(ctx, result) }, p)
			require.NoError(t, err)
			require.Equal(t, domain.DisputeStateMediationOpen, p.trade().DisputeState)
		}

		// A doesn't get B's signature before accepting too.
		h.net.setOnline(a.addr, false)
		err := h.do(func(p *party) error { return p.proto.AcceptMediationResult(ctx) }, b)
		require.NoError(t, err)
		require.Equal(t, domain.MediationResultSigMsgInMailbox, b.trade().MediationResultState)

		err = h.do(func(p *party) error { return p.proto.AcceptMediationResult(ctx) }, a)
		require.NoError(t, err)
		h.net.flush()
		require.NotEmpty(t, b.trade().ProcessModel.Peer.MediatedPayoutTxSignature)

		err = h.do(func(p *party) error { return p.proto.FinalizeMediationResultPayout(ctx) }, b)
		require.NoError(t, err)
		require.Equal(t, 1, h.chain.count("payout"))
		require.Equal(t, domain.DisputeStateMediationClosed, b.trade().DisputeState)

		err = h.do(func(p *party) error { return p.proto.FinalizeMediationResultPayout(ctx) }, a)
		require.ErrorIs(t, err, protocol.ErrPreconditionFailed)

		h.net.setOnline(a.addr, true)
		h.net.flush()
		require.Equal(t, b.trade().PayoutTxID, a.trade().PayoutTxID)
		require.Equal(t, domain.PhasePayoutPublished, a.trade().Phase)
		require.Equal(t, domain.DisputeStateMediationClosed, a.trade().DisputeState)

		err = h.do(func(p *party) error { return p.proto.FinalizeMediationResultPayout(ctx) }, a)
		require.Error(t, err)
		require.Equal(t, 1, h.chain.count("payout"))

		payout, ok := h.chain.get(b.trade().PayoutTxID)
		require.True(t, ok)
		require.Equal(t, result.BuyerPayoutAmount, payout.Outputs[0].Amount)
		require.Equal(t, result.SellerPayoutAmount, payout.Outputs[1].Amount)

		// A signature replayed once the payout is published is acked only.
		e, ok := h.net.lastDelivered(domain.KindMediatedPayoutTxSignatureMessage)
		require.True(t, ok)
		receiver := a
		if e.to == b.addr {
			receiver = b
		}
		acks := h.net.countSent(domain.KindAckMessage)
		persists := receiver.store.persists
		h.deliver(receiver)(e)
		require.NoError(t, receiver.errs[domain.KindMediatedPayoutTxSignatureMessage])
		require.Equal(t, acks+1, h.net.countSent(domain.KindAckMessage))
		require.Equal(t, persists, receiver.store.persists)
		h.net.flush()
	})

	t.Run("after delayed payout", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, domain.DirectionBuy, domain.GenerationEscrow)
		h.publishDeposit()
		buyer, seller := h.buyer(), h.seller()

		for _, p := range []*party{buyer, seller} {
			err := h.do(func(p *party) error { return p.proto.ApplyMediationProposal(ctx, result) }, p)
			require.NoError(t, err)
			err = h.do(func(p *party) error { return p.proto.AcceptMediationResult(ctx) }, p)
			require.NoError(t, err)
		}
		h.net.flush()

		h.clock.Add(protocol.DefaultLockTimeDelay)
		err := h.do(func(p *party) error { return p.proto.PublishDelayedPayoutTx(ctx) }, buyer)
		require.NoError(t, err)
		h.net.flush()
		require.Equal(t, domain.DisputeStatePeerPublishedDelayedPayoutTx, seller.trade().DisputeState)

		for _, p := range []*party{buyer, seller} {
			err := h.do(func(p *party) error { return p.proto.FinalizeMediationResultPayout(ctx) }, p)
			require.ErrorIs(t, err, protocol.ErrPreconditionFailed, p.name)
			err = h.do(func(p *party) error { return p.proto.AcceptMediationResult(ctx) }, p)
			require.ErrorIs(t, err, protocol.ErrPreconditionFailed, p.name)
			err = h.do(func(p *party) error { return p.proto.ApplyMediationProposal(ctx, result) }, p)
			require.ErrorIs(t, err, protocol.ErrPreconditionFailed, p.name)
		}

		// Publishing again, by either trader, broadcasts nothing new.
		sent := h.net.countSent(domain.KindPeerPublishedDelayedPayoutTxMessage)
		for _, p := range []*party{buyer, seller} {
			err := h.do(func(p *party) error { return p.proto.PublishDelayedPayoutTx(ctx) }, p)
			require.NoError(t, err, p.name)
		}
		h.net.flush()
		require.Equal(t, sent+1, h.net.countSent(domain.KindPeerPublishedDelayedPayoutTxMessage))
		require.Equal(t, []string{"fee", "fee", "deposit", "delayed_payout"}, h.chain.kinds())
		require.Empty(t, buyer.trade().PayoutTxID)
		require.Empty(t, seller.trade().PayoutTxID)
	})
}

func TestPayoutBroadcastFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		recover func(h *harness, seller *party) error
	}{
		{
			name: "retry",
			recover: func(h *harness, seller *party) error {
				return h.do(func(p *party) error { return p.proto.PaymentReceived(ctx) }, seller)
			},
		},
		{
			name: "delayed payout",
			recover: func(h *harness, seller *party) error {
				h.clock.Add(protocol.DefaultLockTimeDelay)
				return h.do(func(p *party) error { return p.proto.PublishDelayedPayoutTx(ctx) }, seller)
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, domain.DirectionSell, domain.GenerationEscrow)
			h.publishDeposit()
			buyer, seller := h.buyer(), h.seller()

			err := h.do(func(p *party) error { return p.proto.PaymentStarted(ctx, "") }, buyer)
			require.NoError(t, err)
			h.net.flush()

			seller.wallet.fail("BroadcastTransaction", errors.New("mempool full"))
			err = h.do(func(p *party) error { return p.proto.PaymentReceived(ctx) }, seller)
			require.ErrorIs(t, err, protocol.ErrTaskFailed)
			require.Contains(t, seller.trade().ErrorMessage, "mempool full")
			require.False(t, seller.trade().IsPayoutPublished())
			require.Empty(t, seller.trade().PayoutTxID)
			require.Zero(t, h.chain.count("payout"))

			seller.wallet.fail("BroadcastTransaction", nil)
			require.NoError(t, tt.recover(h, seller))
			h.net.flush()

			if tt.name == "retry" {
				require.Equal(t, 1, h.chain.count("payout"))
				for _, p := range []*party{buyer, seller} {
					require.Equal(t, domain.PhasePayoutPublished, p.trade().Phase, p.name)
					require.Equal(t, seller.trade().PayoutTxID, p.trade().PayoutTxID)
				}
				return
			}
			require.Equal(t, 1, h.chain.count("delayed_payout"))
			require.Zero(t, h.chain.count("payout"))
			require.Equal(t, domain.DisputeStatePeerPublishedDelayedPayoutTx, buyer.trade().DisputeState)
		})
	}
}

func TestDepositBroadcastFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		recover func(h *harness, seller *party) error
	}{
		{
			name: "retry",
			recover: func(h *harness, seller *party) error {
				return h.do(func(p *party) error { return p.proto.PublishDepositTx(ctx) }, seller)
			},
		},
		{
			name: "restart",
			recover: func(h *harness, seller *party) error {
				h.mu.Lock()
				defer h.mu.Unlock()
				stored := seller.trade().Clone()
				seller.proto.Stop()
				seller.proto = h.newProtocol(seller, stored)
				return seller.proto.OnInitialized(ctx)
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, domain.DirectionBuy, domain.GenerationEscrow)
			err := h.do(func(p *party) error { return p.proto.TakeOffer(ctx) }, h.taker)
			require.NoError(t, err)

			broadcastErr := errors.New("connection refused")
			h.maker.wallet.fail("BroadcastTransaction", broadcastErr)
			h.taker.wallet.fail("BroadcastTransaction", broadcastErr)
			h.net.flush()

			buyer, seller := h.buyer(), h.seller()
			require.Equal(t, domain.PhaseDepositPublished, buyer.trade().Phase)
			require.Equal(
				t, domain.StateSellerSentDepositTxAndDelayedPayoutTxMessage, seller.trade().State,
			)
			require.Contains(t, seller.trade().ErrorMessage, broadcastErr.Error())
			require.Zero(t, h.chain.count("deposit"))

			err = h.do(func(p *party) error { return p.proto.PublishDepositTx(ctx) }, buyer)
			require.ErrorIs(t, err, protocol.ErrInvalidPhase)

			seller.wallet.fail("BroadcastTransaction", nil)
			require.NoError(t, tt.recover(h, seller))

			require.Equal(t, domain.StateSellerPublishedDepositTx, seller.trade().State)
			require.Equal(t, 1, h.chain.count("deposit"))
			require.True(t, seller.watcher.isWatching(seller.trade().DepositTxID))

			// Once published, the step does not apply anymore.
			err = h.do(func(p *party) error { return p.proto.PublishDepositTx(ctx) }, seller)
			require.ErrorIs(t, err, protocol.ErrInvalidPhase)
		})
	}
}

func TestMailboxResend(t *testing.T) {
	t.Parallel()

	h := newHarness(t, domain.DirectionBuy, domain.GenerationEscrow)
	h.publishDeposit()
	buyer, seller := h.buyer(), h.seller()
	kind := domain.KindCounterCurrencyTransferStarted
	countSent := func(n int) func() bool {
		return func() bool { return h.net.countSent(kind) == n }
	}

	h.net.setOnline(seller.addr, false)
	err := h.do(func(p *party) error { return p.proto.PaymentStarted(ctx, "") }, buyer)
	require.NoError(t, err)
	require.Equal(t, domain.StateBuyerStoredInMailboxPaymentInitiatedMessage, buyer.trade().State)
	require.Equal(t, 1, h.net.countSent(kind))

	h.clock.Add(protocol.DefaultResendInitialDelay)
	require.Eventually(t, countSent(2), time.Second, 10*time.Millisecond)

	// The delay doubled.
	h.clock.Add(protocol.DefaultResendInitialDelay)
	require.Never(t, countSent(3), 100*time.Millisecond, 10*time.Millisecond)
	h.clock.Add(protocol.DefaultResendInitialDelay)
	require.Eventually(t, countSent(3), time.Second, 10*time.Millisecond)

	h.net.setOnline(seller.addr, true)
	h.net.flush()

	require.Equal(t, domain.PhaseFiatSent, seller.trade().Phase)
	require.NoError(t, seller.errs[kind])
	require.Equal(t, domain.StateBuyerSawArrivedPaymentInitiatedMessage, buyer.trade().State)

	h.clock.Add(time.Hour)
	require.Never(t, countSent(4), 100*time.Millisecond, 10*time.Millisecond)
}

func TestResumeAfterRestart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, domain.DirectionSell, domain.GenerationEscrow)
	h.publishDeposit()
	buyer, seller := h.buyer(), h.seller()

	h.net.setUnreachable(seller.addr, true)
	err := h.do(func(p *party) error { return p.proto.PaymentStarted(ctx, "") }, buyer)
	require.NoError(t, err)
	require.Equal(t, domain.StateBuyerSendFailedPaymentInitiatedMessage, buyer.trade().State)
	h.net.setUnreachable(seller.addr, false)

	// A new protocol instance is created from the stored trade.
	stored := buyer.trade().Clone()
	h.mu.Lock()
	buyer.proto.Stop()
	buyer.proto = h.newProtocol(buyer, stored)
	err = buyer.proto.OnInitialized(ctx)
	h.mu.Unlock()
	require.NoError(t, err)
	h.net.flush()

	require.Equal(t, domain.PhaseFiatSent, seller.trade().Phase)
	require.Equal(t, domain.StateBuyerSawArrivedPaymentInitiatedMessage, buyer.trade().State)
}

func TestAtomicSwap(t *testing.T) {
	t.Parallel()

	directions := []domain.Direction{domain.DirectionBuy, domain.DirectionSell}
	for _, d := range directions {
		d := d
		t.Run("maker "+d.String(), func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, d, domain.GenerationAtomicSwap)
			err := h.do(func(p *party) error { return p.proto.TakeOffer(ctx) }, h.taker)
			require.NoError(t, err)
			require.Equal(t, domain.PhaseInit, h.taker.trade().Phase)
			h.net.flush()

			for _, p := range []*party{h.maker, h.taker} {
				for kind, err := range p.errs {
					require.NoError(t, err, "%s handling %s", p.name, kind)
				}
				require.Equal(t, domain.PhasePayoutPublished, p.trade().Phase, p.name)
				require.Empty(t, p.trade().DelayedPayoutTx)
				requireMonotonic(t, p.phases)
			}
			require.Equal(t, h.maker.trade().PayoutTxID, h.taker.trade().PayoutTxID)
			require.Equal(t, 1, h.chain.count("swap"))

			swap, ok := h.chain.get(h.maker.trade().PayoutTxID)
			require.True(t, ok)
			require.Equal(t, tradeAmount, swap.Outputs[0].Amount)
			require.Equal(
				t, domain.SwapCounterAmount(tradeAmount, h.offer.Price), swap.Outputs[1].Amount,
			)

			// Replayed finalized message is acked only.
			e, ok := h.net.lastDelivered(domain.KindSwapFinalizedTxMessage)
			require.True(t, ok)
			persists := h.taker.store.persists
			h.deliver(h.taker)(e)
			require.NoError(t, h.taker.errs[domain.KindSwapFinalizedTxMessage])
			require.Equal(t, persists, h.taker.store.persists)
		})
	}
}
