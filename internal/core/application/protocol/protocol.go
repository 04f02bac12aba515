package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
	"github.com/raulk/clock"
	log "github.com/sirupsen/logrus"
)

type resend struct {
	msg      domain.TradeMessage
	peer     domain.NodeAddress
	attempts int
	delay    time.Duration
	timer    *clock.Timer
}

// Protocol drives a single trade. It is not safe for concurrent use: all
// methods, timers and resends included, must run on the same executor.
type Protocol struct {
	trade     *domain.Trade
	env       Env
	role      Role
	newRunner func() TaskRunner
	post      func(func())
	onUpdate  func(t *domain.Trade)

	timer    *clock.Timer
	timerGen uint64
	mailbox  bool
	resends  map[string]*resend
}

// Trade returns the current snapshot of the trade. It must not be mutated.
func (p *Protocol) Trade() *domain.Trade {
	return p.trade
}

// Role ...
func (p *Protocol) Role() Role {
	return p.role
}

// OnTradeMessage handles a message received directly from the peer. The
// returned error is informative only, the peer is notified through an ack.
func (p *Protocol) OnTradeMessage(ctx context.Context, msg domain.TradeMessage, from domain.NodeAddress) error {
	return p.dispatch(ctx, msg, from)
}

// OnMailboxMessage handles a message delivered through the peer's mailbox.
// The message is removed from the mailbox once handled.
func (p *Protocol) OnMailboxMessage(ctx context.Context, msg domain.TradeMessage, from domain.NodeAddress) error {
	p.mailbox = true
	defer func() { p.mailbox = false }()

	err := p.dispatch(ctx, msg, from)

	if err := p.env.P2P.RemoveMailboxMessage(ctx, msg.Header().UID); err != nil {
		p.logger().WithError(err).Warn("failed to remove mailbox message")
	}
	return err
}

func (p *Protocol) dispatch(ctx context.Context, msg domain.TradeMessage, from domain.NodeAddress) error {
	if !p.role.Consumes(msg.Kind()) {
		p.logger().WithField("kind", msg.Kind()).Infof(
			"message not handled by %s, ignoring", p.trade.Variant,
		)
		return nil
	}
	d := &dispatcher{p: p, ctx: ctx}
	msg.Accept(d, from)
	return d.err
}

// FailTrade moves the trade to FAILED, stopping any pending timer.
func (p *Protocol) FailTrade(ctx context.Context, reason string) error {
	p.stopTimeout()
	t := p.trade.Clone()
	if _, err := t.Fail(reason); err != nil {
		return err
	}
	p.commit(ctx, t)
	p.logger().Warnf("trade failed: %s", reason)
	return nil
}

// UnfailTrade brings a failed trade back to the phase it had before failing.
func (p *Protocol) UnfailTrade(ctx context.Context) error {
	t := p.trade.Clone()
	if _, err := t.Unfail(); err != nil {
		return err
	}
	p.commit(ctx, t)
	p.logger().Infof("trade restored to %s", t.Phase)
	return nil
}

// Stop releases timers and pending resends.
func (p *Protocol) Stop() {
	p.stopTimeout()
	for uid, r := range p.resends {
		if r.timer != nil {
			r.timer.Stop()
		}
		delete(p.resends, uid)
	}
}

func (p *Protocol) commit(ctx context.Context, t *domain.Trade) {
	p.trade = t
	if p.env.Trades != nil {
		if err := p.env.Trades.PersistTrade(ctx, t); err != nil {
			p.logger().WithError(err).Error("failed to persist trade")
		}
	}
	if p.onUpdate != nil {
		p.onUpdate(t)
	}
}

func (p *Protocol) handleFault(
	ctx context.Context, name, reason string, last *domain.Trade, msg domain.TradeMessage,
) error {
	p.stopTimeout()
	t := last.Clone()
	t.ErrorMessage = reason
	p.commit(ctx, t)

	stepsTotal.WithLabelValues(name, "failed").Inc()
	p.logger().WithField("step", name).Errorf("failed: %s", reason)
	if msg != nil {
		p.sendAck(ctx, msg, false, reason)
	}
	return fmt.Errorf("%w: %s", ErrTaskFailed, reason)
}

func (p *Protocol) startTimeout(d time.Duration) {
	p.stopTimeout()
	gen := p.timerGen
	p.timer = p.env.Clock.AfterFunc(d, func() {
		p.post(func() {
			if gen != p.timerGen || p.timer == nil {
				return
			}
			p.timer = nil
			p.onTimeout(d)
		})
	})
}

func (p *Protocol) stopTimeout() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.timerGen++
}

func (p *Protocol) onTimeout(d time.Duration) {
	reason := fmt.Sprintf("Timeout reached. Protocol did not complete in %s.", d)
	t := p.trade.Clone()
	t.ErrorMessage = reason
	p.commit(context.Background(), t)

	timeoutsTotal.Inc()
	p.logger().Error(reason)
}

func (p *Protocol) sendDirect(ctx context.Context, t *domain.Trade, msg domain.TradeMessage) error {
	peer := t.PeerNodeAddress()
	if err := p.env.P2P.SendDirect(ctx, peer, msg); err != nil {
		t.ProcessModel.SetDelivery(msg.Kind(), domain.DeliveryFailed)
		return fmt.Errorf("failed to send %s to %s: %w", msg.Kind(), peer, err)
	}
	t.ProcessModel.SetDelivery(msg.Kind(), domain.DeliveryArrived)
	t.ProcessModel.AddAck(domain.AckTracker{
		UID:      msg.Header().UID,
		Kind:     msg.Kind(),
		SentAt:   p.env.Clock.Now().Unix(),
		Attempts: 1,
	})
	return nil
}

// sendMailbox sends the message and keeps resending it with a doubling
// delay until the peer acks it.
func (p *Protocol) sendMailbox(
	ctx context.Context, t *domain.Trade, msg domain.TradeMessage,
) (ports.DeliveryOutcome, error) {
	peer := t.PeerNodeAddress()
	outcome, err := p.env.P2P.SendMailbox(ctx, peer, msg)
	if err != nil {
		t.ProcessModel.SetDelivery(msg.Kind(), domain.DeliveryFailed)
		return outcome, fmt.Errorf("failed to send %s to %s: %w", msg.Kind(), peer, err)
	}

	delivery := domain.DeliveryArrived
	if outcome == ports.DeliveryStoredInMailbox {
		delivery = domain.DeliveryStoredInMailbox
	}
	t.ProcessModel.SetDelivery(msg.Kind(), delivery)
	t.ProcessModel.AddAck(domain.AckTracker{
		UID:      msg.Header().UID,
		Kind:     msg.Kind(),
		Mailbox:  true,
		SentAt:   p.env.Clock.Now().Unix(),
		Attempts: 1,
	})

	uid := msg.Header().UID
	if old, ok := p.resends[uid]; ok && old.timer != nil {
		old.timer.Stop()
	}
	p.resends[uid] = &resend{
		msg:      msg,
		peer:     peer,
		attempts: 1,
		delay:    p.env.Config.ResendInitialDelay,
	}
	p.scheduleResend(uid)
	return outcome, nil
}

func (p *Protocol) scheduleResend(uid string) {
	r, ok := p.resends[uid]
	if !ok {
		return
	}
	r.timer = p.env.Clock.AfterFunc(r.delay, func() {
		p.post(func() { p.resend(uid) })
	})
}

func (p *Protocol) resend(uid string) {
	r, ok := p.resends[uid]
	if !ok {
		return
	}
	if ack, ok := p.trade.ProcessModel.Acks[uid]; ok && ack.Acked {
		delete(p.resends, uid)
		return
	}
	if r.attempts >= p.env.Config.ResendMaxAttempts {
		p.logger().WithField("kind", r.msg.Kind()).Warnf(
			"no ack received after %d attempts, giving up", r.attempts,
		)
		delete(p.resends, uid)
		return
	}

	ctx := context.Background()
	r.attempts++
	r.delay *= 2
	if _, err := p.env.P2P.SendMailbox(ctx, r.peer, r.msg); err != nil {
		p.logger().WithError(err).Warnf("failed to resend %s", r.msg.Kind())
	}
	resendsTotal.WithLabelValues(string(r.msg.Kind())).Inc()

	t := p.trade.Clone()
	if ack, ok := t.ProcessModel.Acks[uid]; ok {
		ack.Attempts = r.attempts
		t.ProcessModel.Acks[uid] = ack
		p.commit(ctx, t)
	}
	p.scheduleResend(uid)
}

func (p *Protocol) sendAck(ctx context.Context, source domain.TradeMessage, success bool, errMsg string) {
	peer := source.Header().SenderNodeAddress
	ack := &domain.AckMessage{
		MessageHeader: domain.NewMessageHeader(p.trade.ID, p.env.P2P.Address()),
		SourceUID:     source.Header().UID,
		SourceKind:    source.Kind(),
		Success:       success,
		ErrorMessage:  errMsg,
	}

	var err error
	if p.mailbox {
		_, err = p.env.P2P.SendMailbox(ctx, peer, ack)
	} else if err = p.env.P2P.SendDirect(ctx, peer, ack); err != nil {
		_, err = p.env.P2P.SendMailbox(ctx, peer, ack)
	}
	if err != nil {
		p.logger().WithError(err).Warnf("failed to send ack for %s", source.Kind())
		return
	}
	acksTotal.WithLabelValues("sent", fmt.Sprint(success)).Inc()
}

func (p *Protocol) onAck(ctx context.Context, ack *domain.AckMessage, from domain.NodeAddress) {
	if peer := p.trade.PeerNodeAddress(); !peer.IsEmpty() && peer != from {
		p.logger().Warnf("ack from unknown peer %s, ignoring", from)
		return
	}

	t := p.trade.Clone()
	tracker, ok := t.ProcessModel.ResolveAck(ack.SourceUID, ack.Success, ack.ErrorMessage)
	if !ok {
		return
	}
	acksTotal.WithLabelValues("received", fmt.Sprint(ack.Success)).Inc()

	if r, ok := p.resends[ack.SourceUID]; ok {
		if r.timer != nil {
			r.timer.Stop()
		}
		delete(p.resends, ack.SourceUID)
	}

	if !ack.Success {
		t.ProcessModel.SetDelivery(tracker.Kind, domain.DeliveryNacked)
		t.ErrorMessage = fmt.Sprintf("peer failed to process %s: %s", tracker.Kind, ack.ErrorMessage)
		p.logger().Warn(t.ErrorMessage)
		p.commit(ctx, t)
		return
	}

	t.ProcessModel.SetDelivery(tracker.Kind, domain.DeliveryAcked)
	switch tracker.Kind {
	case domain.KindCounterCurrencyTransferStarted:
		if t.Phase == domain.PhaseFiatSent {
			_ = t.SetState(domain.StateBuyerSawArrivedPaymentInitiatedMessage)
		}
	case domain.KindPayoutTxPublishedMessage:
		if t.Phase == domain.PhasePayoutPublished && t.IsSeller() {
			_ = t.SetState(domain.StateSellerSawArrivedPayoutTxPublishedMessage)
		}
	case domain.KindMediatedPayoutTxSignatureMessage:
		if t.MediationResultState == domain.MediationResultSigMsgInMailbox ||
			t.MediationResultState == domain.MediationResultSigMsgSent {
			t.MediationResultState = domain.MediationResultSigMsgArrived
		}
	}
	p.commit(ctx, t)
}

func (p *Protocol) ackOnly(ctx context.Context, msg domain.TradeMessage) func() {
	return func() {
		p.sendAck(ctx, msg, true, "")
	}
}

func (p *Protocol) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"trade_id": p.trade.ID,
		"variant":  p.trade.Variant.String(),
	})
}

type dispatcher struct {
	p   *Protocol
	ctx context.Context
	err error
}

func (d *dispatcher) VisitInputsForDepositTxRequest(m *domain.InputsForDepositTxRequest, from domain.NodeAddress) {
	d.err = d.p.handleInputsForDepositTxRequest(d.ctx, m, from)
}

func (d *dispatcher) VisitInputsForDepositTxResponse(m *domain.InputsForDepositTxResponse, from domain.NodeAddress) {
	d.err = d.p.handleInputsForDepositTxResponse(d.ctx, m, from)
}

func (d *dispatcher) VisitDepositTxMessage(m *domain.DepositTxMessage, from domain.NodeAddress) {
	d.err = d.p.handleDepositTxMessage(d.ctx, m, from)
}

func (d *dispatcher) VisitDelayedPayoutTxSignatureRequest(
	m *domain.DelayedPayoutTxSignatureRequest, from domain.NodeAddress,
) {
	d.err = d.p.handleDelayedPayoutTxSignatureRequest(d.ctx, m, from)
}

func (d *dispatcher) VisitDelayedPayoutTxSignatureResponse(
	m *domain.DelayedPayoutTxSignatureResponse, from domain.NodeAddress,
) {
	d.err = d.p.handleDelayedPayoutTxSignatureResponse(d.ctx, m, from)
}

func (d *dispatcher) VisitDepositTxAndDelayedPayoutTxMessage(
	m *domain.DepositTxAndDelayedPayoutTxMessage, from domain.NodeAddress,
) {
	d.err = d.p.handleDepositTxAndDelayedPayoutTxMessage(d.ctx, m, from)
}

func (d *dispatcher) VisitShareBuyerPaymentAccountMessage(
	m *domain.ShareBuyerPaymentAccountMessage, from domain.NodeAddress,
) {
	d.err = d.p.handleShareBuyerPaymentAccountMessage(d.ctx, m, from)
}

func (d *dispatcher) VisitCounterCurrencyTransferStartedMessage(
	m *domain.CounterCurrencyTransferStartedMessage, from domain.NodeAddress,
) {
	d.err = d.p.handleCounterCurrencyTransferStartedMessage(d.ctx, m, from)
}

func (d *dispatcher) VisitPayoutTxPublishedMessage(m *domain.PayoutTxPublishedMessage, from domain.NodeAddress) {
	d.err = d.p.handlePayoutTxPublishedMessage(d.ctx, m, from)
}

func (d *dispatcher) VisitMediatedPayoutTxSignatureMessage(
	m *domain.MediatedPayoutTxSignatureMessage, from domain.NodeAddress,
) {
	d.err = d.p.handleMediatedPayoutTxSignatureMessage(d.ctx, m, from)
}

func (d *dispatcher) VisitMediatedPayoutTxPublishedMessage(
	m *domain.MediatedPayoutTxPublishedMessage, from domain.NodeAddress,
) {
	d.err = d.p.handleMediatedPayoutTxPublishedMessage(d.ctx, m, from)
}

func (d *dispatcher) VisitPeerPublishedDelayedPayoutTxMessage(
	m *domain.PeerPublishedDelayedPayoutTxMessage, from domain.NodeAddress,
) {
	d.err = d.p.handlePeerPublishedDelayedPayoutTxMessage(d.ctx, m, from)
}

func (d *dispatcher) VisitAckMessage(m *domain.AckMessage, from domain.NodeAddress) {
	d.p.onAck(d.ctx, m, from)
}

func (d *dispatcher) VisitSwapRequest(m *domain.SwapRequest, from domain.NodeAddress) {
	d.err = d.p.handleSwapRequest(d.ctx, m, from)
}

func (d *dispatcher) VisitSwapTxInputsMessage(m *domain.SwapTxInputsMessage, from domain.NodeAddress) {
	d.err = d.p.handleSwapTxInputsMessage(d.ctx, m, from)
}

func (d *dispatcher) VisitSwapFinalizeTxRequest(m *domain.SwapFinalizeTxRequest, from domain.NodeAddress) {
	d.err = d.p.handleSwapFinalizeTxRequest(d.ctx, m, from)
}

func (d *dispatcher) VisitSwapFinalizedTxMessage(m *domain.SwapFinalizedTxMessage, from domain.NodeAddress) {
	d.err = d.p.handleSwapFinalizedTxMessage(d.ctx, m, from)
}
