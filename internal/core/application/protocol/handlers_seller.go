package protocol

import (
	"context"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

// PaymentReceived is called once the seller has received the counter
// currency payment. It releases the escrow to the buyer and can be called
// again if the payout could not be broadcast.
func (p *Protocol) PaymentReceived(ctx context.Context) error {
	return p.expect(AnyPhase(domain.PhaseFiatSent, domain.PhaseFiatReceived).
		WithEvent(EventPaymentReceived).
		PreCondition(!p.trade.IsPayoutPublished()).
		PreCondition(len(p.trade.ProcessModel.Peer.PayoutTxSignature) > 0)).
		run(func(t *domain.Trade) error {
			return t.SetState(domain.StateSellerConfirmedPaymentReceipt)
		}).
		setup(Tasks(
			sellerSignsAndFinalizesPayoutTx,
			sellerBroadcastsPayoutTx,
			sellerSendsPayoutTxPublishedMessage,
		)).
		executeTasks(ctx)
}

func (p *Protocol) handleDepositTxMessage(
	ctx context.Context, m *domain.DepositTxMessage, from domain.NodeAddress,
) error {
	return p.expect(InPhase(domain.PhaseTakerFeePublished).
		AnyState(domain.StateMakerSentInputsForDepositTxResponse).
		WithMessage(m).
		From(from)).
		setup(Tasks(
			sellerProcessesDepositTxMessage,
			sellerCreatesDelayedPayoutTx,
			sellerSignsDelayedPayoutTx,
			sellerSendsDelayedPayoutTxSignatureRequest,
		).WithTimeout(p.env.Config.Timeout)).
		executeTasks(ctx)
}

// handleDelayedPayoutTxSignatureResponse completes the deposit. The delayed
// payout transaction is persisted before the deposit is published.
func (p *Protocol) handleDelayedPayoutTxSignatureResponse(
	ctx context.Context, m *domain.DelayedPayoutTxSignatureResponse, from domain.NodeAddress,
) error {
	return p.expect(InPhase(domain.PhaseTakerFeePublished).
		AnyState(domain.StateSellerSentDelayedPayoutTxSignatureRequest).
		WithMessage(m).
		From(from)).
		setup(Tasks(
			sellerProcessesDelayedPayoutTxSignatureResponse,
			sellerFinalizesDepositTx,
			sellerFinalizesDelayedPayoutTx,
			persistTrade,
			sellerSendsDepositTxAndDelayedPayoutTxMessage,
			sellerPublishesDepositTx,
			setupDepositTxListener,
		)).
		executeTasks(ctx)
}

// PublishDepositTx publishes the deposit again when a previous broadcast
// failed after the buyer was sent the deposit.
func (p *Protocol) PublishDepositTx(ctx context.Context) error {
	return p.expect(republishDepositCondition(EventPublishDepositTx)).
		setup(Tasks(sellerPublishesDepositTx, setupDepositTxListener)).
		executeTasks(ctx)
}

func republishDepositCondition(e Event) *Condition {
	return InPhase(domain.PhaseTakerFeePublished).
		AnyState(domain.StateSellerSentDepositTxAndDelayedPayoutTxMessage).
		WithEvent(e)
}

func (p *Protocol) handleShareBuyerPaymentAccountMessage(
	ctx context.Context, m *domain.ShareBuyerPaymentAccountMessage, from domain.NodeAddress,
) error {
	return p.expect(PhaseRange(domain.PhaseTakerFeePublished, domain.PhaseWithdrawn).
		WithMessage(m).
		From(from).
		PreCondition(p.trade.ProcessModel.Peer.PaymentAccountPayload == nil, p.ackOnly(ctx, m))).
		setup(Tasks(sellerProcessesShareBuyerPaymentAccountMessage)).
		executeTasks(ctx)
}

func (p *Protocol) handleCounterCurrencyTransferStartedMessage(
	ctx context.Context, m *domain.CounterCurrencyTransferStartedMessage, from domain.NodeAddress,
) error {
	return p.expect(PhaseRange(domain.PhaseDepositPublished, domain.PhaseWithdrawn).
		WithMessage(m).
		From(from).
		PreCondition(len(p.trade.ProcessModel.Peer.PayoutTxSignature) == 0, p.ackOnly(ctx, m)).
		PreCondition(!p.trade.IsPayoutPublished(), p.ackOnly(ctx, m))).
		setup(Tasks(sellerProcessesCounterCurrencyTransferStartedMessage)).
		executeTasks(ctx)
}
