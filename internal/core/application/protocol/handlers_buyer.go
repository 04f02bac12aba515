package protocol

import (
	"context"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

// PaymentStarted is called once the buyer has initiated the counter currency
// payment. It can be repeated until the payout is published, for instance if
// the message could not be delivered to the seller.
func (p *Protocol) PaymentStarted(ctx context.Context, counterCurrencyTxID string) error {
	return p.expect(AnyPhase(domain.PhaseDepositConfirmed, domain.PhaseFiatSent).
		WithEvent(EventPaymentStarted).
		PreCondition(!p.trade.IsPayoutPublished())).
		run(func(t *domain.Trade) error {
			if counterCurrencyTxID != "" {
				t.ProcessModel.CounterCurrencyTxID = counterCurrencyTxID
			}
			return t.SetState(domain.StateBuyerConfirmedPaymentInitiated)
		}).
		setup(Tasks(
			buyerSignsPayoutTx,
			buyerSendsCounterCurrencyTransferStartedMessage,
		)).
		executeTasks(ctx)
}

func (p *Protocol) handleDelayedPayoutTxSignatureRequest(
	ctx context.Context, m *domain.DelayedPayoutTxSignatureRequest, from domain.NodeAddress,
) error {
	return p.expect(InPhase(domain.PhaseTakerFeePublished).
		AnyState(
			domain.StateMakerSentInputsForDepositTxResponse,
			domain.StateBuyerSentDepositTxMessage,
		).
		WithMessage(m).
		From(from)).
		setup(Tasks(
			buyerProcessesDelayedPayoutTxSignatureRequest,
			buyerVerifiesPreparedDelayedPayoutTx,
			buyerSignsDelayedPayoutTx,
			signDepositTxInputs,
			buyerSendsDelayedPayoutTxSignatureResponse,
		).WithTimeout(p.env.Config.Timeout)).
		executeTasks(ctx)
}

// handleDepositTxAndDelayedPayoutTxMessage may run after the trade moved
// on, the message being resent until acked.
func (p *Protocol) handleDepositTxAndDelayedPayoutTxMessage(
	ctx context.Context, m *domain.DepositTxAndDelayedPayoutTxMessage, from domain.NodeAddress,
) error {
	return p.expect(PhaseRange(domain.PhaseTakerFeePublished, domain.PhaseWithdrawn).
		WithMessage(m).
		From(from).
		PreCondition(p.trade.DelayedPayoutTx == "", p.ackOnly(ctx, m))).
		setup(Tasks(
			buyerProcessesDepositTxAndDelayedPayoutTxMessage,
			buyerVerifiesFinalDelayedPayoutTx,
			setupDepositTxListener,
			buyerSendsShareBuyerPaymentAccountMessage,
		)).
		executeTasks(ctx)
}

func (p *Protocol) handlePayoutTxPublishedMessage(
	ctx context.Context, m *domain.PayoutTxPublishedMessage, from domain.NodeAddress,
) error {
	return p.expect(PhaseRange(domain.PhaseDepositPublished, domain.PhaseWithdrawn).
		WithMessage(m).
		From(from).
		PreCondition(p.trade.PayoutTxID == "", p.ackOnly(ctx, m))).
		setup(Tasks(buyerProcessesPayoutTxPublishedMessage)).
		executeTasks(ctx)
}
