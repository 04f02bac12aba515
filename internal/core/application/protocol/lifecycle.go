package protocol

import (
	"context"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

// DepositConfirmed is called by the chain listener once the deposit tx is
// confirmed. Late or repeated notifications are ignored.
func (p *Protocol) DepositConfirmed(ctx context.Context) error {
	return p.given(InPhase(domain.PhaseDepositPublished).
		WithEvent(EventDepositConfirmed)).
		run(func(t *domain.Trade) error {
			return t.SetState(domain.StateDepositConfirmedInBlockchain)
		}).
		executeTasks(ctx)
}

// WithdrawCompleted closes the trade once the payout funds have been moved
// out of the trade wallet.
func (p *Protocol) WithdrawCompleted(ctx context.Context) error {
	return p.expect(InPhase(domain.PhasePayoutPublished).
		WithEvent(EventWithdrawCompleted)).
		run(func(t *domain.Trade) error {
			return t.SetState(domain.StateWithdrawCompleted)
		}).
		executeTasks(ctx)
}

// OnInitialized resumes the protocol of a trade loaded from storage. Steps
// that do not apply to the current state are silently skipped.
func (p *Protocol) OnInitialized(ctx context.Context) error {
	if p.trade.Variant.Generation != domain.GenerationEscrow {
		return nil
	}

	if err := p.given(InPhase(domain.PhaseDepositPublished).
		WithEvent(EventStartup)).
		setup(Tasks(setupDepositTxListener)).
		executeTasks(ctx); err != nil {
		return err
	}

	if p.trade.IsBuyer() {
		return p.given(InPhase(domain.PhaseFiatSent).
			AnyState(
				domain.StateBuyerStoredInMailboxPaymentInitiatedMessage,
				domain.StateBuyerSendFailedPaymentInitiatedMessage,
			).
			WithEvent(EventStartup)).
			setup(Tasks(buyerSignsPayoutTx, buyerSendsCounterCurrencyTransferStartedMessage)).
			executeTasks(ctx)
	}

	if err := p.given(republishDepositCondition(EventStartup)).
		setup(Tasks(sellerPublishesDepositTx, setupDepositTxListener)).
		executeTasks(ctx); err != nil {
		return err
	}

	return p.given(InPhase(domain.PhasePayoutPublished).
		AnyState(
			domain.StateSellerStoredInMailboxPayoutTxPublishedMessage,
			domain.StateSellerSendFailedPayoutTxPublishedMessage,
		).
		WithEvent(EventStartup)).
		setup(Tasks(sellerSendsPayoutTxPublishedMessage)).
		executeTasks(ctx)
}
