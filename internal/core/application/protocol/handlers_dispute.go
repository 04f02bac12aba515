package protocol

import (
	"context"
	"fmt"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

// disputePhases are the phases in which the escrow is locked and can be
// released through mediation or the delayed payout.
func disputePhases() *Condition {
	return PhaseRange(domain.PhaseDepositPublished, domain.PhaseFiatReceived)
}

// isDelayedPayoutPublished returns whether the escrow was already spent by
// the delayed payout, by either trader.
func (p *Protocol) isDelayedPayoutPublished() bool {
	return p.trade.DisputeState == domain.DisputeStateDelayedPayoutTxPublished ||
		p.trade.DisputeState == domain.DisputeStatePeerPublishedDelayedPayoutTx
}

// ApplyMediationProposal stores the payout split proposed by the mediator.
func (p *Protocol) ApplyMediationProposal(ctx context.Context, result domain.MediationResult) error {
	return p.expect(disputePhases().
		WithEvent(EventApplyMediationProposal).
		PreCondition(!p.trade.IsPayoutPublished()).
		PreCondition(!p.isDelayedPayoutPublished())).
		run(func(t *domain.Trade) error {
			if result.BuyerPayoutAmount < 0 || result.SellerPayoutAmount < 0 {
				return domain.ErrInvalidAmount
			}
			available := t.EscrowAmount() - t.TxFee
			if total := result.BuyerPayoutAmount + result.SellerPayoutAmount; total > available {
				return fmt.Errorf(
					"%w: payout %d exceeds escrow %d", domain.ErrInvalidAmount, total, available,
				)
			}
			if t.MediationResult != nil && *t.MediationResult != result {
				t.MediationResultState = domain.MediationResultUndefined
				t.ProcessModel.MyMediatedPayoutTxSignature = nil
				t.ProcessModel.Peer.MediatedPayoutTxSignature = nil
			}
			t.MediationResult = &result
			t.DisputeState = domain.DisputeStateMediationOpen
			return nil
		}).
		executeTasks(ctx)
}

// AcceptMediationResult signs the mediated payout and sends the signature
// to the peer.
func (p *Protocol) AcceptMediationResult(ctx context.Context) error {
	return p.expect(disputePhases().
		WithEvent(EventAcceptMediationResult).
		PreCondition(!p.trade.IsPayoutPublished()).
		PreCondition(!p.isDelayedPayoutPublished()).
		PreCondition(p.trade.MediationResult != nil)).
		run(func(t *domain.Trade) error {
			t.MediationResultState = domain.MediationResultAccepted
			return nil
		}).
		setup(Tasks(signMediatedPayoutTx, sendMediatedPayoutSignatureMessage)).
		executeTasks(ctx)
}

// FinalizeMediationResultPayout publishes the mediated payout once the peer
// accepted the mediation result too.
func (p *Protocol) FinalizeMediationResultPayout(ctx context.Context) error {
	return p.expect(disputePhases().
		WithEvent(EventFinalizeMediationResultPayout).
		PreCondition(!p.trade.IsPayoutPublished()).
		PreCondition(!p.isDelayedPayoutPublished()).
		PreCondition(p.trade.MediationResult != nil).
		PreCondition(len(p.trade.ProcessModel.Peer.MediatedPayoutTxSignature) > 0)).
		setup(Tasks(
			signMediatedPayoutTx,
			finalizeMediatedPayoutTx,
			broadcastMediatedPayoutTx,
			sendMediatedPayoutTxPublishedMessage,
		)).
		executeTasks(ctx)
}

// PublishDelayedPayoutTx broadcasts the time-locked transaction sending the
// escrow to the donation address. The peer is notified on a best effort
// basis. Once published, calling it again only notifies the peer.
func (p *Protocol) PublishDelayedPayoutTx(ctx context.Context) error {
	return p.expect(disputePhases().
		WithEvent(EventPublishDelayedPayoutTx).
		PreCondition(p.trade.DelayedPayoutTx != "").
		PreCondition(!p.trade.IsPayoutPublished())).
		setup(Tasks(publishDelayedPayoutTx, sendPeerPublishedDelayedPayoutTxMessage)).
		executeTasks(ctx)
}

func (p *Protocol) handleMediatedPayoutTxSignatureMessage(
	ctx context.Context, m *domain.MediatedPayoutTxSignatureMessage, from domain.NodeAddress,
) error {
	return p.expect(PhaseRange(domain.PhaseDepositPublished, domain.PhaseWithdrawn).
		WithMessage(m).
		From(from).
		PreCondition(len(p.trade.ProcessModel.Peer.MediatedPayoutTxSignature) == 0, p.ackOnly(ctx, m)).
		PreCondition(!p.trade.IsPayoutPublished(), p.ackOnly(ctx, m))).
		setup(Tasks(processMediatedPayoutTxSignatureMessage)).
		executeTasks(ctx)
}

func (p *Protocol) handleMediatedPayoutTxPublishedMessage(
	ctx context.Context, m *domain.MediatedPayoutTxPublishedMessage, from domain.NodeAddress,
) error {
	return p.expect(PhaseRange(domain.PhaseDepositPublished, domain.PhaseWithdrawn).
		WithMessage(m).
		From(from).
		PreCondition(p.trade.PayoutTxID == "", p.ackOnly(ctx, m))).
		setup(Tasks(processMediatedPayoutTxPublishedMessage)).
		executeTasks(ctx)
}

func (p *Protocol) handlePeerPublishedDelayedPayoutTxMessage(
	ctx context.Context, m *domain.PeerPublishedDelayedPayoutTxMessage, from domain.NodeAddress,
) error {
	return p.expect(PhaseRange(domain.PhaseDepositPublished, domain.PhaseWithdrawn).
		WithMessage(m).
		From(from).
		PreCondition(
			p.trade.DisputeState != domain.DisputeStatePeerPublishedDelayedPayoutTx,
			p.ackOnly(ctx, m),
		)).
		run(func(t *domain.Trade) error {
			t.DisputeState = domain.DisputeStatePeerPublishedDelayedPayoutTx
			return nil
		}).
		executeTasks(ctx)
}
