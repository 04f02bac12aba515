package protocol

import (
	"context"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

// TakeOffer starts the protocol on the taker side. The trade must have been
// created with the prepared taker fee transaction.
func (p *Protocol) TakeOffer(ctx context.Context) error {
	tasks := []Task{p.role.PeerFeeVerification(), createTakerFeeTx}
	if p.trade.Variant.Generation == domain.GenerationAtomicSwap {
		tasks = append(tasks, swapTakerCreatesInputs, swapTakerSendsSwapRequest)
	} else {
		tasks = append(tasks, takerCreatesDepositTxInputs, takerSendsInputsForDepositTxRequest)
	}

	return p.expect(InPhase(domain.PhaseInit).
		AnyState(domain.StatePreparation).
		WithEvent(EventTakeOffer)).
		setup(Tasks(tasks...).WithTimeout(p.env.Config.Timeout)).
		executeTasks(ctx)
}

func (p *Protocol) handleInputsForDepositTxResponse(
	ctx context.Context, m *domain.InputsForDepositTxResponse, from domain.NodeAddress,
) error {
	tasks := []Task{
		takerProcessesInputsForDepositTxResponse,
		takerVerifiesAndSignsContract,
		signDepositTxInputs,
	}
	tasks = append(tasks, p.role.DepositContinuation()...)

	return p.expect(InPhase(domain.PhaseTakerFeePublished).
		AnyState(domain.StateTakerSentInputsForDepositTxRequest).
		WithMessage(m).
		From(from)).
		setup(Tasks(tasks...).WithTimeout(p.env.Config.Timeout)).
		executeTasks(ctx)
}

func (p *Protocol) handleSwapTxInputsMessage(
	ctx context.Context, m *domain.SwapTxInputsMessage, from domain.NodeAddress,
) error {
	return p.expect(InPhase(domain.PhaseInit).
		AnyState(domain.StateSwapTakerSentRequest).
		WithMessage(m).
		From(from)).
		setup(Tasks(
			swapTakerProcessesTxInputsMessage,
			swapTakerCreatesAndSignsTx,
			swapTakerSendsFinalizeTxRequest,
		).WithTimeout(p.env.Config.Timeout)).
		executeTasks(ctx)
}

func (p *Protocol) handleSwapFinalizedTxMessage(
	ctx context.Context, m *domain.SwapFinalizedTxMessage, from domain.NodeAddress,
) error {
	return p.expect(AnyPhase(domain.PhaseInit, domain.PhasePayoutPublished).
		WithMessage(m).
		From(from).
		PreCondition(p.trade.PayoutTxID == "", p.ackOnly(ctx, m))).
		setup(Tasks(swapTakerProcessesFinalizedTxMessage)).
		executeTasks(ctx)
}
