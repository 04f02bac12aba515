package protocol

import (
	"context"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

func (p *Protocol) handleInputsForDepositTxRequest(
	ctx context.Context, m *domain.InputsForDepositTxRequest, from domain.NodeAddress,
) error {
	return p.expect(InPhase(domain.PhaseInit).
		AnyState(domain.StatePreparation).
		WithMessage(m).
		From(from)).
		setup(Tasks(
			makerProcessesInputsForDepositTxRequest,
			p.role.PeerFeeVerification(),
			makerSetsLockTime,
			makerCreatesAndSignsContract,
			makerCreatesDepositTx,
			makerSendsInputsForDepositTxResponse,
		).WithTimeout(p.env.Config.Timeout)).
		executeTasks(ctx)
}

func (p *Protocol) handleSwapRequest(
	ctx context.Context, m *domain.SwapRequest, from domain.NodeAddress,
) error {
	return p.expect(InPhase(domain.PhaseInit).
		AnyState(domain.StatePreparation).
		WithMessage(m).
		From(from)).
		setup(Tasks(
			swapMakerProcessesSwapRequest,
			p.role.PeerFeeVerification(),
			swapMakerCreatesInputs,
			swapMakerSendsTxInputsMessage,
		).WithTimeout(p.env.Config.Timeout)).
		executeTasks(ctx)
}

func (p *Protocol) handleSwapFinalizeTxRequest(
	ctx context.Context, m *domain.SwapFinalizeTxRequest, from domain.NodeAddress,
) error {
	return p.expect(InPhase(domain.PhaseInit).
		AnyState(domain.StateSwapMakerSentTxInputs).
		WithMessage(m).
		From(from)).
		setup(Tasks(
			swapMakerProcessesFinalizeTxRequest,
			swapMakerFinalizesTx,
			swapMakerPublishesTx,
			swapMakerSendsFinalizedTxMessage,
		)).
		executeTasks(ctx)
}
