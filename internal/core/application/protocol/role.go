package protocol

import (
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

// positionStrategy holds what differs between maker and taker.
type positionStrategy interface {
	PeerFeeVerification() Task
	CanTakeOffer() bool
}

// sideStrategy holds what differs between buyer and seller.
type sideStrategy interface {
	Side() domain.Side
	// DepositContinuation are the tasks the taker runs once it knows the
	// maker's inputs.
	DepositContinuation() []Task
}

type makerPosition struct{}

func (makerPosition) PeerFeeVerification() Task { return makerVerifyTakerFeePayment }
func (makerPosition) CanTakeOffer() bool        { return false }

type takerPosition struct{}

func (takerPosition) PeerFeeVerification() Task { return takerVerifyMakerFeePayment }
func (takerPosition) CanTakeOffer() bool        { return true }

type escrowBuyer struct{}

func (escrowBuyer) Side() domain.Side { return domain.SideBuyer }
func (escrowBuyer) DepositContinuation() []Task {
	return []Task{buyerSendsDepositTxMessage}
}

type escrowSeller struct{}

func (escrowSeller) Side() domain.Side { return domain.SideSeller }
func (escrowSeller) DepositContinuation() []Task {
	return []Task{
		sellerCreatesDelayedPayoutTx,
		sellerSignsDelayedPayoutTx,
		sellerSendsDelayedPayoutTxSignatureRequest,
	}
}

type swapSide struct {
	side domain.Side
}

func (s swapSide) Side() domain.Side         { return s.side }
func (swapSide) DepositContinuation() []Task { return nil }

// Role composes the position and side strategies of a trade variant with
// the messages and events it consumes.
type Role struct {
	Variant  domain.TradeVariant
	position positionStrategy
	side     sideStrategy
	consumes map[domain.MessageKind]bool
	events   map[Event]bool
}

// Consumes returns whether the role handles the given message kind.
func (r Role) Consumes(kind domain.MessageKind) bool {
	return r.consumes[kind]
}

func (r Role) PeerFeeVerification() Task   { return r.position.PeerFeeVerification() }
func (r Role) CanTakeOffer() bool          { return r.position.CanTakeOffer() }
func (r Role) DepositContinuation() []Task { return r.side.DepositContinuation() }

func newEscrowRole(v domain.TradeVariant, position positionStrategy, side sideStrategy) Role {
	consumes := kindSet(
		domain.KindAckMessage,
		domain.KindMediatedPayoutTxSignatureMessage,
		domain.KindMediatedPayoutTxPublishedMessage,
		domain.KindPeerPublishedDelayedPayoutTxMessage,
	)
	events := eventSet(
		EventStartup,
		EventDepositConfirmed,
		EventWithdrawCompleted,
		EventApplyMediationProposal,
		EventAcceptMediationResult,
		EventFinalizeMediationResultPayout,
		EventPublishDelayedPayoutTx,
	)

	if position.CanTakeOffer() {
		consumes[domain.KindInputsForDepositTxResponse] = true
		events[EventTakeOffer] = true
	} else {
		consumes[domain.KindInputsForDepositTxRequest] = true
	}

	switch side.Side() {
	case domain.SideBuyer:
		consumes[domain.KindDelayedPayoutTxSignatureRequest] = true
		consumes[domain.KindDepositTxAndDelayedPayoutTxMessage] = true
		consumes[domain.KindPayoutTxPublishedMessage] = true
		events[EventPaymentStarted] = true
	case domain.SideSeller:
		consumes[domain.KindDelayedPayoutTxSignatureResponse] = true
		consumes[domain.KindShareBuyerPaymentAccountMessage] = true
		consumes[domain.KindCounterCurrencyTransferStarted] = true
		if !position.CanTakeOffer() {
			consumes[domain.KindDepositTxMessage] = true
		}
		events[EventPaymentReceived] = true
		events[EventPublishDepositTx] = true
	}

	return Role{
		Variant:  v,
		position: position,
		side:     side,
		consumes: consumes,
		events:   events,
	}
}

func newSwapRole(v domain.TradeVariant, position positionStrategy, side sideStrategy) Role {
	consumes := kindSet(domain.KindAckMessage)
	events := eventSet(EventStartup, EventWithdrawCompleted)

	if position.CanTakeOffer() {
		consumes[domain.KindSwapTxInputsMessage] = true
		consumes[domain.KindSwapFinalizedTxMessage] = true
		events[EventTakeOffer] = true
	} else {
		consumes[domain.KindSwapRequest] = true
		consumes[domain.KindSwapFinalizeTxRequest] = true
	}

	return Role{
		Variant:  v,
		position: position,
		side:     side,
		consumes: consumes,
		events:   events,
	}
}

func kindSet(kinds ...domain.MessageKind) map[domain.MessageKind]bool {
	m := make(map[domain.MessageKind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

func eventSet(events ...Event) map[Event]bool {
	m := make(map[Event]bool, len(events))
	for _, e := range events {
		m[e] = true
	}
	return m
}
