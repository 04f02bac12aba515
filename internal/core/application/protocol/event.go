package protocol

// Event is a local, non network, trigger of a protocol step.
type Event int

const (
	EventTakeOffer Event = iota
	EventDepositConfirmed
	EventPaymentStarted
	EventPaymentReceived
	EventWithdrawCompleted
	EventApplyMediationProposal
	EventAcceptMediationResult
	EventFinalizeMediationResultPayout
	EventPublishDelayedPayoutTx
	EventStartup
	EventPublishDepositTx
)

var eventNames = map[Event]string{
	EventTakeOffer:                     "TAKE_OFFER",
	EventDepositConfirmed:              "DEPOSIT_CONFIRMED",
	EventPaymentStarted:                "PAYMENT_STARTED",
	EventPaymentReceived:               "PAYMENT_RECEIVED",
	EventWithdrawCompleted:             "WITHDRAW_COMPLETED",
	EventApplyMediationProposal:        "APPLY_MEDIATION_PROPOSAL",
	EventAcceptMediationResult:         "ACCEPT_MEDIATION_RESULT",
	EventFinalizeMediationResultPayout: "FINALIZE_MEDIATION_RESULT_PAYOUT",
	EventPublishDelayedPayoutTx:        "PUBLISH_DELAYED_PAYOUT_TX",
	EventStartup:                       "STARTUP",
	EventPublishDepositTx:              "PUBLISH_DEPOSIT_TX",
}

func (e Event) String() string {
	return eventNames[e]
}
