package domain

import "fmt"

// Phase is the coarse grained progress marker of a trade. Phases are totally
// ordered and a trade only moves forward along them, except for the explicit
// escape to PhaseFailed.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseTakerFeePublished
	PhaseDepositPublished
	PhaseDepositConfirmed
	PhaseFiatSent
	PhaseFiatReceived
	PhasePayoutPublished
	PhaseWithdrawn
	PhaseFailed
)

var phaseNames = map[Phase]string{
	PhaseInit:              "INIT",
	PhaseTakerFeePublished: "TAKER_FEE_PUBLISHED",
	PhaseDepositPublished:  "DEPOSIT_PUBLISHED",
	PhaseDepositConfirmed:  "DEPOSIT_CONFIRMED",
	PhaseFiatSent:          "FIAT_SENT",
	PhaseFiatReceived:      "FIAT_RECEIVED",
	PhasePayoutPublished:   "PAYOUT_PUBLISHED",
	PhaseWithdrawn:         "WITHDRAWN",
	PhaseFailed:            "FAILED",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// IsTerminal returns whether no protocol step can follow the phase.
func (p Phase) IsTerminal() bool {
	return p == PhaseWithdrawn || p == PhaseFailed
}

// State records the message exchange progress within a Phase. Every state
// belongs to exactly one phase.
type State int

const (
	StatePreparation State = iota

	// TAKER_FEE_PUBLISHED
	StateTakerPublishedTakerFeeTx
	StateTakerSentInputsForDepositTxRequest
	StateMakerSentInputsForDepositTxResponse
	StateBuyerSentDepositTxMessage
	StateSellerSentDelayedPayoutTxSignatureRequest
	StateBuyerSentDelayedPayoutTxSignatureResponse
	StateSellerSentDepositTxAndDelayedPayoutTxMessage

	// DEPOSIT_PUBLISHED
	StateSellerPublishedDepositTx
	StateBuyerReceivedDepositTxAndDelayedPayoutTxMessage

	// DEPOSIT_CONFIRMED
	StateDepositConfirmedInBlockchain

	// FIAT_SENT
	StateBuyerConfirmedPaymentInitiated
	StateBuyerSentPaymentInitiatedMessage
	StateBuyerSawArrivedPaymentInitiatedMessage
	StateBuyerStoredInMailboxPaymentInitiatedMessage
	StateBuyerSendFailedPaymentInitiatedMessage
	StateSellerReceivedPaymentInitiatedMessage

	// FIAT_RECEIVED
	StateSellerConfirmedPaymentReceipt

	// PAYOUT_PUBLISHED
	StateSellerPublishedPayoutTx
	StateSellerSentPayoutTxPublishedMessage
	StateSellerSawArrivedPayoutTxPublishedMessage
	StateSellerStoredInMailboxPayoutTxPublishedMessage
	StateSellerSendFailedPayoutTxPublishedMessage
	StateBuyerReceivedPayoutTxPublishedMessage
	StateMediatedPayoutTxPublished
	StateSwapTxPublished

	// WITHDRAWN
	StateWithdrawCompleted

	// FAILED
	StateFailed

	// INIT, atomic swap negotiation
	StateSwapTakerSentRequest
	StateSwapMakerSentTxInputs
	StateSwapTakerSentFinalizeTxRequest
)

type stateInfo struct {
	name  string
	phase Phase
}

var states = map[State]stateInfo{
	StatePreparation: {"PREPARATION", PhaseInit},

	StateTakerPublishedTakerFeeTx:                     {"TAKER_PUBLISHED_TAKER_FEE_TX", PhaseTakerFeePublished},
	StateTakerSentInputsForDepositTxRequest:           {"TAKER_SENT_INPUTS_FOR_DEPOSIT_TX_REQUEST", PhaseTakerFeePublished},
	StateMakerSentInputsForDepositTxResponse:          {"MAKER_SENT_INPUTS_FOR_DEPOSIT_TX_RESPONSE", PhaseTakerFeePublished},
	StateBuyerSentDepositTxMessage:                    {"BUYER_SENT_DEPOSIT_TX_MSG", PhaseTakerFeePublished},
	StateSellerSentDelayedPayoutTxSignatureRequest:    {"SELLER_SENT_DELAYED_PAYOUT_TX_SIGNATURE_REQUEST", PhaseTakerFeePublished},
	StateBuyerSentDelayedPayoutTxSignatureResponse:    {"BUYER_SENT_DELAYED_PAYOUT_TX_SIGNATURE_RESPONSE", PhaseTakerFeePublished},
	StateSellerSentDepositTxAndDelayedPayoutTxMessage: {"SELLER_SENT_DEPOSIT_TX_AND_DELAYED_PAYOUT_TX_MSG", PhaseTakerFeePublished},

	StateSellerPublishedDepositTx:                        {"SELLER_PUBLISHED_DEPOSIT_TX", PhaseDepositPublished},
	StateBuyerReceivedDepositTxAndDelayedPayoutTxMessage: {"BUYER_RECEIVED_DEPOSIT_TX_AND_DELAYED_PAYOUT_TX_MSG", PhaseDepositPublished},

	StateDepositConfirmedInBlockchain: {"DEPOSIT_CONFIRMED_IN_BLOCK_CHAIN", PhaseDepositConfirmed},

	StateBuyerConfirmedPaymentInitiated:              {"BUYER_CONFIRMED_IN_UI_FIAT_PAYMENT_INITIATED", PhaseFiatSent},
	StateBuyerSentPaymentInitiatedMessage:            {"BUYER_SENT_FIAT_PAYMENT_INITIATED_MSG", PhaseFiatSent},
	StateBuyerSawArrivedPaymentInitiatedMessage:      {"BUYER_SAW_ARRIVED_FIAT_PAYMENT_INITIATED_MSG", PhaseFiatSent},
	StateBuyerStoredInMailboxPaymentInitiatedMessage: {"BUYER_STORED_IN_MAILBOX_FIAT_PAYMENT_INITIATED_MSG", PhaseFiatSent},
	StateBuyerSendFailedPaymentInitiatedMessage:      {"BUYER_SEND_FAILED_FIAT_PAYMENT_INITIATED_MSG", PhaseFiatSent},
	StateSellerReceivedPaymentInitiatedMessage:       {"SELLER_RECEIVED_FIAT_PAYMENT_INITIATED_MSG", PhaseFiatSent},

	StateSellerConfirmedPaymentReceipt: {"SELLER_CONFIRMED_IN_UI_FIAT_PAYMENT_RECEIPT", PhaseFiatReceived},

	StateSellerPublishedPayoutTx:                       {"SELLER_PUBLISHED_PAYOUT_TX", PhasePayoutPublished},
	StateSellerSentPayoutTxPublishedMessage:            {"SELLER_SENT_PAYOUT_TX_PUBLISHED_MSG", PhasePayoutPublished},
	StateSellerSawArrivedPayoutTxPublishedMessage:      {"SELLER_SAW_ARRIVED_PAYOUT_TX_PUBLISHED_MSG", PhasePayoutPublished},
	StateSellerStoredInMailboxPayoutTxPublishedMessage: {"SELLER_STORED_IN_MAILBOX_PAYOUT_TX_PUBLISHED_MSG", PhasePayoutPublished},
	StateSellerSendFailedPayoutTxPublishedMessage:      {"SELLER_SEND_FAILED_PAYOUT_TX_PUBLISHED_MSG", PhasePayoutPublished},
	StateBuyerReceivedPayoutTxPublishedMessage:         {"BUYER_RECEIVED_PAYOUT_TX_PUBLISHED_MSG", PhasePayoutPublished},
	StateMediatedPayoutTxPublished:                     {"MEDIATED_PAYOUT_TX_PUBLISHED", PhasePayoutPublished},
	StateSwapTxPublished:                               {"SWAP_TX_PUBLISHED", PhasePayoutPublished},

	StateWithdrawCompleted: {"WITHDRAW_COMPLETED", PhaseWithdrawn},

	StateFailed: {"FAILED", PhaseFailed},

	StateSwapTakerSentRequest:           {"SWAP_TAKER_SENT_REQUEST", PhaseInit},
	StateSwapMakerSentTxInputs:          {"SWAP_MAKER_SENT_TX_INPUTS", PhaseInit},
	StateSwapTakerSentFinalizeTxRequest: {"SWAP_TAKER_SENT_FINALIZE_TX_REQUEST", PhaseInit},
}

func (s State) String() string {
	if info, ok := states[s]; ok {
		return info.name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Phase returns the phase the state belongs to.
func (s State) Phase() Phase {
	if info, ok := states[s]; ok {
		return info.phase
	}
	return PhaseInit
}

// DisputeState tracks the dispute overlay of a trade.
type DisputeState int

const (
	DisputeStateNone DisputeState = iota
	DisputeStateMediationOpen
	DisputeStateMediationClosed
	DisputeStateDelayedPayoutTxPublished
	DisputeStatePeerPublishedDelayedPayoutTx
)

func (d DisputeState) String() string {
	switch d {
	case DisputeStateNone:
		return "NO_DISPUTE"
	case DisputeStateMediationOpen:
		return "MEDIATION_OPEN"
	case DisputeStateMediationClosed:
		return "MEDIATION_CLOSED"
	case DisputeStateDelayedPayoutTxPublished:
		return "DELAYED_PAYOUT_TX_PUBLISHED"
	case DisputeStatePeerPublishedDelayedPayoutTx:
		return "PEER_PUBLISHED_DELAYED_PAYOUT_TX"
	default:
		return fmt.Sprintf("DisputeState(%d)", int(d))
	}
}

// MediationResultState tracks the cooperative mediated payout.
type MediationResultState int

const (
	MediationResultUndefined MediationResultState = iota
	MediationResultAccepted
	MediationResultSigMsgSent
	MediationResultSigMsgArrived
	MediationResultSigMsgInMailbox
	MediationResultSigMsgSendFailed
	MediationResultReceivedSigMsg
	MediationResultPayoutTxPublished
	MediationResultPayoutTxPublishedMsgSent
	MediationResultReceivedPayoutTxPublishedMsg
)

var mediationResultNames = map[MediationResultState]string{
	MediationResultUndefined:                    "UNDEFINED",
	MediationResultAccepted:                     "MEDIATION_RESULT_ACCEPTED",
	MediationResultSigMsgSent:                   "SIG_MSG_SENT",
	MediationResultSigMsgArrived:                "SIG_MSG_ARRIVED",
	MediationResultSigMsgInMailbox:              "SIG_MSG_IN_MAILBOX",
	MediationResultSigMsgSendFailed:             "SIG_MSG_SEND_FAILED",
	MediationResultReceivedSigMsg:               "RECEIVED_SIG_MSG",
	MediationResultPayoutTxPublished:            "PAYOUT_TX_PUBLISHED",
	MediationResultPayoutTxPublishedMsgSent:     "PAYOUT_TX_PUBLISHED_MSG_SENT",
	MediationResultReceivedPayoutTxPublishedMsg: "RECEIVED_PAYOUT_TX_PUBLISHED_MSG",
}

func (m MediationResultState) String() string {
	if name, ok := mediationResultNames[m]; ok {
		return name
	}
	return fmt.Sprintf("MediationResultState(%d)", int(m))
}
