package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MessageKind names a protocol message on the wire.
type MessageKind string

const (
	KindInputsForDepositTxRequest           MessageKind = "InputsForDepositTxRequest"
	KindInputsForDepositTxResponse          MessageKind = "InputsForDepositTxResponse"
	KindDepositTxMessage                    MessageKind = "DepositTxMessage"
	KindDelayedPayoutTxSignatureRequest     MessageKind = "DelayedPayoutTxSignatureRequest"
	KindDelayedPayoutTxSignatureResponse    MessageKind = "DelayedPayoutTxSignatureResponse"
	KindDepositTxAndDelayedPayoutTxMessage  MessageKind = "DepositTxAndDelayedPayoutTxMessage"
	KindShareBuyerPaymentAccountMessage     MessageKind = "ShareBuyerPaymentAccountMessage"
	KindCounterCurrencyTransferStarted      MessageKind = "CounterCurrencyTransferStartedMessage"
	KindPayoutTxPublishedMessage            MessageKind = "PayoutTxPublishedMessage"
	KindMediatedPayoutTxSignatureMessage    MessageKind = "MediatedPayoutTxSignatureMessage"
	KindMediatedPayoutTxPublishedMessage    MessageKind = "MediatedPayoutTxPublishedMessage"
	KindPeerPublishedDelayedPayoutTxMessage MessageKind = "PeerPublishedDelayedPayoutTxMessage"
	KindAckMessage                          MessageKind = "AckMessage"
	KindSwapRequest                         MessageKind = "SwapRequest"
	KindSwapTxInputsMessage                 MessageKind = "SwapTxInputsMessage"
	KindSwapFinalizeTxRequest               MessageKind = "SwapFinalizeTxRequest"
	KindSwapFinalizedTxMessage              MessageKind = "SwapFinalizedTxMessage"
)

// MessageHeader is common to every trade message.
type MessageHeader struct {
	TradeID           string
	UID               string
	SenderNodeAddress NodeAddress
}

// NewMessageHeader returns a header with a fresh uid.
func NewMessageHeader(tradeID string, sender NodeAddress) MessageHeader {
	return MessageHeader{
		TradeID:           tradeID,
		UID:               uuid.New().String(),
		SenderNodeAddress: sender,
	}
}

// TradeMessage is the closed set of messages exchanged by trading peers.
// Dispatching goes through Accept, so adding a kind breaks every visitor
// until it handles it.
type TradeMessage interface {
	Header() MessageHeader
	Kind() MessageKind
	Accept(v MessageVisitor, from NodeAddress)
}

// MessageVisitor has one method for every TradeMessage kind.
type MessageVisitor interface {
	VisitInputsForDepositTxRequest(m *InputsForDepositTxRequest, from NodeAddress)
	VisitInputsForDepositTxResponse(m *InputsForDepositTxResponse, from NodeAddress)
	VisitDepositTxMessage(m *DepositTxMessage, from NodeAddress)
	VisitDelayedPayoutTxSignatureRequest(m *DelayedPayoutTxSignatureRequest, from NodeAddress)
	VisitDelayedPayoutTxSignatureResponse(m *DelayedPayoutTxSignatureResponse, from NodeAddress)
	VisitDepositTxAndDelayedPayoutTxMessage(m *DepositTxAndDelayedPayoutTxMessage, from NodeAddress)
	VisitShareBuyerPaymentAccountMessage(m *ShareBuyerPaymentAccountMessage, from NodeAddress)
	VisitCounterCurrencyTransferStartedMessage(m *CounterCurrencyTransferStartedMessage, from NodeAddress)
	VisitPayoutTxPublishedMessage(m *PayoutTxPublishedMessage, from NodeAddress)
	VisitMediatedPayoutTxSignatureMessage(m *MediatedPayoutTxSignatureMessage, from NodeAddress)
	VisitMediatedPayoutTxPublishedMessage(m *MediatedPayoutTxPublishedMessage, from NodeAddress)
	VisitPeerPublishedDelayedPayoutTxMessage(m *PeerPublishedDelayedPayoutTxMessage, from NodeAddress)
	VisitAckMessage(m *AckMessage, from NodeAddress)
	VisitSwapRequest(m *SwapRequest, from NodeAddress)
	VisitSwapTxInputsMessage(m *SwapTxInputsMessage, from NodeAddress)
	VisitSwapFinalizeTxRequest(m *SwapFinalizeTxRequest, from NodeAddress)
	VisitSwapFinalizedTxMessage(m *SwapFinalizedTxMessage, from NodeAddress)
}

type InputsForDepositTxRequest struct {
	MessageHeader
	OfferID                   string
	TradeAmount               int64
	TradePrice                decimal.Decimal
	TxFee                     int64
	TakerFee                  int64
	TakerFeeTxID              string
	TakerAccountID            string
	TakerPubKeyRing           PubKeyRing
	TakerMultisigPubKey       []byte
	TakerPayoutAddress        string
	TakerChangeAddress        string
	TakerRawInputs            []RawInput
	PaymentAccountPayloadHash []byte
}

func (m *InputsForDepositTxRequest) Header() MessageHeader { return m.MessageHeader }
func (m *InputsForDepositTxRequest) Kind() MessageKind     { return KindInputsForDepositTxRequest }
func (m *InputsForDepositTxRequest) Accept(v MessageVisitor, from NodeAddress) {
	v.VisitInputsForDepositTxRequest(m, from)
}

type InputsForDepositTxResponse struct {
	MessageHeader
	MakerAccountID            string
	MakerMultisigPubKey       []byte
	MakerPayoutAddress        string
	MakerChangeAddress        string
	MakerRawInputs            []RawInput
	PaymentAccountPayloadHash []byte
	Contract                  Contract
	MakerContractSignature    []byte
	PreparedDepositTx         string
	LockTime                  int64
}

func (m *InputsForDepositTxResponse) Header() MessageHeader { return m.MessageHeader }
func (m *InputsForDepositTxResponse) Kind() MessageKind     { return KindInputsForDepositTxResponse }
func (m *InputsForDepositTxResponse) Accept(v MessageVisitor, from NodeAddress) {
	v.VisitInputsForDepositTxResponse(m, from)
}

// DepositTxMessage carries the deposit transaction signed by the buyer as
// taker, together with the taker's contract signature.
type DepositTxMessage struct {
	MessageHeader
	DepositTx              string
	TakerContractSignature []byte
}

func (m *DepositTxMessage) Header() MessageHeader { return m.MessageHeader }
func (m *DepositTxMessage) Kind() MessageKind     { return KindDepositTxMessage }
func (m *DepositTxMessage) Accept(v MessageVisitor, from NodeAddress) {
	v.VisitDepositTxMessage(m, from)
}

// DelayedPayoutTxSignatureRequest is sent by the seller. When the seller is
// the taker it also carries the taker's contract signature.
type DelayedPayoutTxSignatureRequest struct {
	MessageHeader
	DelayedPayoutTx        string
	SellerSignature        []byte
	TakerContractSignature []byte
}

func (m *DelayedPayoutTxSignatureRequest) Header() MessageHeader { return m.MessageHeader }
func (m *DelayedPayoutTxSignatureRequest) Kind() MessageKind {
	return KindDelayedPayoutTxSignatureRequest
}
func (m *DelayedPayoutTxSignatureRequest) Accept(v MessageVisitor, from NodeAddress) {
	v.VisitDelayedPayoutTxSignatureRequest(m, from)
}

// DelayedPayoutTxSignatureResponse is sent by the buyer.
type DelayedPayoutTxSignatureResponse struct {
	MessageHeader
	BuyerSignature  []byte
	SignedDepositTx string
}

func (m *DelayedPayoutTxSignatureResponse) Header() MessageHeader { return m.MessageHeader }
func (m *DelayedPayoutTxSignatureResponse) Kind() MessageKind {
	return KindDelayedPayoutTxSignatureResponse
}
func (m *DelayedPayoutTxSignatureResponse) Accept(v MessageVisitor, from NodeAddress) {
	v.VisitDelayedPayoutTxSignatureResponse(m, from)
}

type DepositTxAndDelayedPayoutTxMessage struct {
	MessageHeader
	DepositTx       string
	DelayedPayoutTx string
}

func (m *DepositTxAndDelayedPayoutTxMessage) Header() MessageHeader { return m.MessageHeader }
func (m *DepositTxAndDelayedPayoutTxMessage) Kind() MessageKind {
	return KindDepositTxAndDelayedPayoutTxMessage
}
func (m *DepositTxAndDelayedPayoutTxMessage) Accept(v MessageVisitor, from NodeAddress) {
	v.VisitDepositTxAndDelayedPayoutTxMessage(m, from)
}

type ShareBuyerPaymentAccountMessage struct {
	MessageHeader
	BuyerPaymentAccountPayload PaymentAccountPayload
}

func (m *ShareBuyerPaymentAccountMessage) Header() MessageHeader { return m.MessageHeader }
func (m *ShareBuyerPaymentAccountMessage) Kind() MessageKind {
	return KindShareBuyerPaymentAccountMessage
}
func (m *ShareBuyerPaymentAccountMessage) Accept(v MessageVisitor, from NodeAddress) {
	v.VisitShareBuyerPaymentAccountMessage(m, from)
}

// CounterCurrencyTransferStartedMessage tells the seller the buyer has
// initiated the payment. It carries the buyer's payout signature.
type CounterCurrencyTransferStartedMessage struct {
	MessageHeader
	BuyerPayoutAddress  string
	BuyerSignature      []byte
	CounterCurrencyTxID string
}

func (m *CounterCurrencyTransferStartedMessage) Header() MessageHeader { return m.MessageHeader }
func (m *CounterCurrencyTransferStartedMessage) Kind() MessageKind {
	return KindCounterCurrencyTransferStarted
}
func (m *CounterCurrencyTransferStartedMessage) Accept(v MessageVisitor, from NodeAddress) {
	v.VisitCounterCurrencyTransferStartedMessage(m, from)
}

type PayoutTxPublishedMessage struct {
	MessageHeader
	PayoutTx string
}

func (m *PayoutTxPublishedMessage) Header() MessageHeader { return m.MessageHeader }
func (m *PayoutTxPublishedMessage) Kind() MessageKind     { return KindPayoutTxPublishedMessage }
func (m *PayoutTxPublishedMessage) Accept(v MessageVisitor, from NodeAddress) {
	v.VisitPayoutTxPublishedMessage(m, from)
}

type MediatedPayoutTxSignatureMessage struct {
	MessageHeader
	Signature []byte
}

func (m *MediatedPayoutTxSignatureMessage) Header() MessageHeader { return m.MessageHeader }
func (m *MediatedPayoutTxSignatureMessage) Kind() MessageKind {
	return KindMediatedPayoutTxSignatureMessage
}
func (m *MediatedPayoutTxSignatureMessage) Accept(v MessageVisitor, from NodeAddress) {
	v.VisitMediatedPayoutTxSignatureMessage(m, from)
}

type MediatedPayoutTxPublishedMessage struct {
	MessageHeader
	PayoutTx string
}

func (m *MediatedPayoutTxPublishedMessage) Header() MessageHeader { return m.MessageHeader }
func (m *MediatedPayoutTxPublishedMessage) Kind() MessageKind {
	return KindMediatedPayoutTxPublishedMessage
}
func (m *MediatedPayoutTxPublishedMessage) Accept(v MessageVisitor, from NodeAddress) {
	v.VisitMediatedPayoutTxPublishedMessage(m, from)
}

type PeerPublishedDelayedPayoutTxMessage struct {
	MessageHeader
}

func (m *PeerPublishedDelayedPayoutTxMessage) Header() MessageHeader { return m.MessageHeader }
func (m *PeerPublishedDelayedPayoutTxMessage) Kind() MessageKind {
	return KindPeerPublishedDelayedPayoutTxMessage
}
func (m *PeerPublishedDelayedPayoutTxMessage) Accept(v MessageVisitor, from NodeAddress) {
	v.VisitPeerPublishedDelayedPayoutTxMessage(m, from)
}

// AckMessage acknowledges the processing of the message with SourceUID.
type AckMessage struct {
	MessageHeader
	SourceUID    string
	SourceKind   MessageKind
	Success      bool
	ErrorMessage string
}

func (m *AckMessage) Header() MessageHeader { return m.MessageHeader }
func (m *AckMessage) Kind() MessageKind     { return KindAckMessage }
func (m *AckMessage) Accept(v MessageVisitor, from NodeAddress) {
	v.VisitAckMessage(m, from)
}

// SwapRequest opens an atomic swap against a maker's offer.
type SwapRequest struct {
	MessageHeader
	OfferID             string
	TradeAmount         int64
	TradePrice          decimal.Decimal
	TxFee               int64
	TakerFee            int64
	TakerFeeTxID        string
	TakerPubKeyRing     PubKeyRing
	TakerReceiveAddress string
	TakerChangeAddress  string
	TakerRawInputs      []RawInput
}

func (m *SwapRequest) Header() MessageHeader { return m.MessageHeader }
func (m *SwapRequest) Kind() MessageKind     { return KindSwapRequest }
func (m *SwapRequest) Accept(v MessageVisitor, from NodeAddress) {
	v.VisitSwapRequest(m, from)
}

type SwapTxInputsMessage struct {
	MessageHeader
	MakerReceiveAddress string
	MakerChangeAddress  string
	MakerRawInputs      []RawInput
}

func (m *SwapTxInputsMessage) Header() MessageHeader { return m.MessageHeader }
func (m *SwapTxInputsMessage) Kind() MessageKind     { return KindSwapTxInputsMessage }
func (m *SwapTxInputsMessage) Accept(v MessageVisitor, from NodeAddress) {
	v.VisitSwapTxInputsMessage(m, from)
}

// SwapFinalizeTxRequest carries the swap transaction signed by the taker.
type SwapFinalizeTxRequest struct {
	MessageHeader
	SwapTx string
}

func (m *SwapFinalizeTxRequest) Header() MessageHeader { return m.MessageHeader }
func (m *SwapFinalizeTxRequest) Kind() MessageKind     { return KindSwapFinalizeTxRequest }
func (m *SwapFinalizeTxRequest) Accept(v MessageVisitor, from NodeAddress) {
	v.VisitSwapFinalizeTxRequest(m, from)
}

type SwapFinalizedTxMessage struct {
	MessageHeader
	SwapTx string
}

func (m *SwapFinalizedTxMessage) Header() MessageHeader { return m.MessageHeader }
func (m *SwapFinalizedTxMessage) Kind() MessageKind     { return KindSwapFinalizedTxMessage }
func (m *SwapFinalizedTxMessage) Accept(v MessageVisitor, from NodeAddress) {
	v.VisitSwapFinalizedTxMessage(m, from)
}

// NewMessage returns an empty message of the given kind, used by decoders.
func NewMessage(kind MessageKind) (TradeMessage, bool) {
	ctor, ok := messageConstructors[kind]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

var messageConstructors = map[MessageKind]func() TradeMessage{
	KindInputsForDepositTxRequest:           func() TradeMessage { return &InputsForDepositTxRequest{} },
	KindInputsForDepositTxResponse:          func() TradeMessage { return &InputsForDepositTxResponse{} },
	KindDepositTxMessage:                    func() TradeMessage { return &DepositTxMessage{} },
	KindDelayedPayoutTxSignatureRequest:     func() TradeMessage { return &DelayedPayoutTxSignatureRequest{} },
	KindDelayedPayoutTxSignatureResponse:    func() TradeMessage { return &DelayedPayoutTxSignatureResponse{} },
	KindDepositTxAndDelayedPayoutTxMessage:  func() TradeMessage { return &DepositTxAndDelayedPayoutTxMessage{} },
	KindShareBuyerPaymentAccountMessage:     func() TradeMessage { return &ShareBuyerPaymentAccountMessage{} },
	KindCounterCurrencyTransferStarted:      func() TradeMessage { return &CounterCurrencyTransferStartedMessage{} },
	KindPayoutTxPublishedMessage:            func() TradeMessage { return &PayoutTxPublishedMessage{} },
	KindMediatedPayoutTxSignatureMessage:    func() TradeMessage { return &MediatedPayoutTxSignatureMessage{} },
	KindMediatedPayoutTxPublishedMessage:    func() TradeMessage { return &MediatedPayoutTxPublishedMessage{} },
	KindPeerPublishedDelayedPayoutTxMessage: func() TradeMessage { return &PeerPublishedDelayedPayoutTxMessage{} },
	KindAckMessage:                          func() TradeMessage { return &AckMessage{} },
	KindSwapRequest:                         func() TradeMessage { return &SwapRequest{} },
	KindSwapTxInputsMessage:                 func() TradeMessage { return &SwapTxInputsMessage{} },
	KindSwapFinalizeTxRequest:               func() TradeMessage { return &SwapFinalizeTxRequest{} },
	KindSwapFinalizedTxMessage:              func() TradeMessage { return &SwapFinalizedTxMessage{} },
}
