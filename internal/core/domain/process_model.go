package domain

// RawInput is a transaction input contributed by a trader together with the
// data needed to sign over it.
type RawInput struct {
	TxID     string
	Vout     uint32
	Value    int64
	PkScript []byte
}

// DeliveryState tracks the outcome of sending a protocol message.
type DeliveryState int

const (
	DeliveryUndefined DeliveryState = iota
	DeliverySent
	DeliveryArrived
	DeliveryStoredInMailbox
	DeliveryFailed
	DeliveryAcked
	DeliveryNacked
)

func (d DeliveryState) String() string {
	switch d {
	case DeliverySent:
		return "SENT"
	case DeliveryArrived:
		return "ARRIVED"
	case DeliveryStoredInMailbox:
		return "STORED_IN_MAILBOX"
	case DeliveryFailed:
		return "FAILED"
	case DeliveryAcked:
		return "ACKNOWLEDGED"
	case DeliveryNacked:
		return "NACKED"
	default:
		return "UNDEFINED"
	}
}

// AckTracker records an outbound message waiting for the peer's ack.
type AckTracker struct {
	UID          string
	Kind         MessageKind
	Mailbox      bool
	SentAt       int64
	Attempts     int
	Acked        bool
	Success      bool
	ErrorMessage string
}

// TradingPeer holds what the local trader knows about the counterparty.
type TradingPeer struct {
	NodeAddress               NodeAddress
	PubKeyRing                PubKeyRing
	AccountID                 string
	PaymentAccountPayload     *PaymentAccountPayload
	PaymentAccountPayloadHash []byte
	MultisigPubKey            []byte
	PayoutAddress             string
	ChangeAddress             string
	RawInputs                 []RawInput
	FeeTxID                   string
	ContractSignature         []byte
	DelayedPayoutTxSignature  []byte
	PayoutTxSignature         []byte
	MediatedPayoutTxSignature []byte
	SignedDepositTx           string
	CounterCurrencyTxID       string
}

// ProcessModel is the per-trade working memory of the protocol.
type ProcessModel struct {
	OfferID                     string
	AccountID                   string
	MyNodeAddress               NodeAddress
	MyPubKeyRing                PubKeyRing
	MyMultisigPubKey            []byte
	MyPayoutAddress             string
	MyChangeAddress             string
	MyRawInputs                 []RawInput
	MyPaymentAccountPayload     *PaymentAccountPayload
	TakerFeeTx                  string
	TakerFeeTxPublished         bool
	PreparedDepositTx           string
	PreparedDelayedPayoutTx     string
	PreparedPayoutTx            string
	PreparedSwapTx              string
	MyDelayedPayoutTxSignature  []byte
	MyPayoutTxSignature         []byte
	MyMediatedPayoutTxSignature []byte
	CounterCurrencyTxID         string
	Peer                        TradingPeer
	Acks                        map[string]AckTracker
	Deliveries                  map[MessageKind]DeliveryState
}

// AddAck starts tracking an outbound message.
func (p *ProcessModel) AddAck(ack AckTracker) {
	if p.Acks == nil {
		p.Acks = make(map[string]AckTracker)
	}
	p.Acks[ack.UID] = ack
}

// ResolveAck marks the tracked message as acknowledged. It returns false if
// the uid is unknown or was already acknowledged.
func (p *ProcessModel) ResolveAck(uid string, success bool, errMsg string) (AckTracker, bool) {
	ack, ok := p.Acks[uid]
	if !ok || ack.Acked {
		return ack, false
	}
	ack.Acked = true
	ack.Success = success
	ack.ErrorMessage = errMsg
	p.Acks[uid] = ack
	return ack, true
}

// PendingAcks returns the mailbox messages still waiting for an ack.
func (p *ProcessModel) PendingAcks() []AckTracker {
	pending := make([]AckTracker, 0)
	for _, ack := range p.Acks {
		if !ack.Acked {
			pending = append(pending, ack)
		}
	}
	return pending
}

// SetDelivery ...
func (p *ProcessModel) SetDelivery(kind MessageKind, state DeliveryState) {
	if p.Deliveries == nil {
		p.Deliveries = make(map[MessageKind]DeliveryState)
	}
	p.Deliveries[kind] = state
}

// Delivery ...
func (p *ProcessModel) Delivery(kind MessageKind) DeliveryState {
	return p.Deliveries[kind]
}

func (p ProcessModel) clone() ProcessModel {
	c := p
	c.MyMultisigPubKey = cloneBytes(p.MyMultisigPubKey)
	c.MyPubKeyRing = PubKeyRing{cloneBytes(p.MyPubKeyRing.SignaturePubKey)}
	c.MyRawInputs = cloneInputs(p.MyRawInputs)
	c.MyPaymentAccountPayload = clonePayload(p.MyPaymentAccountPayload)
	c.MyDelayedPayoutTxSignature = cloneBytes(p.MyDelayedPayoutTxSignature)
	c.MyPayoutTxSignature = cloneBytes(p.MyPayoutTxSignature)
	c.MyMediatedPayoutTxSignature = cloneBytes(p.MyMediatedPayoutTxSignature)
	c.Peer = p.Peer.clone()
	if p.Acks != nil {
		c.Acks = make(map[string]AckTracker, len(p.Acks))
		for k, v := range p.Acks {
			c.Acks[k] = v
		}
	}
	if p.Deliveries != nil {
		c.Deliveries = make(map[MessageKind]DeliveryState, len(p.Deliveries))
		for k, v := range p.Deliveries {
			c.Deliveries[k] = v
		}
	}
	return c
}

func (p TradingPeer) clone() TradingPeer {
	c := p
	c.PubKeyRing = PubKeyRing{cloneBytes(p.PubKeyRing.SignaturePubKey)}
	c.PaymentAccountPayload = clonePayload(p.PaymentAccountPayload)
	c.PaymentAccountPayloadHash = cloneBytes(p.PaymentAccountPayloadHash)
	c.MultisigPubKey = cloneBytes(p.MultisigPubKey)
	c.RawInputs = cloneInputs(p.RawInputs)
	c.ContractSignature = cloneBytes(p.ContractSignature)
	c.DelayedPayoutTxSignature = cloneBytes(p.DelayedPayoutTxSignature)
	c.PayoutTxSignature = cloneBytes(p.PayoutTxSignature)
	c.MediatedPayoutTxSignature = cloneBytes(p.MediatedPayoutTxSignature)
	return c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

func cloneInputs(in []RawInput) []RawInput {
	if in == nil {
		return nil
	}
	out := make([]RawInput, 0, len(in))
	for _, i := range in {
		i.PkScript = cloneBytes(i.PkScript)
		out = append(out, i)
	}
	return out
}

func clonePayload(p *PaymentAccountPayload) *PaymentAccountPayload {
	if p == nil {
		return nil
	}
	c := *p
	if p.Details != nil {
		c.Details = make(map[string]string, len(p.Details))
		for k, v := range p.Details {
			c.Details[k] = v
		}
	}
	return &c
}
