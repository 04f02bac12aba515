package ports

import (
	"context"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

// DeliveryOutcome is the result of sending a mailbox message.
type DeliveryOutcome int

const (
	// DeliveryArrived means the peer was online and got the message.
	DeliveryArrived DeliveryOutcome = iota
	// DeliveryStoredInMailbox means the peer was offline and the message was
	// stored for later delivery.
	DeliveryStoredInMailbox
)

func (o DeliveryOutcome) String() string {
	if o == DeliveryArrived {
		return "ARRIVED"
	}
	return "STORED_IN_MAILBOX"
}

// InboundMessage is a message received from a peer.
type InboundMessage struct {
	Message domain.TradeMessage
	From    domain.NodeAddress
	Mailbox bool
}

// InboundHandler is notified of every message received from peers.
type InboundHandler interface {
	OnDirectMessage(msg domain.TradeMessage, from domain.NodeAddress)
	OnMailboxMessage(msg domain.TradeMessage, from domain.NodeAddress)
}

// P2PService defines the methods of the peer to peer network the protocol
// relies on. Direct messages need the peer to be online, mailbox messages are
// stored and forwarded when the peer comes back.
type P2PService interface {
	// Address returns the address other peers reach this node at.
	Address() domain.NodeAddress
	// SendDirect sends the message to an online peer.
	SendDirect(ctx context.Context, peer domain.NodeAddress, msg domain.TradeMessage) error
	// SendMailbox sends the message to the peer or stores it into the peer's
	// mailbox if not reachable.
	SendMailbox(
		ctx context.Context, peer domain.NodeAddress, msg domain.TradeMessage,
	) (DeliveryOutcome, error)
	// RemoveMailboxMessage drops a processed mailbox message.
	RemoveMailboxMessage(ctx context.Context, uid string) error
	// PendingMailboxMessages returns the received mailbox messages that have
	// not been removed yet.
	PendingMailboxMessages(ctx context.Context) ([]InboundMessage, error)
	// RegisterHandler sets the handler for inbound messages.
	RegisterHandler(h InboundHandler)

	Start(ctx context.Context) error
	Stop()
}
