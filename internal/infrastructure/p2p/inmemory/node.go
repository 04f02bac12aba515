package p2pinmemory

import (
	"context"
	"errors"
	"sync"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrPeerOffline is returned when sending a direct message to a peer
	// that is not connected to the hub.
	ErrPeerOffline = errors.New("peer is offline")
	// ErrNodeOffline is returned when the sending node itself is not started.
	ErrNodeOffline = errors.New("node is offline")
	// ErrMailboxMessageNotFound ...
	ErrMailboxMessageNotFound = errors.New("mailbox message not found")
)

// Node is a ports.P2PService attached to a Hub.
type Node struct {
	hub  *Hub
	addr domain.NodeAddress

	lock    *sync.RWMutex
	online  bool
	handler ports.InboundHandler
	inbox   []ports.InboundMessage
}

func newNode(hub *Hub, addr domain.NodeAddress) *Node {
	return &Node{
		hub:  hub,
		addr: addr,
		lock: &sync.RWMutex{},
	}
}

func (n *Node) Address() domain.NodeAddress {
	return n.addr
}

func (n *Node) RegisterHandler(h ports.InboundHandler) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.handler = h
}

// Start brings the node online and delivers the mailbox messages stored by
// the hub in the meantime.
func (n *Node) Start(_ context.Context) error {
	n.lock.Lock()
	n.online = true
	n.lock.Unlock()

	for _, msg := range n.hub.takeStored(n.addr) {
		n.receiveMailbox(msg)
	}
	return nil
}

// Stop takes the node offline. Received mailbox messages not yet removed are
// kept.
func (n *Node) Stop() {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.online = false
}

func (n *Node) SendDirect(
	_ context.Context, peer domain.NodeAddress, msg domain.TradeMessage,
) error {
	if !n.isOnline() {
		return ErrNodeOffline
	}
	node, ok := n.hub.onlineNode(peer)
	if !ok {
		return ErrPeerOffline
	}
	node.receiveDirect(ports.InboundMessage{Message: msg, From: n.addr})
	return nil
}

func (n *Node) SendMailbox(
	_ context.Context, peer domain.NodeAddress, msg domain.TradeMessage,
) (ports.DeliveryOutcome, error) {
	if !n.isOnline() {
		return 0, ErrNodeOffline
	}

	in := ports.InboundMessage{Message: msg, From: n.addr, Mailbox: true}
	node, ok := n.hub.onlineNode(peer)
	if !ok {
		n.hub.store(peer, in)
		log.WithField("peer", peer.String()).Debugf(
			"peer offline, %s stored in mailbox", msg.Kind(),
		)
		return ports.DeliveryStoredInMailbox, nil
	}
	node.receiveMailbox(in)
	return ports.DeliveryArrived, nil
}

func (n *Node) RemoveMailboxMessage(_ context.Context, uid string) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	for i, msg := range n.inbox {
		if msg.Message.Header().UID == uid {
			n.inbox = append(n.inbox[:i], n.inbox[i+1:]...)
			return nil
		}
	}
	return ErrMailboxMessageNotFound
}

func (n *Node) PendingMailboxMessages(_ context.Context) ([]ports.InboundMessage, error) {
	n.lock.RLock()
	defer n.lock.RUnlock()

	msgs := make([]ports.InboundMessage, len(n.inbox))
	copy(msgs, n.inbox)
	return msgs, nil
}

func (n *Node) isOnline() bool {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return n.online
}

func (n *Node) receiveDirect(msg ports.InboundMessage) {
	n.lock.RLock()
	handler := n.handler
	n.lock.RUnlock()

	if handler == nil {
		log.WithField("node", n.addr.String()).Debugf(
			"no handler registered, dropping %s", msg.Message.Kind(),
		)
		return
	}
	handler.OnDirectMessage(msg.Message, msg.From)
}

// receiveMailbox keeps the message in the inbox until the handler removes
// it, so that it survives a restart of the handler.
func (n *Node) receiveMailbox(msg ports.InboundMessage) {
	n.lock.Lock()
	uid := msg.Message.Header().UID
	for _, m := range n.inbox {
		if m.Message.Header().UID == uid {
			n.lock.Unlock()
			return
		}
	}
	n.inbox = append(n.inbox, msg)
	handler := n.handler
	n.lock.Unlock()

	if handler != nil {
		handler.OnMailboxMessage(msg.Message, msg.From)
	}
}
