package p2pinmemory

import (
	"sync"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
)

// Hub is an in-process network connecting nodes by address. Mailbox
// messages sent to offline nodes are stored by the hub and forwarded when
// the node comes back online.
type Hub struct {
	lock      *sync.RWMutex
	nodes     map[string]*Node
	mailboxes map[string][]ports.InboundMessage
}

func NewHub() *Hub {
	return &Hub{
		lock:      &sync.RWMutex{},
		nodes:     make(map[string]*Node),
		mailboxes: make(map[string][]ports.InboundMessage),
	}
}

// NewNode registers a new node with the given address. The node stays
// offline until started.
func (h *Hub) NewNode(addr domain.NodeAddress) *Node {
	node := newNode(h, addr)

	h.lock.Lock()
	defer h.lock.Unlock()
	h.nodes[addr.String()] = node
	return node
}

// StoredMessages returns the number of messages waiting in the hub for the
// given offline node.
func (h *Hub) StoredMessages(addr domain.NodeAddress) int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.mailboxes[addr.String()])
}

func (h *Hub) onlineNode(addr domain.NodeAddress) (*Node, bool) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	node, ok := h.nodes[addr.String()]
	if !ok || !node.isOnline() {
		return nil, false
	}
	return node, true
}

func (h *Hub) store(addr domain.NodeAddress, msg ports.InboundMessage) {
	h.lock.Lock()
	defer h.lock.Unlock()

	key := addr.String()
	h.mailboxes[key] = append(h.mailboxes[key], msg)
}

func (h *Hub) takeStored(addr domain.NodeAddress) []ports.InboundMessage {
	h.lock.Lock()
	defer h.lock.Unlock()

	key := addr.String()
	msgs := h.mailboxes[key]
	delete(h.mailboxes, key)
	return msgs
}
