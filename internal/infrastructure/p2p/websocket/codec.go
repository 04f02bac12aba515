package p2pwebsocket

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
)

// envelope is the frame exchanged by peers. The payload is the JSON encoding
// of the trade message of the given kind.
type envelope struct {
	Kind    domain.MessageKind `json:"kind"`
	From    string             `json:"from"`
	Mailbox bool               `json:"mailbox,omitempty"`
	Payload json.RawMessage    `json:"payload"`
}

// receipt is the reply to every envelope.
type receipt struct {
	UID   string `json:"uid"`
	Error string `json:"error,omitempty"`
}

func encodeMessage(
	msg domain.TradeMessage, from domain.NodeAddress, mailbox bool,
) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Kind(), err)
	}
	return json.Marshal(envelope{
		Kind:    msg.Kind(),
		From:    from.String(),
		Mailbox: mailbox,
		Payload: payload,
	})
}

func decodeMessage(buf []byte) (ports.InboundMessage, error) {
	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return ports.InboundMessage{}, fmt.Errorf("malformed envelope: %w", err)
	}

	msg, ok := domain.NewMessage(env.Kind)
	if !ok {
		return ports.InboundMessage{}, fmt.Errorf("%w: %s", ErrUnknownKind, env.Kind)
	}
	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return ports.InboundMessage{}, fmt.Errorf(
			"malformed %s payload: %w", env.Kind, err,
		)
	}
	if msg.Header().UID == "" {
		return ports.InboundMessage{}, ErrMissingUID
	}

	from, err := ParseNodeAddress(env.From)
	if err != nil {
		return ports.InboundMessage{}, err
	}

	return ports.InboundMessage{Message: msg, From: from, Mailbox: env.Mailbox}, nil
}

// ParseNodeAddress parses a <host:port> string.
func ParseNodeAddress(addr string) (domain.NodeAddress, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return domain.NodeAddress{}, fmt.Errorf("invalid node address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return domain.NodeAddress{}, fmt.Errorf("invalid port in node address %q", addr)
	}
	return domain.NodeAddress{Host: host, Port: port}, nil
}
