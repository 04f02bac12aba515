package p2pwebsocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
	"github.com/p2p-escrow/trade-daemon/pkg/circuitbreaker"
	"github.com/raulk/clock"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"
)

const (
	endpointPath = "/p2p"

	defaultDialTimeout   = 10 * time.Second
	defaultFlushInterval = 30 * time.Second
	defaultFlushRate     = 10
	maxMessageSize       = 1 << 20
)

// Opts ...
type Opts struct {
	// ListenAddr is the <host:port> the server binds to. Port 0 picks a free
	// one.
	ListenAddr string
	// PublicAddr is advertised to peers, defaults to the bound address.
	PublicAddr string
	// Store persists the mailbox.
	Store *badgerhold.Store
	// FlushInterval is how often stored messages are retried.
	FlushInterval time.Duration
	// FlushRate caps the number of stored messages sent per second to a
	// single peer.
	FlushRate   int
	DialTimeout time.Duration
	Clock       clock.Clock
}

func (o Opts) validate() error {
	if o.ListenAddr == "" {
		return fmt.Errorf("missing listen address")
	}
	if o.Store == nil {
		return fmt.Errorf("missing mailbox store")
	}
	if o.PublicAddr != "" {
		if _, err := ParseNodeAddress(o.PublicAddr); err != nil {
			return err
		}
	}
	return nil
}

// Service is a ports.P2PService where every node is both a websocket server
// and a client of its peers. Every message is a single envelope answered by
// a receipt. Peers that can't be reached get their mailbox messages stored in
// a local outbox that is flushed periodically.
type Service struct {
	opts     Opts
	mailbox  mailboxStore
	breakers *circuitbreaker.Registry
	dialer   *websocket.Dialer
	upgrader websocket.Upgrader
	clock    clock.Clock

	lock     *sync.RWMutex
	addr     domain.NodeAddress
	handler  ports.InboundHandler
	listener net.Listener
	server   *http.Server
	quit     chan struct{}
	wg       *sync.WaitGroup
	started  bool
	lastSeq  int64
	flushMtx *sync.Mutex
}

func NewService(opts Opts) (*Service, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.FlushRate <= 0 {
		opts.FlushRate = defaultFlushRate
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	var addr domain.NodeAddress
	if opts.PublicAddr != "" {
		addr, _ = ParseNodeAddress(opts.PublicAddr)
	}

	return &Service{
		opts:     opts,
		mailbox:  mailboxStore{opts.Store},
		breakers: circuitbreaker.NewRegistry(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.DialTimeout,
		},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clock:    clk,
		lock:     &sync.RWMutex{},
		addr:     addr,
		wg:       &sync.WaitGroup{},
		flushMtx: &sync.Mutex{},
	}, nil
}

func (s *Service) Address() domain.NodeAddress {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.addr
}

func (s *Service) RegisterHandler(h ports.InboundHandler) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.handler = h
}

// Start binds the server and starts flushing the outbox.
func (s *Service) Start(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.started {
		return nil
	}

	listener, err := net.Listen("tcp", s.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.ListenAddr, err)
	}
	if s.addr.IsEmpty() {
		addr, err := ParseNodeAddress(listener.Addr().String())
		if err != nil {
			listener.Close()
			return err
		}
		s.addr = addr
	}

	mux := http.NewServeMux()
	mux.HandleFunc(endpointPath, s.handleConn)
	s.server = &http.Server{Handler: mux}
	s.listener = listener
	s.quit = make(chan struct{})
	s.started = true

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(listener); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("p2p server stopped unexpectedly")
		}
	}()
	go func() {
		defer s.wg.Done()
		s.flushLoop()
	}()

	log.Infof("p2p service listening on %s", listener.Addr())
	return nil
}

func (s *Service) Stop() {
	s.lock.Lock()
	if !s.started {
		s.lock.Unlock()
		return
	}
	s.started = false
	close(s.quit)
	server := s.server
	s.lock.Unlock()

	if err := server.Close(); err != nil {
		log.WithError(err).Warn("failed to close p2p server")
	}
	s.wg.Wait()
	log.Debug("p2p service stopped")
}

func (s *Service) SendDirect(
	ctx context.Context, peer domain.NodeAddress, msg domain.TradeMessage,
) error {
	if !s.isStarted() {
		return ErrNotStarted
	}
	buf, err := encodeMessage(msg, s.Address(), false)
	if err != nil {
		return err
	}
	return s.deliver(ctx, peer.String(), buf)
}

// SendMailbox delivers the message if the peer is reachable, otherwise it
// stores it into the outbox.
func (s *Service) SendMailbox(
	ctx context.Context, peer domain.NodeAddress, msg domain.TradeMessage,
) (ports.DeliveryOutcome, error) {
	if !s.isStarted() {
		return 0, ErrNotStarted
	}
	buf, err := encodeMessage(msg, s.Address(), true)
	if err != nil {
		return 0, err
	}

	err = s.deliver(ctx, peer.String(), buf)
	if err == nil {
		return ports.DeliveryArrived, nil
	}
	if errors.Is(err, ErrRejected) {
		return 0, err
	}

	log.WithError(err).WithField("peer", peer.String()).Debugf(
		"peer unreachable, storing %s in mailbox", msg.Kind(),
	)
	if err := s.mailbox.addOutbox(outboxMessage{
		Peer:      peer.String(),
		UID:       msg.Header().UID,
		Envelope:  buf,
		CreatedAt: s.nextSeq(),
	}); err != nil {
		return 0, fmt.Errorf("failed to store mailbox message: %w", err)
	}
	return ports.DeliveryStoredInMailbox, nil
}

func (s *Service) RemoveMailboxMessage(_ context.Context, uid string) error {
	return s.mailbox.removeInbox(uid)
}

func (s *Service) PendingMailboxMessages(_ context.Context) ([]ports.InboundMessage, error) {
	stored, err := s.mailbox.listInbox()
	if err != nil {
		return nil, err
	}

	msgs := make([]ports.InboundMessage, 0, len(stored))
	for _, m := range stored {
		in, err := decodeMessage(m.Envelope)
		if err != nil {
			log.WithError(err).WithField("uid", m.UID).Warn(
				"dropping undecodable mailbox message",
			)
			//nolint
			s.mailbox.removeInbox(m.UID)
			continue
		}
		msgs = append(msgs, in)
	}
	return msgs, nil
}

// OutboxSize returns the number of messages waiting for their peer.
func (s *Service) OutboxSize() (int, error) {
	return s.mailbox.countOutbox()
}

// FlushOutbox tries to deliver every stored message. Peers are flushed in
// parallel, messages for the same peer in order.
func (s *Service) FlushOutbox(ctx context.Context) error {
	s.flushMtx.Lock()
	defer s.flushMtx.Unlock()

	byPeer, err := s.mailbox.listOutbox()
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	for peer, msgs := range byPeer {
		peer, msgs := peer, msgs
		eg.Go(func() error {
			return s.flushPeer(ctx, peer, msgs)
		})
	}
	return eg.Wait()
}

func (s *Service) flushPeer(
	ctx context.Context, peer string, msgs []outboxMessage,
) error {
	limiter := ratelimit.New(s.opts.FlushRate)
	logger := log.WithField("peer", peer)

	for _, m := range msgs {
		limiter.Take()

		if err := s.deliver(ctx, peer, m.Envelope); err != nil {
			if errors.Is(err, ErrRejected) {
				logger.WithError(err).Warnf("dropping mailbox message %s", m.UID)
				if err := s.mailbox.removeOutbox(m.Key); err != nil {
					return err
				}
				continue
			}
			m.Attempts++
			if err := s.mailbox.updateOutbox(m); err != nil {
				return err
			}
			// Keep ordering, retry the rest at next flush.
			logger.WithError(err).Debugf(
				"peer still unreachable, %d messages left", len(msgs),
			)
			return nil
		}

		if err := s.mailbox.removeOutbox(m.Key); err != nil {
			return err
		}
		logger.Debugf("mailbox message %s delivered", m.UID)
	}
	return nil
}

func (s *Service) flushLoop() {
	ticker := s.clock.Ticker(s.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(
				context.Background(), s.opts.FlushInterval,
			)
			if err := s.FlushOutbox(ctx); err != nil {
				log.WithError(err).Warn("failed to flush mailbox")
			}
			cancel()
		}
	}
}

// deliver sends the envelope through the peer's breaker and waits for the
// receipt.
func (s *Service) deliver(ctx context.Context, peer string, buf []byte) error {
	return s.breakers.Execute(peer, func() error {
		return s.roundTrip(ctx, peer, buf)
	})
}

func (s *Service) roundTrip(ctx context.Context, peer string, buf []byte) error {
	url := fmt.Sprintf("ws://%s%s", peer, endpointPath)
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(s.opts.DialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	//nolint
	conn.SetWriteDeadline(deadline)
	//nolint
	conn.SetReadDeadline(deadline)

	if err := conn.WriteMessage(websocket.TextMessage, buf); err != nil {
		return err
	}

	var rcpt receipt
	if err := conn.ReadJSON(&rcpt); err != nil {
		return err
	}
	if rcpt.Error != "" {
		return fmt.Errorf("%w: %s", ErrRejected, rcpt.Error)
	}

	//nolint
	conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	return nil
}

func (s *Service) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("failed to upgrade p2p connection")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	for {
		_, buf, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
			) {
				log.WithError(err).Debug("p2p connection closed")
			}
			return
		}

		rcpt := s.receive(buf)
		if err := conn.WriteJSON(rcpt); err != nil {
			log.WithError(err).Debug("failed to write receipt")
			return
		}
	}
}

// receive decodes the envelope and hands the message over to the handler.
// Mailbox messages are stored before being handled and acknowledged, so a
// crash in between makes them replay at restart.
func (s *Service) receive(buf []byte) receipt {
	in, err := decodeMessage(buf)
	if err != nil {
		log.WithError(err).Debug("rejecting malformed envelope")
		return receipt{Error: err.Error()}
	}
	uid := in.Message.Header().UID
	logger := log.WithFields(log.Fields{
		"trade_id": in.Message.Header().TradeID,
		"kind":     in.Message.Kind(),
		"uid":      uid,
	})

	s.lock.RLock()
	handler := s.handler
	s.lock.RUnlock()

	if !in.Mailbox {
		if handler == nil {
			logger.Debug("no handler registered, dropping message")
			return receipt{UID: uid, Error: "peer not ready"}
		}
		handler.OnDirectMessage(in.Message, in.From)
		return receipt{UID: uid}
	}

	isNew, err := s.mailbox.addInbox(inboxMessage{
		UID:        uid,
		Envelope:   buf,
		ReceivedAt: s.nextSeq(),
	})
	if err != nil {
		logger.WithError(err).Warn("failed to store mailbox message")
		return receipt{UID: uid, Error: "internal error"}
	}
	if !isNew {
		logger.Debug("mailbox message already received")
		return receipt{UID: uid}
	}
	if handler != nil {
		handler.OnMailboxMessage(in.Message, in.From)
	}
	return receipt{UID: uid}
}

func (s *Service) isStarted() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.started
}

// nextSeq returns a strictly increasing timestamp used to order the stored
// messages.
func (s *Service) nextSeq() int64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	now := s.clock.Now().UnixNano()
	if now <= s.lastSeq {
		now = s.lastSeq + 1
	}
	s.lastSeq = now
	return now
}
