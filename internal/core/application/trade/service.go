package trade

import (
	"context"
	"fmt"
	"sync"

	"github.com/p2p-escrow/trade-daemon/internal/core/application/protocol"
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
	"github.com/raulk/clock"
	log "github.com/sirupsen/logrus"
)

// Config holds the parameters of the trade service.
type Config struct {
	Protocol protocol.Config
	// TxFee is the miner fee, in sats, reserved for deposit and payout txs.
	TxFee int64
	// TakerFee and MakerFee are the trading fees, in sats, paid when taking
	// and placing an offer.
	TakerFee int64
	MakerFee int64
}

func (c Config) validate() error {
	if c.TxFee <= 0 {
		return fmt.Errorf("tx fee must be positive")
	}
	if c.TakerFee <= 0 || c.MakerFee <= 0 {
		return fmt.Errorf("trading fees must be positive")
	}
	if c.Protocol.DonationAddress == "" {
		return fmt.Errorf("missing donation address")
	}
	return nil
}

// Service manages the trades of the local trader: it creates them, runs a
// protocol instance for each pending one and routes peer messages and user
// actions to it.
type Service struct {
	repoManager ports.RepoManager
	wallet      ports.Wallet
	p2p         ports.P2PService
	keyRing     ports.KeyRing
	watcher     ports.TxWatcher
	clock       clock.Clock
	cfg         Config

	lock    sync.RWMutex
	actors  map[string]*tradeActor
	stopped bool

	// offerLock serializes the consumption of open offers.
	offerLock sync.Mutex
}

// NewService returns a trade service. Call Start to resume the pending trades
// and begin handling peer messages.
func NewService(
	repoManager ports.RepoManager,
	wallet ports.Wallet,
	p2p ports.P2PService,
	keyRing ports.KeyRing,
	watcher ports.TxWatcher,
	clk clock.Clock,
	cfg Config,
) (*Service, error) {
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if wallet == nil {
		return nil, fmt.Errorf("missing wallet")
	}
	if p2p == nil {
		return nil, fmt.Errorf("missing p2p service")
	}
	if keyRing == nil {
		return nil, fmt.Errorf("missing key ring")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Service{
		repoManager: repoManager,
		wallet:      wallet,
		p2p:         p2p,
		keyRing:     keyRing,
		watcher:     watcher,
		clock:       clk,
		cfg:         cfg,
		actors:      make(map[string]*tradeActor),
	}, nil
}

// Start registers the service as handler of inbound peer messages, resumes
// the protocol of every pending trade and replays the mailbox messages
// received while the daemon was offline.
func (s *Service) Start(ctx context.Context) error {
	s.p2p.RegisterHandler(s)

	trades, err := s.repoManager.TradeRepository().GetPendingTrades(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending trades: %w", err)
	}

	for _, trade := range trades {
		trade := trade
		actor := s.spawn(trade)
		if actor == nil {
			return ErrServiceStopped
		}
		actor.post(func() {
			if err := actor.proto.OnInitialized(context.Background()); err != nil {
				log.WithError(err).WithField("trade_id", trade.ID).
					Warn("failed to resume trade")
			}
		})
	}
	log.Infof("resumed %d pending trades", len(trades))

	msgs, err := s.p2p.PendingMailboxMessages(ctx)
	if err != nil {
		return fmt.Errorf("failed to load mailbox messages: %w", err)
	}
	for _, m := range msgs {
		s.OnMailboxMessage(m.Message, m.From)
	}
	return nil
}

// Stop stops all the running protocol instances.
func (s *Service) Stop() {
	s.lock.Lock()
	actors := s.actors
	s.actors = make(map[string]*tradeActor)
	s.stopped = true
	s.lock.Unlock()

	for _, actor := range actors {
		actor.stop()
	}
	log.Debug("trade service stopped")
}

// PersistTrade implements protocol.TradeStore.
func (s *Service) PersistTrade(ctx context.Context, trade *domain.Trade) error {
	return s.repoManager.TradeRepository().UpdateTrade(
		ctx, trade.ID, func(_ *domain.Trade) (*domain.Trade, error) {
			return trade, nil
		},
	)
}

// GetTrade returns the last snapshot of the given trade.
func (s *Service) GetTrade(ctx context.Context, tradeID string) (*domain.Trade, error) {
	if actor, ok := s.getActor(tradeID); ok {
		return actor.trade().Clone(), nil
	}
	return s.repoManager.TradeRepository().GetTrade(ctx, tradeID)
}

// ListTrades returns all the trades, pending or not.
func (s *Service) ListTrades(ctx context.Context) ([]*domain.Trade, error) {
	trades, err := s.repoManager.TradeRepository().GetAllTrades(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to list trades")
		return nil, ErrServiceUnavailable
	}
	for i, t := range trades {
		if actor, ok := s.getActor(t.ID); ok {
			trades[i] = actor.trade().Clone()
		}
	}
	return trades, nil
}

func (s *Service) newProtocol(trade *domain.Trade, actor *tradeActor) *protocol.Protocol {
	env := protocol.Env{
		Wallet:  s.wallet,
		P2P:     s.p2p,
		KeyRing: s.keyRing,
		Watcher: s.watcher,
		Trades:  s,
		Clock:   s.clock,
		Config:  s.cfg.Protocol,
	}
	return protocol.New(
		trade, env,
		protocol.WithExecutor(actor.post),
		protocol.WithUpdateHandler(actor.setSnapshot),
	)
}

// spawn starts the actor of the given trade, or returns the running one. It
// returns nil once the service is stopped.
func (s *Service) spawn(trade *domain.Trade) *tradeActor {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.stopped {
		return nil
	}
	if actor, ok := s.actors[trade.ID]; ok {
		return actor
	}
	actor := newTradeActor()
	actor.start(s.newProtocol(trade, actor))
	s.actors[trade.ID] = actor
	return actor
}

func (s *Service) getActor(tradeID string) (*tradeActor, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	actor, ok := s.actors[tradeID]
	return actor, ok
}

func (s *Service) removeActor(tradeID string) {
	s.lock.Lock()
	actor, ok := s.actors[tradeID]
	delete(s.actors, tradeID)
	s.lock.Unlock()

	if ok {
		actor.stop()
	}
}

func (s *Service) isStopped() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.stopped
}

// withActor runs f on the actor of the given trade. Failed trades are not
// resumed on startup, their actor is started here on first use.
func (s *Service) withActor(
	ctx context.Context, tradeID string, f func(p *protocol.Protocol) error,
) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	actor, ok := s.getActor(tradeID)
	if !ok {
		trade, err := s.repoManager.TradeRepository().GetTrade(ctx, tradeID)
		if err != nil {
			return err
		}
		if trade.Phase == domain.PhaseWithdrawn {
			return ErrTradeNotActive
		}
		if actor = s.spawn(trade); actor == nil {
			return ErrServiceStopped
		}
	}
	return actor.do(ctx, f)
}
