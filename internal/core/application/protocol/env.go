package protocol

import (
	"context"
	"time"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
	"github.com/raulk/clock"
)

const (
	// DefaultTimeout is how long a step waits for the peer's reply.
	DefaultTimeout = 120 * time.Second
	// DefaultResendInitialDelay ...
	DefaultResendInitialDelay = 30 * time.Second
	// DefaultResendMaxAttempts ...
	DefaultResendMaxAttempts = 5
	// DefaultLockTimeDelay is the delay after which the delayed payout
	// transaction becomes valid.
	DefaultLockTimeDelay = 10 * 24 * time.Hour
)

// TradeStore is the protocol's reference to the trade manager owning it.
type TradeStore interface {
	PersistTrade(ctx context.Context, trade *domain.Trade) error
}

// Config holds the protocol parameters.
type Config struct {
	Timeout            time.Duration
	ResendInitialDelay time.Duration
	ResendMaxAttempts  int
	LockTimeDelay      time.Duration
	DonationAddress    string
	AccountID          string
	PaymentAccount     *domain.PaymentAccountPayload
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ResendInitialDelay <= 0 {
		c.ResendInitialDelay = DefaultResendInitialDelay
	}
	if c.ResendMaxAttempts <= 0 {
		c.ResendMaxAttempts = DefaultResendMaxAttempts
	}
	if c.LockTimeDelay <= 0 {
		c.LockTimeDelay = DefaultLockTimeDelay
	}
	return c
}

// Env is the set of collaborators shared by all the protocol instances.
type Env struct {
	Wallet  ports.Wallet
	P2P     ports.P2PService
	KeyRing ports.KeyRing
	Watcher ports.TxWatcher
	Trades  TradeStore
	Clock   clock.Clock
	Config  Config
}

// Option customizes a protocol instance.
type Option func(p *Protocol)

// WithExecutor makes timers and resends run through the given function, so
// that they're serialized with the other operations on the trade.
func WithExecutor(post func(func())) Option {
	return func(p *Protocol) {
		p.post = post
	}
}

// WithRunnerFactory replaces the default task runner.
func WithRunnerFactory(factory func() TaskRunner) Option {
	return func(p *Protocol) {
		p.newRunner = factory
	}
}

// WithUpdateHandler registers a callback invoked with every new snapshot of
// the trade.
func WithUpdateHandler(handler func(trade *domain.Trade)) Option {
	return func(p *Protocol) {
		p.onUpdate = handler
	}
}
