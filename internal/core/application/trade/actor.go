package trade

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/p2p-escrow/trade-daemon/internal/core/application/protocol"
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

// tradeActor serializes every operation on a trade, protocol timers and
// resends included, on a single goroutine. Readers get the last committed
// snapshot without going through the actor.
type tradeActor struct {
	proto    *protocol.Protocol
	snapshot atomic.Value

	lock   sync.Mutex
	queue  []func()
	wakeup chan struct{}
	quit   chan struct{}
	done   chan struct{}
	closed bool
}

func newTradeActor() *tradeActor {
	return &tradeActor{
		wakeup: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (a *tradeActor) start(proto *protocol.Protocol) {
	a.proto = proto
	a.snapshot.Store(proto.Trade())
	go a.run()
}

// post enqueues f without blocking. The queue is unbounded so that two
// actors exchanging messages synchronously can never deadlock.
func (a *tradeActor) post(f func()) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.closed {
		return
	}
	a.queue = append(a.queue, f)
	select {
	case a.wakeup <- struct{}{}:
	default:
	}
}

// do runs f on the actor and waits for its result.
func (a *tradeActor) do(ctx context.Context, f func(p *protocol.Protocol) error) error {
	res := make(chan error, 1)
	a.lock.Lock()
	closed := a.closed
	a.lock.Unlock()
	if closed {
		return ErrTradeNotActive
	}

	a.post(func() { res <- f(a.proto) })

	select {
	case err := <-res:
		return err
	case <-a.done:
		return ErrTradeNotActive
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *tradeActor) trade() *domain.Trade {
	t, _ := a.snapshot.Load().(*domain.Trade)
	return t
}

func (a *tradeActor) setSnapshot(t *domain.Trade) {
	a.snapshot.Store(t)
}

func (a *tradeActor) run() {
	defer close(a.done)

	for {
		select {
		case <-a.wakeup:
			for _, f := range a.drain() {
				f()
			}
		case <-a.quit:
			a.proto.Stop()
			return
		}
	}
}

func (a *tradeActor) drain() []func() {
	a.lock.Lock()
	defer a.lock.Unlock()

	queue := a.queue
	a.queue = nil
	return queue
}

func (a *tradeActor) stop() {
	a.lock.Lock()
	if a.closed {
		a.lock.Unlock()
		return
	}
	a.closed = true
	a.queue = nil
	a.lock.Unlock()

	close(a.quit)
	<-a.done
}
