package crawler

import (
	"context"

	"github.com/p2p-escrow/trade-daemon/pkg/explorer"
	"golang.org/x/time/rate"
)

// Event are emitted through a channel during observation.
type Event interface {
	Type() EventType
}

// Observable is something whose state on chain is polled by the crawler.
type Observable interface {
	Key() string
	observe(env observeEnv) (Event, error)
}

// observeEnv is shared by all the observables of a crawler.
type observeEnv struct {
	explorer         explorer.Service
	limiter          *rate.Limiter
	minConfirmations int
}

// call waits for the explorer rate limit and runs f.
func (e observeEnv) call(f func(explorer.Service) error) error {
	if err := e.limiter.Wait(context.Background()); err != nil {
		return err
	}
	return f(e.explorer)
}

// Service is the interface for Crawler
type Service interface {
	// Start forwards observation errors to the error handler. It blocks
	// until Stop is called.
	Start()
	Stop()
	AddObservable(observable Observable)
	RemoveObservable(observable Observable)
	IsObserving(key string) bool
	GetEventChannel() chan Event
}
