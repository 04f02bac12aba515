package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

var (
	// MaxNumOfFailingRequests ...
	MaxNumOfFailingRequests = 10
	// FailingRatio ...
	FailingRatio = 0.6
	// OpenTimeout is how long a tripped breaker rejects requests before
	// letting a probe through.
	OpenTimeout = 30 * time.Second
)

// NewCircuitBreaker is a factory function returning a *gobreaker.CircuitBreaker
// with a default state-changing function that activates if the overall number
// of failing requests have reached a tweakable MaxNumOfFailingRequests cap and
// the failing ratio has met the FailingRatio.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	if name == "" {
		name = "circuitbreaker"
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return int(counts.Requests) > MaxNumOfFailingRequests && ratio >= FailingRatio
		},
	})
}

// Registry lazily creates one breaker per key, so that a misbehaving peer
// doesn't prevent requests to the others.
type Registry struct {
	lock     sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// Get returns the breaker for the given key.
func (r *Registry) Get(key string) *gobreaker.CircuitBreaker {
	r.lock.Lock()
	defer r.lock.Unlock()

	cb, ok := r.breakers[key]
	if !ok {
		cb = NewCircuitBreaker(key)
		r.breakers[key] = cb
	}
	return cb
}

// Execute runs req through the breaker for the given key.
func (r *Registry) Execute(key string, req func() error) error {
	_, err := r.Get(key).Execute(func() (interface{}, error) {
		return nil, req()
	})
	return err
}
