package crawler

import (
	"sync"
	"time"

	"github.com/p2p-escrow/trade-daemon/pkg/explorer"
	"golang.org/x/time/rate"
)

const (
	eventQueueMaxSize = 100
	errorQueueMaxSize = 10

	defaultInterval   = 5 * time.Second
	defaultLimit      = rate.Limit(10)
	defaultTokenBurst = 1
)

type blockchainCrawler struct {
	interval     time.Duration
	env          observeEnv
	errChan      chan error
	eventChan    chan Event
	observables  map[string]*observableHandler
	errorHandler func(err error)
	mutex        *sync.RWMutex
	wg           *sync.WaitGroup
	quit         chan struct{}
	quitOnce     sync.Once
}

// Opts defines the parameters needed for creating a crawler service with
// NewService method.
type Opts struct {
	ExplorerSvc  explorer.Service
	Interval     time.Duration
	ErrorHandler func(err error)
	// ExplorerLimit is the max number of requests per second sent to the
	// explorer by all observables.
	ExplorerLimit      int
	ExplorerTokenBurst int
	// MinConfirmations is the depth at which a tx is reported as confirmed.
	// Defaults to 1.
	MinConfirmations int
}

// NewService returns a crawler that is ready to watch for blockchain
// activities. Use Start and Stop methods to manage it.
func NewService(opts Opts) Service {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	limit := defaultLimit
	if opts.ExplorerLimit > 0 {
		limit = rate.Limit(opts.ExplorerLimit)
	}
	burst := defaultTokenBurst
	if opts.ExplorerTokenBurst > 0 {
		burst = opts.ExplorerTokenBurst
	}
	minConfirmations := opts.MinConfirmations
	if minConfirmations <= 0 {
		minConfirmations = 1
	}
	errorHandler := opts.ErrorHandler
	if errorHandler == nil {
		errorHandler = func(error) {}
	}

	return &blockchainCrawler{
		interval: interval,
		env: observeEnv{
			explorer:         opts.ExplorerSvc,
			limiter:          rate.NewLimiter(limit, burst),
			minConfirmations: minConfirmations,
		},
		errChan:      make(chan error, errorQueueMaxSize),
		eventChan:    make(chan Event, eventQueueMaxSize),
		observables:  map[string]*observableHandler{},
		errorHandler: errorHandler,
		mutex:        &sync.RWMutex{},
		wg:           &sync.WaitGroup{},
		quit:         make(chan struct{}),
	}
}

// Start forwards observation errors to the error handler until Stop is
// called. It blocks, run it in its own goroutine.
func (bc *blockchainCrawler) Start() {
	for {
		select {
		case err := <-bc.errChan:
			bc.errorHandler(err)
		case <-bc.quit:
			return
		}
	}
}

// Stop stops all observables and emits a QuitEvent.
func (bc *blockchainCrawler) Stop() {
	bc.quitOnce.Do(func() {
		bc.mutex.Lock()
		for key, obsHandler := range bc.observables {
			obsHandler.stop()
			delete(bc.observables, key)
		}
		bc.mutex.Unlock()

		bc.wg.Wait()
		close(bc.quit)
		bc.eventChan <- QuitEvent{}
	})
}

// GetEventChannel returns Event channel which can be used to "listen" to
// blockchain events
func (bc *blockchainCrawler) GetEventChannel() chan Event {
	return bc.eventChan
}

// AddObservable adds new Observable to the list of Observables to be "watched
// over" only if the same Observable is not already in the list
func (bc *blockchainCrawler) AddObservable(observable Observable) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()

	if _, ok := bc.observables[observable.Key()]; ok {
		return
	}

	obsHandler := newObservableHandler(
		observable,
		bc.env,
		bc.wg,
		bc.interval,
		bc.eventChan,
		bc.errChan,
	)
	bc.observables[observable.Key()] = obsHandler
	bc.wg.Add(1)
	go obsHandler.start()
}

// RemoveObservable stops "watching" given Observable
func (bc *blockchainCrawler) RemoveObservable(observable Observable) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()

	if obsHandler, ok := bc.observables[observable.Key()]; ok {
		obsHandler.stop()
		delete(bc.observables, observable.Key())
	}
}

// IsObserving returns whether an observable with the given key is being
// watched.
func (bc *blockchainCrawler) IsObserving(key string) bool {
	bc.mutex.RLock()
	defer bc.mutex.RUnlock()

	_, ok := bc.observables[key]
	return ok
}
