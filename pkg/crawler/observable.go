package crawler

import (
	"sync"
	"time"

	"github.com/p2p-escrow/trade-daemon/pkg/explorer"
	log "github.com/sirupsen/logrus"
)

const (
	New       Status = "NEW"
	Waiting   Status = "WAITING"
	Processed Status = "PROCESSED"
)

type Status string

type observableStatus struct {
	sync.RWMutex
	status Status
}

func newObservableStatus() *observableStatus {
	return &observableStatus{status: New}
}

func (o *observableStatus) Get() Status {
	o.RLock()
	defer o.RUnlock()
	return o.status
}

func (o *observableStatus) Set(status Status) {
	o.Lock()
	defer o.Unlock()
	o.status = status
}

// TransactionObservable watches the confirmation status of a transaction.
type TransactionObservable struct {
	TxID  string
	TxHex string
}

// NewTransactionObservable returns an observable for the given tx hash.
func NewTransactionObservable(txid string) Observable {
	return &TransactionObservable{TxID: txid}
}

func (t *TransactionObservable) Key() string {
	return t.TxID
}

func (t *TransactionObservable) observe(env observeEnv) (Event, error) {
	var status explorer.TransactionStatus
	if err := env.call(func(svc explorer.Service) (err error) {
		status, err = svc.GetTransactionStatus(t.TxID)
		return
	}); err != nil {
		return nil, err
	}

	confirmations := 0
	if status.Confirmed() {
		confirmations = 1
		// The tip is fetched only when depth matters.
		if env.minConfirmations > 1 {
			var tip int
			if err := env.call(func(svc explorer.Service) (err error) {
				tip, err = svc.GetBlockHeight()
				return
			}); err != nil {
				return nil, err
			}
			if depth := tip - status.BlockHeight() + 1; depth > 0 {
				confirmations = depth
			}
		}
	}

	eventType := TransactionUnconfirmed
	if confirmations > 0 && confirmations >= env.minConfirmations {
		eventType = TransactionConfirmed
		if len(t.TxHex) <= 0 {
			_ = env.call(func(svc explorer.Service) error {
				txHex, err := svc.GetTransactionHex(t.TxID)
				if err == nil {
					t.TxHex = txHex
				}
				return nil
			})
		}
	}

	return TransactionEvent{
		EventType:     eventType,
		TxID:          t.TxID,
		TxHex:         t.TxHex,
		BlockHash:     status.BlockHash(),
		BlockHeight:   status.BlockHeight(),
		BlockTime:     status.BlockTime(),
		Confirmations: confirmations,
	}, nil
}

type observableHandler struct {
	observable       Observable
	env              observeEnv
	wg               *sync.WaitGroup
	ticker           *time.Ticker
	eventChan        chan Event
	errChan          chan error
	stopChan         chan struct{}
	stopOnce         sync.Once
	observableStatus *observableStatus
}

func newObservableHandler(
	observable Observable,
	env observeEnv,
	wg *sync.WaitGroup,
	interval time.Duration,
	eventChan chan Event,
	errChan chan error,
) *observableHandler {
	return &observableHandler{
		observable:       observable,
		env:              env,
		wg:               wg,
		ticker:           time.NewTicker(interval),
		eventChan:        eventChan,
		errChan:          errChan,
		stopChan:         make(chan struct{}),
		observableStatus: newObservableStatus(),
	}
}

// start must be called after wg.Add(1).
func (oh *observableHandler) start() {
	log.Debugf("start observing tx: %v", oh.observable.Key())
	defer oh.wg.Done()

	for {
		select {
		case <-oh.ticker.C:
			if oh.observableStatus.Get() == Waiting {
				continue
			}
			oh.observableStatus.Set(Waiting)
			event, err := oh.observable.observe(oh.env)
			oh.observableStatus.Set(Processed)

			if err != nil {
				select {
				case oh.errChan <- err:
				case <-oh.stopChan:
					return
				}
				continue
			}
			select {
			case oh.eventChan <- event:
			case <-oh.stopChan:
				return
			}
		case <-oh.stopChan:
			return
		}
	}
}

func (oh *observableHandler) stop() {
	oh.stopOnce.Do(func() {
		log.Debugf("stop observing tx: %v", oh.observable.Key())
		oh.ticker.Stop()
		close(oh.stopChan)
	})
}
