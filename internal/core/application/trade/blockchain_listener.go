package trade

import (
	"sync"

	"github.com/p2p-escrow/trade-daemon/internal/core/ports"
	"github.com/p2p-escrow/trade-daemon/pkg/crawler"
	log "github.com/sirupsen/logrus"
)

// BlockchainListener watches deposit transactions through the crawler and
// notifies the trade service once they confirm. It implements
// ports.TxWatcher.
type BlockchainListener struct {
	crawlerSvc crawler.Service

	lock          sync.Mutex
	tradesByTxID  map[string]string
	onConfirmed   func(tradeID string)
	listenStarted bool
}

var _ ports.TxWatcher = (*BlockchainListener)(nil)

// NewBlockchainListener returns a listener backed by the given crawler.
func NewBlockchainListener(crawlerSvc crawler.Service) *BlockchainListener {
	return &BlockchainListener{
		crawlerSvc:   crawlerSvc,
		tradesByTxID: make(map[string]string),
	}
}

// ObserveBlockchain starts the crawler and forwards confirmations to the
// given handler, usually Service.OnDepositConfirmed.
func (b *BlockchainListener) ObserveBlockchain(onConfirmed func(tradeID string)) {
	b.lock.Lock()
	b.onConfirmed = onConfirmed
	if b.listenStarted {
		b.lock.Unlock()
		return
	}
	b.listenStarted = true
	b.lock.Unlock()

	go b.crawlerSvc.Start()
	go b.handleBlockchainEvents()
}

// StopObserveBlockchain stops the underlying crawler.
func (b *BlockchainListener) StopObserveBlockchain() {
	b.crawlerSvc.Stop()
}

// WatchDepositTx starts observing the deposit tx of the given trade.
func (b *BlockchainListener) WatchDepositTx(tradeID, txID string) error {
	b.lock.Lock()
	b.tradesByTxID[txID] = tradeID
	b.lock.Unlock()

	b.crawlerSvc.AddObservable(crawler.NewTransactionObservable(txID))
	log.WithField("trade_id", tradeID).Debugf("watching deposit tx %s", txID)
	return nil
}

// StopWatching stops observing the given tx.
func (b *BlockchainListener) StopWatching(txID string) {
	b.lock.Lock()
	delete(b.tradesByTxID, txID)
	b.lock.Unlock()

	b.crawlerSvc.RemoveObservable(crawler.NewTransactionObservable(txID))
}

// IsWatching ...
func (b *BlockchainListener) IsWatching(txID string) bool {
	return b.crawlerSvc.IsObserving(txID)
}

func (b *BlockchainListener) handleBlockchainEvents() {
	for event := range b.crawlerSvc.GetEventChannel() {
		switch e := event.(type) {
		case crawler.QuitEvent:
			return
		case crawler.TransactionEvent:
			if e.EventType != crawler.TransactionConfirmed {
				continue
			}

			b.lock.Lock()
			tradeID, ok := b.tradesByTxID[e.TxID]
			onConfirmed := b.onConfirmed
			b.lock.Unlock()
			if !ok {
				continue
			}

			log.WithField("trade_id", tradeID).Infof(
				"deposit tx %s confirmed in block %d", e.TxID, e.BlockHeight,
			)
			b.StopWatching(e.TxID)
			if onConfirmed != nil {
				onConfirmed(tradeID)
			}
		}
	}
}
