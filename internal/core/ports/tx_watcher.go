package ports

// TxWatcher notifies the trade service once a deposit transaction confirms.
type TxWatcher interface {
	WatchDepositTx(tradeID, txID string) error
	StopWatching(txID string)
}
