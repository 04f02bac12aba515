package explorer

import "errors"

// ErrTransactionNotFound is returned for transactions neither in mempool nor
// in the blockchain.
var ErrTransactionNotFound = errors.New("transaction not found")

// Utxo represents an unspent transaction output in the bitcoin chain.
type Utxo interface {
	Hash() string
	Index() uint32
	Value() uint64
	IsConfirmed() bool
}

// TransactionStatus holds the confirmation info of a transaction.
type TransactionStatus interface {
	Confirmed() bool
	BlockHash() string
	BlockHeight() int
	BlockTime() int
}

// Service is representation of an explorer that allows to fetch data from the
// blockchain and to broadcast transactions.
type Service interface {
	// GetUnspents fetches the utxos of the given address.
	GetUnspents(addr string) ([]Utxo, error)
	// GetUnspentsForAddresses fetches the utxos of the given list of
	// addresses.
	GetUnspentsForAddresses(addresses []string) ([]Utxo, error)
	// GetTransactionHex fetches the transaction in hex format given its hash.
	GetTransactionHex(txid string) (string, error)
	// IsTransactionConfirmed returns whether the tx identified by its hash has
	// been included in the blockchain.
	IsTransactionConfirmed(txid string) (bool, error)
	// GetTransactionStatus returns the status of the tx identified by its hash
	// or ErrTransactionNotFound.
	GetTransactionStatus(txid string) (TransactionStatus, error)
	// BroadcastTransaction attempts to add the given tx in hex format to the
	// mempool and returns its tx hash.
	BroadcastTransaction(txhex string) (string, error)
	// GetBlockHeight returns the the number of block of the blockchain.
	GetBlockHeight() (int, error)
}
