package crawler_test

import (
	"github.com/p2p-escrow/trade-daemon/pkg/explorer"
	"github.com/stretchr/testify/mock"
)

type mockExplorer struct {
	mock.Mock
}

func (m *mockExplorer) GetUnspents(addr string) ([]explorer.Utxo, error) {
	args := m.Called(addr)

	var res []explorer.Utxo
	if a := args.Get(0); a != nil {
		res = a.([]explorer.Utxo)
	}
	return res, args.Error(1)
}

func (m *mockExplorer) GetUnspentsForAddresses(
	addresses []string,
) ([]explorer.Utxo, error) {
	args := m.Called(addresses)

	var res []explorer.Utxo
	if a := args.Get(0); a != nil {
		res = a.([]explorer.Utxo)
	}
	return res, args.Error(1)
}

func (m *mockExplorer) GetTransactionHex(txid string) (string, error) {
	args := m.Called(txid)
	return args.String(0), args.Error(1)
}

func (m *mockExplorer) IsTransactionConfirmed(txid string) (bool, error) {
	args := m.Called(txid)
	return args.Bool(0), args.Error(1)
}

func (m *mockExplorer) GetTransactionStatus(
	txid string,
) (explorer.TransactionStatus, error) {
	args := m.Called(txid)

	var res explorer.TransactionStatus
	if a := args.Get(0); a != nil {
		res = a.(explorer.TransactionStatus)
	}
	return res, args.Error(1)
}

func (m *mockExplorer) BroadcastTransaction(txhex string) (string, error) {
	args := m.Called(txhex)
	return args.String(0), args.Error(1)
}

func (m *mockExplorer) GetBlockHeight() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

type mockTxStatus struct {
	confirmed bool
	height    int
}

func (s mockTxStatus) Confirmed() bool   { return s.confirmed }
func (s mockTxStatus) BlockHash() string { return "" }
func (s mockTxStatus) BlockHeight() int  { return s.height }
func (s mockTxStatus) BlockTime() int    { return 0 }
