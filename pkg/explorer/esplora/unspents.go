package esplora

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/p2p-escrow/trade-daemon/pkg/explorer"
	"golang.org/x/sync/errgroup"
)

func (e *esplora) GetUnspents(addr string) ([]explorer.Utxo, error) {
	url := fmt.Sprintf("%s/address/%s/utxo", e.apiURL, addr)
	status, resp, err := e.client.NewHTTPRequest(http.MethodGet, url, "", nil)
	if err != nil {
		return nil, fmt.Errorf("error on retrieving utxos: %s", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf(resp)
	}

	var witnessOuts []witnessUtxo
	if err := json.Unmarshal([]byte(resp), &witnessOuts); err != nil {
		return nil, fmt.Errorf("error on retrieving utxos: %s", err)
	}

	unspents := make([]explorer.Utxo, 0, len(witnessOuts))
	for _, out := range witnessOuts {
		unspents = append(unspents, out)
	}
	return unspents, nil
}

func (e *esplora) GetUnspentsForAddresses(addresses []string) ([]explorer.Utxo, error) {
	var (
		lock     sync.Mutex
		unspents = make([]explorer.Utxo, 0)
		eg       errgroup.Group
	)

	for i := range addresses {
		addr := addresses[i]
		eg.Go(func() error {
			utxos, err := e.GetUnspents(addr)
			if err != nil {
				return err
			}
			lock.Lock()
			unspents = append(unspents, utxos...)
			lock.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return unspents, nil
}
