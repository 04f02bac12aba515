package esplora

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/p2p-escrow/trade-daemon/pkg/explorer"
)

func (e *esplora) GetTransactionHex(hash string) (string, error) {
	url := fmt.Sprintf("%s/tx/%s/hex", e.apiURL, hash)
	status, resp, err := e.client.NewHTTPRequest(http.MethodGet, url, "", nil)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", explorer.ErrTransactionNotFound
	}
	if status != http.StatusOK {
		return "", fmt.Errorf(resp)
	}

	return resp, nil
}

func (e *esplora) IsTransactionConfirmed(hash string) (bool, error) {
	status, err := e.GetTransactionStatus(hash)
	if err != nil {
		return false, err
	}
	return status.Confirmed(), nil
}

func (e *esplora) GetTransactionStatus(hash string) (explorer.TransactionStatus, error) {
	url := fmt.Sprintf("%s/tx/%s/status", e.apiURL, hash)
	status, resp, err := e.client.NewHTTPRequest(http.MethodGet, url, "", nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, explorer.ErrTransactionNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf(resp)
	}

	var txStatus txStatus
	if err := json.Unmarshal([]byte(resp), &txStatus); err != nil {
		return nil, err
	}

	return txStatus, nil
}

func (e *esplora) BroadcastTransaction(txHex string) (string, error) {
	url := fmt.Sprintf("%s/tx", e.apiURL)
	headers := map[string]string{
		"Content-Type": "text/plain",
	}

	status, resp, err := e.client.NewHTTPRequest(http.MethodPost, url, txHex, headers)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("failed to broadcast tx: %s", resp)
	}

	return strings.TrimSpace(resp), nil
}
