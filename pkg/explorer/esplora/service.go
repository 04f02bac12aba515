package esplora

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/p2p-escrow/trade-daemon/pkg/explorer"
	"github.com/p2p-escrow/trade-daemon/pkg/httputil"
)

const defaultRequestTimeout = 15 * time.Second

type esplora struct {
	apiURL string
	client *httputil.Client
}

// NewService returns a new esplora service as an explorer.Service interface
func NewService(apiURL string, requestTimeout time.Duration) (explorer.Service, error) {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	service := &esplora{
		apiURL: strings.TrimSuffix(apiURL, "/"),
		client: httputil.NewClient(requestTimeout),
	}

	if err := service.healthCheck(); err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}

	return service, nil
}

func (e *esplora) healthCheck() error {
	_, err := e.GetBlockHeight()
	return err
}

func (e *esplora) GetBlockHeight() (int, error) {
	url := fmt.Sprintf("%s/blocks/tip/height", e.apiURL)
	status, resp, err := e.client.NewHTTPRequest(http.MethodGet, url, "", nil)
	if err != nil {
		return -1, err
	}
	if status != http.StatusOK {
		return -1, fmt.Errorf(resp)
	}

	var height int
	if _, err := fmt.Sscan(resp, &height); err != nil {
		return -1, fmt.Errorf("invalid block height %q: %w", resp, err)
	}
	return height, nil
}
