package httputil

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a thin wrapper of http.Client returning status code and body of
// every response as string.
type Client struct {
	client *http.Client
}

// NewClient returns a client whose requests time out after the given duration.
func NewClient(timeout time.Duration) *Client {
	return &Client{&http.Client{Timeout: timeout}}
}

// NewHTTPRequest function builds http call
// @param method <string>: http method
// @param url <string>: URL http to call
// @return <int>, <string>, error
func (c *Client) NewHTTPRequest(
	method, url, bodyString string, header map[string]string,
) (int, string, error) {
	switch method {
	case http.MethodGet, http.MethodDelete:
		return c.do(method, url, nil, header)
	case http.MethodPost:
		return c.do(method, url, strings.NewReader(bodyString), header)
	default:
		return 0, "", fmt.Errorf("verb not supported %s", method)
	}
}

func (c *Client) do(
	method, url string, body io.Reader, header map[string]string,
) (int, string, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return 0, "", err
	}
	for key, value := range header {
		req.Header.Set(key, value)
	}

	rs, err := c.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer rs.Body.Close()

	bodyBytes, err := io.ReadAll(rs.Body)
	if err != nil {
		return 0, "", err
	}
	return rs.StatusCode, string(bodyBytes), nil
}
