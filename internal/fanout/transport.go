package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Aman-CERP/kvsearch/internal/cluster"
	"github.com/Aman-CERP/kvsearch/internal/config"
)

// HTTPTransport sends shard requests as JSON over HTTP. All cluster
// communication shares one client so connection pooling and timeouts
// apply uniformly.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport builds the transport with the RPC timeout from config.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{
		Client: &http.Client{
			Timeout: time.Duration(config.InfoRPCTimeoutMs.Get()) * time.Millisecond,
		},
	}
}

// Search implements Transport.
func (t *HTTPTransport) Search(ctx context.Context, target *cluster.NodeInfo, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("http://%s/internal/search", target.Address.String())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("shard %s: unexpected status %d", target.Address, httpResp.StatusCode)
	}
	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
