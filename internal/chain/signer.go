package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/paralink-network/paralink-node/internal/httputil"
)

// CallRequest asks the signer to submit a contract call.
type CallRequest struct {
	Chain    string `json:"chain"`
	Contract string `json:"contract"`
	Data     string `json:"data"` // hex-encoded call data
	GasLimit uint64 `json:"gas_limit"`
	Value    string `json:"value"`
}

// CallResult is the outcome of a submitted call once it is in a block.
type CallResult struct {
	TxHash    string `json:"tx_hash"`
	BlockHash string `json:"block_hash"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// Signer submits signed contract calls on behalf of the node account.
type Signer interface {
	Call(ctx context.Context, req *CallRequest) (*CallResult, error)
}

// SignerClient is a client for the signer service.
type SignerClient struct {
	client    *httputil.Client
	serviceID string
}

// SignerConfig holds signer client configuration.
type SignerConfig struct {
	BaseURL   string
	ServiceID string
	Token     string
	Timeout   time.Duration
}

// NewSignerClient creates a signer client.
func NewSignerClient(cfg SignerConfig) *SignerClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SignerClient{
		client: httputil.NewClient(httputil.ClientConfig{
			BaseURL:     cfg.BaseURL,
			Timeout:     timeout,
			BearerToken: cfg.Token,
		}),
		serviceID: cfg.ServiceID,
	}
}

// Call submits the call and waits for its inclusion.
func (c *SignerClient) Call(ctx context.Context, req *CallRequest) (*CallResult, error) {
	resp, err := c.client.DoWithHeaders(ctx, "POST", "/contracts/call", req, map[string]string{
		"X-Service-ID": c.serviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var result CallResult
	if err := httputil.DecodeResponse(resp, &result); err != nil {
		return nil, fmt.Errorf("signer call: %w", err)
	}
	return &result, nil
}
