package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/paralink-network/paralink-node/internal/httputil"
)

// RPCRequest is a JSON-RPC 2.0 request.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RPCClient talks JSON-RPC to a Substrate node over HTTP. ws:// URLs are
// rewritten to http:// since nodes serve both on the same port.
type RPCClient struct {
	rpcURL     string
	httpClient *http.Client
	nextID     atomic.Int64
}

// NewRPCClient creates a client; a nil httpClient gets a 30 s timeout.
func NewRPCClient(url string, httpClient *http.Client) (*RPCClient, error) {
	if url == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	switch {
	case strings.HasPrefix(url, "ws://"):
		url = "http://" + strings.TrimPrefix(url, "ws://")
	case strings.HasPrefix(url, "wss://"):
		url = "https://" + strings.TrimPrefix(url, "wss://")
	}
	return &RPCClient{rpcURL: url, httpClient: httpClient}, nil
}

// Call makes an RPC call.
func (c *RPCClient) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := httputil.ReadAllStrict(resp.Body, httputil.MaxBodySize)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httputil.StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// SystemChain returns the chain name reported by the node.
func (c *RPCClient) SystemChain(ctx context.Context) (string, error) {
	result, err := c.Call(ctx, "system_chain")
	if err != nil {
		return "", err
	}
	var name string
	if err := json.Unmarshal(result, &name); err != nil {
		return "", err
	}
	return name, nil
}

// FinalizedNumber returns the number of the latest finalized block.
func (c *RPCClient) FinalizedNumber(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "chain_getFinalizedHead")
	if err != nil {
		return 0, err
	}
	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return 0, err
	}

	result, err = c.Call(ctx, "chain_getHeader", hash)
	if err != nil {
		return 0, err
	}
	var header struct {
		Number string `json:"number"`
	}
	if err := json.Unmarshal(result, &header); err != nil {
		return 0, err
	}
	return parseHexUint(header.Number)
}

// BlockHash returns the hash of block n; ok is false when the block does not
// exist yet.
func (c *RPCClient) BlockHash(ctx context.Context, n uint64) (string, bool, error) {
	result, err := c.Call(ctx, "chain_getBlockHash", n)
	if err != nil {
		return "", false, err
	}
	if len(result) == 0 {
		return "", false, nil
	}
	var hash *string
	if err := json.Unmarshal(result, &hash); err != nil {
		return "", false, err
	}
	if hash == nil || *hash == "" {
		return "", false, nil
	}
	return *hash, true, nil
}

func parseHexUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}
