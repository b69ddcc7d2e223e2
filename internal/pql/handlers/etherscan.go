package handlers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/httputil"
)

// Etherscan fetches verified contract ABIs from an Etherscan-compatible
// explorer API.
type Etherscan struct {
	client *httputil.Client
	apiKey string
}

// NewEtherscan returns an explorer client for baseURL.
func NewEtherscan(baseURL, apiKey string) *Etherscan {
	return &Etherscan{
		client: httputil.NewClient(httputil.ClientConfig{BaseURL: baseURL, Timeout: 10 * time.Second, MaxRetries: 1}),
		apiKey: strings.TrimSpace(apiKey),
	}
}

// ABI returns the JSON ABI of the contract at address.
func (e *Etherscan) ABI(ctx context.Context, address string) (string, error) {
	result, err := e.fetch(ctx, address, "getabi")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result), nil
}

func (e *Etherscan) fetch(ctx context.Context, address, action string) (string, error) {
	if e.apiKey == "" {
		return "", apperrors.External(nil, "ETHERSCAN_KEY was not supplied")
	}
	q := url.Values{}
	q.Set("module", "contract")
	q.Set("action", action)
	q.Set("address", address)
	q.Set("apiKey", e.apiKey)

	resp, err := e.client.Get(ctx, "?"+q.Encode())
	if err != nil {
		return "", apperrors.External(err, "explorer request %s failed", action)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadAllStrict(resp.Body, httputil.MaxBodySize)
	if err != nil {
		return "", apperrors.External(err, "read explorer response")
	}
	if resp.StatusCode != 200 {
		return "", apperrors.External(nil, "explorer returned status %d when querying %s: %s", resp.StatusCode, action, preview(body))
	}

	parsed := gjson.ParseBytes(body)
	if parsed.Get("status").Int() != 1 {
		return "", apperrors.External(fmt.Errorf("%s", parsed.Get("result").String()), "failed to retrieve %s from explorer", action)
	}
	return parsed.Get("result").String(), nil
}
