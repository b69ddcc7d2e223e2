package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/paralink-network/paralink-node/internal/httputil"
)

// ContractEvent is a raw event emitted by a contract.
type ContractEvent struct {
	Contract string
	Data     []byte
}

// EventSource returns the contract events of a block.
type EventSource interface {
	BlockEvents(ctx context.Context, blockHash string) ([]ContractEvent, error)
}

// ContractChecker reports whether a contract is deployed.
type ContractChecker interface {
	ContractExists(ctx context.Context, address string) (bool, error)
}

// Sidecar reads decoded blocks from a substrate-api-sidecar instance.
type Sidecar struct {
	client *httputil.Client
}

var (
	_ EventSource     = (*Sidecar)(nil)
	_ ContractChecker = (*Sidecar)(nil)
)

// NewSidecar creates a sidecar event source.
func NewSidecar(baseURL string, timeout time.Duration) *Sidecar {
	return &Sidecar{client: httputil.NewClient(httputil.ClientConfig{
		BaseURL:    baseURL,
		Timeout:    timeout,
		MaxRetries: 2,
	})}
}

// BlockEvents returns the contract emitted events of a block, from
// extrinsics and the block hooks.
func (s *Sidecar) BlockEvents(ctx context.Context, blockHash string) ([]ContractEvent, error) {
	resp, err := s.client.Get(ctx, "/blocks/"+url.PathEscape(blockHash)+"?eventDocs=false&extrinsicDocs=false")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := httputil.ReadAllStrict(resp.Body, httputil.MaxBodySize)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &httputil.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return parseSidecarEvents(body)
}

func parseSidecarEvents(body []byte) ([]ContractEvent, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("sidecar: invalid block JSON")
	}
	var events []gjson.Result
	events = append(events, gjson.GetBytes(body, "onInitialize.events").Array()...)
	events = append(events, gjson.GetBytes(body, "extrinsics.#.events|@flatten").Array()...)
	events = append(events, gjson.GetBytes(body, "onFinalize.events").Array()...)

	var out []ContractEvent
	for _, ev := range events {
		if !strings.EqualFold(ev.Get("method.pallet").String(), "contracts") {
			continue
		}
		switch ev.Get("method.method").String() {
		case "ContractEmitted", "ContractExecution":
		default:
			continue
		}

		data := ev.Get("data")
		var contract, payload string
		if data.IsArray() {
			contract, payload = data.Get("0").String(), data.Get("1").String()
		} else {
			contract, payload = data.Get("contract").String(), data.Get("data").String()
		}
		raw, err := hex.DecodeString(strings.TrimPrefix(payload, "0x"))
		if err != nil {
			return nil, fmt.Errorf("sidecar: event data: %w", err)
		}
		out = append(out, ContractEvent{Contract: contract, Data: raw})
	}
	return out, nil
}

// ContractExists queries the contracts pallet storage for address.
func (s *Sidecar) ContractExists(ctx context.Context, address string) (bool, error) {
	resp, err := s.client.Get(ctx, "/pallets/contracts/storage/contractInfoOf?keys[]="+url.QueryEscape(address))
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	body, err := httputil.ReadAllStrict(resp.Body, httputil.MaxBodySize)
	if err != nil {
		return false, err
	}
	if resp.StatusCode >= 300 {
		return false, &httputil.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	value := gjson.GetBytes(body, "value")
	return value.Exists() && value.Type != gjson.Null, nil
}
