package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

// Substrate is a Substrate chain running ink! oracle contracts.
type Substrate struct {
	cfg        Config
	httpClient *http.Client
	events     EventSource
	signer     Signer
	log        *logger.Logger
	prefix     uint16
	variant    byte
}

var _ Chain = (*Substrate)(nil)

func newSubstrate(cfg Config, o options) (*Substrate, error) {
	s := &Substrate{
		cfg:        cfg,
		httpClient: o.httpClient,
		events:     o.events,
		signer:     o.signer,
		log:        o.log,
		prefix:     DefaultSS58Prefix,
	}

	if ref, ok := LookupReference(cfg.Name); ok && ref.SS58Prefix != nil {
		s.prefix = *ref.SS58Prefix
	}
	if v := cfg.Credentials["ss58_prefix"]; v != "" {
		p, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("chain %s: invalid ss58_prefix %q", cfg.Name, v)
		}
		s.prefix = uint16(p)
	}
	if v := cfg.Credentials["request_event_index"]; v != "" {
		idx, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("chain %s: invalid request_event_index %q", cfg.Name, v)
		}
		s.variant = byte(idx)
	}

	if s.events == nil {
		sidecar := cfg.Credentials["sidecar_url"]
		if sidecar == "" {
			return nil, fmt.Errorf("chain %s: credentials.sidecar_url is required", cfg.Name)
		}
		s.events = NewSidecar(sidecar, 30*time.Second)
	}
	if s.signer == nil && cfg.Credentials["signer_url"] != "" {
		s.signer = NewSignerClient(SignerConfig{
			BaseURL:   cfg.Credentials["signer_url"],
			ServiceID: "paralink-node",
			Token:     cfg.Credentials["signer_token"],
		})
	}
	return s, nil
}

func (s *Substrate) Name() string   { return s.cfg.Name }
func (s *Substrate) Type() Type     { return TypeSubstrate }
func (s *Substrate) Active() bool   { return s.cfg.Active }
func (s *Substrate) Config() Config { return s.cfg }

// TrackedContracts returns the tracked addresses in this chain's SS58 form.
func (s *Substrate) TrackedContracts() []string {
	out := make([]string, 0, len(s.cfg.TrackedContracts))
	for _, addr := range s.cfg.TrackedContracts {
		if norm, err := s.normalize(addr); err == nil {
			out = append(out, norm)
		}
	}
	return out
}

func (s *Substrate) normalize(addr string) (string, error) {
	pub, err := AccountID(addr)
	if err != nil {
		return "", err
	}
	return SS58Encode(pub, s.prefix)
}

// Connect opens a fresh RPC client. With validate set, the node's chain name
// must equal the configured name, case-insensitively.
func (s *Substrate) Connect(ctx context.Context, validate bool) (*RPCClient, error) {
	client, err := NewRPCClient(s.cfg.URL, s.httpClient)
	if err != nil {
		return nil, apperrors.External(err, "connect to chain %s", s.cfg.Name)
	}
	if !validate {
		return client, nil
	}
	name, err := client.SystemChain(ctx)
	if err != nil {
		return nil, apperrors.External(err, "chain %s: system_chain", s.cfg.Name)
	}
	if !strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(s.cfg.Name)) {
		return nil, apperrors.ChainValidation("chain %s: node reports chain %q", s.cfg.Name, name)
	}
	return client, nil
}

// BlockEvents decodes the Request events emitted by tracked contracts in a
// block.
func (s *Substrate) BlockEvents(ctx context.Context, blockHash string) ([]Request, error) {
	events, err := s.events.BlockEvents(ctx, blockHash)
	if err != nil {
		return nil, apperrors.External(err, "chain %s: block %s events", s.cfg.Name, blockHash)
	}

	tracked := make(map[string]bool, len(s.cfg.TrackedContracts))
	for _, addr := range s.TrackedContracts() {
		tracked[addr] = true
	}

	var out []Request
	for _, ev := range events {
		contract, err := s.normalize(ev.Contract)
		if err != nil || !tracked[contract] {
			continue
		}
		decoded, ok, err := decodeRequestEvent(ev.Data, s.variant)
		if err != nil {
			s.log.WithError(err).WithField("contract", contract).Warn("skipping undecodable event")
			continue
		}
		if !ok {
			continue
		}
		requester, err := SS58Encode(decoded.From[:], s.prefix)
		if err != nil {
			continue
		}
		out = append(out, Request{
			Chain:           s.cfg.Name,
			Contract:        contract,
			RequestID:       new(big.Int).SetUint64(decoded.RequestID),
			Requester:       requester,
			CallbackAddress: requester,
			Expiration:      time.UnixMilli(int64(decoded.Expiration)).UTC(),
			IPFSHash:        decoded.IPFSHash,
			TxHash:          blockHash,
		})
	}
	return out, nil
}

// CheckContracts logs a warning for every tracked contract that is not
// deployed. Sources without existence support are skipped.
func (s *Substrate) CheckContracts(ctx context.Context) []string {
	checker, ok := s.events.(ContractChecker)
	if !ok {
		return nil
	}
	var missing []string
	for _, addr := range s.TrackedContracts() {
		exists, err := checker.ContractExists(ctx, addr)
		if err != nil {
			s.log.WithError(err).WithField("contract", addr).Warn("contract check failed")
			continue
		}
		if !exists {
			s.log.WithField("contract", addr).Warn("tracked contract does not exist on chain")
			missing = append(missing, addr)
		}
	}
	return missing
}

// Fulfill dry-runs simple_callback to estimate gas, then submits it through
// the signer with twice the estimate. A failed inclusion is returned as
// ErrFulfillRejected.
func (s *Substrate) Fulfill(ctx context.Context, req Request, result string) error {
	value, err := encodeUint(result, 128)
	if err != nil {
		return err
	}
	if req.RequestID == nil || !req.RequestID.IsUint64() {
		return fmt.Errorf("%w: invalid request id", ErrUnencodableResult)
	}
	callback, err := AccountID(req.CallbackAddress)
	if err != nil {
		return fmt.Errorf("%w: callback address: %v", ErrUnencodableResult, err)
	}
	if s.signer == nil {
		return fmt.Errorf("%w: chain %s has no signer configured", ErrFulfillRejected, s.cfg.Name)
	}
	origin := s.cfg.Credentials["account"]
	if origin == "" {
		return fmt.Errorf("%w: chain %s has no account credential", ErrFulfillRejected, s.cfg.Name)
	}

	input := "0x" + hex.EncodeToString(encodeCallback(req.RequestID.Uint64(), callback, value))

	client, err := s.Connect(ctx, true)
	if err != nil {
		return err
	}
	gas, err := s.estimateGas(ctx, client, origin, req.Contract, input)
	if err != nil {
		return err
	}

	s.log.WithField("request_id", req.ID()).WithField("value", result).Info("fulfilling request")
	res, err := s.signer.Call(ctx, &CallRequest{
		Chain:    s.cfg.Name,
		Contract: req.Contract,
		Data:     input,
		GasLimit: gas * 2,
		Value:    "0",
	})
	if err != nil {
		return apperrors.External(err, "chain %s: submit simple_callback", s.cfg.Name)
	}
	if !res.Success {
		return fmt.Errorf("%w: chain %s tx %s: %s", ErrFulfillRejected, s.cfg.Name, res.TxHash, res.Error)
	}
	s.log.WithField("tx", res.TxHash).WithField("block", res.BlockHash).Info("request fulfilled")
	return nil
}

func (s *Substrate) estimateGas(ctx context.Context, client *RPCClient, origin, contract, input string) (uint64, error) {
	raw, err := client.Call(ctx, "contracts_call", map[string]interface{}{
		"origin":    origin,
		"dest":      contract,
		"value":     0,
		"gasLimit":  nil,
		"inputData": input,
	})
	if err != nil {
		return 0, apperrors.External(err, "chain %s: contracts_call", s.cfg.Name)
	}
	consumed := gjson.GetBytes(raw, "gasConsumed")
	if consumed.IsObject() {
		consumed = consumed.Get("refTime")
	}
	if !consumed.Exists() {
		return 0, apperrors.External(nil, "chain %s: contracts_call returned no gasConsumed", s.cfg.Name)
	}
	return consumed.Uint(), nil
}
