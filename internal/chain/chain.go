// Package chain connects the node to the blockchains it serves. EVM networks
// are reached through go-ethereum, Substrate networks through their JSON-RPC
// API plus an event source for decoded contract events.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paralink-network/paralink-node/internal/config"
	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

// Type identifies the chain family.
type Type string

const (
	TypeEVM       Type = "evm"
	TypeSubstrate Type = "substrate"
)

var (
	// ErrFulfillRejected is returned when the chain accepted the fulfill call
	// but reported it as failed. Retrying the same call will not help.
	ErrFulfillRejected = errors.New("fulfill rejected by chain")
	// ErrUnencodableResult is returned when a pipeline result has no on-chain
	// representation: not numeric, negative or too wide.
	ErrUnencodableResult = errors.New("result cannot be encoded on chain")
)

// IsPermanent reports whether a fulfill error should end the request instead
// of being retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrFulfillRejected) ||
		errors.Is(err, ErrUnencodableResult) ||
		apperrors.HasCode(err, apperrors.CodeChainValidation)
}

// Config describes one chain endpoint.
type Config struct {
	Name             string
	Type             Type
	URL              string
	Active           bool
	Credentials      map[string]string
	TrackedContracts []string
}

// FromConfig converts a static configuration entry.
func FromConfig(c config.ChainConfig) Config {
	return Config{
		Name:             c.Name,
		Type:             Type(strings.ToLower(c.Type)),
		URL:              c.URL,
		Active:           c.Active,
		Credentials:      c.Credentials,
		TrackedContracts: append([]string(nil), c.TrackedContracts...),
	}
}

// Chain is the capability set shared by every chain variant.
type Chain interface {
	Name() string
	Type() Type
	Active() bool
	TrackedContracts() []string
	Fulfill(ctx context.Context, req Request, result string) error
}

// Request is a decoded oracle Request event.
type Request struct {
	Chain              string
	Contract           string
	RequestID          *big.Int
	Requester          string
	CallbackAddress    string
	CallbackFunctionID [4]byte
	Expiration         time.Time
	IPFSHash           [32]byte
	Fee                *big.Int
	Block              uint64
	TxHash             string
}

// ID renders the request id for logs.
func (r Request) ID() string {
	if r.RequestID == nil {
		return ""
	}
	return r.RequestID.String()
}

// Expired reports whether the on-chain deadline has passed at now.
func (r Request) Expired(now time.Time) bool {
	return !now.Before(r.Expiration)
}

type options struct {
	log        *logger.Logger
	dialEVM    EVMDialer
	events     EventSource
	signer     Signer
	httpClient *http.Client
	poll       time.Duration
}

// Option customises a chain built by New.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithEVMDialer replaces the go-ethereum dialer.
func WithEVMDialer(d EVMDialer) Option {
	return func(o *options) { o.dialEVM = d }
}

// WithEventSource replaces the Substrate event source.
func WithEventSource(src EventSource) Option {
	return func(o *options) { o.events = src }
}

// WithSigner replaces the Substrate signer.
func WithSigner(s Signer) Option {
	return func(o *options) { o.signer = s }
}

// WithHTTPClient sets the client used for Substrate JSON-RPC.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithPollInterval sets the receipt polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.poll = d }
}

// New builds the variant matching cfg.Type.
func New(cfg Config, opts ...Option) (Chain, error) {
	o := options{poll: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.NewDefault("chain")
	}
	o.log = o.log.With("chain", cfg.Name)

	switch cfg.Type {
	case TypeEVM:
		return newEVM(cfg, o), nil
	case TypeSubstrate:
		return newSubstrate(cfg, o)
	default:
		return nil, fmt.Errorf("chain %s: unsupported type %q", cfg.Name, cfg.Type)
	}
}

// encodeUint turns a formatted pipeline result into an unsigned integer of at
// most bits width. Fractions are truncated toward zero.
func encodeUint(result string, bits int) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(result))
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not numeric", ErrUnencodableResult, result)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s is negative", ErrUnencodableResult, result)
	}
	n := d.Truncate(0).BigInt()
	if n.BitLen() > bits {
		return nil, fmt.Errorf("%w: %s exceeds %d bits", ErrUnencodableResult, result, bits)
	}
	return n, nil
}
