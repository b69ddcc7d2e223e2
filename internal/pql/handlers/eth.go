package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/paralink-network/paralink-node/internal/config"
	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/pql"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

// EthBackend is the subset of an Ethereum JSON-RPC client the eth handler
// needs. *ethclient.Client satisfies it.
type EthBackend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// ABISource returns a contract's JSON ABI.
type ABISource interface {
	ABI(ctx context.Context, address string) (string, error)
}

// EthConfig configures the eth handler.
type EthConfig struct {
	ProviderURL      string
	EtherscanURL     string
	EtherscanKey     string
	NumConfirmations int64
}

// Eth handles eth.balance and eth.function extract steps. A connection is
// dialled per step.
type Eth struct {
	dial          func(ctx context.Context) (EthBackend, error)
	abis          ABISource
	confirmations int64
	log           *logger.Logger
}

// NewEth returns a handler dialling cfg.ProviderURL.
func NewEth(cfg EthConfig, log *logger.Logger) *Eth {
	provider := cfg.ProviderURL
	return NewEthWithBackend(func(ctx context.Context) (EthBackend, error) {
		if provider == "" {
			return nil, fmt.Errorf("no ethereum provider configured (WEB3_PROVIDER_URI)")
		}
		return ethclient.DialContext(ctx, provider)
	}, NewEtherscan(cfg.EtherscanURL, cfg.EtherscanKey), cfg.NumConfirmations, log)
}

// NewEthWithBackend wires explicit collaborators.
func NewEthWithBackend(dial func(ctx context.Context) (EthBackend, error), abis ABISource, confirmations int64, log *logger.Logger) *Eth {
	if log == nil {
		log = logger.NewDefault("pql-eth")
	}
	if confirmations <= 0 {
		confirmations = config.DefaultNumConfirmations
	}
	return &Eth{dial: dial, abis: abis, confirmations: confirmations, log: log}
}

type ethParams struct {
	Block            json.RawMessage `json:"block"`
	NumConfirmations *int64          `json:"num_confirmations"`
	Function         string          `json:"function"`
	Args             []string        `json:"args"`
}

func (e *Eth) Extract(ctx context.Context, step pql.Step) (pql.Value, error) {
	method := methodName(step.Method)
	if method != "balance" && method != "function" {
		return nil, apperrors.MethodNotFound("handler for eth method %q not found", step.Method)
	}
	if !common.IsHexAddress(step.Address) {
		return nil, apperrors.Argument("invalid address %q", step.Address)
	}
	var params ethParams
	if len(step.Params) > 0 {
		if err := json.Unmarshal(step.Params, &params); err != nil {
			return nil, apperrors.Argument("%s params: %v", step.Method, err)
		}
	}

	client, err := e.dial(ctx)
	if err != nil {
		return nil, apperrors.External(err, "could not connect to Ethereum node")
	}
	defer client.Close()

	block, err := e.resolveBlock(ctx, client, params)
	if err != nil {
		return nil, err
	}
	address := common.HexToAddress(step.Address)

	log := e.log.WithField("address", address.Hex()).WithField("block", block.String())
	switch method {
	case "balance":
		log.Info("obtaining balance")
		balance, err := client.BalanceAt(ctx, address, block)
		if err != nil {
			return nil, apperrors.External(err, "get balance of %s", address.Hex())
		}
		return pql.NumberFromBig(balance), nil
	default:
		log.WithField("function", params.Function).Info("calling contract function")
		return e.call(ctx, client, address, block, params)
	}
}

// resolveBlock maps "latest" (or no block) to head minus confirmations and
// returns explicit block numbers unchanged.
func (e *Eth) resolveBlock(ctx context.Context, client EthBackend, params ethParams) (*big.Int, error) {
	raw := strings.Trim(strings.TrimSpace(string(params.Block)), `"`)
	if raw != "" && raw != "latest" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, apperrors.Argument("block must be \"latest\" or a block number, got %s", raw)
		}
		return new(big.Int).SetUint64(n), nil
	}

	confirmations := e.confirmations
	if params.NumConfirmations != nil {
		confirmations = *params.NumConfirmations
	}
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, apperrors.External(err, "get block number")
	}
	target := int64(head) - confirmations
	if target < 0 {
		target = 0
	}
	return big.NewInt(target), nil
}

func (e *Eth) call(ctx context.Context, client EthBackend, address common.Address, block *big.Int, params ethParams) (pql.Value, error) {
	if params.Function == "" {
		return nil, apperrors.Argument("eth.function requires params.function")
	}
	rawABI, err := e.abis.ABI(ctx, address.Hex())
	if err != nil {
		return nil, err
	}
	parsed, err := abi.JSON(strings.NewReader(rawABI))
	if err != nil {
		return nil, apperrors.External(err, "parse ABI of %s", address.Hex())
	}
	method, err := methodBySignature(parsed, params.Function)
	if err != nil {
		return nil, err
	}
	args, err := convertArgs(method.Inputs, params.Args)
	if err != nil {
		return nil, err
	}
	packed, err := method.Inputs.Pack(args...)
	if err != nil {
		return nil, apperrors.Argument("encode %s arguments: %v", method.Sig, err)
	}

	data := append(append([]byte{}, method.ID...), packed...)
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &address, Data: data}, block)
	if err != nil {
		return nil, apperrors.External(err, "call %s on %s", method.Sig, address.Hex())
	}
	values, err := method.Outputs.Unpack(out)
	if err != nil {
		return nil, apperrors.External(err, "decode %s result", method.Sig)
	}
	if len(values) == 1 {
		return abiValue(values[0]), nil
	}
	list := make([]interface{}, len(values))
	for i, v := range values {
		list[i] = abiValue(v).Native()
	}
	return pql.Structured{Tree: list}, nil
}

// methodBySignature finds a method by its canonical signature, e.g.
// "balanceOf(address)". A bare name matches when it is unambiguous.
func methodBySignature(parsed abi.ABI, signature string) (abi.Method, error) {
	signature = strings.ReplaceAll(signature, " ", "")
	var byName []abi.Method
	for _, m := range parsed.Methods {
		if m.Sig == signature {
			return m, nil
		}
		if m.RawName == signature {
			byName = append(byName, m)
		}
	}
	if len(byName) == 1 {
		return byName[0], nil
	}
	return abi.Method{}, apperrors.Argument("function %s not found in contract ABI", signature)
}

// convertArgs turns string arguments into the Go types the ABI encoder
// expects.
func convertArgs(inputs abi.Arguments, raw []string) ([]interface{}, error) {
	if len(inputs) != len(raw) {
		return nil, apperrors.Argument("function takes %d arguments, got %d", len(inputs), len(raw))
	}
	out := make([]interface{}, len(raw))
	for i, in := range inputs {
		v, err := convertArg(in.Type, raw[i])
		if err != nil {
			return nil, apperrors.Argument("argument %d (%s): %v", i, in.Type.String(), err)
		}
		out[i] = v
	}
	return out, nil
}

func convertArg(t abi.Type, s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil
	case abi.BoolTy:
		return strconv.ParseBool(s)
	case abi.StringTy:
		return s, nil
	case abi.IntTy, abi.UintTy:
		n, ok := new(big.Int).SetString(s, 0)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		return sizedInt(t, n)
	case abi.BytesTy:
		return hexutil.Decode(s)
	case abi.FixedBytesTy:
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, err
		}
		if len(b) > t.Size {
			return nil, fmt.Errorf("%d bytes exceed bytes%d", len(b), t.Size)
		}
		if t.Size == 32 {
			var fixed [32]byte
			copy(fixed[:], b)
			return fixed, nil
		}
		return nil, fmt.Errorf("bytes%d arguments are not supported", t.Size)
	default:
		return nil, fmt.Errorf("unsupported argument type")
	}
}

// sizedInt returns n in the Go type go-ethereum packs for t. Only the
// native widths map to Go integers; every other width packs from *big.Int.
func sizedInt(t abi.Type, n *big.Int) (interface{}, error) {
	if !fitsWidth(t, n) {
		return nil, fmt.Errorf("%s out of range for %s", n, t)
	}
	switch t.Size {
	case 8, 16, 32, 64:
	default:
		return n, nil
	}
	if t.T == abi.UintTy {
		u := n.Uint64()
		switch t.Size {
		case 8:
			return uint8(u), nil
		case 16:
			return uint16(u), nil
		case 32:
			return uint32(u), nil
		default:
			return u, nil
		}
	}
	i := n.Int64()
	switch t.Size {
	case 8:
		return int8(i), nil
	case 16:
		return int16(i), nil
	case 32:
		return int32(i), nil
	default:
		return i, nil
	}
}

func fitsWidth(t abi.Type, n *big.Int) bool {
	if t.T == abi.UintTy {
		return n.Sign() >= 0 && n.BitLen() <= t.Size
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
	if n.Sign() < 0 {
		return n.Cmp(new(big.Int).Neg(limit)) >= 0
	}
	return n.Cmp(limit) < 0
}

func abiValue(v interface{}) pql.Value {
	switch x := v.(type) {
	case *big.Int:
		return pql.NumberFromBig(x)
	case uint8:
		return pql.NumberFromInt(int64(x))
	case uint16:
		return pql.NumberFromInt(int64(x))
	case uint32:
		return pql.NumberFromInt(int64(x))
	case uint64:
		return pql.NumberFromBig(new(big.Int).SetUint64(x))
	case int8:
		return pql.NumberFromInt(int64(x))
	case int16:
		return pql.NumberFromInt(int64(x))
	case int32:
		return pql.NumberFromInt(int64(x))
	case int64:
		return pql.NumberFromInt(x)
	case bool:
		return pql.Bool(x)
	case string:
		return pql.Text(x)
	case common.Address:
		return pql.Text(x.Hex())
	case [32]byte:
		return pql.Text(hexutil.Encode(x[:]))
	case []byte:
		return pql.Text(hexutil.Encode(x))
	default:
		return pql.Text(fmt.Sprint(x))
	}
}
