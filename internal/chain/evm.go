package chain

import (
	"context"
	"crypto/ecdsa"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

// DefaultTxWaitTimeout bounds how long Fulfill waits for a receipt.
const DefaultTxWaitTimeout = 2 * time.Minute

// DefaultPollInterval is the interval for receipt and log polling.
const DefaultPollInterval = 2 * time.Second

//go:embed oracle.abi.json
var oracleABIJSON string

var oracleABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(oracleABIJSON))
	if err != nil {
		panic("chain: invalid oracle ABI: " + err.Error())
	}
	return parsed
}()

// RequestTopic is the topic hash of the oracle Request event.
func RequestTopic() common.Hash {
	return oracleABI.Events["Request"].ID
}

// EVMClient is the subset of *ethclient.Client used by the node.
type EVMClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	NetworkID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// EVMDialer opens a connection to an EVM node.
type EVMDialer func(ctx context.Context, url string) (EVMClient, error)

func dialEthclient(ctx context.Context, url string) (EVMClient, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// EVM is an Ethereum-compatible chain.
type EVM struct {
	cfg  Config
	dial EVMDialer
	log  *logger.Logger
	poll time.Duration
}

var _ Chain = (*EVM)(nil)

func newEVM(cfg Config, o options) *EVM {
	dial := o.dialEVM
	if dial == nil {
		dial = dialEthclient
	}
	return &EVM{cfg: cfg, dial: dial, log: o.log, poll: o.poll}
}

func (e *EVM) Name() string   { return e.cfg.Name }
func (e *EVM) Type() Type     { return TypeEVM }
func (e *EVM) Active() bool   { return e.cfg.Active }
func (e *EVM) Config() Config { return e.cfg }

// TrackedContracts returns the tracked addresses in checksum form.
func (e *EVM) TrackedContracts() []string {
	out := make([]string, 0, len(e.cfg.TrackedContracts))
	for _, addr := range e.cfg.TrackedContracts {
		if common.IsHexAddress(addr) {
			out = append(out, common.HexToAddress(addr).Hex())
		}
	}
	return out
}

// Connect opens a fresh connection. With validate set, the node's chain and
// network ids must match the reference data for the chain name.
func (e *EVM) Connect(ctx context.Context, validate bool) (EVMClient, error) {
	client, err := e.dial(ctx, e.cfg.URL)
	if err != nil {
		return nil, apperrors.External(err, "connect to chain %s", e.cfg.Name)
	}
	if !validate {
		return client, nil
	}
	if err := e.validate(ctx, client); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (e *EVM) validate(ctx context.Context, client EVMClient) error {
	ref, ok := LookupReference(e.cfg.Name)
	if !ok {
		return apperrors.ChainValidation("no reference data for chain %s", e.cfg.Name)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return apperrors.External(err, "chain %s: eth_chainId", e.cfg.Name)
	}
	networkID, err := client.NetworkID(ctx)
	if err != nil {
		return apperrors.External(err, "chain %s: net_version", e.cfg.Name)
	}
	if chainID.Uint64() != ref.ChainID || networkID.Uint64() != ref.NetworkID {
		return apperrors.ChainValidation("chain %s: expected chainId %d networkId %d, node reports %s/%s",
			e.cfg.Name, ref.ChainID, ref.NetworkID, chainID, networkID)
	}
	return nil
}

// DecodeRequest decodes an oracle Request log.
func (e *EVM) DecodeRequest(l types.Log) (Request, error) {
	event := oracleABI.Events["Request"]
	if len(l.Topics) < 2 || l.Topics[0] != event.ID {
		return Request{}, fmt.Errorf("log %s:%d is not a Request event", l.TxHash.Hex(), l.Index)
	}
	values, err := event.Inputs.NonIndexed().Unpack(l.Data)
	if err != nil {
		return Request{}, fmt.Errorf("unpack Request event: %w", err)
	}
	if len(values) != 6 {
		return Request{}, fmt.Errorf("unpack Request event: got %d values", len(values))
	}

	requester, _ := values[0].(common.Address)
	ipfsHash, _ := values[1].([32]byte)
	payment, _ := values[2].(*big.Int)
	callback, _ := values[3].(common.Address)
	functionID, _ := values[4].([4]byte)
	expiration, _ := values[5].(*big.Int)
	if expiration == nil {
		return Request{}, errors.New("unpack Request event: missing expiration")
	}

	return Request{
		Chain:              e.cfg.Name,
		Contract:           l.Address.Hex(),
		RequestID:          new(big.Int).SetBytes(l.Topics[1].Bytes()),
		Requester:          requester.Hex(),
		CallbackAddress:    callback.Hex(),
		CallbackFunctionID: functionID,
		Expiration:         time.Unix(expiration.Int64(), 0).UTC(),
		IPFSHash:           ipfsHash,
		Fee:                payment,
		Block:              l.BlockNumber,
		TxHash:             l.TxHash.Hex(),
	}, nil
}

// LogFilter tracks Request events of one contract from the block after its
// creation onwards.
type LogFilter struct {
	chain    *EVM
	contract common.Address
	next     uint64
}

// NewLogFilter starts a filter at the current head.
func (e *EVM) NewLogFilter(ctx context.Context, client EVMClient, contract string) (*LogFilter, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("chain %s: invalid contract address %q", e.cfg.Name, contract)
	}
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, apperrors.External(err, "chain %s: eth_blockNumber", e.cfg.Name)
	}
	return e.LogFilterFrom(contract, head+1)
}

// LogFilterFrom resumes a filter whose next unscanned block is next.
func (e *EVM) LogFilterFrom(contract string, next uint64) (*LogFilter, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("chain %s: invalid contract address %q", e.cfg.Name, contract)
	}
	return &LogFilter{chain: e, contract: common.HexToAddress(contract), next: next}, nil
}

// Contract returns the filtered address.
func (f *LogFilter) Contract() string { return f.contract.Hex() }

// Next returns the first block the following NewEntries call will scan.
func (f *LogFilter) Next() uint64 { return f.next }

// NewEntries returns the Request events mined since the previous call.
// Undecodable logs are skipped with a warning.
func (f *LogFilter) NewEntries(ctx context.Context, client EVMClient) ([]Request, error) {
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, apperrors.External(err, "chain %s: eth_blockNumber", f.chain.cfg.Name)
	}
	if head < f.next {
		return nil, nil
	}

	logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(f.next),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{f.contract},
		Topics:    [][]common.Hash{{RequestTopic()}},
	})
	if err != nil {
		return nil, apperrors.External(err, "chain %s: eth_getLogs", f.chain.cfg.Name)
	}
	f.next = head + 1

	out := make([]Request, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		req, err := f.chain.DecodeRequest(l)
		if err != nil {
			f.chain.log.WithError(err).Warn("skipping undecodable log")
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

// Fulfill calls fulfillRequest on the emitting oracle contract and waits for
// the transaction to be mined.
func (e *EVM) Fulfill(ctx context.Context, req Request, result string) error {
	value, err := encodeUint(result, 256)
	if err != nil {
		return err
	}
	var data [32]byte
	value.FillBytes(data[:])

	if req.RequestID == nil || req.RequestID.BitLen() > 256 {
		return fmt.Errorf("%w: invalid request id", ErrUnencodableResult)
	}
	var requestID [32]byte
	req.RequestID.FillBytes(requestID[:])

	if !common.IsHexAddress(req.Contract) || !common.IsHexAddress(req.CallbackAddress) {
		return fmt.Errorf("%w: invalid contract or callback address", ErrUnencodableResult)
	}
	to := common.HexToAddress(req.Contract)

	key, err := e.privateKey()
	if err != nil {
		return err
	}

	input, err := oracleABI.Pack("fulfillRequest",
		requestID,
		common.HexToAddress(req.CallbackAddress),
		req.CallbackFunctionID,
		big.NewInt(req.Expiration.Unix()),
		data,
	)
	if err != nil {
		return fmt.Errorf("pack fulfillRequest: %w", err)
	}

	client, err := e.Connect(ctx, true)
	if err != nil {
		return err
	}
	defer client.Close()

	from := crypto.PubkeyToAddress(key.PublicKey)
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: input})
	if err != nil {
		return apperrors.External(err, "chain %s: estimate gas", e.cfg.Name)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return apperrors.External(err, "chain %s: gas price", e.cfg.Name)
	}
	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return apperrors.External(err, "chain %s: nonce", e.cfg.Name)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return apperrors.External(err, "chain %s: eth_chainId", e.cfg.Name)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas * 2,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     input,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}

	e.log.WithField("request_id", req.ID()).WithField("value", result).Info("fulfilling request")
	if err := client.SendTransaction(ctx, signed); err != nil {
		return apperrors.External(err, "chain %s: send transaction", e.cfg.Name)
	}

	wctx, cancel := context.WithTimeout(ctx, DefaultTxWaitTimeout)
	defer cancel()
	receipt, err := e.waitMined(wctx, client, signed.Hash())
	if err != nil {
		return err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return fmt.Errorf("chain %s: transaction %s reverted", e.cfg.Name, signed.Hash().Hex())
	}
	e.log.WithField("tx", signed.Hash().Hex()).WithField("block", receipt.BlockNumber).Info("request fulfilled")
	return nil
}

// waitMined polls for a receipt until it is available or ctx is done. A
// missing receipt is treated as not yet mined.
func (e *EVM) waitMined(ctx context.Context, client EVMClient, hash common.Hash) (*types.Receipt, error) {
	interval := e.poll
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := client.TransactionReceipt(ctx, hash)
			if err != nil {
				if errors.Is(err, ethereum.NotFound) {
					continue
				}
				return nil, apperrors.External(err, "chain %s: receipt %s", e.cfg.Name, hash.Hex())
			}
			return receipt, nil
		}
	}
}

func (e *EVM) privateKey() (*ecdsa.PrivateKey, error) {
	raw := strings.TrimPrefix(e.cfg.Credentials["private_key"], "0x")
	if raw == "" {
		return nil, fmt.Errorf("%w: chain %s has no private_key credential", ErrFulfillRejected, e.cfg.Name)
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: chain %s: invalid private key", ErrFulfillRejected, e.cfg.Name)
	}
	return key, nil
}
