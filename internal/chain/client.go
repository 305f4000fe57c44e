package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/blues/greensalary/internal/config"
	"github.com/blues/greensalary/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	// ErrUnconfirmed means the transaction was broadcast but no receipt was
	// seen before the call deadline. The hash must be reconciled, not resent.
	ErrUnconfirmed = errors.New("transaction broadcast but not confirmed")
	ErrReverted    = errors.New("transaction reverted")
)

// Backend is the node surface the adapter needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
	NetworkID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// SubmitFunc is invoked with the transaction hash as soon as it is broadcast,
// before waiting for the receipt.
type SubmitFunc func(txHash string) error

// TxResult is the normalized outcome of a mined transaction.
type TxResult struct {
	TxHash      string   `json:"txHash"`
	BlockNumber uint64   `json:"blockNumber"`
	GasUsed     uint64   `json:"gasUsed"`
	Amount      *big.Int `json:"amount,omitempty"`
}

// Client signs and sends payment and refund transactions with the
// configured service account and answers read-only contract queries.
type Client struct {
	mu       sync.RWMutex
	backend  Backend
	contract *Contract
	bound    *bind.BoundContract
	key      *ecdsa.PrivateKey
	from     common.Address
	chainId  *big.Int
	env      string
	profile  config.ChainProfile
	closer   func()
}

// Dial connects to the profile's RPC endpoint and checks the connection.
func Dial(ctx context.Context, env string, profile config.ChainProfile) (*Client, error) {
	if profile.RpcUrl == "" {
		return nil, fmt.Errorf("no RPC URL configured for chain profile %s", env)
	}

	logger.Info("Connecting to %s chain (RPC: %s, chain id: %d)", env, profile.RpcUrl, profile.ChainId)
	ec, err := ethclient.DialContext(ctx, profile.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ethereum client: %w", err)
	}
	if _, err := ec.BlockNumber(ctx); err != nil {
		ec.Close()
		return nil, fmt.Errorf("client connection test failed: %w", err)
	}

	c, err := NewClient(ec, env, profile)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closer = ec.Close
	c.CheckNetwork(ctx)

	logger.Info("Connected to %s at %s as %s", c.contract.GetName(), c.contract.GetAddress().Hex(), c.from.Hex())
	return c, nil
}

// NewClient builds a client over an existing backend.
func NewClient(backend Backend, env string, profile config.ChainProfile) (*Client, error) {
	contract, err := LoadContract(profile)
	if err != nil {
		return nil, err
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(profile.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &Client{
		backend:  backend,
		contract: contract,
		bound:    bind.NewBoundContract(contract.GetAddress(), contract.GetABI(), backend, backend, backend),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainId:  big.NewInt(profile.ChainId),
		env:      env,
		profile:  profile,
	}, nil
}

// CheckNetwork warns when the node's network differs from the configured one.
func (c *Client) CheckNetwork(ctx context.Context) {
	if c.profile.NetworkId == "" {
		return
	}
	id, err := c.backend.NetworkID(ctx)
	if err != nil {
		logger.Warn("Could not read network id: %v", err)
		return
	}
	if id.String() != c.profile.NetworkId {
		logger.Warn("Node reports network %s but profile %s expects %s", id.String(), c.env, c.profile.NetworkId)
	}
}

func (c *Client) Account() common.Address {
	return c.from
}

func (c *Client) Contract() *Contract {
	return c.contract
}

// PayInfluencer pays the campaign reward for one participant.
func (c *Client) PayInfluencer(ctx context.Context, campaignId, influencerId int64, wallet string, onSubmit SubmitFunc) (*TxResult, error) {
	if !common.IsHexAddress(wallet) {
		return nil, apperr.Validation("invalid influencer wallet address %q", wallet)
	}
	logger.Info("Paying influencer %s (id: %d) for ad %d", wallet, influencerId, campaignId)

	result, receipt, err := c.send(ctx, "payInfluencer", onSubmit,
		big.NewInt(campaignId), big.NewInt(influencerId), common.HexToAddress(wallet))
	if err != nil {
		return result, err
	}
	result.Amount = c.contract.eventAmount(receipt, EventInfluencerPaid)
	return result, nil
}

// RefundAdvertiser returns the campaign's remaining balance to the advertiser.
func (c *Client) RefundAdvertiser(ctx context.Context, campaignId int64, wallet string, onSubmit SubmitFunc) (*TxResult, error) {
	if !common.IsHexAddress(wallet) {
		return nil, apperr.Validation("invalid advertiser wallet address %q", wallet)
	}
	logger.Info("Refunding advertiser %s for ad %d", wallet, campaignId)

	result, receipt, err := c.send(ctx, "refundAdvertiser", onSubmit,
		big.NewInt(campaignId), common.HexToAddress(wallet))
	if err != nil {
		return result, err
	}
	result.Amount = c.contract.eventAmount(receipt, EventAdvertiserRefunded)
	return result, nil
}

func (c *Client) send(ctx context.Context, method string, onSubmit SubmitFunc, args ...interface{}) (*TxResult, *types.Receipt, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	input, err := c.contract.abi.Pack(method, args...)
	if err != nil {
		return nil, nil, apperr.ChainFailed(method, err)
	}

	gasLimit, err := c.gasLimit(ctx, input)
	if err != nil {
		return nil, nil, apperr.ChainFailed(method+" gas estimation", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainId)
	if err != nil {
		return nil, nil, apperr.ChainFailed(method, err)
	}
	opts.Context = ctx
	opts.GasLimit = gasLimit

	tx, err := c.bound.Transact(opts, method, args...)
	if err != nil {
		return nil, nil, apperr.ChainFailed(method, err)
	}
	hash := tx.Hash().Hex()
	logger.Info("%s broadcast: %s (gas limit %d)", method, hash, gasLimit)

	if onSubmit != nil {
		if err := onSubmit(hash); err != nil {
			// the transaction is already out; keep waiting so the caller can
			// still record the outcome
			logger.Error("Failed to record broadcast of %s: %v", hash, err)
		}
	}

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return &TxResult{TxHash: hash}, nil, apperr.ChainFailed(method, fmt.Errorf("%w: %s: %w", ErrUnconfirmed, hash, err))
	}

	result := resultFromReceipt(receipt)
	if receipt.Status != types.ReceiptStatusSuccessful {
		return result, receipt, apperr.ChainFailed(method, fmt.Errorf("%w: %s", ErrReverted, hash))
	}

	logger.Info("%s confirmed: %s (block %d, gas used %d)", method, hash, result.BlockNumber, result.GasUsed)
	return result, receipt, nil
}

// gasLimit applies the configured margin to the node's estimate, or uses
// the flat limit when one is configured.
func (c *Client) gasLimit(ctx context.Context, input []byte) (uint64, error) {
	if c.profile.GasLimit > 0 {
		return c.profile.GasLimit, nil
	}
	to := c.contract.GetAddress()
	estimated, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: input})
	if err != nil {
		return 0, err
	}
	return ApplyGasMargin(estimated, c.profile.GasMarginPercent), nil
}

func ApplyGasMargin(estimated uint64, percent int) uint64 {
	if percent <= 0 {
		return estimated
	}
	return estimated * uint64(100+percent) / 100
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.profile.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.profile.CallTimeout)
}

func (c *Client) callOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{Context: ctx, From: c.from}
}

// Close releases the RPC connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closer != nil {
		c.closer()
		c.closer = nil
	}
	logger.Info("Chain client closed")
	return nil
}
