package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/blues/greensalary/internal/model"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

type Balance struct {
	Wei   string `json:"wei"`
	Ether string `json:"ether"`
}

type AdInfo struct {
	Advertiser    string    `json:"advertiser"`
	Reward        string    `json:"reward"`
	RewardWei     string    `json:"rewardWei"`
	MaxInfluencer uint64    `json:"maxInfluencer"`
	Deadline      time.Time `json:"deadline"`
	AcceptedCount uint64    `json:"acceptedCount"`
	IsClosed      bool      `json:"isClosed"`
}

type InfluencerInfo struct {
	Influencer string    `json:"influencer"`
	Paid       bool      `json:"paid"`
	JoinTime   time.Time `json:"joinTime"`
}

// Status describes the node connection; Error is set instead of failing.
type Status struct {
	Connected       bool   `json:"connected"`
	Env             string `json:"env"`
	ChainId         int64  `json:"chainId"`
	NetworkId       string `json:"networkId,omitempty"`
	LatestBlock     uint64 `json:"latestBlock,omitempty"`
	ContractAddress string `json:"contractAddress"`
	Account         string `json:"account"`
	AccountBalance  string `json:"accountBalance,omitempty"`
	Error           string `json:"error,omitempty"`
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var out []interface{}
	if err := c.bound.Call(c.callOpts(ctx), &out, method, args...); err != nil {
		return nil, apperr.ChainFailed(method, err)
	}
	return out, nil
}

// expectOutputs guards against an artifact ABI that does not match the deployed contract.
func expectOutputs(method string, out []interface{}, n int) error {
	if len(out) < n {
		return apperr.ChainFailed(method, fmt.Errorf("unexpected output length %d, want %d", len(out), n))
	}
	return nil
}

// GetContractBalance returns the escrow contract's balance.
func (c *Client) GetContractBalance(ctx context.Context) (*Balance, error) {
	out, err := c.call(ctx, "getBalance")
	if err != nil {
		return nil, err
	}
	if err := expectOutputs("getBalance", out, 1); err != nil {
		return nil, err
	}
	wei := model.NewWei(abi.ConvertType(out[0], new(big.Int)).(*big.Int))
	return &Balance{Wei: wei.String(), Ether: wei.Ether()}, nil
}

func (c *Client) GetAdInfo(ctx context.Context, adId int64) (*AdInfo, error) {
	out, err := c.call(ctx, "getAd", big.NewInt(adId))
	if err != nil {
		return nil, err
	}
	if err := expectOutputs("getAd", out, 6); err != nil {
		return nil, err
	}

	reward := model.NewWei(abi.ConvertType(out[1], new(big.Int)).(*big.Int))
	return &AdInfo{
		Advertiser:    (*abi.ConvertType(out[0], new(common.Address)).(*common.Address)).Hex(),
		Reward:        reward.Ether(),
		RewardWei:     reward.String(),
		MaxInfluencer: abi.ConvertType(out[2], new(big.Int)).(*big.Int).Uint64(),
		Deadline:      time.Unix(abi.ConvertType(out[3], new(big.Int)).(*big.Int).Int64(), 0).UTC(),
		AcceptedCount: abi.ConvertType(out[4], new(big.Int)).(*big.Int).Uint64(),
		IsClosed:      *abi.ConvertType(out[5], new(bool)).(*bool),
	}, nil
}

func (c *Client) GetInfluencerInfo(ctx context.Context, adId int64, wallet string) (*InfluencerInfo, error) {
	if !common.IsHexAddress(wallet) {
		return nil, apperr.Validation("invalid wallet address %q", wallet)
	}
	out, err := c.call(ctx, "getInfluencerInfo", big.NewInt(adId), common.HexToAddress(wallet))
	if err != nil {
		return nil, err
	}
	if err := expectOutputs("getInfluencerInfo", out, 3); err != nil {
		return nil, err
	}

	return &InfluencerInfo{
		Influencer: (*abi.ConvertType(out[0], new(common.Address)).(*common.Address)).Hex(),
		Paid:       *abi.ConvertType(out[1], new(bool)).(*bool),
		JoinTime:   time.Unix(abi.ConvertType(out[2], new(big.Int)).(*big.Int).Int64(), 0).UTC(),
	}, nil
}

// GetStatus probes the node. It never fails; problems are reported in Status.Error.
func (c *Client) GetStatus(ctx context.Context) *Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &Status{
		Env:             c.env,
		ChainId:         c.profile.ChainId,
		ContractAddress: c.contract.GetAddress().Hex(),
		Account:         c.from.Hex(),
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	block, err := c.backend.BlockNumber(ctx)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Connected = true
	status.LatestBlock = block

	if id, err := c.backend.NetworkID(ctx); err == nil {
		status.NetworkId = id.String()
	}
	if bal, err := c.backend.BalanceAt(ctx, c.from, nil); err == nil {
		status.AccountBalance = model.NewWei(bal).Ether()
	}
	return status
}
