package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/blues/greensalary/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// EscrowEvent is a payout or refund log emitted by the escrow contract.
type EscrowEvent struct {
	Name        string
	AdId        int64
	Party       string // influencer or advertiser wallet
	Amount      *big.Int
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
}

// LatestBlock returns the node's head block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, apperr.ChainFailed("blockNumber", err)
	}
	return n, nil
}

// EscrowEvents returns the InfluencerPaid and AdvertiserRefunded logs in
// [from, to], in block order.
func (c *Client) EscrowEvents(ctx context.Context, from, to uint64) ([]EscrowEvent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var topics []common.Hash
	for _, name := range []string{EventInfluencerPaid, EventAdvertiserRefunded} {
		if ev, ok := c.contract.abi.Events[name]; ok {
			topics = append(topics, ev.ID)
		}
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("contract ABI has no payout events")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract.address},
		Topics:    [][]common.Hash{topics},
	})
	if err != nil {
		return nil, apperr.ChainFailed("filterLogs", err)
	}

	events := make([]EscrowEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		fields, err := c.contract.ParseEvent(l)
		if err != nil {
			logger.Warn("Skipping unparsable log %d in %s: %v", l.Index, l.TxHash.Hex(), err)
			continue
		}
		ev := EscrowEvent{
			Name:        fmt.Sprint(fields["eventName"]),
			TxHash:      l.TxHash.Hex(),
			BlockNumber: l.BlockNumber,
			LogIndex:    l.Index,
		}
		if adId, ok := fields["adId"].(*big.Int); ok {
			ev.AdId = adId.Int64()
		}
		for _, key := range []string{"influencer", "advertiser"} {
			if addr, ok := fields[key].(common.Address); ok {
				ev.Party = addr.Hex()
			}
		}
		if amount, ok := fields["amount"].(*big.Int); ok {
			ev.Amount = amount
		}
		events = append(events, ev)
	}
	return events, nil
}
