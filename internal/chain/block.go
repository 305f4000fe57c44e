package chain

import (
	"context"
	"errors"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type ReceiptState string

const (
	ReceiptPending   ReceiptState = "pending"
	ReceiptSucceeded ReceiptState = "succeeded"
	ReceiptReverted  ReceiptState = "reverted"
)

// Receipt is the reconciled state of a previously broadcast transaction.
type Receipt struct {
	State  ReceiptState
	Result *TxResult
}

// ReceiptStatus looks up a broadcast transaction. A transaction the node
// does not know yet is reported as pending.
func (c *Client) ReceiptStatus(ctx context.Context, txHash string) (*Receipt, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	receipt, err := c.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return &Receipt{State: ReceiptPending, Result: &TxResult{TxHash: txHash}}, nil
	}
	if err != nil {
		return nil, apperr.ChainFailed("receipt "+txHash, err)
	}

	result := resultFromReceipt(receipt)
	if receipt.Status != types.ReceiptStatusSuccessful {
		return &Receipt{State: ReceiptReverted, Result: result}, nil
	}

	result.Amount = c.contract.eventAmount(receipt, EventInfluencerPaid)
	if result.Amount == nil {
		result.Amount = c.contract.eventAmount(receipt, EventAdvertiserRefunded)
	}
	return &Receipt{State: ReceiptSucceeded, Result: result}, nil
}

func resultFromReceipt(receipt *types.Receipt) *TxResult {
	result := &TxResult{
		TxHash:  receipt.TxHash.Hex(),
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return result
}
