package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/blues/greensalary/internal/chain"
	"github.com/blues/greensalary/internal/logger"
	"github.com/blues/greensalary/internal/metrics"
	"github.com/blues/greensalary/internal/model"
	"gorm.io/gorm"
)

// refundContract makes at most one refund attempt for the contract. A failed
// or deferred attempt leaves refund_processed false so the next sweep tries again.
func (e *Engine) refundContract(ctx context.Context, contract *model.Contract) (RefundOutcome, error) {
	out := RefundOutcome{AdvertiserId: contract.AdvertiserId}

	fail := func(err error) (RefundOutcome, error) {
		logger.Error("Refund error for contract %s: %v", contract.Id, err)
		out.Status = StatusFailed
		out.Error = err.Error()
		e.metrics.Refund(metrics.ResultFailed)
		return out, err
	}

	switch contract.RefundState {
	case model.RefundStateSubmitted:
		return e.reconcileRefund(ctx, contract)
	case model.RefundStateProcessing:
		logger.Warn("Refund for contract %s was claimed without a transaction hash; check the chain before releasing it", contract.Id)
		out.Status = StatusManual
		out.Error = "refund claimed without a recorded transaction; verify on chain before retrying"
		return out, nil
	}

	// the refund drains the remaining escrow, which is unknown until every
	// payment of the contract has settled
	var unsettled int64
	err := e.db.WithContext(ctx).Model(&model.Participation{}).
		Where("contract_id = ? AND reward_paid = ? AND payment_state IN ?", contract.Id, false,
			[]model.PaymentState{model.PaymentSubmitted, model.PaymentProcessing}).
		Count(&unsettled).Error
	if err != nil {
		return fail(fmt.Errorf("failed to check unsettled payments for contract %s: %w", contract.Id, err))
	}
	if unsettled > 0 {
		logger.Warn("Refund for contract %s deferred: %d payments awaiting confirmation", contract.Id, unsettled)
		out.Status = StatusDeferred
		out.Error = fmt.Sprintf("%d payments awaiting confirmation", unsettled)
		return out, nil
	}

	var advertiser model.Advertiser
	if err := e.db.WithContext(ctx).First(&advertiser, contract.AdvertiserId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = apperr.NotFound("advertiser %d", contract.AdvertiserId)
		}
		e.recordRefundError(ctx, contract.Id, err)
		return fail(err)
	}
	if advertiser.WalletAddress == "" {
		err := apperr.Validation("advertiser %d has no wallet address", contract.AdvertiserId)
		e.recordRefundError(ctx, contract.Id, err)
		return fail(err)
	}

	claimed := e.db.WithContext(ctx).Model(&model.Contract{}).
		Where("id = ? AND refund_processed = ? AND refund_state IN ?", contract.Id, false,
			[]model.RefundState{model.RefundStateNone, model.RefundStateFailed}).
		Updates(map[string]interface{}{
			"refund_state": model.RefundStateProcessing,
			"refund_error": "",
		})
	if claimed.Error != nil {
		return fail(fmt.Errorf("failed to claim refund for contract %s: %w", contract.Id, claimed.Error))
	}
	if claimed.RowsAffected == 0 {
		out.Status = StatusSkipped
		out.Error = "refund already claimed"
		return out, nil
	}

	onSubmit := func(txHash string) error {
		return e.markRefundSubmitted(ctx, contract.Id, txHash)
	}
	result, err := e.gateway.RefundAdvertiser(ctx, contract.SmartContractId, advertiser.WalletAddress, onSubmit)
	if err != nil {
		if errors.Is(err, chain.ErrUnconfirmed) && result != nil {
			if serr := e.markRefundSubmitted(ctx, contract.Id, result.TxHash); serr != nil {
				logger.Error("Failed to record pending refund %s for contract %s: %v", result.TxHash, contract.Id, serr)
			}
			out.Status = StatusPending
			out.TxHash = result.TxHash
			out.Error = err.Error()
			e.metrics.Refund(metrics.ResultPending)
			return out, err
		}
		e.markRefundFailed(ctx, contract.Id, err)
		return fail(err)
	}

	if err := e.markRefunded(ctx, contract.Id, result); err != nil {
		logger.Error("Refund %s for contract %s succeeded but was not recorded: %v", result.TxHash, contract.Id, err)
		out.Status = StatusPending
		out.TxHash = result.TxHash
		out.Error = err.Error()
		return out, err
	}

	logger.Info("Refunded advertiser %d for contract %s: %s", contract.AdvertiserId, contract.Id, result.TxHash)
	out.Status = StatusSuccess
	out.TxHash = result.TxHash
	e.metrics.Refund(metrics.ResultSuccess)
	return out, nil
}

func (e *Engine) reconcileRefund(ctx context.Context, contract *model.Contract) (RefundOutcome, error) {
	out := RefundOutcome{AdvertiserId: contract.AdvertiserId, TxHash: contract.RefundTxHash}

	receipt, err := e.gateway.ReceiptStatus(ctx, contract.RefundTxHash)
	if err != nil {
		out.Status = StatusPending
		out.Error = err.Error()
		return out, err
	}

	switch receipt.State {
	case chain.ReceiptSucceeded:
		if err := e.markRefunded(ctx, contract.Id, receipt.Result); err != nil {
			out.Status = StatusPending
			out.Error = err.Error()
			return out, err
		}
		logger.Info("Reconciled refund %s for contract %s", contract.RefundTxHash, contract.Id)
		out.Status = StatusSuccess
		e.metrics.Refund(metrics.ResultSuccess)
		return out, nil

	case chain.ReceiptReverted:
		err := apperr.ChainFailed("refundAdvertiser", fmt.Errorf("%w: %s", chain.ErrReverted, contract.RefundTxHash))
		e.markRefundFailed(ctx, contract.Id, err)
		out.Status = StatusFailed
		out.Error = err.Error()
		e.metrics.Refund(metrics.ResultFailed)
		return out, err

	default:
		out.Status = StatusPending
		out.Error = "transaction not yet mined"
		return out, nil
	}
}

func (e *Engine) markRefundSubmitted(ctx context.Context, contractId, txHash string) error {
	return e.store(ctx).Model(&model.Contract{}).
		Where("id = ? AND refund_processed = ?", contractId, false).
		Updates(map[string]interface{}{
			"refund_state":   model.RefundStateSubmitted,
			"refund_tx_hash": txHash,
		}).Error
}

func (e *Engine) markRefundFailed(ctx context.Context, contractId string, cause error) {
	err := e.store(ctx).Model(&model.Contract{}).
		Where("id = ? AND refund_processed = ?", contractId, false).
		Updates(map[string]interface{}{
			"refund_state":   model.RefundStateFailed,
			"refund_tx_hash": "",
			"refund_error":   cause.Error(),
		}).Error
	if err != nil {
		logger.Error("Failed to record refund failure for contract %s: %v", contractId, err)
	}
}

func (e *Engine) recordRefundError(ctx context.Context, contractId string, cause error) {
	err := e.store(ctx).Model(&model.Contract{}).
		Where("id = ?", contractId).
		Update("refund_error", cause.Error()).Error
	if err != nil {
		logger.Error("Failed to record refund error for contract %s: %v", contractId, err)
	}
}

// markRefunded flips refund_processed exactly once.
func (e *Engine) markRefunded(ctx context.Context, contractId string, result *chain.TxResult) error {
	res := e.store(ctx).Model(&model.Contract{}).
		Where("id = ? AND refund_processed = ?", contractId, false).
		Updates(map[string]interface{}{
			"refund_processed":    true,
			"refund_processed_at": e.now(),
			"refund_state":        model.RefundStateDone,
			"refund_tx_hash":      result.TxHash,
			"refund_error":        "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		logger.Warn("Contract %s refund was already recorded", contractId)
	}
	return nil
}

// ProcessContractRefund is the manual refund path for one contract.
func (e *Engine) ProcessContractRefund(ctx context.Context, contractId string) (*RefundOutcome, error) {
	var contract model.Contract
	if err := e.db.WithContext(ctx).First(&contract, "id = ?", contractId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("contract %s", contractId)
		}
		return nil, err
	}
	if contract.RefundProcessed {
		return nil, apperr.Conflict("contract %s is already refunded", contractId)
	}
	if contract.RefundState == model.RefundStateProcessing {
		return nil, apperr.Conflict("refund for contract %s is already in progress", contractId)
	}

	out, err := e.refundContract(ctx, &contract)
	if err != nil {
		return &out, err
	}
	switch out.Status {
	case StatusSkipped:
		return &out, apperr.Conflict("refund for contract %s is already in progress", contractId)
	case StatusDeferred:
		return &out, apperr.Conflict("refund for contract %s is deferred: %s", contractId, out.Error)
	}
	return &out, nil
}
