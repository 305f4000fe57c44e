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

var errAlreadyRecorded = errors.New("payment already recorded")

func manualOutcome(p *model.Participation) PaymentOutcome {
	logger.Warn("Participation %d (influencer %d) was claimed for payment without a transaction hash; check the chain before releasing it",
		p.Id, p.InfluencerId)
	return PaymentOutcome{
		ParticipationId: p.Id,
		InfluencerId:    p.InfluencerId,
		Status:          StatusManual,
		Error:           "payment claimed without a recorded transaction; verify on chain before retrying",
	}
}

// payParticipation claims the participation, sends the payment and writes
// the result back. The returned error is the cause of a failed outcome.
func (e *Engine) payParticipation(ctx context.Context, contract *model.Contract, p *model.Participation) (PaymentOutcome, error) {
	out := PaymentOutcome{ParticipationId: p.Id, InfluencerId: p.InfluencerId}

	fail := func(err error) (PaymentOutcome, error) {
		logger.Error("Payment error for contract %s influencer %d: %v", contract.Id, p.InfluencerId, err)
		out.Status = StatusFailed
		out.Error = err.Error()
		e.metrics.Payment(metrics.ResultFailed)
		return out, err
	}

	var influencer model.Influencer
	if err := e.db.WithContext(ctx).First(&influencer, p.InfluencerId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail(apperr.NotFound("influencer %d", p.InfluencerId))
		}
		return fail(fmt.Errorf("failed to load influencer %d: %w", p.InfluencerId, err))
	}
	if influencer.WalletAddress == "" {
		return fail(apperr.Validation("influencer %d has no wallet address", p.InfluencerId))
	}

	claimed := e.db.WithContext(ctx).Model(&model.Participation{}).
		Where("id = ? AND reward_paid = ? AND review_status IN ? AND payment_state IN ?", p.Id, false,
			e.payable, []model.PaymentState{model.PaymentUnpaid, model.PaymentFailed}).
		Updates(map[string]interface{}{
			"payment_state": model.PaymentProcessing,
			"payment_error": "",
		})
	if claimed.Error != nil {
		return fail(fmt.Errorf("failed to claim participation %d: %w", p.Id, claimed.Error))
	}
	if claimed.RowsAffected == 0 {
		out.Status = StatusSkipped
		out.Error = "claimed or changed by another request"
		return out, nil
	}

	onSubmit := func(txHash string) error {
		return e.markSubmitted(ctx, p.Id, txHash)
	}
	result, err := e.gateway.PayInfluencer(ctx, contract.SmartContractId, influencer.Id, influencer.WalletAddress, onSubmit)
	if err != nil {
		if errors.Is(err, chain.ErrUnconfirmed) && result != nil {
			// stays submitted; the next pass reads the receipt
			if serr := e.markSubmitted(ctx, p.Id, result.TxHash); serr != nil {
				logger.Error("Failed to record pending payment %s for participation %d: %v", result.TxHash, p.Id, serr)
			}
			logger.Warn("Payment for contract %s influencer %d is unconfirmed: %s", contract.Id, p.InfluencerId, result.TxHash)
			out.Status = StatusPending
			out.TxHash = result.TxHash
			out.Error = err.Error()
			e.metrics.Payment(metrics.ResultPending)
			return out, err
		}
		e.markFailed(ctx, p.Id, err)
		return fail(err)
	}

	if err := e.markPaid(ctx, contract, p, result); err != nil && !errors.Is(err, errAlreadyRecorded) {
		// paid on chain but not recorded; the submitted hash is reconciled next pass
		logger.Error("Payment %s for participation %d succeeded but was not recorded: %v", result.TxHash, p.Id, err)
		out.Status = StatusPending
		out.TxHash = result.TxHash
		out.Error = err.Error()
		e.metrics.Payment(metrics.ResultPending)
		return out, err
	}

	logger.Info("Paid influencer %d for contract %s: %s", p.InfluencerId, contract.Id, result.TxHash)
	out.Status = StatusSuccess
	out.TxHash = result.TxHash
	e.metrics.Payment(metrics.ResultSuccess)
	return out, nil
}

// reconcilePayment settles a submitted payment from its receipt.
func (e *Engine) reconcilePayment(ctx context.Context, contract *model.Contract, p *model.Participation) (PaymentOutcome, error) {
	out := PaymentOutcome{ParticipationId: p.Id, InfluencerId: p.InfluencerId, TxHash: p.PaymentTxHash}

	receipt, err := e.gateway.ReceiptStatus(ctx, p.PaymentTxHash)
	if err != nil {
		logger.Error("Failed to check receipt %s for participation %d: %v", p.PaymentTxHash, p.Id, err)
		out.Status = StatusPending
		out.Error = err.Error()
		return out, err
	}

	switch receipt.State {
	case chain.ReceiptSucceeded:
		if err := e.markPaid(ctx, contract, p, receipt.Result); err != nil && !errors.Is(err, errAlreadyRecorded) {
			out.Status = StatusPending
			out.Error = err.Error()
			return out, err
		}
		logger.Info("Reconciled payment %s for participation %d", p.PaymentTxHash, p.Id)
		out.Status = StatusSuccess
		e.metrics.Payment(metrics.ResultSuccess)
		return out, nil

	case chain.ReceiptReverted:
		err := apperr.ChainFailed("payInfluencer", fmt.Errorf("%w: %s", chain.ErrReverted, p.PaymentTxHash))
		e.markFailed(ctx, p.Id, err)
		out.Status = StatusFailed
		out.Error = err.Error()
		e.metrics.Payment(metrics.ResultFailed)
		return out, err

	default:
		out.Status = StatusPending
		out.Error = "transaction not yet mined"
		return out, nil
	}
}

func (e *Engine) markSubmitted(ctx context.Context, id int64, txHash string) error {
	return e.store(ctx).Model(&model.Participation{}).
		Where("id = ? AND reward_paid = ?", id, false).
		Updates(map[string]interface{}{
			"payment_state":   model.PaymentSubmitted,
			"payment_tx_hash": txHash,
		}).Error
}

func (e *Engine) markFailed(ctx context.Context, id int64, cause error) {
	err := e.store(ctx).Model(&model.Participation{}).
		Where("id = ? AND reward_paid = ?", id, false).
		Updates(map[string]interface{}{
			"payment_state":   model.PaymentFailed,
			"payment_tx_hash": "",
			"payment_error":   cause.Error(),
		}).Error
	if err != nil {
		logger.Error("Failed to record payment failure for participation %d: %v", id, err)
	}
}

// markPaid flips reward_paid and appends the ledger row in one transaction.
// The update is conditional on reward_paid still being false, so a record is
// never marked paid twice.
func (e *Engine) markPaid(ctx context.Context, contract *model.Contract, p *model.Participation, result *chain.TxResult) error {
	now := e.now()
	amount := contract.Reward
	if result.Amount != nil {
		amount = model.NewWei(result.Amount)
	}

	return e.store(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Participation{}).
			Where("id = ? AND reward_paid = ?", p.Id, false).
			Updates(map[string]interface{}{
				"reward_paid":     true,
				"reward_paid_at":  now,
				"payment_state":   model.PaymentPaid,
				"payment_tx_hash": result.TxHash,
				"payment_error":   "",
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadyRecorded
		}

		return tx.Create(&model.Transaction{
			ContractId:      contract.Id,
			ParticipationId: p.Id,
			AdvertiserId:    contract.AdvertiserId,
			InfluencerId:    p.InfluencerId,
			Amount:          amount,
			PaidAt:          now,
			TxHash:          result.TxHash,
			BlockNum:        result.BlockNumber,
		}).Error
	})
}

// PayIndividualInfluencer is the manual payout path. It applies the same
// eligibility predicate and write-back as a sweep.
func (e *Engine) PayIndividualInfluencer(ctx context.Context, influencerId int64, contractId string) (*PaymentOutcome, error) {
	var p model.Participation
	err := e.db.WithContext(ctx).
		Where("influencer_id = ? AND contract_id = ?", influencerId, contractId).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("influencer %d has not joined contract %s", influencerId, contractId)
		}
		return nil, err
	}

	if p.RewardPaid {
		return nil, apperr.InvalidTransition("reward already paid for influencer %d in contract %s", influencerId, contractId)
	}

	var contract model.Contract
	if err := e.db.WithContext(ctx).First(&contract, "id = ?", contractId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("contract %s", contractId)
		}
		return nil, err
	}

	switch p.PaymentState {
	case model.PaymentSubmitted:
		out, err := e.reconcilePayment(ctx, &contract, &p)
		return &out, err
	case model.PaymentProcessing:
		return nil, apperr.Conflict("payment for influencer %d is already in progress", influencerId)
	}

	if !e.isPayable(p.ReviewStatus) {
		return nil, apperr.InvalidTransition("review status %s is not payable", p.ReviewStatus)
	}

	out, err := e.payParticipation(ctx, &contract, &p)
	if err != nil {
		return &out, err
	}
	if out.Status == StatusSkipped {
		return &out, apperr.Conflict("participation of influencer %d in contract %s was claimed or changed concurrently", influencerId, contractId)
	}
	return &out, nil
}
