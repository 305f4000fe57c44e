// Package settlement pays approved influencers and refunds advertisers once
// a contract's upload window and settlement grace period have passed.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/blues/greensalary/internal/chain"
	"github.com/blues/greensalary/internal/logger"
	"github.com/blues/greensalary/internal/metrics"
	"github.com/blues/greensalary/internal/model"
	"github.com/blues/greensalary/internal/window"
	"gorm.io/gorm"
)

// Gateway is the chain side of settlement. *chain.Client implements it.
type Gateway interface {
	PayInfluencer(ctx context.Context, campaignId, influencerId int64, wallet string, onSubmit chain.SubmitFunc) (*chain.TxResult, error)
	RefundAdvertiser(ctx context.Context, campaignId int64, wallet string, onSubmit chain.SubmitFunc) (*chain.TxResult, error)
	ReceiptStatus(ctx context.Context, txHash string) (*chain.Receipt, error)
}

type Engine struct {
	db      *gorm.DB
	gateway Gateway
	policy  window.Policy
	payable []model.ReviewStatus
	metrics *metrics.Collector
	now     func() time.Time
}

type Option func(*Engine)

func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPayableStatuses overrides which review statuses are paid. Defaults to APPROVED.
func WithPayableStatuses(statuses []model.ReviewStatus) Option {
	return func(e *Engine) {
		if len(statuses) > 0 {
			e.payable = statuses
		}
	}
}

func NewEngine(db *gorm.DB, gateway Gateway, policy window.Policy, opts ...Option) *Engine {
	e := &Engine{
		db:      db,
		gateway: gateway,
		policy:  policy,
		payable: []model.ReviewStatus{model.ReviewApproved},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// store is the handle for write-backs that follow a chain call. They ignore
// cancellation of ctx so a broadcast or failed call is always recorded.
func (e *Engine) store(ctx context.Context) *gorm.DB {
	return e.db.WithContext(context.WithoutCancel(ctx))
}

func (e *Engine) isPayable(s model.ReviewStatus) bool {
	for _, p := range e.payable {
		if p == s {
			return true
		}
	}
	return false
}

// ExecuteAutoPay settles every contract past its settlement cutoff that has
// not been refunded. The eligible set is re-derived from the database on
// every call, so a partially settled contract resumes where it left off.
func (e *Engine) ExecuteAutoPay(ctx context.Context) (*RunResult, error) {
	now := e.now()
	result := &RunResult{StartedAt: now, Results: []ContractResult{}}

	var contracts []model.Contract
	err := e.db.WithContext(ctx).
		Where("upload_end_date < ? AND refund_processed = ?", e.policy.SettlementCutoff(now), false).
		Order("upload_end_date").
		Find(&contracts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch settlement candidates: %w", err)
	}

	logger.Info("Starting auto payment for %d expired contracts", len(contracts))

	for i := range contracts {
		contract := &contracts[i]
		cr, err := e.ProcessContract(ctx, contract)
		if err != nil {
			logger.Error("Contract %s processing error: %v", contract.Id, err)
			cr = ContractResult{
				ContractId: contract.Id,
				Status:     StatusFailed,
				Payments:   []PaymentOutcome{},
				Error:      err.Error(),
			}
		}
		result.add(cr)
	}

	result.finish(e.now())
	logger.Info("Auto payment finished: %s", result.Message)
	return result, nil
}

// ProcessContract pays every eligible participant of the contract, then makes
// a single refund attempt. The refund is deferred while any payment is still
// unconfirmed, and the contract stays in later sweeps until it is refunded.
// Per-participant failures are recorded in the result; only failures to read
// the contract's participants are returned.
func (e *Engine) ProcessContract(ctx context.Context, contract *model.Contract) (ContractResult, error) {
	cr := ContractResult{ContractId: contract.Id, Status: "completed", Payments: []PaymentOutcome{}}

	// transactions broadcast by an earlier pass are settled from their
	// receipts before anything new is sent
	var inFlight []model.Participation
	err := e.db.WithContext(ctx).
		Where("contract_id = ? AND reward_paid = ? AND payment_state IN ?", contract.Id, false,
			[]model.PaymentState{model.PaymentSubmitted, model.PaymentProcessing}).
		Order("id").
		Find(&inFlight).Error
	if err != nil {
		return cr, fmt.Errorf("failed to fetch in-flight payments: %w", err)
	}

	handled := make([]int64, 0, len(inFlight))
	for i := range inFlight {
		p := &inFlight[i]
		handled = append(handled, p.Id)
		if p.PaymentState == model.PaymentProcessing {
			cr.Payments = append(cr.Payments, manualOutcome(p))
			continue
		}
		outcome, _ := e.reconcilePayment(ctx, contract, p)
		cr.Payments = append(cr.Payments, outcome)
	}

	var eligible []model.Participation
	q := e.db.WithContext(ctx).
		Where("contract_id = ? AND reward_paid = ? AND review_status IN ? AND payment_state IN ?",
			contract.Id, false, e.payable, []model.PaymentState{model.PaymentUnpaid, model.PaymentFailed})
	if len(handled) > 0 {
		q = q.Where("id NOT IN ?", handled)
	}
	if err := q.Order("id").Find(&eligible).Error; err != nil {
		return cr, fmt.Errorf("failed to fetch eligible participants: %w", err)
	}

	for i := range eligible {
		outcome, _ := e.payParticipation(ctx, contract, &eligible[i])
		cr.Payments = append(cr.Payments, outcome)
	}

	refund, _ := e.refundContract(ctx, contract)
	cr.Refund = &refund

	return cr, nil
}
