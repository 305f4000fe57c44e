package settlement

import (
	"fmt"
	"time"
)

// Outcome statuses for a single payment or refund.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	// StatusPending: broadcast, receipt not seen yet.
	StatusPending = "pending"
	// StatusManual: claimed without a recorded transaction hash. Needs an
	// operator to check the chain before the claim is released.
	StatusManual = "manual"
	// StatusDeferred: refund held back while payments of the contract are unconfirmed.
	StatusDeferred = "deferred"

	StatusSkipped = "skipped"
)

type PaymentOutcome struct {
	ParticipationId int64  `json:"participationId"`
	InfluencerId    int64  `json:"influencerId"`
	Status          string `json:"status"`
	TxHash          string `json:"txHash,omitempty"`
	Error           string `json:"error,omitempty"`
}

type RefundOutcome struct {
	AdvertiserId int64  `json:"advertiserId"`
	Status       string `json:"status"`
	TxHash       string `json:"txHash,omitempty"`
	Error        string `json:"error,omitempty"`
}

type ContractResult struct {
	ContractId string           `json:"contractId"`
	Status     string           `json:"status"` // completed, failed
	Payments   []PaymentOutcome `json:"payments"`
	Refund     *RefundOutcome   `json:"refund"`
	Error      string           `json:"error,omitempty"`
}

// RunResult summarizes one sweep across all eligible contracts.
type RunResult struct {
	Success    bool             `json:"success"`
	Message    string           `json:"message"`
	Summary    Summary          `json:"summary"`
	Results    []ContractResult `json:"results"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
}

type Summary struct {
	Contracts         int `json:"contracts"`
	PaymentsAttempted int `json:"paymentsAttempted"`
	PaymentsSucceeded int `json:"paymentsSucceeded"`
	PaymentsFailed    int `json:"paymentsFailed"`
	PaymentsPending   int `json:"paymentsPending"`
	RefundsAttempted  int `json:"refundsAttempted"`
	RefundsSucceeded  int `json:"refundsSucceeded"`
	RefundsFailed     int `json:"refundsFailed"`
	RefundsDeferred   int `json:"refundsDeferred"`
}

func (r *RunResult) add(cr ContractResult) {
	r.Results = append(r.Results, cr)
	r.Summary.Contracts++
	for _, p := range cr.Payments {
		switch p.Status {
		case StatusSkipped:
			continue
		case StatusSuccess:
			r.Summary.PaymentsSucceeded++
		case StatusPending:
			r.Summary.PaymentsPending++
		default:
			r.Summary.PaymentsFailed++
		}
		r.Summary.PaymentsAttempted++
	}
	if cr.Refund != nil && cr.Refund.Status == StatusDeferred {
		r.Summary.RefundsDeferred++
	} else if cr.Refund != nil && cr.Refund.Status != StatusSkipped {
		r.Summary.RefundsAttempted++
		switch cr.Refund.Status {
		case StatusSuccess:
			r.Summary.RefundsSucceeded++
		case StatusFailed, StatusManual:
			r.Summary.RefundsFailed++
		}
	}
}

func (r *RunResult) finish(now time.Time) {
	r.FinishedAt = now
	r.Success = true
	if r.Summary.Contracts == 0 {
		r.Message = "No expired contracts to process"
		return
	}
	r.Message = fmt.Sprintf("%d of %d payments succeeded, %d of %d refunds succeeded across %d contracts",
		r.Summary.PaymentsSucceeded, r.Summary.PaymentsAttempted,
		r.Summary.RefundsSucceeded, r.Summary.RefundsAttempted,
		r.Summary.Contracts)
}
