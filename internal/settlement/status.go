package settlement

import (
	"context"
	"errors"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/blues/greensalary/internal/model"
	"gorm.io/gorm"
)

type PaymentSummary struct {
	TotalInfluencers    int    `json:"totalInfluencers"`
	ApprovedInfluencers int    `json:"approvedInfluencers"`
	PaidInfluencers     int    `json:"paidInfluencers"`
	PendingPayments     int    `json:"pendingPayments"`
	RefundProcessed     bool   `json:"refundProcessed"`
	RefundState         string `json:"refundState"`
	RefundTxHash        string `json:"refundTxHash,omitempty"`
	SettlementEligible  bool   `json:"settlementEligible"`
}

type ParticipantPayment struct {
	InfluencerId  int64  `json:"influencerId"`
	ReviewStatus  string `json:"reviewStatus"`
	RewardPaid    bool   `json:"rewardPaid"`
	PaymentState  string `json:"paymentState"`
	PaymentTxHash string `json:"paymentTxHash,omitempty"`
	PaymentError  string `json:"paymentError,omitempty"`
}

type PaymentStatus struct {
	ContractId   string               `json:"contractId"`
	Summary      PaymentSummary       `json:"paymentSummary"`
	Participants []ParticipantPayment `json:"influencerContracts"`
}

// ContractPaymentStatus reports settlement progress for one contract.
func (e *Engine) ContractPaymentStatus(ctx context.Context, contractId string) (*PaymentStatus, error) {
	var contract model.Contract
	if err := e.db.WithContext(ctx).First(&contract, "id = ?", contractId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("contract %s", contractId)
		}
		return nil, err
	}

	var participations []model.Participation
	if err := e.db.WithContext(ctx).Where("contract_id = ?", contractId).Order("id").Find(&participations).Error; err != nil {
		return nil, err
	}

	status := &PaymentStatus{
		ContractId: contractId,
		Summary: PaymentSummary{
			TotalInfluencers:   len(participations),
			RefundProcessed:    contract.RefundProcessed,
			RefundState:        string(contract.RefundState),
			RefundTxHash:       contract.RefundTxHash,
			SettlementEligible: e.policy.SettlementEligible(contract.UploadWindow(), e.now()),
		},
		Participants: make([]ParticipantPayment, 0, len(participations)),
	}

	for _, p := range participations {
		if p.ReviewStatus == model.ReviewApproved {
			status.Summary.ApprovedInfluencers++
		}
		if p.RewardPaid {
			status.Summary.PaidInfluencers++
		} else if e.isPayable(p.ReviewStatus) {
			status.Summary.PendingPayments++
		}
		status.Participants = append(status.Participants, ParticipantPayment{
			InfluencerId:  p.InfluencerId,
			ReviewStatus:  string(p.ReviewStatus),
			RewardPaid:    p.RewardPaid,
			PaymentState:  string(p.PaymentState),
			PaymentTxHash: p.PaymentTxHash,
			PaymentError:  p.PaymentError,
		})
	}

	return status, nil
}
