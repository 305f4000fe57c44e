package model

import (
	"time"
)

// Participation is one influencer's join record against a contract.
type Participation struct {
	Id        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ContractId   string    `json:"contract_id" gorm:"size:16;not null;uniqueIndex:idx_participation_pair"`
	InfluencerId int64     `json:"influencer_id" gorm:"not null;uniqueIndex:idx_participation_pair"`
	AdvertiserId int64     `json:"advertiser_id" gorm:"index;not null"`
	JoinedAt     time.Time `json:"joined_at" gorm:"not null"`

	Url            string         `json:"url"`
	KeywordTest    bool           `json:"keyword_test"`
	ConditionTest  bool           `json:"condition_test"`
	WordCountTest  bool           `json:"word_count_test"`
	ImageCountTest bool           `json:"image_count_test"`
	PdfUrl         string         `json:"pdf_url"`
	AnalysisStatus AnalysisStatus `json:"analysis_status" gorm:"size:16;default:'not_submitted';not null"`

	ReviewStatus ReviewStatus `json:"review_status" gorm:"size:16;index;default:'PENDING';not null"`

	RewardPaid    bool         `json:"reward_paid" gorm:"default:false;not null"`
	RewardPaidAt  *time.Time   `json:"reward_paid_at"`
	PaymentState  PaymentState `json:"payment_state" gorm:"size:16;default:'unpaid';not null"`
	PaymentTxHash string       `json:"payment_tx_hash"`
	PaymentError  string       `json:"payment_error" gorm:"type:text"`
}

type ReviewStatus string

const (
	ReviewPending        ReviewStatus = "PENDING"
	ReviewApproved       ReviewStatus = "APPROVED"
	ReviewRejected       ReviewStatus = "REJECTED"
	ReviewFromAdvertiser ReviewStatus = "REVIEW_FROM_ADV"
	ReviewFromInfluencer ReviewStatus = "REVIEW_FROM_INF"
)

func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewPending, ReviewApproved, ReviewRejected, ReviewFromAdvertiser, ReviewFromInfluencer:
		return true
	}
	return false
}

type AnalysisStatus string

const (
	AnalysisNotSubmitted AnalysisStatus = "not_submitted"
	AnalysisAnalyzing    AnalysisStatus = "analyzing"
	AnalysisCompleted    AnalysisStatus = "completed"
	AnalysisFailed       AnalysisStatus = "failed"
)

// PaymentState: unpaid -> processing -> submitted -> paid, or failed.
// processing means claimed by a settlement pass but not yet broadcast.
type PaymentState string

const (
	PaymentUnpaid     PaymentState = "unpaid"
	PaymentProcessing PaymentState = "processing"
	PaymentSubmitted  PaymentState = "submitted"
	PaymentPaid       PaymentState = "paid"
	PaymentFailed     PaymentState = "failed"
)

// AllTestsPassed reports whether every AI check succeeded.
func (p *Participation) AllTestsPassed() bool {
	return p.KeywordTest && p.ConditionTest && p.WordCountTest && p.ImageCountTest
}

func (Participation) TableName() string {
	return "influencer_contract"
}
