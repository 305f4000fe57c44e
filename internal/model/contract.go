package model

import (
	"time"

	"github.com/blues/greensalary/internal/window"
)

// Contract is an advertising campaign posted by an advertiser.
type Contract struct {
	Id        string    `json:"id" gorm:"primaryKey;size:16"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AccessCode   string `json:"access_code" gorm:"uniqueIndex;size:10;not null"`
	AdvertiserId int64  `json:"advertiser_id" gorm:"index;not null"`
	Title        string `json:"title" gorm:"not null"`
	Description  string `json:"description" gorm:"type:text"`
	PhotoUrl     string `json:"photo_url"`
	Site         string `json:"site" gorm:"not null"`

	Reward       Wei `json:"reward" gorm:"type:varchar(80);not null"`
	Recruits     int `json:"recruits" gorm:"not null"`
	Participants int `json:"participants" gorm:"default:0;not null"`

	UploadStartDate   time.Time  `json:"upload_start_date" gorm:"not null"`
	UploadEndDate     time.Time  `json:"upload_end_date" gorm:"index;not null"`
	MaintainStartDate *time.Time `json:"maintain_start_date"`
	MaintainEndDate   *time.Time `json:"maintain_end_date"`

	Keywords   []string `json:"keywords" gorm:"serializer:json"`
	Conditions []string `json:"conditions" gorm:"serializer:json"`
	MediaText  int      `json:"media_text"`
	MediaImage int      `json:"media_image"`

	// on-chain campaign id
	SmartContractId int64 `json:"smart_contract_id"`

	RefundProcessed   bool        `json:"refund_processed" gorm:"default:false;not null"`
	RefundProcessedAt *time.Time  `json:"refund_processed_at"`
	RefundState       RefundState `json:"refund_state" gorm:"size:16;default:'none';not null"`
	RefundTxHash      string      `json:"refund_tx_hash"`
	RefundError       string      `json:"refund_error" gorm:"type:text"`
}

// RefundState tracks an in-flight refund so a broadcast transaction is
// reconciled from its receipt instead of being sent twice.
type RefundState string

const (
	RefundStateNone       RefundState = "none"
	RefundStateProcessing RefundState = "processing"
	RefundStateSubmitted  RefundState = "submitted"
	RefundStateDone       RefundState = "done"
	RefundStateFailed     RefundState = "failed"
)

func (c *Contract) UploadWindow() window.Window {
	return window.Window{Start: c.UploadStartDate, End: c.UploadEndDate}
}

func (Contract) TableName() string {
	return "contract"
}
