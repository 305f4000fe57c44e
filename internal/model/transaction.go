package model

import (
	"time"
)

// Transaction is the append-only ledger row for a confirmed payment.
type Transaction struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	ContractId      string    `json:"contract_id" gorm:"size:16;index;not null"`
	ParticipationId int64     `json:"participation_id" gorm:"index;not null"`
	AdvertiserId    int64     `json:"advertiser_id" gorm:"not null"`
	InfluencerId    int64     `json:"influencer_id" gorm:"index;not null"`
	Amount          Wei       `json:"amount" gorm:"type:varchar(80);not null"`
	PaidAt          time.Time `json:"paid_at" gorm:"not null"`
	TxHash          string    `json:"tx_hash" gorm:"uniqueIndex;not null"`
	BlockNum        uint64    `json:"block_num"`
}

func (Transaction) TableName() string {
	return "payment_transaction"
}
