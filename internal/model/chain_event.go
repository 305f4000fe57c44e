package model

import (
	"time"
)

// ChainEvent is a payout or refund log read back from the escrow contract.
// Matched is false while no ledger row or refunded contract carries the
// event's transaction hash.
type ChainEvent struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	EventName string `json:"event_name" gorm:"size:32;not null"`
	TxHash    string `json:"tx_hash" gorm:"size:66;uniqueIndex:idx_chain_event_log;not null"`
	LogIndex  int64  `json:"log_index" gorm:"uniqueIndex:idx_chain_event_log"`
	BlockNum  int64  `json:"block_num" gorm:"index;not null"`
	AdId      int64  `json:"ad_id" gorm:"index"`
	Party     string `json:"party" gorm:"size:42"`
	Amount    Wei    `json:"amount" gorm:"type:varchar(80)"`
	Matched   bool   `json:"matched" gorm:"default:false;not null"`
}

func (ChainEvent) TableName() string {
	return "chain_event"
}

// ChainCursor remembers the last block a log reader has fully processed.
type ChainCursor struct {
	Name      string    `json:"name" gorm:"primaryKey;size:64"`
	BlockNum  int64     `json:"block_num" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ChainCursor) TableName() string {
	return "chain_cursor"
}
