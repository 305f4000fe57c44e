package model

import (
	"time"
)

// RunLease is the database-backed lock row guarding settlement runs across instances.
type RunLease struct {
	Name      string    `json:"name" gorm:"primaryKey;size:64"`
	Holder    string    `json:"holder" gorm:"size:64;not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RunLease) TableName() string {
	return "run_lease"
}
