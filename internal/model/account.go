package model

import (
	"time"
)

// Advertiser and Influencer carry only what settlement needs; credentials
// live with the auth service.
type Advertiser struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Email         string `json:"email" gorm:"uniqueIndex;not null"`
	Name          string `json:"name" gorm:"not null"`
	WalletAddress string `json:"wallet_address"`
	Description   string `json:"description" gorm:"type:text"`
}

func (Advertiser) TableName() string {
	return "advertiser"
}

type Influencer struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Email         string `json:"email" gorm:"uniqueIndex;not null"`
	Name          string `json:"name" gorm:"not null"`
	WalletAddress string `json:"wallet_address"`
	Description   string `json:"description" gorm:"type:text"`
}

func (Influencer) TableName() string {
	return "influencer"
}
