package model

import (
	"time"
)

// AnalysisJob records one scoring attempt for a submitted URL.
type AnalysisJob struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	JobId           string            `json:"job_id" gorm:"size:36;uniqueIndex;not null"`
	ParticipationId int64             `json:"participation_id" gorm:"index;not null"`
	ContractId      string            `json:"contract_id" gorm:"size:16;index:idx_job_pair;not null"`
	InfluencerId    int64             `json:"influencer_id" gorm:"index:idx_job_pair;not null"`
	Url             string            `json:"url" gorm:"not null"`
	Status          AnalysisJobStatus `json:"status" gorm:"size:16;default:'processing';not null"`

	KeywordTest    bool   `json:"keyword_test"`
	ConditionTest  bool   `json:"condition_test"`
	WordCountTest  bool   `json:"word_count_test"`
	ImageCountTest bool   `json:"image_count_test"`
	PdfUrl         string `json:"pdf_url"`
	ErrorMessage   string `json:"error_message" gorm:"type:text"`
}

type AnalysisJobStatus string

const (
	JobProcessing AnalysisJobStatus = "processing"
	JobCompleted  AnalysisJobStatus = "completed"
	JobFailed     AnalysisJobStatus = "failed"
)

func (AnalysisJob) TableName() string {
	return "analysis_job"
}
