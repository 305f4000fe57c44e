package logic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/blues/greensalary/internal/model"
	"github.com/blues/greensalary/internal/review"
	"github.com/blues/greensalary/internal/window"
	"gorm.io/gorm"
)

type AdvertiserLogic struct {
	db     *gorm.DB
	policy window.Policy
	now    func() time.Time
}

func NewAdvertiserLogic(db *gorm.DB, policy window.Policy) *AdvertiserLogic {
	return &AdvertiserLogic{db: db, policy: policy, now: time.Now}
}

type Participant struct {
	JoinId                int64              `json:"join_id"`
	InfluencerId          int64              `json:"influencer_id"`
	InfluencerName        string             `json:"influencer_name"`
	InfluencerDescription string             `json:"influencer_description"`
	Url                   string             `json:"url"`
	KeywordTest           bool               `json:"keywordTest"`
	ConditionTest         bool               `json:"conditionTest"`
	PdfUrl                string             `json:"pdf_url"`
	ReviewStatus          model.ReviewStatus `json:"review_status"`
	RewardPaid            bool               `json:"reward_paid"`
	SubmitReviewAvailable bool               `json:"submit_review_available"`
	SubmitRewardAvailable bool               `json:"submit_reward_available"`
	JoinedAt              time.Time          `json:"joined_at"`
}

type ParticipantList struct {
	ReviewAvailable bool          `json:"review_available"`
	Influencers     []Participant `json:"influencers"`
}

// ListParticipants returns the influencers of an advertiser's contract,
// filtered by review status and sorted by join time (latest, oldest).
func (l *AdvertiserLogic) ListParticipants(ctx context.Context, advertiserId int64, contractId, status, sortBy string) (*ParticipantList, error) {
	contract, err := findContract(ctx, l.db, contractId)
	if err != nil {
		return nil, err
	}
	if contract.AdvertiserId != advertiserId {
		return nil, apperr.NotFound("contract %s", contractId)
	}

	query := l.db.WithContext(ctx).Where("contract_id = ?", contractId)
	if status != "" && !strings.EqualFold(status, "ALL") {
		s := model.ReviewStatus(strings.ToUpper(status))
		if !s.Valid() {
			return nil, apperr.Validation("unknown status filter %q", status)
		}
		query = query.Where("review_status = ?", s)
	}
	if strings.EqualFold(sortBy, "oldest") {
		query = query.Order("joined_at asc")
	} else {
		query = query.Order("joined_at desc")
	}

	var joins []model.Participation
	if err := query.Find(&joins).Error; err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	ids := make([]int64, 0, len(joins))
	for _, p := range joins {
		ids = append(ids, p.InfluencerId)
	}
	influencers := map[int64]model.Influencer{}
	if len(ids) > 0 {
		var rows []model.Influencer
		if err := l.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to load influencers: %w", err)
		}
		for _, inf := range rows {
			influencers[inf.Id] = inf
		}
	}

	inWindow := l.policy.InReviewWindow(contract.UploadWindow(), l.now())
	out := &ParticipantList{ReviewAvailable: inWindow, Influencers: make([]Participant, 0, len(joins))}
	for i := range joins {
		p := &joins[i]
		inf, ok := influencers[p.InfluencerId]
		if !ok {
			continue
		}
		out.Influencers = append(out.Influencers, Participant{
			JoinId:                p.Id,
			InfluencerId:          p.InfluencerId,
			InfluencerName:        inf.Name,
			InfluencerDescription: inf.Description,
			Url:                   p.Url,
			KeywordTest:           p.KeywordTest,
			ConditionTest:         p.ConditionTest,
			PdfUrl:                p.PdfUrl,
			ReviewStatus:          p.ReviewStatus,
			RewardPaid:            p.RewardPaid,
			SubmitReviewAvailable: review.Allowed(review.AdvertiserAsk, review.FromParticipation(p, inWindow)),
			SubmitRewardAvailable: inWindow && p.ReviewStatus != model.ReviewPending,
			JoinedAt:              p.JoinedAt,
		})
	}
	return out, nil
}

// Ask disputes an APPROVED verdict on one of the advertiser's contracts.
func (l *AdvertiserLogic) Ask(ctx context.Context, advertiserId, joinId int64) (model.ReviewStatus, error) {
	p, err := findParticipation(ctx, l.db, joinId)
	if err != nil {
		return "", err
	}
	if p.AdvertiserId != advertiserId {
		return "", apperr.NotFound("participation %d", joinId)
	}
	return applyReviewAction(ctx, l.db, l.policy, l.now(), p, review.AdvertiserAsk)
}
