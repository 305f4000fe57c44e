package logic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/blues/greensalary/internal/model"
	"github.com/blues/greensalary/internal/review"
	"github.com/blues/greensalary/internal/window"
	"gorm.io/gorm"
)

// AskLogic lets an administrator resolve disputed submissions.
type AskLogic struct {
	db     *gorm.DB
	policy window.Policy
	now    func() time.Time
}

func NewAskLogic(db *gorm.DB, policy window.Policy) *AskLogic {
	return &AskLogic{db: db, policy: policy, now: time.Now}
}

type AskSummary struct {
	AskId        int64              `json:"askId"`
	ContractId   string             `json:"contractId"`
	Title        string             `json:"title"`
	DueDate      time.Time          `json:"due_date"`
	ReviewStatus model.ReviewStatus `json:"review_status"`
}

type AskDetail struct {
	AskId          int64              `json:"askId"`
	Url            string             `json:"url"`
	PdfUrl         string             `json:"pdf_url"`
	ReviewStatus   model.ReviewStatus `json:"review_status"`
	KeywordTest    bool               `json:"keywordTest"`
	ConditionTest  bool               `json:"conditionTest"`
	WordCountTest  bool               `json:"wordCountTest"`
	ImageCountTest bool               `json:"imageCountTest"`
	DueDate        time.Time          `json:"due_date"`
	Contract       *ContractDetail    `json:"contract"`
}

// ListAsks filters by asker (advertiser, influencer, all) and sorts by due
// date (latest, oldest).
func (l *AskLogic) ListAsks(ctx context.Context, asker, sortBy string) ([]AskSummary, error) {
	var statuses []model.ReviewStatus
	switch strings.ToLower(asker) {
	case "advertiser":
		statuses = []model.ReviewStatus{model.ReviewFromAdvertiser}
	case "influencer":
		statuses = []model.ReviewStatus{model.ReviewFromInfluencer}
	case "", "all":
		statuses = []model.ReviewStatus{model.ReviewFromAdvertiser, model.ReviewFromInfluencer}
	default:
		return nil, apperr.Validation("unknown asker %q", asker)
	}

	var joins []model.Participation
	if err := l.db.WithContext(ctx).Where("review_status IN ?", statuses).Find(&joins).Error; err != nil {
		return nil, fmt.Errorf("failed to list asks: %w", err)
	}
	contracts, err := contractsById(ctx, l.db, joins)
	if err != nil {
		return nil, err
	}

	list := make([]AskSummary, 0, len(joins))
	for _, p := range joins {
		c, ok := contracts[p.ContractId]
		if !ok {
			continue
		}
		list = append(list, AskSummary{
			AskId:        p.Id,
			ContractId:   c.Id,
			Title:        c.Title,
			DueDate:      l.policy.AskDueDate(c.UploadWindow()),
			ReviewStatus: p.ReviewStatus,
		})
	}

	oldest := strings.EqualFold(sortBy, "oldest")
	sort.SliceStable(list, func(i, j int) bool {
		if oldest {
			return list[i].DueDate.Before(list[j].DueDate)
		}
		return list[i].DueDate.After(list[j].DueDate)
	})
	return list, nil
}

func (l *AskLogic) GetAsk(ctx context.Context, askId int64) (*AskDetail, error) {
	p, err := findParticipation(ctx, l.db, askId)
	if err != nil {
		return nil, err
	}
	contract, err := findContract(ctx, l.db, p.ContractId)
	if err != nil {
		return nil, err
	}
	return &AskDetail{
		AskId:          p.Id,
		Url:            p.Url,
		PdfUrl:         p.PdfUrl,
		ReviewStatus:   p.ReviewStatus,
		KeywordTest:    p.KeywordTest,
		ConditionTest:  p.ConditionTest,
		WordCountTest:  p.WordCountTest,
		ImageCountTest: p.ImageCountTest,
		DueDate:        l.policy.AskDueDate(contract.UploadWindow()),
		Contract:       newContractDetail(contract, l.policy.Status(contract.UploadWindow(), l.now())),
	}, nil
}

func (l *AskLogic) Approve(ctx context.Context, askId int64) (model.ReviewStatus, error) {
	return l.resolve(ctx, askId, review.AdminApprove)
}

func (l *AskLogic) Reject(ctx context.Context, askId int64) (model.ReviewStatus, error) {
	return l.resolve(ctx, askId, review.AdminReject)
}

func (l *AskLogic) resolve(ctx context.Context, askId int64, action review.Action) (model.ReviewStatus, error) {
	p, err := findParticipation(ctx, l.db, askId)
	if err != nil {
		return "", err
	}
	return applyReviewAction(ctx, l.db, l.policy, l.now(), p, action)
}
