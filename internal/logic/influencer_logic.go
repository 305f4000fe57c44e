package logic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/blues/greensalary/internal/logger"
	"github.com/blues/greensalary/internal/model"
	"github.com/blues/greensalary/internal/review"
	"github.com/blues/greensalary/internal/window"
	"gorm.io/gorm"
)

// InfluencerLogic covers joining contracts, tracking submissions and raising
// disputes from the influencer side.
type InfluencerLogic struct {
	db     *gorm.DB
	policy window.Policy
	now    func() time.Time
}

func NewInfluencerLogic(db *gorm.DB, policy window.Policy) *InfluencerLogic {
	return &InfluencerLogic{db: db, policy: policy, now: time.Now}
}

// RedeemCode looks up a contract by access code and checks it can still be joined.
func (l *InfluencerLogic) RedeemCode(ctx context.Context, influencerId int64, accessCode string) (*ContractDetail, error) {
	accessCode = strings.ToUpper(strings.TrimSpace(accessCode))
	if accessCode == "" {
		return nil, apperr.Validation("access code is required")
	}

	var contract model.Contract
	if err := l.db.WithContext(ctx).First(&contract, "access_code = ?", accessCode).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("no contract for access code %s", accessCode)
		}
		return nil, fmt.Errorf("failed to look up access code: %w", err)
	}

	if err := l.checkJoinable(ctx, influencerId, &contract); err != nil {
		return nil, err
	}
	return l.detail(&contract), nil
}

func (l *InfluencerLogic) checkJoinable(ctx context.Context, influencerId int64, contract *model.Contract) error {
	var n int64
	err := l.db.WithContext(ctx).Model(&model.Participation{}).
		Where("contract_id = ? AND influencer_id = ?", contract.Id, influencerId).
		Count(&n).Error
	if err != nil {
		return fmt.Errorf("failed to check participation: %w", err)
	}
	if n > 0 {
		return apperr.Conflict("already joined contract %s", contract.Id)
	}
	if contract.Participants >= contract.Recruits {
		return apperr.Validation("contract %s is fully recruited", contract.Id)
	}
	if contract.UploadEndDate.Before(l.now()) {
		return apperr.Validation("contract %s has ended", contract.Id)
	}
	return nil
}

func (l *InfluencerLogic) detail(c *model.Contract) *ContractDetail {
	d := newContractDetail(c, l.policy.Status(c.UploadWindow(), l.now()))
	d.AccessCode = c.AccessCode
	return d
}

func (l *InfluencerLogic) GetContract(ctx context.Context, contractId string) (*ContractDetail, error) {
	contract, err := findContract(ctx, l.db, contractId)
	if err != nil {
		return nil, err
	}
	return l.detail(contract), nil
}

// JoinContract reserves a seat with a conditional increment, so concurrent
// joins can never push participants past recruits.
func (l *InfluencerLogic) JoinContract(ctx context.Context, influencerId int64, contractId string) (*model.Participation, error) {
	contract, err := findContract(ctx, l.db, contractId)
	if err != nil {
		return nil, err
	}
	if err := l.checkJoinable(ctx, influencerId, contract); err != nil {
		return nil, err
	}

	now := l.now()
	p := &model.Participation{
		ContractId:   contract.Id,
		InfluencerId: influencerId,
		AdvertiserId: contract.AdvertiserId,
		JoinedAt:     now,
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Contract{}).
			Where("id = ? AND participants < recruits AND upload_end_date >= ?", contract.Id, now).
			UpdateColumn("participants", gorm.Expr("participants + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.Validation("contract %s is fully recruited", contract.Id)
		}
		if err := tx.Create(p).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Conflict("already joined contract %s", contract.Id)
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrValidation) || errors.Is(err, apperr.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to join contract: %w", err)
	}

	logger.Info("Influencer %d joined contract %s", influencerId, contract.Id)
	return p, nil
}

type JoinedContract struct {
	JoinId          int64                `json:"joinId"`
	ContractId      string               `json:"contractId"`
	Title           string               `json:"title"`
	UploadStartDate time.Time            `json:"uploadStartDate"`
	UploadEndDate   time.Time            `json:"uploadEndDate"`
	Reward          model.Wei            `json:"reward"`
	KeywordTest     bool                 `json:"keywordTest"`
	ConditionTest   bool                 `json:"conditionTest"`
	AnalysisStatus  model.AnalysisStatus `json:"analysisStatus"`
	Status          model.ReviewStatus   `json:"status"`
	RewardPaid      bool                 `json:"rewardPaid"`
	ReviewAvailable bool                 `json:"reviewAvailable"`
}

// ListContracts returns the influencer's joined contracts. sort is deadline
// (open contracts first, nearest end first) or latest (newest start first).
func (l *InfluencerLogic) ListContracts(ctx context.Context, influencerId int64, status, sortBy string) ([]JoinedContract, error) {
	query := l.db.WithContext(ctx).Where("influencer_id = ?", influencerId)
	if status != "" && !strings.EqualFold(status, "ALL") {
		s := model.ReviewStatus(strings.ToUpper(status))
		if !s.Valid() {
			return nil, apperr.Validation("unknown status filter %q", status)
		}
		query = query.Where("review_status = ?", s)
	}

	var joins []model.Participation
	if err := query.Find(&joins).Error; err != nil {
		return nil, fmt.Errorf("failed to list participations: %w", err)
	}
	contracts, err := contractsById(ctx, l.db, joins)
	if err != nil {
		return nil, err
	}

	now := l.now()
	list := make([]JoinedContract, 0, len(joins))
	for i := range joins {
		p := &joins[i]
		c, ok := contracts[p.ContractId]
		if !ok {
			continue
		}
		inWindow := l.policy.InReviewWindow(c.UploadWindow(), now)
		list = append(list, JoinedContract{
			JoinId:          p.Id,
			ContractId:      c.Id,
			Title:           c.Title,
			UploadStartDate: c.UploadStartDate,
			UploadEndDate:   c.UploadEndDate,
			Reward:          c.Reward,
			KeywordTest:     p.KeywordTest,
			ConditionTest:   p.ConditionTest,
			AnalysisStatus:  p.AnalysisStatus,
			Status:          p.ReviewStatus,
			RewardPaid:      p.RewardPaid,
			ReviewAvailable: review.Allowed(review.InfluencerAsk, review.FromParticipation(p, inWindow)),
		})
	}

	if strings.EqualFold(sortBy, "latest") {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].UploadStartDate.After(list[j].UploadStartDate)
		})
		return list, nil
	}

	local := l.policy.Local(now)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	sort.SliceStable(list, func(i, j int) bool {
		pastI, pastJ := list[i].UploadEndDate.Before(today), list[j].UploadEndDate.Before(today)
		if pastI != pastJ {
			return !pastI
		}
		return list[i].UploadEndDate.Before(list[j].UploadEndDate)
	})
	return list, nil
}

type Submission struct {
	JoinId         int64                `json:"joinId"`
	Url            string               `json:"url"`
	AnalysisStatus model.AnalysisStatus `json:"analysis_status"`
	ReviewStatus   model.ReviewStatus   `json:"review_status"`
	RewardPaid     bool                 `json:"reward_paid"`
	PdfUrl         string               `json:"pdf_url"`
}

func (l *InfluencerLogic) GetSubmission(ctx context.Context, influencerId int64, contractId string) (*Submission, error) {
	var p model.Participation
	err := l.db.WithContext(ctx).
		Where("contract_id = ? AND influencer_id = ?", contractId, influencerId).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("influencer %d has not joined contract %s", influencerId, contractId)
		}
		return nil, fmt.Errorf("failed to load participation: %w", err)
	}
	return &Submission{
		JoinId:         p.Id,
		Url:            p.Url,
		AnalysisStatus: p.AnalysisStatus,
		ReviewStatus:   p.ReviewStatus,
		RewardPaid:     p.RewardPaid,
		PdfUrl:         p.PdfUrl,
	}, nil
}

// Ask disputes a REJECTED verdict on the influencer's own submission.
func (l *InfluencerLogic) Ask(ctx context.Context, influencerId, joinId int64) (model.ReviewStatus, error) {
	p, err := findParticipation(ctx, l.db, joinId)
	if err != nil {
		return "", err
	}
	if p.InfluencerId != influencerId {
		return "", apperr.NotFound("participation %d", joinId)
	}
	return applyReviewAction(ctx, l.db, l.policy, l.now(), p, review.InfluencerAsk)
}

func contractsById(ctx context.Context, db *gorm.DB, joins []model.Participation) (map[string]*model.Contract, error) {
	ids := make([]string, 0, len(joins))
	for _, p := range joins {
		ids = append(ids, p.ContractId)
	}
	out := make(map[string]*model.Contract, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var contracts []model.Contract
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&contracts).Error; err != nil {
		return nil, fmt.Errorf("failed to load contracts: %w", err)
	}
	for i := range contracts {
		out[contracts[i].Id] = &contracts[i]
	}
	return out, nil
}

// applyReviewAction moves p to the next review status with an update that
// only succeeds if nobody changed its status, paid it or started paying it in
// the meantime.
func applyReviewAction(ctx context.Context, db *gorm.DB, policy window.Policy, now time.Time, p *model.Participation, action review.Action) (model.ReviewStatus, error) {
	contract, err := findContract(ctx, db, p.ContractId)
	if err != nil {
		return "", err
	}
	inWindow := policy.InReviewWindow(contract.UploadWindow(), now)
	if !p.RewardPaid && !reviewable(p.PaymentState) {
		return "", apperr.Conflict("participation %d has a payment in progress", p.Id)
	}

	next, err := review.Transition(action, review.FromParticipation(p, inWindow))
	if err != nil {
		return "", err
	}

	res := db.WithContext(ctx).Model(&model.Participation{}).
		Where("id = ? AND review_status = ? AND reward_paid = ? AND payment_state IN ?", p.Id, p.ReviewStatus, false, reviewableStates).
		Update("review_status", next)
	if res.Error != nil {
		return "", fmt.Errorf("failed to update review status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return "", apperr.Conflict("participation %d changed concurrently, reload and retry", p.Id)
	}

	logger.Info("Participation %d review status %s -> %s (%s)", p.Id, p.ReviewStatus, next, action)
	return next, nil
}

// reviewableStates are the payment states in which the review status may change.
var reviewableStates = []model.PaymentState{model.PaymentUnpaid, model.PaymentFailed}

func reviewable(s model.PaymentState) bool {
	for _, r := range reviewableStates {
		if r == s {
			return true
		}
	}
	return false
}
