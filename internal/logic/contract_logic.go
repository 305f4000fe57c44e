package logic

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/blues/greensalary/internal/logger"
	"github.com/blues/greensalary/internal/model"
	"github.com/blues/greensalary/internal/window"
	"gorm.io/gorm"
)

// codeAlphabet leaves out characters that are easy to misread (0/O, 1/I).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	contractIdLength  = 16
	accessCodeLength  = 10
	maxCodeCollisions = 5
)

type ContractLogic struct {
	db     *gorm.DB
	policy window.Policy
	now    func() time.Time
}

func NewContractLogic(db *gorm.DB, policy window.Policy) *ContractLogic {
	return &ContractLogic{db: db, policy: policy, now: time.Now}
}

type CreateContractInput struct {
	Title           string    `json:"title"`
	Reward          model.Wei `json:"reward"`
	Recruits        int       `json:"recruits"`
	UploadPeriod    Period    `json:"uploadPeriod"`
	MaintainPeriod  Period    `json:"maintainPeriod"`
	Keywords        []string  `json:"keywords"`
	Conditions      []string  `json:"conditions"`
	Site            string    `json:"site"`
	Media           Media     `json:"media"`
	Description     string    `json:"description"`
	PhotoUrl        string    `json:"photo_url"`
	SmartContractId int64     `json:"smartContractId"`
}

func (in *CreateContractInput) validate() error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return apperr.Validation("title is required")
	case in.Reward.IsZero():
		return apperr.Validation("reward is required")
	case in.Recruits <= 0:
		return apperr.Validation("recruits must be positive")
	case in.UploadPeriod.StartDate == nil || in.UploadPeriod.EndDate == nil:
		return apperr.Validation("upload period is required")
	case in.UploadPeriod.EndDate.Before(*in.UploadPeriod.StartDate):
		return apperr.Validation("upload period ends before it starts")
	case strings.TrimSpace(in.Site) == "":
		return apperr.Validation("site is required")
	case in.Media.MinTextLength < 0 || in.Media.MinImageCount < 0:
		return apperr.Validation("media minimums cannot be negative")
	}
	m := in.MaintainPeriod
	if m.StartDate != nil && m.EndDate != nil && m.EndDate.Before(*m.StartDate) {
		return apperr.Validation("maintain period ends before it starts")
	}
	return nil
}

// CreateContract stores a new contract with generated id and access code.
func (l *ContractLogic) CreateContract(ctx context.Context, advertiserId int64, in *CreateContractInput) (*model.Contract, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var advertiser model.Advertiser
	if err := l.db.WithContext(ctx).First(&advertiser, advertiserId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("advertiser %d", advertiserId)
		}
		return nil, fmt.Errorf("failed to load advertiser: %w", err)
	}

	contract := &model.Contract{
		AdvertiserId:      advertiserId,
		Title:             strings.TrimSpace(in.Title),
		Description:       in.Description,
		PhotoUrl:          in.PhotoUrl,
		Site:              in.Site,
		Reward:            in.Reward,
		Recruits:          in.Recruits,
		UploadStartDate:   *in.UploadPeriod.StartDate,
		UploadEndDate:     *in.UploadPeriod.EndDate,
		MaintainStartDate: in.MaintainPeriod.StartDate,
		MaintainEndDate:   in.MaintainPeriod.EndDate,
		Keywords:          in.Keywords,
		Conditions:        in.Conditions,
		MediaText:         in.Media.MinTextLength,
		MediaImage:        in.Media.MinImageCount,
		SmartContractId:   in.SmartContractId,
	}

	var err error
	for attempt := 0; attempt < maxCodeCollisions; attempt++ {
		if contract.Id, err = randomCode(contractIdLength); err != nil {
			return nil, err
		}
		if contract.AccessCode, err = randomCode(accessCodeLength); err != nil {
			return nil, err
		}
		err = l.db.WithContext(ctx).Create(contract).Error
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
		logger.Warn("Contract code collision, retrying (attempt %d)", attempt+1)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create contract: %w", err)
	}

	logger.Info("Advertiser %d created contract %s", advertiserId, contract.Id)
	return contract, nil
}

func randomCode(n int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		b[i] = codeAlphabet[idx.Int64()]
	}
	return string(b), nil
}

type ContractSummary struct {
	Id              string        `json:"id"`
	Title           string        `json:"title"`
	UploadStartDate time.Time     `json:"uploadStartDate"`
	UploadEndDate   time.Time     `json:"uploadEndDate"`
	Participants    int           `json:"participants"`
	Recruits        int           `json:"recruits"`
	Status          window.Status `json:"status"`
	Code            string        `json:"code"`
}

// ListAdvertiserContracts filters by status (pending, active, ended, all) and
// sorts by creation time (latest, oldest).
func (l *ContractLogic) ListAdvertiserContracts(ctx context.Context, advertiserId int64, status, sort string) ([]ContractSummary, error) {
	now := l.now()
	query := l.db.WithContext(ctx).Where("advertiser_id = ?", advertiserId)

	switch strings.ToLower(status) {
	case "", "all":
	case "pending":
		query = query.Where("upload_start_date > ?", now)
	case "active":
		query = query.Where("upload_start_date <= ? AND upload_end_date >= ?", now, now)
	case "ended":
		query = query.Where("upload_end_date < ?", now)
	default:
		return nil, apperr.Validation("unknown status filter %q", status)
	}

	if strings.ToLower(sort) == "oldest" {
		query = query.Order("created_at asc")
	} else {
		query = query.Order("created_at desc")
	}

	var contracts []model.Contract
	if err := query.Find(&contracts).Error; err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}

	list := make([]ContractSummary, 0, len(contracts))
	for i := range contracts {
		c := &contracts[i]
		list = append(list, ContractSummary{
			Id:              c.Id,
			Title:           c.Title,
			UploadStartDate: c.UploadStartDate,
			UploadEndDate:   c.UploadEndDate,
			Participants:    c.Participants,
			Recruits:        c.Recruits,
			Status:          l.policy.Status(c.UploadWindow(), now),
			Code:            c.AccessCode,
		})
	}
	return list, nil
}

// GetAdvertiserContract returns a contract owned by the advertiser.
func (l *ContractLogic) GetAdvertiserContract(ctx context.Context, advertiserId int64, contractId string) (*ContractDetail, error) {
	contract, err := findContract(ctx, l.db, contractId)
	if err != nil {
		return nil, err
	}
	if contract.AdvertiserId != advertiserId {
		return nil, apperr.NotFound("contract %s", contractId)
	}
	d := newContractDetail(contract, l.policy.Status(contract.UploadWindow(), l.now()))
	d.AccessCode = contract.AccessCode
	return d, nil
}

// ListPayments returns the payment ledger of an advertiser's contract.
func (l *ContractLogic) ListPayments(ctx context.Context, advertiserId int64, contractId, sort string) ([]model.Transaction, error) {
	contract, err := findContract(ctx, l.db, contractId)
	if err != nil {
		return nil, err
	}
	if contract.AdvertiserId != advertiserId {
		return nil, apperr.NotFound("contract %s", contractId)
	}

	order := "paid_at desc"
	if strings.ToLower(sort) == "oldest" {
		order = "paid_at asc"
	}
	txs := []model.Transaction{}
	if err := l.db.WithContext(ctx).Where("contract_id = ?", contractId).Order(order).Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return txs, nil
}

func findContract(ctx context.Context, db *gorm.DB, id string) (*model.Contract, error) {
	if id == "" {
		return nil, apperr.Validation("contract id is required")
	}
	var c model.Contract
	if err := db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("contract %s", id)
		}
		return nil, fmt.Errorf("failed to load contract %s: %w", id, err)
	}
	return &c, nil
}

func findParticipation(ctx context.Context, db *gorm.DB, id int64) (*model.Participation, error) {
	var p model.Participation
	if err := db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("participation %d", id)
		}
		return nil, fmt.Errorf("failed to load participation %d: %w", id, err)
	}
	return &p, nil
}
