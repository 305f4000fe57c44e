// Package monitor reads payout and refund events back from the escrow
// contract and checks each one against the payment ledger.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blues/greensalary/internal/chain"
	"github.com/blues/greensalary/internal/config"
	"github.com/blues/greensalary/internal/logger"
	"github.com/blues/greensalary/internal/metrics"
	"github.com/blues/greensalary/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const cursorName = "escrow_events"

// EventSource is the chain side of the monitor; *chain.Client provides it.
type EventSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
	EscrowEvents(ctx context.Context, from, to uint64) ([]chain.EscrowEvent, error)
}

// EventMonitor polls the escrow contract's logs from a persisted cursor.
type EventMonitor struct {
	db      *gorm.DB
	source  EventSource
	metrics *metrics.Collector
	cfg     config.MonitorConfig

	mu         sync.Mutex
	retryCount int
	lastError  error
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewEventMonitor(db *gorm.DB, source EventSource, cfg config.MonitorConfig, m *metrics.Collector) *EventMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 500
	}
	return &EventMonitor{db: db, source: source, cfg: cfg, metrics: m}
}

// Start launches the polling loop. Stop ends it.
func (m *EventMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	logger.Info("Starting escrow event monitor (interval %s, batch %d)", m.cfg.Interval, m.cfg.BatchSize)
	go m.loop(ctx, m.done)
}

func (m *EventMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Info("Escrow event monitor stopped")
}

func (m *EventMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	wait := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if _, err := m.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait = m.handleError(err)
			continue
		}
		m.mu.Lock()
		m.retryCount, m.lastError = 0, nil
		m.mu.Unlock()
		wait = m.cfg.Interval
	}
}

// handleError returns the backoff before the next attempt.
func (m *EventMonitor) handleError(err error) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retryCount++
	m.lastError = err
	backoff := time.Duration(m.retryCount) * 10 * time.Second
	if m.retryCount > 5 {
		backoff = 5 * time.Minute
	}
	logger.Error("Event monitor encountered error (retry %d, next in %s): %v", m.retryCount, backoff, err)
	return backoff
}

// Poll reads every confirmed block past the cursor and returns how many new
// events were stored. Events that did not match on an earlier pass are
// checked again first.
func (m *EventMonitor) Poll(ctx context.Context) (int, error) {
	if err := m.rematch(ctx); err != nil {
		return 0, err
	}

	head, err := m.source.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}
	if head < m.cfg.Confirmations {
		return 0, nil
	}
	safe := head - m.cfg.Confirmations

	from, err := m.nextBlock(ctx)
	if err != nil {
		return 0, err
	}

	stored := 0
	for from <= safe {
		to := from + m.cfg.BatchSize - 1
		if to > safe {
			to = safe
		}

		events, err := m.source.EscrowEvents(ctx, from, to)
		if err != nil {
			return stored, fmt.Errorf("blocks %d-%d: %w", from, to, err)
		}
		for _, ev := range events {
			created, err := m.record(ctx, ev)
			if err != nil {
				return stored, err
			}
			if created {
				stored++
			}
		}
		if err := m.saveCursor(ctx, to); err != nil {
			return stored, err
		}
		logger.Debug("Processed blocks %d-%d (%d events)", from, to, len(events))
		from = to + 1
	}
	return stored, nil
}

func (m *EventMonitor) nextBlock(ctx context.Context) (uint64, error) {
	var cursor model.ChainCursor
	err := m.db.WithContext(ctx).First(&cursor, "name = ?", cursorName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return m.cfg.StartBlock, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load event cursor: %w", err)
	}
	next := uint64(cursor.BlockNum) + 1
	if next < m.cfg.StartBlock {
		next = m.cfg.StartBlock
	}
	return next, nil
}

func (m *EventMonitor) saveCursor(ctx context.Context, block uint64) error {
	err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"block_num", "updated_at"}),
	}).Create(&model.ChainCursor{Name: cursorName, BlockNum: int64(block)}).Error
	if err != nil {
		return fmt.Errorf("failed to save event cursor: %w", err)
	}
	return nil
}

// record stores ev once; a log already seen is skipped.
func (m *EventMonitor) record(ctx context.Context, ev chain.EscrowEvent) (bool, error) {
	row := &model.ChainEvent{
		EventName: ev.Name,
		TxHash:    ev.TxHash,
		LogIndex:  int64(ev.LogIndex),
		BlockNum:  int64(ev.BlockNumber),
		AdId:      ev.AdId,
		Party:     ev.Party,
	}
	if ev.Amount != nil {
		row.Amount = model.NewWei(ev.Amount)
	}

	matched, err := m.match(ctx, ev.Name, ev.TxHash)
	if err != nil {
		return false, err
	}
	row.Matched = matched

	res := m.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return false, fmt.Errorf("failed to store %s event %s: %w", ev.Name, ev.TxHash, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	m.metrics.ChainEvent(ev.Name, matched)
	if !matched {
		logger.With(
			zap.String("event", ev.Name),
			zap.String("tx_hash", ev.TxHash),
			zap.Int64("ad_id", ev.AdId),
			zap.String("party", ev.Party),
		).Warn("Escrow event has no matching ledger entry")
	}
	return true, nil
}

// match reports whether the ledger knows the transaction: a payment row or
// an in-flight payout for InfluencerPaid, a contract refund for
// AdvertiserRefunded.
func (m *EventMonitor) match(ctx context.Context, name, txHash string) (bool, error) {
	db := m.db.WithContext(ctx)
	var n int64
	var err error

	switch name {
	case chain.EventInfluencerPaid:
		err = db.Model(&model.Transaction{}).Where("tx_hash = ?", txHash).Count(&n).Error
		if err == nil && n == 0 {
			err = db.Model(&model.Participation{}).Where("payment_tx_hash = ?", txHash).Count(&n).Error
		}
	case chain.EventAdvertiserRefunded:
		err = db.Model(&model.Contract{}).Where("refund_tx_hash = ?", txHash).Count(&n).Error
	default:
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to match %s event: %w", name, err)
	}
	return n > 0, nil
}

func (m *EventMonitor) rematch(ctx context.Context) error {
	var pending []model.ChainEvent
	if err := m.db.WithContext(ctx).Where("matched = ?", false).Find(&pending).Error; err != nil {
		return fmt.Errorf("failed to load unmatched events: %w", err)
	}
	for _, ev := range pending {
		matched, err := m.match(ctx, ev.EventName, ev.TxHash)
		if err != nil {
			return err
		}
		if !matched {
			continue
		}
		if err := m.db.WithContext(ctx).Model(&model.ChainEvent{}).Where("id = ?", ev.Id).
			Update("matched", true).Error; err != nil {
			return fmt.Errorf("failed to update event %d: %w", ev.Id, err)
		}
		logger.Info("Escrow event %s %s now matches the ledger", ev.EventName, ev.TxHash)
	}
	return nil
}

// Status is a snapshot for operators.
type Status struct {
	Running    bool   `json:"running"`
	NextBlock  uint64 `json:"nextBlock"`
	Unmatched  int64  `json:"unmatched"`
	RetryCount int    `json:"retryCount"`
	LastError  string `json:"lastError,omitempty"`
}

func (m *EventMonitor) Status(ctx context.Context) (*Status, error) {
	next, err := m.nextBlock(ctx)
	if err != nil {
		return nil, err
	}
	var unmatched int64
	if err := m.db.WithContext(ctx).Model(&model.ChainEvent{}).Where("matched = ?", false).Count(&unmatched).Error; err != nil {
		return nil, fmt.Errorf("failed to count unmatched events: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Status{
		Running:    m.cancel != nil,
		NextBlock:  next,
		Unmatched:  unmatched,
		RetryCount: m.retryCount,
	}
	if m.lastError != nil {
		s.LastError = m.lastError.Error()
	}
	return s, nil
}
