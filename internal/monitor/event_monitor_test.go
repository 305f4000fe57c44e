package monitor

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blues/greensalary/internal/chain"
	"github.com/blues/greensalary/internal/config"
	"github.com/blues/greensalary/internal/database"
	"github.com/blues/greensalary/internal/metrics"
	"github.com/blues/greensalary/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	mu      sync.Mutex
	head    uint64
	events  []chain.EscrowEvent
	ranges  [][2]uint64
	failErr error
}

func (f *fakeSource) LatestBlock(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return 0, f.failErr
	}
	return f.head, nil
}

func (f *fakeSource) EscrowEvents(ctx context.Context, from, to uint64) ([]chain.EscrowEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, [2]uint64{from, to})
	var out []chain.EscrowEvent
	for _, ev := range f.events {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Init(config.DatabaseConfig{Driver: "sqlite"})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func paidEvent(block uint64, txHash string) chain.EscrowEvent {
	return chain.EscrowEvent{
		Name:        chain.EventInfluencerPaid,
		AdId:        7,
		Party:       "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		Amount:      big.NewInt(1_000),
		TxHash:      txHash,
		BlockNumber: block,
	}
}

func TestPollStoresAndMatchesEvents(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&model.Transaction{
		ContractId: "C1", ParticipationId: 1, AdvertiserId: 1, InfluencerId: 2,
		Amount: model.WeiFromInt64(1_000), PaidAt: time.Now(), TxHash: "0xaaa",
	}).Error)
	require.NoError(t, db.Create(&model.Contract{
		Id: "C2", AccessCode: "ABCDEFGHJK", Title: "t", Site: "Naver Blog",
		Reward: model.WeiFromInt64(1), Recruits: 1, RefundTxHash: "0xccc",
	}).Error)

	src := &fakeSource{head: 1_010, events: []chain.EscrowEvent{
		paidEvent(1_000, "0xaaa"),
		paidEvent(1_003, "0xbbb"),
		{Name: chain.EventAdvertiserRefunded, AdId: 9, TxHash: "0xccc", BlockNumber: 1_004},
		paidEvent(1_009, "0xddd"), // not yet confirmed
	}}
	reg := prometheus.NewRegistry()
	m := NewEventMonitor(db, src, config.MonitorConfig{BatchSize: 3, StartBlock: 1_000, Confirmations: 2}, metrics.New(reg))

	n, err := m.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, [][2]uint64{{1000, 1002}, {1003, 1005}, {1006, 1008}}, src.ranges)

	var events []model.ChainEvent
	require.NoError(t, db.Order("block_num").Find(&events).Error)
	require.Len(t, events, 3)
	assert.True(t, events[0].Matched)
	assert.False(t, events[1].Matched)
	assert.True(t, events[2].Matched)
	assert.Equal(t, "1000", events[0].Amount.String())

	expected := `
# HELP greensalary_chain_events_total escrow payout and refund logs read from the chain
# TYPE greensalary_chain_events_total counter
greensalary_chain_events_total{event="AdvertiserRefunded",matched="true"} 1
greensalary_chain_events_total{event="InfluencerPaid",matched="false"} 1
greensalary_chain_events_total{event="InfluencerPaid",matched="true"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "greensalary_chain_events_total"))

	// the next pass resumes after the cursor and picks up the confirmed block
	src.head = 1_011
	src.ranges = nil
	n, err = m.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, [][2]uint64{{1009, 1009}}, src.ranges)
}

func TestPollIsIdempotentPerLog(t *testing.T) {
	db := newTestDB(t)
	src := &fakeSource{head: 20, events: []chain.EscrowEvent{paidEvent(10, "0xaaa")}}
	m := NewEventMonitor(db, src, config.MonitorConfig{StartBlock: 5}, nil)

	_, err := m.Poll(context.Background())
	require.NoError(t, err)

	// a reset cursor replays the range without duplicating rows
	require.NoError(t, db.Where("1 = 1").Delete(&model.ChainCursor{}).Error)
	n, err := m.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	var count int64
	require.NoError(t, db.Model(&model.ChainEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRematchAfterLedgerCatchesUp(t *testing.T) {
	db := newTestDB(t)
	src := &fakeSource{head: 20, events: []chain.EscrowEvent{paidEvent(10, "0xbbb")}}
	m := NewEventMonitor(db, src, config.MonitorConfig{}, nil)
	ctx := context.Background()

	_, err := m.Poll(ctx)
	require.NoError(t, err)
	status, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Unmatched)
	assert.Equal(t, uint64(21), status.NextBlock)

	// the payout was broadcast by this service; its hash lands on the participation
	require.NoError(t, db.Create(&model.Participation{
		ContractId: "C1", InfluencerId: 2, AdvertiserId: 1, JoinedAt: time.Now(),
		PaymentState: model.PaymentSubmitted, PaymentTxHash: "0xbbb",
	}).Error)

	_, err = m.Poll(ctx)
	require.NoError(t, err)
	status, err = m.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Unmatched)
}

func TestHeadBelowConfirmations(t *testing.T) {
	db := newTestDB(t)
	src := &fakeSource{head: 1}
	m := NewEventMonitor(db, src, config.MonitorConfig{Confirmations: 2}, nil)

	n, err := m.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, src.ranges)
}

func TestStartStop(t *testing.T) {
	db := newTestDB(t)
	src := &fakeSource{failErr: errors.New("connection refused")}
	m := NewEventMonitor(db, src, config.MonitorConfig{Interval: time.Hour}, nil)

	m.Start(context.Background())
	require.Eventually(t, func() bool {
		s, err := m.Status(context.Background())
		return err == nil && s.RetryCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	s, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Running)
	assert.Contains(t, s.LastError, "connection refused")

	m.Stop()
	m.Stop()
	s, err = m.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, s.Running)
}
