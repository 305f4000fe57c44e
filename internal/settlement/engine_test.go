package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/blues/greensalary/internal/chain"
	"github.com/blues/greensalary/internal/config"
	"github.com/blues/greensalary/internal/database"
	"github.com/blues/greensalary/internal/logic"
	"github.com/blues/greensalary/internal/metrics"
	"github.com/blues/greensalary/internal/model"
	"github.com/blues/greensalary/internal/window"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	advertiserWallet = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
	influencerWallet = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

var testNow = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

type payCall struct {
	campaignId   int64
	influencerId int64
	wallet       string
}

type fakeGateway struct {
	mu          sync.Mutex
	payErr      map[int64]error
	refundErr   error
	unconfirmed bool
	pays        []payCall
	refunds     []string
	receipts    map[string]*chain.Receipt
	seq         int
	// called on entry, before any failure is injected
	onPay    func()
	onRefund func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payErr: map[int64]error{}, receipts: map[string]*chain.Receipt{}}
}

func (g *fakeGateway) nextHash() string {
	g.seq++
	return fmt.Sprintf("0x%064x", g.seq)
}

func (g *fakeGateway) PayInfluencer(ctx context.Context, campaignId, influencerId int64, wallet string, onSubmit chain.SubmitFunc) (*chain.TxResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pays = append(g.pays, payCall{campaignId, influencerId, wallet})
	if g.onPay != nil {
		g.onPay()
	}
	if err := g.payErr[influencerId]; err != nil {
		return nil, apperr.ChainFailed("payInfluencer", err)
	}
	hash := g.nextHash()
	if err := onSubmit(hash); err != nil {
		return nil, err
	}
	if g.unconfirmed {
		return &chain.TxResult{TxHash: hash}, apperr.ChainFailed("payInfluencer", fmt.Errorf("%w: %s", chain.ErrUnconfirmed, hash))
	}
	return &chain.TxResult{TxHash: hash, BlockNumber: 12, GasUsed: 42_000, Amount: big.NewInt(500)}, nil
}

func (g *fakeGateway) RefundAdvertiser(ctx context.Context, campaignId int64, wallet string, onSubmit chain.SubmitFunc) (*chain.TxResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, wallet)
	if g.onRefund != nil {
		g.onRefund()
	}
	if g.refundErr != nil {
		return nil, apperr.ChainFailed("refundAdvertiser", g.refundErr)
	}
	hash := g.nextHash()
	if err := onSubmit(hash); err != nil {
		return nil, err
	}
	return &chain.TxResult{TxHash: hash, BlockNumber: 13, GasUsed: 30_000}, nil
}

func (g *fakeGateway) ReceiptStatus(ctx context.Context, txHash string) (*chain.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.receipts[txHash]; ok {
		return r, nil
	}
	return &chain.Receipt{State: chain.ReceiptPending, Result: &chain.TxResult{TxHash: txHash}}, nil
}

func (g *fakeGateway) payCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pays)
}

func (g *fakeGateway) refundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}

type fixture struct {
	db       *gorm.DB
	gateway  *fakeGateway
	engine   *Engine
	registry *prometheus.Registry
	contract model.Contract
}

func newFixture(t *testing.T) *fixture {
	db, err := database.Init(config.DatabaseConfig{Driver: "sqlite"})
	require.NoError(t, err)

	gw := newFakeGateway()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	policy := window.NewPolicy(time.UTC, 1, 48*time.Hour)
	f := &fixture{
		db:       db,
		gateway:  gw,
		registry: reg,
		engine:   NewEngine(db, gw, policy, WithMetrics(m), WithClock(func() time.Time { return testNow })),
	}

	require.NoError(t, db.Create(&model.Advertiser{Id: 1, Email: "ad@example.com", Name: "ad", WalletAddress: advertiserWallet}).Error)
	f.contract = f.addContract(t, "CONTRACT00000001", testNow.AddDate(0, 0, -3))
	return f
}

func (f *fixture) addContract(t *testing.T, id string, uploadEnd time.Time) model.Contract {
	c := model.Contract{
		Id:              id,
		AccessCode:      id[len(id)-10:],
		AdvertiserId:    1,
		Title:           "campaign " + id,
		Site:            "Naver Blog",
		Reward:          model.WeiFromInt64(500),
		Recruits:        5,
		UploadStartDate: uploadEnd.AddDate(0, 0, -14),
		UploadEndDate:   uploadEnd,
		SmartContractId: 7,
	}
	require.NoError(t, f.db.Create(&c).Error)
	return c
}

func (f *fixture) addInfluencer(t *testing.T, id int64, wallet string) {
	require.NoError(t, f.db.Create(&model.Influencer{
		Id: id, Email: fmt.Sprintf("inf%d@example.com", id), Name: fmt.Sprintf("inf%d", id), WalletAddress: wallet,
	}).Error)
}

func (f *fixture) join(t *testing.T, contractId string, influencerId int64, status model.ReviewStatus) model.Participation {
	p := model.Participation{
		ContractId:   contractId,
		InfluencerId: influencerId,
		AdvertiserId: 1,
		JoinedAt:     testNow.AddDate(0, 0, -10),
		ReviewStatus: status,
	}
	require.NoError(t, f.db.Create(&p).Error)
	return p
}

func (f *fixture) reload(t *testing.T, id int64) model.Participation {
	var p model.Participation
	require.NoError(t, f.db.First(&p, id).Error)
	return p
}

func (f *fixture) reloadContract(t *testing.T, id string) model.Contract {
	var c model.Contract
	require.NoError(t, f.db.First(&c, "id = ?", id).Error)
	return c
}

func TestAutoPayPaysApprovedThenRefunds(t *testing.T) {
	f := newFixture(t)
	f.addInfluencer(t, 10, influencerWallet)
	p := f.join(t, f.contract.Id, 10, model.ReviewApproved)

	result, err := f.engine.ExecuteAutoPay(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Results, 1)
	cr := result.Results[0]
	require.Len(t, cr.Payments, 1)
	assert.Equal(t, StatusSuccess, cr.Payments[0].Status)
	require.NotNil(t, cr.Refund)
	assert.Equal(t, StatusSuccess, cr.Refund.Status)
	assert.Equal(t, "1 of 1 payments succeeded, 1 of 1 refunds succeeded across 1 contracts", result.Message)

	require.Len(t, f.gateway.pays, 1)
	assert.Equal(t, payCall{7, 10, influencerWallet}, f.gateway.pays[0])
	assert.Equal(t, []string{advertiserWallet}, f.gateway.refunds)

	paid := f.reload(t, p.Id)
	assert.True(t, paid.RewardPaid)
	require.NotNil(t, paid.RewardPaidAt)
	assert.True(t, testNow.Equal(*paid.RewardPaidAt))
	assert.Equal(t, model.PaymentPaid, paid.PaymentState)
	assert.Equal(t, cr.Payments[0].TxHash, paid.PaymentTxHash)

	var ledger []model.Transaction
	require.NoError(t, f.db.Find(&ledger).Error)
	require.Len(t, ledger, 1)
	assert.Equal(t, paid.PaymentTxHash, ledger[0].TxHash)
	assert.Equal(t, "500", ledger[0].Amount.String())
	assert.Equal(t, int64(10), ledger[0].InfluencerId)

	c := f.reloadContract(t, f.contract.Id)
	assert.True(t, c.RefundProcessed)
	assert.Equal(t, model.RefundStateDone, c.RefundState)
	assert.Equal(t, cr.Refund.TxHash, c.RefundTxHash)
	require.NotNil(t, c.RefundProcessedAt)

	count, err := testutil.GatherAndCount(f.registry, "greensalary_influencer_payments_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAutoPayChainFailureStillRefunds(t *testing.T) {
	f := newFixture(t)
	f.addInfluencer(t, 10, influencerWallet)
	p := f.join(t, f.contract.Id, 10, model.ReviewApproved)
	f.gateway.payErr[10] = errors.New("execution reverted: insufficient escrow")

	result, err := f.engine.ExecuteAutoPay(context.Background())
	require.NoError(t, err)

	cr := result.Results[0]
	require.Len(t, cr.Payments, 1)
	assert.Equal(t, StatusFailed, cr.Payments[0].Status)
	assert.Contains(t, cr.Payments[0].Error, "insufficient escrow")
	assert.Equal(t, StatusSuccess, cr.Refund.Status)
	assert.Equal(t, 1, f.gateway.refundCount())
	assert.Equal(t, "0 of 1 payments succeeded, 1 of 1 refunds succeeded across 1 contracts", result.Message)

	failed := f.reload(t, p.Id)
	assert.False(t, failed.RewardPaid)
	assert.Equal(t, model.PaymentFailed, failed.PaymentState)
	assert.Contains(t, failed.PaymentError, "insufficient escrow")
}

func TestSecondSweepDoesNotRepay(t *testing.T) {
	f := newFixture(t)
	f.addInfluencer(t, 10, influencerWallet)
	f.join(t, f.contract.Id, 10, model.ReviewApproved)

	_, err := f.engine.ExecuteAutoPay(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, f.gateway.payCount())

	// even with the contract re-opened for settlement the paid record is not selected
	require.NoError(t, f.db.Model(&model.Contract{}).Where("id = ?", f.contract.Id).
		Updates(map[string]interface{}{"refund_processed": false, "refund_state": model.RefundStateNone}).Error)

	result, err := f.engine.ExecuteAutoPay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.gateway.payCount())
	assert.Empty(t, result.Results[0].Payments)

	var count int64
	require.NoError(t, f.db.Model(&model.Transaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestFailedRefundRetriedOnNextSweepOnly(t *testing.T) {
	f := newFixture(t)
	f.gateway.refundErr = errors.New("nonce too low")

	result, err := f.engine.ExecuteAutoPay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Results[0].Refund.Status)
	assert.Equal(t, 1, f.gateway.refundCount(), "one attempt per sweep")

	c := f.reloadContract(t, f.contract.Id)
	assert.False(t, c.RefundProcessed)
	assert.Equal(t, model.RefundStateFailed, c.RefundState)
	assert.Contains(t, c.RefundError, "nonce too low")

	f.gateway.refundErr = nil
	result, err = f.engine.ExecuteAutoPay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Results[0].Refund.Status)
	assert.Equal(t, 2, f.gateway.refundCount())
	assert.True(t, f.reloadContract(t, f.contract.Id).RefundProcessed)

	// refunded contracts drop out of later sweeps
	result, err = f.engine.ExecuteAutoPay(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Results)
	assert.Equal(t, "No expired contracts to process", result.Message)
	assert.Equal(t, 2, f.gateway.refundCount())
}

func TestSweepSelectsOnlyExpiredContracts(t *testing.T) {
	f := newFixture(t)
	f.addContract(t, "CONTRACT00000002", testNow.Add(-47*time.Hour))
	f.addContract(t, "CONTRACT00000003", testNow.AddDate(0, 0, 5))

	result, err := f.engine.ExecuteAutoPay(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, f.contract.Id, result.Results[0].ContractId)
}

func TestParticipantFailuresAreIndependent(t *testing.T) {
	f := newFixture(t)
	f.addInfluencer(t, 10, influencerWallet)
	f.addInfluencer(t, 11, "")
	f.addInfluencer(t, 12, influencerWallet)
	f.join(t, f.contract.Id, 10, model.ReviewApproved)
	f.join(t, f.contract.Id, 11, model.ReviewApproved) // no wallet
	f.join(t, f.contract.Id, 13, model.ReviewApproved) // no influencer record
	f.join(t, f.contract.Id, 12, model.ReviewRejected) // not payable
	f.join(t, f.contract.Id, 14, model.ReviewFromInfluencer)

	result, err := f.engine.ExecuteAutoPay(context.Background())
	require.NoError(t, err)

	byInfluencer := map[int64]PaymentOutcome{}
	for _, p := range result.Results[0].Payments {
		byInfluencer[p.InfluencerId] = p
	}
	require.Len(t, byInfluencer, 3)
	assert.Equal(t, StatusSuccess, byInfluencer[10].Status)
	assert.Equal(t, StatusFailed, byInfluencer[11].Status)
	assert.Contains(t, byInfluencer[11].Error, "no wallet address")
	assert.Equal(t, StatusFailed, byInfluencer[13].Status)
	assert.Contains(t, byInfluencer[13].Error, "not found")

	assert.Equal(t, 1, f.gateway.payCount())
	assert.Equal(t, StatusSuccess, result.Results[0].Refund.Status)
	assert.Equal(t, "1 of 3 payments succeeded, 1 of 1 refunds succeeded across 1 contracts", result.Message)
}

func TestUnconfirmedPaymentIsReconciledNotResent(t *testing.T) {
	f := newFixture(t)
	f.addInfluencer(t, 10, influencerWallet)
	p := f.join(t, f.contract.Id, 10, model.ReviewApproved)
	f.gateway.unconfirmed = true

	result, err := f.engine.ExecuteAutoPay(context.Background())
	require.NoError(t, err)
	pending := result.Results[0].Payments[0]
	assert.Equal(t, StatusPending, pending.Status)
	assert.Equal(t, StatusDeferred, result.Results[0].Refund.Status)
	assert.Equal(t, 1, result.Summary.RefundsDeferred)
	assert.Zero(t, result.Summary.RefundsAttempted)
	assert.Zero(t, f.gateway.refundCount())

	stored := f.reload(t, p.Id)
	assert.Equal(t, model.PaymentSubmitted, stored.PaymentState)
	assert.Equal(t, pending.TxHash, stored.PaymentTxHash)
	assert.False(t, stored.RewardPaid)
	assert.False(t, f.reloadContract(t, f.contract.Id).RefundProcessed)

	_, err = f.engine.ProcessContractRefund(context.Background(), f.contract.Id)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Zero(t, f.gateway.refundCount())

	// still unmined: reported pending, nothing resent, refund still held
	f.gateway.unconfirmed = false
	result, err = f.engine.ExecuteAutoPay(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, StatusPending, result.Results[0].Payments[0].Status)
	assert.Equal(t, StatusDeferred, result.Results[0].Refund.Status)
	assert.Equal(t, 1, f.gateway.payCount())

	// mined: the receipt settles the record, then the refund goes out
	f.gateway.receipts[pending.TxHash] = &chain.Receipt{
		State:  chain.ReceiptSucceeded,
		Result: &chain.TxResult{TxHash: pending.TxHash, BlockNumber: 20, Amount: big.NewInt(499)},
	}
	result, err = f.engine.ExecuteAutoPay(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, StatusSuccess, result.Results[0].Payments[0].Status)
	assert.Equal(t, StatusSuccess, result.Results[0].Refund.Status)
	assert.Equal(t, 1, f.gateway.payCount())
	assert.Equal(t, 1, f.gateway.refundCount())

	paid := f.reload(t, p.Id)
	assert.True(t, paid.RewardPaid)
	var tx model.Transaction
	require.NoError(t, f.db.First(&tx, "participation_id = ?", p.Id).Error)
	assert.Equal(t, "499", tx.Amount.String())
	assert.True(t, f.reloadContract(t, f.contract.Id).RefundProcessed)

	result, err = f.engine.ExecuteAutoPay(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Results)
}

func TestClaimedPaymentDefersRefund(t *testing.T) {
	f := newFixture(t)
	f.addInfluencer(t, 10, influencerWallet)
	p := f.join(t, f.contract.Id, 10, model.ReviewApproved)
	require.NoError(t, f.db.Model(&model.Participation{}).Where("id = ?", p.Id).
		Update("payment_state", model.PaymentProcessing).Error)

	result, err := f.engine.ExecuteAutoPay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusDeferred, result.Results[0].Refund.Status)
	assert.Contains(t, result.Results[0].Refund.Error, "1 payments awaiting confirmation")
	assert.Zero(t, f.gateway.refundCount())
	assert.Equal(t, model.RefundStateNone, f.reloadContract(t, f.contract.Id).RefundState)
}

func TestRevertedSubmissionBecomesRetryable(t *testing.T) {
	f := newFixture(t)
	f.addInfluencer(t, 10, influencerWallet)
	p := f.join(t, f.contract.Id, 10, model.ReviewApproved)
	require.NoError(t, f.db.Model(&model.Participation{}).Where("id = ?", p.Id).
		Updates(map[string]interface{}{"payment_state": model.PaymentSubmitted, "payment_tx_hash": "0xdead"}).Error)
	f.gateway.receipts["0xdead"] = &chain.Receipt{State: chain.ReceiptReverted, Result: &chain.TxResult{TxHash: "0xdead"}}

	result, err := f.engine.ExecuteAutoPay(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Results[0].Payments, 1, "not retried within the same pass")
	assert.Equal(t, StatusFailed, result.Results[0].Payments[0].Status)
	assert.Equal(t, model.PaymentFailed, f.reload(t, p.Id).PaymentState)
	assert.Zero(t, f.gateway.payCount())
}

func TestClaimWithoutHashNeedsManualAction(t *testing.T) {
	f := newFixture(t)
	f.addInfluencer(t, 10, influencerWallet)
	p := f.join(t, f.contract.Id, 10, model.ReviewApproved)
	require.NoError(t, f.db.Model(&model.Participation{}).Where("id = ?", p.Id).
		Update("payment_state", model.PaymentProcessing).Error)

	result, err := f.engine.ExecuteAutoPay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusManual, result.Results[0].Payments[0].Status)
	assert.Zero(t, f.gateway.payCount())

	_, err = f.engine.PayIndividualInfluencer(context.Background(), 10, f.contract.Id)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestPayIndividualInfluencer(t *testing.T) {
	f := newFixture(t)
	f.addInfluencer(t, 10, influencerWallet)
	f.addInfluencer(t, 11, influencerWallet)
	p := f.join(t, f.contract.Id, 10, model.ReviewApproved)
	f.join(t, f.contract.Id, 11, model.ReviewRejected)

	out, err := f.engine.PayIndividualInfluencer(context.Background(), 10, f.contract.Id)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.True(t, f.reload(t, p.Id).RewardPaid)

	_, err = f.engine.PayIndividualInfluencer(context.Background(), 10, f.contract.Id)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	_, err = f.engine.PayIndividualInfluencer(context.Background(), 11, f.contract.Id)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	_, err = f.engine.PayIndividualInfluencer(context.Background(), 99, f.contract.Id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.Equal(t, 1, f.gateway.payCount())
	assert.Zero(t, f.gateway.refundCount(), "manual payout does not refund")
}

func TestPayIndividualChainFailure(t *testing.T) {
	f := newFixture(t)
	f.addInfluencer(t, 10, influencerWallet)
	f.join(t, f.contract.Id, 10, model.ReviewApproved)
	f.gateway.payErr[10] = errors.New("connection refused")

	out, err := f.engine.PayIndividualInfluencer(context.Background(), 10, f.contract.Id)
	assert.ErrorIs(t, err, apperr.ErrChainCallFailed)
	require.NotNil(t, out)
	assert.Equal(t, StatusFailed, out.Status)

	// failed records are eligible again
	delete(f.gateway.payErr, 10)
	out, err = f.engine.PayIndividualInfluencer(context.Background(), 10, f.contract.Id)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
}

func TestPayableStatusesAreConfigurable(t *testing.T) {
	f := newFixture(t)
	f.engine = NewEngine(f.db, f.gateway, window.NewPolicy(time.UTC, 1, 48*time.Hour),
		WithClock(func() time.Time { return testNow }),
		WithPayableStatuses([]model.ReviewStatus{model.ReviewApproved, model.ReviewRejected}))
	f.addInfluencer(t, 10, influencerWallet)
	f.join(t, f.contract.Id, 10, model.ReviewRejected)

	_, err := f.engine.ExecuteAutoPay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.gateway.payCount())
}

func TestProcessContractRefund(t *testing.T) {
	f := newFixture(t)

	out, err := f.engine.ProcessContractRefund(context.Background(), f.contract.Id)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)

	_, err = f.engine.ProcessContractRefund(context.Background(), f.contract.Id)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.engine.ProcessContractRefund(context.Background(), "MISSING000000000")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 1, f.gateway.refundCount())
}

func TestRefundWithoutAdvertiserWallet(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&model.Advertiser{}).Where("id = ?", 1).Update("wallet_address", "").Error)

	out, err := f.engine.ProcessContractRefund(context.Background(), f.contract.Id)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Zero(t, f.gateway.refundCount())

	c := f.reloadContract(t, f.contract.Id)
	assert.False(t, c.RefundProcessed)
	assert.Equal(t, model.RefundStateNone, c.RefundState)
	assert.Contains(t, c.RefundError, "no wallet address")
}

func TestContractPaymentStatus(t *testing.T) {
	f := newFixture(t)
	f.addInfluencer(t, 10, influencerWallet)
	f.join(t, f.contract.Id, 10, model.ReviewApproved)
	f.join(t, f.contract.Id, 11, model.ReviewApproved)
	f.join(t, f.contract.Id, 12, model.ReviewRejected)
	_, err := f.engine.PayIndividualInfluencer(context.Background(), 10, f.contract.Id)
	require.NoError(t, err)

	status, err := f.engine.ContractPaymentStatus(context.Background(), f.contract.Id)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Summary.TotalInfluencers)
	assert.Equal(t, 2, status.Summary.ApprovedInfluencers)
	assert.Equal(t, 1, status.Summary.PaidInfluencers)
	assert.Equal(t, 1, status.Summary.PendingPayments)
	assert.False(t, status.Summary.RefundProcessed)
	assert.True(t, status.Summary.SettlementEligible)
	require.Len(t, status.Participants, 3)
	assert.True(t, status.Participants[0].RewardPaid)

	_, err = f.engine.ContractPaymentStatus(context.Background(), "MISSING000000000")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// openContract is still inside its review window at the real clock, which the
// dispute logic reads.
func (f *fixture) openContract(t *testing.T) model.Contract {
	return f.addContract(t, "CONTRACT00000009", time.Now().Add(24*time.Hour))
}

func TestDisputeDuringPayoutIsRejected(t *testing.T) {
	f := newFixture(t)
	live := f.openContract(t)
	f.addInfluencer(t, 10, influencerWallet)
	p := f.join(t, live.Id, 10, model.ReviewApproved)
	advertiser := logic.NewAdvertiserLogic(f.db, window.NewPolicy(time.UTC, 1, 48*time.Hour))

	var askErr error
	f.gateway.onPay = func() {
		_, askErr = advertiser.Ask(context.Background(), 1, p.Id)
	}

	out, err := f.engine.PayIndividualInfluencer(context.Background(), 10, live.Id)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.ErrorIs(t, askErr, apperr.ErrConflict)

	paid := f.reload(t, p.Id)
	assert.True(t, paid.RewardPaid)
	assert.Equal(t, model.ReviewApproved, paid.ReviewStatus)
}

func TestDisputeBeforePayoutBlocksIt(t *testing.T) {
	f := newFixture(t)
	live := f.openContract(t)
	f.addInfluencer(t, 10, influencerWallet)
	p := f.join(t, live.Id, 10, model.ReviewApproved)
	advertiser := logic.NewAdvertiserLogic(f.db, window.NewPolicy(time.UTC, 1, 48*time.Hour))

	next, err := advertiser.Ask(context.Background(), 1, p.Id)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewFromAdvertiser, next)

	_, err = f.engine.PayIndividualInfluencer(context.Background(), 10, live.Id)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	// a payer that read the record before the dispute landed loses the claim
	stale := p
	out, err := f.engine.payParticipation(context.Background(), &live, &stale)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Zero(t, f.gateway.payCount())

	stored := f.reload(t, p.Id)
	assert.False(t, stored.RewardPaid)
	assert.Equal(t, model.PaymentUnpaid, stored.PaymentState)
	assert.Equal(t, model.ReviewFromAdvertiser, stored.ReviewStatus)
}

func TestFailureRecordedAfterCallerCancels(t *testing.T) {
	f := newFixture(t)
	f.addInfluencer(t, 10, influencerWallet)
	p := f.join(t, f.contract.Id, 10, model.ReviewApproved)

	f.gateway.payErr[10] = errors.New("connection reset by peer")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.gateway.onPay = cancel

	out, err := f.engine.PayIndividualInfluencer(ctx, 10, f.contract.Id)
	assert.ErrorIs(t, err, apperr.ErrChainCallFailed)
	require.NotNil(t, out)
	assert.Equal(t, StatusFailed, out.Status)

	stored := f.reload(t, p.Id)
	assert.Equal(t, model.PaymentFailed, stored.PaymentState, "not left claimed")
	assert.Contains(t, stored.PaymentError, "connection reset")

	f.gateway.refundErr = errors.New("connection reset by peer")
	rctx, rcancel := context.WithCancel(context.Background())
	defer rcancel()
	f.gateway.onRefund = rcancel

	_, err = f.engine.ProcessContractRefund(rctx, f.contract.Id)
	assert.ErrorIs(t, err, apperr.ErrChainCallFailed)

	c := f.reloadContract(t, f.contract.Id)
	assert.False(t, c.RefundProcessed)
	assert.Equal(t, model.RefundStateFailed, c.RefundState)
	assert.Contains(t, c.RefundError, "connection reset")
}
