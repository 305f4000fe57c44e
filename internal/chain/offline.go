package chain

import (
	"context"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/blues/greensalary/internal/config"
)

// Offline stands in for a Client when the node could not be reached at
// startup. Every call fails with ErrChainCallFailed so settlement records
// the attempt and retries on a later sweep.
type Offline struct {
	env     string
	profile config.ChainProfile
	cause   error
}

func NewOffline(env string, profile config.ChainProfile, cause error) *Offline {
	return &Offline{env: env, profile: profile, cause: cause}
}

func (o *Offline) PayInfluencer(ctx context.Context, campaignId, influencerId int64, wallet string, onSubmit SubmitFunc) (*TxResult, error) {
	return nil, apperr.ChainFailed("payInfluencer", o.cause)
}

func (o *Offline) RefundAdvertiser(ctx context.Context, campaignId int64, wallet string, onSubmit SubmitFunc) (*TxResult, error) {
	return nil, apperr.ChainFailed("refundAdvertiser", o.cause)
}

func (o *Offline) ReceiptStatus(ctx context.Context, txHash string) (*Receipt, error) {
	return nil, apperr.ChainFailed("receipt", o.cause)
}

func (o *Offline) GetContractBalance(ctx context.Context) (*Balance, error) {
	return nil, apperr.ChainFailed("getBalance", o.cause)
}

func (o *Offline) GetAdInfo(ctx context.Context, adId int64) (*AdInfo, error) {
	return nil, apperr.ChainFailed("getAdInfo", o.cause)
}

func (o *Offline) GetInfluencerInfo(ctx context.Context, adId int64, wallet string) (*InfluencerInfo, error) {
	return nil, apperr.ChainFailed("getInfluencerInfo", o.cause)
}

func (o *Offline) GetStatus(ctx context.Context) *Status {
	return &Status{
		Env:             o.env,
		ChainId:         o.profile.ChainId,
		NetworkId:       o.profile.NetworkId,
		ContractAddress: o.profile.ContractAddress,
		Error:           o.cause.Error(),
	}
}

func (o *Offline) Close() error {
	return nil
}

func (o *Offline) LatestBlock(ctx context.Context) (uint64, error) {
	return 0, apperr.ChainFailed("blockNumber", o.cause)
}

func (o *Offline) EscrowEvents(ctx context.Context, from, to uint64) ([]EscrowEvent, error) {
	return nil, apperr.ChainFailed("filterLogs", o.cause)
}
