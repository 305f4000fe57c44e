package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/blues/greensalary/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestOfflineFailsEveryCall(t *testing.T) {
	cause := errors.New("dial tcp 127.0.0.1:8545: connection refused")
	o := NewOffline("development", config.ChainProfile{ChainId: 1337}, cause)
	ctx := context.Background()

	_, err := o.PayInfluencer(ctx, 1, 2, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", nil)
	assert.ErrorIs(t, err, apperr.ErrChainCallFailed)
	assert.ErrorIs(t, err, cause)

	_, err = o.RefundAdvertiser(ctx, 1, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", nil)
	assert.ErrorIs(t, err, apperr.ErrChainCallFailed)

	_, err = o.ReceiptStatus(ctx, "0x01")
	assert.ErrorIs(t, err, apperr.ErrChainCallFailed)

	_, err = o.GetContractBalance(ctx)
	assert.ErrorIs(t, err, apperr.ErrChainCallFailed)

	status := o.GetStatus(ctx)
	assert.False(t, status.Connected)
	assert.Equal(t, int64(1337), status.ChainId)
	assert.Contains(t, status.Error, "connection refused")
}
