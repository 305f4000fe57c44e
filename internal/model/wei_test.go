package model

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWei(t *testing.T) {
	w, err := ParseWei("1000000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000000", w.String())

	_, err = ParseWei("1.5")
	assert.Error(t, err)

	_, err = ParseWei("-1")
	assert.Error(t, err)

	zero, err := ParseWei("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}

func TestWeiEther(t *testing.T) {
	assert.Equal(t, "1.5", WeiFromInt64(1_500_000_000_000_000_000).Ether())
	assert.Equal(t, "0", Wei{}.Ether())
	assert.Equal(t, "0.000000000000000001", WeiFromInt64(1).Ether())
}

func TestWeiScanAndValue(t *testing.T) {
	var w Wei
	require.NoError(t, w.Scan([]byte("42")))
	assert.Equal(t, 0, w.Cmp(WeiFromInt64(42)))

	require.NoError(t, w.Scan(int64(7)))
	v, err := w.Value()
	require.NoError(t, err)
	assert.Equal(t, "7", v)

	assert.Error(t, w.Scan(3.14))
}

func TestWeiJSON(t *testing.T) {
	var payload struct {
		Reward Wei `json:"reward"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"reward":"250000000000000000"}`), &payload))
	assert.Equal(t, "250000000000000000", payload.Reward.String())

	require.NoError(t, json.Unmarshal([]byte(`{"reward":12}`), &payload))
	assert.Equal(t, "12", payload.Reward.String())

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"reward":"12"}`, string(out))
}

func TestWeiBigIsCopy(t *testing.T) {
	w := NewWei(big.NewInt(10))
	b := w.Big()
	b.SetInt64(99)
	assert.Equal(t, "10", w.String())
}
