package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blues/greensalary/internal/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const testContractAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

// fakeBackend mines every sent transaction immediately. Methods the adapter
// does not use fall through to the nil embedded interface.
type fakeBackend struct {
	Backend

	mu          sync.Mutex
	abi         abi.ABI
	sent        []*types.Transaction
	receipts    map[common.Hash]*types.Receipt
	estimateErr error
	sendErr     error
	revert      bool
	withhold    bool // never return receipts
	estimated   uint64
	networkId   int64
	calls       map[string][]interface{}
	paidAmount  *big.Int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	parsed, err := abi.JSON(strings.NewReader(adContractABI))
	require.NoError(t, err)
	return &fakeBackend{
		abi:        parsed,
		receipts:   make(map[common.Hash]*types.Receipt),
		estimated:  50_000,
		networkId:  5777,
		calls:      make(map[string][]interface{}),
		paidAmount: big.NewInt(1_000_000_000_000_000_000),
	}
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100)}, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return f.estimated, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	if f.withhold {
		return nil
	}

	receipt := &types.Receipt{
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(int64(101 + len(f.sent))),
		GasUsed:     42_000,
		Status:      types.ReceiptStatusSuccessful,
	}
	if f.revert {
		receipt.Status = types.ReceiptStatusFailed
	} else {
		receipt.Logs = f.logsFor(tx)
		for _, l := range receipt.Logs {
			l.BlockNumber = receipt.BlockNumber.Uint64()
		}
	}
	f.receipts[tx.Hash()] = receipt
	return nil
}

func (f *fakeBackend) logsFor(tx *types.Transaction) []*types.Log {
	method, err := f.abi.MethodById(tx.Data()[:4])
	if err != nil {
		return nil
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return nil
	}

	var event abi.Event
	var party common.Address
	switch method.Name {
	case "payInfluencer":
		event = f.abi.Events[EventInfluencerPaid]
		party = args[2].(common.Address)
	case "refundAdvertiser":
		event = f.abi.Events[EventAdvertiserRefunded]
		party = args[1].(common.Address)
	default:
		return nil
	}
	data, err := event.Inputs.NonIndexed().Pack(f.paidAmount)
	if err != nil {
		return nil
	}
	return []*types.Log{{
		Address: common.HexToAddress(testContractAddress),
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(args[0].(*big.Int)),
			common.BytesToHash(party.Bytes()),
		},
		Data:   data,
		TxHash: tx.Hash(),
	}}
}

// FilterLogs serves the logs of every mined transaction; topic filtering
// only looks at the event signature position.
func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []types.Log
	for _, tx := range f.sent {
		r, ok := f.receipts[tx.Hash()]
		if !ok {
			continue
		}
		for _, l := range r.Logs {
			if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
				continue
			}
			if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
				continue
			}
			if len(q.Topics) > 0 && !containsHash(q.Topics[0], l.Topics[0]) {
				continue
			}
			out = append(out, *l)
		}
	}
	return out, nil
}

func containsHash(set []common.Hash, h common.Hash) bool {
	for _, s := range set {
		if s == h {
			return true
		}
	}
	return false
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	method, err := f.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	values, ok := f.calls[method.Name]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return method.Outputs.Pack(values...)
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return 100, nil
}

func (f *fakeBackend) NetworkID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(f.networkId), nil
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	return big.NewInt(2_500_000_000_000_000_000), nil
}

func (f *fakeBackend) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testProfile(t *testing.T) config.ChainProfile {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return config.ChainProfile{
		PrivateKey:       "0x" + hex.EncodeToString(crypto.FromECDSA(key)),
		ChainId:          1337,
		NetworkId:        "5777",
		ContractAddress:  testContractAddress,
		GasMarginPercent: 20,
		CallTimeout:      5 * time.Second,
	}
}

func newTestClient(t *testing.T) (*Client, *fakeBackend) {
	backend := newFakeBackend(t)
	c, err := NewClient(backend, "development", testProfile(t))
	require.NoError(t, err)
	return c, backend
}
