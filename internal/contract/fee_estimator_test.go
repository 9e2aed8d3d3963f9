package contract

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeeBackend struct {
	baseFee  *big.Int
	tip      *big.Int
	gasPrice *big.Int
	gas      uint64
	gasErr   error
	headers  int
}

func (f *fakeFeeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeFeeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return f.tip, nil
}

func (f *fakeFeeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return f.gas, f.gasErr
}

func (f *fakeFeeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.headers++
	return &types.Header{BaseFee: f.baseFee}, nil
}

func TestFeeEstimator_EIP1559(t *testing.T) {
	backend := &fakeFeeBackend{baseFee: big.NewInt(100), tip: big.NewInt(2)}
	e := NewFeeEstimator(FeeEstimatorConfig{}, backend)

	q, err := e.Quote(context.Background())
	require.NoError(t, err)
	assert.True(t, q.IsEIP1559())
	assert.Equal(t, int64(202), q.GasFeeCap.Int64())
	assert.Nil(t, q.GasPrice)

	_, err = e.Quote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, backend.headers)

	e.InvalidateCache()
	_, err = e.Quote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, backend.headers)
}

func TestFeeEstimator_Legacy(t *testing.T) {
	e := NewFeeEstimator(FeeEstimatorConfig{}, &fakeFeeBackend{gasPrice: big.NewInt(7)})
	q, err := e.Quote(context.Background())
	require.NoError(t, err)
	assert.False(t, q.IsEIP1559())
	assert.Equal(t, int64(7), q.GasPrice.Int64())
}

func TestFeeEstimator_MaxGasPrice(t *testing.T) {
	e := NewFeeEstimator(FeeEstimatorConfig{MaxGasPrice: big.NewInt(5)}, &fakeFeeBackend{gasPrice: big.NewInt(7)})
	_, err := e.Quote(context.Background())
	assert.ErrorIs(t, err, ErrGasPriceTooHigh)
}

func TestFeeEstimator_EstimateGas(t *testing.T) {
	e := NewFeeEstimator(FeeEstimatorConfig{GasLimitMultiplier: 1.5, MaxGasLimit: 200}, &fakeFeeBackend{gas: 100})
	gas, err := e.EstimateGas(context.Background(), ethereum.CallMsg{})
	require.NoError(t, err)
	assert.Equal(t, uint64(150), gas)

	e = NewFeeEstimator(FeeEstimatorConfig{GasLimitMultiplier: 3, MaxGasLimit: 200}, &fakeFeeBackend{gas: 100})
	_, err = e.EstimateGas(context.Background(), ethereum.CallMsg{})
	assert.ErrorIs(t, err, ErrGasLimitTooHigh)

	revert := errors.New("execution reverted: RunNotActive")
	e = NewFeeEstimator(FeeEstimatorConfig{}, &fakeFeeBackend{gasErr: revert})
	_, err = e.EstimateGas(context.Background(), ethereum.CallMsg{})
	assert.ErrorIs(t, err, revert)
}
