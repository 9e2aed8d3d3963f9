package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/metrics"
)

// Fee estimation errors
var (
	ErrGasPriceTooHigh = errors.New("gas price exceeds maximum")
	ErrGasLimitTooHigh = errors.New("gas limit exceeds maximum")
)

// FeeEstimatorConfig configures gas limit and fee estimation.
type FeeEstimatorConfig struct {
	// MaxGasPrice caps the fee cap (or legacy gas price) in wei.
	MaxGasPrice *big.Int
	// MaxGasLimit caps the estimated gas limit.
	MaxGasLimit uint64
	// GasLimitMultiplier pads the node estimate (1.2 = 20% buffer).
	GasLimitMultiplier float64
	// CacheTTL is how long a fee quote is reused.
	CacheTTL time.Duration
}

// FeeQuote holds either EIP-1559 fees or a legacy gas price.
type FeeQuote struct {
	GasPrice  *big.Int
	BaseFee   *big.Int
	GasTipCap *big.Int
	GasFeeCap *big.Int
	FetchedAt time.Time
}

// IsEIP1559 reports whether the quote carries dynamic fee fields.
func (q *FeeQuote) IsEIP1559() bool {
	return q.GasFeeCap != nil && q.GasTipCap != nil
}

// EffectiveGwei is the price paid per gas unit in gwei: the fee cap for
// EIP-1559 quotes, the gas price otherwise.
func (q *FeeQuote) EffectiveGwei() float64 {
	price := q.GasPrice
	if q.IsEIP1559() {
		price = q.GasFeeCap
	}
	if price == nil {
		return 0
	}
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(price), big.NewFloat(1e9)).Float64()
	return gwei
}

// FeeBackend is the subset of ethclient used for estimation.
type FeeBackend interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// FeeEstimator estimates gas limits and caches fee quotes.
type FeeEstimator struct {
	cfg     FeeEstimatorConfig
	backend FeeBackend

	mu     sync.RWMutex
	cached *FeeQuote
}

// NewFeeEstimator creates a fee estimator.
func NewFeeEstimator(cfg FeeEstimatorConfig, backend FeeBackend) *FeeEstimator {
	if cfg.MaxGasPrice == nil {
		cfg.MaxGasPrice = big.NewInt(1000e9) // 1000 Gwei
	}
	if cfg.MaxGasLimit == 0 {
		cfg.MaxGasLimit = 15_000_000
	}
	if cfg.GasLimitMultiplier == 0 {
		cfg.GasLimitMultiplier = 1.2
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 2 * time.Second
	}
	return &FeeEstimator{cfg: cfg, backend: backend}
}

// Quote returns the current fee quote, cached for CacheTTL.
// A header with a base fee selects EIP-1559 (fee cap = 2*base + tip); otherwise the legacy gas price is used.
func (e *FeeEstimator) Quote(ctx context.Context) (*FeeQuote, error) {
	e.mu.RLock()
	if e.cached != nil && time.Since(e.cached.FetchedAt) < e.cfg.CacheTTL {
		cached := e.cached
		e.mu.RUnlock()
		return cached, nil
	}
	e.mu.RUnlock()

	quote := &FeeQuote{FetchedAt: time.Now()}

	header, err := e.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch latest header: %w", err)
	}
	if header.BaseFee != nil {
		tip, err := e.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas tip cap: %w", err)
		}
		quote.BaseFee = new(big.Int).Set(header.BaseFee)
		quote.GasTipCap = tip
		quote.GasFeeCap = new(big.Int).Mul(header.BaseFee, big.NewInt(2))
		quote.GasFeeCap.Add(quote.GasFeeCap, tip)
		if quote.GasFeeCap.Cmp(e.cfg.MaxGasPrice) > 0 {
			return nil, ErrGasPriceTooHigh
		}
	} else {
		price, err := e.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
		quote.GasPrice = price
		if price.Cmp(e.cfg.MaxGasPrice) > 0 {
			return nil, ErrGasPriceTooHigh
		}
	}

	e.mu.Lock()
	e.cached = quote
	e.mu.Unlock()
	metrics.UpdateGasPrice(quote.EffectiveGwei())
	return quote, nil
}

// EstimateGas returns a padded gas limit for the call.
func (e *FeeEstimator) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := e.backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, err
	}
	gas = uint64(float64(gas) * e.cfg.GasLimitMultiplier)
	if gas > e.cfg.MaxGasLimit {
		return 0, ErrGasLimitTooHigh
	}
	return gas, nil
}

// InvalidateCache drops the cached quote, e.g. after a fee-too-low rejection.
func (e *FeeEstimator) InvalidateCache() {
	e.mu.Lock()
	e.cached = nil
	e.mu.Unlock()
}
