package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	bizerrors "github.com/stokasz/ChainMMO-Monad-sub000/pkg/errors"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"contract error name", errors.New("execution reverted: InsufficientCommitFee()"), "CHAIN_INSUFFICIENT_COMMIT_FEE", false},
		{"reveal too early", errors.New("execution reverted: RevealTooEarly"), "CHAIN_REVEAL_TOO_EARLY", true},
		{"epoch not finalized", errors.New("EpochNotFinalized"), "CHAIN_EPOCH_NOT_FINALIZED", true},
		{"nonce too low", errors.New("nonce too low: next nonce 12, tx nonce 11"), CodeNonceConflict, true},
		{"replacement underpriced", errors.New("replacement transaction underpriced"), CodeNonceConflict, true},
		{"fee below base", errors.New("max fee per gas less than block base fee"), CodeFeeTooLow, true},
		{"plain underpriced", errors.New("transaction underpriced"), CodeFeeTooLow, true},
		{"rate limited", errors.New("429 Too Many Requests"), CodeRateLimit, true},
		{"range too large", errors.New("eth_getLogs is limited to a 100 block range"), CodeRangeTooLarge, true},
		{"insufficient funds", errors.New("insufficient funds for gas * price + value"), CodeInsufficientFunds, false},
		{"timeout", errors.New("dial tcp: i/o timeout"), CodeTransient, true},
		{"unknown", errors.New("something odd"), CodeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ClassifyError(tt.err)
			assert.Equal(t, tt.code, c.Code)
			assert.Equal(t, tt.retryable, c.Retryable)
		})
	}
}

func TestClassifyError_KeepsExistingCodes(t *testing.T) {
	wrapped := fmt.Errorf("reveal: %w", errRevealExpired)
	assert.Equal(t, "CHAIN_REVEAL_EXPIRED", ClassifyError(wrapped).Code)

	biz := ClassifyError(bizerrors.ErrDeployerClaimOff)
	assert.Equal(t, "POLICY_DEPLOYER_CLAIM_DISABLED", biz.Code)
	assert.False(t, biz.Retryable)

	assert.Equal(t, ClassifiedError{}, ClassifyError(nil))
}

func TestRangeAndRateLimitDetection(t *testing.T) {
	for _, msg := range []string{
		"eth_getLogs requests are limited to a 1000 block range",
		"eth_getLogs: up to a 10000 range",
		"block range too large",
		"exceed maximum block range: 50",
		"query exceeds max block range 50",
		"block range is too wide",
		"ranges over 10000 blocks are not supported: range limit exceeded",
		"query returned more than 10000 results",
		"Log response size exceeded. You can make eth_getLogs requests with up to a 2K block range",
	} {
		assert.True(t, IsRangeLimitError(errors.New(msg)), msg)
	}
	assert.False(t, IsRangeLimitError(errors.New("execution reverted: RunNotActive")))
	assert.False(t, IsRangeLimitError(errors.New("rate limit exceeded")))
	assert.False(t, IsRangeLimitError(nil))

	assert.True(t, IsRateLimitError(errors.New("rate limit exceeded")))
	assert.True(t, IsRateLimitError(errors.New("HTTP 429")))
	assert.False(t, IsRateLimitError(errors.New("nonce too low")))
}
