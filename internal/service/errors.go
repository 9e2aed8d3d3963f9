package service

import (
	"errors"
	"strings"

	bizerrors "github.com/stokasz/ChainMMO-Monad-sub000/pkg/errors"
)

// 错误码前缀: PRECHECK_ 请求前置条件, CHAIN_ 链上状态冲突, INFRA_ 传输/签名竞争, POLICY_ 配置禁用
const (
	CodeInternal          = "INTERNAL_ERROR"
	CodeRateLimit         = "INFRA_RATE_LIMIT"
	CodeNonceConflict     = "INFRA_NONCE_CONFLICT"
	CodeFeeTooLow         = "INFRA_FEE_TOO_LOW"
	CodeInsufficientFunds = "INFRA_INSUFFICIENT_FUNDS"
	CodeTransient         = "INFRA_TRANSIENT_ERROR"
	CodeRangeTooLarge     = "INFRA_RANGE_TOO_LARGE"
)

// ClassifiedError 分类后的错误
type ClassifiedError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type errorSignature struct {
	match     string
	code      string
	retryable bool
}

// directSignatures 合约自定义错误名 -> 错误码, 按顺序匹配 (子串, 不区分大小写)
var directSignatures = []errorSignature{
	{"CharacterNotFound", "PRECHECK_CHARACTER_NOT_FOUND", false},
	{"OnlyCharacterOwner", "PRECHECK_ONLY_CHARACTER_OWNER", false},
	{"RunNotActive", "PRECHECK_RUN_NOT_ACTIVE", false},
	{"RunAlreadyActive", "PRECHECK_RUN_ALREADY_ACTIVE", false},
	{"NotRunOwner", "PRECHECK_NOT_RUN_OWNER", false},
	{"RoomAlreadyResolved", "PRECHECK_ROOM_ALREADY_RESOLVED", false},
	{"AbilityUnavailable", "PRECHECK_ABILITY_UNAVAILABLE", false},
	{"InsufficientMana", "PRECHECK_INSUFFICIENT_MANA", false},
	{"InsufficientLootboxCredits", "PRECHECK_INSUFFICIENT_LOOTBOX_CREDITS", false},
	{"AmountZero", "PRECHECK_INVALID_AMOUNT", false},
	{"BatchTooLarge", "PRECHECK_BATCH_TOO_LARGE", false},
	{"ArrayLengthMismatch", "PRECHECK_ARRAY_LENGTH_MISMATCH", false},
	{"InvalidDungeonLevel", "PRECHECK_INVALID_DUNGEON_LEVEL", false},
	{"InvalidDifficulty", "PRECHECK_INVALID_DIFFICULTY", false},
	{"InvalidVarianceMode", "PRECHECK_INVALID_VARIANCE_MODE", false},
	{"InvalidActionType", "PRECHECK_INVALID_ACTION_TYPE", false},
	{"InsufficientCommitFee", "CHAIN_INSUFFICIENT_COMMIT_FEE", false},
	{"InsufficientCreateFee", "CHAIN_INSUFFICIENT_CREATE_FEE", false},
	{"InsufficientEth", "CHAIN_INSUFFICIENT_NATIVE_BALANCE", false},
	{"InvalidEpoch", "CHAIN_INVALID_EPOCH", false},
	{"EpochAlreadyFinalized", "CHAIN_EPOCH_ALREADY_FINALIZED", false},
	{"EpochNotFinalized", "CHAIN_EPOCH_NOT_FINALIZED", true},
	{"AlreadyClaimed", "CHAIN_ALREADY_CLAIMED", false},
	{"NotEligible", "CHAIN_NOT_ELIGIBLE", false},
	{"OnlyDeployer", "PRECHECK_ONLY_DEPLOYER", false},
	{"PolicyDeployerClaimDisabled", "POLICY_DEPLOYER_CLAIM_DISABLED", false},
	{"OfferInactive", "CHAIN_OFFER_INACTIVE", false},
	{"OfferExpired", "CHAIN_OFFER_EXPIRED", false},
	{"OfferNotExpired", "CHAIN_OFFER_NOT_EXPIRED", true},
	{"NotOfferMaker", "CHAIN_NOT_OFFER_MAKER", false},
	{"InvalidOffer", "PRECHECK_INVALID_OFFER", false},
	{"NotItemOwner", "PRECHECK_NOT_ITEM_OWNER", false},
	{"RevealTooEarly", "CHAIN_REVEAL_TOO_EARLY", true},
	{"RevealExpired", "CHAIN_REVEAL_EXPIRED", false},
	{"InvalidActionForReveal", "CHAIN_INVALID_ACTION_FOR_REVEAL", false},
	{"InvalidCommit", "CHAIN_INVALID_COMMIT", false},
	{"CommitNotExpired", "CHAIN_COMMIT_NOT_EXPIRED", false},
	{"CommitResolved", "CHAIN_COMMIT_RESOLVED", false},
	{"InvalidReveal", "CHAIN_INVALID_REVEAL", false},
	{"RFQInactive", "CHAIN_RFQ_INACTIVE", false},
	{"RFQExpired", "CHAIN_RFQ_EXPIRED", false},
	{"RFQItemMismatch", "CHAIN_RFQ_ITEM_MISMATCH", false},
	{"NotRFQMaker", "CHAIN_NOT_RFQ_MAKER", false},
	{"GearLockedDuringRun", "CHAIN_GEAR_LOCKED_DURING_RUN", false},
	{"InsufficientUpgradeStones", "CHAIN_INSUFFICIENT_UPGRADE_STONES", false},
	{"InsufficientEquippedSlots", "PRECHECK_INSUFFICIENT_EQUIPPED_SLOTS", false},
	{"PotionUnavailable", "PRECHECK_POTION_UNAVAILABLE", false},
	{"ItemNotEquipped", "CHAIN_ITEM_NOT_EQUIPPED", false},
}

// ClassifyError 将链/RPC 错误映射到封闭的错误分类.
// 已分类的 *ClassifiedError 和业务错误 *errors.Error 保留原错误码.
func ClassifyError(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return *classified
	}
	var bizErr *bizerrors.Error
	if errors.As(err, &bizErr) {
		return ClassifiedError{Code: bizErr.Code, Message: bizErr.Message, Retryable: bizErr.Retryable}
	}

	message := err.Error()
	lower := strings.ToLower(message)

	for _, sig := range directSignatures {
		if strings.Contains(lower, strings.ToLower(sig.match)) {
			return ClassifiedError{Code: sig.code, Message: message, Retryable: sig.retryable}
		}
	}

	switch {
	case IsRangeLimitError(err):
		return ClassifiedError{Code: CodeRangeTooLarge, Message: message, Retryable: true}
	case containsAny(lower, "too many requests", "rate limit", "429"):
		return ClassifiedError{Code: CodeRateLimit, Message: message, Retryable: true}
	case containsAny(lower, "nonce too low", "replacement transaction underpriced", "replacement fee too low", "already known"):
		return ClassifiedError{Code: CodeNonceConflict, Message: message, Retryable: true}
	case containsAny(lower, "max fee per gas less than block base fee", "maxfeepergas less than block base fee", "fee cap too low"),
		strings.Contains(lower, "transaction underpriced") && !strings.Contains(lower, "replacement"):
		return ClassifiedError{Code: CodeFeeTooLow, Message: message, Retryable: true}
	case strings.Contains(lower, "insufficient funds"):
		return ClassifiedError{Code: CodeInsufficientFunds, Message: message, Retryable: false}
	case containsAny(lower, "timeout", "etimedout", "timed out", "econn", "fetch failed", "socket"):
		return ClassifiedError{Code: CodeTransient, Message: message, Retryable: true}
	}
	return ClassifiedError{Code: CodeInternal, Message: message, Retryable: false}
}

// Error 实现 error, 允许把已分类错误沿调用链返回
func (e *ClassifiedError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// NewClassifiedError 构造已分类错误
func NewClassifiedError(code, message string, retryable bool) *ClassifiedError {
	return &ClassifiedError{Code: code, Message: message, Retryable: retryable}
}

// rangeLimitSignatures 各家节点拒绝过大 eth_getLogs 范围的报错片段.
// geth/erigon: "exceed maximum block range: 50", "query exceeds max block range 50";
// 托管节点: "block range is too wide", "query returned more than 10000 results", "log response size exceeded"
var rangeLimitSignatures = []string{
	"block range",
	"range limit",
	"range is too",
	"range too large",
	"too many blocks",
	"too many results",
	"query returned more than",
	"response size exceeded",
}

// IsRangeLimitError 节点拒绝过大的 eth_getLogs 区块范围
func IsRangeLimitError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	if containsAny(lower, rangeLimitSignatures...) {
		return true
	}
	// Alchemy: "eth_getLogs requests with up to a 10 block range"
	return strings.Contains(lower, "eth_getlogs") && strings.Contains(lower, "up to a")
}

// IsRateLimitError 节点限流
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(strings.ToLower(err.Error()), "429", "too many requests", "rate limit", "rate-limit", "max requests")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
