package model

import (
	"encoding/json"
)

// ActionStatus 动作状态
type ActionStatus string

const (
	ActionStatusQueued    ActionStatus = "queued"    // 已入队
	ActionStatusRunning   ActionStatus = "running"   // 执行中 (已被 worker 领取)
	ActionStatusRetry     ActionStatus = "retry"     // 等待重试
	ActionStatusSucceeded ActionStatus = "succeeded" // 成功
	ActionStatusFailed    ActionStatus = "failed"    // 失败
)

// IsTerminal 判断是否为终态
func (s ActionStatus) IsTerminal() bool {
	return s == ActionStatusSucceeded || s == ActionStatusFailed
}

// IsClaimable 判断是否可被领取
func (s ActionStatus) IsClaimable() bool {
	return s == ActionStatusQueued || s == ActionStatusRetry
}

// CanTransitionTo 状态流转校验
// queued -> running -> {succeeded, retry, failed}; retry -> running
func (s ActionStatus) CanTransitionTo(next ActionStatus) bool {
	switch s {
	case ActionStatusQueued, ActionStatusRetry:
		return next == ActionStatusRunning
	case ActionStatusRunning:
		return next == ActionStatusSucceeded || next == ActionStatusRetry || next == ActionStatusFailed
	default:
		return false
	}
}

// ActionSubmission 动作提交记录 (只增不删, 作为审计记录)
type ActionSubmission struct {
	ActionID       string       `gorm:"column:action_id;type:uuid;primaryKey" json:"action_id"`
	Signer         string       `gorm:"column:signer;type:varchar(42);not null;uniqueIndex:uk_signer_idem" json:"signer"`
	IdempotencyKey string       `gorm:"column:idempotency_key;type:varchar(128);not null;uniqueIndex:uk_signer_idem" json:"idempotency_key"`
	ActionType     string       `gorm:"column:action_type;type:varchar(64);not null" json:"action_type"`
	RequestJSON    string       `gorm:"column:request_json;type:jsonb;not null" json:"request_json"`
	ConflictKey    *string      `gorm:"column:conflict_key;type:varchar(96);index" json:"conflict_key,omitempty"`
	Status         ActionStatus `gorm:"column:status;type:varchar(16);index;not null" json:"status"`
	ResultJSON     string       `gorm:"column:result_json;type:jsonb;not null;default:'{}'" json:"result_json"`
	ErrorCode      string       `gorm:"column:error_code;type:varchar(64);not null;default:''" json:"error_code"`
	ErrorMessage   string       `gorm:"column:error_message;type:text;not null;default:''" json:"error_message"`
	Attempts       int          `gorm:"column:attempts;type:int;not null;default:0" json:"attempts"`
	TxHashes       string       `gorm:"column:tx_hashes;type:jsonb;not null;default:'[]'" json:"tx_hashes"` // JSON 数组
	NotBefore      int64        `gorm:"column:not_before;type:bigint;not null;default:0" json:"not_before"`
	CreatedAt      int64        `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt      int64        `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (ActionSubmission) TableName() string {
	return "action_submissions"
}

// GetTxHashList 解析交易哈希列表
func (a *ActionSubmission) GetTxHashList() ([]string, error) {
	if a.TxHashes == "" {
		return []string{}, nil
	}
	var hashes []string
	if err := json.Unmarshal([]byte(a.TxHashes), &hashes); err != nil {
		return nil, err
	}
	return hashes, nil
}

// SetTxHashList 设置交易哈希列表
func (a *ActionSubmission) SetTxHashList(hashes []string) error {
	if hashes == nil {
		hashes = []string{}
	}
	data, err := json.Marshal(hashes)
	if err != nil {
		return err
	}
	a.TxHashes = string(data)
	return nil
}

// ActionResult 动作结果 (返回给调用方和发布到 Kafka)
type ActionResult struct {
	ActionID     string          `json:"action_id"`
	ActionType   string          `json:"action_type"`
	Signer       string          `json:"signer"`
	Status       ActionStatus    `json:"status"`
	Code         string          `json:"code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Attempts     int             `json:"attempts"`
	TxHashes     []string        `json:"tx_hashes"`
	Result       json.RawMessage `json:"result,omitempty"`
	UpdatedAt    int64           `json:"updated_at"`
}

// ToResult 转换为对外结果
func (a *ActionSubmission) ToResult() *ActionResult {
	hashes, err := a.GetTxHashList()
	if err != nil {
		hashes = []string{}
	}
	res := &ActionResult{
		ActionID:     a.ActionID,
		ActionType:   a.ActionType,
		Signer:       a.Signer,
		Status:       a.Status,
		Code:         a.ErrorCode,
		ErrorMessage: a.ErrorMessage,
		Attempts:     a.Attempts,
		TxHashes:     hashes,
		UpdatedAt:    a.UpdatedAt,
	}
	if a.ResultJSON != "" && a.ResultJSON != "{}" {
		res.Result = json.RawMessage(a.ResultJSON)
		var envelope struct {
			Code string `json:"code"`
		}
		if json.Unmarshal(res.Result, &envelope) == nil && envelope.Code != "" && res.Code == "" {
			res.Code = envelope.Code
		}
	}
	return res
}
