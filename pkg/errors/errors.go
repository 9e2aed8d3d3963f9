// Package errors 定义对外返回的业务错误.
// 错误码前缀与动作错误分类一致: PRECHECK_ 请求不满足前置条件, POLICY_ 被配置禁用.
package errors

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
)

// Error 业务错误, HTTPStatus 决定 HTTP 响应码, Retryable 供 worker/消费者判断是否重投
type Error struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	HTTPStatus int               `json:"-"`
	Retryable  bool              `json:"retryable"`
	Cause      error             `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 同错误码即视为同一错误
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithDetail 返回附加了详情的副本
func (e *Error) WithDetail(key, value string) *Error {
	out := e.clone()
	if out.Details == nil {
		out.Details = make(map[string]string, 1)
	}
	out.Details[key] = value
	return out
}

// WithMessage 返回替换了消息的副本
func (e *Error) WithMessage(message string) *Error {
	out := e.clone()
	out.Message = message
	return out
}

func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

func (e *Error) clone() *Error {
	out := *e
	out.Details = maps.Clone(e.Details)
	return &out
}

// FromError 取出错误链上的业务错误, 其他错误归为 ErrInternal 并保留 cause
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr
	}
	out := ErrInternal.clone()
	out.Cause = err
	return out
}

func define(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: status}
}

var (
	ErrInternal       = define("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
	ErrInvalidRequest = define("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrNotFound       = define("NOT_FOUND", "resource not found", http.StatusNotFound)
)

// 动作入队
var (
	ErrInvalidActionType = define("PRECHECK_INVALID_ACTION_TYPE", "unknown action type", http.StatusBadRequest)
	ErrInvalidAction     = define("PRECHECK_INVALID_ACTION", "invalid action payload", http.StatusBadRequest)
	ErrPreflightFailed   = define("PRECHECK_PREFLIGHT_FAILED", "preflight rejected action", http.StatusUnprocessableEntity)
	ErrReadOnlyMode      = define("POLICY_READ_ONLY_MODE", "action submission disabled in read-only mode", http.StatusServiceUnavailable)
	ErrDeployerClaimOff  = define("POLICY_DEPLOYER_CLAIM_DISABLED", "deployer claims are disabled", http.StatusForbidden)
)
