// Package handler 提供运维 HTTP 接口与 gRPC 健康检查
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	bizerrors "github.com/stokasz/ChainMMO-Monad-sub000/pkg/errors"
	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/logger"
)

// Response 统一响应
type Response struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Data    interface{}       `json:"data,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Success 返回成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, &Response{Code: "OK", Message: "success", Data: data})
}

// Accepted 返回已受理响应
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, &Response{Code: "OK", Message: "accepted", Data: data})
}

// Error 返回业务错误响应
func Error(c *gin.Context, err *bizerrors.Error) {
	ErrorWithData(c, err, nil)
}

// ErrorWithData 返回带数据的错误响应
func ErrorWithData(c *gin.Context, err *bizerrors.Error, data interface{}) {
	status := err.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, &Response{
		Code:    err.Code,
		Message: err.Message,
		Data:    data,
		Details: err.Details,
	})
}

// BadRequest 返回参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, bizerrors.ErrInvalidRequest.WithMessage(message))
}

// handleServiceError 业务错误按错误码返回, 其余记录日志后返回 500
func handleServiceError(c *gin.Context, err error) {
	var biz *bizerrors.Error
	if errors.As(err, &biz) {
		Error(c, biz)
		return
	}
	logger.Ctx(c.Request.Context()).Error("request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	Error(c, bizerrors.ErrInternal)
}
