package handler

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/metrics"
	bizerrors "github.com/stokasz/ChainMMO-Monad-sub000/pkg/errors"
	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/logger"
)

// TraceIDKey 请求追踪 ID (HTTP header / gRPC metadata)
const TraceIDKey = "x-trace-id"

// Recovery 返回 panic 恢复中间件
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
					zap.ByteString("stack", debug.Stack()))
				c.AbortWithStatusJSON(bizerrors.ErrInternal.HTTPStatus, &Response{
					Code:    bizerrors.ErrInternal.Code,
					Message: bizerrors.ErrInternal.Message,
				})
			}
		}()
		c.Next()
	}
}

// RequestLogger 返回请求日志中间件
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		traceID := c.GetHeader(TraceIDKey)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Header(TraceIDKey, traceID)
		c.Request = c.Request.WithContext(logger.NewContext(c.Request.Context(), zap.String("trace_id", traceID)))

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Duration("latency", time.Since(start)),
			zap.String("trace_id", traceID),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		switch {
		case status >= 500:
			logger.Error("request", fields...)
		case status >= 400:
			logger.Warn("request", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}

// RecoveryUnaryServerInterceptor gRPC panic 恢复
func RecoveryUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc panic recovered",
					zap.Any("error", r),
					zap.String("method", info.FullMethod),
					zap.ByteString("stack", debug.Stack()))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// UnaryServerInterceptor gRPC 日志与指标
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		traceID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(TraceIDKey); len(vals) > 0 {
				traceID = vals[0]
			}
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx = logger.NewContext(ctx, zap.String("trace_id", traceID), zap.String("method", info.FullMethod))

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		st, _ := status.FromError(err)
		metrics.RecordGRPCRequest(info.FullMethod, st.Code().String(), duration.Seconds())
		if err != nil {
			logger.Ctx(ctx).Warn("grpc request failed",
				zap.Duration("duration", duration),
				zap.String("code", st.Code().String()),
				zap.String("error", st.Message()))
		}
		return resp, err
	}
}
