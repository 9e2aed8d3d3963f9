// Package logger 全局 zap 日志: stdout + 可选 lumberjack 滚动文件, 请求级字段通过 context 传递
package logger

import (
	"context"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置
type Config struct {
	Level       string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format      string `yaml:"format" json:"format"` // json, console
	ServiceName string `yaml:"service_name" json:"service_name"`
	Environment string `yaml:"environment" json:"environment"`

	// 文件输出 (为空则只写 stdout)
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

type ctxKey struct{}

// 包级函数多一层调用, caller 需跳过 1 帧
var global atomic.Pointer[zap.Logger]

// Init 初始化全局日志, 非法级别按 info 处理
func Init(cfg *Config) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder
	encoder := zapcore.NewJSONEncoder(enc)
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(enc)
	}

	out := zapcore.AddSync(os.Stdout)
	if cfg.File != "" {
		out = zapcore.NewMultiWriteSyncer(out, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 7),
			Compress:   true,
		}))
	}

	fields := []zap.Field{zap.String("service", cfg.ServiceName)}
	if cfg.Environment != "" {
		fields = append(fields, zap.String("env", cfg.Environment))
	}

	global.Store(zap.New(zapcore.NewCore(encoder, out, level),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.Fields(fields...),
	))
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func get() *zap.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	l, _ := zap.NewProduction(zap.AddCallerSkip(1))
	global.CompareAndSwap(nil, l)
	return global.Load()
}

// L 返回可直接调用的全局 logger
func L() *zap.Logger {
	return get().WithOptions(zap.AddCallerSkip(-1))
}

// NewContext 在 ctx 已有 logger 基础上追加字段
func NewContext(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, ctxKey{}, Ctx(ctx).With(fields...))
}

// Ctx 返回 NewContext 放入的 logger, 没有则返回全局 logger
func Ctx(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return L()
}

func Debug(msg string, fields ...zap.Field) { get().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { get().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { get().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { get().Error(msg, fields...) }

// Sync 刷新缓冲, 退出前调用
func Sync() error {
	if l := global.Load(); l != nil {
		return l.Sync()
	}
	return nil
}
