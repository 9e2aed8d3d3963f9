package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// 运行模式
const (
	ModeFull     = "full"
	ModeReadOnly = "read-only"
)

// Config 配置
type Config struct {
	Service    ServiceConfig    `yaml:"service" json:"service"`
	Postgres   PostgresConfig   `yaml:"postgres" json:"postgres"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka" json:"kafka"`
	Blockchain BlockchainConfig `yaml:"blockchain" json:"blockchain"`
	Contracts  ContractsConfig  `yaml:"contracts" json:"contracts"`
	Indexer    IndexerConfig    `yaml:"indexer" json:"indexer"`
	Action     ActionConfig     `yaml:"action" json:"action"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	GRPCPort int    `yaml:"grpc_port" json:"grpc_port"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	Env      string `yaml:"env" json:"env"`
	// Mode full: 索引 + 动作执行; read-only: 只运行索引
	Mode string `yaml:"mode" json:"mode"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	SSLMode         string `yaml:"ssl_mode" json:"ssl_mode"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// DSN 返回连接串
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"password"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Brokers  []string `yaml:"brokers" json:"brokers"`
	GroupID  string   `yaml:"group_id" json:"group_id"`
	ClientID string   `yaml:"client_id" json:"client_id"`
	// 动作请求 (消费) / 动作结果与事件增量 (生产)
	ActionRequestsTopic string `yaml:"action_requests_topic" json:"action_requests_topic"`
	ActionResultsTopic  string `yaml:"action_results_topic" json:"action_results_topic"`
	EventDeltasTopic    string `yaml:"event_deltas_topic" json:"event_deltas_topic"`
}

// BlockchainConfig 区块链配置
type BlockchainConfig struct {
	RPCURL        string   `yaml:"rpc_url" json:"rpc_url"`
	BackupRPCURLs []string `yaml:"backup_rpc_urls" json:"backup_rpc_urls"`
	ChainID       int64    `yaml:"chain_id" json:"chain_id"`
	PrivateKey    string   `yaml:"private_key" json:"private_key"`
	Confirmations uint64   `yaml:"confirmations" json:"confirmations"`
	// RPC 限流 (每秒请求数, 0 表示不限)
	RPCRateLimit     float64 `yaml:"rpc_rate_limit" json:"rpc_rate_limit"`
	RPCBurst         int     `yaml:"rpc_burst" json:"rpc_burst"`
	ReceiptTimeoutMs int     `yaml:"receipt_timeout_ms" json:"receipt_timeout_ms"`
}

// ContractsConfig 合约地址
type ContractsConfig struct {
	GameWorld   string `yaml:"game_world" json:"game_world"`
	FeeVault    string `yaml:"fee_vault" json:"fee_vault"`
	Items       string `yaml:"items" json:"items"`
	RFQMarket   string `yaml:"rfq_market" json:"rfq_market"`
	TradeEscrow string `yaml:"trade_escrow" json:"trade_escrow"`
	MMO         string `yaml:"mmo" json:"mmo"`
}

// IndexerConfig 索引器配置
type IndexerConfig struct {
	Enabled           bool   `yaml:"enabled" json:"enabled"`
	CursorName        string `yaml:"cursor_name" json:"cursor_name"`
	StartBlock        uint64 `yaml:"start_block" json:"start_block"`
	PollMs            int    `yaml:"poll_ms" json:"poll_ms"`
	BlockChunk        uint64 `yaml:"block_chunk" json:"block_chunk"`
	MaxBlocksPerTick  uint64 `yaml:"max_blocks_per_tick" json:"max_blocks_per_tick"`
	LogRetryMax       int    `yaml:"log_retry_max" json:"log_retry_max"`
	LogRetryBackoffMs int    `yaml:"log_retry_backoff_ms" json:"log_retry_backoff_ms"`
}

// ActionConfig 动作队列配置
type ActionConfig struct {
	WorkerConcurrency       int  `yaml:"worker_concurrency" json:"worker_concurrency"`
	WorkerPollMs            int  `yaml:"worker_poll_ms" json:"worker_poll_ms"`
	RetryMax                int  `yaml:"retry_max" json:"retry_max"`
	RetryBackoffMs          int  `yaml:"retry_backoff_ms" json:"retry_backoff_ms"`
	RequirePreflightSuccess bool `yaml:"require_preflight_success" json:"require_preflight_success"`
	EnableDeployerClaims    bool `yaml:"enable_deployer_claims" json:"enable_deployer_claims"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// 日志块大小上限
const maxBlockChunk = 2000

// Load 加载配置
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse 解析配置内容 (先展开环境变量)
func Parse(data []byte) (*Config, error) {
	content := expandEnvVars(string(data))

	cfg := Config{
		Indexer: IndexerConfig{Enabled: true},
	}
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)

	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Service.Mode != ModeFull && c.Service.Mode != ModeReadOnly {
		return fmt.Errorf("invalid service.mode %q", c.Service.Mode)
	}
	if c.Service.Mode == ModeFull && c.Blockchain.PrivateKey == "" {
		return errors.New("blockchain.private_key is required in full mode")
	}
	if c.Blockchain.RPCURL == "" {
		return errors.New("blockchain.rpc_url is required")
	}
	addrs := map[string]string{
		"contracts.game_world":   c.Contracts.GameWorld,
		"contracts.fee_vault":    c.Contracts.FeeVault,
		"contracts.items":        c.Contracts.Items,
		"contracts.rfq_market":   c.Contracts.RFQMarket,
		"contracts.trade_escrow": c.Contracts.TradeEscrow,
		"contracts.mmo":          c.Contracts.MMO,
	}
	for name, addr := range addrs {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s is not a valid address: %q", name, addr)
		}
	}
	return nil
}

// IsReadOnly 是否只读模式
func (c *Config) IsReadOnly() bool {
	return c.Service.Mode == ModeReadOnly
}

// expandEnvVars 展开环境变量 ${VAR:default}
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := result[start+2 : end]
		parts := strings.SplitN(expr, ":", 2)
		varName := parts[0]
		defaultVal := ""
		if len(parts) > 1 {
			defaultVal = parts[1]
		}

		value := os.Getenv(varName)
		if value == "" {
			value = defaultVal
		}

		result = result[:start] + value + result[end+1:]
	}
	return result
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "chainmmo-mid"
	}
	if cfg.Service.GRPCPort == 0 {
		cfg.Service.GRPCPort = 50061
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 8787
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}
	if cfg.Service.Mode == "" {
		cfg.Service.Mode = ModeFull
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 50
	}

	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = cfg.Service.Name
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = cfg.Service.Name
	}
	if cfg.Kafka.ActionRequestsTopic == "" {
		cfg.Kafka.ActionRequestsTopic = "chainmmo-action-requests"
	}
	if cfg.Kafka.ActionResultsTopic == "" {
		cfg.Kafka.ActionResultsTopic = "chainmmo-action-results"
	}
	if cfg.Kafka.EventDeltasTopic == "" {
		cfg.Kafka.EventDeltasTopic = "chainmmo-event-deltas"
	}

	if cfg.Blockchain.ChainID == 0 {
		cfg.Blockchain.ChainID = 31337 // 本地开发
	}
	if cfg.Blockchain.RPCBurst == 0 {
		cfg.Blockchain.RPCBurst = 10
	}
	if cfg.Blockchain.ReceiptTimeoutMs == 0 {
		cfg.Blockchain.ReceiptTimeoutMs = 120000
	}

	if cfg.Indexer.CursorName == "" {
		cfg.Indexer.CursorName = "chainmmo_main"
	}
	if cfg.Indexer.StartBlock == 0 {
		cfg.Indexer.StartBlock = 1
	}
	if cfg.Indexer.PollMs == 0 {
		cfg.Indexer.PollMs = 1500
	}
	if cfg.Indexer.BlockChunk == 0 {
		cfg.Indexer.BlockChunk = 200
	}
	if cfg.Indexer.BlockChunk > maxBlockChunk {
		cfg.Indexer.BlockChunk = maxBlockChunk
	}
	if cfg.Indexer.MaxBlocksPerTick == 0 {
		cfg.Indexer.MaxBlocksPerTick = 2000
	}
	if cfg.Indexer.LogRetryMax == 0 {
		cfg.Indexer.LogRetryMax = 4
	}
	if cfg.Indexer.LogRetryBackoffMs == 0 {
		cfg.Indexer.LogRetryBackoffMs = 500
	}

	if cfg.Action.WorkerConcurrency == 0 {
		cfg.Action.WorkerConcurrency = 8
	}
	if cfg.Action.WorkerPollMs == 0 {
		cfg.Action.WorkerPollMs = 500
	}
	if cfg.Action.RetryMax == 0 {
		cfg.Action.RetryMax = 3
	}
	if cfg.Action.RetryBackoffMs == 0 {
		cfg.Action.RetryBackoffMs = 800
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// GetEnvInt 获取环境变量整数值
func GetEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetEnvString 获取环境变量字符串值
func GetEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
