// Package app 提供 ChainMMO 中间层的应用生命周期管理
//
// ========================================
// 服务对接说明
// ========================================
//
// 进程职责:
//   - 索引器: 轮询链上日志, 写入物化表与事件增量账本
//   - 动作队列: 接收动作 (HTTP / Kafka), worker 以签名账户执行上链
//
// 运行模式:
//   - full: 索引 + 动作执行, 需要 private_key 与 Redis (nonce 串行)
//   - read-only: 只运行索引与查询接口, 动作提交返回 POLICY_READ_ONLY_MODE
//
// ### 消费的 Topic
//   - chainmmo-action-requests: 动作请求
//
// ### 生产的 Topic
//   - chainmmo-action-results: 动作终态
//   - chainmmo-event-deltas: 事件增量
//
// ### HTTP (gin)
//   - /health/live, /health/ready, /metrics
//   - /v1/indexer/status, /v1/deltas, /v1/actions/*, /v1/characters/:id/latest-action
//
// ### gRPC
//   - grpc.health.v1.Health, 状态随就绪检查更新
// ========================================
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/blockchain"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/config"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/contract"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/handler"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/kafka"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/migrations"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/repository"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/service"
	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/logger"
	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/migrate"
)

// App 应用
type App struct {
	cfg *config.Config

	// 基础设施
	db    *gorm.DB
	redis redis.UniversalClient

	// 区块链
	client       *blockchain.Client
	nonceManager *blockchain.NonceManager
	chain        *blockchain.GameChain

	// 仓储
	actionRepo  repository.ActionRepository
	indexerRepo repository.IndexerRepository

	// 服务
	actionSvc  *service.ActionService
	worker     *service.ActionWorker
	indexerSvc *service.IndexerService

	// Kafka
	kafkaConsumer *kafka.Consumer
	kafkaProducer *kafka.Producer

	// 对外接口
	httpServer     *http.Server
	grpcServer     *grpc.Server
	healthServer   *health.Server
	healthReporter *handler.HealthReporter
}

// NewApp 创建应用
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	if err := a.initInfrastructure(ctx); err != nil {
		a.closeResources()
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := a.initBlockchain(ctx); err != nil {
		a.closeResources()
		return nil, fmt.Errorf("failed to init blockchain: %w", err)
	}

	a.initRepositories()

	if err := a.initKafka(); err != nil {
		a.closeResources()
		return nil, fmt.Errorf("failed to init kafka: %w", err)
	}

	if err := a.initServices(); err != nil {
		a.closeResources()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	a.initServers()

	return a, nil
}

// OpenDatabase 连接 PostgreSQL
func OpenDatabase(cfg config.PostgresConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	return db, nil
}

// NewMigrator 基于内嵌迁移文件创建迁移器
func NewMigrator(db *gorm.DB, serviceName string) (*migrate.Migrator, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	return migrate.NewMigrator(sqlDB, migrations.FS, migrations.Path, logger.L().With(zap.String("service", serviceName)))
}

// NewContractRegistry 由配置构建合约注册表
func NewContractRegistry(cfg config.ContractsConfig) (*contract.Registry, error) {
	return contract.NewRegistry(map[contract.Name]common.Address{
		contract.GameWorld:   common.HexToAddress(cfg.GameWorld),
		contract.FeeVault:    common.HexToAddress(cfg.FeeVault),
		contract.Items:       common.HexToAddress(cfg.Items),
		contract.RFQMarket:   common.HexToAddress(cfg.RFQMarket),
		contract.TradeEscrow: common.HexToAddress(cfg.TradeEscrow),
		contract.MMO:         common.HexToAddress(cfg.MMO),
	})
}

// initInfrastructure 初始化基础设施
func (a *App) initInfrastructure(ctx context.Context) error {
	db, err := OpenDatabase(a.cfg.Postgres)
	if err != nil {
		return err
	}
	a.db = db
	logger.Info("database connected", zap.String("host", a.cfg.Postgres.Host))

	migrator, err := NewMigrator(db, a.cfg.Service.Name)
	if err != nil {
		return err
	}
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	// 只读模式不发交易, 无需 nonce 串行
	if a.cfg.IsReadOnly() {
		return nil
	}

	addrs := a.cfg.Redis.Addresses
	if len(addrs) == 0 {
		addrs = []string{"localhost:6379"}
	}
	a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	logger.Info("redis connected", zap.Strings("addrs", addrs))

	return nil
}

// NewChainClient 创建 RPC 客户端, 只读模式不加载私钥
func NewChainClient(ctx context.Context, cfg *config.Config) (*blockchain.Client, error) {
	privateKey := cfg.Blockchain.PrivateKey
	if cfg.IsReadOnly() {
		privateKey = ""
	}
	rpcURLs := append([]string{cfg.Blockchain.RPCURL}, cfg.Blockchain.BackupRPCURLs...)
	return blockchain.NewClient(ctx, &blockchain.ClientConfig{
		ChainID:         cfg.Blockchain.ChainID,
		PrivateKey:      privateKey,
		RPCURLs:         rpcURLs,
		MaxRetries:      3,
		RetryInterval:   time.Second,
		HealthCheckFreq: 30 * time.Second,
		RateLimit:       cfg.Blockchain.RPCRateLimit,
		Burst:           cfg.Blockchain.RPCBurst,
	})
}

// NewGameChain 组装合约读写层, nonces 为 nil 时只能读
func NewGameChain(cfg *config.Config, client *blockchain.Client, nonces blockchain.NonceAllocator) (*blockchain.GameChain, error) {
	registry, err := NewContractRegistry(cfg.Contracts)
	if err != nil {
		return nil, err
	}
	fees := contract.NewFeeEstimator(contract.FeeEstimatorConfig{
		GasLimitMultiplier: 1.2,
		CacheTTL:           5 * time.Second,
	}, client)
	return blockchain.NewGameChain(client, registry, fees, nonces, blockchain.GameChainConfig{
		Confirmations:  cfg.Blockchain.Confirmations,
		ReceiptTimeout: time.Duration(cfg.Blockchain.ReceiptTimeoutMs) * time.Millisecond,
	}), nil
}

// initBlockchain 初始化区块链客户端
func (a *App) initBlockchain(ctx context.Context) error {
	client, err := NewChainClient(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("failed to create blockchain client: %w", err)
	}
	a.client = client

	var nonces blockchain.NonceAllocator
	if !a.cfg.IsReadOnly() {
		a.nonceManager = blockchain.NewNonceManager(client, a.redis, &blockchain.NonceManagerConfig{
			Wallet:       client.Address(),
			ChainID:      a.cfg.Blockchain.ChainID,
			LockTimeout:  30 * time.Second,
			SyncInterval: 5 * time.Minute,
		})
		if err := a.nonceManager.SyncFromChain(ctx); err != nil {
			return fmt.Errorf("sync nonce: %w", err)
		}
		nonces = a.nonceManager
	}

	chain, err := NewGameChain(a.cfg, client, nonces)
	if err != nil {
		return err
	}
	a.chain = chain

	logger.Info("blockchain client initialized",
		zap.Int64("chain_id", a.cfg.Blockchain.ChainID),
		zap.String("signer", client.Address().Hex()),
		zap.String("mode", a.cfg.Service.Mode))
	return nil
}

// initRepositories 初始化仓储
func (a *App) initRepositories() {
	a.actionRepo = repository.NewActionRepository(a.db)
	a.indexerRepo = repository.NewIndexerRepository(a.db)
}

// initKafka 初始化 Kafka, 未启用时跳过
func (a *App) initKafka() error {
	if !a.cfg.Kafka.Enabled {
		return nil
	}

	producer, err := kafka.NewProducer(&kafka.ProducerConfig{
		Brokers:            a.cfg.Kafka.Brokers,
		ClientID:           a.cfg.Kafka.ClientID,
		ActionResultsTopic: a.cfg.Kafka.ActionResultsTopic,
		EventDeltasTopic:   a.cfg.Kafka.EventDeltasTopic,
	})
	if err != nil {
		return fmt.Errorf("failed to create kafka producer: %w", err)
	}
	a.kafkaProducer = producer

	logger.Info("kafka producer initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return nil
}

// NewIndexerService 由配置创建索引服务
func NewIndexerService(cfg *config.Config, chain service.IndexerChain, repo repository.IndexerRepository, publisher service.DeltaPublisher) *service.IndexerService {
	return service.NewIndexerService(chain, repo, publisher, &service.IndexerServiceConfig{
		CursorName:        cfg.Indexer.CursorName,
		StartBlock:        cfg.Indexer.StartBlock,
		PollInterval:      time.Duration(cfg.Indexer.PollMs) * time.Millisecond,
		BlockChunk:        cfg.Indexer.BlockChunk,
		MaxBlocksPerTick:  cfg.Indexer.MaxBlocksPerTick,
		RateLimitRetryMax: cfg.Indexer.LogRetryMax,
		RateLimitBackoff:  time.Duration(cfg.Indexer.LogRetryBackoffMs) * time.Millisecond,
	})
}

// initServices 初始化服务
func (a *App) initServices() error {
	var (
		deltaPub  service.DeltaPublisher
		resultPub service.ResultPublisher
	)
	if a.kafkaProducer != nil {
		deltaPub = a.kafkaProducer
		resultPub = a.kafkaProducer
	}

	if a.cfg.Indexer.Enabled {
		a.indexerSvc = NewIndexerService(a.cfg, a.chain, a.indexerRepo, deltaPub)
	}

	var preflight service.Preflighter
	if !a.cfg.IsReadOnly() {
		engine, err := service.NewEngine(a.chain, service.EngineConfig{
			AllowDeployerClaims: a.cfg.Action.EnableDeployerClaims,
		})
		if err != nil {
			return err
		}
		preflight = service.NewPreflight(a.chain, a.cfg.Action.EnableDeployerClaims)
		a.worker = service.NewActionWorker(a.actionRepo, engine, resultPub, service.ActionWorkerConfig{
			Concurrency:  a.cfg.Action.WorkerConcurrency,
			PollInterval: time.Duration(a.cfg.Action.WorkerPollMs) * time.Millisecond,
			RetryMax:     a.cfg.Action.RetryMax,
			RetryBackoff: time.Duration(a.cfg.Action.RetryBackoffMs) * time.Millisecond,
		})
	}

	a.actionSvc = service.NewActionService(a.actionRepo, preflight, service.ActionServiceConfig{
		Signer:                  a.chain.Signer().Hex(),
		ReadOnly:                a.cfg.IsReadOnly(),
		RequirePreflightSuccess: a.cfg.Action.RequirePreflightSuccess,
	})

	if a.cfg.Kafka.Enabled && !a.cfg.IsReadOnly() {
		consumer, err := kafka.NewConsumer(&kafka.ConsumerConfig{
			Brokers:             a.cfg.Kafka.Brokers,
			GroupID:             a.cfg.Kafka.GroupID,
			ActionRequestsTopic: a.cfg.Kafka.ActionRequestsTopic,
			Enqueuer:            a.actionSvc,
		})
		if err != nil {
			return fmt.Errorf("failed to create kafka consumer: %w", err)
		}
		a.kafkaConsumer = consumer
	}

	logger.Info("services initialized",
		zap.Bool("indexer", a.indexerSvc != nil),
		zap.Bool("worker", a.worker != nil),
		zap.Bool("kafka_consumer", a.kafkaConsumer != nil))
	return nil
}

// readinessChecks 就绪检查项
func (a *App) readinessChecks() []handler.ReadinessCheck {
	checks := []handler.ReadinessCheck{
		{Name: "postgres", Check: func(ctx context.Context) error {
			sqlDB, err := a.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}},
		{Name: "rpc", Check: func(ctx context.Context) error {
			_, err := a.client.BlockNumber(ctx)
			return err
		}},
	}
	if a.redis != nil {
		checks = append(checks, handler.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}})
	}
	return checks
}

// initServers 初始化 HTTP 与 gRPC
func (a *App) initServers() {
	checks := a.readinessChecks()

	var indexer handler.IndexerAPI
	if a.indexerSvc != nil {
		indexer = a.indexerSvc
	}
	ops := handler.NewOpsHandler(indexer, a.actionSvc, checks...)
	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Service.HTTPPort),
		Handler:           handler.NewRouter(ops),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			handler.RecoveryUnaryServerInterceptor(),
			handler.UnaryServerInterceptor(),
		),
	)
	a.healthServer = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.healthServer)
	a.healthReporter = handler.NewHealthReporter(a.healthServer, a.cfg.Service.Name, 5*time.Second, checks...)
}

// Run 运行应用直到 ctx 取消
func (a *App) Run(ctx context.Context) error {
	if a.indexerSvc != nil {
		if err := a.indexerSvc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start indexer: %w", err)
		}
	}
	if a.worker != nil {
		if err := a.worker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start action worker: %w", err)
		}
	}
	if a.kafkaConsumer != nil {
		if err := a.kafkaConsumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start kafka consumer: %w", err)
		}
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Service.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	a.healthReporter.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", zap.Int("port", a.cfg.Service.GRPCPort))
		return a.grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.Int("port", a.cfg.Service.HTTPPort))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// shutdown 关闭应用
func (a *App) shutdown() error {
	logger.Info("shutting down...")

	a.healthReporter.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	a.grpcServer.GracefulStop()

	if a.kafkaConsumer != nil {
		if err := a.kafkaConsumer.Stop(); err != nil {
			logger.Warn("kafka consumer stop", zap.Error(err))
		}
	}
	if a.worker != nil {
		if err := a.worker.Stop(); err != nil && !errors.Is(err, service.ErrWorkerNotRunning) {
			logger.Warn("action worker stop", zap.Error(err))
		}
	}
	if a.indexerSvc != nil {
		if err := a.indexerSvc.Stop(); err != nil && !errors.Is(err, service.ErrIndexerNotRunning) {
			logger.Warn("indexer stop", zap.Error(err))
		}
	}

	a.closeResources()
	logger.Info("shutdown complete")
	return nil
}

// closeResources 关闭外部连接
func (a *App) closeResources() {
	if a.kafkaProducer != nil {
		if err := a.kafkaProducer.Close(); err != nil {
			logger.Warn("kafka producer close", zap.Error(err))
		}
	}
	if a.client != nil {
		a.client.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
