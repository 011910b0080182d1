package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"riskguard/biz/dal"
	"riskguard/biz/dal/kafka"
	"riskguard/biz/dal/pg"
	"riskguard/biz/dal/redis"
	"riskguard/biz/exchange"
	"riskguard/biz/logger"
	"riskguard/biz/model"
	"riskguard/biz/pricefeed"
	"riskguard/biz/service"
	"riskguard/conf"
	"riskguard/server"
)

func main() {
	_ = godotenv.Load()

	cfg := conf.GetConf()
	logger.Init()
	defer logger.Sync()
	log := logger.L()

	hlog.SetLevel(conf.LogLevel())
	hlog.SetOutput(&lumberjack.Logger{
		Filename:   cfg.Hertz.LogFileName,
		MaxSize:    cfg.Hertz.LogMaxSize,
		MaxBackups: cfg.Hertz.LogMaxBackups,
		MaxAge:     cfg.Hertz.LogMaxAge,
	})

	dal.Init()

	positions := pg.NewPositionRepo(pg.GormDB)
	accounts := pg.NewAccountRepo(pg.GormDB)
	riskConfigs := pg.NewRiskConfigRepo(pg.GormDB)
	history := pg.NewHistoryRepo(pg.GormDB)
	snapshots := pg.NewSnapshotRepo(pg.GormDB)
	tickers := pg.NewTickerRepo(pg.GormDB, pg.PostgresClient)

	broadcasterOpts := []service.BroadcasterOption{service.WithBroadcasterLogger(log)}
	if cfg.Kafka.EventTopic != "" {
		broadcasterOpts = append(broadcasterOpts,
			service.WithAuditSink(service.NewKafkaSink(kafka.GetWriter(cfg.Kafka.EventTopic))))
	}
	if cfg.Kafka.DroppedTopic != "" {
		broadcasterOpts = append(broadcasterOpts,
			service.WithDeadLetterSink(service.NewKafkaSink(kafka.GetWriter(cfg.Kafka.DroppedTopic))))
	}
	broadcaster, err := service.NewBroadcaster(cfg.Sync.WorkerPoolSize, broadcasterOpts...)
	if err != nil {
		log.Fatal("broadcaster init failed", zap.Error(err))
	}
	broadcaster.StartHeartbeat(time.Duration(cfg.Sync.HeartbeatSec) * time.Second)

	reconciler := service.NewReconciler(positions, riskConfigs, broadcaster, pg.HasPositionSideColumn(), log)
	historySync := service.NewHistorySyncer(history, 100, log)
	snapshotRecorder := service.NewSnapshotRecorder(snapshots, accounts,
		time.Duration(cfg.Sync.SnapshotIntervalMin)*time.Minute, log)

	priceCache := pricefeed.NewRedisCache(redis.Client, 5*time.Second)
	feed := pricefeed.New(cfg.Exchange, priceCache)

	clientFor := func(account *model.Account) service.ExchangeAPI {
		client := exchange.NewClientForAccount(account, cfg.Exchange)
		if client == nil {
			return nil
		}
		return client
	}

	scheduler, err := service.NewScheduler(
		accounts, positions, riskConfigs,
		reconciler, historySync, snapshotRecorder,
		feed, tickers, broadcaster, clientFor,
		service.SchedulerConfig{
			PositionInterval: time.Duration(cfg.Sync.PositionIntervalSec) * time.Second,
			PriceInterval:    time.Duration(cfg.Sync.PriceIntervalSec) * time.Second,
			HistoryEvery:     cfg.Sync.HistoryEvery,
			PoolSize:         cfg.Sync.WorkerPoolSize,
		},
		log,
	)
	if err != nil {
		log.Fatal("scheduler init failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	scheduler.Start(ctx)

	h := server.New(server.Deps{
		Broadcaster: broadcaster,
		Scheduler:   scheduler,
		Positions:   positions,
		Tickers:     tickers,
		History:     history,
		Feed:        feed,
	})

	serviceID := registerService(cfg, log)

	h.OnShutdown = append(h.OnShutdown, func(_ context.Context) {
		cancel()
		scheduler.Stop()
		broadcaster.Shutdown()
		if serviceID != "" {
			deregisterService(cfg, serviceID, log)
		}
		kafka.CloseAllWriters()
	})

	h.Spin()
}

// registerService announces the instance in consul. Registration is best
// effort: a missing agent degrades discovery, not the engine.
func registerService(cfg *conf.Config, log *zap.Logger) string {
	if len(cfg.Registry.RegistryAddress) == 0 {
		return ""
	}
	registry, err := service.NewRegistry(cfg.Registry.RegistryAddress)
	if err != nil {
		log.Warn("consul unreachable, running unregistered", zap.Error(err))
		return ""
	}
	port := portOf(cfg.Hertz.Address)
	serviceID := cfg.Registry.ServiceName + "-" + strconv.Itoa(port)
	if err := registry.Register(serviceID, cfg.Registry.ServiceName, port); err != nil {
		log.Warn("consul registration failed", zap.Error(err))
		return ""
	}
	log.Info("registered with consul", zap.String("service_id", serviceID))
	return serviceID
}

func deregisterService(cfg *conf.Config, serviceID string, log *zap.Logger) {
	registry, err := service.NewRegistry(cfg.Registry.RegistryAddress)
	if err != nil {
		return
	}
	if err := registry.Deregister(serviceID); err != nil {
		log.Warn("consul deregistration failed", zap.Error(err))
	}
}

func portOf(address string) int {
	idx := strings.LastIndex(address, ":")
	if idx < 0 {
		return 0
	}
	port, err := strconv.Atoi(address[idx+1:])
	if err != nil {
		return 0
	}
	return port
}
