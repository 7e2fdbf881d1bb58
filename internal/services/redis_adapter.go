package services

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/life2you_mini/basisgate/internal/config"
	"github.com/life2you_mini/basisgate/internal/storage"
	"github.com/life2you_mini/basisgate/internal/trading"
)

// storageBundle Redis主存储、可选的PostgreSQL审计存储和多路写入
type storageBundle struct {
	client *redis.Client
	redis  *storage.RedisStorage
	multi  *storage.MultiStorage
}

// newStorageBundle 连接并初始化全部存储
func newStorageBundle(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storageBundle, error) {
	client, err := storage.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("初始化Redis客户端失败: %w", err)
	}

	redisStorage := storage.NewRedisStorage(client, cfg.Redis.KeyPrefix, logger)
	multi := storage.NewMultiStorage()
	multi.Register(storage.StorageTypeRedis, redisStorage)

	if cfg.Postgres.Enabled {
		db, err := storage.OpenPostgres(cfg.Postgres)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("初始化PostgreSQL失败: %w", err)
		}
		multi.Register(storage.StorageTypePostgres, storage.NewPostgresStorage(db, logger))
	}

	if err := multi.Initialize(ctx); err != nil {
		_ = multi.Close()
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}

	logger.Info("存储已初始化", zap.Strings("sinks", multi.Names()))
	return &storageBundle{client: client, redis: redisStorage, multi: multi}, nil
}

// newDispatcher 按配置选择模拟执行或Redis队列执行
func (b *storageBundle) newDispatcher(cfg config.DispatcherConfig, keyPrefix string, logger *zap.Logger) (trading.Dispatcher, error) {
	switch cfg.Mode {
	case config.DispatcherModePaper, "":
		return trading.NewPaperDispatcher(cfg.CommissionRate, logger), nil
	case config.DispatcherModeRedis:
		return storage.NewQueueDispatcher(b.client, keyPrefix, cfg.QueueKey, cfg.Timeout(), logger), nil
	default:
		return nil, fmt.Errorf("不支持的执行方模式: %s", cfg.Mode)
	}
}

// Close 关闭全部存储
func (b *storageBundle) Close() error {
	return b.multi.Close()
}
