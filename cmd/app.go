package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"sharedoc/config"
	"sharedoc/config/database"
	"sharedoc/internal/document/repository"
	"sharedoc/internal/document/service"
	"sharedoc/internal/notify"
	"sharedoc/pkg/logger"
	"sharedoc/socket"
)

// app holds the connections shared by every command.
type app struct {
	cfg *config.Config
	db  *sql.DB
	rdb *redis.Client
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogLevel)

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db}

	if cfg.LockBackend == config.LockBackendRedis || cfg.NotifyDriver == config.NotifyRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.rdb = redis.NewClient(opts)
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Sugar.Info("Connected to Redis")
	}
	return a, nil
}

func (a *app) Close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	logger.Sync()
}

func (a *app) lockRepository() service.LockRepository {
	if a.cfg.LockBackend == config.LockBackendRedis {
		return repository.NewRedisLockRepository(a.rdb, a.cfg.RedisPrefix)
	}
	return repository.NewLockRepository(a.db)
}

// bus returns the transport for NOTIFY_DRIVER. hub is only used by the
// websocket driver; commands without a hub pass nil and get no delivery.
func (a *app) bus(hub *socket.Hub) notify.Bus {
	switch a.cfg.NotifyDriver {
	case config.NotifyRedis:
		return notify.NewRedisBus(a.rdb, a.cfg.RedisPrefix)
	case config.NotifyWebsocket:
		if hub != nil {
			return hub
		}
	}
	return notify.Noop{}
}
