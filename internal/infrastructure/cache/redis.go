package cache

import (
	"context"
	"fmt"
	"time"

	"pointpay/internal/config"

	"github.com/go-faster/errors"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// NewRedis 创建 Redis 客户端并做连通性检查
func NewRedis(ctx context.Context, cfg *config.RedisConfig, lg *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "连接 Redis 失败")
	}

	lg.Info("Redis 连接成功", zap.String("addr", client.Options().Addr))
	return client, nil
}
