// Package testutil 提供测试用的内存数据库和 Redis
package testutil

import (
	"strings"
	"sync"
	"testing"
	"time"

	"pointpay/internal/config"
	"pointpay/internal/infrastructure/database"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var nameReplacer = strings.NewReplacer("/", "_", " ", "_")

// NewDB 每个测试独享一个 sqlite 内存库
// 连接数限制为 1，事务内的查询必须走 tx
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         "file:" + nameReplacer.Replace(t.Name()) + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, zap.NewNop())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

func NewRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

// Clock 可手动推进的时钟
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
