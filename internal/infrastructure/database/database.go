package database

import (
	"fmt"
	"time"

	"pointpay/internal/config"
	"pointpay/internal/model"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 根据配置打开数据库连接并完成表结构迁移
//
// TranslateError 打开后，唯一键冲突会被翻译成 gorm.ErrDuplicatedKey，
// 仓储层依赖它识别订单号碰撞等"插入已存在"的情况。
func Open(cfg *config.DatabaseConfig, lg *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	logLevel := logger.Warn
	if cfg.LogSQL {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "连接数据库失败 driver=%s", cfg.Driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "获取底层 DB 失败")
	}

	// 连接池配置
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	lg.Info("数据库连接成功", zap.String("driver", cfg.Driver))
	return db, nil
}

// Migrate 自动迁移表结构
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.Menu{},
		&model.Order{},
		&model.OrderItem{},
		&model.PaymentRecord{},
		&model.Wallet{},
		&model.PointHistory{},
		&model.AuthSettings{},
		&model.AuthAttempt{},
		&model.OutboxMessage{},
	)
	if err != nil {
		return errors.Wrap(err, "自动迁移表结构失败")
	}
	return nil
}

func dialectorFor(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.Database,
		)
		return mysql.Open(dsn), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host,
			cfg.Port,
			cfg.User,
			cfg.Password,
			cfg.Database,
			cfg.SSLMode,
		)
		return postgres.Open(dsn), nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, errors.New("sqlite 需要配置 database.path")
		}
		return sqlite.Open(cfg.Path), nil
	default:
		return nil, errors.Errorf("不支持的数据库驱动: %q", cfg.Driver)
	}
}
