package database

import (
	"testing"

	"pointpay/internal/config"
	"pointpay/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestOpen_SQLiteMigrates(t *testing.T) {
	db, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   "file:" + t.Name() + "?mode=memory&cache=shared",
	}, zap.NewNop())
	require.NoError(t, err)

	for _, m := range []interface{}{
		&model.Order{}, &model.OrderItem{}, &model.PaymentRecord{},
		&model.Wallet{}, &model.PointHistory{}, &model.AuthSettings{},
		&model.AuthAttempt{}, &model.OutboxMessage{}, &model.Menu{},
	} {
		assert.True(t, db.Migrator().HasTable(m))
	}
}

func TestOpen_TranslatesDuplicateKey(t *testing.T) {
	db, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   "file:" + t.Name() + "?mode=memory&cache=shared",
	}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, db.Create(&model.Wallet{UserID: 1}).Error)
	err = db.Create(&model.Wallet{UserID: 1}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "oracle"}, zap.NewNop())
	require.Error(t, err)
}

func TestOpen_SQLiteRequiresPath(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "sqlite"}, zap.NewNop())
	require.Error(t, err)
}
