package repository

import (
	"context"
	"time"

	"pointpay/internal/model"

	"github.com/go-faster/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AuthRepository struct {
	db *gorm.DB
}

func NewAuthRepository(db *gorm.DB) *AuthRepository {
	return &AuthRepository{db: db}
}

func (r *AuthRepository) GetSettings(ctx context.Context, userID int64) (*model.AuthSettings, error) {
	var settings model.AuthSettings
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAuthSettingsNotFound
		}
		return nil, err
	}
	return &settings, nil
}

// SaveSettings 按 user_id 插入或覆盖认证设置，锁定状态不受影响
func (r *AuthRepository) SaveSettings(ctx context.Context, settings *model.AuthSettings) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"pin_hash",
			"pattern_hash",
			"fingerprint_enabled",
			"face_id_enabled",
			"max_auth_attempts",
			"lockout_duration",
			"auth_required_amount",
			"updated_at",
		}),
	}).Create(settings).Error
}

func (r *AuthRepository) Lock(ctx context.Context, userID int64, until time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.AuthSettings{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"is_locked":    true,
			"locked_until": until,
		}).Error
}

func (r *AuthRepository) Unlock(ctx context.Context, userID int64) error {
	return r.db.WithContext(ctx).
		Model(&model.AuthSettings{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"is_locked":    false,
			"locked_until": nil,
		}).Error
}

func (r *AuthRepository) CreateAttempt(ctx context.Context, attempt *model.AuthAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

// CountRecentFailures 统计 since 之后计入限制的失败次数
func (r *AuthRepository) CountRecentFailures(ctx context.Context, userID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.AuthAttempt{}).
		Where("user_id = ? AND is_success = ? AND counted = ? AND attempted_at >= ?", userID, false, true, since).
		Count(&count).Error
	return count, err
}

func (r *AuthRepository) ListAttempts(ctx context.Context, userID int64, limit int) ([]*model.AuthAttempt, error) {
	var attempts []*model.AuthAttempt
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}
