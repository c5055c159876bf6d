package repository

import (
	"context"
	"time"

	"pointpay/internal/model"

	"gorm.io/gorm"
)

// PointHistoryRepository 积分流水，只追加
type PointHistoryRepository struct {
	db *gorm.DB
}

func NewPointHistoryRepository(db *gorm.DB) *PointHistoryRepository {
	return &PointHistoryRepository{db: db}
}

func (r *PointHistoryRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.PointHistory) error {
	return conn(r.db, tx).WithContext(ctx).Create(entry).Error
}

// ListByUserID 按时间倒序分页，transactionType 为空表示不过滤
func (r *PointHistoryRepository) ListByUserID(ctx context.Context, userID int64, transactionType string, page, pageSize int) ([]*model.PointHistory, int64, error) {
	var entries []*model.PointHistory
	var total int64

	query := r.db.WithContext(ctx).Model(&model.PointHistory{}).Where("user_id = ?", userID)
	if transactionType != "" {
		query = query.Where("transaction_type = ?", transactionType)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}

func (r *PointHistoryRepository) ListByPaymentID(ctx context.Context, tx *gorm.DB, paymentID string) ([]*model.PointHistory, error) {
	var entries []*model.PointHistory
	err := conn(r.db, tx).WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// SumByUserID 回放流水得到的余额，用于对账
func (r *PointHistoryRepository) SumByUserID(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.PointHistory{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}

// GetExpirable 查询已到期但尚未处理的 EARN 流水
func (r *PointHistoryRepository) GetExpirable(ctx context.Context, now time.Time, limit int) ([]*model.PointHistory, error) {
	var entries []*model.PointHistory
	err := r.db.WithContext(ctx).
		Where("transaction_type = ? AND expiry_processed = ? AND expired_at <= ?", model.PointTypeEarn, false, now).
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// MarkExpired 标记 EARN 流水已处理过期，返回 false 表示已被其他实例处理
func (r *PointHistoryRepository) MarkExpired(ctx context.Context, tx *gorm.DB, id int64) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.PointHistory{}).
		Where("id = ? AND expiry_processed = ?", id, false).
		Update("expiry_processed", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
