package repository

import (
	"context"
	"time"

	"pointpay/internal/model"

	"github.com/go-faster/errors"
	"gorm.io/gorm"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, record *model.PaymentRecord) error {
	return translateCreateErr(conn(r.db, tx).WithContext(ctx).Create(record).Error)
}

func (r *PaymentRepository) GetByPaymentID(ctx context.Context, paymentID string) (*model.PaymentRecord, error) {
	var record model.PaymentRecord
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &record, nil
}

// GetCompletedByOrderID 查询订单的成功支付记录（不含退款记录）
func (r *PaymentRepository) GetCompletedByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*model.PaymentRecord, error) {
	var record model.PaymentRecord
	err := conn(r.db, tx).WithContext(ctx).
		Where("order_id = ? AND status = ? AND refund_of = ?", orderID, model.PaymentStatusCompleted, "").
		Order("id DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *PaymentRepository) ListByOrderID(ctx context.Context, orderID string) ([]*model.PaymentRecord, error) {
	var records []*model.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&records).Error
	return records, err
}

func (r *PaymentRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.PaymentRecord, int64, error) {
	var records []*model.PaymentRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&model.PaymentRecord{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error

	return records, total, err
}

// UpdateStatus 带状态条件的更新，当前状态不是 fromStatus 时返回 ErrPaymentStatusInvalid
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, paymentID, fromStatus, toStatus string) error {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.PaymentRecord{}).
		Where("payment_id = ? AND status = ?", paymentID, fromStatus).
		Update("status", toStatus)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentStatusInvalid
	}
	return nil
}

// GetDueRefunds 查询到期待退款的记录
func (r *PaymentRepository) GetDueRefunds(ctx context.Context, now time.Time, limit int) ([]*model.PaymentRecord, error) {
	var records []*model.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND refund_of <> ? AND refund_due_at <= ?", model.PaymentStatusPending, "", now).
		Order("refund_due_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
