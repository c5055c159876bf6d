package repository

import (
	"context"
	"time"

	"pointpay/internal/model"

	"github.com/go-faster/errors"
	"gorm.io/gorm"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create 写入订单及明细，订单号重复时返回 ErrDuplicateKey
func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.Order, items []*model.OrderItem) error {
	db := conn(r.db, tx).WithContext(ctx)
	if err := db.Create(order).Error; err != nil {
		return translateCreateErr(err)
	}
	if len(items) == 0 {
		return nil
	}
	return db.Create(items).Error
}

func (r *OrderRepository) GetByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error) {
	var order model.Order
	err := conn(r.db, tx).WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) GetItems(ctx context.Context, orderID string) ([]*model.OrderItem, error) {
	var items []*model.OrderItem
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

// CountWithPrefix 统计指定前缀（当天）的订单数量，用于生成序号
func (r *OrderRepository) CountWithPrefix(ctx context.Context, prefix string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("order_id LIKE ?", prefix+"%").
		Count(&count).Error
	return count, err
}

// UpdateStatus 带状态条件的更新（乐观锁）
// 只有当前状态等于 fromStatus 时才会更新，否则返回 ErrOrderStatusInvalid
func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderID string, fromStatus, toStatus string) error {
	return r.transition(ctx, tx, orderID, fromStatus, toStatus, map[string]interface{}{
		"status": toStatus,
	})
}

// Cancel 取消订单，同样基于当前状态做条件更新
func (r *OrderRepository) Cancel(ctx context.Context, tx *gorm.DB, orderID, fromStatus, reason string, at time.Time) error {
	return r.transition(ctx, tx, orderID, fromStatus, model.OrderStatusCancelled, map[string]interface{}{
		"status":        model.OrderStatusCancelled,
		"cancel_reason": reason,
		"cancelled_at":  at,
	})
}

func (r *OrderRepository) transition(ctx context.Context, tx *gorm.DB, orderID, fromStatus, toStatus string, updates map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrOrderStatusInvalid
	}

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Order{}).
		Where("order_id = ? AND status = ?", orderID, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}

	return nil
}

// GetExpiredPending 查询创建时间早于 before 且仍未支付的订单
func (r *OrderRepository) GetExpiredPending(ctx context.Context, before time.Time, limit int) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.OrderStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *OrderRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Order, int64, error) {
	return r.list(ctx, r.db.Where("user_id = ?", userID), page, pageSize)
}

func (r *OrderRepository) ListByStoreID(ctx context.Context, storeID int64, page, pageSize int) ([]*model.Order, int64, error) {
	return r.list(ctx, r.db.Where("store_id = ?", storeID), page, pageSize)
}

func (r *OrderRepository) list(ctx context.Context, scope *gorm.DB, page, pageSize int) ([]*model.Order, int64, error) {
	var orders []*model.Order
	var total int64

	query := scope.WithContext(ctx).Model(&model.Order{})

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}
