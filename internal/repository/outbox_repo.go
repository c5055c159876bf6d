package repository

import (
	"context"
	"encoding/json"

	"pointpay/internal/model"

	"github.com/go-faster/errors"
	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	return conn(r.db, tx).WithContext(ctx).Create(msg).Error
}

// Enqueue 序列化事件并写入本地消息表，必须在业务事务内调用
func (r *OutboxRepository) Enqueue(ctx context.Context, tx *gorm.DB, topic, eventType, key string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "序列化事件失败")
	}
	return r.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: key,
		EventType:  eventType,
		Topic:      topic,
		Payload:    string(body),
	})
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// MarkSent 标记消息已投递
func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending).
		Update("status", model.OutboxStatusSent).Error
}

// RecordFailure 记录一次投递失败，重试次数达到 maxRetry 时置为 FAILED，返回是否已置为 FAILED
func (r *OutboxRepository) RecordFailure(ctx context.Context, msg *model.OutboxMessage, maxRetry int) (bool, error) {
	failed := msg.RetryCount+1 >= maxRetry
	status := model.OutboxStatusPending
	if failed {
		status = model.OutboxStatusFailed
	}

	err := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", msg.ID, model.OutboxStatusPending).
		Updates(map[string]interface{}{
			"status":      status,
			"retry_count": gorm.Expr("retry_count + 1"),
		}).Error
	if err != nil {
		return false, err
	}
	return failed, nil
}
