package job

import (
	"context"
	"time"

	"pointpay/internal/config"
	"pointpay/internal/model"
	"pointpay/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Publisher 消息发送方，生产环境由 mq.Producer 实现
type Publisher interface {
	SendMessage(topic, key, value string) error
}

// OutboxSender 把 outbox 表中 PENDING 的事件投递到 Kafka
// 投递失败累加重试次数，达到上限后标记为 FAILED
type OutboxSender struct {
	*runner
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	maxRetry   int
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher Publisher, cfg *config.Config, logger *zap.Logger) *OutboxSender {
	interval := time.Duration(cfg.Job.OutboxIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	maxRetry := cfg.Business.MaxRetryCount
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &OutboxSender{
		runner:     newRunner("OutboxSender", interval, logger),
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		maxRetry:   maxRetry,
		batchSize:  batchSizeOr(cfg.Job.BatchSize),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.loop(ctx, func(ctx context.Context) { s.RunOnce(ctx) })
}

// RunOnce 投递一批消息，返回成功条数
func (s *OutboxSender) RunOnce(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("查询消息失败", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			s.logger.Error("更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
			return false
		}
		s.logger.Debug("消息发送成功",
			zap.Int64("id", msg.ID),
			zap.String("topic", msg.Topic),
			zap.String("key", msg.MessageKey),
			zap.String("event_type", msg.EventType),
		)
		return true
	}

	s.logger.Warn("消息发送失败", zap.Int64("id", msg.ID), zap.Int("retry_count", msg.RetryCount), zap.Error(err))

	failed, err := s.outboxRepo.RecordFailure(ctx, msg, s.maxRetry)
	if err != nil {
		s.logger.Error("记录发送失败次数失败", zap.Int64("id", msg.ID), zap.Error(err))
		return false
	}
	if failed {
		s.logger.Error("消息超过最大重试次数，标记为失败", zap.Int64("id", msg.ID), zap.String("topic", msg.Topic))
	}
	return false
}
