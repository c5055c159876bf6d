package job

import (
	"context"
	"time"

	"pointpay/internal/config"
	"pointpay/internal/service"

	"go.uber.org/zap"
)

// PendingOrderExpiryJob 取消超过支付时限的 PENDING 订单
type PendingOrderExpiryJob struct {
	*runner
	cancel    *service.CancelService
	batchSize int
}

func NewPendingOrderExpiryJob(cancel *service.CancelService, cfg *config.Config, logger *zap.Logger) *PendingOrderExpiryJob {
	return &PendingOrderExpiryJob{
		runner:    newRunner("PendingOrderExpiryJob", secondsOr(cfg.Job.OrderExpirySeconds, 10*time.Second), logger),
		cancel:    cancel,
		batchSize: batchSizeOr(cfg.Job.BatchSize),
	}
}

func (j *PendingOrderExpiryJob) Start(ctx context.Context) {
	j.loop(ctx, func(ctx context.Context) { j.RunOnce(ctx) })
}

func (j *PendingOrderExpiryJob) RunOnce(ctx context.Context) int {
	n, err := j.cancel.CancelExpiredOrders(ctx, j.batchSize)
	if err != nil {
		j.logger.Error("超时订单处理失败", zap.Error(err))
		return 0
	}
	if n > 0 {
		j.logger.Info("本次取消超时订单", zap.Int("count", n))
	}
	return n
}

// RefundSettleJob 把到期的退款记录置为 REFUNDED
type RefundSettleJob struct {
	*runner
	cancel    *service.CancelService
	batchSize int
}

func NewRefundSettleJob(cancel *service.CancelService, cfg *config.Config, logger *zap.Logger) *RefundSettleJob {
	return &RefundSettleJob{
		runner:    newRunner("RefundSettleJob", secondsOr(cfg.Job.RefundSettleSeconds, time.Minute), logger),
		cancel:    cancel,
		batchSize: batchSizeOr(cfg.Job.BatchSize),
	}
}

func (j *RefundSettleJob) Start(ctx context.Context) {
	j.loop(ctx, func(ctx context.Context) { j.RunOnce(ctx) })
}

func (j *RefundSettleJob) RunOnce(ctx context.Context) int {
	n, err := j.cancel.SettleDueRefunds(ctx, j.batchSize)
	if err != nil {
		j.logger.Error("退款结算失败", zap.Error(err))
		return 0
	}
	if n > 0 {
		j.logger.Info("本次完成退款", zap.Int("count", n))
	}
	return n
}

// PointExpiryJob 处理过期的返还积分
type PointExpiryJob struct {
	*runner
	points    *service.PointService
	batchSize int
}

func NewPointExpiryJob(points *service.PointService, cfg *config.Config, logger *zap.Logger) *PointExpiryJob {
	return &PointExpiryJob{
		runner:    newRunner("PointExpiryJob", secondsOr(cfg.Job.PointExpirySeconds, time.Hour), logger),
		points:    points,
		batchSize: batchSizeOr(cfg.Job.BatchSize),
	}
}

func (j *PointExpiryJob) Start(ctx context.Context) {
	j.loop(ctx, func(ctx context.Context) { j.RunOnce(ctx) })
}

func (j *PointExpiryJob) RunOnce(ctx context.Context) int {
	n, err := j.points.ExpirePoints(ctx, j.batchSize)
	if err != nil {
		j.logger.Error("积分过期处理失败", zap.Error(err))
		return 0
	}
	if n > 0 {
		j.logger.Info("本次过期积分条数", zap.Int("count", n))
	}
	return n
}
