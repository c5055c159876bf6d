package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pointpay/internal/config"
	"pointpay/internal/infrastructure/lock"
	"pointpay/internal/model"
	"pointpay/internal/repository"
	"pointpay/pkg/idgen"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CancelService 订单取消与退款
//
// 与结算共用同一把订单锁，取消和结算互斥。
// 历史支付记录和积分流水不删除，冲正通过新增关联记录完成。
type CancelService struct {
	db          *gorm.DB
	cfg         *config.Config
	logger      *zap.Logger
	locker      *lock.OrderLocker
	points      *PointService
	orderRepo   *repository.OrderRepository
	paymentRepo *repository.PaymentRepository
	outboxRepo  *repository.OutboxRepository
	now         func() time.Time
}

func NewCancelService(
	db *gorm.DB,
	locker *lock.OrderLocker,
	points *PointService,
	cfg *config.Config,
	logger *zap.Logger,
) *CancelService {
	return &CancelService{
		db:          db,
		cfg:         cfg,
		logger:      logger,
		locker:      locker,
		points:      points,
		orderRepo:   repository.NewOrderRepository(db),
		paymentRepo: repository.NewPaymentRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		now:         utcNow,
	}
}

type CancelResult struct {
	OrderID             string     `json:"order_id"`
	Status              string     `json:"status"`
	PointRefunded       int64      `json:"point_refunded"`
	PointReclaimed      int64      `json:"point_reclaimed"`
	PendingRefundAmount int64      `json:"pending_refund_amount"`
	RefundID            string     `json:"refund_id,omitempty"`
	RefundExpectedAt    *time.Time `json:"refund_expected_at,omitempty"`
	Message             string     `json:"message"`
}

// CancelOrder 取消订单
//
// PENDING 订单直接取消。COMPLETED 订单：
//   - 使用的积分立即退回钱包
//   - 该笔支付返还的积分回收（不超过当前余额）
//   - 非积分部分生成一条 PENDING 退款记录，N 个工作日后由退款任务置为 REFUNDED
func (s *CancelService) CancelOrder(ctx context.Context, orderID, reason string) (*CancelResult, error) {
	order, err := s.orderRepo.GetByOrderID(ctx, nil, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, newError(KindNotFound, "订单不存在: %s", orderID)
		}
		return nil, internalError(err, "查询订单失败")
	}
	if order.Status == model.OrderStatusCancelled {
		return nil, newError(KindInvalidState, "订单已取消，请勿重复操作")
	}

	release, err := s.locker.Acquire(ctx, orderID, "cancel:"+uuid.NewString())
	if err != nil {
		return nil, wrapError(KindConflict, err, "订单正在处理中，请稍后重试")
	}
	defer release()

	order, err = s.orderRepo.GetByOrderID(ctx, nil, orderID)
	if err != nil {
		return nil, internalError(err, "查询订单失败")
	}
	if order.Status == model.OrderStatusCancelled {
		return nil, newError(KindInvalidState, "订单已取消，请勿重复操作")
	}

	now := s.now()
	result := &CancelResult{
		OrderID: orderID,
		Status:  model.OrderStatusCancelled,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.Cancel(ctx, tx, orderID, order.Status, reason, now); err != nil {
			if errors.Is(err, repository.ErrOrderStatusInvalid) {
				return newError(KindConflict, "订单状态已被其他请求修改")
			}
			return errors.Wrap(err, "更新订单状态失败")
		}

		if order.Status == model.OrderStatusCompleted {
			if err := s.refund(ctx, tx, order, now, result); err != nil {
				return err
			}
		}

		return s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.OrderEvent, model.EventOrderCancelled, orderID, map[string]interface{}{
			"event":                 model.EventOrderCancelled,
			"order_id":              orderID,
			"user_id":               order.UserID,
			"previous_status":       order.Status,
			"reason":                reason,
			"point_refunded":        result.PointRefunded,
			"point_reclaimed":       result.PointReclaimed,
			"pending_refund_amount": result.PendingRefundAmount,
			"cancelled_at":          now.Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, internalError(err, "取消订单失败")
	}

	result.Message = cancelMessage(result)

	s.logger.Info("订单已取消",
		zap.String("order_id", orderID),
		zap.String("previous_status", order.Status),
		zap.Int64("point_refunded", result.PointRefunded),
		zap.Int64("pending_refund_amount", result.PendingRefundAmount),
	)

	return result, nil
}

func (s *CancelService) refund(ctx context.Context, tx *gorm.DB, order *model.Order, now time.Time, result *CancelResult) error {
	payment, err := s.paymentRepo.GetCompletedByOrderID(ctx, tx, order.OrderID)
	if err != nil {
		return errors.Wrapf(err, "查询订单 %s 的支付记录失败", order.OrderID)
	}

	if payment.PointUsed > 0 {
		if _, err := s.points.Refund(ctx, tx, payment.UserID, payment.PointUsed, payment.PaymentID); err != nil {
			return err
		}
		result.PointRefunded = payment.PointUsed
	}

	if payment.PointEarned > 0 {
		reclaimed, err := s.points.Reclaim(ctx, tx, payment.UserID, payment.PointEarned, payment.PaymentID)
		if err != nil {
			return err
		}
		result.PointReclaimed = reclaimed
	}

	// 纯积分支付没有需要退回外部渠道的金额
	if payment.PaymentAmount <= 0 || payment.PaymentMethod == model.PaymentMethodPoint {
		return s.paymentRepo.UpdateStatus(ctx, tx, payment.PaymentID, model.PaymentStatusCompleted, model.PaymentStatusRefunded)
	}

	dueAt := AddBusinessDays(now, s.cfg.Business.RefundBusinessDays)
	refund := &model.PaymentRecord{
		PaymentID:     idgen.GenerateRefundID(),
		OrderID:       order.OrderID,
		UserID:        payment.UserID,
		MethodID:      payment.MethodID,
		PaymentMethod: payment.PaymentMethod,
		PaymentAmount: -payment.PaymentAmount,
		Status:        model.PaymentStatusPending,
		RefundOf:      payment.PaymentID,
		RefundDueAt:   &dueAt,
	}
	if err := s.paymentRepo.Create(ctx, tx, refund); err != nil {
		return errors.Wrap(err, "写入退款记录失败")
	}

	if err := s.paymentRepo.UpdateStatus(ctx, tx, payment.PaymentID, model.PaymentStatusCompleted, model.PaymentStatusCancelled); err != nil {
		return err
	}

	result.PendingRefundAmount = payment.PaymentAmount
	result.RefundID = refund.PaymentID
	result.RefundExpectedAt = &dueAt
	return nil
}

// AddBusinessDays 向后顺延 n 个工作日（跳过周六周日）
func AddBusinessDays(from time.Time, n int) time.Time {
	t := from
	for added := 0; added < n; {
		t = t.AddDate(0, 0, 1)
		if t.Weekday() != time.Saturday && t.Weekday() != time.Sunday {
			added++
		}
	}
	return t
}

func cancelMessage(r *CancelResult) string {
	parts := []string{"订单已取消"}
	if r.PointRefunded > 0 {
		parts = append(parts, fmt.Sprintf("已退还积分 %d", r.PointRefunded))
	}
	if r.PointReclaimed > 0 {
		parts = append(parts, fmt.Sprintf("已回收返还积分 %d", r.PointReclaimed))
	}
	if r.PendingRefundAmount > 0 && r.RefundExpectedAt != nil {
		parts = append(parts, fmt.Sprintf("%d 将于 %s 前退回原支付渠道",
			r.PendingRefundAmount, r.RefundExpectedAt.Format("2006-01-02")))
	}
	return strings.Join(parts, "，")
}

// SettleDueRefunds 把到期的 PENDING 退款记录置为 REFUNDED，返回处理条数
func (s *CancelService) SettleDueRefunds(ctx context.Context, limit int) (int, error) {
	refunds, err := s.paymentRepo.GetDueRefunds(ctx, s.now(), limit)
	if err != nil {
		return 0, errors.Wrap(err, "查询待退款记录失败")
	}

	settled := 0
	for _, r := range refunds {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.paymentRepo.UpdateStatus(ctx, tx, r.PaymentID, model.PaymentStatusPending, model.PaymentStatusRefunded); err != nil {
				return err
			}
			return s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.OrderEvent, model.EventRefundCompleted, r.OrderID, map[string]interface{}{
				"event":      model.EventRefundCompleted,
				"refund_id":  r.PaymentID,
				"refund_of":  r.RefundOf,
				"order_id":   r.OrderID,
				"user_id":    r.UserID,
				"amount":     -r.PaymentAmount,
				"settled_at": s.now().Format(time.RFC3339),
			})
		})
		if err != nil {
			if errors.Is(err, repository.ErrPaymentStatusInvalid) {
				continue
			}
			s.logger.Error("退款结算失败", zap.String("refund_id", r.PaymentID), zap.Error(err))
			continue
		}
		settled++
	}

	return settled, nil
}

// CancelExpiredOrders 取消超过支付时限仍为 PENDING 的订单，返回取消条数
func (s *CancelService) CancelExpiredOrders(ctx context.Context, limit int) (int, error) {
	timeout := time.Duration(s.cfg.Business.OrderTimeoutMinutes) * time.Minute
	orders, err := s.orderRepo.GetExpiredPending(ctx, s.now().Add(-timeout), limit)
	if err != nil {
		return 0, errors.Wrap(err, "查询超时订单失败")
	}

	cancelled := 0
	for _, o := range orders {
		if _, err := s.CancelOrder(ctx, o.OrderID, "支付超时自动取消"); err != nil {
			// 并发支付或取消导致状态变化时跳过
			kind := KindOf(err)
			if kind != KindInvalidState && kind != KindConflict {
				s.logger.Error("超时订单取消失败", zap.String("order_id", o.OrderID), zap.Error(err))
			}
			continue
		}
		cancelled++
		s.logger.Info("订单已超时取消",
			zap.String("order_id", o.OrderID),
			zap.Int64("user_id", o.UserID),
			zap.Int64("final_amount", o.FinalAmount),
		)
	}

	return cancelled, nil
}
