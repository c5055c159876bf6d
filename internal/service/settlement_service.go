package service

import (
	"context"
	"time"

	"pointpay/internal/config"
	"pointpay/internal/gateway"
	"pointpay/internal/infrastructure/lock"
	"pointpay/internal/model"
	"pointpay/internal/repository"
	"pointpay/pkg/idgen"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SettlementService 结算引擎：积分校验、外部扣款、积分扣减与返还、订单状态流转
type SettlementService struct {
	db          *gorm.DB
	cfg         *config.Config
	logger      *zap.Logger
	locker      *lock.OrderLocker
	gateway     gateway.Capturer
	points      *PointService
	orderRepo   *repository.OrderRepository
	paymentRepo *repository.PaymentRepository
	walletRepo  *repository.WalletRepository
	outboxRepo  *repository.OutboxRepository
	now         func() time.Time
}

func NewSettlementService(
	db *gorm.DB,
	locker *lock.OrderLocker,
	capturer gateway.Capturer,
	points *PointService,
	cfg *config.Config,
	logger *zap.Logger,
) *SettlementService {
	return &SettlementService{
		db:          db,
		cfg:         cfg,
		logger:      logger,
		locker:      locker,
		gateway:     capturer,
		points:      points,
		orderRepo:   repository.NewOrderRepository(db),
		paymentRepo: repository.NewPaymentRepository(db),
		walletRepo:  repository.NewWalletRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		now:         utcNow,
	}
}

type PaymentRequest struct {
	OrderID       string `json:"order_id" binding:"required"`
	UserID        int64  `json:"user_id" binding:"required"`
	MethodID      *int64 `json:"method_id"`
	PaymentMethod string `json:"payment_method" binding:"required"`
	PaymentAmount int64  `json:"payment_amount"`
	PointUsed     int64  `json:"point_used"`
}

type PaymentResult struct {
	PaymentID             string    `json:"payment_id"`
	OrderID               string    `json:"order_id"`
	Status                string    `json:"status"`
	PaymentAmount         int64     `json:"payment_amount"`
	PointUsed             int64     `json:"point_used"`
	PointEarned           int64     `json:"point_earned"`
	ExternalTransactionID string    `json:"external_transaction_id"`
	PaidAt                time.Time `json:"paid_at"`
}

// ProcessPayment 结算一笔订单
//
// 流程：
//  1. 前置校验：订单状态、金额、支付方式、积分余额（不产生任何业务变更）
//  2. 获取订单锁，锁内再次确认订单仍是 PENDING
//  3. 调用支付网关扣款（不在数据库事务内）
//  4. 单个事务内：订单 PENDING -> COMPLETED（条件更新）、写支付记录、扣积分、返积分、写 outbox
//
// 订单确认归属后的任何失败都会留下一条 FAILED 支付记录，订单保持 PENDING，调用方可以重试。
func (s *SettlementService) ProcessPayment(ctx context.Context, req *PaymentRequest) (*PaymentResult, error) {
	order, err := s.orderRepo.GetByOrderID(ctx, nil, req.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, newError(KindNotFound, "订单不存在: %s", req.OrderID)
		}
		return nil, internalError(err, "查询订单失败")
	}

	if order.UserID != req.UserID {
		return nil, newError(KindInvalidRequest, "订单不属于该用户")
	}

	paymentID := idgen.GeneratePaymentID()

	result, capture, err := s.settle(ctx, req, order, paymentID)
	if err != nil {
		s.recordFailure(ctx, req, paymentID, capture, err)
		return nil, err
	}

	return result, nil
}

// settle 网关扣款成功后返回的 capture 不为空，即使后续事务失败
func (s *SettlementService) settle(ctx context.Context, req *PaymentRequest, order *model.Order, paymentID string) (*PaymentResult, *gateway.CaptureResult, error) {
	if err := s.checkPreconditions(ctx, req, order); err != nil {
		return nil, nil, err
	}

	release, err := s.locker.Acquire(ctx, req.OrderID, paymentID)
	if err != nil {
		return nil, nil, wrapError(KindConflict, err, "订单正在处理中，请稍后重试")
	}
	defer release()

	// 加锁后再次确认状态，防止并发结算或取消
	current, err := s.orderRepo.GetByOrderID(ctx, nil, req.OrderID)
	if err != nil {
		return nil, nil, internalError(err, "查询订单失败")
	}
	if current.Status != model.OrderStatusPending {
		return nil, nil, newError(KindInvalidState, "订单已处理，当前状态: %s", current.Status)
	}

	capture, err := s.gateway.Capture(ctx, gateway.CaptureRequest{
		PaymentID:     paymentID,
		OrderID:       req.OrderID,
		UserID:        req.UserID,
		PaymentMethod: req.PaymentMethod,
		Amount:        req.PaymentAmount,
	})
	if err != nil {
		return nil, nil, wrapError(KindGatewayError, err, "支付网关扣款失败")
	}

	pointEarned := s.earnedPoints(req.PaymentAmount)
	paidAt := s.now()

	record := &model.PaymentRecord{
		PaymentID:             paymentID,
		OrderID:               req.OrderID,
		UserID:                req.UserID,
		MethodID:              req.MethodID,
		PaymentMethod:         req.PaymentMethod,
		PaymentAmount:         req.PaymentAmount,
		PointUsed:             req.PointUsed,
		PointEarned:           pointEarned,
		Status:                model.PaymentStatusCompleted,
		ExternalTransactionID: capture.TransactionID,
		PaidAt:                &paidAt,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.UpdateStatus(ctx, tx, req.OrderID, model.OrderStatusPending, model.OrderStatusCompleted); err != nil {
			if errors.Is(err, repository.ErrOrderStatusInvalid) {
				return newError(KindConflict, "订单状态已被其他请求修改")
			}
			return errors.Wrap(err, "更新订单状态失败")
		}

		if err := s.paymentRepo.Create(ctx, tx, record); err != nil {
			return errors.Wrap(err, "写入支付记录失败")
		}

		if req.PointUsed > 0 {
			if _, err := s.points.Debit(ctx, tx, req.UserID, req.PointUsed, paymentID); err != nil {
				return err
			}
		}

		if pointEarned > 0 {
			if _, err := s.points.Credit(ctx, tx, req.UserID, pointEarned, paymentID); err != nil {
				return err
			}
		}

		return s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.PayResult, model.EventPaymentCompleted, req.OrderID, map[string]interface{}{
			"event":                   model.EventPaymentCompleted,
			"payment_id":              paymentID,
			"order_id":                req.OrderID,
			"user_id":                 req.UserID,
			"payment_method":          req.PaymentMethod,
			"payment_amount":          req.PaymentAmount,
			"point_used":              req.PointUsed,
			"point_earned":            pointEarned,
			"external_transaction_id": capture.TransactionID,
			"paid_at":                 paidAt.Format(time.RFC3339),
		})
	})
	if err != nil {
		s.logger.Error("结算事务失败",
			zap.String("order_id", req.OrderID),
			zap.String("payment_id", paymentID),
			zap.String("external_transaction_id", capture.TransactionID),
			zap.Error(err),
		)
		return nil, capture, internalError(err, "结算失败")
	}

	s.logger.Info("支付成功",
		zap.String("order_id", req.OrderID),
		zap.String("payment_id", paymentID),
		zap.Int64("user_id", req.UserID),
		zap.Int64("payment_amount", req.PaymentAmount),
		zap.Int64("point_used", req.PointUsed),
		zap.Int64("point_earned", pointEarned),
	)

	return &PaymentResult{
		PaymentID:             paymentID,
		OrderID:               req.OrderID,
		Status:                model.PaymentStatusCompleted,
		PaymentAmount:         req.PaymentAmount,
		PointUsed:             req.PointUsed,
		PointEarned:           pointEarned,
		ExternalTransactionID: capture.TransactionID,
		PaidAt:                paidAt,
	}, capture, nil
}

func (s *SettlementService) checkPreconditions(ctx context.Context, req *PaymentRequest, order *model.Order) error {
	if order.Status != model.OrderStatusPending {
		return newError(KindInvalidState, "订单已处理，当前状态: %s", order.Status)
	}

	if req.PaymentAmount < 0 || req.PointUsed < 0 {
		return newError(KindInvalidRequest, "支付金额和积分不能为负数")
	}

	if !model.IsValidPaymentMethod(req.PaymentMethod) {
		return newError(KindInvalidRequest, "不支持的支付方式: %s", req.PaymentMethod)
	}

	if req.PaymentAmount+req.PointUsed != order.TotalAmount {
		return newError(KindAmountMismatch, "支付金额不一致: 支付 %d + 积分 %d != 订单总额 %d",
			req.PaymentAmount, req.PointUsed, order.TotalAmount)
	}

	if req.PaymentMethod == model.PaymentMethodPoint && req.PaymentAmount != 0 {
		return newError(KindInvalidRequest, "纯积分支付的支付金额必须为0")
	}

	if req.PointUsed > 0 {
		wallet, err := s.walletRepo.GetOrCreate(ctx, nil, req.UserID)
		if err != nil {
			return internalError(err, "查询积分钱包失败")
		}
		if wallet.PointBalance < req.PointUsed {
			return newError(KindInsufficientPoints, "积分余额不足: 当前 %d, 需要 %d", wallet.PointBalance, req.PointUsed)
		}
	}

	return nil
}

// earnedPoints 返积分 = floor(支付金额 * 返积分比例)
func (s *SettlementService) earnedPoints(paymentAmount int64) int64 {
	if paymentAmount <= 0 {
		return 0
	}
	rate := decimal.NewFromFloat(s.cfg.Business.PointEarnRate)
	return decimal.NewFromInt(paymentAmount).Mul(rate).Floor().IntPart()
}

// recordFailure 尽力写入 FAILED 支付记录，写入失败只记日志，不覆盖原始错误
//
// 网关已扣款（capture 不为空）时记录外部流水号，并为扣款金额生成一条 PENDING 退款记录，
// 由退款任务到期后退回原支付渠道。
func (s *SettlementService) recordFailure(ctx context.Context, req *PaymentRequest, paymentID string, capture *gateway.CaptureResult, cause error) {
	reason := cause.Error()
	if r := []rune(reason); len(r) > 250 {
		reason = string(r[:250])
	}

	record := &model.PaymentRecord{
		PaymentID:     paymentID,
		OrderID:       req.OrderID,
		UserID:        req.UserID,
		MethodID:      req.MethodID,
		PaymentMethod: req.PaymentMethod,
		PaymentAmount: req.PaymentAmount,
		PointUsed:     req.PointUsed,
		Status:        model.PaymentStatusFailed,
		FailureReason: reason,
	}

	var refund *model.PaymentRecord
	if capture != nil {
		record.ExternalTransactionID = capture.TransactionID
		if req.PaymentAmount > 0 && req.PaymentMethod != model.PaymentMethodPoint {
			dueAt := AddBusinessDays(s.now(), s.cfg.Business.RefundBusinessDays)
			refund = &model.PaymentRecord{
				PaymentID:     idgen.GenerateRefundID(),
				OrderID:       req.OrderID,
				UserID:        req.UserID,
				MethodID:      req.MethodID,
				PaymentMethod: req.PaymentMethod,
				PaymentAmount: -req.PaymentAmount,
				Status:        model.PaymentStatusPending,
				RefundOf:      paymentID,
				RefundDueAt:   &dueAt,
			}
		}
	}

	ctx = context.WithoutCancel(ctx)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.paymentRepo.Create(ctx, tx, record); err != nil {
			return err
		}
		if refund == nil {
			return nil
		}
		return s.paymentRepo.Create(ctx, tx, refund)
	})
	if err != nil {
		fields := []zap.Field{
			zap.String("order_id", req.OrderID),
			zap.String("payment_id", paymentID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		}
		if capture != nil {
			fields = append(fields, zap.String("external_transaction_id", capture.TransactionID))
		}
		s.logger.Error("写入失败支付记录失败", fields...)
		return
	}

	if refund != nil {
		s.logger.Warn("网关已扣款但结算失败，已生成退款记录",
			zap.String("order_id", req.OrderID),
			zap.String("payment_id", paymentID),
			zap.String("refund_id", refund.PaymentID),
			zap.String("external_transaction_id", record.ExternalTransactionID),
			zap.Int64("amount", req.PaymentAmount),
		)
	}

	s.logger.Warn("支付失败",
		zap.String("order_id", req.OrderID),
		zap.String("payment_id", paymentID),
		zap.String("kind", string(KindOf(cause))),
		zap.Error(cause),
	)
}

func (s *SettlementService) GetPaymentHistory(ctx context.Context, userID int64, page, pageSize int) ([]*model.PaymentRecord, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	records, total, err := s.paymentRepo.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, internalError(err, "查询支付记录失败")
	}
	return records, total, nil
}

// GetPayment 查询单条支付或退款记录
func (s *SettlementService) GetPayment(ctx context.Context, paymentID string) (*model.PaymentRecord, error) {
	record, err := s.paymentRepo.GetByPaymentID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, newError(KindNotFound, "支付记录不存在: %s", paymentID)
		}
		return nil, internalError(err, "查询支付记录失败")
	}
	return record, nil
}
