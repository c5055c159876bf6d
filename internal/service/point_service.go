package service

import (
	"context"
	"fmt"
	"time"

	"pointpay/internal/config"
	"pointpay/internal/model"
	"pointpay/internal/repository"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PointService 积分账本
//
// 积分流水只追加，钱包余额是流水的派生值。
// 所有变更都走 apply：先条件更新钱包，再按更新后的余额写一条流水，两步必须在同一事务内。
type PointService struct {
	db         *gorm.DB
	cfg        *config.Config
	logger     *zap.Logger
	walletRepo *repository.WalletRepository
	pointRepo  *repository.PointHistoryRepository
	now        func() time.Time
}

func NewPointService(db *gorm.DB, cfg *config.Config, logger *zap.Logger) *PointService {
	return &PointService{
		db:         db,
		cfg:        cfg,
		logger:     logger,
		walletRepo: repository.NewWalletRepository(db),
		pointRepo:  repository.NewPointHistoryRepository(db),
		now:        utcNow,
	}
}

// LedgerChange 一次积分变动
// Amount 有符号；EarnedDelta/UsedDelta 用于维护钱包的累计字段
type LedgerChange struct {
	UserID      int64
	Type        string
	Amount      int64
	EarnedDelta int64
	UsedDelta   int64
	PaymentID   string
	Description string
	ExpiredAt   *time.Time
}

// Apply 在事务 tx 内执行一次积分变动并写入流水
func (s *PointService) Apply(ctx context.Context, tx *gorm.DB, change LedgerChange) (*model.PointHistory, error) {
	if _, err := s.walletRepo.GetOrCreate(ctx, tx, change.UserID); err != nil {
		return nil, errors.Wrap(err, "获取积分钱包失败")
	}

	if err := s.walletRepo.Apply(ctx, tx, change.UserID, change.Amount, change.EarnedDelta, change.UsedDelta); err != nil {
		if errors.Is(err, repository.ErrBalanceNotEnough) {
			return nil, newError(KindInsufficientPoints, "积分余额不足")
		}
		return nil, errors.Wrap(err, "更新积分钱包失败")
	}

	wallet, err := s.walletRepo.GetByUserID(ctx, tx, change.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "查询积分钱包失败")
	}

	entry := &model.PointHistory{
		UserID:          change.UserID,
		TransactionType: change.Type,
		Amount:          change.Amount,
		BalanceAfter:    wallet.PointBalance,
		Description:     change.Description,
		ExpiredAt:       change.ExpiredAt,
		CreatedAt:       s.now(),
	}
	if change.PaymentID != "" {
		paymentID := change.PaymentID
		entry.PaymentID = &paymentID
	}

	if err := s.pointRepo.Create(ctx, tx, entry); err != nil {
		return nil, errors.Wrap(err, "记录积分流水失败")
	}

	return entry, nil
}

// Debit 支付抵扣积分
func (s *PointService) Debit(ctx context.Context, tx *gorm.DB, userID, amount int64, paymentID string) (*model.PointHistory, error) {
	return s.Apply(ctx, tx, LedgerChange{
		UserID:      userID,
		Type:        model.PointTypeUse,
		Amount:      -amount,
		UsedDelta:   amount,
		PaymentID:   paymentID,
		Description: fmt.Sprintf("支付使用积分 %d", amount),
	})
}

// Credit 消费返积分，有效期 point_expiry_days 天
func (s *PointService) Credit(ctx context.Context, tx *gorm.DB, userID, amount int64, paymentID string) (*model.PointHistory, error) {
	expiredAt := s.now().AddDate(0, 0, s.cfg.Business.PointExpiryDays)
	return s.Apply(ctx, tx, LedgerChange{
		UserID:      userID,
		Type:        model.PointTypeEarn,
		Amount:      amount,
		EarnedDelta: amount,
		PaymentID:   paymentID,
		Description: fmt.Sprintf("消费返积分 %d", amount),
		ExpiredAt:   &expiredAt,
	})
}

// Refund 取消订单时退还支付使用的积分
func (s *PointService) Refund(ctx context.Context, tx *gorm.DB, userID, amount int64, paymentID string) (*model.PointHistory, error) {
	return s.Apply(ctx, tx, LedgerChange{
		UserID:      userID,
		Type:        model.PointTypeRefund,
		Amount:      amount,
		UsedDelta:   -amount,
		PaymentID:   paymentID,
		Description: fmt.Sprintf("取消订单退还积分 %d", amount),
	})
}

// Reclaim 回收某笔支付返还的积分，返回实际回收量
//
// 回收量为 min(返还量, 当前余额)，保证余额不为负；
// 同时把该支付的 EARN 流水标记为已处理，之后不再参与过期。
func (s *PointService) Reclaim(ctx context.Context, tx *gorm.DB, userID, earned int64, paymentID string) (int64, error) {
	entries, err := s.pointRepo.ListByPaymentID(ctx, tx, paymentID)
	if err != nil {
		return 0, errors.Wrap(err, "查询积分流水失败")
	}
	for _, entry := range entries {
		if entry.TransactionType != model.PointTypeEarn {
			continue
		}
		if _, err := s.pointRepo.MarkExpired(ctx, tx, entry.ID); err != nil {
			return 0, errors.Wrap(err, "更新积分流水失败")
		}
	}

	wallet, err := s.walletRepo.GetOrCreate(ctx, tx, userID)
	if err != nil {
		return 0, errors.Wrap(err, "获取积分钱包失败")
	}

	reclaimed := min(earned, wallet.PointBalance)
	if reclaimed <= 0 {
		return 0, nil
	}

	_, err = s.Apply(ctx, tx, LedgerChange{
		UserID:      userID,
		Type:        model.PointTypeRefund,
		Amount:      -reclaimed,
		EarnedDelta: -reclaimed,
		PaymentID:   paymentID,
		Description: fmt.Sprintf("取消订单回收返还积分 %d", reclaimed),
	})
	if err != nil {
		return 0, err
	}
	return reclaimed, nil
}

// GetWallet 查询钱包，不存在时自动创建
func (s *PointService) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	wallet, err := s.walletRepo.GetOrCreate(ctx, nil, userID)
	if err != nil {
		return nil, internalError(err, "查询积分钱包失败")
	}
	return wallet, nil
}

func (s *PointService) GetPointHistory(ctx context.Context, userID int64, transactionType string, page, pageSize int) ([]*model.PointHistory, int64, error) {
	if transactionType != "" && !isValidPointType(transactionType) {
		return nil, 0, newError(KindInvalidRequest, "不支持的积分类型: %s", transactionType)
	}
	page, pageSize = normalizePage(page, pageSize)

	entries, total, err := s.pointRepo.ListByUserID(ctx, userID, transactionType, page, pageSize)
	if err != nil {
		return nil, 0, internalError(err, "查询积分流水失败")
	}
	return entries, total, nil
}

// ReconcileResult 对账结果
type ReconcileResult struct {
	UserID        int64 `json:"user_id"`
	WalletBalance int64 `json:"wallet_balance"`
	LedgerSum     int64 `json:"ledger_sum"`
	Consistent    bool  `json:"consistent"`
}

// Reconcile 比对钱包余额与流水合计
func (s *PointService) Reconcile(ctx context.Context, userID int64) (*ReconcileResult, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return nil, newError(KindNotFound, "积分钱包不存在: user_id=%d", userID)
		}
		return nil, internalError(err, "查询积分钱包失败")
	}

	sum, err := s.pointRepo.SumByUserID(ctx, userID)
	if err != nil {
		return nil, internalError(err, "汇总积分流水失败")
	}

	result := &ReconcileResult{
		UserID:        userID,
		WalletBalance: wallet.PointBalance,
		LedgerSum:     sum,
		Consistent:    wallet.PointBalance == sum,
	}
	if !result.Consistent {
		s.logger.Error("积分对账不一致",
			zap.Int64("user_id", userID),
			zap.Int64("wallet_balance", wallet.PointBalance),
			zap.Int64("ledger_sum", sum),
		)
	}
	return result, nil
}

// ExpirePoints 处理到期的 EARN 流水，返回本次处理的条数
//
// 过期扣除量为 min(原发放量, 当前余额)，余额已被消费掉的部分不再扣除。
func (s *PointService) ExpirePoints(ctx context.Context, limit int) (int, error) {
	entries, err := s.pointRepo.GetExpirable(ctx, s.now(), limit)
	if err != nil {
		return 0, errors.Wrap(err, "查询到期积分失败")
	}

	processed := 0
	for _, entry := range entries {
		var (
			expired int64
			marked  bool
		)
		err := s.db.Transaction(func(tx *gorm.DB) error {
			ok, err := s.pointRepo.MarkExpired(ctx, tx, entry.ID)
			if err != nil {
				return err
			}
			// 已被其他实例处理
			if !ok {
				return nil
			}
			marked = true

			wallet, err := s.walletRepo.GetOrCreate(ctx, tx, entry.UserID)
			if err != nil {
				return err
			}

			expired = min(entry.Amount, wallet.PointBalance)
			if expired <= 0 {
				return nil
			}

			paymentID := ""
			if entry.PaymentID != nil {
				paymentID = *entry.PaymentID
			}
			_, err = s.Apply(ctx, tx, LedgerChange{
				UserID:      entry.UserID,
				Type:        model.PointTypeExpire,
				Amount:      -expired,
				PaymentID:   paymentID,
				Description: fmt.Sprintf("积分过期 %d", expired),
			})
			return err
		})
		if err != nil {
			s.logger.Error("积分过期处理失败", zap.Int64("entry_id", entry.ID), zap.Error(err))
			continue
		}
		if !marked {
			continue
		}

		processed++
		if expired > 0 {
			s.logger.Info("积分已过期",
				zap.Int64("user_id", entry.UserID),
				zap.Int64("entry_id", entry.ID),
				zap.Int64("expired", expired),
			)
		}
	}

	return processed, nil
}

func isValidPointType(t string) bool {
	switch t {
	case model.PointTypeEarn, model.PointTypeUse, model.PointTypeExpire, model.PointTypeRefund:
		return true
	}
	return false
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
