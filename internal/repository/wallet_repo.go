package repository

import (
	"context"

	"pointpay/internal/model"

	"github.com/go-faster/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := conn(r.db, tx).WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// GetOrCreate 首次使用时创建零余额钱包，并发创建时依赖唯一索引兜底
func (r *WalletRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, userID int64) (*model.Wallet, error) {
	db := conn(r.db, tx).WithContext(ctx)

	wallet := &model.Wallet{UserID: userID}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(wallet).Error
	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, tx, userID)
}

// Apply 调整钱包余额
//
// 使用条件更新保证余额不为负：
// UPDATE user_wallet SET point_balance = point_balance + ? ... WHERE user_id = ? AND point_balance + ? >= 0
// 影响行数为 0 说明余额不足（或钱包不存在）
func (r *WalletRepository) Apply(ctx context.Context, tx *gorm.DB, userID, delta, earnedDelta, usedDelta int64) error {
	db := conn(r.db, tx).WithContext(ctx)

	result := db.Model(&model.Wallet{}).
		Where("user_id = ? AND point_balance + ? >= 0", userID, delta).
		Updates(map[string]interface{}{
			"point_balance":       gorm.Expr("point_balance + ?", delta),
			"total_earned_points": gorm.Expr("total_earned_points + ?", earnedDelta),
			"total_used_points":   gorm.Expr("total_used_points + ?", usedDelta),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByUserID(ctx, tx, userID); err != nil {
			return err
		}
		return ErrBalanceNotEnough
	}

	return nil
}
