package repository

import (
	"github.com/go-faster/errors"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound        = errors.New("订单不存在")
	ErrOrderStatusInvalid   = errors.New("订单状态不合法")
	ErrMenuNotFound         = errors.New("菜单不存在")
	ErrPaymentNotFound      = errors.New("支付记录不存在")
	ErrPaymentStatusInvalid = errors.New("支付记录状态不合法")
	ErrWalletNotFound       = errors.New("积分钱包不存在")
	ErrBalanceNotEnough     = errors.New("积分余额不足")
	ErrAuthSettingsNotFound = errors.New("认证设置不存在")
	ErrDuplicateKey         = errors.New("唯一键冲突")
)

// conn 优先使用调用方传入的事务
func conn(db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db
}

// translateCreateErr 把唯一键冲突统一翻译成 ErrDuplicateKey
func translateCreateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	return err
}
