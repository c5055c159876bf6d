package model

import (
	"time"
)

// ============================================================================
// 积分流水类型
// ============================================================================

const (
	PointTypeEarn   = "EARN"   // 消费返积分
	PointTypeUse    = "USE"    // 支付抵扣
	PointTypeExpire = "EXPIRE" // 过期扣除
	PointTypeRefund = "REFUND" // 取消订单退还/回收
)

// PointHistory 积分流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改金额，冲正通过新增一条反向流水完成
// 2. Amount 有符号：正数入账，负数出账
// 3. 同一用户按 ID 顺序回放所有 Amount 之和必须等于钱包余额
type PointHistory struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64      `gorm:"index;not null" json:"user_id"`
	PaymentID       *string    `gorm:"type:varchar(64);index" json:"payment_id"`
	TransactionType string     `gorm:"type:varchar(20);not null" json:"transaction_type"`
	Amount          int64      `gorm:"not null" json:"amount"`
	BalanceAfter    int64      `gorm:"not null" json:"balance_after"`
	Description     string     `gorm:"type:varchar(256)" json:"description"`
	ExpiredAt       *time.Time `gorm:"index" json:"expired_at,omitempty"` // 仅 EARN 流水
	ExpiryProcessed bool       `gorm:"not null" json:"-"`
	CreatedAt       time.Time  `gorm:"index" json:"created_at"`
}

func (PointHistory) TableName() string {
	return "point_history"
}

// Wallet 用户积分钱包，是积分流水的派生缓存
// 只能随流水一起变更，首次结算时自动创建
type Wallet struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID            int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	PointBalance      int64     `gorm:"not null;default:0" json:"point_balance"`
	TotalEarnedPoints int64     `gorm:"not null;default:0" json:"total_earned_points"`
	TotalUsedPoints   int64     `gorm:"not null;default:0" json:"total_used_points"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "user_wallet"
}
