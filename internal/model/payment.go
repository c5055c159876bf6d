package model

import (
	"time"
)

const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusCancelled = "CANCELLED"
	PaymentStatusRefunded  = "REFUNDED"
)

const (
	PaymentMethodCard         = "CARD"
	PaymentMethodBankTransfer = "BANK_TRANSFER"
	PaymentMethodMobilePay    = "MOBILE_PAY"
	PaymentMethodPoint        = "POINT"
)

func IsValidPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodCard, PaymentMethodBankTransfer, PaymentMethodMobilePay, PaymentMethodPoint:
		return true
	}
	return false
}

// PaymentRecord 支付记录表
//
// 每次 ProcessPayment 调用（成功或失败）都会留下一条记录，失败记录用于审计，不会自动重试。
// 退款记录同样写在这张表里：PaymentAmount 为负数，RefundOf 指向原支付单。
type PaymentRecord struct {
	ID                    int64      `gorm:"primaryKey;autoIncrement" json:"-"`
	PaymentID             string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_id"`
	OrderID               string     `gorm:"type:varchar(32);index;not null" json:"order_id"`
	UserID                int64      `gorm:"index;not null" json:"user_id"`
	MethodID              *int64     `json:"method_id"` // 为空表示纯积分支付
	PaymentMethod         string     `gorm:"type:varchar(20);not null" json:"payment_method"`
	PaymentAmount         int64      `gorm:"not null" json:"payment_amount"`
	PointUsed             int64      `gorm:"not null;default:0" json:"point_used"`
	PointEarned           int64      `gorm:"not null;default:0" json:"point_earned"`
	Status                string     `gorm:"type:varchar(20);index;not null" json:"status"`
	ExternalTransactionID string     `gorm:"type:varchar(64)" json:"external_transaction_id,omitempty"`
	FailureReason         string     `gorm:"type:varchar(256)" json:"failure_reason,omitempty"`
	RefundOf              string     `gorm:"type:varchar(64);index" json:"refund_of,omitempty"`
	RefundDueAt           *time.Time `json:"refund_due_at,omitempty"`
	PaidAt                *time.Time `json:"paid_at,omitempty"`
	CreatedAt             time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentRecord) TableName() string {
	return "payment_history"
}
