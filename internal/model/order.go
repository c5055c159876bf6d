package model

import (
	"time"
)

const (
	OrderStatusPending   = "PENDING"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusCancelled = "CANCELLED"
)

// ValidStatusTransitions 订单状态机
// 状态只能向前流转，不允许回到 PENDING
var ValidStatusTransitions = map[string][]string{
	OrderStatusPending:   {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted: {OrderStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Order 订单表
// FinalAmount = max(0, TotalAmount - PointUsed)，创建后金额字段不再修改
type Order struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"-"`
	OrderID        string     `gorm:"type:varchar(32);uniqueIndex;not null" json:"order_id"`
	UserID         int64      `gorm:"index;not null" json:"user_id"`
	StoreID        int64      `gorm:"index;not null" json:"store_id"`
	TotalAmount    int64      `gorm:"not null" json:"total_amount"`
	DiscountAmount int64      `gorm:"not null;default:0" json:"discount_amount"`
	PointUsed      int64      `gorm:"not null;default:0" json:"point_used"`
	FinalAmount    int64      `gorm:"not null" json:"final_amount"`
	Status         string     `gorm:"type:varchar(20);index;not null" json:"status"`
	CancelReason   string     `gorm:"type:varchar(256)" json:"cancel_reason,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderItem 订单明细
// UnitPrice 是下单时的菜单价格快照，之后菜单改价不影响已下订单
type OrderItem struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	OrderID    string    `gorm:"type:varchar(32);index;not null" json:"order_id"`
	MenuID     int64     `gorm:"not null" json:"menu_id"`
	MenuName   string    `gorm:"type:varchar(100)" json:"menu_name"`
	Quantity   int       `gorm:"not null" json:"quantity"`
	UnitPrice  int64     `gorm:"not null" json:"unit_price"`
	TotalPrice int64     `gorm:"not null" json:"total_price"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (OrderItem) TableName() string {
	return "order_items"
}
