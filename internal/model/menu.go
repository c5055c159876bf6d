package model

import "time"

// Menu 菜单（由门店管理模块维护，结算只读）
type Menu struct {
	MenuID      int64     `gorm:"column:menu_id;primaryKey;autoIncrement" json:"menu_id"`
	StoreID     int64     `gorm:"index;not null" json:"store_id"`
	Name        string    `gorm:"type:varchar(100);not null" json:"name"`
	Price       int64     `gorm:"not null" json:"price"`
	IsAvailable bool      `gorm:"not null" json:"is_available"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Menu) TableName() string {
	return "menu"
}
