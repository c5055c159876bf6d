package repository

import (
	"context"

	"pointpay/internal/model"

	"gorm.io/gorm"
)

// MenuRepository 菜单只读访问，菜单数据由门店模块维护
type MenuRepository struct {
	db *gorm.DB
}

func NewMenuRepository(db *gorm.DB) *MenuRepository {
	return &MenuRepository{db: db}
}

func (r *MenuRepository) Create(ctx context.Context, menu *model.Menu) error {
	return r.db.WithContext(ctx).Create(menu).Error
}

// GetByIDs 批量查询菜单，返回 menu_id -> Menu
func (r *MenuRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*model.Menu, error) {
	var menus []*model.Menu
	if err := r.db.WithContext(ctx).Where("menu_id IN ?", ids).Find(&menus).Error; err != nil {
		return nil, err
	}
	result := make(map[int64]*model.Menu, len(menus))
	for _, m := range menus {
		result[m.MenuID] = m
	}
	return result, nil
}
