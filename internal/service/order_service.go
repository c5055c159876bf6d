package service

import (
	"context"
	"math"
	"time"

	"pointpay/internal/config"
	"pointpay/internal/model"
	"pointpay/internal/repository"
	"pointpay/pkg/idgen"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type OrderService struct {
	db          *gorm.DB
	cfg         *config.Config
	logger      *zap.Logger
	orderRepo   *repository.OrderRepository
	menuRepo    *repository.MenuRepository
	paymentRepo *repository.PaymentRepository
	now         func() time.Time
}

func NewOrderService(db *gorm.DB, cfg *config.Config, logger *zap.Logger) *OrderService {
	return &OrderService{
		db:          db,
		cfg:         cfg,
		logger:      logger,
		orderRepo:   repository.NewOrderRepository(db),
		menuRepo:    repository.NewMenuRepository(db),
		paymentRepo: repository.NewPaymentRepository(db),
		now:         utcNow,
	}
}

type OrderItemRequest struct {
	MenuID   int64 `json:"menu_id" binding:"required"`
	Quantity int   `json:"quantity" binding:"required"`
}

type CreateOrderRequest struct {
	UserID    int64              `json:"user_id" binding:"required"`
	StoreID   int64              `json:"store_id" binding:"required"`
	Items     []OrderItemRequest `json:"items" binding:"required"`
	PointUsed int64              `json:"point_used"`
}

// OrderSummary 订单及明细
type OrderSummary struct {
	*model.Order
	Items    []*model.OrderItem     `json:"items"`
	Payments []*model.PaymentRecord `json:"payments,omitempty"`
}

// CreateOrder 根据菜单计算订单金额并创建 PENDING 订单
//
// 这里不校验积分余额，余额在支付时校验。
// 订单号 = ORD + 日期 + 当天序号，序号按当天已有订单数计算；
// 并发下序号可能碰撞，依赖唯一索引拒绝后重新计数重试。
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderSummary, error) {
	if len(req.Items) == 0 {
		return nil, newError(KindInvalidRequest, "订单明细不能为空")
	}
	if req.PointUsed < 0 {
		return nil, newError(KindInvalidRequest, "使用积分不能为负数")
	}

	menuIDs := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return nil, newError(KindInvalidRequest, "商品数量必须大于0: menu_id=%d", item.MenuID)
		}
		menuIDs = append(menuIDs, item.MenuID)
	}

	menus, err := s.menuRepo.GetByIDs(ctx, menuIDs)
	if err != nil {
		return nil, internalError(err, "查询菜单失败")
	}

	var totalAmount int64
	items := make([]*model.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		menu, ok := menus[item.MenuID]
		if !ok {
			return nil, newError(KindNotFound, "菜单不存在: menu_id=%d", item.MenuID)
		}
		if !menu.IsAvailable {
			return nil, newError(KindInvalidState, "菜单已下架: %s", menu.Name)
		}

		if menu.Price > 0 && int64(item.Quantity) > math.MaxInt64/menu.Price {
			return nil, newError(KindInvalidRequest, "商品数量过大: menu_id=%d", item.MenuID)
		}
		lineTotal := menu.Price * int64(item.Quantity)
		if totalAmount > math.MaxInt64-lineTotal {
			return nil, newError(KindInvalidRequest, "订单金额超出上限")
		}
		totalAmount += lineTotal
		items = append(items, &model.OrderItem{
			MenuID:     menu.MenuID,
			MenuName:   menu.Name,
			Quantity:   item.Quantity,
			UnitPrice:  menu.Price,
			TotalPrice: lineTotal,
		})
	}

	now := s.now()
	order := &model.Order{
		UserID:         req.UserID,
		StoreID:        req.StoreID,
		TotalAmount:    totalAmount,
		DiscountAmount: 0,
		PointUsed:      req.PointUsed,
		FinalAmount:    max(0, totalAmount-req.PointUsed),
		Status:         model.OrderStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	prefix := idgen.OrderIDPrefix(now)
	retries := max(1, s.cfg.Business.OrderIDRetries)

	for attempt := 0; attempt < retries; attempt++ {
		count, err := s.orderRepo.CountWithPrefix(ctx, prefix)
		if err != nil {
			return nil, internalError(err, "生成订单号失败")
		}

		order.ID = 0
		order.OrderID = idgen.FormatOrderID(now, int(count)+1+attempt)
		for _, item := range items {
			item.ID = 0
			item.OrderID = order.OrderID
		}

		err = s.db.Transaction(func(tx *gorm.DB) error {
			return s.orderRepo.Create(ctx, tx, order, items)
		})
		if err == nil {
			s.logger.Info("订单创建成功",
				zap.String("order_id", order.OrderID),
				zap.Int64("user_id", order.UserID),
				zap.Int64("total_amount", order.TotalAmount),
			)
			return &OrderSummary{Order: order, Items: items}, nil
		}
		if !errors.Is(err, repository.ErrDuplicateKey) {
			return nil, internalError(err, "创建订单失败")
		}

		s.logger.Warn("订单号冲突，重新生成",
			zap.String("order_id", order.OrderID),
			zap.Int("attempt", attempt+1),
		)
	}

	return nil, newError(KindConflict, "订单号生成冲突，请稍后重试")
}

func (s *OrderService) GetOrderSummary(ctx context.Context, orderID string) (*OrderSummary, error) {
	order, err := s.orderRepo.GetByOrderID(ctx, nil, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, newError(KindNotFound, "订单不存在: %s", orderID)
		}
		return nil, internalError(err, "查询订单失败")
	}

	items, err := s.orderRepo.GetItems(ctx, orderID)
	if err != nil {
		return nil, internalError(err, "查询订单明细失败")
	}

	payments, err := s.paymentRepo.ListByOrderID(ctx, orderID)
	if err != nil {
		return nil, internalError(err, "查询支付记录失败")
	}

	return &OrderSummary{Order: order, Items: items, Payments: payments}, nil
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID int64, page, pageSize int) ([]*model.Order, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	orders, total, err := s.orderRepo.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, internalError(err, "查询订单列表失败")
	}
	return orders, total, nil
}

func (s *OrderService) ListStoreOrders(ctx context.Context, storeID int64, page, pageSize int) ([]*model.Order, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	orders, total, err := s.orderRepo.ListByStoreID(ctx, storeID, page, pageSize)
	if err != nil {
		return nil, 0, internalError(err, "查询订单列表失败")
	}
	return orders, total, nil
}

// utcNow 所有业务时间统一存 UTC
func utcNow() time.Time {
	return time.Now().UTC()
}
