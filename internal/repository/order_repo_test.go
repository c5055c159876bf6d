package repository

import (
	"context"
	"testing"
	"time"

	"pointpay/internal/model"
	"pointpay/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(orderID string, userID int64, createdAt time.Time) *model.Order {
	return &model.Order{
		OrderID:     orderID,
		UserID:      userID,
		StoreID:     7,
		TotalAmount: 10000,
		FinalAmount: 10000,
		Status:      model.OrderStatusPending,
		CreatedAt:   createdAt,
	}
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testutil.NewDB(t))
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	items := []*model.OrderItem{
		{OrderID: "ORD20261018001", MenuID: 1, MenuName: "拿铁", Quantity: 2, UnitPrice: 3000, TotalPrice: 6000},
		{OrderID: "ORD20261018001", MenuID: 2, MenuName: "贝果", Quantity: 1, UnitPrice: 4000, TotalPrice: 4000},
	}
	require.NoError(t, repo.Create(ctx, nil, newOrder("ORD20261018001", 1, now), items))

	got, err := repo.GetByOrderID(ctx, nil, "ORD20261018001")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), got.TotalAmount)
	assert.Equal(t, model.OrderStatusPending, got.Status)

	gotItems, err := repo.GetItems(ctx, "ORD20261018001")
	require.NoError(t, err)
	require.Len(t, gotItems, 2)
	assert.Equal(t, "拿铁", gotItems[0].MenuName)

	_, err = repo.GetByOrderID(ctx, nil, "ORD20261018999")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderRepository_DuplicateOrderID(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testutil.NewDB(t))
	now := time.Now()

	require.NoError(t, repo.Create(ctx, nil, newOrder("ORD20261018001", 1, now), nil))
	err := repo.Create(ctx, nil, newOrder("ORD20261018001", 2, now), nil)
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestOrderRepository_CountWithPrefix(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testutil.NewDB(t))
	now := time.Now()

	require.NoError(t, repo.Create(ctx, nil, newOrder("ORD20261017001", 1, now), nil))
	require.NoError(t, repo.Create(ctx, nil, newOrder("ORD20261018001", 1, now), nil))
	require.NoError(t, repo.Create(ctx, nil, newOrder("ORD20261018002", 1, now), nil))

	count, err := repo.CountWithPrefix(ctx, "ORD20261018")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestOrderRepository_GuardedTransitions(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testutil.NewDB(t))
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, nil, newOrder("ORD20261018001", 1, now), nil))

	// 状态机不允许的流转直接拒绝
	err := repo.UpdateStatus(ctx, nil, "ORD20261018001", model.OrderStatusCompleted, model.OrderStatusPending)
	assert.ErrorIs(t, err, ErrOrderStatusInvalid)

	require.NoError(t, repo.UpdateStatus(ctx, nil, "ORD20261018001", model.OrderStatusPending, model.OrderStatusCompleted))

	// 第二次 PENDING -> COMPLETED 条件不满足
	err = repo.UpdateStatus(ctx, nil, "ORD20261018001", model.OrderStatusPending, model.OrderStatusCompleted)
	assert.ErrorIs(t, err, ErrOrderStatusInvalid)

	require.NoError(t, repo.Cancel(ctx, nil, "ORD20261018001", model.OrderStatusCompleted, "用户取消", now))
	got, err := repo.GetByOrderID(ctx, nil, "ORD20261018001")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, got.Status)
	assert.Equal(t, "用户取消", got.CancelReason)
	require.NotNil(t, got.CancelledAt)

	err = repo.Cancel(ctx, nil, "ORD20261018001", model.OrderStatusCancelled, "again", now)
	assert.ErrorIs(t, err, ErrOrderStatusInvalid)
}

func TestOrderRepository_GetExpiredPending(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testutil.NewDB(t))
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, nil, newOrder("ORD20261018001", 1, base), nil))
	require.NoError(t, repo.Create(ctx, nil, newOrder("ORD20261018002", 1, base.Add(time.Hour)), nil))
	require.NoError(t, repo.Create(ctx, nil, newOrder("ORD20261018003", 1, base), nil))
	require.NoError(t, repo.UpdateStatus(ctx, nil, "ORD20261018003", model.OrderStatusPending, model.OrderStatusCompleted))

	orders, err := repo.GetExpiredPending(ctx, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "ORD20261018001", orders[0].OrderID)
}

func TestOrderRepository_ListPaged(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testutil.NewDB(t))
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"ORD20261018001", "ORD20261018002", "ORD20261018003"} {
		require.NoError(t, repo.Create(ctx, nil, newOrder(id, 1, base.Add(time.Duration(i)*time.Minute)), nil))
	}
	require.NoError(t, repo.Create(ctx, nil, newOrder("ORD20261018004", 2, base), nil))

	orders, total, err := repo.ListByUserID(ctx, 1, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, orders, 2)
	assert.Equal(t, "ORD20261018003", orders[0].OrderID)

	orders, total, err = repo.ListByStoreID(ctx, 7, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, orders, 1)
}
