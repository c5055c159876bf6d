package service

import (
	"context"
	"testing"
	"time"

	"pointpay/internal/infrastructure/lock"
	"pointpay/internal/model"
	"pointpay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelOrder_Pending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 1, 0)

	res, err := f.cancel.CancelOrder(ctx, order.OrderID, "不想要了")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, res.Status)
	assert.Zero(t, res.PointRefunded)
	assert.Zero(t, res.PendingRefundAmount)
	assert.Equal(t, "订单已取消", res.Message)

	got := f.order(t, order.OrderID)
	assert.Equal(t, model.OrderStatusCancelled, got.Status)
	assert.Equal(t, "不想要了", got.CancelReason)

	_, err = f.cancel.CancelOrder(ctx, order.OrderID, "again")
	assert.ErrorIs(t, err, ErrInvalidState)

	// 已取消的订单不能再支付
	_, err = f.settlement.ProcessPayment(ctx, &PaymentRequest{
		OrderID: order.OrderID, UserID: 1, PaymentMethod: model.PaymentMethodCard, PaymentAmount: 15000,
	})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelOrder_CompletedWithCardAndPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grantPoints(t, 1, 2000)
	order := f.createOrder(t, 1, 1000)

	pay, err := f.settlement.ProcessPayment(ctx, &PaymentRequest{
		OrderID: order.OrderID, UserID: 1, PaymentMethod: model.PaymentMethodCard,
		PaymentAmount: 14000, PointUsed: 1000,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1140), f.wallet(t, 1).PointBalance)

	res, err := f.cancel.CancelOrder(ctx, order.OrderID, "门店缺货")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.PointRefunded)
	assert.Equal(t, int64(140), res.PointReclaimed)
	assert.Equal(t, int64(14000), res.PendingRefundAmount)
	require.NotNil(t, res.RefundExpectedAt)
	// 周五取消，3 个工作日后是下周三
	assert.Equal(t, time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC), res.RefundExpectedAt.UTC())
	assert.Contains(t, res.Message, "2026-10-21")

	w := f.wallet(t, 1)
	assert.Equal(t, int64(2000), w.PointBalance)
	assert.Equal(t, int64(0), w.TotalUsedPoints)
	assert.Equal(t, int64(2000), w.TotalEarnedPoints)
	f.requireLedgerConsistent(t, 1)

	records := f.payments(t, order.OrderID)
	require.Len(t, records, 2)
	original, refund := records[0], records[1]
	assert.Equal(t, pay.PaymentID, original.PaymentID)
	assert.Equal(t, model.PaymentStatusCancelled, original.Status)
	assert.Equal(t, model.PaymentStatusPending, refund.Status)
	assert.Equal(t, int64(-14000), refund.PaymentAmount)
	assert.Equal(t, pay.PaymentID, refund.RefundOf)
	assert.Equal(t, res.RefundID, refund.PaymentID)

	// 到期前不结算
	settled, err := f.cancel.SettleDueRefunds(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, settled)

	f.clock.Advance(5 * 24 * time.Hour)
	settled, err = f.cancel.SettleDueRefunds(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	got, err := repository.NewPaymentRepository(f.db).GetByPaymentID(ctx, refund.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusRefunded, got.Status)

	msgs, err := repository.NewOutboxRepository(f.db).GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	var types []string
	for _, m := range msgs {
		types = append(types, m.EventType)
	}
	assert.Equal(t, []string{model.EventPaymentCompleted, model.EventOrderCancelled, model.EventRefundCompleted}, types)
}

func TestCancelOrder_ReclaimCappedByBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 1, 0)

	_, err := f.settlement.ProcessPayment(ctx, &PaymentRequest{
		OrderID: order.OrderID, UserID: 1, PaymentMethod: model.PaymentMethodCard, PaymentAmount: 15000,
	})
	require.NoError(t, err)

	// 返还的 150 积分已经花掉 100
	second := f.createOrder(t, 1, 100)
	_, err = f.settlement.ProcessPayment(ctx, &PaymentRequest{
		OrderID: second.OrderID, UserID: 1, PaymentMethod: model.PaymentMethodCard, PaymentAmount: 14900, PointUsed: 100,
	})
	require.NoError(t, err)
	require.Equal(t, int64(50+149), f.wallet(t, 1).PointBalance)

	res, err := f.cancel.CancelOrder(ctx, order.OrderID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(150), res.PointReclaimed)
	assert.Equal(t, int64(49), f.wallet(t, 1).PointBalance)

	res, err = f.cancel.CancelOrder(ctx, second.OrderID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.PointRefunded)
	// 余额 149 只够回收 149
	assert.Equal(t, int64(149), res.PointReclaimed)
	assert.Equal(t, int64(0), f.wallet(t, 1).PointBalance)
	f.requireLedgerConsistent(t, 1)
}

func TestCancelOrder_PointOnlyRefundsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grantPoints(t, 1, 15000)
	order := f.createOrder(t, 1, 15000)

	_, err := f.settlement.ProcessPayment(ctx, &PaymentRequest{
		OrderID: order.OrderID, UserID: 1, PaymentMethod: model.PaymentMethodPoint, PointUsed: 15000,
	})
	require.NoError(t, err)
	assert.Zero(t, f.wallet(t, 1).PointBalance)

	res, err := f.cancel.CancelOrder(ctx, order.OrderID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(15000), res.PointRefunded)
	assert.Zero(t, res.PendingRefundAmount)
	assert.Nil(t, res.RefundExpectedAt)
	assert.Equal(t, int64(15000), f.wallet(t, 1).PointBalance)

	records := f.payments(t, order.OrderID)
	require.Len(t, records, 1)
	assert.Equal(t, model.PaymentStatusRefunded, records[0].Status)
	f.requireLedgerConsistent(t, 1)
}

func TestCancelOrder_LockedOrderIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 1, 0)

	require.NoError(t, f.mr.Set(lock.OrderLockKey(order.OrderID), "settling"))
	_, err := f.cancel.CancelOrder(ctx, order.OrderID, "")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, model.OrderStatusPending, f.order(t, order.OrderID).Status)

	_, err = f.cancel.CancelOrder(ctx, "ORD20261016999", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddBusinessDays(t *testing.T) {
	friday := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC), AddBusinessDays(friday, 1))
	assert.Equal(t, time.Date(2026, 10, 23, 9, 0, 0, 0, time.UTC), AddBusinessDays(friday, 5))

	saturday := friday.AddDate(0, 0, 1)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC), AddBusinessDays(saturday, 1))
	assert.Equal(t, friday, AddBusinessDays(friday, 0))
}
