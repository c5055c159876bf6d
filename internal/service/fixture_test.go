package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"pointpay/internal/config"
	"pointpay/internal/gateway"
	"pointpay/internal/infrastructure/lock"
	"pointpay/internal/model"
	"pointpay/internal/repository"
	"pointpay/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// 2026-10-16 是周五
var testStart = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu    sync.Mutex
	calls []gateway.CaptureRequest
	err   error
	// afterCapture 在扣款成功后、结算事务前执行，用于模拟并发变更
	afterCapture func()
}

func (g *fakeGateway) Capture(_ context.Context, req gateway.CaptureRequest) (*gateway.CaptureResult, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	err, hook := g.err, g.afterCapture
	g.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if hook != nil {
		hook()
	}
	return &gateway.CaptureResult{TransactionID: "EXT_TEST_" + req.PaymentID, CapturedAt: testStart}, nil
}

func (g *fakeGateway) setErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type fixture struct {
	db      *gorm.DB
	cfg     *config.Config
	clock   *testutil.Clock
	mr      *miniredis.Miniredis
	gateway *fakeGateway

	points     *PointService
	orders     *OrderService
	auth       *AuthService
	settlement *SettlementService
	cancel     *CancelService
	checkout   *CheckoutService
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{PayResult: "test.pay", OrderEvent: "test.order"},
		},
		Business: config.BusinessConfig{
			OrderTimeoutMinutes: 30,
			OrderIDRetries:      5,
			PointEarnRate:       0.01,
			PointExpiryDays:     365,
			RefundBusinessDays:  3,
			LockTTLSeconds:      30,
		},
		Auth: config.AuthConfig{
			BcryptCost:           bcrypt.MinCost,
			FailureWindowSeconds: 300,
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	redisClient, mr := testutil.NewRedis(t)
	cfg := testConfig()
	clock := testutil.NewClock(testStart)
	logger := zap.NewNop()
	gw := &fakeGateway{}

	locker := lock.NewOrderLocker(redisClient, 30*time.Second).WithRetry(5*time.Millisecond, 1)

	points := NewPointService(db, cfg, logger)
	points.now = clock.Now
	orders := NewOrderService(db, cfg, logger)
	orders.now = clock.Now
	auth := NewAuthService(db, cfg, logger)
	auth.now = clock.Now
	settlement := NewSettlementService(db, locker, gw, points, cfg, logger)
	settlement.now = clock.Now
	cancel := NewCancelService(db, locker, points, cfg, logger)
	cancel.now = clock.Now

	f := &fixture{
		db:         db,
		cfg:        cfg,
		clock:      clock,
		mr:         mr,
		gateway:    gw,
		points:     points,
		orders:     orders,
		auth:       auth,
		settlement: settlement,
		cancel:     cancel,
		checkout:   NewCheckoutService(auth, settlement, logger),
	}
	f.seedMenus(t)
	return f
}

func (f *fixture) seedMenus(t *testing.T) {
	t.Helper()
	repo := repository.NewMenuRepository(f.db)
	for _, m := range []*model.Menu{
		{MenuID: 1, StoreID: 7, Name: "拿铁", Price: 5000, IsAvailable: true},
		{MenuID: 2, StoreID: 7, Name: "芝士蛋糕", Price: 5000, IsAvailable: true},
		{MenuID: 3, StoreID: 7, Name: "季节限定", Price: 8000, IsAvailable: false},
	} {
		require.NoError(t, repo.Create(context.Background(), m))
	}
}

// grantPoints 给用户发放积分作为初始余额
func (f *fixture) grantPoints(t *testing.T, userID, amount int64) {
	t.Helper()
	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.points.Credit(context.Background(), tx, userID, amount, "")
		return err
	})
	require.NoError(t, err)
}

// createOrder 下一个总额 15000 的订单
func (f *fixture) createOrder(t *testing.T, userID, pointUsed int64) *OrderSummary {
	t.Helper()
	summary, err := f.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID:  userID,
		StoreID: 7,
		Items: []OrderItemRequest{
			{MenuID: 1, Quantity: 2},
			{MenuID: 2, Quantity: 1},
		},
		PointUsed: pointUsed,
	})
	require.NoError(t, err)
	return summary
}

func (f *fixture) wallet(t *testing.T, userID int64) *model.Wallet {
	t.Helper()
	w, err := repository.NewWalletRepository(f.db).GetOrCreate(context.Background(), nil, userID)
	require.NoError(t, err)
	return w
}

func (f *fixture) order(t *testing.T, orderID string) *model.Order {
	t.Helper()
	o, err := repository.NewOrderRepository(f.db).GetByOrderID(context.Background(), nil, orderID)
	require.NoError(t, err)
	return o
}

func (f *fixture) payments(t *testing.T, orderID string) []*model.PaymentRecord {
	t.Helper()
	records, err := repository.NewPaymentRepository(f.db).ListByOrderID(context.Background(), orderID)
	require.NoError(t, err)
	return records
}

// requireLedgerConsistent 钱包余额必须等于流水合计
func (f *fixture) requireLedgerConsistent(t *testing.T, userID int64) {
	t.Helper()
	res, err := f.points.Reconcile(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, res.Consistent, "wallet=%d ledger=%d", res.WalletBalance, res.LedgerSum)
}
