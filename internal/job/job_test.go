package job

import (
	"context"
	"sync"
	"testing"
	"time"

	"pointpay/internal/config"
	"pointpay/internal/infrastructure/lock"
	"pointpay/internal/infrastructure/mq"
	"pointpay/internal/model"
	"pointpay/internal/repository"
	"pointpay/internal/service"
	"pointpay/internal/testutil"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{PayResult: "test.pay", OrderEvent: "test.order"},
		},
		Business: config.BusinessConfig{
			OrderTimeoutMinutes: 30,
			MaxRetryCount:       2,
			PointEarnRate:       0.01,
			PointExpiryDays:     365,
			RefundBusinessDays:  3,
			LockTTLSeconds:      30,
		},
		Job: config.JobConfig{BatchSize: 10},
	}
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (p *fakePublisher) SendMessage(topic, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, topic+"/"+key)
	return nil
}

func enqueue(t *testing.T, db *gorm.DB, key string) {
	t.Helper()
	err := repository.NewOutboxRepository(db).Enqueue(context.Background(), nil, "test.pay", model.EventPaymentCompleted, key, map[string]string{"order_id": key})
	require.NoError(t, err)
}

func outboxStatus(t *testing.T, db *gorm.DB) map[string]string {
	t.Helper()
	var msgs []*model.OutboxMessage
	require.NoError(t, db.Find(&msgs).Error)
	out := make(map[string]string, len(msgs))
	for _, m := range msgs {
		out[m.MessageKey] = m.Status
	}
	return out
}

func TestOutboxSender_SendsPending(t *testing.T) {
	db := testutil.NewDB(t)
	enqueue(t, db, "ORD-A")
	enqueue(t, db, "ORD-B")

	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndSucceed()
	sp.ExpectSendMessageAndSucceed()

	sender := NewOutboxSender(db, mq.NewProducer(sp), testConfig(), zap.NewNop())
	assert.Equal(t, 2, sender.RunOnce(context.Background()))
	assert.Equal(t, map[string]string{
		"ORD-A": model.OutboxStatusSent,
		"ORD-B": model.OutboxStatusSent,
	}, outboxStatus(t, db))

	// 已发送的消息不会再次投递
	assert.Equal(t, 0, sender.RunOnce(context.Background()))
	require.NoError(t, sp.Close())
}

func TestOutboxSender_FailsAfterMaxRetry(t *testing.T) {
	db := testutil.NewDB(t)
	enqueue(t, db, "ORD-A")

	pub := &fakePublisher{err: sarama.ErrOutOfBrokers}
	sender := NewOutboxSender(db, pub, testConfig(), zap.NewNop())

	assert.Equal(t, 0, sender.RunOnce(context.Background()))
	assert.Equal(t, model.OutboxStatusPending, outboxStatus(t, db)["ORD-A"])

	assert.Equal(t, 0, sender.RunOnce(context.Background()))
	assert.Equal(t, model.OutboxStatusFailed, outboxStatus(t, db)["ORD-A"])

	// FAILED 之后恢复也不会再投递
	pub.err = nil
	assert.Equal(t, 0, sender.RunOnce(context.Background()))
	assert.Empty(t, pub.sent)
}

func TestOutboxSender_StartStop(t *testing.T) {
	db := testutil.NewDB(t)
	enqueue(t, db, "ORD-A")

	cfg := testConfig()
	cfg.Job.OutboxIntervalMs = 5
	pub := &fakePublisher{}
	sender := NewOutboxSender(db, pub, cfg, zap.NewNop())

	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		return outboxStatus(t, db)["ORD-A"] == model.OutboxStatusSent
	}, time.Second, 5*time.Millisecond)

	sender.Stop()
	sender.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sender did not stop")
	}
}

func newCancelService(t *testing.T, db *gorm.DB, cfg *config.Config) (*service.CancelService, *service.PointService) {
	t.Helper()
	redisClient, _ := testutil.NewRedis(t)
	locker := lock.NewOrderLocker(redisClient, 30*time.Second)
	points := service.NewPointService(db, cfg, zap.NewNop())
	return service.NewCancelService(db, locker, points, cfg, zap.NewNop()), points
}

func createOrder(t *testing.T, db *gorm.DB, orderID string, createdAt time.Time) {
	t.Helper()
	order := &model.Order{
		OrderID:     orderID,
		UserID:      1,
		StoreID:     7,
		TotalAmount: 5000,
		FinalAmount: 5000,
		Status:      model.OrderStatusPending,
		CreatedAt:   createdAt,
	}
	require.NoError(t, repository.NewOrderRepository(db).Create(context.Background(), nil, order, []*model.OrderItem{
		{OrderID: orderID, MenuID: 1, Quantity: 1, UnitPrice: 5000, TotalPrice: 5000},
	}))
}

func TestPendingOrderExpiryJob(t *testing.T) {
	db := testutil.NewDB(t)
	cfg := testConfig()
	cancel, _ := newCancelService(t, db, cfg)

	now := time.Now().UTC()
	createOrder(t, db, "ORD-OLD", now.Add(-time.Hour))
	createOrder(t, db, "ORD-NEW", now.Add(-time.Minute))

	j := NewPendingOrderExpiryJob(cancel, cfg, zap.NewNop())
	assert.Equal(t, 1, j.RunOnce(context.Background()))

	repo := repository.NewOrderRepository(db)
	old, err := repo.GetByOrderID(context.Background(), nil, "ORD-OLD")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, old.Status)
	assert.NotEmpty(t, old.CancelReason)

	fresh, err := repo.GetByOrderID(context.Background(), nil, "ORD-NEW")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, fresh.Status)

	assert.Equal(t, 0, j.RunOnce(context.Background()))
}

func TestRefundSettleJob(t *testing.T) {
	db := testutil.NewDB(t)
	cfg := testConfig()
	cancel, _ := newCancelService(t, db, cfg)

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(72 * time.Hour)
	repo := repository.NewPaymentRepository(db)
	for id, due := range map[string]time.Time{"RFD-DUE": past, "RFD-LATER": future} {
		due := due
		require.NoError(t, repo.Create(context.Background(), nil, &model.PaymentRecord{
			PaymentID:     id,
			OrderID:       "ORD-" + id,
			UserID:        1,
			PaymentMethod: model.PaymentMethodCard,
			PaymentAmount: -5000,
			Status:        model.PaymentStatusPending,
			RefundOf:      "PAY-" + id,
			RefundDueAt:   &due,
		}))
	}

	j := NewRefundSettleJob(cancel, cfg, zap.NewNop())
	assert.Equal(t, 1, j.RunOnce(context.Background()))

	due, err := repo.GetByPaymentID(context.Background(), "RFD-DUE")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusRefunded, due.Status)

	later, err := repo.GetByPaymentID(context.Background(), "RFD-LATER")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, later.Status)

	var msgs []*model.OutboxMessage
	require.NoError(t, db.Where("event_type = ?", model.EventRefundCompleted).Find(&msgs).Error)
	require.Len(t, msgs, 1)
	assert.Equal(t, "test.order", msgs[0].Topic)
}

func TestPointExpiryJob(t *testing.T) {
	db := testutil.NewDB(t)
	cfg := testConfig()
	_, points := newCancelService(t, db, cfg)

	var earned *model.PointHistory
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		earned, err = points.Credit(context.Background(), tx, 1, 300, "PAY-1")
		return err
	}))
	require.NoError(t, db.Model(&model.PointHistory{}).
		Where("id = ?", earned.ID).
		Update("expired_at", time.Now().UTC().Add(-time.Minute)).Error)

	j := NewPointExpiryJob(points, cfg, zap.NewNop())
	assert.Equal(t, 1, j.RunOnce(context.Background()))
	assert.Equal(t, 0, j.RunOnce(context.Background()))

	wallet, err := points.GetWallet(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), wallet.PointBalance)

	res, err := points.Reconcile(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.Consistent)
}

func TestRunOnce_LogsErrors(t *testing.T) {
	db := testutil.NewDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	sender := NewOutboxSender(db, &fakePublisher{err: errors.New("unused")}, testConfig(), zap.NewNop())
	assert.Equal(t, 0, sender.RunOnce(context.Background()))
}
