// Package gateway 模拟外部支付网关
//
// 真实环境里这里对接卡组织/银行/移动支付，结算引擎只依赖 Capturer 接口。
package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"pointpay/internal/config"
	"pointpay/internal/model"

	"github.com/go-faster/errors"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

var (
	ErrCaptureFailed  = errors.New("支付网关拒绝扣款")
	ErrCaptureTimeout = errors.New("支付网关超时")
)

type CaptureRequest struct {
	PaymentID     string
	OrderID       string
	UserID        int64
	PaymentMethod string
	Amount        int64
}

type CaptureResult struct {
	TransactionID string
	CapturedAt    time.Time
}

// Capturer 外部扣款
type Capturer interface {
	Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error)
}

// Simulator 按配置的延迟和失败率模拟网关
type Simulator struct {
	failureRate float64
	latency     time.Duration
	timeout     time.Duration
	logger      *zap.Logger

	mu   sync.Mutex
	rand *rand.Rand
}

func NewSimulator(cfg *config.GatewayConfig, logger *zap.Logger) *Simulator {
	return &Simulator{
		failureRate: cfg.FailureRate,
		latency:     time.Duration(cfg.LatencyMs) * time.Millisecond,
		timeout:     time.Duration(cfg.TimeoutMs) * time.Millisecond,
		logger:      logger,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Capture 纯积分支付不经过外部网关，直接生成内部流水号
func (s *Simulator) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	if req.PaymentMethod == model.PaymentMethodPoint {
		return &CaptureResult{
			TransactionID: "POINT_" + ulid.Make().String(),
			CapturedAt:    time.Now().UTC(),
		}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			s.logger.Warn("支付网关超时",
				zap.String("payment_id", req.PaymentID),
				zap.String("order_id", req.OrderID),
			)
			return nil, errors.Wrap(ErrCaptureTimeout, ctx.Err().Error())
		}
	}

	if s.shouldFail() {
		s.logger.Info("支付网关拒绝",
			zap.String("payment_id", req.PaymentID),
			zap.String("method", req.PaymentMethod),
			zap.Int64("amount", req.Amount),
		)
		return nil, ErrCaptureFailed
	}

	return &CaptureResult{
		TransactionID: fmt.Sprintf("EXT_%s_%s", req.PaymentMethod, ulid.Make().String()),
		CapturedAt:    time.Now().UTC(),
	}, nil
}

func (s *Simulator) shouldFail() bool {
	if s.failureRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64() < s.failureRate
}
