package service

import (
	"context"

	"pointpay/internal/model"

	"go.uber.org/zap"
)

// CheckoutService 认证 + 支付的组合操作
// 认证成功后支付失败不会回滚认证产生的状态（如解锁），也不会重新认证
type CheckoutService struct {
	auth       *AuthService
	settlement *SettlementService
	logger     *zap.Logger
}

func NewCheckoutService(auth *AuthService, settlement *SettlementService, logger *zap.Logger) *CheckoutService {
	return &CheckoutService{
		auth:       auth,
		settlement: settlement,
		logger:     logger,
	}
}

type CheckoutRequest struct {
	Auth    AuthRequest    `json:"auth"`
	Payment PaymentRequest `json:"payment"`
}

type CheckoutResult struct {
	AuthSuccess    bool           `json:"auth_success"`
	PaymentSuccess bool           `json:"payment_success"`
	AuthResult     *AuthResult    `json:"auth_result"`
	PaymentResult  *PaymentResult `json:"payment_result,omitempty"`
	FailureReason  string         `json:"failure_reason,omitempty"`
}

var authFailureMessages = map[string]string{
	model.AuthFailWrongPIN:            "PIN 码错误",
	model.AuthFailWrongPattern:        "图案密码错误",
	model.AuthFailBiometricNotEnabled: "未开启生物识别认证",
	model.AuthFailAccountLocked:       "认证失败次数过多，账户已锁定",
	model.AuthFailInvalidAuthType:     "不支持的认证方式",
}

// AuthFailureMessage 认证失败原因的可读描述
func AuthFailureMessage(reason string) string {
	if msg, ok := authFailureMessages[reason]; ok {
		return msg
	}
	return "认证失败"
}

// AuthError 认证失败时返回 AuthFailure 错误，认证成功返回 nil
func AuthError(r *AuthResult) error {
	if r == nil || r.Success {
		return nil
	}
	return &Error{Kind: KindAuthFailure, Message: AuthFailureMessage(r.FailureReason)}
}

// AuthenticateAndPay 先认证，认证通过后结算
//
// 业务失败（认证失败、支付失败）体现在 CheckoutResult 中，error 只用于请求本身不合法或系统错误。
func (s *CheckoutService) AuthenticateAndPay(ctx context.Context, authReq *AuthRequest, payReq *PaymentRequest) (*CheckoutResult, error) {
	if authReq.UserID != payReq.UserID {
		return nil, newError(KindInvalidRequest, "认证用户与支付用户不一致")
	}

	authResult, err := s.auth.Authenticate(ctx, authReq)
	if err != nil {
		return nil, err
	}

	if !authResult.Success {
		return &CheckoutResult{
			AuthResult:    authResult,
			FailureReason: AuthFailureMessage(authResult.FailureReason),
		}, nil
	}

	payResult, err := s.settlement.ProcessPayment(ctx, payReq)
	if err != nil {
		s.logger.Info("认证通过但支付失败",
			zap.String("order_id", payReq.OrderID),
			zap.Int64("user_id", payReq.UserID),
			zap.Error(err),
		)
		return &CheckoutResult{
			AuthSuccess:   true,
			AuthResult:    authResult,
			FailureReason: "支付失败: " + MessageOf(err),
		}, nil
	}

	return &CheckoutResult{
		AuthSuccess:    true,
		PaymentSuccess: true,
		AuthResult:     authResult,
		PaymentResult:  payResult,
	}, nil
}
