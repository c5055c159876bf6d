package handler

import (
	"strconv"

	"pointpay/internal/service"
	"pointpay/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Services 处理器依赖的业务服务
type Services struct {
	Orders     *service.OrderService
	Settlement *service.SettlementService
	Checkout   *service.CheckoutService
	Cancel     *service.CancelService
	Points     *service.PointService
	Auth       *service.AuthService
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	orderService      *service.OrderService
	settlementService *service.SettlementService
	checkoutService   *service.CheckoutService
	cancelService     *service.CancelService
	pointService      *service.PointService
	authService       *service.AuthService
	logger            *zap.Logger
}

// NewHandler 创建处理器实例
func NewHandler(s Services, logger *zap.Logger) *Handler {
	return &Handler{
		orderService:      s.Orders,
		settlementService: s.Settlement,
		checkoutService:   s.Checkout,
		cancelService:     s.Cancel,
		pointService:      s.Points,
		authService:       s.Auth,
		logger:            logger,
	}
}

var kindCodes = map[service.Kind]int{
	service.KindNotFound:           response.CodeNotFound,
	service.KindInvalidRequest:     response.CodeParamError,
	service.KindInvalidState:       response.CodeOrderStatusInvalid,
	service.KindAmountMismatch:     response.CodeAmountMismatch,
	service.KindInsufficientPoints: response.CodePointNotEnough,
	service.KindGatewayError:       response.CodePaymentFailed,
	service.KindAuthFailure:        response.CodeAuthFailed,
	service.KindConflict:           response.CodeConflict,
	service.KindInternal:           response.CodeServerError,
}

// fail 把服务层错误映射为业务响应码
func (h *Handler) fail(c *gin.Context, err error) {
	h.failWithData(c, err, nil)
}

// failWithData 业务失败时附带部分结果（如认证剩余次数）
func (h *Handler) failWithData(c *gin.Context, err error, data interface{}) {
	code, ok := kindCodes[service.KindOf(err)]
	if !ok {
		code = response.CodeServerError
	}
	if code == response.CodeServerError {
		h.logger.Error("请求处理失败",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	if data != nil {
		response.ErrorWithData(c, code, service.MessageOf(err), data)
		return
	}
	response.Error(c, code, service.MessageOf(err))
}

func queryInt64(c *gin.Context, key string) (int64, bool) {
	v, err := strconv.ParseInt(c.Query(key), 10, 64)
	if err != nil {
		response.ParamError(c, key+" 参数错误")
		return 0, false
	}
	return v, true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

// ============================================================
// 订单相关接口
// ============================================================

// CreateOrder 创建订单
// POST /api/v1/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	summary, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, summary)
}

// GetOrder 查询订单详情（含明细和支付记录）
// GET /api/v1/orders/:order_id
func (h *Handler) GetOrder(c *gin.Context) {
	summary, err := h.orderService.GetOrderSummary(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, summary)
}

// ListOrders 查询用户订单列表
// GET /api/v1/orders?user_id=xxx&page=1&page_size=20
func (h *Handler) ListOrders(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	page, pageSize := pageParams(c)

	orders, total, err := h.orderService.ListUserOrders(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ListStoreOrders 查询门店订单列表
// GET /api/v1/stores/:store_id/orders
func (h *Handler) ListStoreOrders(c *gin.Context) {
	storeID, err := strconv.ParseInt(c.Param("store_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "store_id 参数错误")
		return
	}
	page, pageSize := pageParams(c)

	orders, total, err := h.orderService.ListStoreOrders(c.Request.Context(), storeID, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// CancelOrder 取消订单
// POST /api/v1/orders/:order_id/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ParamError(c, "参数错误: "+err.Error())
			return
		}
	}

	result, err := h.cancelService.CancelOrder(c.Request.Context(), c.Param("order_id"), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, result)
}

// ============================================================
// 支付相关接口
// ============================================================

// ProcessPayment 结算订单
// POST /api/v1/payments
func (h *Handler) ProcessPayment(c *gin.Context) {
	var req service.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.settlementService.ProcessPayment(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, result)
}

// AuthenticateAndPay 认证后支付
// POST /api/v1/payments/authenticated
//
// 认证失败或支付失败时同样返回完整的 CheckoutResult，便于客户端展示剩余次数等信息
func (h *Handler) AuthenticateAndPay(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.checkoutService.AuthenticateAndPay(c.Request.Context(), &req.Auth, &req.Payment)
	if err != nil {
		h.fail(c, err)
		return
	}

	switch {
	case !result.AuthSuccess:
		h.failWithData(c, service.AuthError(result.AuthResult), result)
	case !result.PaymentSuccess:
		response.ErrorWithData(c, response.CodePaymentFailed, result.FailureReason, result)
	default:
		response.Success(c, result)
	}
}

// ListPayments 查询用户支付记录
// GET /api/v1/payments?user_id=xxx
func (h *Handler) ListPayments(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	page, pageSize := pageParams(c)

	records, total, err := h.settlementService.GetPaymentHistory(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetPayment 查询支付或退款记录
// GET /api/v1/payments/:payment_id
func (h *Handler) GetPayment(c *gin.Context) {
	record, err := h.settlementService.GetPayment(c.Request.Context(), c.Param("payment_id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, record)
}

// ============================================================
// 积分相关接口
// ============================================================

// GetWallet 查询积分钱包
// GET /api/v1/points/wallet?user_id=xxx
func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	wallet, err := h.pointService.GetWallet(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, wallet)
}

// GetPointHistory 查询积分流水
// GET /api/v1/points/history?user_id=xxx&type=EARN
func (h *Handler) GetPointHistory(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	page, pageSize := pageParams(c)

	entries, total, err := h.pointService.GetPointHistory(c.Request.Context(), userID, c.Query("type"), page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ReconcileWallet 核对钱包余额与流水合计
// GET /api/v1/points/reconcile?user_id=xxx
func (h *Handler) ReconcileWallet(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	result, err := h.pointService.Reconcile(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, result)
}

// ============================================================
// 认证相关接口
// ============================================================

// SaveAuthSettings 保存认证设置
// PUT /api/v1/auth/settings
func (h *Handler) SaveAuthSettings(c *gin.Context) {
	var req service.SaveAuthSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	settings, err := h.authService.SaveSettings(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, settings)
}

// GetAuthSettings 查询认证设置
// GET /api/v1/auth/settings?user_id=xxx
func (h *Handler) GetAuthSettings(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	settings, err := h.authService.GetSettings(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, settings)
}

// VerifyAuth 单独校验一次认证
// POST /api/v1/auth/verify
func (h *Handler) VerifyAuth(c *gin.Context) {
	var req service.AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.authService.Authenticate(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	if err := service.AuthError(result); err != nil {
		h.failWithData(c, err, result)
		return
	}
	response.Success(c, result)
}

// RequiresAuth 查询该金额是否需要二次认证
// GET /api/v1/auth/required?user_id=xxx&amount=xxx
func (h *Handler) RequiresAuth(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	amount, ok := queryInt64(c, "amount")
	if !ok {
		return
	}

	required, err := h.authService.RequiresAuth(c.Request.Context(), userID, amount)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":       userID,
		"amount":        amount,
		"auth_required": required,
	})
}

// ListAuthAttempts 查询认证记录
// GET /api/v1/auth/attempts?user_id=xxx&limit=20
func (h *Handler) ListAuthAttempts(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	attempts, err := h.authService.ListAttempts(c.Request.Context(), userID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, attempts)
}
