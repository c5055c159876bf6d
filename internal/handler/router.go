package handler

import (
	"pointpay/internal/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()

	// 注册中间件
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 订单相关
		orders := api.Group("/orders")
		{
			orders.POST("", h.CreateOrder)
			orders.GET("", h.ListOrders)
			orders.GET("/:order_id", h.GetOrder)
			orders.POST("/:order_id/cancel", h.CancelOrder)
		}

		api.GET("/stores/:store_id/orders", h.ListStoreOrders)

		// 支付相关
		payments := api.Group("/payments")
		{
			payments.POST("", h.ProcessPayment)
			payments.POST("/authenticated", h.AuthenticateAndPay)
			payments.GET("", h.ListPayments)
			payments.GET("/:payment_id", h.GetPayment)
		}

		// 积分相关
		points := api.Group("/points")
		{
			points.GET("/wallet", h.GetWallet)
			points.GET("/history", h.GetPointHistory)
			points.GET("/reconcile", h.ReconcileWallet)
		}

		// 认证相关
		auth := api.Group("/auth")
		{
			auth.PUT("/settings", h.SaveAuthSettings)
			auth.GET("/settings", h.GetAuthSettings)
			auth.POST("/verify", h.VerifyAuth)
			auth.GET("/required", h.RequiresAuth)
			auth.GET("/attempts", h.ListAuthAttempts)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
