// Package handlers contains the HTTP handlers and routing.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/fitstack/subscription-payments/internal/pkg/metrics"
)

// RouterOptions configures SetupRouter.
type RouterOptions struct {
	GinMode       string
	ServiceAPIKey string
	Metrics       *metrics.Metrics
}

// SetupRouter configures the Gin router with all routes.
func SetupRouter(handler *PaymentHandler, opts RouterOptions) *gin.Engine {
	if opts.GinMode != "" {
		gin.SetMode(opts.GinMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware())
	router.Use(RequestIDMiddleware())
	router.Use(MetricsMiddleware(opts.Metrics))

	// Health check and metrics (public)
	router.GET("/health", handler.Health)
	router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))

	payment := router.Group("/payment")
	{
		// Called by the backend (requires Bearer auth)
		payment.POST("/create", ServiceAuthMiddleware(opts.ServiceAPIKey), handler.CreatePayment)
		payment.GET("/invoice/:order_id", ServiceAuthMiddleware(opts.ServiceAPIKey), handler.GetInvoice)
		payment.POST("/test", ServiceAuthMiddleware(opts.ServiceAPIKey), handler.TestPayment)

		// Called by the gateway and the browser (authenticated by CheckMacValue)
		payment.POST("/callback", handler.HandleCallback)
		payment.POST("/result-redirect", handler.ResultRedirect)
		payment.GET("/return", handler.Return)
	}

	return router
}
