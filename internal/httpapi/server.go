package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const serviceName = "booking-payments"

// NewRouter assembles the gin engine. Callback endpoints sit outside the
// auth middleware: gateways authenticate with signatures, not tokens.
func NewRouter(h *Handler, logger *zap.Logger, jwtSecret string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Tracing first so downstream middleware sees the extracted context.
	r.Use(otelgin.Middleware(serviceName))
	r.Use(LoggerMiddleware(logger))
	r.Use(MetricsMiddleware())

	r.GET("/health", h.Health)
	r.GET("/metrics", PrometheusHandler())

	api := r.Group("/api/v1")

	api.GET("/callbacks/:provider", h.Callback)
	api.POST("/callbacks/:provider", h.Callback)

	authed := api.Group("", AuthMiddleware(jwtSecret))
	authed.POST("/payments", h.CreatePayment)
	authed.GET("/orders/:orderId/payments", h.ListOrderPayments)
	authed.POST("/payments/:id/refund", h.Refund)
	authed.PATCH("/payments/:id", h.OverrideStatus)
	authed.DELETE("/payments/:id", h.Delete)
	authed.GET("/admin/settlement-report", h.SettlementReport)

	return r
}
