package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"atelier_back_end/internal/cache"
	"atelier_back_end/internal/handlers"
	"atelier_back_end/internal/middleware"
)

type Options struct {
	JWTSecret   string
	CORSOrigins []string
	// Limiter à nil désactive le rate limiting.
	Limiter *cache.RateLimiter
	Auditor middleware.Auditor
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Stripe-Signature"},
		ExposeHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// RegisterRoutes monte l'API sur le moteur gin.
func RegisterRoutes(r *gin.Engine, h *handlers.Handler, opts Options) {
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))
	if opts.Auditor != nil {
		r.Use(middleware.AuditDenied(opts.Auditor))
	}

	limit := func(key middleware.KeyFunc) gin.HandlerFunc {
		if opts.Limiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimit(opts.Limiter, key)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	// Callback passerelle : authentifié par signature, pas par JWT
	api.POST("/payments/webhook", limit(middleware.ByIP("webhook")), h.PaymentWebhook)

	auth := api.Group("")
	auth.Use(middleware.AuthRequired(opts.JWTSecret))

	ord := auth.Group("/orders")
	ord.Use(limit(middleware.ByUser("orders")))
	{
		ord.POST("", h.CreateOrder)
		ord.GET("", h.ListMyOrders)
		ord.GET("/:id", h.GetOrder)
		ord.POST("/:id/cancel", h.CancelOrder)

		ord.POST("/:id/payment-intent", h.CreatePaymentIntent)
		ord.POST("/:id/payment-proof/upload-url", h.PresignProofUpload)
		ord.POST("/:id/payment-proof", h.SubmitPaymentProof)
		ord.GET("/:id/transfer", h.TransferInstructions)

		ord.GET("/:id/messages", h.ChatHistory)
		ord.POST("/:id/messages", h.PostChatMessage)
	}

	notif := auth.Group("/notifications")
	{
		notif.GET("", h.ListNotifications)
		notif.GET("/unread-count", h.UnreadCount)
		notif.PATCH("/read-all", h.MarkAllNotificationsRead)
		notif.PATCH("/:id/read", h.MarkNotificationRead)
		notif.DELETE("/:id", h.DeleteNotification)
		notif.GET("/ws", h.NotificationStream)
	}

	admin := auth.Group("/admin")
	admin.Use(middleware.RequireAdmin)
	{
		admin.GET("/orders", h.ListOrders)
		admin.POST("/orders/:id/:command", limit(middleware.ByUser("admin")), h.AdminTransition)
		admin.POST("/notifications", h.SendAdminNotification)
	}
}
