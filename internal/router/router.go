// Package router wires the gin engine: CORS, auth, and route registration.
package router

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"wallet-backend/internal/config"
	"wallet-backend/internal/handlers"
	"wallet-backend/internal/middleware"
	"wallet-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// corsMiddleware CORS policy.
// Priority: environment variable > YAML config > default (*)
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowedOrigins := []string{"*"}
		allowCredentials := true
		maxAge := 3600

		if envOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); envOrigins != "" {
			parts := strings.Split(envOrigins, ",")
			allowedOrigins = allowedOrigins[:0]
			for _, part := range parts {
				if trimmed := strings.TrimSpace(part); trimmed != "" {
					allowedOrigins = append(allowedOrigins, trimmed)
				}
			}
		} else if config.AppConfig != nil && len(config.AppConfig.CORS.AllowedOrigins) > 0 {
			allowedOrigins = config.AppConfig.CORS.AllowedOrigins
			allowCredentials = config.AppConfig.CORS.AllowCredentials
			if config.AppConfig.CORS.MaxAge > 0 {
				maxAge = config.AppConfig.CORS.MaxAge
			}
		}

		if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, allowed := range allowedOrigins {
				if strings.TrimSpace(allowed) == origin {
					c.Header("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept")
			if allowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
			c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Deps everything the router needs, constructed in the app container
type Deps struct {
	Logger   *logrus.Logger
	Payments *handlers.PaymentHandler
	Splits   *handlers.SplitHandler
	Push     *services.WebSocketPushService
}

// New builds the gin engine with all routes registered
func New(deps Deps) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.NewAuthMiddleware(deps.Logger)

	// websocket push (JWT in query param, browsers cannot set headers on upgrade)
	engine.GET("/ws", func(c *gin.Context) {
		if deps.Push == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "push service unavailable"})
			return
		}
		token := c.Query("token")
		claims, err := middleware.ValidateJWTToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}
		deps.Push.HandleConnection(c.Writer, c.Request, claims.UserID)
	})

	api := engine.Group("/api/v1")
	api.Use(auth.RequireAuth())
	{
		payments := api.Group("/payments")
		{
			payments.POST("", deps.Payments.Create)
			payments.GET("", deps.Payments.List)
			payments.GET("/:id", deps.Payments.Get)
			payments.POST("/:id/check", deps.Payments.Check)
			payments.POST("/:id/cancel", deps.Payments.Cancel)
			payments.POST("/monitor-all", deps.Payments.MonitorAll)
		}
		api.GET("/ledger", deps.Payments.Ledger)

		splits := api.Group("/splits")
		{
			splits.POST("", deps.Splits.Create)
			splits.GET("", deps.Splits.List)
			splits.GET("/:id", deps.Splits.Get)
			splits.POST("/:id/execute", deps.Splits.Execute)
			splits.POST("/:id/toggle", deps.Splits.Toggle)
			splits.POST("/:id/recipients/:recipientId/toggle", deps.Splits.ToggleRecipient)
			splits.GET("/:id/executions", deps.Splits.Executions)
		}
	}
	return engine
}
