// Package middleware holds gin middleware: JWT auth and CORS.
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"wallet-backend/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// Claims the JWT payload this backend issues/accepts
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// ValidateJWTToken parses and verifies a token against the configured secret
func ValidateJWTToken(tokenString string) (*Claims, error) {
	if config.AppConfig == nil || config.AppConfig.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT secret not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.AppConfig.JWT.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token missing user_id")
	}
	return claims, nil
}

// AuthMiddleware JWT auth middleware
type AuthMiddleware struct {
	logger *logrus.Logger
}

// NewAuthMiddleware creates the JWT auth middleware
func NewAuthMiddleware(logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{logger: logger}
}

// RequireAuth rejects requests without a valid bearer token and stores the
// authenticated user id on the context
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Warn("Auth failed - missing Authorization header")
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Authentication required",
				"code":    "MISSING_AUTH_HEADER",
			})
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Warn("Auth failed - malformed Authorization header")
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Authorization header must be in format: Bearer <token>",
				"code":    "INVALID_AUTH_FORMAT",
			})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := ValidateJWTToken(tokenString)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"error":  err.Error(),
			}).Warn("Auth failed - token validation")
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid or expired token",
				"code":    "INVALID_TOKEN",
			})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		a.logger.WithFields(logrus.Fields{
			"path":    c.Request.URL.Path,
			"method":  c.Request.Method,
			"user_id": claims.UserID,
		}).Debug("Auth ok")
		c.Next()
	}
}

// UserID returns the authenticated user id set by RequireAuth
func UserID(c *gin.Context) string {
	return c.GetString("user_id")
}
