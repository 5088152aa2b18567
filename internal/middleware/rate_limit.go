package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"atelier_back_end/internal/cache"
)

// KeyFunc choisit l'identité sur laquelle le quota est compté.
type KeyFunc func(c *gin.Context) string

// ByIP compte par adresse IP (webhook, routes publiques).
func ByIP(scope string) KeyFunc {
	return func(c *gin.Context) string {
		return fmt.Sprintf("%s:ip:%s", scope, c.ClientIP())
	}
}

// ByUser compte par utilisateur authentifié, avec repli sur l'IP.
func ByUser(scope string) KeyFunc {
	return func(c *gin.Context) string {
		if actor, ok := ActorFrom(c); ok {
			return fmt.Sprintf("%s:user:%s", scope, actor.UserID)
		}
		return fmt.Sprintf("%s:ip:%s", scope, c.ClientIP())
	}
}

// RateLimit limite le nombre de requêtes par fenêtre. Si Redis est injoignable la
// requête passe : le quota n'est pas une barrière de sécurité.
func RateLimit(limiter *cache.RateLimiter, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining, err := limiter.Allow(c.Request.Context(), key(c))
		if err != nil {
			zap.L().Warn("⚠️ Rate limit indisponible", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(limiter.Limit(), 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if !allowed {
			retry := int(limiter.Window().Seconds())
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Trop de requêtes, réessayez plus tard",
				"retry_after": retry,
			})
			return
		}
		c.Next()
	}
}
