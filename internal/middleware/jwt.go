package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"atelier_back_end/internal/models"
	"atelier_back_end/internal/utils"
)

const actorKey = "actor"

// AuthRequired valide le JWT Bearer et place l'acteur dans le contexte Gin.
func AuthRequired(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			// Les navigateurs ne peuvent pas poser d'en-tête sur un WebSocket
			if t := c.Query("token"); t != "" && c.IsWebsocket() {
				authHeader = "Bearer " + t
			}
		}
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token manquant"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			zap.L().Debug("❌ Format Authorization invalide", zap.Int("parts", len(parts)))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Format Authorization invalide"})
			return
		}

		claims := &utils.Claims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("méthode de signature inattendue: %v", token.Header["alg"])
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			zap.L().Debug("❌ Erreur parsing JWT", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token invalide"})
			return
		}

		userID := claims.UserID
		if userID == "" {
			userID = claims.Subject
		}
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id manquant"})
			return
		}
		if userID == models.AdminChannel {
			// Identifiant réservé à la boîte partagée des administrateurs
			zap.L().Warn("🚫 JWT avec identifiant réservé", zap.String("user_id", userID))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id réservé"})
			return
		}

		role := claims.Role
		switch role {
		case models.RoleAdmin, models.RoleCustomer:
		case "":
			role = models.RoleCustomer
		default:
			// Le rôle système est réservé aux callbacks signés de la passerelle
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Rôle invalide"})
			return
		}

		c.Set(actorKey, models.Actor{UserID: userID, Email: claims.Email, Role: role})
		c.Next()
	}
}

// ActorFrom retourne l'acteur posé par AuthRequired.
func ActorFrom(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}
