package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"atelier_back_end/internal/models"
	"atelier_back_end/internal/utils"
)

// Auditor est satisfait par *utils.AsyncAuditor.
type Auditor interface {
	Record(ctx context.Context, e models.AuditLog)
}

// AuditDenied trace les requêtes refusées (401/403) après traitement.
func AuditDenied(auditor Auditor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status != http.StatusUnauthorized && status != http.StatusForbidden {
			return
		}

		resourceID := c.Param("id")
		if resourceID == "" {
			resourceID = c.FullPath()
		}
		e := models.AuditLog{
			Action:     utils.ActionRequestDenied,
			Resource:   utils.ResourceAuth,
			ResourceID: resourceID,
			Success:    false,
			ErrorMsg:   http.StatusText(status),
		}
		if actor, ok := ActorFrom(c); ok {
			e.UserID = actor.UserID
			e.UserRole = actor.Role
		}
		auditor.Record(c.Request.Context(), utils.RequestAudit(c, e))
	}
}
