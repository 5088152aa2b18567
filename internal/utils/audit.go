package utils

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"atelier_back_end/internal/models"
)

// Actions d'audit hors transitions (celles-ci sont tracées en "order.<commande>").
const (
	ActionCallbackRejected = "payment.callback_rejected"
	ActionCallbackIgnored  = "payment.callback_ignored"
	ActionAdminNotify      = "notification.admin_send"
	ActionRequestDenied    = "auth.request_denied"
)

const (
	ResourceOrder        = "order"
	ResourceNotification = "notification"
	ResourceAuth         = "auth"
)

// AuditSink est le stockage durable des entrées d'audit.
type AuditSink interface {
	Insert(ctx context.Context, e models.AuditLog) error
}

// AsyncAuditor écrit les entrées en arrière-plan : l'audit ne bloque ni ne fait
// échouer la commande tracée.
type AsyncAuditor struct {
	sink    AuditSink
	timeout time.Duration
}

func NewAsyncAuditor(sink AuditSink) *AsyncAuditor {
	return &AsyncAuditor{sink: sink, timeout: 5 * time.Second}
}

func (a *AsyncAuditor) Record(_ context.Context, e models.AuditLog) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.sink.Insert(ctx, e); err != nil {
			zap.L().Error("❌ Erreur enregistrement log audit",
				zap.String("action", e.Action),
				zap.String("resource_id", e.ResourceID),
				zap.Error(err))
		}
	}()
}

// LogSink trace l'audit dans les logs quand ScyllaDB n'est pas configuré.
type LogSink struct{}

func (LogSink) Insert(_ context.Context, e models.AuditLog) error {
	zap.L().Info("📝 audit",
		zap.String("action", e.Action),
		zap.String("user_id", e.UserID),
		zap.String("resource", e.Resource),
		zap.String("resource_id", e.ResourceID),
		zap.String("old", e.OldValue),
		zap.String("new", e.NewValue),
		zap.Bool("success", e.Success),
		zap.String("error", e.ErrorMsg))
	return nil
}

// RequestAudit complète une entrée avec les informations de la requête HTTP.
func RequestAudit(c *gin.Context, e models.AuditLog) models.AuditLog {
	e.IPAddress = c.ClientIP()
	e.UserAgent = c.GetHeader("User-Agent")
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}
