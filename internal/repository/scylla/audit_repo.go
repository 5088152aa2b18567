package scylla

import (
	"context"

	"github.com/gocql/gocql"

	"atelier_back_end/internal/models"
)

type AuditRepository struct {
	session *gocql.Session
}

func NewAuditRepository(session *gocql.Session) *AuditRepository {
	return &AuditRepository{session: session}
}

func (r *AuditRepository) Insert(ctx context.Context, e models.AuditLog) error {
	return r.session.Query(`INSERT INTO audit_logs (resource, resource_id, id, user_id, user_role, action,
		old_value, new_value, ip_address, user_agent, success, error_msg, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Resource, e.ResourceID, gocql.TimeUUID(), e.UserID, string(e.UserRole), e.Action,
		e.OldValue, e.NewValue, e.IPAddress, e.UserAgent, e.Success, e.ErrorMsg, e.Timestamp,
	).WithContext(ctx).Exec()
}
