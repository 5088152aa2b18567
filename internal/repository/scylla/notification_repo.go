package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"atelier_back_end/internal/apperr"
	"atelier_back_end/internal/models"
)

type NotificationRepository struct {
	session *gocql.Session
}

func NewNotificationRepository(session *gocql.Session) *NotificationRepository {
	return &NotificationRepository{session: session}
}

func (r *NotificationRepository) Create(ctx context.Context, n models.Notification) (bool, error) {
	applied, err := r.session.Query(`INSERT INTO notifications (recipient_user_id, created_at, notification_id, type, title,
		message, priority, related_entity_id, related_entity_kind, redirect_hint, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		n.RecipientUserID, n.CreatedAt, n.ID, string(n.Type), n.Title,
		n.Message, string(n.Priority), n.RelatedEntityID, n.RelatedEntityKind, n.RedirectHint, false,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}
	err = r.session.Query(`INSERT INTO notifications_by_id (notification_id, recipient_user_id, created_at) VALUES (?, ?, ?)`,
		n.ID, n.RecipientUserID, n.CreatedAt).WithContext(ctx).Exec()
	return true, err
}

func (r *NotificationRepository) List(ctx context.Context, userID string, offset, limit int) ([]models.Notification, error) {
	iter := r.session.Query(`SELECT notification_id, created_at, type, title, message, priority,
		related_entity_id, related_entity_kind, redirect_hint, is_read
		FROM notifications WHERE recipient_user_id = ? LIMIT ?`, userID, offset+limit).WithContext(ctx).Iter()

	out := make([]models.Notification, 0, limit)
	var (
		n       models.Notification
		typ     string
		prio    string
		skipped int
	)
	for iter.Scan(&n.ID, &n.CreatedAt, &typ, &n.Title, &n.Message, &prio,
		&n.RelatedEntityID, &n.RelatedEntityKind, &n.RedirectHint, &n.IsRead) {
		if skipped < offset {
			skipped++
			continue
		}
		n.RecipientUserID = userID
		n.Type = models.NotificationType(typ)
		n.Priority = models.Priority(prio)
		out = append(out, n)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *NotificationRepository) locate(ctx context.Context, userID, id string) (time.Time, error) {
	var recipient string
	var createdAt time.Time
	err := r.session.Query(`SELECT recipient_user_id, created_at FROM notifications_by_id WHERE notification_id = ?`, id).
		WithContext(ctx).Scan(&recipient, &createdAt)
	if err == gocql.ErrNotFound || (err == nil && recipient != userID) {
		return time.Time{}, apperr.NotFound("notification", id)
	}
	return createdAt, err
}

func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	createdAt, err := r.locate(ctx, userID, id)
	if err != nil {
		return false, err
	}
	return r.session.Query(`UPDATE notifications SET is_read = true
		WHERE recipient_user_id = ? AND created_at = ? AND notification_id = ? IF is_read = false`,
		userID, createdAt, id).WithContext(ctx).MapScanCAS(map[string]interface{}{})
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int, error) {
	type key struct {
		createdAt time.Time
		id        string
	}
	var unread []key
	var k key
	var isRead bool
	iter := r.session.Query(`SELECT created_at, notification_id, is_read FROM notifications WHERE recipient_user_id = ?`, userID).
		WithContext(ctx).Iter()
	for iter.Scan(&k.createdAt, &k.id, &isRead) {
		if !isRead {
			unread = append(unread, k)
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}

	for i, k := range unread {
		if err := r.session.Query(`UPDATE notifications SET is_read = true
			WHERE recipient_user_id = ? AND created_at = ? AND notification_id = ?`,
			userID, k.createdAt, k.id).WithContext(ctx).Exec(); err != nil {
			return i, fmt.Errorf("marquage lu %s: %w", k.id, err)
		}
	}
	return len(unread), nil
}

func (r *NotificationRepository) Delete(ctx context.Context, userID, id string) (bool, error) {
	createdAt, err := r.locate(ctx, userID, id)
	if err != nil {
		return false, err
	}
	var isRead bool
	err = r.session.Query(`SELECT is_read FROM notifications WHERE recipient_user_id = ? AND created_at = ? AND notification_id = ?`,
		userID, createdAt, id).WithContext(ctx).Scan(&isRead)
	if err == gocql.ErrNotFound {
		return false, apperr.NotFound("notification", id)
	}
	if err != nil {
		return false, err
	}

	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`DELETE FROM notifications WHERE recipient_user_id = ? AND created_at = ? AND notification_id = ?`, userID, createdAt, id)
	batch.Query(`DELETE FROM notifications_by_id WHERE notification_id = ?`, id)
	if err := r.session.ExecuteBatch(batch); err != nil {
		return false, err
	}
	return !isRead, nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	iter := r.session.Query(`SELECT is_read FROM notifications WHERE recipient_user_id = ?`, userID).WithContext(ctx).Iter()
	var count int64
	var isRead bool
	for iter.Scan(&isRead) {
		if !isRead {
			count++
		}
	}
	return count, iter.Close()
}
