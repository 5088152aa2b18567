package models

import "time"

type NotificationType string

const (
	NotificationOrderStatusChanged NotificationType = "order-status-changed"
	NotificationPaymentVerified    NotificationType = "payment-verified"
	NotificationPaymentRejected    NotificationType = "payment-rejected"
	NotificationAccessRequest      NotificationType = "access-request"
	NotificationAdminAction        NotificationType = "admin-action"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationOrderStatusChanged, NotificationPaymentVerified, NotificationPaymentRejected,
		NotificationAccessRequest, NotificationAdminAction:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// AdminChannel est le destinataire des notifications issues d'actions client.
const AdminChannel = "admins"

type Notification struct {
	ID                string           `json:"id"`
	RecipientUserID   string           `json:"recipient_user_id"`
	RecipientEmail    string           `json:"-"`
	Type              NotificationType `json:"type"`
	Title             string           `json:"title"`
	Message           string           `json:"message"`
	Priority          Priority         `json:"priority"`
	RelatedEntityID   string           `json:"related_entity_id,omitempty"`
	RelatedEntityKind string           `json:"related_entity_kind,omitempty"`
	RedirectHint      string           `json:"redirect_hint,omitempty"`
	IsRead            bool             `json:"is_read"`
	CreatedAt         time.Time        `json:"created_at"`
}
