// Package chat porte la messagerie client/atelier rattachée à une commande.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"atelier_back_end/internal/apperr"
	"atelier_back_end/internal/chatgate"
	"atelier_back_end/internal/models"
)

const (
	MaxMessageLength = 2000
	DefaultHistory   = 200
)

type Store interface {
	Create(ctx context.Context, m models.ChatMessage) error
	ListByOrder(ctx context.Context, orderID string, limit int) ([]models.ChatMessage, error)
}

// OrderReader renvoie une commande visible par l'acteur (propriétaire ou admin).
type OrderReader interface {
	Get(ctx context.Context, actor models.Actor, id string) (*models.Order, error)
}

type Notifier interface {
	Enqueue(ctx context.Context, n models.Notification) error
}

type Service struct {
	store    Store
	orders   OrderReader
	notifier Notifier
	now      func() time.Time
}

func NewService(store Store, orders OrderReader, notifier Notifier) *Service {
	return &Service{store: store, orders: orders, notifier: notifier, now: time.Now}
}

// Post ajoute un message si le statut de la commande ouvre le chat.
func (s *Service) Post(ctx context.Context, actor models.Actor, orderID, content string) (*models.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Invalid("content", "message vide")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, apperr.Invalid("content", fmt.Sprintf("%d caractères maximum", MaxMessageLength))
	}

	o, err := s.orders.Get(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	// Le statut fait foi, pas le champ chatEnabled mis en cache.
	if !chatgate.Enabled(o.Status) {
		return nil, fmt.Errorf("%w: commande en %s", apperr.ErrChatClosed, o.Status)
	}

	m := models.ChatMessage{
		ID:         uuid.NewString(),
		OrderID:    o.ID,
		AuthorID:   actor.UserID,
		AuthorRole: actor.Role,
		Content:    content,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.Create(ctx, m); err != nil {
		return nil, err
	}

	s.notify(ctx, actor, o)
	return &m, nil
}

// History est lisible à tout moment, chat ouvert ou non.
func (s *Service) History(ctx context.Context, actor models.Actor, orderID string, limit int) ([]models.ChatMessage, error) {
	if _, err := s.orders.Get(ctx, actor, orderID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > DefaultHistory {
		limit = DefaultHistory
	}
	return s.store.ListByOrder(ctx, orderID, limit)
}

func (s *Service) notify(ctx context.Context, actor models.Actor, o *models.Order) {
	if s.notifier == nil {
		return
	}
	recipient, email := models.AdminChannel, ""
	if actor.Role != models.RoleCustomer {
		recipient, email = o.OwnerUserID, o.OwnerEmail
	}
	err := s.notifier.Enqueue(ctx, models.Notification{
		RecipientUserID:   recipient,
		RecipientEmail:    email,
		Type:              models.NotificationOrderStatusChanged,
		Title:             "Nouveau message",
		Message:           "Un nouveau message a été posté sur la commande #" + shortID(o.ID) + ".",
		Priority:          models.PriorityLow,
		RelatedEntityID:   o.ID,
		RelatedEntityKind: "order",
		RedirectHint:      "/orders/" + o.ID + "/chat",
	})
	if err != nil {
		zap.L().Warn("⚠️ notification de message non mise en file", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
