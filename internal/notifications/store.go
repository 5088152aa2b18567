package notifications

import (
	"context"

	"atelier_back_end/internal/models"
)

// Store persiste les notifications. Create est idempotent sur l'id : une
// redistribution de la file ne crée pas de doublon.
type Store interface {
	Create(ctx context.Context, n models.Notification) (created bool, err error)
	List(ctx context.Context, userID string, offset, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, id string) (changed bool, err error)
	MarkAllRead(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, userID, id string) (wasUnread bool, err error)
	CountUnread(ctx context.Context, userID string) (int64, error)
}

// Counter est l'agrégat "non lus" tenu à part de la liste. Add n'a pas d'effet tant
// que le compteur n'a pas été initialisé, mais avance toujours l'époque du
// destinataire. Prime n'initialise que si le compteur est absent et que l'époque
// n'a pas bougé depuis Epoch.
type Counter interface {
	Get(ctx context.Context, userID string) (n int64, ok bool, err error)
	Set(ctx context.Context, userID string, n int64) error
	Add(ctx context.Context, userID string, delta int64) error
	Epoch(ctx context.Context, userID string) (int64, error)
	Prime(ctx context.Context, userID string, n, epoch int64) (bool, error)
}

// Queue transporte les notifications vers Deliver en conservant l'ordre par destinataire.
type Queue interface {
	Publish(ctx context.Context, n models.Notification) error
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

type Handler func(ctx context.Context, n models.Notification) error

// Pusher diffuse une notification livrée aux clients connectés.
type Pusher interface {
	Push(ctx context.Context, n models.Notification) error
}

type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}
