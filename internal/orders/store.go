package orders

import (
	"context"

	"atelier_back_end/internal/models"
)

// Store persiste l'agrégat Order. Update applique un compare-and-set sur la version :
// il renvoie apperr.ErrConflict si la version stockée n'est plus expectedVersion.
type Store interface {
	Create(ctx context.Context, o *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	Update(ctx context.Context, o *models.Order, expectedVersion int64) error
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Order, error)
	ListByStatus(ctx context.Context, status models.OrderStatus) ([]*models.Order, error)
}

// Notifier reçoit les effets de bord ; ses erreurs ne remontent jamais à l'appelant.
type Notifier interface {
	Enqueue(ctx context.Context, n models.Notification) error
}

type Auditor interface {
	Record(ctx context.Context, entry models.AuditLog)
}
