// Package memory fournit des dépôts en mémoire respectant les mêmes contrats que
// les dépôts ScyllaDB (compare-and-set de version, lectures isolées par copie).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"atelier_back_end/internal/apperr"
	"atelier_back_end/internal/models"
)

type orderEntry struct {
	mu    sync.Mutex
	order *models.Order
}

// OrderRepository verrouille chaque commande séparément ; l'index global n'est
// tenu que le temps d'une recherche de pointeur.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*orderEntry
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]*orderEntry)}
}

func (r *OrderRepository) entry(id string) (*orderEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.orders[id]
	return e, ok
}

func (r *OrderRepository) Create(_ context.Context, o *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[o.ID]; exists {
		return fmt.Errorf("%w: commande %s existe déjà", apperr.ErrConflict, o.ID)
	}
	r.orders[o.ID] = &orderEntry{order: o.Clone()}
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (*models.Order, error) {
	e, ok := r.entry(id)
	if !ok {
		return nil, apperr.NotFound("order", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Clone(), nil
}

func (r *OrderRepository) Update(_ context.Context, o *models.Order, expectedVersion int64) error {
	e, ok := r.entry(o.ID)
	if !ok {
		return apperr.NotFound("order", o.ID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.order.Version != expectedVersion {
		return fmt.Errorf("%w: version %d attendue, %d stockée", apperr.ErrConflict, expectedVersion, e.order.Version)
	}
	e.order = o.Clone()
	return nil
}

func (r *OrderRepository) ListByOwner(_ context.Context, ownerID string) ([]*models.Order, error) {
	return r.filter(func(o *models.Order) bool { return o.OwnerUserID == ownerID }), nil
}

func (r *OrderRepository) ListByStatus(_ context.Context, status models.OrderStatus) ([]*models.Order, error) {
	return r.filter(func(o *models.Order) bool { return o.Status == status }), nil
}

func (r *OrderRepository) filter(keep func(*models.Order) bool) []*models.Order {
	r.mu.RLock()
	entries := make([]*orderEntry, 0, len(r.orders))
	for _, e := range r.orders {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	list := make([]*models.Order, 0)
	for _, e := range entries {
		e.mu.Lock()
		if keep(e.order) {
			list = append(list, e.order.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list
}
