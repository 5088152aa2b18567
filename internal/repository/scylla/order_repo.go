// Package scylla implémente la persistance sur ScyllaDB. Les mises à jour de
// commandes passent par des transactions légères (LWT) sur la colonne version.
package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"atelier_back_end/internal/apperr"
	"atelier_back_end/internal/models"
)

type OrderRepository struct {
	session *gocql.Session
}

func NewOrderRepository(session *gocql.Session) *OrderRepository {
	return &OrderRepository{session: session}
}

func (r *OrderRepository) Create(ctx context.Context, o *models.Order) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}

	applied, err := r.session.Query(`INSERT INTO orders (order_id, owner_user_id, status, version, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		o.ID, o.OwnerUserID, string(o.Status), o.Version, string(payload), o.CreatedAt, o.UpdatedAt,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("%w: insertion commande: %v", apperr.ErrUnavailable, err)
	}
	if !applied {
		return fmt.Errorf("%w: commande %s déjà existante", apperr.ErrConflict, o.ID)
	}

	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO orders_by_owner (owner_user_id, created_at, order_id) VALUES (?, ?, ?)`, o.OwnerUserID, o.CreatedAt, o.ID)
	batch.Query(`INSERT INTO orders_by_status (status, order_id) VALUES (?, ?)`, string(o.Status), o.ID)
	if err := r.session.ExecuteBatch(batch); err != nil {
		zap.L().Error("❌ index de commande non écrits", zap.String("order_id", o.ID), zap.Error(err))
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*models.Order, error) {
	var payload string
	err := r.session.Query(`SELECT payload FROM orders WHERE order_id = ?`, id).
		WithContext(ctx).Consistency(gocql.Quorum).Scan(&payload)
	if err == gocql.ErrNotFound {
		return nil, apperr.NotFound("order", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lecture commande: %v", apperr.ErrUnavailable, err)
	}
	var o models.Order
	if err := json.Unmarshal([]byte(payload), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Update écrit la commande si la version stockée vaut encore expectedVersion.
func (r *OrderRepository) Update(ctx context.Context, o *models.Order, expectedVersion int64) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}

	previous := map[string]interface{}{}
	applied, err := r.session.Query(`UPDATE orders SET status = ?, version = ?, payload = ?, updated_at = ?
		WHERE order_id = ? IF version = ?`,
		string(o.Status), o.Version, string(payload), o.UpdatedAt, o.ID, expectedVersion,
	).WithContext(ctx).MapScanCAS(previous)
	if err != nil {
		return fmt.Errorf("%w: mise à jour commande: %v", apperr.ErrUnavailable, err)
	}
	if !applied {
		if _, exists := previous["version"]; !exists {
			return apperr.NotFound("order", o.ID)
		}
		return fmt.Errorf("%w: commande %s modifiée (version %v)", apperr.ErrConflict, o.ID, previous["version"])
	}

	r.reindexStatus(ctx, o)
	return nil
}

// reindexStatus met à jour orders_by_status après une transition acceptée.
func (r *OrderRepository) reindexStatus(ctx context.Context, o *models.Order) {
	if len(o.History) == 0 {
		return
	}
	from := o.History[len(o.History)-1].From
	if from == "" || from == o.Status {
		return
	}
	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`DELETE FROM orders_by_status WHERE status = ? AND order_id = ?`, string(from), o.ID)
	batch.Query(`INSERT INTO orders_by_status (status, order_id) VALUES (?, ?)`, string(o.Status), o.ID)
	if err := r.session.ExecuteBatch(batch); err != nil {
		zap.L().Error("❌ index de statut non mis à jour", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (r *OrderRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Order, error) {
	iter := r.session.Query(`SELECT order_id FROM orders_by_owner WHERE owner_user_id = ?`, ownerID).WithContext(ctx).Iter()
	return r.load(ctx, iter, func(*models.Order) bool { return true })
}

func (r *OrderRepository) ListByStatus(ctx context.Context, status models.OrderStatus) ([]*models.Order, error) {
	iter := r.session.Query(`SELECT order_id FROM orders_by_status WHERE status = ?`, string(status)).WithContext(ctx).Iter()
	// L'index peut être en retard sur la table : le statut lu fait foi.
	out, err := r.load(ctx, iter, func(o *models.Order) bool { return o.Status == status })
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *OrderRepository) load(ctx context.Context, iter *gocql.Iter, keep func(*models.Order) bool) ([]*models.Order, error) {
	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("%w: lecture index: %v", apperr.ErrUnavailable, err)
	}

	out := make([]*models.Order, 0, len(ids))
	for _, id := range ids {
		o, err := r.Get(ctx, id)
		if err != nil {
			zap.L().Warn("⚠️ commande indexée introuvable", zap.String("order_id", id), zap.Error(err))
			continue
		}
		if keep(o) {
			out = append(out, o)
		}
	}
	return out, nil
}
