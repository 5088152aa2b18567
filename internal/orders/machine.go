// Package orders porte la machine à états des commandes : statut canonique,
// validation des transitions, gardes métier et émission des effets de bord.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"atelier_back_end/internal/apperr"
	"atelier_back_end/internal/chatgate"
	"atelier_back_end/internal/models"
)

type Machine struct {
	store    Store
	notifier Notifier
	auditor  Auditor
	now      func() time.Time
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithAuditor(a Auditor) Option {
	return func(m *Machine) { m.auditor = a }
}

func NewMachine(store Store, notifier Notifier, opts ...Option) *Machine {
	m := &Machine{
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply exécute une commande de transition. La mutation (statut, totaux, version,
// updatedAt, historique) est écrite d'un bloc ; la notification part ensuite et ses
// erreurs ne font jamais échouer la transition.
func (m *Machine) Apply(ctx context.Context, req Request) (*models.Order, error) {
	spec, ok := commands[req.Command]
	if !ok {
		return nil, apperr.Invalid("command", fmt.Sprintf("commande inconnue %q", req.Command))
	}
	if !containsRole(spec.roles, req.Actor.Role) {
		return nil, apperr.Forbidden("le rôle %s ne peut pas exécuter %s", req.Actor.Role, req.Command)
	}

	current, err := m.store.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if spec.ownerOnly && req.Actor.Role == models.RoleCustomer && current.OwnerUserID != req.Actor.UserID {
		return nil, apperr.Forbidden("commande %s n'appartient pas à %s", current.ID, req.Actor.UserID)
	}
	if req.ExpectedVersion != 0 && req.ExpectedVersion != current.Version {
		return nil, fmt.Errorf("%w: version %d attendue, %d stockée", apperr.ErrConflict, req.ExpectedVersion, current.Version)
	}

	target := spec.target
	if req.Command == CmdRoute {
		if req.Target != models.StatusCustomizationPending && req.Target != models.StatusPaymentPending {
			return nil, apperr.Invalid("target", "étape de routage inconnue "+string(req.Target))
		}
		target = req.Target
	}

	if containsStatus(spec.settled, current.Status) {
		if spec.financial {
			return nil, fmt.Errorf("%w: commande %s déjà en %s", apperr.ErrAlreadyProcessed, current.ID, current.Status)
		}
		return current, nil
	}
	if !containsStatus(spec.from, current.Status) {
		return nil, &apperr.TransitionError{Current: string(current.Status), Requested: string(target)}
	}
	exists, permitted := CanTransition(current.Status, target, req.Actor.Role)
	if !exists {
		return nil, &apperr.TransitionError{Current: string(current.Status), Requested: string(target)}
	}
	if !permitted {
		return nil, apperr.Forbidden("le rôle %s ne peut pas passer de %s à %s", req.Actor.Role, current.Status, target)
	}

	now := m.now().UTC()
	next := current.Clone()
	if spec.mutate != nil {
		if err := spec.mutate(next, req, now); err != nil {
			return nil, err
		}
	}
	next.Status = target
	if req.Notes != "" {
		next.StatusNote = req.Notes
	}
	next.RecomputeTotal()
	chatgate.Apply(next)
	next.UpdatedAt = now
	next.Version = current.Version + 1
	next.History = append(next.History, models.StatusChange{
		From:      current.Status,
		To:        target,
		Command:   string(req.Command),
		ActorID:   req.Actor.UserID,
		ActorRole: req.Actor.Role,
		Note:      req.Notes,
		At:        now,
	})

	if err := m.store.Update(ctx, next, current.Version); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			zap.L().Info("transition en conflit",
				zap.String("order_id", current.ID),
				zap.String("command", string(req.Command)),
				zap.Int64("version", current.Version))
		}
		return nil, err
	}

	zap.L().Info("✅ transition appliquée",
		zap.String("order_id", next.ID),
		zap.String("command", string(req.Command)),
		zap.String("from", string(current.Status)),
		zap.String("to", string(target)),
		zap.String("actor", req.Actor.UserID))

	m.emit(ctx, buildNotification(spec.notice, req.Actor, next, req.Message))
	m.record(ctx, req.Actor, "order."+string(req.Command), next.ID, string(current.Status), string(target))
	return next, nil
}

// Get renvoie une commande visible par l'acteur (propriétaire ou admin).
func (m *Machine) Get(ctx context.Context, actor models.Actor, id string) (*models.Order, error) {
	o, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && o.OwnerUserID != actor.UserID {
		return nil, apperr.Forbidden("commande %s", id)
	}
	return o, nil
}

func (m *Machine) ListMine(ctx context.Context, actor models.Actor) ([]*models.Order, error) {
	return m.store.ListByOwner(ctx, actor.UserID)
}

func (m *Machine) ListByStatus(ctx context.Context, actor models.Actor, status models.OrderStatus) ([]*models.Order, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("liste des commandes réservée aux administrateurs")
	}
	if !status.Valid() {
		return nil, apperr.Invalid("status", "statut inconnu "+string(status))
	}
	return m.store.ListByStatus(ctx, status)
}

func (m *Machine) emit(ctx context.Context, n models.Notification) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Enqueue(ctx, n); err != nil {
		zap.L().Warn("⚠️ notification non mise en file",
			zap.String("order_id", n.RelatedEntityID),
			zap.String("recipient", n.RecipientUserID),
			zap.Error(err))
	}
}

func (m *Machine) record(ctx context.Context, actor models.Actor, action, orderID, oldValue, newValue string) {
	if m.auditor == nil {
		return
	}
	m.auditor.Record(ctx, models.AuditLog{
		UserID:     actor.UserID,
		UserRole:   actor.Role,
		Action:     action,
		Resource:   "order",
		ResourceID: orderID,
		OldValue:   oldValue,
		NewValue:   newValue,
		Success:    true,
		Timestamp:  m.now().UTC(),
	})
}
