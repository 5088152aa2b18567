// Package workflow enchaîne les commandes de la machine à états pour les actions
// d'administration (validation, refus, tarification).
package workflow

import (
	"context"

	"go.uber.org/zap"

	"atelier_back_end/internal/models"
	"atelier_back_end/internal/orders"
)

// Transitioner est la partie de orders.Machine utilisée par le workflow.
type Transitioner interface {
	Apply(ctx context.Context, req orders.Request) (*models.Order, error)
}

type Approval struct {
	machine Transitioner
}

func NewApproval(machine Transitioner) *Approval {
	return &Approval{machine: machine}
}

// Decision porte les paramètres communs aux actions admin.
type Decision struct {
	OrderID         string
	Actor           models.Actor
	ExpectedVersion int64
	Notes           string
	Message         string
}

// Approve valide la commande puis l'oriente vers la personnalisation ou le paiement
// selon customizationRequired. Rejouer Approve sur une commande déjà validée mais
// pas encore orientée termine le routage.
func (a *Approval) Approve(ctx context.Context, d Decision) (*models.Order, error) {
	o, err := a.machine.Apply(ctx, orders.Request{
		OrderID:         d.OrderID,
		Command:         orders.CmdApprove,
		Actor:           d.Actor,
		ExpectedVersion: d.ExpectedVersion,
		Notes:           d.Notes,
		Message:         d.Message,
	})
	if err != nil {
		return nil, err
	}
	if o.Status != models.StatusApproved {
		return o, nil
	}

	next := nextStep(o)
	routed, err := a.machine.Apply(ctx, orders.Request{
		OrderID:         o.ID,
		Command:         orders.CmdRoute,
		Target:          next,
		Actor:           d.Actor,
		ExpectedVersion: o.Version,
		Message:         routeMessage(next),
	})
	if err != nil {
		// La validation est acquise ; un nouvel Approve terminera le routage.
		zap.L().Warn("⚠️ routage après validation impossible",
			zap.String("order_id", o.ID),
			zap.String("target", string(next)),
			zap.Error(err))
		return nil, err
	}
	return routed, nil
}

func (a *Approval) Reject(ctx context.Context, d Decision) (*models.Order, error) {
	return a.machine.Apply(ctx, orders.Request{
		OrderID:         d.OrderID,
		Command:         orders.CmdReject,
		Actor:           d.Actor,
		ExpectedVersion: d.ExpectedVersion,
		Notes:           d.Notes,
		Message:         d.Message,
	})
}

func (a *Approval) SetCustomizationPrice(ctx context.Context, d Decision, price int64) (*models.Order, error) {
	return a.machine.Apply(ctx, orders.Request{
		OrderID:            d.OrderID,
		Command:            orders.CmdSetCustomizationPrice,
		Actor:              d.Actor,
		ExpectedVersion:    d.ExpectedVersion,
		Notes:              d.Notes,
		Message:            d.Message,
		CustomizationPrice: &price,
	})
}

func (a *Approval) VerifyPayment(ctx context.Context, d Decision) (*models.Order, error) {
	return a.machine.Apply(ctx, orders.Request{
		OrderID:         d.OrderID,
		Command:         orders.CmdVerifyPayment,
		Actor:           d.Actor,
		ExpectedVersion: d.ExpectedVersion,
		Notes:           d.Notes,
		Message:         d.Message,
	})
}

func (a *Approval) RejectPayment(ctx context.Context, d Decision) (*models.Order, error) {
	return a.machine.Apply(ctx, orders.Request{
		OrderID:         d.OrderID,
		Command:         orders.CmdRejectPayment,
		Actor:           d.Actor,
		ExpectedVersion: d.ExpectedVersion,
		Notes:           d.Notes,
		Message:         d.Message,
	})
}

func nextStep(o *models.Order) models.OrderStatus {
	if o.CustomizationRequired {
		return models.StatusCustomizationPending
	}
	return models.StatusPaymentPending
}

func routeMessage(next models.OrderStatus) string {
	if next == models.StatusCustomizationPending {
		return "Votre commande passe en personnalisation : échangez avec nous via le chat pour préciser votre demande."
	}
	return "Votre commande est prête pour le paiement."
}
