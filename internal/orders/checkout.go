package orders

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"atelier_back_end/internal/apperr"
	"atelier_back_end/internal/chatgate"
	"atelier_back_end/internal/models"
)

const (
	minDeliveryDays = 1
	maxDeliveryDays = 60
	defaultCurrency = "eur"
)

// CheckoutInput est le panier fourni par l'appelant au moment de la commande.
type CheckoutInput struct {
	Items                 []models.OrderItem
	Currency              string
	DeliveryMethod        models.DeliveryMethod
	ShippingFee           int64
	CustomizationRequired bool
	CustomizationDetails  string
	DeliveryDate          time.Time
}

// Create crée la commande en pending_approval après validation des gardes métier.
func (m *Machine) Create(ctx context.Context, actor models.Actor, in CheckoutInput) (*models.Order, error) {
	if actor.Role != models.RoleCustomer || actor.UserID == "" {
		return nil, apperr.Forbidden("seul un client peut passer commande")
	}

	now := m.now().UTC()
	original, err := validateCheckout(in, now)
	if err != nil {
		return nil, err
	}

	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	o := &models.Order{
		ID:                    uuid.NewString(),
		OwnerUserID:           actor.UserID,
		OwnerEmail:            actor.Email,
		Status:                models.StatusPendingApproval,
		Version:               1,
		Items:                 append([]models.OrderItem(nil), in.Items...),
		Currency:              currency,
		OriginalPrice:         original,
		ShippingFee:           in.ShippingFee,
		DeliveryMethod:        in.DeliveryMethod,
		CustomizationRequired: in.CustomizationRequired,
		CustomizationDetails:  strings.TrimSpace(in.CustomizationDetails),
		DeliveryDate:          in.DeliveryDate.UTC(),
		CreatedAt:             now,
		UpdatedAt:             now,
		History: []models.StatusChange{{
			To:        models.StatusPendingApproval,
			Command:   "create-order",
			ActorID:   actor.UserID,
			ActorRole: actor.Role,
			At:        now,
		}},
	}
	o.RecomputeTotal()
	chatgate.Apply(o)

	if err := m.store.Create(ctx, o); err != nil {
		return nil, err
	}

	zap.L().Info("🛒 commande créée",
		zap.String("order_id", o.ID),
		zap.String("owner", o.OwnerUserID),
		zap.Int64("total", o.TotalAmount))

	m.emit(ctx, buildNotification(notice{
		kind:     models.NotificationOrderStatusChanged,
		priority: models.PriorityMedium,
		title:    "Nouvelle commande",
		format:   "La commande %s attend votre validation.",
	}, actor, o, ""))
	m.record(ctx, actor, "order.create", o.ID, "", string(o.Status))
	return o, nil
}

// validateCheckout renvoie le prix d'origine (somme des lignes) si le panier est acceptable.
func validateCheckout(in CheckoutInput, now time.Time) (int64, error) {
	if len(in.Items) == 0 {
		return 0, apperr.Invalid("items", "panier vide")
	}

	var original int64
	for _, it := range in.Items {
		if strings.TrimSpace(it.ReferenceID) == "" {
			return 0, apperr.Invalid("items.reference_id", "requis")
		}
		if it.Quantity <= 0 {
			return 0, apperr.Invalid("items.quantity", "doit être > 0")
		}
		if it.UnitPrice < 0 {
			return 0, apperr.Invalid("items.unit_price", "doit être >= 0")
		}
		if it.UnitPrice > 0 && it.UnitPrice > (math.MaxInt64-original)/int64(it.Quantity) {
			return 0, apperr.Invalid("items", "montant trop élevé")
		}
		original += int64(it.Quantity) * it.UnitPrice
	}

	if in.ShippingFee < 0 {
		return 0, apperr.Invalid("shipping_fee", "doit être >= 0")
	}
	if in.ShippingFee > math.MaxInt64-original {
		return 0, apperr.Invalid("shipping_fee", "montant trop élevé")
	}

	switch in.DeliveryMethod {
	case models.DeliveryPickup:
		if in.ShippingFee != 0 {
			return 0, apperr.Invalid("shipping_fee", "pas de frais de port pour un retrait")
		}
	case models.DeliveryDelivery:
		// À la création le prix de personnalisation vaut 0 : total - port = prix d'origine.
		if original < models.MinDeliveryOrderValue {
			return 0, apperr.Invalid("delivery_method", "montant minimum non atteint pour la livraison")
		}
	default:
		return 0, apperr.Invalid("delivery_method", "pickup ou delivery attendu")
	}

	details := strings.TrimSpace(in.CustomizationDetails)
	if in.CustomizationRequired && details == "" {
		return 0, apperr.Invalid("customization_details", "requis quand une personnalisation est demandée")
	}
	if !in.CustomizationRequired && details != "" {
		return 0, apperr.Invalid("customization_details", "fourni sans personnalisation demandée")
	}

	if in.DeliveryDate.IsZero() {
		return 0, apperr.Invalid("delivery_date", "requise")
	}
	days := daysBetween(now, in.DeliveryDate)
	if days < minDeliveryDays || days > maxDeliveryDays {
		return 0, apperr.Invalid("delivery_date", "doit être entre 1 et 60 jours après la commande")
	}
	return original, nil
}

// daysBetween compte les jours calendaires (UTC) entre deux instants.
func daysBetween(from, to time.Time) int {
	f := from.UTC()
	t := to.UTC()
	start := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}
