package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"atelier_back_end/internal/apperr"
	"atelier_back_end/internal/models"
	"atelier_back_end/internal/orders"
	"atelier_back_end/internal/workflow"
)

type orderItemInput struct {
	ReferenceID   string `json:"reference_id" binding:"required"`
	ReferenceKind string `json:"reference_kind"`
	Name          string `json:"name"`
	Quantity      int    `json:"quantity" binding:"required"`
	UnitPrice     int64  `json:"unit_price"`
}

type checkoutInput struct {
	Items                 []orderItemInput      `json:"items" binding:"required,min=1,dive"`
	Currency              string                `json:"currency"`
	DeliveryMethod        models.DeliveryMethod `json:"delivery_method" binding:"required"`
	ShippingFee           int64                 `json:"shipping_fee"`
	CustomizationRequired bool                  `json:"customization_required"`
	CustomizationDetails  string                `json:"customization_details"`
	DeliveryDate          time.Time             `json:"delivery_date" binding:"required"`
}

// CreateOrder crée une commande en attente de validation.
func (h *Handler) CreateOrder(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var input checkoutInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}

	items := make([]models.OrderItem, 0, len(input.Items))
	for _, it := range input.Items {
		items = append(items, models.OrderItem{
			ReferenceID:   it.ReferenceID,
			ReferenceKind: it.ReferenceKind,
			Name:          it.Name,
			Quantity:      it.Quantity,
			UnitPrice:     it.UnitPrice,
		})
	}

	o, err := h.orders.Create(c.Request.Context(), actor, orders.CheckoutInput{
		Items:                 items,
		Currency:              input.Currency,
		DeliveryMethod:        input.DeliveryMethod,
		ShippingFee:           input.ShippingFee,
		CustomizationRequired: input.CustomizationRequired,
		CustomizationDetails:  input.CustomizationDetails,
		DeliveryDate:          input.DeliveryDate,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

// GetOrder renvoie une commande au propriétaire ou à un admin.
func (h *Handler) GetOrder(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	o, err := h.orders.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// ListMyOrders renvoie les commandes de l'utilisateur connecté, les plus récentes d'abord.
func (h *Handler) ListMyOrders(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	list, err := h.orders.ListMine(c.Request.Context(), actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list, "count": len(list)})
}

// ListOrders (admin) filtre par statut, pending_approval par défaut.
func (h *Handler) ListOrders(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	status := models.OrderStatus(c.DefaultQuery("status", string(models.StatusPendingApproval)))
	list, err := h.orders.ListByStatus(c.Request.Context(), actor, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list, "count": len(list), "status": status})
}

type transitionInput struct {
	ExpectedVersion int64  `json:"expected_version"`
	Notes           string `json:"notes"`
	Message         string `json:"message"`
	Price           *int64 `json:"price"`
}

// adminCommands sont les commandes exposées sur /admin/orders/:id/:command.
var adminCommands = map[orders.Command]bool{
	orders.CmdApprove:               true,
	orders.CmdReject:                true,
	orders.CmdSetCustomizationPrice: true,
	orders.CmdVerifyPayment:         true,
	orders.CmdRejectPayment:         true,
	orders.CmdCancel:                true,
	orders.CmdStartProduction:       true,
	orders.CmdMarkReady:             true,
	orders.CmdMarkDelivered:         true,
	orders.CmdMarkCollected:         true,
}

// AdminTransition applique une commande admin. Les décisions passent par le workflow
// de validation, les commandes de fabrication vont directement à la machine.
func (h *Handler) AdminTransition(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	cmd := orders.Command(c.Param("command"))
	if !adminCommands[cmd] {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "commande inconnue " + string(cmd)})
		return
	}

	var input transitionInput
	if err := bindOptional(c, &input); err != nil {
		bindError(c, err)
		return
	}

	ctx := c.Request.Context()
	d := workflow.Decision{
		OrderID:         c.Param("id"),
		Actor:           actor,
		ExpectedVersion: input.ExpectedVersion,
		Notes:           input.Notes,
		Message:         input.Message,
	}

	var (
		o   *models.Order
		err error
	)
	switch cmd {
	case orders.CmdApprove:
		o, err = h.approval.Approve(ctx, d)
	case orders.CmdReject:
		o, err = h.approval.Reject(ctx, d)
	case orders.CmdSetCustomizationPrice:
		if input.Price == nil {
			respondError(c, apperr.Invalid("price", "obligatoire"))
			return
		}
		o, err = h.approval.SetCustomizationPrice(ctx, d, *input.Price)
	case orders.CmdVerifyPayment:
		o, err = h.approval.VerifyPayment(ctx, d)
	case orders.CmdRejectPayment:
		o, err = h.approval.RejectPayment(ctx, d)
	default:
		o, err = h.orders.Apply(ctx, orders.Request{
			OrderID:         d.OrderID,
			Command:         cmd,
			Actor:           actor,
			ExpectedVersion: input.ExpectedVersion,
			Notes:           input.Notes,
			Message:         input.Message,
		})
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// CancelOrder annule une commande avant paiement (propriétaire).
func (h *Handler) CancelOrder(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var input transitionInput
	if err := bindOptional(c, &input); err != nil {
		bindError(c, err)
		return
	}
	o, err := h.orders.Apply(c.Request.Context(), orders.Request{
		OrderID:         c.Param("id"),
		Command:         orders.CmdCancel,
		Actor:           actor,
		ExpectedVersion: input.ExpectedVersion,
		Notes:           input.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// bindOptional accepte un corps vide.
func bindOptional(c *gin.Context, dst any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(dst)
}
