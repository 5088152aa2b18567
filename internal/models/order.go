package models

import "time"

type OrderStatus string

const (
	StatusPendingApproval      OrderStatus = "pending_approval"
	StatusApproved             OrderStatus = "approved"
	StatusRejected             OrderStatus = "rejected"
	StatusCustomizationPending OrderStatus = "customization_pending"
	StatusPaymentPending       OrderStatus = "payment_pending"
	StatusPaymentSubmitted     OrderStatus = "payment_submitted"
	StatusPaid                 OrderStatus = "paid"
	StatusInProgress           OrderStatus = "in_progress"
	StatusReadyForDelivery     OrderStatus = "ready_for_delivery"
	StatusDelivered            OrderStatus = "delivered"
	StatusCompleted            OrderStatus = "completed"
	StatusCancelled            OrderStatus = "cancelled"
)

// AllStatuses liste l'ensemble fermé des statuts, dans l'ordre du cycle de vie.
var AllStatuses = []OrderStatus{
	StatusPendingApproval,
	StatusApproved,
	StatusCustomizationPending,
	StatusPaymentPending,
	StatusPaymentSubmitted,
	StatusPaid,
	StatusInProgress,
	StatusReadyForDelivery,
	StatusDelivered,
	StatusCompleted,
	StatusRejected,
	StatusCancelled,
}

func (s OrderStatus) Valid() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

type DeliveryMethod string

const (
	DeliveryPickup   DeliveryMethod = "pickup"
	DeliveryDelivery DeliveryMethod = "delivery"
)

// MinDeliveryOrderValue est le montant minimum (unités mineures, hors frais de port)
// pour pouvoir choisir la livraison.
const MinDeliveryOrderValue int64 = 1000

type OrderItem struct {
	ReferenceID   string `json:"reference_id"`
	ReferenceKind string `json:"reference_kind"` // "product" ou "course"
	Name          string `json:"name,omitempty"`
	Quantity      int    `json:"quantity"`
	UnitPrice     int64  `json:"unit_price"`
}

// PaymentReference garde la preuve manuelle ou la corrélation passerelle.
type PaymentReference struct {
	ProofObjectKey  string     `json:"proof_object_key,omitempty"`
	ReferenceID     string     `json:"reference_id,omitempty"`
	GatewayIntentID string     `json:"gateway_intent_id,omitempty"`
	Verified        bool       `json:"verified"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	VerifiedBy      string     `json:"verified_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

type StatusChange struct {
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	Command   string      `json:"command"`
	ActorID   string      `json:"actor_id"`
	ActorRole Role        `json:"actor_role"`
	Note      string      `json:"note,omitempty"`
	At        time.Time   `json:"at"`
}

type Order struct {
	ID                    string            `json:"id"`
	OwnerUserID           string            `json:"owner_user_id"`
	OwnerEmail            string            `json:"owner_email,omitempty"`
	Status                OrderStatus       `json:"status"`
	Version               int64             `json:"version"`
	Items                 []OrderItem       `json:"items"`
	Currency              string            `json:"currency"`
	OriginalPrice         int64             `json:"original_price"`
	CustomizationPrice    int64             `json:"customization_price"`
	ShippingFee           int64             `json:"shipping_fee"`
	TotalAmount           int64             `json:"total_amount"`
	DeliveryMethod        DeliveryMethod    `json:"delivery_method"`
	CustomizationRequired bool              `json:"customization_required"`
	CustomizationDetails  string            `json:"customization_details,omitempty"`
	PaymentReference      *PaymentReference `json:"payment_reference,omitempty"`
	ChatEnabled           bool              `json:"chat_enabled"`
	StatusNote            string            `json:"status_note,omitempty"`
	History               []StatusChange    `json:"history"`
	DeliveryDate          time.Time         `json:"delivery_date"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// RecomputeTotal réapplique l'invariant total = original + personnalisation + port.
func (o *Order) RecomputeTotal() {
	o.TotalAmount = o.OriginalPrice + o.CustomizationPrice + o.ShippingFee
}

// Clone copie profonde : les transitions travaillent sur une copie puis l'écrivent d'un bloc.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.History = append([]StatusChange(nil), o.History...)
	if o.PaymentReference != nil {
		ref := *o.PaymentReference
		c.PaymentReference = &ref
	}
	return &c
}
