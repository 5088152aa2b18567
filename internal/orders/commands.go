package orders

import (
	"math"
	"strings"
	"time"

	"atelier_back_end/internal/apperr"
	"atelier_back_end/internal/models"
)

type Command string

const (
	CmdApprove               Command = "approve"
	CmdReject                Command = "reject"
	CmdRoute                 Command = "route"
	CmdSetCustomizationPrice Command = "set-customization-price"
	CmdSubmitPaymentProof    Command = "submit-payment-proof"
	CmdVerifyPayment         Command = "verify-payment"
	CmdRejectPayment         Command = "reject-payment"
	CmdConfirmGatewayPayment Command = "confirm-gateway-payment"
	CmdCancel                Command = "cancel"
	CmdStartProduction       Command = "start-production"
	CmdMarkReady             Command = "mark-ready"
	CmdMarkDelivered         Command = "mark-delivered"
	CmdMarkCollected         Command = "mark-collected"
)

// Request est une commande de transition émise par un acteur.
type Request struct {
	OrderID string
	Command Command
	Actor   models.Actor
	// Target n'est utilisé que par CmdRoute.
	Target models.OrderStatus
	// ExpectedVersion à 0 signifie "la version lue par la machine".
	ExpectedVersion    int64
	Notes              string
	CustomizationPrice *int64
	Proof              *ProofPayload
	GatewayIntentID    string
	// Message remplace le texte par défaut de la notification.
	Message string
}

type ProofPayload struct {
	ObjectKey   string
	ReferenceID string
}

type commandSpec struct {
	roles     []models.Role
	ownerOnly bool
	from      []models.OrderStatus
	target    models.OrderStatus
	// settled : états où l'effet de la commande est déjà acquis.
	settled []models.OrderStatus
	// financial : re-jouer la commande aurait un effet financier -> AlreadyProcessed.
	financial bool
	mutate    func(o *models.Order, req Request, now time.Time) error
	notice    notice
}

var commands = map[Command]commandSpec{
	CmdApprove: {
		roles:   anyStaff,
		from:    []models.OrderStatus{models.StatusPendingApproval},
		target:  models.StatusApproved,
		settled: []models.OrderStatus{models.StatusApproved, models.StatusCustomizationPending, models.StatusPaymentPending},
		notice: notice{models.NotificationOrderStatusChanged, models.PriorityMedium,
			"Commande acceptée", "Votre commande %s a été acceptée."},
	},
	CmdReject: {
		roles:   anyStaff,
		from:    prePayment,
		target:  models.StatusRejected,
		settled: []models.OrderStatus{models.StatusRejected},
		notice: notice{models.NotificationOrderStatusChanged, models.PriorityHigh,
			"Commande refusée", "Votre commande %s a été refusée."},
	},
	CmdRoute: {
		roles:   staffOrGate,
		from:    []models.OrderStatus{models.StatusApproved},
		settled: []models.OrderStatus{models.StatusCustomizationPending, models.StatusPaymentPending},
		notice: notice{models.NotificationOrderStatusChanged, models.PriorityMedium,
			"Commande mise à jour", "Votre commande %s passe à l'étape suivante."},
	},
	CmdSetCustomizationPrice: {
		roles:     anyStaff,
		from:      []models.OrderStatus{models.StatusCustomizationPending},
		target:    models.StatusPaymentPending,
		settled:   []models.OrderStatus{models.StatusPaymentPending},
		financial: true,
		mutate:    applyCustomizationPrice,
		notice: notice{models.NotificationOrderStatusChanged, models.PriorityHigh,
			"Prix de personnalisation fixé", "Le prix de votre commande %s est prêt, vous pouvez procéder au paiement."},
	},
	CmdSubmitPaymentProof: {
		roles:     []models.Role{models.RoleCustomer},
		ownerOnly: true,
		from:      []models.OrderStatus{models.StatusPaymentPending},
		target:    models.StatusPaymentSubmitted,
		settled:   []models.OrderStatus{models.StatusPaymentSubmitted},
		mutate:    applyPaymentProof,
		notice: notice{models.NotificationOrderStatusChanged, models.PriorityHigh,
			"Preuve de paiement reçue", "Une preuve de paiement attend vérification pour la commande %s."},
	},
	CmdVerifyPayment: {
		roles:     anyStaff,
		from:      []models.OrderStatus{models.StatusPaymentSubmitted},
		target:    models.StatusPaid,
		settled:   paidOrLater,
		financial: true,
		mutate:    applyManualVerification,
		notice: notice{models.NotificationPaymentVerified, models.PriorityHigh,
			"Paiement confirmé", "Le paiement de votre commande %s a été vérifié."},
	},
	CmdRejectPayment: {
		roles:   anyStaff,
		from:    []models.OrderStatus{models.StatusPaymentSubmitted},
		target:  models.StatusPaymentPending,
		settled: []models.OrderStatus{models.StatusPaymentPending},
		mutate:  applyProofRejection,
		notice: notice{models.NotificationPaymentRejected, models.PriorityHigh,
			"Preuve de paiement refusée", "La preuve de paiement de la commande %s a été refusée."},
	},
	CmdConfirmGatewayPayment: {
		roles:     []models.Role{models.RoleSystem},
		from:      []models.OrderStatus{models.StatusPaymentPending, models.StatusPaymentSubmitted},
		target:    models.StatusPaid,
		settled:   paidOrLater,
		financial: true,
		mutate:    applyGatewayConfirmation,
		notice: notice{models.NotificationPaymentVerified, models.PriorityHigh,
			"Paiement confirmé", "Le paiement en ligne de votre commande %s est confirmé."},
	},
	CmdCancel: {
		roles:     ownerOrStaff,
		ownerOnly: true,
		from:      prePayment,
		target:    models.StatusCancelled,
		settled:   []models.OrderStatus{models.StatusCancelled},
		notice: notice{models.NotificationOrderStatusChanged, models.PriorityMedium,
			"Commande annulée", "La commande %s a été annulée."},
	},
	CmdStartProduction: {
		roles:   anyStaff,
		from:    []models.OrderStatus{models.StatusPaid},
		target:  models.StatusInProgress,
		settled: []models.OrderStatus{models.StatusInProgress},
		notice: notice{models.NotificationOrderStatusChanged, models.PriorityLow,
			"Commande en préparation", "Votre commande %s est en préparation."},
	},
	CmdMarkReady: {
		roles:   anyStaff,
		from:    []models.OrderStatus{models.StatusInProgress},
		target:  models.StatusReadyForDelivery,
		settled: []models.OrderStatus{models.StatusReadyForDelivery},
		notice: notice{models.NotificationOrderStatusChanged, models.PriorityMedium,
			"Commande prête", "Votre commande %s est prête."},
	},
	CmdMarkDelivered: {
		roles:   anyStaff,
		from:    []models.OrderStatus{models.StatusReadyForDelivery},
		target:  models.StatusDelivered,
		settled: []models.OrderStatus{models.StatusDelivered},
		mutate:  requireMethod(models.DeliveryDelivery),
		notice: notice{models.NotificationOrderStatusChanged, models.PriorityMedium,
			"Commande livrée", "Votre commande %s a été livrée."},
	},
	CmdMarkCollected: {
		roles:   anyStaff,
		from:    []models.OrderStatus{models.StatusReadyForDelivery},
		target:  models.StatusCompleted,
		settled: []models.OrderStatus{models.StatusCompleted},
		mutate:  requireMethod(models.DeliveryPickup),
		notice: notice{models.NotificationOrderStatusChanged, models.PriorityLow,
			"Commande retirée", "Votre commande %s a été retirée. Merci !"},
	},
}

// Lookup indique si une commande est connue.
func Lookup(c Command) bool {
	_, ok := commands[c]
	return ok
}

func applyCustomizationPrice(o *models.Order, req Request, _ time.Time) error {
	if req.CustomizationPrice == nil {
		return apperr.Invalid("customization_price", "requis")
	}
	if *req.CustomizationPrice < 0 {
		return apperr.Invalid("customization_price", "doit être positif ou nul")
	}
	if *req.CustomizationPrice > math.MaxInt64-o.OriginalPrice-o.ShippingFee {
		return apperr.Invalid("customization_price", "montant trop élevé")
	}
	o.CustomizationPrice = *req.CustomizationPrice
	return nil
}

func applyPaymentProof(o *models.Order, req Request, now time.Time) error {
	if req.Proof == nil || (strings.TrimSpace(req.Proof.ObjectKey) == "" && strings.TrimSpace(req.Proof.ReferenceID) == "") {
		return apperr.Invalid("proof", "référence de preuve requise")
	}
	ref := paymentRef(o)
	ref.ProofObjectKey = strings.TrimSpace(req.Proof.ObjectKey)
	ref.ReferenceID = strings.TrimSpace(req.Proof.ReferenceID)
	ref.Verified = false
	ref.RejectionReason = ""
	ref.SubmittedAt = &now
	return nil
}

func applyManualVerification(o *models.Order, req Request, now time.Time) error {
	ref := paymentRef(o)
	ref.Verified = true
	ref.VerifiedAt = &now
	ref.VerifiedBy = req.Actor.UserID
	return nil
}

func applyProofRejection(o *models.Order, req Request, _ time.Time) error {
	ref := paymentRef(o)
	ref.Verified = false
	ref.RejectionReason = req.Notes
	return nil
}

func applyGatewayConfirmation(o *models.Order, req Request, now time.Time) error {
	if req.GatewayIntentID == "" {
		return apperr.Invalid("gateway_intent_id", "requis")
	}
	ref := paymentRef(o)
	ref.GatewayIntentID = req.GatewayIntentID
	ref.Verified = true
	ref.VerifiedAt = &now
	ref.VerifiedBy = req.Actor.UserID
	return nil
}

func requireMethod(m models.DeliveryMethod) func(*models.Order, Request, time.Time) error {
	return func(o *models.Order, _ Request, _ time.Time) error {
		if o.DeliveryMethod != m {
			return apperr.Invalid("delivery_method", "commande en mode "+string(o.DeliveryMethod))
		}
		return nil
	}
}

func paymentRef(o *models.Order) *models.PaymentReference {
	if o.PaymentReference == nil {
		o.PaymentReference = &models.PaymentReference{}
	}
	return o.PaymentReference
}
