package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
	"go.uber.org/zap"

	"atelier_back_end/internal/apperr"
	"atelier_back_end/internal/models"
	"atelier_back_end/internal/orders"
	"atelier_back_end/internal/utils"
)

const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	DefaultIntentTimeout  = 10 * time.Second
)

// Machine est la partie de orders.Machine utilisée par l'adaptateur.
type Machine interface {
	Apply(ctx context.Context, req orders.Request) (*models.Order, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Order, error)
}

// OrderReader lit une commande sans contrôle d'acteur (callbacks passerelle).
type OrderReader interface {
	Get(ctx context.Context, id string) (*models.Order, error)
}

type Config struct {
	WebhookSecret string
	IntentTimeout time.Duration
	Beneficiary   utils.Beneficiary
}

type Adapter struct {
	gateway Gateway
	intents IntentStore
	machine Machine
	orders  OrderReader
	proofs  ProofStore
	auditor orders.Auditor
	cfg     Config
	now     func() time.Time
}

type Option func(*Adapter)

// WithProofStore active le contrôle d'existence des justificatifs et les URLs d'upload.
func WithProofStore(p ProofStore) Option {
	return func(a *Adapter) { a.proofs = p }
}

func WithAuditor(au orders.Auditor) Option {
	return func(a *Adapter) { a.auditor = au }
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

func NewAdapter(gateway Gateway, intents IntentStore, machine Machine, reader OrderReader, cfg Config, opts ...Option) *Adapter {
	if cfg.IntentTimeout <= 0 {
		cfg.IntentTimeout = DefaultIntentTimeout
	}
	a := &Adapter{
		gateway: gateway,
		intents: intents,
		machine: machine,
		orders:  reader,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CreateIntent crée un intent pour le total de la commande. L'état de la commande ne
// change pas : en cas d'échec ou de timeout elle reste dans son état d'avant.
func (a *Adapter) CreateIntent(ctx context.Context, actor models.Actor, orderID string) (*models.PaymentIntent, error) {
	o, err := a.ownedOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if !payable(o) {
		return nil, &apperr.TransitionError{Current: string(o.Status), Requested: string(models.StatusPaid)}
	}

	remote, err := a.createRemote(ctx, IntentRequest{
		OrderID:     o.ID,
		OwnerUserID: o.OwnerUserID,
		Amount:      o.TotalAmount,
		Currency:    o.Currency,
	})
	if err != nil {
		zap.L().Error("❌ création d'intent échouée", zap.String("order_id", o.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: passerelle de paiement: %v", apperr.ErrUnavailable, err)
	}

	pi := models.PaymentIntent{
		ID:           remote.ID,
		OrderID:      o.ID,
		OwnerUserID:  o.OwnerUserID,
		Amount:       o.TotalAmount,
		Currency:     o.Currency,
		ClientSecret: remote.ClientSecret,
		State:        models.IntentActive,
		CreatedAt:    a.now().UTC(),
	}
	superseded, err := a.intents.Save(ctx, pi)
	if err != nil {
		return nil, fmt.Errorf("%w: enregistrement de l'intent: %v", apperr.ErrUnavailable, err)
	}

	zap.L().Info("💳 intent créé",
		zap.String("order_id", o.ID),
		zap.String("intent_id", pi.ID),
		zap.Int64("amount", pi.Amount),
		zap.String("superseded", superseded))
	return &pi, nil
}

// createRemote borne l'appel à la passerelle par IntentTimeout.
func (a *Adapter) createRemote(ctx context.Context, req IntentRequest) (*RemoteIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.IntentTimeout)
	defer cancel()

	type result struct {
		intent *RemoteIntent
		err    error
	}
	done := make(chan result, 1)
	go func() {
		intent, err := a.gateway.CreateIntent(ctx, req)
		done <- result{intent, err}
	}()

	select {
	case r := <-done:
		return r.intent, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallbackOutcome décrit l'effet d'un callback authentifié.
type CallbackOutcome string

const (
	OutcomeConfirmed CallbackOutcome = "confirmed"
	OutcomeIgnored   CallbackOutcome = "ignored"
)

type CallbackResult struct {
	Outcome CallbackOutcome `json:"outcome"`
	OrderID string          `json:"order_id,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// VerifyCallback authentifie le callback avant toute lecture ou écriture, puis
// confirme le paiement de la commande correspondant à l'intent actif.
func (a *Adapter) VerifyCallback(ctx context.Context, payload []byte, signature string) (*CallbackResult, error) {
	// Sans secret, n'importe qui signerait avec la clé vide : on refuse tout.
	if a.cfg.WebhookSecret == "" {
		zap.L().Error("🚫 callback refusé : STRIPE_WEBHOOK_SECRET non configuré")
		a.audit(ctx, utils.ActionCallbackRejected, "", false, "secret de webhook non configuré")
		return nil, fmt.Errorf("%w: secret de webhook non configuré", apperr.ErrSignatureInvalid)
	}
	if err := webhook.ValidatePayload(payload, signature, a.cfg.WebhookSecret); err != nil {
		zap.L().Warn("🚫 signature de callback invalide", zap.Error(err))
		a.audit(ctx, utils.ActionCallbackRejected, "", false, err.Error())
		return nil, fmt.Errorf("%w: %v", apperr.ErrSignatureInvalid, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, apperr.Invalid("payload", "événement illisible")
	}
	if event.Type != EventPaymentSucceeded {
		return a.ignore(ctx, "", "événement "+string(event.Type)), nil
	}
	if event.Data == nil {
		return nil, apperr.Invalid("payload", "événement sans données")
	}

	var remote stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &remote); err != nil {
		return nil, apperr.Invalid("payload", "PaymentIntent illisible")
	}

	pi, err := a.intents.Get(ctx, remote.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		return a.ignore(ctx, remote.Metadata["order_id"], "intent inconnu "+remote.ID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lecture de l'intent: %v", apperr.ErrUnavailable, err)
	}

	switch {
	case pi.State == models.IntentConsumed:
		return nil, fmt.Errorf("%w: intent %s déjà consommé", apperr.ErrAlreadyProcessed, pi.ID)
	case pi.State == models.IntentSuperseded:
		return a.ignore(ctx, pi.OrderID, "intent remplacé "+pi.ID), nil
	case remote.Metadata["order_id"] != pi.OrderID:
		return a.ignore(ctx, pi.OrderID, "commande ne correspondant pas à l'intent"), nil
	case remote.Amount != pi.Amount || !strings.EqualFold(string(remote.Currency), pi.Currency):
		return a.ignore(ctx, pi.OrderID, "montant ne correspondant pas à l'intent"), nil
	}

	o, err := a.orders.Get(ctx, pi.OrderID)
	if errors.Is(err, apperr.ErrNotFound) {
		return a.ignore(ctx, pi.OrderID, "commande introuvable"), nil
	}
	if err != nil {
		return nil, err
	}
	if o.TotalAmount != pi.Amount {
		return a.ignore(ctx, o.ID, "total de la commande modifié depuis l'intent"), nil
	}

	if o.Status == models.StatusApproved {
		o, err = a.machine.Apply(ctx, orders.Request{
			OrderID:         o.ID,
			Command:         orders.CmdRoute,
			Target:          models.StatusPaymentPending,
			Actor:           models.GatewayActor,
			ExpectedVersion: o.Version,
		})
		if err != nil {
			return nil, err
		}
	}

	o, err = a.machine.Apply(ctx, orders.Request{
		OrderID:         o.ID,
		Command:         orders.CmdConfirmGatewayPayment,
		Actor:           models.GatewayActor,
		ExpectedVersion: o.Version,
		GatewayIntentID: pi.ID,
	})
	if err != nil {
		return nil, err
	}

	if err := a.intents.MarkConsumed(ctx, pi.ID); err != nil {
		zap.L().Warn("⚠️ intent non marqué consommé", zap.String("intent_id", pi.ID), zap.Error(err))
	}
	return &CallbackResult{Outcome: OutcomeConfirmed, OrderID: o.ID}, nil
}

// SubmitPaymentProof transmet une preuve de virement. C'est une déclaration : seul un
// admin la confirme ensuite avec verify-payment.
func (a *Adapter) SubmitPaymentProof(ctx context.Context, actor models.Actor, orderID string, proof orders.ProofPayload, expectedVersion int64) (*models.Order, error) {
	if key := strings.TrimSpace(proof.ObjectKey); key != "" && a.proofs != nil {
		if !strings.HasPrefix(key, proofPrefix(orderID)) {
			return nil, apperr.Invalid("proof_object_key", "justificatif d'une autre commande")
		}
		ok, err := a.proofs.Exists(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: stockage des justificatifs: %v", apperr.ErrUnavailable, err)
		}
		if !ok {
			return nil, apperr.Invalid("proof_object_key", "justificatif introuvable")
		}
	}

	return a.machine.Apply(ctx, orders.Request{
		OrderID:         orderID,
		Command:         orders.CmdSubmitPaymentProof,
		Actor:           actor,
		ExpectedVersion: expectedVersion,
		Proof:           &proof,
	})
}

type ProofUpload struct {
	ObjectKey string    `json:"object_key"`
	UploadURL string    `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PresignProofUpload renvoie une URL d'upload direct vers le stockage objet.
func (a *Adapter) PresignProofUpload(ctx context.Context, actor models.Actor, orderID, filename string) (*ProofUpload, error) {
	if a.proofs == nil {
		return nil, fmt.Errorf("%w: stockage des justificatifs non configuré", apperr.ErrUnavailable)
	}
	o, err := a.ownedOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != models.StatusPaymentPending {
		return nil, &apperr.TransitionError{Current: string(o.Status), Requested: string(models.StatusPaymentSubmitted)}
	}

	key := proofPrefix(o.ID) + uuid.NewString() + strings.ToLower(path.Ext(filename))
	u, err := a.proofs.PresignUpload(ctx, key, ProofUploadTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnavailable, err)
	}
	return &ProofUpload{ObjectKey: key, UploadURL: u, ExpiresAt: a.now().UTC().Add(ProofUploadTTL)}, nil
}

type TransferInstructions struct {
	Beneficiary string `json:"beneficiary"`
	IBAN        string `json:"iban"`
	BIC         string `json:"bic,omitempty"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
	QRCode      string `json:"qr_code"`
}

// TransferQR produit les instructions de virement et le QR EPC pour une commande en attente de paiement.
func (a *Adapter) TransferQR(ctx context.Context, actor models.Actor, orderID string) (*TransferInstructions, error) {
	if !a.cfg.Beneficiary.Configured() {
		return nil, fmt.Errorf("%w: virement bancaire non configuré", apperr.ErrUnavailable)
	}
	o, err := a.ownedOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != models.StatusPaymentPending {
		return nil, &apperr.TransitionError{Current: string(o.Status), Requested: string(models.StatusPaymentSubmitted)}
	}

	ref := TransferReference(o.ID)
	png, err := utils.GenerateSepaQR(a.cfg.Beneficiary, o.TotalAmount, o.Currency, ref)
	if err != nil {
		return nil, err
	}
	return &TransferInstructions{
		Beneficiary: a.cfg.Beneficiary.Name,
		IBAN:        a.cfg.Beneficiary.IBAN,
		BIC:         a.cfg.Beneficiary.BIC,
		Amount:      utils.FormatAmount(o.TotalAmount),
		Currency:    strings.ToUpper(o.Currency),
		Reference:   ref,
		QRCode:      utils.DataURL(png),
	}, nil
}

// TransferReference est la communication attendue sur le virement.
func TransferReference(orderID string) string {
	id := strings.ReplaceAll(orderID, "-", "")
	if len(id) > 12 {
		id = id[:12]
	}
	return "CMD-" + strings.ToUpper(id)
}

func (a *Adapter) ownedOrder(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	if actor.Role != models.RoleCustomer {
		return nil, apperr.Forbidden("réservé au client propriétaire de la commande")
	}
	return a.machine.Get(ctx, actor, orderID)
}

func (a *Adapter) ignore(ctx context.Context, orderID, reason string) *CallbackResult {
	zap.L().Warn("ℹ️ callback sans effet", zap.String("order_id", orderID), zap.String("reason", reason))
	a.audit(ctx, utils.ActionCallbackIgnored, orderID, true, reason)
	return &CallbackResult{Outcome: OutcomeIgnored, OrderID: orderID, Reason: reason}
}

func (a *Adapter) audit(ctx context.Context, action, orderID string, success bool, msg string) {
	if a.auditor == nil {
		return
	}
	a.auditor.Record(ctx, models.AuditLog{
		UserID:     models.GatewayActor.UserID,
		UserRole:   models.GatewayActor.Role,
		Action:     action,
		Resource:   "order",
		ResourceID: orderID,
		Success:    success,
		ErrorMsg:   msg,
		Timestamp:  a.now().UTC(),
	})
}

func payable(o *models.Order) bool {
	return o.Status == models.StatusPaymentPending ||
		(o.Status == models.StatusApproved && !o.CustomizationRequired)
}

func proofPrefix(orderID string) string {
	return "proofs/" + orderID + "/"
}
