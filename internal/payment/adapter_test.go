package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"

	"atelier_back_end/internal/apperr"
	"atelier_back_end/internal/models"
	"atelier_back_end/internal/orders"
	"atelier_back_end/internal/repository/memory"
	"atelier_back_end/internal/utils"
)

const testSecret = "whsec_test_secret"

var (
	customer = models.Actor{UserID: "cust-1", Email: "client@example.com", Role: models.RoleCustomer}
	admin    = models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
)

type fakeGateway struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	err   error
}

func (g *fakeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*RemoteIntent, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &RemoteIntent{ID: fmt.Sprintf("pi_%d", n), ClientSecret: fmt.Sprintf("pi_%d_secret", n)}, nil
}

type fakeProofs struct {
	objects map[string]bool
}

func (f *fakeProofs) PresignUpload(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://minio.local/proofs-bucket/" + key + "?X-Amz-Signature=abc", nil
}

func (f *fakeProofs) Exists(_ context.Context, key string) (bool, error) {
	return f.objects[key], nil
}

type fixture struct {
	adapter *Adapter
	machine *orders.Machine
	store   *memory.OrderRepository
	gateway *fakeGateway
	intents *RedisIntentStore
	audit   *memory.AuditRecorder
	proofs  *fakeProofs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := memory.NewOrderRepository()
	machine := orders.NewMachine(store, nil)
	f := &fixture{
		machine: machine,
		store:   store,
		gateway: &fakeGateway{},
		intents: NewRedisIntentStore(rdb),
		audit:   memory.NewAuditRecorder(),
		proofs:  &fakeProofs{objects: map[string]bool{}},
	}
	f.adapter = NewAdapter(f.gateway, f.intents, machine, store, Config{
		WebhookSecret: testSecret,
		IntentTimeout: 200 * time.Millisecond,
		Beneficiary:   utils.Beneficiary{Name: "Atelier SRL", IBAN: "BE68539007547034", BIC: "KREDBEBB"},
	}, WithAuditor(f.audit), WithProofStore(f.proofs))
	return f
}

// newOrder crée une commande en retrait de 600 et la fait avancer jusqu'à status.
func (f *fixture) newOrder(t *testing.T, status models.OrderStatus) *models.Order {
	t.Helper()
	ctx := context.Background()
	o, err := f.machine.Create(ctx, customer, orders.CheckoutInput{
		Items:          []models.OrderItem{{ReferenceID: "p-1", Quantity: 2, UnitPrice: 300}},
		DeliveryMethod: models.DeliveryPickup,
		DeliveryDate:   time.Now().AddDate(0, 0, 5),
	})
	require.NoError(t, err)
	if status == models.StatusPendingApproval {
		return o
	}
	o, err = f.machine.Apply(ctx, orders.Request{OrderID: o.ID, Command: orders.CmdApprove, Actor: admin})
	require.NoError(t, err)
	if status == models.StatusApproved {
		return o
	}
	o, err = f.machine.Apply(ctx, orders.Request{OrderID: o.ID, Command: orders.CmdRoute, Target: models.StatusPaymentPending, Actor: admin})
	require.NoError(t, err)
	return o
}

func signedEvent(t *testing.T, eventType, intentID, orderID string, amount int64) (payload []byte, header string) {
	t.Helper()
	event := map[string]any{
		"id":     "evt_" + intentID,
		"object": "event",
		"type":   eventType,
		"data": map[string]any{
			"object": map[string]any{
				"id":       intentID,
				"object":   "payment_intent",
				"amount":   amount,
				"currency": "eur",
				"status":   "succeeded",
				"metadata": map[string]string{"order_id": orderID, "user_id": customer.UserID},
			},
		},
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return payload, signed.Header
}

func TestCreateIntentAndConfirmCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.newOrder(t, models.StatusPaymentPending)

	pi, err := f.adapter.CreateIntent(ctx, customer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(600), pi.Amount)
	assert.Equal(t, models.IntentActive, pi.State)
	assert.NotEmpty(t, pi.ClientSecret)

	payload, header := signedEvent(t, EventPaymentSucceeded, pi.ID, o.ID, 600)
	res, err := f.adapter.VerifyCallback(ctx, payload, header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)

	stored, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, stored.Status)
	assert.Equal(t, pi.ID, stored.PaymentReference.GatewayIntentID)

	// Rejeu du même callback signé.
	_, err = f.adapter.VerifyCallback(ctx, payload, header)
	assert.ErrorIs(t, err, apperr.ErrAlreadyProcessed)
	again, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.Version, again.Version)
}

func TestCallbackRoutesApprovedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.newOrder(t, models.StatusApproved)

	pi, err := f.adapter.CreateIntent(ctx, customer, o.ID)
	require.NoError(t, err)

	payload, header := signedEvent(t, EventPaymentSucceeded, pi.ID, o.ID, 600)
	_, err = f.adapter.VerifyCallback(ctx, payload, header)
	require.NoError(t, err)

	stored, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, stored.Status)
	last := stored.History[len(stored.History)-2:]
	assert.Equal(t, models.StatusPaymentPending, last[0].To)
	assert.Equal(t, models.StatusPaid, last[1].To)
}

func TestInvalidSignatureNeverChangesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.newOrder(t, models.StatusPaymentPending)
	pi, err := f.adapter.CreateIntent(ctx, customer, o.ID)
	require.NoError(t, err)

	payload, header := signedEvent(t, EventPaymentSucceeded, pi.ID, o.ID, 600)
	forged := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  "whsec_autre_secret",
	})

	cases := map[string]struct {
		payload []byte
		header  string
	}{
		"mauvais secret":    {payload, forged.Header},
		"payload modifié":   {bytes.Replace(payload, []byte(`"amount":600`), []byte(`"amount":601`), 1), header},
		"en-tête absent":    {payload, ""},
		"en-tête illisible": {payload, "t=abc,v1=zzz"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.adapter.VerifyCallback(ctx, tc.payload, tc.header)
			assert.ErrorIs(t, err, apperr.ErrSignatureInvalid)

			stored, err := f.store.Get(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusPaymentPending, stored.Status)
			assert.Equal(t, o.Version, stored.Version)
		})
	}
}

func TestCallbackRefusedWithoutWebhookSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	unsecured := NewAdapter(f.gateway, f.intents, f.machine, f.store, Config{}, WithAuditor(f.audit))

	o := f.newOrder(t, models.StatusPaymentPending)
	pi, err := unsecured.CreateIntent(ctx, customer, o.ID)
	require.NoError(t, err)

	payload, _ := signedEvent(t, EventPaymentSucceeded, pi.ID, o.ID, 600)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "",
		Timestamp: time.Now(),
	})

	res, err := unsecured.VerifyCallback(ctx, payload, signed.Header)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperr.ErrSignatureInvalid)

	stored, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaymentPending, stored.Status)
	assert.Equal(t, o.Version, stored.Version)

	assert.Eventually(t, func() bool {
		for _, e := range f.audit.Entries() {
			if e.Action == utils.ActionCallbackRejected {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestCallbackNoOpCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.newOrder(t, models.StatusPaymentPending)

	first, err := f.adapter.CreateIntent(ctx, customer, o.ID)
	require.NoError(t, err)
	second, err := f.adapter.CreateIntent(ctx, customer, o.ID)
	require.NoError(t, err)

	superseded, err := f.intents.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentSuperseded, superseded.State)

	cases := map[string][]any{
		"intent inconnu":  {"pi_inconnu", o.ID, int64(600)},
		"intent remplacé": {first.ID, o.ID, int64(600)},
		"autre commande":  {second.ID, "autre-commande", int64(600)},
		"autre montant":   {second.ID, o.ID, int64(1)},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			payload, header := signedEvent(t, EventPaymentSucceeded, args[0].(string), args[1].(string), args[2].(int64))
			res, err := f.adapter.VerifyCallback(ctx, payload, header)
			require.NoError(t, err)
			assert.Equal(t, OutcomeIgnored, res.Outcome)
		})
	}

	payload, header := signedEvent(t, "payment_intent.created", second.ID, o.ID, 600)
	res, err := f.adapter.VerifyCallback(ctx, payload, header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	stored, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaymentPending, stored.Status)

	var ignored int
	for _, e := range f.audit.Entries() {
		if e.Action == "payment.callback_ignored" {
			ignored++
		}
	}
	assert.Equal(t, 5, ignored)
}

func TestCreateIntentGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.newOrder(t, models.StatusPendingApproval)
	_, err := f.adapter.CreateIntent(ctx, customer, pending.ID)
	var terr *apperr.TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "pending_approval", terr.Current)

	o := f.newOrder(t, models.StatusPaymentPending)
	_, err = f.adapter.CreateIntent(ctx, admin, o.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.adapter.CreateIntent(ctx, models.Actor{UserID: "intrus", Role: models.RoleCustomer}, o.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestCreateIntentTimeoutLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.newOrder(t, models.StatusPaymentPending)
	f.gateway.delay = time.Second

	_, err := f.adapter.CreateIntent(ctx, customer, o.ID)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)

	stored, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaymentPending, stored.Status)
	assert.Equal(t, o.Version, stored.Version)
	assert.Nil(t, stored.PaymentReference)
}

func TestSubmitPaymentProof(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.newOrder(t, models.StatusPaymentPending)

	upload, err := f.adapter.PresignProofUpload(ctx, customer, o.ID, "Virement.PDF")
	require.NoError(t, err)
	assert.Contains(t, upload.ObjectKey, "proofs/"+o.ID+"/")
	assert.Contains(t, upload.ObjectKey, ".pdf")

	_, err = f.adapter.SubmitPaymentProof(ctx, customer, o.ID, orders.ProofPayload{ObjectKey: upload.ObjectKey}, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation, "objet pas encore envoyé")

	_, err = f.adapter.SubmitPaymentProof(ctx, customer, o.ID, orders.ProofPayload{ObjectKey: "proofs/autre/x.pdf"}, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	f.proofs.objects[upload.ObjectKey] = true
	updated, err := f.adapter.SubmitPaymentProof(ctx, customer, o.ID, orders.ProofPayload{ObjectKey: upload.ObjectKey, ReferenceID: "VIR-1"}, o.Version)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaymentSubmitted, updated.Status)
	assert.False(t, updated.PaymentReference.Verified)
}

func TestTransferQR(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.newOrder(t, models.StatusPaymentPending)

	instr, err := f.adapter.TransferQR(ctx, customer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "6.00", instr.Amount)
	assert.Equal(t, "EUR", instr.Currency)
	assert.Equal(t, TransferReference(o.ID), instr.Reference)
	assert.Contains(t, instr.QRCode, "data:image/png;base64,")

	approved := f.newOrder(t, models.StatusApproved)
	_, err = f.adapter.TransferQR(ctx, customer, approved.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}
