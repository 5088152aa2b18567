package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"

	"atelier_back_end/internal/cache"
	"atelier_back_end/internal/chat"
	"atelier_back_end/internal/handlers"
	"atelier_back_end/internal/models"
	"atelier_back_end/internal/notifications"
	"atelier_back_end/internal/orders"
	"atelier_back_end/internal/payment"
	"atelier_back_end/internal/repository/memory"
	"atelier_back_end/internal/utils"
	"atelier_back_end/internal/workflow"
)

const (
	jwtSecret     = "jwt-test-secret"
	webhookSecret = "whsec_test"
)

var (
	customer = models.Actor{UserID: "cust-1", Email: "client@example.com", Role: models.RoleCustomer}
	stranger = models.Actor{UserID: "cust-2", Role: models.RoleCustomer}
	admin    = models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
)

func init() {
	gin.SetMode(gin.TestMode)
}

// syncQueue livre immédiatement dans le handler de consommation.
type syncQueue struct {
	mu      sync.Mutex
	handler notifications.Handler
}

func (q *syncQueue) Publish(ctx context.Context, n models.Notification) error {
	q.mu.Lock()
	h := q.handler
	q.mu.Unlock()
	if h == nil {
		return notifications.ErrQueueClosed
	}
	return h(ctx, n)
}

func (q *syncQueue) Consume(_ context.Context, h notifications.Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = h
	return nil
}

func (q *syncQueue) Close() error { return nil }

type stubGateway struct {
	mu    sync.Mutex
	calls int
}

func (g *stubGateway) CreateIntent(_ context.Context, _ payment.IntentRequest) (*payment.RemoteIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return &payment.RemoteIntent{ID: fmt.Sprintf("pi_%d", g.calls), ClientSecret: fmt.Sprintf("pi_%d_secret", g.calls)}, nil
}

type server struct {
	engine *gin.Engine
	tokens map[string]string
}

func newServer(t *testing.T) *server {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	queue := &syncQueue{}
	dispatcher := notifications.NewDispatcher(memory.NewNotificationRepository(), cache.NewUnreadCounter(rdb), queue)
	require.NoError(t, queue.Consume(context.Background(), dispatcher.Deliver))

	store := memory.NewOrderRepository()
	machine := orders.NewMachine(store, dispatcher)
	adapter := payment.NewAdapter(&stubGateway{}, payment.NewRedisIntentStore(rdb), machine, store, payment.Config{
		WebhookSecret: webhookSecret,
		Beneficiary:   utils.Beneficiary{Name: "Atelier SRL", IBAN: "BE68539007547034", BIC: "KREDBEBB"},
	})

	h := handlers.New(handlers.Deps{
		Orders:        machine,
		Approval:      workflow.NewApproval(machine),
		Payments:      adapter,
		Notifications: dispatcher,
		Chat:          chat.NewService(memory.NewChatRepository(), machine, dispatcher),
	})

	r := gin.New()
	RegisterRoutes(r, h, Options{
		JWTSecret: jwtSecret,
		Limiter:   cache.NewRateLimiter(rdb, 1000, time.Minute),
		Auditor:   memory.NewAuditRecorder(),
	})

	s := &server{engine: r, tokens: map[string]string{}}
	for _, a := range []models.Actor{customer, stranger, admin} {
		tok, err := utils.GenerateJWT(a, jwtSecret, time.Hour)
		require.NoError(t, err)
		s.tokens[a.UserID] = tok
	}
	return s
}

func (s *server) do(t *testing.T, actor *models.Actor, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+s.tokens[actor.UserID])
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

func (s *server) webhook(t *testing.T, payload []byte, signature string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func checkout(customized bool) map[string]any {
	in := map[string]any{
		"items": []map[string]any{
			{"reference_id": "prod-1", "reference_kind": "product", "name": "Bol", "quantity": 2, "unit_price": 300},
		},
		"delivery_method":        "pickup",
		"customization_required": customized,
		"delivery_date":          time.Now().AddDate(0, 0, 10).UTC().Format(time.RFC3339),
	}
	if customized {
		in["customization_details"] = "Gravure du prénom"
	}
	return in
}

func (s *server) createOrder(t *testing.T, customized bool) string {
	t.Helper()
	code, body := s.do(t, &customer, http.MethodPost, "/api/orders", checkout(customized))
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "pending_approval", body["status"])
	return body["id"].(string)
}

func succeededEvent(t *testing.T, intentID, orderID string, amount int64) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":     "evt_" + intentID,
		"object": "event",
		"type":   payment.EventPaymentSucceeded,
		"data": map[string]any{
			"object": map[string]any{
				"id":       intentID,
				"object":   "payment_intent",
				"amount":   amount,
				"currency": "eur",
				"metadata": map[string]string{"order_id": orderID},
			},
		},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
	return payload, signed.Header
}

func TestAuthAndAdminGates(t *testing.T) {
	s := newServer(t)

	code, _ := s.do(t, nil, http.MethodGet, "/api/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	id := s.createOrder(t, false)

	code, body := s.do(t, &customer, http.MethodPost, "/api/admin/orders/"+id+"/approve", nil)
	assert.Equal(t, http.StatusForbidden, code, body)

	code, body = s.do(t, &stranger, http.MethodGet, "/api/orders/"+id, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", body["error"])

	code, _ = s.do(t, &admin, http.MethodPost, "/api/admin/orders/"+id+"/confirm-gateway-payment", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = s.do(t, &customer, http.MethodGet, "/api/orders/unknown", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["error"])
}

func TestCheckoutValidation(t *testing.T) {
	s := newServer(t)

	code, _ := s.do(t, &customer, http.MethodPost, "/api/orders", map[string]any{"delivery_method": "pickup"})
	assert.Equal(t, http.StatusBadRequest, code)

	in := checkout(false)
	in["delivery_method"] = "delivery"
	code, body := s.do(t, &customer, http.MethodPost, "/api/orders", in)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", body["error"])
}

func TestGatewayPaymentFlow(t *testing.T) {
	s := newServer(t)
	id := s.createOrder(t, false)

	code, body := s.do(t, &admin, http.MethodPost, "/api/admin/orders/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "payment_pending", body["status"])

	code, body = s.do(t, &admin, http.MethodPost, "/api/admin/orders/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "payment_pending", body["status"])

	code, body = s.do(t, &admin, http.MethodPost, "/api/admin/orders/"+id+"/mark-ready", nil)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", body["error"])
	assert.Equal(t, "payment_pending", body["current"])
	assert.Equal(t, "ready_for_delivery", body["requested"])

	code, body = s.do(t, &customer, http.MethodPost, "/api/orders/"+id+"/payment-intent", nil)
	require.Equal(t, http.StatusCreated, code, body)
	intentID := body["intent_id"].(string)
	assert.NotEmpty(t, body["client_secret"])

	payload, sig := succeededEvent(t, intentID, id, 600)

	code, _ = s.webhook(t, payload, "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, code)
	_, body = s.do(t, &customer, http.MethodGet, "/api/orders/"+id, nil)
	assert.Equal(t, "payment_pending", body["status"])

	code, body = s.webhook(t, payload, sig)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "confirmed", body["outcome"])

	code, body = s.webhook(t, payload, sig)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "already_processed", body["outcome"])

	_, body = s.do(t, &customer, http.MethodGet, "/api/orders/"+id, nil)
	assert.Equal(t, "paid", body["status"])

	code, body = s.do(t, &admin, http.MethodPost, "/api/admin/orders/"+id+"/verify-payment", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_processed", body["error"])
}

func TestManualTransferFlow(t *testing.T) {
	s := newServer(t)
	id := s.createOrder(t, false)
	code, _ := s.do(t, &admin, http.MethodPost, "/api/admin/orders/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := s.do(t, &customer, http.MethodGet, "/api/orders/"+id+"/transfer", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "6.00", body["amount"])
	assert.Contains(t, body["qr_code"], "data:image/png;base64,")

	code, body = s.do(t, &customer, http.MethodPost, "/api/orders/"+id+"/payment-proof/upload-url", map[string]any{"filename": "preuve.pdf"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body["error"])

	code, body = s.do(t, &customer, http.MethodPost, "/api/orders/"+id+"/payment-proof", map[string]any{"reference_id": "VIR-001"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "payment_submitted", body["status"])

	code, body = s.do(t, &admin, http.MethodPost, "/api/admin/orders/"+id+"/reject-payment", map[string]any{"notes": "montant incomplet"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "payment_pending", body["status"])

	code, _ = s.do(t, &customer, http.MethodPost, "/api/orders/"+id+"/payment-proof", map[string]any{"reference_id": "VIR-002"})
	require.Equal(t, http.StatusOK, code)

	code, body = s.do(t, &admin, http.MethodPost, "/api/admin/orders/"+id+"/verify-payment", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "paid", body["status"])

	for _, step := range []struct{ cmd, status string }{
		{"start-production", "in_progress"},
		{"mark-ready", "ready_for_delivery"},
		{"mark-collected", "completed"},
	} {
		code, body = s.do(t, &admin, http.MethodPost, "/api/admin/orders/"+id+"/"+step.cmd, nil)
		require.Equal(t, http.StatusOK, code, body)
		assert.Equal(t, step.status, body["status"])
	}
}

func TestCustomizationAndChat(t *testing.T) {
	s := newServer(t)
	id := s.createOrder(t, true)

	code, body := s.do(t, &customer, http.MethodPost, "/api/orders/"+id+"/messages", map[string]any{"content": "Bonjour"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "chat_closed", body["error"])

	code, body = s.do(t, &admin, http.MethodPost, "/api/admin/orders/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "customization_pending", body["status"])
	assert.Equal(t, true, body["chat_enabled"])

	code, _ = s.do(t, &customer, http.MethodPost, "/api/orders/"+id+"/messages", map[string]any{"content": "Bonjour"})
	require.Equal(t, http.StatusCreated, code)
	code, _ = s.do(t, &admin, http.MethodPost, "/api/orders/"+id+"/messages", map[string]any{"content": "Gravure possible"})
	require.Equal(t, http.StatusCreated, code)

	code, body = s.do(t, &admin, http.MethodPost, "/api/admin/orders/"+id+"/set-customization-price", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "price", body["field"])

	code, body = s.do(t, &admin, http.MethodPost, "/api/admin/orders/"+id+"/set-customization-price", map[string]any{"price": 250})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "payment_pending", body["status"])
	assert.EqualValues(t, 850, body["total_amount"])
	assert.Equal(t, false, body["chat_enabled"])

	code, body = s.do(t, &customer, http.MethodGet, "/api/orders/"+id+"/messages", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["count"])

	code, body = s.do(t, &customer, http.MethodPost, "/api/orders/"+id+"/cancel", map[string]any{"notes": "changement d'avis"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "cancelled", body["status"])
}

func TestStaleVersionConflict(t *testing.T) {
	s := newServer(t)
	id := s.createOrder(t, false)

	code, body := s.do(t, &admin, http.MethodPost, "/api/admin/orders/"+id+"/reject", map[string]any{"expected_version": 7})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "conflict", body["error"])
}

func TestNotificationEndpoints(t *testing.T) {
	s := newServer(t)
	id := s.createOrder(t, false)
	code, _ := s.do(t, &admin, http.MethodPost, "/api/admin/orders/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, code)

	// commande créée -> canal admins ; validation + routage -> client
	code, body := s.do(t, &admin, http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["unread"])

	code, body = s.do(t, &customer, http.MethodGet, "/api/notifications/unread-count", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["unread"])

	_, body = s.do(t, &customer, http.MethodGet, "/api/notifications?page_size=1", nil)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	first := items[0].(map[string]any)["id"].(string)

	code, _ = s.do(t, &stranger, http.MethodPatch, "/api/notifications/"+first+"/read", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, &customer, http.MethodPatch, "/api/notifications/"+first+"/read", nil)
	require.Equal(t, http.StatusNoContent, code)
	_, body = s.do(t, &customer, http.MethodGet, "/api/notifications/unread-count", nil)
	assert.EqualValues(t, 1, body["unread"])

	code, body = s.do(t, &customer, http.MethodPatch, "/api/notifications/read-all", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["updated"])

	code, _ = s.do(t, &customer, http.MethodDelete, "/api/notifications/"+first, nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, body = s.do(t, &admin, http.MethodPost, "/api/admin/notifications", map[string]any{
		"recipients": []string{"cust-2", "cust-2"},
		"title":      "Atelier fermé",
		"message":    "L'atelier sera fermé lundi.",
		"priority":   "high",
	})
	require.Equal(t, http.StatusCreated, code, body)
	assert.EqualValues(t, 1, body["count"])

	code, _ = s.do(t, &customer, http.MethodPost, "/api/admin/notifications", map[string]any{
		"recipients": []string{"cust-2"}, "title": "x", "message": "y",
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, &customer, http.MethodGet, "/api/notifications/ws", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
