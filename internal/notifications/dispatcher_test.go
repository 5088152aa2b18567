package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atelier_back_end/internal/apperr"
	"atelier_back_end/internal/models"
	"atelier_back_end/internal/repository/memory"
)

// flakyQueue échoue tant que down est vrai et garde l'ordre de publication.
type flakyQueue struct {
	mu        sync.Mutex
	down      bool
	published []models.Notification
}

func (q *flakyQueue) Publish(_ context.Context, n models.Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.down {
		return errors.New("broker indisponible")
	}
	q.published = append(q.published, n)
	return nil
}

func (q *flakyQueue) Consume(context.Context, Handler) error { return nil }
func (q *flakyQueue) Close() error                           { return nil }

func (q *flakyQueue) setDown(v bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.down = v
}

func (q *flakyQueue) titles() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.published))
	for _, n := range q.published {
		out = append(out, n.Title)
	}
	return out
}

type recordingPusher struct {
	mu     sync.Mutex
	pushed []models.Notification
}

func (p *recordingPusher) Push(_ context.Context, n models.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, n)
	return nil
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []string
	done chan struct{}
}

func (m *recordingMailer) Send(_ context.Context, to, _, _ string) error {
	m.mu.Lock()
	m.sent = append(m.sent, to)
	m.mu.Unlock()
	m.done <- struct{}{}
	return nil
}

func note(recipient, title string) models.Notification {
	return models.Notification{
		RecipientUserID: recipient,
		Type:            models.NotificationOrderStatusChanged,
		Title:           title,
		Message:         title,
	}
}

func TestEnqueueKeepsOrderAcrossFailures(t *testing.T) {
	q := &flakyQueue{}
	d := NewDispatcher(memory.NewNotificationRepository(), memory.NewUnreadCounter(), q)
	ctx := context.Background()

	require.NoError(t, d.Enqueue(ctx, note("u1", "soumise")))
	q.setDown(true)
	require.NoError(t, d.Enqueue(ctx, note("u1", "vérifiée")))
	q.setDown(false)
	// Le broker est revenu mais la notification précédente attend encore : celle-ci passe derrière.
	require.NoError(t, d.Enqueue(ctx, note("u1", "en préparation")))
	require.NoError(t, d.Enqueue(ctx, note("u2", "autre client")))

	assert.Equal(t, 2, d.Pending())
	assert.Equal(t, []string{"soumise", "autre client"}, q.titles())

	assert.Equal(t, 2, d.RetrySweep(ctx))
	assert.Equal(t, 0, d.Pending())
	assert.Equal(t, []string{"soumise", "autre client", "vérifiée", "en préparation"}, q.titles())
}

func TestRetrySweepStopsAtFirstFailure(t *testing.T) {
	q := &flakyQueue{down: true}
	d := NewDispatcher(memory.NewNotificationRepository(), memory.NewUnreadCounter(), q)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Enqueue(ctx, note("u1", fmt.Sprintf("n%d", i))))
	}
	assert.Equal(t, 0, d.RetrySweep(ctx))
	assert.Equal(t, 3, d.Pending())

	q.setDown(false)
	assert.Equal(t, 3, d.RetrySweep(ctx))
	assert.Equal(t, []string{"n0", "n1", "n2"}, q.titles())
}

func TestEnqueueValidation(t *testing.T) {
	d := NewDispatcher(memory.NewNotificationRepository(), memory.NewUnreadCounter(), &flakyQueue{})
	ctx := context.Background()

	err := d.Enqueue(ctx, models.Notification{Type: models.NotificationAdminAction, Title: "x", Message: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	bad := note("u1", "x")
	bad.Priority = "critique"
	assert.ErrorIs(t, d.Enqueue(ctx, bad), apperr.ErrValidation)
}

func TestDeliverThroughLaneQueue(t *testing.T) {
	store := memory.NewNotificationRepository()
	counter := memory.NewUnreadCounter()
	queue := NewLaneQueue(4, 16)
	pusher := &recordingPusher{}
	d := NewDispatcher(store, counter, queue, WithPusher(pusher))
	ctx := context.Background()

	require.NoError(t, counter.Set(ctx, "u1", 0))
	require.NoError(t, queue.Consume(ctx, d.Deliver))

	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		n := note("u1", fmt.Sprintf("étape %d", i))
		n.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, d.Enqueue(ctx, n))
	}
	require.NoError(t, queue.Close())

	page, err := d.ListFor(ctx, "u1", 1, 3)
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "étape 4", page.Items[0].Title)
	assert.Equal(t, "étape 2", page.Items[2].Title)
	assert.Equal(t, int64(5), page.Unread)

	pusher.mu.Lock()
	require.Len(t, pusher.pushed, 5)
	for i, n := range pusher.pushed {
		assert.Equal(t, fmt.Sprintf("étape %d", i), n.Title)
	}
	pusher.mu.Unlock()
}

func TestDeliverIsIdempotent(t *testing.T) {
	store := memory.NewNotificationRepository()
	counter := memory.NewUnreadCounter()
	d := NewDispatcher(store, counter, &flakyQueue{})
	ctx := context.Background()

	n, err := d.prepare(note("u1", "x"))
	require.NoError(t, err)
	require.NoError(t, counter.Set(ctx, "u1", 0))

	require.NoError(t, d.Deliver(ctx, n))
	require.NoError(t, d.Deliver(ctx, n))

	count, err := d.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestUnreadCounterLifecycle(t *testing.T) {
	store := memory.NewNotificationRepository()
	counter := memory.NewUnreadCounter()
	d := NewDispatcher(store, counter, &flakyQueue{})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		n, err := d.prepare(note("u1", fmt.Sprintf("n%d", i)))
		require.NoError(t, err)
		require.NoError(t, d.Deliver(ctx, n))
		ids = append(ids, n.ID)
	}

	// Compteur absent : reconstruit depuis le stockage.
	count, err := d.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.NoError(t, d.MarkRead(ctx, "u1", ids[0]))
	require.NoError(t, d.MarkRead(ctx, "u1", ids[0]))
	count, _ = d.UnreadCount(ctx, "u1")
	assert.Equal(t, int64(2), count)

	require.NoError(t, d.Delete(ctx, "u1", ids[1]))
	count, _ = d.UnreadCount(ctx, "u1")
	assert.Equal(t, int64(1), count)

	assert.ErrorIs(t, d.MarkRead(ctx, "u2", ids[2]), apperr.ErrNotFound)
	assert.ErrorIs(t, d.Delete(ctx, "u2", ids[2]), apperr.ErrNotFound)

	changed, err := d.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	count, _ = d.UnreadCount(ctx, "u1")
	assert.Equal(t, int64(0), count)

	page, err := d.ListFor(ctx, "u1", 1, 0)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, DefaultPageSize, page.PageSize)
}

// racingStore livre une notification juste après le comptage, comme un consommateur
// concurrent entre CountUnread et l'initialisation du compteur.
type racingStore struct {
	*memory.NotificationRepository
	afterCount func()
}

func (s *racingStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	n, err := s.NotificationRepository.CountUnread(ctx, userID)
	if hook := s.afterCount; hook != nil {
		s.afterCount = nil
		hook()
	}
	return n, err
}

func TestUnreadCountRebuildDoesNotLoseConcurrentDelivery(t *testing.T) {
	store := &racingStore{NotificationRepository: memory.NewNotificationRepository()}
	counter := memory.NewUnreadCounter()
	d := NewDispatcher(store, counter, &flakyQueue{})
	ctx := context.Background()

	first, err := d.prepare(note("u1", "première"))
	require.NoError(t, err)
	require.NoError(t, d.Deliver(ctx, first))

	second, err := d.prepare(note("u1", "seconde"))
	require.NoError(t, err)
	store.afterCount = func() { require.NoError(t, d.Deliver(ctx, second)) }

	count, err := d.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "valeur lue avant la livraison concurrente")
	_, ok, _ := counter.Get(ctx, "u1")
	assert.False(t, ok, "une reconstruction périmée n'initialise pas le compteur")

	count, err = d.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	third, err := d.prepare(note("u1", "troisième"))
	require.NoError(t, err)
	require.NoError(t, d.Deliver(ctx, third))
	count, _ = d.UnreadCount(ctx, "u1")
	assert.Equal(t, int64(3), count)
}

func TestSendAdmin(t *testing.T) {
	store := memory.NewNotificationRepository()
	d := NewDispatcher(store, memory.NewUnreadCounter(), &flakyQueue{down: true})
	ctx := context.Background()

	msg := AdminMessage{Recipients: []string{"u1", "u2", "u1", " "}, Title: "Fermeture", Message: "Atelier fermé lundi"}

	_, err := d.SendAdmin(ctx, models.Actor{UserID: "u1", Role: models.RoleCustomer}, msg)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	sent, err := d.SendAdmin(ctx, models.Actor{UserID: "a1", Role: models.RoleAdmin}, msg)
	require.NoError(t, err)
	require.Len(t, sent, 2)
	assert.Equal(t, models.NotificationAdminAction, sent[0].Type)
	assert.Equal(t, models.PriorityMedium, sent[0].Priority)
	assert.Equal(t, 0, d.Pending(), "les envois admin ne passent pas par la file")

	list, err := store.List(ctx, "u2", 0, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestHighPriorityIsMailed(t *testing.T) {
	mailer := &recordingMailer{done: make(chan struct{}, 4)}
	d := NewDispatcher(memory.NewNotificationRepository(), memory.NewUnreadCounter(), &flakyQueue{},
		WithMailer(mailer, "atelier@example.com"))
	ctx := context.Background()

	low, err := d.prepare(note("u1", "info"))
	require.NoError(t, err)
	require.NoError(t, d.Deliver(ctx, low))

	high := note("u1", "paiement confirmé")
	high.Priority = models.PriorityHigh
	high.RecipientEmail = "client@example.com"
	high, err = d.prepare(high)
	require.NoError(t, err)
	require.NoError(t, d.Deliver(ctx, high))

	admins := note(models.AdminChannel, "preuve reçue")
	admins.Priority = models.PriorityUrgent
	admins, err = d.prepare(admins)
	require.NoError(t, err)
	require.NoError(t, d.Deliver(ctx, admins))

	for i := 0; i < 2; i++ {
		select {
		case <-mailer.done:
		case <-time.After(2 * time.Second):
			t.Fatal("e-mail non envoyé")
		}
	}
	mailer.mu.Lock()
	defer mailer.mu.Unlock()
	assert.ElementsMatch(t, []string{"client@example.com", "atelier@example.com"}, mailer.sent)
}
