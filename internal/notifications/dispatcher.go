// Package notifications livre les notifications : mise en file par destinataire,
// écriture durable, compteur de non lus, push temps réel et e-mail.
package notifications

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"atelier_back_end/internal/apperr"
	"atelier_back_end/internal/models"
	"atelier_back_end/internal/utils"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	stripes         = 64
)

type Dispatcher struct {
	store      Store
	counter    Counter
	queue      Queue
	pusher     Pusher
	mailer     Mailer
	adminEmail string
	now        func() time.Time

	locks   [stripes]sync.Mutex
	mu      sync.Mutex
	pending map[string][]models.Notification
}

type Option func(*Dispatcher)

func WithPusher(p Pusher) Option {
	return func(d *Dispatcher) { d.pusher = p }
}

// WithMailer active l'envoi par e-mail des notifications high/urgent ; adminEmail
// reçoit celles du canal admin.
func WithMailer(m Mailer, adminEmail string) Option {
	return func(d *Dispatcher) {
		d.mailer = m
		d.adminEmail = adminEmail
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(store Store, counter Counter, queue Queue, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		counter: counter,
		queue:   queue,
		now:     time.Now,
		pending: make(map[string][]models.Notification),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue publie la notification sur la file. Une publication échouée est gardée
// dans l'ordre pour le destinataire et reprise par RetrySweep ; les suivantes
// attendent derrière elle.
func (d *Dispatcher) Enqueue(ctx context.Context, n models.Notification) error {
	n, err := d.prepare(n)
	if err != nil {
		return err
	}

	lock := d.lockFor(n.RecipientUserID)
	lock.Lock()
	defer lock.Unlock()

	if d.hasPending(n.RecipientUserID) {
		d.park(n)
		return nil
	}
	if err := d.queue.Publish(ctx, n); err != nil {
		zap.L().Warn("⚠️ publication de notification échouée, reprise différée",
			zap.String("notification_id", n.ID),
			zap.String("recipient", n.RecipientUserID),
			zap.Error(err))
		d.park(n)
	}
	return nil
}

// RetrySweep republie les notifications en attente, dans l'ordre, et renvoie le
// nombre de notifications republiées.
func (d *Dispatcher) RetrySweep(ctx context.Context) int {
	d.mu.Lock()
	recipients := make([]string, 0, len(d.pending))
	for r := range d.pending {
		recipients = append(recipients, r)
	}
	d.mu.Unlock()

	published := 0
	for _, r := range recipients {
		published += d.flush(ctx, r)
	}
	if published > 0 {
		zap.L().Info("🔁 notifications republiées", zap.Int("count", published))
	}
	return published
}

// Run lance RetrySweep à intervalle régulier jusqu'à l'annulation du contexte.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RetrySweep(ctx)
		}
	}
}

func (d *Dispatcher) flush(ctx context.Context, recipient string) int {
	lock := d.lockFor(recipient)
	lock.Lock()
	defer lock.Unlock()

	d.mu.Lock()
	queue := d.pending[recipient]
	d.mu.Unlock()

	sent := 0
	for _, n := range queue {
		if err := d.queue.Publish(ctx, n); err != nil {
			zap.L().Warn("⚠️ reprise de notification échouée",
				zap.String("recipient", recipient),
				zap.Int("remaining", len(queue)-sent),
				zap.Error(err))
			break
		}
		sent++
	}

	d.mu.Lock()
	if sent == len(d.pending[recipient]) {
		delete(d.pending, recipient)
	} else {
		d.pending[recipient] = d.pending[recipient][sent:]
	}
	d.mu.Unlock()
	return sent
}

// Pending renvoie le nombre de notifications en attente de publication.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, q := range d.pending {
		total += len(q)
	}
	return total
}

// Deliver est le consommateur de la file : écriture durable, compteur, push, e-mail.
// Une erreur renvoyée fait rejouer la notification par la file.
func (d *Dispatcher) Deliver(ctx context.Context, n models.Notification) error {
	created, err := d.store.Create(ctx, n)
	if err != nil {
		return fmt.Errorf("écriture notification %s: %w", n.ID, err)
	}
	if !created {
		zap.L().Debug("notification déjà livrée", zap.String("notification_id", n.ID))
		return nil
	}

	if err := d.counter.Add(ctx, n.RecipientUserID, 1); err != nil {
		zap.L().Warn("⚠️ compteur de non lus non incrémenté", zap.String("recipient", n.RecipientUserID), zap.Error(err))
	}
	if d.pusher != nil {
		if err := d.pusher.Push(ctx, n); err != nil {
			zap.L().Warn("⚠️ push temps réel échoué", zap.String("recipient", n.RecipientUserID), zap.Error(err))
		}
	}
	d.mail(n)

	zap.L().Info("🔔 notification livrée",
		zap.String("notification_id", n.ID),
		zap.String("recipient", n.RecipientUserID),
		zap.String("type", string(n.Type)))
	return nil
}

func (d *Dispatcher) mail(n models.Notification) {
	if d.mailer == nil || (n.Priority != models.PriorityHigh && n.Priority != models.PriorityUrgent) {
		return
	}
	to := n.RecipientEmail
	if n.RecipientUserID == models.AdminChannel {
		to = d.adminEmail
	}
	if to == "" {
		return
	}

	subject, html := utils.NotificationEmail(n)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.mailer.Send(ctx, to, subject, html); err != nil {
			zap.L().Warn("⚠️ e-mail de notification non envoyé", zap.String("notification_id", n.ID), zap.Error(err))
		}
	}()
}

type Page struct {
	Items    []models.Notification `json:"items"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
	Unread   int64                 `json:"unread"`
}

// ListFor renvoie une page de notifications, les plus récentes d'abord.
func (d *Dispatcher) ListFor(ctx context.Context, userID string, page, pageSize int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	items, err := d.store.List(ctx, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}
	unread, err := d.UnreadCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Page: page, PageSize: pageSize, Unread: unread}, nil
}

// UnreadCount lit le compteur ; s'il est absent il est reconstruit depuis le stockage.
func (d *Dispatcher) UnreadCount(ctx context.Context, userID string) (int64, error) {
	n, ok, err := d.counter.Get(ctx, userID)
	if err == nil && ok {
		return n, nil
	}
	if err != nil {
		zap.L().Warn("⚠️ compteur de non lus indisponible", zap.String("user_id", userID), zap.Error(err))
	}

	epoch, epochErr := d.counter.Epoch(ctx, userID)
	n, err = d.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, err
	}
	if epochErr != nil {
		return n, nil
	}
	primed, err := d.counter.Prime(ctx, userID, n, epoch)
	if err != nil {
		zap.L().Warn("⚠️ compteur de non lus non initialisé", zap.String("user_id", userID), zap.Error(err))
	} else if !primed {
		zap.L().Debug("🔁 reconstruction du compteur abandonnée, livraison concurrente", zap.String("user_id", userID))
	}
	return n, nil
}

func (d *Dispatcher) MarkRead(ctx context.Context, userID, id string) error {
	changed, err := d.store.MarkRead(ctx, userID, id)
	if err != nil {
		return err
	}
	if changed {
		d.adjust(ctx, userID, -1)
	}
	return nil
}

func (d *Dispatcher) MarkAllRead(ctx context.Context, userID string) (int, error) {
	changed, err := d.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := d.counter.Set(ctx, userID, 0); err != nil {
		zap.L().Warn("⚠️ compteur de non lus non remis à zéro", zap.String("user_id", userID), zap.Error(err))
	}
	return changed, nil
}

func (d *Dispatcher) Delete(ctx context.Context, userID, id string) error {
	wasUnread, err := d.store.Delete(ctx, userID, id)
	if err != nil {
		return err
	}
	if wasUnread {
		d.adjust(ctx, userID, -1)
	}
	return nil
}

func (d *Dispatcher) adjust(ctx context.Context, userID string, delta int64) {
	if err := d.counter.Add(ctx, userID, delta); err != nil {
		zap.L().Warn("⚠️ compteur de non lus non ajusté", zap.String("user_id", userID), zap.Error(err))
	}
}

// AdminMessage est une notification rédigée par un admin, hors machine à états.
type AdminMessage struct {
	Recipients        []string
	Type              models.NotificationType
	Title             string
	Message           string
	Priority          models.Priority
	RelatedEntityID   string
	RelatedEntityKind string
	RedirectHint      string
}

// SendAdmin crée directement une notification par destinataire, sans passer par la file.
func (d *Dispatcher) SendAdmin(ctx context.Context, actor models.Actor, msg AdminMessage) ([]models.Notification, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("envoi de notification réservé aux administrateurs")
	}
	if len(msg.Recipients) == 0 {
		return nil, apperr.Invalid("recipients", "au moins un destinataire")
	}
	if msg.Type == "" {
		msg.Type = models.NotificationAdminAction
	}

	seen := make(map[string]bool, len(msg.Recipients))
	out := make([]models.Notification, 0, len(msg.Recipients))
	for _, r := range msg.Recipients {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true

		n, err := d.prepare(models.Notification{
			RecipientUserID:   r,
			Type:              msg.Type,
			Title:             msg.Title,
			Message:           msg.Message,
			Priority:          msg.Priority,
			RelatedEntityID:   msg.RelatedEntityID,
			RelatedEntityKind: msg.RelatedEntityKind,
			RedirectHint:      msg.RedirectHint,
		})
		if err != nil {
			return out, err
		}
		if err := d.Deliver(ctx, n); err != nil {
			return out, err
		}
		out = append(out, n)
	}

	zap.L().Info("📣 notification admin envoyée", zap.String("admin", actor.UserID), zap.Int("recipients", len(out)))
	return out, nil
}

func (d *Dispatcher) prepare(n models.Notification) (models.Notification, error) {
	if strings.TrimSpace(n.RecipientUserID) == "" {
		return n, apperr.Invalid("recipient_user_id", "requis")
	}
	if !n.Type.Valid() {
		return n, apperr.Invalid("type", "type inconnu "+string(n.Type))
	}
	if strings.TrimSpace(n.Title) == "" || strings.TrimSpace(n.Message) == "" {
		return n, apperr.Invalid("message", "titre et message requis")
	}
	if n.Priority == "" {
		n.Priority = models.PriorityMedium
	}
	if !n.Priority.Valid() {
		return n, apperr.Invalid("priority", "priorité inconnue "+string(n.Priority))
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now().UTC()
	}
	n.IsRead = false
	return n, nil
}

func (d *Dispatcher) lockFor(recipient string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(recipient))
	return &d.locks[h.Sum32()%stripes]
}

func (d *Dispatcher) hasPending(recipient string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending[recipient]) > 0
}

func (d *Dispatcher) park(n models.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[n.RecipientUserID] = append(d.pending[n.RecipientUserID], n)
}
