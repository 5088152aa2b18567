package memory

import (
	"context"
	"sort"
	"sync"

	"atelier_back_end/internal/apperr"
	"atelier_back_end/internal/models"
)

type storedNotification struct {
	n   models.Notification
	seq uint64
}

type NotificationRepository struct {
	mu     sync.Mutex
	seq    uint64
	byUser map[string][]*storedNotification
	ids    map[string]string // id -> recipient
}

func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{
		byUser: make(map[string][]*storedNotification),
		ids:    make(map[string]string),
	}
}

func (r *NotificationRepository) Create(_ context.Context, n models.Notification) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ids[n.ID]; exists {
		return false, nil
	}
	r.seq++
	r.ids[n.ID] = n.RecipientUserID
	r.byUser[n.RecipientUserID] = append(r.byUser[n.RecipientUserID], &storedNotification{n: n, seq: r.seq})
	return true, nil
}

func (r *NotificationRepository) List(_ context.Context, userID string, offset, limit int) ([]models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := append([]*storedNotification(nil), r.byUser[userID]...)
	sort.Slice(all, func(i, j int) bool {
		if all[i].n.CreatedAt.Equal(all[j].n.CreatedAt) {
			return all[i].seq > all[j].seq
		}
		return all[i].n.CreatedAt.After(all[j].n.CreatedAt)
	})

	if offset >= len(all) {
		return []models.Notification{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	out := make([]models.Notification, 0, end-offset)
	for _, s := range all[offset:end] {
		out = append(out, s.n)
	}
	return out, nil
}

func (r *NotificationRepository) find(userID, id string) (*storedNotification, error) {
	if r.ids[id] != userID {
		return nil, apperr.NotFound("notification", id)
	}
	for _, s := range r.byUser[userID] {
		if s.n.ID == id {
			return s, nil
		}
	}
	return nil, apperr.NotFound("notification", id)
}

func (r *NotificationRepository) MarkRead(_ context.Context, userID, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.find(userID, id)
	if err != nil {
		return false, err
	}
	if s.n.IsRead {
		return false, nil
	}
	s.n.IsRead = true
	return true, nil
}

func (r *NotificationRepository) MarkAllRead(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := 0
	for _, s := range r.byUser[userID] {
		if !s.n.IsRead {
			s.n.IsRead = true
			changed++
		}
	}
	return changed, nil
}

func (r *NotificationRepository) Delete(_ context.Context, userID, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.find(userID, id)
	if err != nil {
		return false, err
	}
	list := r.byUser[userID]
	for i := range list {
		if list[i] == s {
			r.byUser[userID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	delete(r.ids, id)
	return !s.n.IsRead, nil
}

func (r *NotificationRepository) CountUnread(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.byUser[userID] {
		if !s.n.IsRead {
			n++
		}
	}
	return n, nil
}

// UnreadCounter reproduit la sémantique du compteur Redis : Add est ignoré tant
// que le compteur n'a pas été initialisé par Set.
type UnreadCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	epochs map[string]int64
}

func NewUnreadCounter() *UnreadCounter {
	return &UnreadCounter{counts: make(map[string]int64), epochs: make(map[string]int64)}
}

func (c *UnreadCounter) Get(_ context.Context, userID string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counts[userID]
	return n, ok, nil
}

func (c *UnreadCounter) Set(_ context.Context, userID string, n int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[userID] = n
	return nil
}

func (c *UnreadCounter) Add(_ context.Context, userID string, delta int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochs[userID]++
	n, ok := c.counts[userID]
	if !ok {
		return nil
	}
	n += delta
	if n < 0 {
		n = 0
	}
	c.counts[userID] = n
	return nil
}

func (c *UnreadCounter) Epoch(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochs[userID], nil
}

func (c *UnreadCounter) Prime(_ context.Context, userID string, n, epoch int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.counts[userID]; ok || c.epochs[userID] != epoch {
		return false, nil
	}
	c.counts[userID] = n
	return true, nil
}
