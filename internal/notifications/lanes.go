package notifications

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"atelier_back_end/internal/models"
)

var ErrQueueClosed = errors.New("file de notifications fermée")

const (
	retryBaseDelay = 200 * time.Millisecond
	retryMaxDelay  = 30 * time.Second
)

// laneFor associe un destinataire à une voie : toutes ses notifications passent par
// la même voie, traitée par un seul consommateur.
func laneFor(recipient string, lanes int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(recipient))
	return int(h.Sum32() % uint32(lanes))
}

// LaneQueue est la file en mémoire : une goroutine par voie, rejeu avec backoff tant
// que le handler échoue.
type LaneQueue struct {
	lanes  []chan models.Notification
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewLaneQueue(lanes, buffer int) *LaneQueue {
	if lanes <= 0 {
		lanes = 1
	}
	q := &LaneQueue{lanes: make([]chan models.Notification, lanes)}
	for i := range q.lanes {
		q.lanes[i] = make(chan models.Notification, buffer)
	}
	return q
}

func (q *LaneQueue) Publish(ctx context.Context, n models.Notification) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.lanes[laneFor(n.RecipientUserID, len(q.lanes))] <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume démarre les consommateurs et rend la main immédiatement.
func (q *LaneQueue) Consume(ctx context.Context, handler Handler) error {
	for i := range q.lanes {
		q.wg.Add(1)
		go func(lane chan models.Notification) {
			defer q.wg.Done()
			for n := range lane {
				deliverWithRetry(ctx, handler, n)
			}
		}(q.lanes[i])
	}
	return nil
}

// Close ferme les voies et attend que les notifications déjà publiées soient traitées.
func (q *LaneQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for _, lane := range q.lanes {
		close(lane)
	}
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}

func deliverWithRetry(ctx context.Context, handler Handler, n models.Notification) {
	delay := retryBaseDelay
	for attempt := 1; ; attempt++ {
		err := handler(ctx, n)
		if err == nil {
			return
		}
		zap.L().Warn("⚠️ livraison de notification échouée",
			zap.String("notification_id", n.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			zap.L().Error("❌ notification abandonnée à l'arrêt", zap.String("notification_id", n.ID))
			return
		case <-time.After(delay):
		}
		if delay *= 2; delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}
