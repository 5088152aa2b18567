package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atelier_back_end/internal/models"
	"atelier_back_end/internal/repository/memory"
)

// brokerAck simule l'accusé différé d'un canal en mode confirm.
type brokerAck struct {
	acked bool
	err   error
	wait  time.Duration
}

func (b brokerAck) WaitContext(ctx context.Context) (bool, error) {
	if b.wait > 0 {
		select {
		case <-time.After(b.wait):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return b.acked, b.err
}

func TestAwaitConfirm(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, awaitConfirm(ctx, brokerAck{acked: true}, "n1"))

	err := awaitConfirm(ctx, brokerAck{acked: false}, "n1")
	assert.ErrorIs(t, err, ErrPublishNotConfirmed)

	err = awaitConfirm(ctx, brokerAck{err: errors.New("canal fermé")}, "n1")
	assert.ErrorIs(t, err, ErrPublishNotConfirmed)

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err = awaitConfirm(short, brokerAck{acked: true, wait: time.Second}, "n1")
	assert.ErrorIs(t, err, ErrPublishNotConfirmed)
}

// nackQueue publie "avec succès" côté client mais le broker refuse le message.
type nackQueue struct {
	flakyQueue
	nack bool
}

func (q *nackQueue) Publish(ctx context.Context, n models.Notification) error {
	if q.nack {
		return awaitConfirm(ctx, brokerAck{acked: false}, n.ID)
	}
	return q.flakyQueue.Publish(ctx, n)
}

func TestNackedPublishIsRetriedBySweep(t *testing.T) {
	ctx := context.Background()
	q := &nackQueue{nack: true}
	d := NewDispatcher(memory.NewNotificationRepository(), memory.NewUnreadCounter(), q)

	require.NoError(t, d.Enqueue(ctx, note("u1", "refusée")))
	assert.Equal(t, 1, d.Pending())

	q.nack = false
	assert.Equal(t, 1, d.RetrySweep(ctx))
	assert.Equal(t, 0, d.Pending())
	assert.Equal(t, []string{"refusée"}, q.titles())
}
