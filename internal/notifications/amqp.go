package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"atelier_back_end/internal/models"
)

// envelope transporte aussi l'adresse e-mail, absente du JSON public de Notification.
type envelope struct {
	Notification   models.Notification `json:"notification"`
	RecipientEmail string              `json:"recipient_email,omitempty"`
}

// AMQPQueue répartit les notifications sur des files RabbitMQ "<prefix>.<voie>".
// Chaque file a un seul consommateur actif et un prefetch de 1 : l'ordre par
// destinataire est conservé même avec plusieurs instances.
type AMQPQueue struct {
	conn   *amqp.Connection
	prefix string
	lanes  int

	mu  sync.Mutex
	pub *amqp.Channel
	chs []*amqp.Channel
}

func NewAMQPQueue(conn *amqp.Connection, prefix string, lanes int) (*AMQPQueue, error) {
	if lanes <= 0 {
		lanes = 1
	}
	q := &AMQPQueue{conn: conn, prefix: prefix, lanes: lanes}

	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	for i := 0; i < lanes; i++ {
		if _, err := ch.QueueDeclare(q.laneName(i), true, false, false, false, amqp.Table{
			"x-single-active-consumer": true,
		}); err != nil {
			ch.Close()
			return nil, fmt.Errorf("déclaration de la file %s: %w", q.laneName(i), err)
		}
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("mode confirm du canal de publication: %w", err)
	}
	q.pub = ch
	return q, nil
}

func (q *AMQPQueue) laneName(i int) string {
	return fmt.Sprintf("%s.%d", q.prefix, i)
}

func (q *AMQPQueue) Publish(ctx context.Context, n models.Notification) error {
	body, err := json.Marshal(envelope{Notification: n, RecipientEmail: n.RecipientEmail})
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pub == nil || q.pub.IsClosed() {
		ch, err := q.conn.Channel()
		if err != nil {
			return err
		}
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			return err
		}
		q.pub = ch
	}
	dc, err := q.pub.PublishWithDeferredConfirmWithContext(ctx, "", q.laneName(laneFor(n.RecipientUserID, q.lanes)), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.ID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return err
	}
	if dc == nil {
		return fmt.Errorf("%w: canal de publication hors mode confirm", ErrPublishNotConfirmed)
	}
	// Le verrou reste pris jusqu'à l'accusé du broker : l'ordre par destinataire tient.
	return awaitConfirm(ctx, dc, n.ID)
}

// ErrPublishNotConfirmed signale un message refusé (nack) ou non confirmé par le broker ;
// la notification repart alors dans le tampon de reprise du dispatcher.
var ErrPublishNotConfirmed = errors.New("publication non confirmée par le broker")

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

func awaitConfirm(ctx context.Context, c confirmation, id string) error {
	acked, err := c.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: notification %s: %v", ErrPublishNotConfirmed, id, err)
	}
	if !acked {
		return fmt.Errorf("%w: notification %s refusée", ErrPublishNotConfirmed, id)
	}
	return nil
}

// Consume ouvre un canal par voie et rend la main ; les consommateurs s'arrêtent à
// l'annulation du contexte ou à la fermeture de la connexion.
func (q *AMQPQueue) Consume(ctx context.Context, handler Handler) error {
	for i := 0; i < q.lanes; i++ {
		ch, err := q.conn.Channel()
		if err != nil {
			return err
		}
		if err := ch.Qos(1, 0, false); err != nil {
			ch.Close()
			return err
		}
		msgs, err := ch.Consume(q.laneName(i), "", false, false, false, false, nil)
		if err != nil {
			ch.Close()
			return err
		}

		q.mu.Lock()
		q.chs = append(q.chs, ch)
		q.mu.Unlock()

		go q.consumeLane(ctx, q.laneName(i), msgs, handler)
	}
	zap.L().Info("🐇 consommateurs de notifications démarrés", zap.String("prefix", q.prefix), zap.Int("lanes", q.lanes))
	return nil
}

func (q *AMQPQueue) consumeLane(ctx context.Context, lane string, msgs <-chan amqp.Delivery, handler Handler) {
	delay := retryBaseDelay
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				zap.L().Warn("⚠️ voie de notifications fermée", zap.String("lane", lane))
				return
			}

			var env envelope
			if err := json.Unmarshal(d.Body, &env); err != nil {
				zap.L().Error("❌ message de notification illisible", zap.String("lane", lane), zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			n := env.Notification
			n.RecipientEmail = env.RecipientEmail

			if err := handler(ctx, n); err != nil {
				zap.L().Warn("⚠️ livraison échouée, remise en file",
					zap.String("notification_id", n.ID),
					zap.Duration("delay", delay),
					zap.Error(err))
				select {
				case <-ctx.Done():
				case <-time.After(delay):
				}
				if delay *= 2; delay > retryMaxDelay {
					delay = retryMaxDelay
				}
				_ = d.Nack(false, true)
				continue
			}
			delay = retryBaseDelay
			_ = d.Ack(false)
		}
	}
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.chs {
		_ = ch.Close()
	}
	q.chs = nil
	if q.pub != nil {
		return q.pub.Close()
	}
	return nil
}
