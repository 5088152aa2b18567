package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"atelier_back_end/internal/apperr"
	"atelier_back_end/internal/models"
)

const IntentTTL = 72 * time.Hour

type IntentStore interface {
	// Save enregistre l'intent comme intent actif de sa commande et renvoie l'id de
	// l'intent précédent, marqué superseded.
	Save(ctx context.Context, pi models.PaymentIntent) (superseded string, err error)
	Get(ctx context.Context, id string) (*models.PaymentIntent, error)
	MarkConsumed(ctx context.Context, id string) error
}

type RedisIntentStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisIntentStore(rdb *redis.Client) *RedisIntentStore {
	return &RedisIntentStore{rdb: rdb, ttl: IntentTTL}
}

func intentKey(id string) string      { return "payment_intent:" + id }
func orderIntentKey(id string) string { return "payment_intent:order:" + id }

func (s *RedisIntentStore) Save(ctx context.Context, pi models.PaymentIntent) (string, error) {
	data, err := json.Marshal(pi)
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, intentKey(pi.ID), data, s.ttl).Err(); err != nil {
		return "", err
	}

	previous, err := s.rdb.GetSet(ctx, orderIntentKey(pi.OrderID), pi.ID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	s.rdb.Expire(ctx, orderIntentKey(pi.OrderID), s.ttl)

	if previous == "" || previous == pi.ID {
		return "", nil
	}
	if err := s.setState(ctx, previous, models.IntentSuperseded); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return previous, err
	}
	return previous, nil
}

func (s *RedisIntentStore) Get(ctx context.Context, id string) (*models.PaymentIntent, error) {
	data, err := s.rdb.Get(ctx, intentKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.NotFound("payment_intent", id)
	}
	if err != nil {
		return nil, err
	}
	var pi models.PaymentIntent
	if err := json.Unmarshal(data, &pi); err != nil {
		return nil, err
	}
	return &pi, nil
}

func (s *RedisIntentStore) MarkConsumed(ctx context.Context, id string) error {
	return s.setState(ctx, id, models.IntentConsumed)
}

func (s *RedisIntentStore) setState(ctx context.Context, id string, state models.IntentState) error {
	pi, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	pi.State = state
	data, err := json.Marshal(pi)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, intentKey(id), data, redis.KeepTTL).Err()
}
