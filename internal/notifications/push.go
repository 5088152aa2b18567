package notifications

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"atelier_back_end/internal/models"
)

// PushChannel est le canal Redis pub/sub d'un destinataire.
func PushChannel(userID string) string {
	return "notifications:push:" + userID
}

type RedisPusher struct {
	rdb *redis.Client
}

func NewRedisPusher(rdb *redis.Client) *RedisPusher {
	return &RedisPusher{rdb: rdb}
}

func (p *RedisPusher) Push(ctx context.Context, n models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, PushChannel(n.RecipientUserID), data).Err()
}

// Subscribe ouvre l'abonnement aux notifications des destinataires donnés ; l'appelant
// ferme le PubSub renvoyé.
func (p *RedisPusher) Subscribe(ctx context.Context, recipients ...string) *redis.PubSub {
	channels := make([]string, 0, len(recipients))
	for _, r := range recipients {
		channels = append(channels, PushChannel(r))
	}
	return p.rdb.Subscribe(ctx, channels...)
}
