package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// --- Compteurs de notifications non lues ---

// addIfPresent n'incrémente que si le compteur a déjà été initialisé, sans passer sous zéro.
// L'époque est avancée dans tous les cas pour invalider une reconstruction en cours.
var addIfPresent = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('EXPIRE', KEYS[2], ARGV[2])
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local n = redis.call('INCRBY', KEYS[1], ARGV[1])
if n < 0 then
	redis.call('SET', KEYS[1], 0)
	n = 0
end
return n
`)

// primeIfUnchanged initialise le compteur seulement s'il est absent et qu'aucun Add
// n'a eu lieu depuis la lecture de l'époque.
var primeIfUnchanged = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
local epoch = tonumber(redis.call('GET', KEYS[2]) or '0')
if epoch ~= tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// epochTTL couvre largement la durée d'une reconstruction.
const epochTTL = time.Hour

type UnreadCounter struct {
	rdb *redis.Client
}

func NewUnreadCounter(rdb *redis.Client) *UnreadCounter {
	return &UnreadCounter{rdb: rdb}
}

func unreadKey(userID string) string {
	return fmt.Sprintf("notifications:unread:%s", userID)
}

func epochKey(userID string) string {
	return unreadKey(userID) + ":epoch"
}

func (c *UnreadCounter) Get(ctx context.Context, userID string) (int64, bool, error) {
	n, err := c.rdb.Get(ctx, unreadKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (c *UnreadCounter) Set(ctx context.Context, userID string, n int64) error {
	return c.rdb.Set(ctx, unreadKey(userID), n, 0).Err()
}

func (c *UnreadCounter) Add(ctx context.Context, userID string, delta int64) error {
	keys := []string{unreadKey(userID), epochKey(userID)}
	return addIfPresent.Run(ctx, c.rdb, keys, delta, int64(epochTTL/time.Second)).Err()
}

func (c *UnreadCounter) Epoch(ctx context.Context, userID string) (int64, error) {
	n, err := c.rdb.Get(ctx, epochKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (c *UnreadCounter) Prime(ctx context.Context, userID string, n, epoch int64) (bool, error) {
	keys := []string{unreadKey(userID), epochKey(userID)}
	ok, err := primeIfUnchanged.Run(ctx, c.rdb, keys, n, epoch).Int()
	if err != nil {
		return false, err
	}
	return ok == 1, nil
}

// --- Rate Limiting ---

type RateLimiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, limit: int64(limit), window: window}
}

// Allow incrémente le compteur de la fenêtre courante et indique si la requête passe.
func (l *RateLimiter) Allow(ctx context.Context, key string) (allowed bool, remaining int64, err error) {
	k := "ratelimit:" + key
	n, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return true, 0, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, k, l.window).Err(); err != nil {
			return true, 0, err
		}
	}
	if n > l.limit {
		return false, 0, nil
	}
	return true, l.limit - n, nil
}

func (l *RateLimiter) Limit() int64 { return l.limit }

func (l *RateLimiter) Window() time.Duration { return l.window }
