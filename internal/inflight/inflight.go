package inflight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when the same action is already running for the user.
var ErrBusy = errors.New("action already in progress")

// releaseScript deletes the lock only if it still holds our token, so an
// expired lock taken over by another request is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Guard rejects a second identical request while the first is outstanding.
// Locks live in Redis so the guard holds across API replicas.
type Guard struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewGuard(client redis.UniversalClient, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Guard{client: client, ttl: ttl}
}

func key(userID, action string) string {
	return fmt.Sprintf("inflight:%s:%s", userID, action)
}

// Acquire takes the lock for userID/action. The returned release func must be
// called once the action finishes; the lock also expires after the TTL.
func (g *Guard) Acquire(ctx context.Context, userID, action string) (func(), error) {
	k := key(userID, action)
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, k, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire in-flight lock: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}

	return func() {
		// the request context may already be done
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		releaseScript.Run(ctx, g.client, []string{k}, token)
	}, nil
}

// Busy reports whether the action currently holds a lock.
func (g *Guard) Busy(ctx context.Context, userID, action string) (bool, error) {
	n, err := g.client.Exists(ctx, key(userID, action)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
