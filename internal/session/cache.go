package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cachePrefix   = "pondok:session:"
	revokedPrefix = "pondok:session:revoked:"
)

// errTokenRevoked is returned by Set when the token carries a revocation
// marker.
var errTokenRevoked = errors.New("session: token revoked")

// TokenCache keeps active snapshots in Redis so lookups skip the database.
// A nil TokenCache is valid and caches nothing.
type TokenCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTokenCache constructs a TokenCache. Entries expire after ttl.
func NewTokenCache(client *redis.Client, ttl time.Duration) *TokenCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &TokenCache{client: client, ttl: ttl}
}

// Get returns the cached snapshot for token. A revoked token is a miss.
func (c *TokenCache) Get(ctx context.Context, token string) (*Snapshot, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	vals, err := c.client.MGet(ctx, cachePrefix+token, revokedPrefix+token).Result()
	if err != nil {
		return nil, false, err
	}
	if len(vals) != 2 || vals[1] != nil {
		return nil, false, nil
	}
	payload, ok := vals[0].(string)
	if !ok {
		return nil, false, nil
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

// Set stores snap under its token. It refuses tokens marked revoked; the
// check and the write run in one WATCH transaction so a concurrent MarkRevoked
// aborts the write.
func (c *TokenCache) Set(ctx context.Context, snap Snapshot) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	marker := revokedPrefix + snap.Token
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, marker).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return errTokenRevoked
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cachePrefix+snap.Token, data, c.ttl)
			return nil
		})
		return err
	}, marker)
	if errors.Is(err, redis.TxFailedErr) {
		return errTokenRevoked
	}
	return err
}

// MarkRevoked writes the revocation marker and evicts token. The marker
// outlives any entry a lookup still in flight could write.
func (c *TokenCache) MarkRevoked(ctx context.Context, token string) error {
	if c == nil {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, revokedPrefix+token, "1", 2*c.ttl)
		pipe.Del(ctx, cachePrefix+token)
		return nil
	})
	return err
}

// Delete evicts token.
func (c *TokenCache) Delete(ctx context.Context, token string) error {
	if c == nil {
		return nil
	}
	if err := c.client.Del(ctx, cachePrefix+token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
