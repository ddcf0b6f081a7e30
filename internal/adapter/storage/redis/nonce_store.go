package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const noncePrefix = "escrow:nonce:"

// NonceStore implements ports.NonceStore using Redis SET NX. Nonces are
// client-chosen header values, so they are digested into fixed-size keys.
type NonceStore struct {
	client *goredis.Client
}

// NewNonceStore creates a new Redis-backed nonce store.
func NewNonceStore(client *goredis.Client) *NonceStore {
	return &NonceStore{client: client}
}

// CheckAndSet records nonce for signer and reports whether it was unseen.
func (s *NonceStore) CheckAndSet(ctx context.Context, signer string, nonce string, ttl time.Duration) (bool, error) {
	res, err := s.client.SetArgs(ctx, nonceKey(signer, nonce), time.Now().Unix(), goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("redis nonce check: %w", err)
	}
	return res == "OK", nil
}

func nonceKey(signer, nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return noncePrefix + signer + ":" + hex.EncodeToString(sum[:16])
}
