// Package session は上流APIのログインセッション（アクセストークン）をRedisに保存し、
// サーバーとバッチ（ingest）の間で1つのログインを共有できるようにします。
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTokenNotFound is returned when no live token is stored.
var ErrTokenNotFound = errors.New("session token not found")

// Token は上流APIのアクセストークンです。
type Token struct {
	AccessToken string    `json:"access_token"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the token is usable at now, keeping skew of headroom before expiry.
func (t Token) Valid(now time.Time, skew time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(skew).Before(t.ExpiresAt)
}

// TokenRedis はRedisをバックエンドとするトークンストアです。
type TokenRedis struct {
	client *redis.Client
	prefix string
}

// NewTokenRedis creates a new TokenRedis instance.
func NewTokenRedis(client *redis.Client, prefix string) *TokenRedis {
	return &TokenRedis{
		client: client,
		prefix: prefix,
	}
}

// tokenKey returns the Redis key for an account's token.
func (r *TokenRedis) tokenKey(account string) string {
	return fmt.Sprintf("%s:token:%s", r.prefix, account)
}

// Save persists the token until its expiry.
func (r *TokenRedis) Save(ctx context.Context, account string, token Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	var ttl time.Duration
	if !token.ExpiresAt.IsZero() {
		ttl = time.Until(token.ExpiresAt)
		if ttl <= 0 {
			return fmt.Errorf("token already expired")
		}
	}

	return r.client.Set(ctx, r.tokenKey(account), data, ttl).Err()
}

// Get retrieves the stored token for account.
func (r *TokenRedis) Get(ctx context.Context, account string) (Token, error) {
	data, err := r.client.Get(ctx, r.tokenKey(account)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Token{}, ErrTokenNotFound
		}
		return Token{}, err
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return Token{}, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return token, nil
}

// Delete removes the stored token. Deleting a missing token is not an error.
func (r *TokenRedis) Delete(ctx context.Context, account string) error {
	return r.client.Del(ctx, r.tokenKey(account)).Err()
}
