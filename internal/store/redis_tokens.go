// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/vodgate/internal/clock"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
	Prefix   string // key prefix, defaults to "vodgate"
}

// markUsedScript flips the used field of KEYS[1] and drops the token from the
// unused index KEYS[2]. Returns -1 when missing, 0 when already used, 1 on success.
var markUsedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[1], 'used') == '1' then
	return 0
end
redis.call('HSET', KEYS[1], 'used', '1')
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

// releaseScript clears the used field of KEYS[1] and puts the token back into
// the unused index KEYS[2]. Returns -1 when missing, 1 otherwise.
var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
redis.call('HSET', KEYS[1], 'used', '0')
redis.call('ZADD', KEYS[2], redis.call('HGET', KEYS[1], 'expires_at_ms'), ARGV[1])
return 1
`)

// RedisTokenStore implements TokenStore on Redis so several API replicas can
// share single-use tokens.
type RedisTokenStore struct {
	client *redis.Client
	prefix string
	clk    clock.Clock
	logger zerolog.Logger
}

// NewRedisTokenStore connects to Redis and verifies the connection.
func NewRedisTokenStore(ctx context.Context, cfg RedisConfig, clk clock.Clock, logger zerolog.Logger) (*RedisTokenStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis token store")

	return newRedisTokenStore(client, cfg.Prefix, clk, logger), nil
}

func newRedisTokenStore(client *redis.Client, prefix string, clk clock.Clock, logger zerolog.Logger) *RedisTokenStore {
	if prefix == "" {
		prefix = "vodgate"
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &RedisTokenStore{client: client, prefix: prefix, clk: clk, logger: logger}
}

func (r *RedisTokenStore) tokenKey(token string) string { return r.prefix + ":token:" + token }
func (r *RedisTokenStore) seqKey() string              { return r.prefix + ":token:seq" }
func (r *RedisTokenStore) allKey() string              { return r.prefix + ":tokens:all" }
func (r *RedisTokenStore) unusedKey() string           { return r.prefix + ":tokens:unused" }

// Close releases the Redis client.
func (r *RedisTokenStore) Close() error {
	return r.client.Close()
}

func optInt(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}

func parseOptInt(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *RedisTokenStore) CreateToken(ctx context.Context, t Token) (Token, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.clk.Now()
	}
	id, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return Token{}, fmt.Errorf("allocate token id: %w", err)
	}
	t.ID = id
	t.Used = false

	key := r.tokenKey(t.Token)
	created, err := r.client.HSetNX(ctx, key, "id", strconv.FormatInt(id, 10)).Result()
	if err != nil {
		return Token{}, fmt.Errorf("insert token: %w", err)
	}
	if !created {
		return Token{}, ErrDuplicateToken
	}

	expires := t.ExpiresAt.UnixMilli()
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"token", t.Token,
			"user_id", optInt(t.UserID),
			"video_id", optInt(t.VideoID),
			"playlist_id", optInt(t.PlaylistID),
			"expires_at_ms", expires,
			"used", "0",
			"created_at_ms", t.CreatedAt.UnixMilli(),
		)
		p.ZAdd(ctx, r.allKey(), redis.Z{Score: float64(expires), Member: t.Token})
		p.ZAdd(ctx, r.unusedKey(), redis.Z{Score: float64(expires), Member: t.Token})
		return nil
	})
	if err != nil {
		_ = r.client.Del(ctx, key).Err()
		return Token{}, fmt.Errorf("insert token: %w", err)
	}
	t.ExpiresAt = time.UnixMilli(expires)
	t.CreatedAt = time.UnixMilli(t.CreatedAt.UnixMilli())
	return t, nil
}

func (r *RedisTokenStore) GetToken(ctx context.Context, token string) (Token, error) {
	fields, err := r.client.HGetAll(ctx, r.tokenKey(token)).Result()
	if err != nil {
		return Token{}, fmt.Errorf("get token: %w", err)
	}
	if len(fields) == 0 || fields["token"] == "" {
		return Token{}, ErrNotFound
	}
	return decodeToken(fields)
}

func decodeToken(f map[string]string) (Token, error) {
	var (
		t   Token
		err error
	)
	t.Token = f["token"]
	if t.ID, err = strconv.ParseInt(f["id"], 10, 64); err != nil {
		return Token{}, fmt.Errorf("decode token id: %w", err)
	}
	if t.UserID, err = parseOptInt(f["user_id"]); err != nil {
		return Token{}, fmt.Errorf("decode user_id: %w", err)
	}
	if t.VideoID, err = parseOptInt(f["video_id"]); err != nil {
		return Token{}, fmt.Errorf("decode video_id: %w", err)
	}
	if t.PlaylistID, err = parseOptInt(f["playlist_id"]); err != nil {
		return Token{}, fmt.Errorf("decode playlist_id: %w", err)
	}
	expires, err := strconv.ParseInt(f["expires_at_ms"], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("decode expires_at_ms: %w", err)
	}
	created, err := strconv.ParseInt(f["created_at_ms"], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("decode created_at_ms: %w", err)
	}
	t.ExpiresAt = time.UnixMilli(expires)
	t.CreatedAt = time.UnixMilli(created)
	t.Used = f["used"] == "1"
	return t, nil
}

func (r *RedisTokenStore) MarkTokenUsed(ctx context.Context, token string) (bool, error) {
	res, err := markUsedScript.Run(ctx, r.client, []string{r.tokenKey(token), r.unusedKey()}, token).Int()
	if err != nil {
		return false, fmt.Errorf("mark token used: %w", err)
	}
	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, ErrNotFound
	}
}

func (r *RedisTokenStore) ReleaseToken(ctx context.Context, token string) error {
	res, err := releaseScript.Run(ctx, r.client, []string{r.tokenKey(token), r.unusedKey()}, token).Int()
	if err != nil {
		return fmt.Errorf("release token: %w", err)
	}
	if res < 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisTokenStore) TokenCounts(ctx context.Context, now time.Time) (TokenCounts, error) {
	pipe := r.client.Pipeline()
	total := pipe.ZCard(ctx, r.allKey())
	unused := pipe.ZCard(ctx, r.unusedKey())
	nowMs := strconv.FormatInt(now.UnixMilli(), 10)
	expired := pipe.ZCount(ctx, r.allKey(), "-inf", "("+nowMs)
	active := pipe.ZCount(ctx, r.unusedKey(), nowMs, "+inf")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return TokenCounts{}, fmt.Errorf("count tokens: %w", err)
	}
	return TokenCounts{
		Total:   total.Val(),
		Used:    total.Val() - unused.Val(),
		Expired: expired.Val(),
		Active:  active.Val(),
	}, nil
}
