package nonce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vitwit/a402/types"
)

// RedisLedger stores consumed nonces as Redis keys set with NX. Keys for
// challenges with an expiry carry a TTL of expiry plus grace; the rest
// never expire.
type RedisLedger struct {
	client redis.UniversalClient
	opts   options
}

// NewRedisLedger connects to a single Redis node.
func NewRedisLedger(ctx context.Context, addr, password string, db int, opts ...Option) (*RedisLedger, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return NewRedisLedgerFromClient(rdb, opts...), nil
}

// NewRedisLedgerFromClient uses an existing client.
func NewRedisLedgerFromClient(client redis.UniversalClient, opts ...Option) *RedisLedger {
	return &RedisLedger{client: client, opts: buildOptions(opts)}
}

func (r *RedisLedger) key(nonce string) string {
	return r.opts.prefix + nonce
}

func (r *RedisLedger) Peek(ctx context.Context, nonce string) (*types.NonceRecord, error) {
	val, err := r.client.Get(ctx, r.key(nonce)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading nonce: %w", err)
	}

	var rec types.NonceRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("decoding nonce record: %w", err)
	}
	return &rec, nil
}

func (r *RedisLedger) TryConsume(ctx context.Context, nonce string, expiry *time.Time) (types.ConsumeOutcome, error) {
	now := r.opts.now()
	if expired(expiry, now) {
		return types.ConsumeExpired, nil
	}

	rec := types.NonceRecord{Nonce: nonce, ConsumedAt: now, Expiry: expiry}
	val, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("encoding nonce record: %w", err)
	}

	args := redis.SetArgs{Mode: "NX"}
	if expiry != nil {
		args.ExpireAt = expiry.Add(r.opts.grace)
	}

	err = r.client.SetArgs(ctx, r.key(nonce), val, args).Err()
	if errors.Is(err, redis.Nil) {
		return types.ConsumeAlreadyConsumed, nil
	}
	if err != nil {
		return 0, fmt.Errorf("consuming nonce: %w", err)
	}

	return types.ConsumeAccepted, nil
}

func (r *RedisLedger) Close() error {
	return r.client.Close()
}
