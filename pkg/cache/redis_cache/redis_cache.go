/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of mosdns.
 *
 * mosdns is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * mosdns is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package redis_cache

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang/snappy"
	"go.uber.org/zap"

	"github.com/pmkol/rdapx/pkg/cache"
	"github.com/pmkol/rdapx/pkg/rdaperr"
	"github.com/pmkol/rdapx/pkg/utils"
)

var nopLogger = zap.NewNop()

const scanBatch = 256

type RedisCacheOpts[V any] struct {
	// Client cannot be nil.
	Client redis.Cmdable

	// ClientCloser closes Client when RedisCache.Close is called.
	// Optional.
	ClientCloser io.Closer

	// Codec cannot be nil.
	Codec cache.Codec[V]

	// KeyPrefix namespaces the keys of this cache, e.g. "rdapx:resp:".
	KeyPrefix string

	// ClientTimeout specifies the timeout for read and write operations.
	// Default is 1s.
	ClientTimeout time.Duration

	// DefaultTTL is used by Set when ttl <= 0. Default is 1h.
	DefaultTTL time.Duration

	// Logger is the *zap.Logger for this RedisCache.
	// A nil Logger will disable logging.
	Logger *zap.Logger
}

func (opts *RedisCacheOpts[V]) Init() error {
	if opts.Client == nil {
		return errors.New("nil client")
	}
	if opts.Codec == nil {
		return errors.New("nil codec")
	}
	utils.SetDefaultNum(&opts.ClientTimeout, time.Second)
	utils.SetDefaultNum(&opts.DefaultTTL, time.Hour)
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

var _ cache.Cache[int] = (*RedisCache[int])(nil)

// RedisCache is a cache.Cache backed by redis. Redis evicts by TTL and its
// own maxmemory policy. Any redis error is logged, the operation degrades to
// a miss and the client is disabled until a ping succeeds again.
type RedisCache[V any] struct {
	opts           RedisCacheOpts[V]
	clientDisabled uint32
	closed         chan struct{}
	closeOnce      atomic.Bool
}

func NewRedisCache[V any](opts RedisCacheOpts[V]) (*RedisCache[V], error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &RedisCache[V]{
		opts:   opts,
		closed: make(chan struct{}),
	}, nil
}

func (r *RedisCache[V]) disabled() bool {
	return atomic.LoadUint32(&r.clientDisabled) != 0
}

func (r *RedisCache[V]) warn(op, key string, err error) {
	r.opts.Logger.Warn("redis cache degraded to miss", zap.Error(&rdaperr.CacheError{Op: op, Key: key, Err: err}))
}

func (r *RedisCache[V]) disableClient() {
	if atomic.CompareAndSwapUint32(&r.clientDisabled, 0, 1) {
		r.opts.Logger.Warn("redis temporarily disabled")
		go func() {
			const maxBackoff = time.Second * 30
			backoff := time.Millisecond * 100
			for {
				select {
				case <-r.closed:
					return
				case <-time.After(backoff):
				}
				ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*500)
				err := r.opts.Client.Ping(ctx).Err()
				cancel()
				if err != nil {
					if backoff >= maxBackoff {
						backoff = maxBackoff
					} else {
						backoff += time.Duration(rand.Intn(1000))*time.Millisecond + time.Second
					}
					r.opts.Logger.Warn("redis ping failed", zap.Error(err), zap.Duration("next_ping", backoff))
					continue
				}
				atomic.StoreUint32(&r.clientDisabled, 0)
				r.opts.Logger.Info("redis enabled again")
				return
			}
		}()
	}
}

func (r *RedisCache[V]) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.opts.ClientTimeout)
}

func (r *RedisCache[V]) Get(key string) (v V, ok bool) {
	if r.disabled() {
		return
	}

	ctx, cancel := r.ctx()
	defer cancel()
	b, err := r.opts.Client.Get(ctx, r.opts.KeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.warn("get", key, err)
			r.disableClient()
		}
		return
	}

	_, expiresAt, payload, err := unpackRedisValue(b)
	if err != nil {
		r.warn("unpack", key, err)
		return
	}
	if time.Now().After(expiresAt) {
		return
	}
	v, err = r.opts.Codec.Decode(payload)
	if err != nil {
		r.warn("decode", key, err)
		return
	}
	return v, true
}

// Set stores v. Redis has no LRU touch on read, recency is left to the
// server's maxmemory-policy.
func (r *RedisCache[V]) Set(key string, v V, ttl time.Duration) {
	if r.disabled() {
		return
	}
	if ttl <= 0 {
		ttl = r.opts.DefaultTTL
	}

	payload, err := r.opts.Codec.Encode(v)
	if err != nil {
		r.warn("encode", key, err)
		return
	}
	now := time.Now()
	data := packRedisData(now, now.Add(ttl), payload)

	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.opts.Client.Set(ctx, r.opts.KeyPrefix+key, data, ttl).Err(); err != nil {
		r.warn("set", key, err)
		r.disableClient()
	}
}

func (r *RedisCache[V]) Has(key string) bool {
	if r.disabled() {
		return false
	}
	ctx, cancel := r.ctx()
	defer cancel()
	n, err := r.opts.Client.Exists(ctx, r.opts.KeyPrefix+key).Result()
	if err != nil {
		r.warn("exists", key, err)
		r.disableClient()
		return false
	}
	return n > 0
}

func (r *RedisCache[V]) Delete(key string) {
	if r.disabled() {
		return
	}
	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.opts.Client.Del(ctx, r.opts.KeyPrefix+key).Err(); err != nil {
		r.warn("del", key, err)
		r.disableClient()
	}
}

// Clear deletes every key under KeyPrefix.
func (r *RedisCache[V]) Clear() {
	if r.disabled() {
		return
	}
	_ = r.scan(func(ctx context.Context, keys []string) error {
		if len(keys) == 0 {
			return nil
		}
		return r.opts.Client.Del(ctx, keys...).Err()
	})
}

// Len counts the keys under KeyPrefix.
func (r *RedisCache[V]) Len() int {
	if r.disabled() {
		return 0
	}
	n := 0
	if err := r.scan(func(_ context.Context, keys []string) error {
		n += len(keys)
		return nil
	}); err != nil {
		return 0
	}
	return n
}

func (r *RedisCache[V]) scan(f func(ctx context.Context, keys []string) error) error {
	ctx, cancel := r.ctx()
	defer cancel()
	var cursor uint64
	for {
		keys, next, err := r.opts.Client.Scan(ctx, cursor, r.opts.KeyPrefix+"*", scanBatch).Result()
		if err == nil {
			err = f(ctx, keys)
		}
		if err != nil {
			r.warn("scan", r.opts.KeyPrefix+"*", err)
			r.disableClient()
			return err
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close closes the redis client.
func (r *RedisCache[V]) Close() error {
	if r.closeOnce.CompareAndSwap(false, true) {
		close(r.closed)
	}
	if f := r.opts.ClientCloser; f != nil {
		return f.Close()
	}
	return nil
}

// packRedisData packs insertedAt, expiresAt and the snappy compressed
// payload into one byte slice.
func packRedisData(insertedAt, expiresAt time.Time, v []byte) []byte {
	b := make([]byte, 16, 16+snappy.MaxEncodedLen(len(v)))
	binary.BigEndian.PutUint64(b[:8], uint64(insertedAt.UnixNano()))
	binary.BigEndian.PutUint64(b[8:16], uint64(expiresAt.UnixNano()))
	return append(b, snappy.Encode(nil, v)...)
}

func unpackRedisValue(b []byte) (insertedAt, expiresAt time.Time, v []byte, err error) {
	if len(b) < 16 {
		return time.Time{}, time.Time{}, nil, errors.New("b is too short")
	}
	insertedAt = time.Unix(0, int64(binary.BigEndian.Uint64(b[:8])))
	expiresAt = time.Unix(0, int64(binary.BigEndian.Uint64(b[8:16])))
	v, err = snappy.Decode(nil, b[16:])
	if err != nil {
		return time.Time{}, time.Time{}, nil, err
	}
	return insertedAt, expiresAt, v, nil
}
