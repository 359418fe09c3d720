// Package store provides durable backends for the affect engine:
// Redis for production deployments and SQLite for single-node setups.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	affectsdk "github.com/lumenchat/affect-sdk-go"
)

// RedisStore implements affectsdk.Store on Redis.
//
// Time series live in sorted sets keyed "{prefix}:samples:{entity}",
// scored by unix-milli timestamp. Versioned records live in hashes
// keyed "{prefix}:rec:{kind}:{id}" with value and version fields;
// optimistic concurrency uses WATCH/MULTI/EXEC.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisStoreConfig configures key namespacing.
type RedisStoreConfig struct {
	Prefix string // key prefix, default "affect"
}

// NewRedisStore creates a Store backed by Redis. Works with Client,
// ClusterClient, and Ring.
func NewRedisStore(client redis.UniversalClient, config ...RedisStoreConfig) *RedisStore {
	cfg := RedisStoreConfig{Prefix: "affect"}
	if len(config) > 0 && config[0].Prefix != "" {
		cfg = config[0]
	}
	return &RedisStore{client: client, prefix: cfg.Prefix}
}

func (s *RedisStore) samplesKey(entityID string) string {
	return fmt.Sprintf("%s:samples:%s", s.prefix, entityID)
}

func (s *RedisStore) recordKey(kind, id string) string {
	return fmt.Sprintf("%s:rec:%s:%s", s.prefix, kind, id)
}

func (s *RedisStore) AppendSample(ctx context.Context, entityID string, ts time.Time, payload string) error {
	// Nano prefix keeps members unique (identical payloads at different
	// instants must not collapse) and lexically chronological.
	member := strconv.FormatInt(ts.UnixNano(), 10) + "|" + payload
	err := s.client.ZAdd(ctx, s.samplesKey(entityID), redis.Z{
		Score:  float64(ts.UnixMilli()),
		Member: member,
	}).Err()
	return affectsdk.WrapStorage("append sample", err)
}

func (s *RedisStore) RangeSamples(ctx context.Context, entityID string, from, to time.Time) ([]affectsdk.SampleRow, error) {
	zs, err := s.client.ZRangeByScoreWithScores(ctx, s.samplesKey(entityID), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, affectsdk.WrapStorage("range samples", err)
	}

	rows := make([]affectsdk.SampleRow, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		nano, payload, found := strings.Cut(member, "|")
		if !found {
			continue
		}
		n, err := strconv.ParseInt(nano, 10, 64)
		if err != nil {
			continue
		}
		rows = append(rows, affectsdk.SampleRow{
			Timestamp: time.Unix(0, n),
			Payload:   payload,
		})
	}
	return rows, nil
}

func (s *RedisStore) GetRecord(ctx context.Context, kind, id string) (string, int64, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(kind, id)).Result()
	if err != nil {
		return "", 0, affectsdk.WrapStorage("get record", err)
	}
	if len(fields) == 0 {
		return "", 0, nil
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return "", 0, affectsdk.WrapStorage("get record", fmt.Errorf("bad version %q: %w", fields["version"], err))
	}
	return fields["value"], version, nil
}

func (s *RedisStore) PutRecord(ctx context.Context, kind, id, value string, expectVersion int64) error {
	key := s.recordKey(kind, id)
	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "version").Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != expectVersion {
			return affectsdk.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "value", value, "version", expectVersion+1)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, affectsdk.ErrVersionConflict):
		return affectsdk.ErrVersionConflict
	case errors.Is(err, redis.TxFailedErr):
		// Another writer touched the key mid-transaction.
		return affectsdk.ErrVersionConflict
	default:
		return affectsdk.WrapStorage("put record", err)
	}
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Compile-time interface check.
var _ affectsdk.Store = (*RedisStore)(nil)
