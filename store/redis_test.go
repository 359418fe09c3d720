package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	affectsdk "github.com/lumenchat/affect-sdk-go"
)

func redisFixture(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisStore_AppendAndRangeChronological(t *testing.T) {
	s := redisFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Append out of order; range must come back sorted by timestamp.
	if err := s.AppendSample(ctx, "char:elena", base.Add(2*time.Minute), `{"n":2}`); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendSample(ctx, "char:elena", base, `{"n":0}`); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendSample(ctx, "char:elena", base.Add(time.Minute), `{"n":1}`); err != nil {
		t.Fatalf("append: %v", err)
	}

	rows, err := s.RangeSamples(ctx, "char:elena", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Timestamp.Before(rows[i-1].Timestamp) {
			t.Fatal("rows out of chronological order")
		}
	}
	if rows[0].Payload != `{"n":0}` || rows[2].Payload != `{"n":2}` {
		t.Fatalf("unexpected payload order: %+v", rows)
	}
}

func TestRedisStore_RangeWindowFilters(t *testing.T) {
	s := redisFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s.AppendSample(ctx, "char:elena", base.Add(-48*time.Hour), "old")
	s.AppendSample(ctx, "char:elena", base, "recent")

	rows, err := s.RangeSamples(ctx, "char:elena", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(rows) != 1 || rows[0].Payload != "recent" {
		t.Fatalf("window filter failed: %+v", rows)
	}
}

func TestRedisStore_IdenticalPayloadsDoNotCollapse(t *testing.T) {
	s := redisFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Same payload at different instants must stay distinct members.
	s.AppendSample(ctx, "rel:u1:elena", base, `{"d":0}`)
	s.AppendSample(ctx, "rel:u1:elena", base.Add(time.Second), `{"d":0}`)

	rows, err := s.RangeSamples(ctx, "rel:u1:elena", base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}

func TestRedisStore_EntitiesAreIsolated(t *testing.T) {
	s := redisFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s.AppendSample(ctx, "char:elena", base, "elena")
	s.AppendSample(ctx, "char:marcus", base, "marcus")

	rows, err := s.RangeSamples(ctx, "char:elena", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(rows) != 1 || rows[0].Payload != "elena" {
		t.Fatalf("foreign entity leaked: %+v", rows)
	}
}

func TestRedisStore_RecordRoundTrip(t *testing.T) {
	s := redisFixture(t)
	ctx := context.Background()

	value, version, err := s.GetRecord(ctx, affectsdk.RecordKindState, "elena")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if value != "" || version != 0 {
		t.Fatalf("missing record should be empty/0, got %q/%d", value, version)
	}

	if err := s.PutRecord(ctx, affectsdk.RecordKindState, "elena", `{"v":1}`, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	value, version, err = s.GetRecord(ctx, affectsdk.RecordKindState, "elena")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != `{"v":1}` || version != 1 {
		t.Fatalf("expected v1, got %q/%d", value, version)
	}

	if err := s.PutRecord(ctx, affectsdk.RecordKindState, "elena", `{"v":2}`, 1); err != nil {
		t.Fatalf("update: %v", err)
	}
	value, version, _ = s.GetRecord(ctx, affectsdk.RecordKindState, "elena")
	if value != `{"v":2}` || version != 2 {
		t.Fatalf("expected v2, got %q/%d", value, version)
	}
}

func TestRedisStore_VersionConflict(t *testing.T) {
	s := redisFixture(t)
	ctx := context.Background()

	if err := s.PutRecord(ctx, affectsdk.RecordKindRelationship, "u1:elena", "a", 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Stale writer: expects version 0 but record is at 1.
	err := s.PutRecord(ctx, affectsdk.RecordKindRelationship, "u1:elena", "b", 0)
	if !errors.Is(err, affectsdk.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	// Losing write must not clobber.
	value, version, _ := s.GetRecord(ctx, affectsdk.RecordKindRelationship, "u1:elena")
	if value != "a" || version != 1 {
		t.Fatalf("conflict clobbered record: %q/%d", value, version)
	}
}

func TestRedisStore_KindsAreNamespaced(t *testing.T) {
	s := redisFixture(t)
	ctx := context.Background()

	s.PutRecord(ctx, affectsdk.RecordKindState, "elena", "state", 0)
	s.PutRecord(ctx, affectsdk.RecordKindWeights, "elena", "weights", 0)

	value, _, err := s.GetRecord(ctx, affectsdk.RecordKindState, "elena")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "state" {
		t.Fatalf("kind collision: got %q", value)
	}
}
