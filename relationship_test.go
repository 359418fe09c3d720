package affectsdk

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// ══════════════════════════════════════════════
// RelationshipScorer tests
// ══════════════════════════════════════════════

func scorerFixture(t *testing.T, now time.Time) (*RelationshipScorer, *InMemoryStore) {
	t.Helper()
	store := NewInMemoryStore()
	scorer := NewRelationshipScorer(store)
	scorer.now = func() time.Time { return now }
	return scorer, store
}

func userSample(primary Emotion, intensity, confidence float64, ts time.Time) *EmotionSample {
	return NewEmotionSample("user:u1:elena", SourceUser, primary, intensity, confidence, nil, ts)
}

func botSample(primary Emotion, intensity, confidence float64, ts time.Time) *EmotionSample {
	return NewEmotionSample("char:elena", SourceBot, primary, intensity, confidence, nil, ts)
}

func TestRelationship_ColdStartSeedsLowBaseline(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scorer, _ := scorerFixture(t, now)

	score, err := scorer.Get(context.Background(), "u1", "elena")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score.Affection != 10 || score.Trust != 10 || score.Attunement != 10 {
		t.Fatalf("expected 10/10/10 cold start, got %f/%f/%f", score.Affection, score.Trust, score.Attunement)
	}
	if score.Level != LevelStranger {
		t.Fatalf("expected stranger, got %s", score.Level)
	}
	if score.InteractionCount != 0 {
		t.Fatalf("expected 0 interactions, got %d", score.InteractionCount)
	}
}

func TestRelationship_BoundsInvariant(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scorer, _ := scorerFixture(t, now)
	ctx := context.Background()

	quality := &ConversationQuality{Engagement: 1.0, Naturalness: 1.0, TopicRelevance: 1.0}
	for i := 0; i < 60; i++ {
		score, err := scorer.Update(ctx, "u1", "elena",
			userSample(EmotionJoy, 1.0, 1.0, now),
			botSample(EmotionJoy, 1.0, 1.0, now), quality)
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		for name, v := range map[string]float64{"affection": score.Affection, "trust": score.Trust, "attunement": score.Attunement} {
			if v < 0 || v > 100 {
				t.Fatalf("%s escaped [0,100] at turn %d: %f", name, i+1, v)
			}
		}
	}

	// And downward.
	for i := 0; i < 120; i++ {
		score, err := scorer.Update(ctx, "u1", "elena",
			userSample(EmotionAnger, 1.0, 1.0, now),
			botSample(EmotionSadness, 1.0, 1.0, now), nil)
		if err != nil {
			t.Fatalf("negative update %d: %v", i, err)
		}
		if score.Affection < 0 || score.Trust < 0 || score.Attunement < 0 {
			t.Fatalf("score escaped below 0 at turn %d", i+1)
		}
	}
}

func TestRelationship_AsymmetricAffection(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	seed := func(t *testing.T, scorer *RelationshipScorer, store *InMemoryStore) {
		t.Helper()
		start := &RelationshipScore{
			UserID: "u1", CharacterID: "elena",
			Affection: 20, Trust: 20, Attunement: 20,
			Level: computeLevel(20, 20, 20),
		}
		raw, _ := json.Marshal(start)
		if err := store.PutRecord(ctx, RecordKindRelationship, pairID("u1", "elena"), string(raw), 0); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	posScorer, posStore := scorerFixture(t, now)
	seed(t, posScorer, posStore)
	negScorer, negStore := scorerFixture(t, now)
	seed(t, negScorer, negStore)

	// Joy and anger with matched intensity/confidence.
	for i := 0; i < 10; i++ {
		if _, err := posScorer.Update(ctx, "u1", "elena",
			userSample(EmotionJoy, 0.8, 0.9, now), botSample(EmotionNeutral, 0, 0, now), nil); err != nil {
			t.Fatalf("positive update: %v", err)
		}
		if _, err := negScorer.Update(ctx, "u1", "elena",
			userSample(EmotionAnger, 0.8, 0.9, now), botSample(EmotionNeutral, 0, 0, now), nil); err != nil {
			t.Fatalf("negative update: %v", err)
		}
	}

	pos, _ := posScorer.Get(ctx, "u1", "elena")
	neg, _ := negScorer.Get(ctx, "u1", "elena")
	gained := pos.Affection - 20
	lost := 20 - neg.Affection
	if gained <= 0 || lost <= 0 {
		t.Fatalf("expected movement both ways, gained=%f lost=%f", gained, lost)
	}
	if lost <= gained {
		t.Fatalf("affection should be easier to lose than to gain: gained=%f lost=%f", gained, lost)
	}
}

func TestRelationship_PerUpdateDeltaCap(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scorer, _ := scorerFixture(t, now)
	ctx := context.Background()

	before, _ := scorer.Get(ctx, "u1", "elena")
	after, err := scorer.Update(ctx, "u1", "elena",
		userSample(EmotionLove, 1.0, 1.0, now),
		botSample(EmotionLove, 1.0, 1.0, now),
		&ConversationQuality{Engagement: 1, Naturalness: 1, TopicRelevance: 1})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	maxDelta := DefaultEngineConfig().RelationshipDeltaCap
	if d := after.Affection - before.Affection; d > maxDelta {
		t.Fatalf("affection delta %f exceeds cap %f", d, maxDelta)
	}
	if d := after.Trust - before.Trust; d > maxDelta {
		t.Fatalf("trust delta %f exceeds cap %f", d, maxDelta)
	}
	if d := after.Attunement - before.Attunement; d > maxDelta {
		t.Fatalf("attunement delta %f exceeds cap %f", d, maxDelta)
	}
}

func TestRelationship_TrustDiminishingReturns(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scorer, store := scorerFixture(t, now)
	ctx := context.Background()
	quality := &ConversationQuality{Engagement: 0.9, Naturalness: 0.5, TopicRelevance: 0.5}

	early, err := scorer.Update(ctx, "u1", "elena",
		userSample(EmotionNeutral, 0, 0.5, now), botSample(EmotionNeutral, 0, 0.5, now), quality)
	if err != nil {
		t.Fatalf("early update: %v", err)
	}
	earlyDelta := early.Trust - 10

	// Seed a long-running pair.
	veteran := &RelationshipScore{
		UserID: "u2", CharacterID: "elena",
		Affection: 50, Trust: 50, Attunement: 50,
		InteractionCount: 500,
		Level:            computeLevel(50, 50, 50),
	}
	raw, _ := json.Marshal(veteran)
	if err := store.PutRecord(ctx, RecordKindRelationship, pairID("u2", "elena"), string(raw), 0); err != nil {
		t.Fatalf("seed veteran: %v", err)
	}
	late, err := scorer.Update(ctx, "u2", "elena",
		userSample(EmotionNeutral, 0, 0.5, now), botSample(EmotionNeutral, 0, 0.5, now), quality)
	if err != nil {
		t.Fatalf("late update: %v", err)
	}
	lateDelta := late.Trust - 50

	if lateDelta >= earlyDelta {
		t.Fatalf("trust increment should diminish with volume: early=%f late=%f", earlyDelta, lateDelta)
	}
	if lateDelta > 0.2 {
		t.Fatalf("trust increment at count 500 should be near zero, got %f", lateDelta)
	}
}

func TestRelationship_AttunementRewardsMirroring(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	mirrored, _ := scorerFixture(t, now)
	m, err := mirrored.Update(ctx, "u1", "elena",
		userSample(EmotionJoy, 0.8, 0.9, now), botSample(EmotionJoy, 0.8, 0.9, now), nil)
	if err != nil {
		t.Fatalf("mirrored update: %v", err)
	}

	mismatched, _ := scorerFixture(t, now)
	x, err := mismatched.Update(ctx, "u1", "elena",
		userSample(EmotionSadness, 0.9, 0.9, now), botSample(EmotionJoy, 0.9, 0.9, now), nil)
	if err != nil {
		t.Fatalf("mismatched update: %v", err)
	}

	if m.Attunement <= x.Attunement {
		t.Fatalf("mirroring should beat mismatch: %f vs %f", m.Attunement, x.Attunement)
	}
}

func TestRelationship_NilInputsNeverFail(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scorer, _ := scorerFixture(t, now)

	score, err := scorer.Update(context.Background(), "u1", "elena", nil, nil, nil)
	if err != nil {
		t.Fatalf("nil inputs must not fail: %v", err)
	}
	if score.InteractionCount != 1 {
		t.Fatalf("interaction should still be counted, got %d", score.InteractionCount)
	}
	// All signals absent: scores unchanged from the cold-start seed.
	if score.Affection != 10 || score.Trust != 10 || score.Attunement != 10 {
		t.Fatalf("no-signal turn should not move scores, got %f/%f/%f", score.Affection, score.Trust, score.Attunement)
	}
}

func TestRelationship_LevelThresholds(t *testing.T) {
	cases := []struct {
		affection, trust, attunement float64
		want                         RelationshipLevel
	}{
		{10, 10, 10, LevelStranger},
		{19, 19, 19, LevelStranger},
		{20, 20, 20, LevelAcquaintance},
		{40, 40, 40, LevelFriend},
		{60, 60, 60, LevelCloseFriend},
		{80, 80, 80, LevelBestFriend},
		{100, 100, 100, LevelBestFriend},
	}
	for _, tc := range cases {
		if got := computeLevel(tc.affection, tc.trust, tc.attunement); got != tc.want {
			t.Fatalf("computeLevel(%f,%f,%f) = %s, want %s", tc.affection, tc.trust, tc.attunement, got, tc.want)
		}
	}
}

func TestRelationship_MilestoneOnLevelTransition(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scorer, store := scorerFixture(t, now)
	ctx := context.Background()

	// One good turn away from acquaintance.
	edge := &RelationshipScore{
		UserID: "u1", CharacterID: "elena",
		Affection: 19.5, Trust: 19.5, Attunement: 19.5,
		Level: LevelStranger,
	}
	raw, _ := json.Marshal(edge)
	if err := store.PutRecord(ctx, RecordKindRelationship, pairID("u1", "elena"), string(raw), 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	score, err := scorer.Update(ctx, "u1", "elena",
		userSample(EmotionGratitude, 0.9, 0.9, now), botSample(EmotionJoy, 0.8, 0.9, now),
		&ConversationQuality{Engagement: 0.9, Naturalness: 0.8, TopicRelevance: 0.8})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if score.Level != LevelAcquaintance {
		t.Fatalf("expected acquaintance after crossing threshold, got %s", score.Level)
	}
	if len(score.Milestones) != 1 || score.Milestones[0].Level != LevelAcquaintance {
		t.Fatalf("expected one acquaintance milestone, got %+v", score.Milestones)
	}
}

func TestRelationship_InteractionCountMonotonic(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scorer, _ := scorerFixture(t, now)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		score, err := scorer.Update(ctx, "u1", "elena",
			userSample(EmotionNeutral, 0, 0.5, now), botSample(EmotionNeutral, 0, 0.5, now), nil)
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		if score.InteractionCount != i {
			t.Fatalf("expected count %d, got %d", i, score.InteractionCount)
		}
	}
}

func TestRelationship_DeltaRowsAppended(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scorer, store := scorerFixture(t, now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := scorer.Update(ctx, "u1", "elena",
			userSample(EmotionJoy, 0.8, 0.9, now), botSample(EmotionJoy, 0.8, 0.9, now), nil); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	rows, err := store.RangeSamples(ctx, RelationshipDeltaEntityID("u1", "elena"), now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 delta rows, got %d", len(rows))
	}
}
