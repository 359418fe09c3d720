package affectsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
)

// ──────────────────────────────────────────────
// Relationship Scorer — affection / trust / attunement
// ──────────────────────────────────────────────

// RelationshipLevel is derived from the three scores; it is never
// stored independently.
type RelationshipLevel string

const (
	LevelStranger     RelationshipLevel = "stranger"
	LevelAcquaintance RelationshipLevel = "acquaintance"
	LevelFriend       RelationshipLevel = "friend"
	LevelCloseFriend  RelationshipLevel = "close_friend"
	LevelBestFriend   RelationshipLevel = "best_friend"
)

// Milestone records one level transition with its timestamp.
type Milestone struct {
	Level RelationshipLevel `json:"level"`
	At    time.Time         `json:"at"`
}

// RelationshipScore is the persistent three-metric summary of one
// (user, character) pair. Scores live in [0, 100] and a single turn can
// move each by at most the configured cap.
type RelationshipScore struct {
	UserID           string            `json:"user_id"`
	CharacterID      string            `json:"character_id"`
	Affection        float64           `json:"affection"`
	Trust            float64           `json:"trust"`
	Attunement       float64           `json:"attunement"`
	Level            RelationshipLevel `json:"relationship_level"`
	InteractionCount int               `json:"interaction_count"`
	Milestones       []Milestone       `json:"milestones,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`

	version int64
}

// ConversationQuality carries the best-effort post-generation signals
// from the prompt-assembly collaborator. Pass nil when unavailable;
// every field defaults to neutral 0.5 rather than failing the turn.
type ConversationQuality struct {
	Engagement     float64 `json:"engagement"`
	Naturalness    float64 `json:"naturalness"`
	TopicRelevance float64 `json:"topic_relevance"`
}

func normalizedQuality(q *ConversationQuality) ConversationQuality {
	if q == nil {
		return ConversationQuality{Engagement: 0.5, Naturalness: 0.5, TopicRelevance: 0.5}
	}
	return ConversationQuality{
		Engagement:     clamp01(q.Engagement),
		Naturalness:    clamp01(q.Naturalness),
		TopicRelevance: clamp01(q.TopicRelevance),
	}
}

// computeLevel derives the relationship level from the three raw scores.
// Attunement counts for less than affection and trust.
func computeLevel(affection, trust, attunement float64) RelationshipLevel {
	combined := affection*0.4 + trust*0.4 + attunement*0.2
	switch {
	case combined < 20:
		return LevelStranger
	case combined < 40:
		return LevelAcquaintance
	case combined < 60:
		return LevelFriend
	case combined < 80:
		return LevelCloseFriend
	default:
		return LevelBestFriend
	}
}

// relationshipDelta is the per-turn audit row appended for the
// aggregator. Mined later to correlate bot tone with score movement.
type relationshipDelta struct {
	AffectionDelta  float64 `json:"affection_delta"`
	TrustDelta      float64 `json:"trust_delta"`
	AttunementDelta float64 `json:"attunement_delta"`
	Engagement      float64 `json:"engagement"`
	BotPrimary      Emotion `json:"bot_primary"`
}

// PairWeightSource supplies feedback multipliers per (user, character)
// pair. Nil or a nil return means neutral weights.
type PairWeightSource func(userID, characterID string) *FeedbackWeight

// RelationshipScorer evolves the three bounded scores across many
// conversations using confidence-weighted, capped updates. Concurrent
// updates for one pair are serialized by optimistic CAS retry; pairs
// never contend with each other.
type RelationshipScorer struct {
	store   Store
	cfg     EngineConfig
	weights PairWeightSource
	now     func() time.Time
}

// NewRelationshipScorer creates a scorer on top of a backend.
func NewRelationshipScorer(store Store, config ...EngineConfig) *RelationshipScorer {
	cfg := DefaultEngineConfig()
	if len(config) > 0 {
		cfg = config[0].withDefaults()
	}
	return &RelationshipScorer{store: store, cfg: cfg, now: time.Now}
}

// SetWeightSource wires the feedback-weight lookup. Optional.
func (r *RelationshipScorer) SetWeightSource(src PairWeightSource) {
	r.weights = src
}

func (r *RelationshipScorer) weightsFor(userID, characterID string) *FeedbackWeight {
	if r.weights == nil {
		return NeutralFeedbackWeight()
	}
	if w := r.weights(userID, characterID); w != nil {
		return w
	}
	return NeutralFeedbackWeight()
}

func pairID(userID, characterID string) string {
	return userID + ":" + characterID
}

// RelationshipDeltaEntityID names the time-series entity holding the
// per-turn delta rows for one pair.
func RelationshipDeltaEntityID(userID, characterID string) string {
	return "rel:" + pairID(userID, characterID)
}

func (r *RelationshipScorer) freshScore(userID, characterID string) *RelationshipScore {
	seed := r.cfg.InitialRelationshipScore
	score := &RelationshipScore{
		UserID:      userID,
		CharacterID: characterID,
		Affection:   seed,
		Trust:       seed,
		Attunement:  seed,
	}
	score.Level = computeLevel(score.Affection, score.Trust, score.Attunement)
	return score
}

// Get returns the current score for a pair, or the cold-start seed if
// the pair has never interacted. Pure read.
func (r *RelationshipScorer) Get(ctx context.Context, userID, characterID string) (*RelationshipScore, error) {
	return r.load(ctx, userID, characterID)
}

func (r *RelationshipScorer) load(ctx context.Context, userID, characterID string) (*RelationshipScore, error) {
	raw, version, err := r.store.GetRecord(ctx, RecordKindRelationship, pairID(userID, characterID))
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return r.freshScore(userID, characterID), nil
	}
	var score RelationshipScore
	if err := json.Unmarshal([]byte(raw), &score); err != nil {
		return nil, fmt.Errorf("decode relationship %s: %w", pairID(userID, characterID), err)
	}
	score.version = version
	return &score, nil
}

func (r *RelationshipScorer) save(ctx context.Context, score *RelationshipScore) error {
	raw, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("encode relationship: %w", err)
	}
	id := pairID(score.UserID, score.CharacterID)
	if err := r.store.PutRecord(ctx, RecordKindRelationship, id, string(raw), score.version); err != nil {
		return err
	}
	score.version++
	return nil
}

// Update folds one conversation turn into the pair's scores.
//
// Missing inputs never fail the turn: nil emotion samples become
// neutral samples and nil quality becomes all-0.5. Only when every
// signal is absent does the update degrade to "interaction counted,
// scores unchanged".
func (r *RelationshipScorer) Update(ctx context.Context, userID, characterID string, userEmotion, botEmotion *EmotionSample, quality *ConversationQuality) (*RelationshipScore, error) {
	now := r.now()
	if userEmotion == nil {
		userEmotion = NeutralSample("", SourceUser, now)
	}
	if botEmotion == nil {
		botEmotion = NeutralSample("", SourceBot, now)
	}
	q := normalizedQuality(quality)
	noSignal := userEmotion.Confidence == 0 && botEmotion.Confidence == 0 && quality == nil
	w := r.weightsFor(userID, characterID)

	var lastErr error
	for attempt := 0; attempt < r.cfg.CASAttempts; attempt++ {
		score, err := r.load(ctx, userID, characterID)
		if err != nil {
			return nil, err
		}

		var dAffection, dTrust, dAttunement float64
		if !noSignal {
			dAffection = r.affectionDelta(userEmotion, w)
			dTrust = r.trustDelta(q, score.InteractionCount, w)
			dAttunement = r.attunementDelta(userEmotion, botEmotion, w)
		}

		capAbs := r.cfg.RelationshipDeltaCap
		dAffection = clampRange(dAffection, -capAbs, capAbs)
		dTrust = clampRange(dTrust, -capAbs, capAbs)
		dAttunement = clampRange(dAttunement, -capAbs, capAbs)

		score.Affection = clampRange(score.Affection+dAffection, 0, 100)
		score.Trust = clampRange(score.Trust+dTrust, 0, 100)
		score.Attunement = clampRange(score.Attunement+dAttunement, 0, 100)
		score.InteractionCount++
		score.UpdatedAt = now

		prevLevel := score.Level
		score.Level = computeLevel(score.Affection, score.Trust, score.Attunement)
		if score.Level != prevLevel && prevLevel != "" {
			score.Milestones = append(score.Milestones, Milestone{Level: score.Level, At: now})
		}

		if err := r.save(ctx, score); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		r.appendDeltaRow(ctx, userID, characterID, relationshipDelta{
			AffectionDelta:  dAffection,
			TrustDelta:      dTrust,
			AttunementDelta: dAttunement,
			Engagement:      q.Engagement,
			BotPrimary:      botEmotion.Primary,
		}, now)
		return score, nil
	}
	return nil, fmt.Errorf("update relationship %s: %w", pairID(userID, characterID), lastErr)
}

// affectionDelta is driven by the valence of the user's emotion.
// Asymmetric: losses are scaled up relative to gains of the same
// magnitude, so affection is easier to lose than to gain.
func (r *RelationshipScorer) affectionDelta(user *EmotionSample, w *FeedbackWeight) float64 {
	signal := user.Primary.Valence() * user.Intensity * user.Confidence
	for _, m := range user.Mixed {
		signal += m.Emotion.Valence() * m.Score * user.Confidence * 0.5
	}

	var delta float64
	if signal >= 0 {
		delta = signal * 2.0 * w.AffectionGain
		// Explicit gratitude/affection signals land a little harder.
		if user.Primary == EmotionGratitude || user.Primary == EmotionLove {
			delta += 0.5 * user.Confidence
		}
	} else {
		delta = signal * 2.0 * r.cfg.NegativeAffectionBias
	}
	return delta
}

// trustDelta grows with engagement but with diminishing returns as the
// interaction count climbs, so volume alone cannot inflate trust.
func (r *RelationshipScorer) trustDelta(q ConversationQuality, interactionCount int, w *FeedbackWeight) float64 {
	diminish := 1.0 / (1.0 + float64(interactionCount)/float64(r.cfg.TrustHalfCount))
	base := 0.4 + 1.6*q.Engagement
	return base * diminish * w.TrustGain
}

// attunementDelta rewards emotional mirroring: the closer the user and
// bot distributions, the larger the gain; distant distributions erode
// attunement slightly.
func (r *RelationshipScorer) attunementDelta(user, bot *EmotionSample, w *FeedbackWeight) float64 {
	if user.Confidence == 0 || bot.Confidence == 0 {
		return 0
	}
	dist := DistributionDistance(user.Distribution(), bot.Distribution())
	return (0.5 - dist) * 4.0 * w.AttunementGain
}

// appendDeltaRow records the turn's deltas for later aggregation.
// Best-effort: a failed append is logged and dropped, never fatal.
func (r *RelationshipScorer) appendDeltaRow(ctx context.Context, userID, characterID string, delta relationshipDelta, ts time.Time) {
	payload, err := json.Marshal(delta)
	if err != nil {
		return
	}
	entity := RelationshipDeltaEntityID(userID, characterID)
	if err := r.store.AppendSample(ctx, entity, ts, string(payload)); err != nil {
		log.Printf("[RelationshipScorer] Dropping delta row for %s: %v", entity, err)
	}
}
