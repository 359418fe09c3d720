package affectsdk

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// ──────────────────────────────────────────────
// AffectEngine — the facade consumed by chat glue
// ──────────────────────────────────────────────

// Entity naming for the trajectory time series. Character state is
// per-character (shared across that character's users); user
// trajectories are tracked per pair, since a user's emotional history
// is specific to the character they are talking to.

// CharacterEntityID names the bot-side trajectory entity.
func CharacterEntityID(characterID string) string {
	return "char:" + characterID
}

// UserEntityID names the user-side trajectory entity for one pair.
func UserEntityID(userID, characterID string) string {
	return "user:" + userID + ":" + characterID
}

// EmotionalContext is the read-only aggregate handed to the prompt
// assembler on every turn.
type EmotionalContext struct {
	State        *CharacterEmotionalState `json:"state"`
	Relationship *RelationshipScore       `json:"relationship"`
	Trajectory   *TrajectoryWindow        `json:"trajectory"`
}

// AffectEngine wires the trajectory store, character state engine,
// relationship scorer, and feedback aggregator behind the two calls the
// chat-handling glue uses: GetEmotionalContext and RecordTurn.
type AffectEngine struct {
	store      Store
	classifier EmotionClassifier
	cfg        EngineConfig
	now        func() time.Time

	Trajectory   *TrajectoryStore
	State        *CharacterStateEngine
	Relationship *RelationshipScorer
	Aggregator   *FeedbackAggregator
}

// NewAffectEngine assembles the pipeline on top of a storage backend
// and a classifier. A nil classifier falls back to the built-in
// keyword classifier.
func NewAffectEngine(store Store, classifier EmotionClassifier, config ...EngineConfig) *AffectEngine {
	cfg := DefaultEngineConfig()
	if len(config) > 0 {
		cfg = config[0].withDefaults()
	}
	if classifier == nil {
		classifier = NewKeywordClassifier(cfg.MinConfidence)
	}

	e := &AffectEngine{
		store:        store,
		classifier:   classifier,
		cfg:          cfg,
		now:          time.Now,
		Trajectory:   NewTrajectoryStore(store, cfg),
		State:        NewCharacterStateEngine(store, cfg),
		Relationship: NewRelationshipScorer(store, cfg),
		Aggregator:   NewFeedbackAggregator(store, cfg),
	}

	// State is per-character; it reads weights from whichever pair most
	// recently aggregated, falling back to neutral. Relationship weights
	// are looked up per pair.
	e.State.SetWeightSource(e.Aggregator.CharacterWeightsFor)
	e.Relationship.SetWeightSource(e.Aggregator.WeightsFor)
	return e
}

// Close drains the background aggregation queue and stops its workers.
func (e *AffectEngine) Close() {
	e.Aggregator.Stop()
}

// GetEmotionalContext returns the aggregate used to build prompt
// context: current (decayed) character state, the pair's relationship
// score, and the character's recent emotional trajectory.
func (e *AffectEngine) GetEmotionalContext(ctx context.Context, characterID, userID string) (*EmotionalContext, error) {
	state, err := e.State.GetCurrentState(ctx, characterID)
	if err != nil {
		return nil, err
	}
	relationship, err := e.Relationship.Get(ctx, userID, characterID)
	if err != nil {
		return nil, err
	}
	trajectory, err := e.Trajectory.GetTrajectory(ctx, CharacterEntityID(characterID), e.cfg.TrajectoryWindow)
	if err != nil {
		return nil, err
	}
	return &EmotionalContext{
		State:        state,
		Relationship: relationship,
		Trajectory:   trajectory,
	}, nil
}

// RecordTurn folds one finished conversation turn into the engine:
// classify both sides, append trajectory samples, update character
// state from the bot sample, update the relationship from both, and
// enqueue a background aggregation run.
//
// Degrade-gracefully contract: a classifier timeout becomes a neutral
// sample; storage writes are retried with bounded backoff and then
// dropped with a logged warning. Response delivery must never hinge on
// this bookkeeping, so the only error ever returned is the caller's
// own context cancellation.
func (e *AffectEngine) RecordTurn(ctx context.Context, characterID, userID, userText, botText string, quality *ConversationQuality) error {
	now := e.now()

	var userReading, botReading *EmotionReading
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		userReading = ClassifyWithFallback(gctx, e.classifier, userText, e.cfg.ClassifyTimeout)
		return nil
	})
	g.Go(func() error {
		botReading = ClassifyWithFallback(gctx, e.classifier, botText, e.cfg.ClassifyTimeout)
		return nil
	})
	_ = g.Wait() // goroutines never return errors; fallback handles failure

	if ctx.Err() != nil {
		return ctx.Err()
	}

	userSample := sampleFromReading(UserEntityID(userID, characterID), SourceUser, userReading, now)
	botSample := sampleFromReading(CharacterEntityID(characterID), SourceBot, botReading, now)

	e.appendSample(ctx, userSample)
	e.appendSample(ctx, botSample)

	err := withRetry(ctx, e.cfg.StorageRetries, e.cfg.StorageRetryBase, func() error {
		_, err := e.State.ApplyEmotionSample(ctx, characterID, botSample)
		return err
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("[AffectEngine] Dropping state update for %s: %v", characterID, err)
	}

	err = withRetry(ctx, e.cfg.StorageRetries, e.cfg.StorageRetryBase, func() error {
		_, err := e.Relationship.Update(ctx, userID, characterID, userSample, botSample, quality)
		return err
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("[AffectEngine] Dropping relationship update for %s:%s: %v", userID, characterID, err)
	}

	e.Aggregator.Submit(userID, characterID)
	return ctx.Err()
}

func sampleFromReading(entityID string, source SampleSource, reading *EmotionReading, ts time.Time) *EmotionSample {
	if reading == nil {
		return NeutralSample(entityID, source, ts)
	}
	return NewEmotionSample(entityID, source, reading.Primary, reading.Intensity, reading.Confidence, reading.Mixed, ts)
}

// appendSample writes one trajectory row with retry, dropping on
// persistent failure.
func (e *AffectEngine) appendSample(ctx context.Context, sample *EmotionSample) {
	err := withRetry(ctx, e.cfg.StorageRetries, e.cfg.StorageRetryBase, func() error {
		return e.Trajectory.RecordSample(ctx, sample)
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("[AffectEngine] Dropping trajectory sample for %s: %v", sample.EntityID, err)
	}
}
