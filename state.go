package affectsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ──────────────────────────────────────────────
// Character State Engine — persistent 5-dimensional mood
// ──────────────────────────────────────────────

// StateDimension is one of the five persistent mood dimensions.
type StateDimension string

const (
	DimEnthusiasm  StateDimension = "enthusiasm"
	DimStress      StateDimension = "stress"
	DimContentment StateDimension = "contentment"
	DimEmpathy     StateDimension = "empathy"
	DimConfidence  StateDimension = "confidence"
)

// StateDimensions lists the five dimensions in stable order.
var StateDimensions = []StateDimension{
	DimEnthusiasm, DimStress, DimContentment, DimEmpathy, DimConfidence,
}

// CharacterEmotionalState is the persistent mood of one character,
// shared across all of that character's conversations. Every dimension
// stays in [0, 1]; reads recompute decay from elapsed time, so no
// background job ever mutates stored state.
type CharacterEmotionalState struct {
	CharacterID string                     `json:"character_id"`
	Dimensions  map[StateDimension]float64 `json:"dimensions"`
	Baselines   map[StateDimension]float64 `json:"baselines"`
	LastUpdated time.Time                  `json:"last_updated"`

	// version is the optimistic-concurrency token of the stored record.
	version int64
}

// Dominant returns the dimension currently furthest above its baseline,
// or "" when the character sits at rest.
func (s *CharacterEmotionalState) Dominant() StateDimension {
	var top StateDimension
	best := 0.02 // ignore noise-level deviations
	for _, dim := range StateDimensions {
		if dev := s.Dimensions[dim] - s.Baselines[dim]; dev > best {
			best = dev
			top = dim
		}
	}
	return top
}

// emotionDimensionDeltas maps each classified emotion onto unit deltas
// for the five dimensions. Actual deltas are scaled by
// intensity * confidence and capped per message.
var emotionDimensionDeltas = map[Emotion]map[StateDimension]float64{
	EmotionJoy:          {DimEnthusiasm: 1.0, DimContentment: 0.6},
	EmotionGratitude:    {DimContentment: 0.8, DimEmpathy: 0.4},
	EmotionLove:         {DimEmpathy: 1.0, DimContentment: 0.5},
	EmotionTrust:        {DimEmpathy: 0.6, DimConfidence: 0.4},
	EmotionAnticipation: {DimEnthusiasm: 0.7},
	EmotionSurprise:     {DimEnthusiasm: 0.4, DimStress: 0.2},
	EmotionFear:         {DimStress: 1.0, DimConfidence: -0.6},
	EmotionSadness:      {DimStress: 0.5, DimContentment: -0.7, DimEnthusiasm: -0.4},
	EmotionAnger:        {DimStress: 0.9, DimEmpathy: -0.3},
	EmotionDisgust:      {DimStress: 0.4, DimContentment: -0.4},
	EmotionNeutral:      {},
}

// WeightSource supplies the current feedback multipliers for a
// character. Nil or a nil return means neutral weights.
type WeightSource func(characterID string) *FeedbackWeight

// CharacterStateEngine maintains the decaying 5-dimensional mood per
// character, nudged by each classified bot emotion sample.
type CharacterStateEngine struct {
	store   Store
	cfg     EngineConfig
	weights WeightSource
	now     func() time.Time
}

// NewCharacterStateEngine creates a state engine on top of a backend.
func NewCharacterStateEngine(store Store, config ...EngineConfig) *CharacterStateEngine {
	cfg := DefaultEngineConfig()
	if len(config) > 0 {
		cfg = config[0].withDefaults()
	}
	return &CharacterStateEngine{store: store, cfg: cfg, now: time.Now}
}

// SetWeightSource wires the feedback-weight lookup used to scale
// empathy sensitivity and decay. Optional; absent means neutral.
func (e *CharacterStateEngine) SetWeightSource(src WeightSource) {
	e.weights = src
}

func (e *CharacterStateEngine) weightsFor(characterID string) *FeedbackWeight {
	if e.weights == nil {
		return NeutralFeedbackWeight()
	}
	if w := e.weights(characterID); w != nil {
		return w
	}
	return NeutralFeedbackWeight()
}

// freshState returns the lazily created baseline state for a character.
func (e *CharacterStateEngine) freshState(characterID string) *CharacterEmotionalState {
	dims := make(map[StateDimension]float64, len(StateDimensions))
	bases := make(map[StateDimension]float64, len(StateDimensions))
	for _, dim := range StateDimensions {
		dims[dim] = e.cfg.DefaultBaseline
		bases[dim] = e.cfg.DefaultBaseline
	}
	return &CharacterEmotionalState{
		CharacterID: characterID,
		Dimensions:  dims,
		Baselines:   bases,
		LastUpdated: e.now(),
	}
}

// loadState reads the stored state (or a fresh baseline one) without
// applying decay. The version token rides along for CAS writes.
func (e *CharacterStateEngine) loadState(ctx context.Context, characterID string) (*CharacterEmotionalState, error) {
	raw, version, err := e.store.GetRecord(ctx, RecordKindState, characterID)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return e.freshState(characterID), nil
	}
	var state CharacterEmotionalState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", characterID, err)
	}
	state.version = version
	return &state, nil
}

func (e *CharacterStateEngine) saveState(ctx context.Context, state *CharacterEmotionalState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", state.CharacterID, err)
	}
	if err := e.store.PutRecord(ctx, RecordKindState, state.CharacterID, string(raw), state.version); err != nil {
		return err
	}
	state.version++
	return nil
}

// GetCurrentState returns the character's mood with decay applied for
// the time elapsed since the last update. Pure read: repeated calls at
// the same instant yield identical results and nothing is written.
func (e *CharacterStateEngine) GetCurrentState(ctx context.Context, characterID string) (*CharacterEmotionalState, error) {
	state, err := e.loadState(ctx, characterID)
	if err != nil {
		return nil, err
	}
	w := e.weightsFor(characterID)
	return e.decayed(state, e.now(), w), nil
}

// decayed returns a copy of state with every dimension pulled toward
// its baseline for the elapsed time. Elapsed time never goes negative
// (clock skew reads as zero).
func (e *CharacterStateEngine) decayed(state *CharacterEmotionalState, at time.Time, w *FeedbackWeight) *CharacterEmotionalState {
	hours := at.Sub(state.LastUpdated).Hours()
	if hours < 0 {
		hours = 0
	}
	rate := e.cfg.DecayRatePerHour * w.DecayRateMultiplier

	out := &CharacterEmotionalState{
		CharacterID: state.CharacterID,
		Dimensions:  make(map[StateDimension]float64, len(StateDimensions)),
		Baselines:   make(map[StateDimension]float64, len(StateDimensions)),
		LastUpdated: state.LastUpdated,
		version:     state.version,
	}
	for _, dim := range StateDimensions {
		base := state.Baselines[dim]
		out.Baselines[dim] = base
		out.Dimensions[dim] = decayTowardBaseline(state.Dimensions[dim], base, hours, rate)
	}
	return out
}

// decayTowardBaseline is the pure decay law:
// value = baseline + (stored - baseline) * exp(-rate * hours).
func decayTowardBaseline(stored, baseline, hours, ratePerHour float64) float64 {
	return baseline + (stored-baseline)*math.Exp(-ratePerHour*hours)
}

// ApplyEmotionSample folds one classified bot sample into the
// character's mood. Low-confidence samples are treated as noise and
// skipped entirely — state and timestamp remain untouched. Storage
// conflicts retry optimistically; transient storage errors propagate
// for the caller's retry/drop policy.
func (e *CharacterStateEngine) ApplyEmotionSample(ctx context.Context, characterID string, sample *EmotionSample) (*CharacterEmotionalState, error) {
	if sample == nil || sample.Confidence < e.cfg.MinConfidence {
		return e.GetCurrentState(ctx, characterID)
	}

	w := e.weightsFor(characterID)
	var lastErr error
	for attempt := 0; attempt < e.cfg.CASAttempts; attempt++ {
		stored, err := e.loadState(ctx, characterID)
		if err != nil {
			return nil, err
		}
		now := e.now()
		state := e.decayed(stored, now, w)
		applySampleDeltas(state, sample, e.cfg.StateDeltaCap, w)
		state.LastUpdated = now

		if err := e.saveState(ctx, state); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return state, nil
	}
	return nil, fmt.Errorf("apply sample for %s: %w", characterID, lastErr)
}

// applySampleDeltas mutates state in place with capped, clamped deltas.
func applySampleDeltas(state *CharacterEmotionalState, sample *EmotionSample, capAbs float64, w *FeedbackWeight) {
	scale := sample.Intensity * sample.Confidence

	deltas := make(map[StateDimension]float64, len(StateDimensions))
	accumulate := func(emo Emotion, mass float64) {
		for dim, unit := range emotionDimensionDeltas[emo] {
			deltas[dim] += unit * mass
		}
	}
	accumulate(sample.Primary, scale)
	for _, m := range sample.Mixed {
		accumulate(m.Emotion, m.Score*sample.Confidence)
	}

	for dim, delta := range deltas {
		if dim == DimEmpathy {
			delta *= w.EmpathySensitivity
		}
		delta = clampRange(delta, -capAbs, capAbs)
		state.Dimensions[dim] = clamp01(state.Dimensions[dim] + delta)
	}
}

// ResetState is the operator action that returns a character to its
// baseline mood. The record survives (state is never deleted).
func (e *CharacterStateEngine) ResetState(ctx context.Context, characterID string) error {
	var lastErr error
	for attempt := 0; attempt < e.cfg.CASAttempts; attempt++ {
		stored, err := e.loadState(ctx, characterID)
		if err != nil {
			return err
		}
		fresh := e.freshState(characterID)
		fresh.version = stored.version
		if err := e.saveState(ctx, fresh); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("reset state for %s: %w", characterID, lastErr)
}
