package affectsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ──────────────────────────────────────────────
// TrajectoryStore — emotion time series + trend metrics
// ──────────────────────────────────────────────

// TrendDirection classifies the slope of an entity's emotion intensity.
type TrendDirection string

const (
	TrendIntensifying TrendDirection = "intensifying"
	TrendCalming      TrendDirection = "calming"
	TrendStable       TrendDirection = "stable"
)

// TrajectoryWindow is a derived query result: the ordered samples for
// one entity over a bounded range plus computed trend metrics. It is
// recomputed on demand and never cached persistently.
type TrajectoryWindow struct {
	EntityID  string          `json:"entity_id"`
	Since     time.Duration   `json:"since"`
	Samples   []EmotionSample `json:"samples"`
	Direction TrendDirection  `json:"direction"`
	// Velocity is the rate of change of primary-emotion intensity,
	// in intensity units per hour.
	Velocity float64 `json:"velocity"`
}

// TrajectoryStore keeps the append-only history of emotion samples and
// derives trend metrics over it.
type TrajectoryStore struct {
	store   Store
	epsilon float64 // stable-band slope threshold, intensity/hour
	now     func() time.Time
}

// NewTrajectoryStore creates a trajectory store on top of a backend.
func NewTrajectoryStore(store Store, config ...EngineConfig) *TrajectoryStore {
	cfg := DefaultEngineConfig()
	if len(config) > 0 {
		cfg = config[0].withDefaults()
	}
	return &TrajectoryStore{
		store:   store,
		epsilon: cfg.TrendEpsilonPerHour,
		now:     time.Now,
	}
}

// RecordSample appends one immutable sample to the entity's history.
// The only failure mode is storage; those come back wrapped as
// StorageError and are retryable.
func (t *TrajectoryStore) RecordSample(ctx context.Context, sample *EmotionSample) error {
	if sample == nil {
		return nil
	}
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	return t.store.AppendSample(ctx, sample.EntityID, sample.Timestamp, string(payload))
}

// GetTrajectory returns the trend window for an entity over the last
// `since` duration. With fewer than 2 samples the result is the defined
// cold-start window: direction stable, velocity 0. Not an error.
func (t *TrajectoryStore) GetTrajectory(ctx context.Context, entityID string, since time.Duration) (*TrajectoryWindow, error) {
	now := t.now()
	rows, err := t.store.RangeSamples(ctx, entityID, now.Add(-since), now)
	if err != nil {
		return nil, err
	}

	window := &TrajectoryWindow{
		EntityID:  entityID,
		Since:     since,
		Direction: TrendStable,
	}
	for _, row := range rows {
		var s EmotionSample
		if err := json.Unmarshal([]byte(row.Payload), &s); err != nil {
			// One corrupt row must not sink the whole window.
			continue
		}
		window.Samples = append(window.Samples, s)
	}

	if len(window.Samples) < 2 {
		return window, nil
	}

	slope := intensitySlope(window.Samples)
	window.Velocity = slope
	switch {
	case slope > t.epsilon:
		window.Direction = TrendIntensifying
	case slope < -t.epsilon:
		window.Direction = TrendCalming
	}
	return window, nil
}

// intensitySlope fits a least-squares line to (hours, intensity) and
// returns its slope in intensity units per hour. Samples are assumed
// chronological. Degenerate spans (all samples at one instant) yield 0.
func intensitySlope(samples []EmotionSample) float64 {
	n := float64(len(samples))
	origin := samples[0].Timestamp

	var sumX, sumY, sumXY, sumXX float64
	for _, s := range samples {
		x := s.Timestamp.Sub(origin).Hours()
		y := s.Intensity
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
