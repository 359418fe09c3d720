package affectsdk

import "time"

// EngineConfig holds every tunable of the affect pipeline.
// All numeric constants are defaults meant for tuning, not hard requirements.
type EngineConfig struct {
	// DecayRatePerHour is the exponential decay constant applied to the
	// deviation of each state dimension from its baseline. The default is
	// chosen so ~10% of the deviation decays per hour.
	DecayRatePerHour float64

	// DefaultBaseline is the resting value for every state dimension.
	DefaultBaseline float64

	// StateDeltaCap bounds the per-message influence on a single state
	// dimension.
	StateDeltaCap float64

	// MinConfidence is the classification confidence below which a sample
	// is treated as noise and skipped entirely.
	MinConfidence float64

	// TrendEpsilonPerHour is the slope threshold (intensity units per hour)
	// below which a trajectory is classified as stable.
	TrendEpsilonPerHour float64

	// TrajectoryWindow is the default lookback used when assembling
	// emotional context for prompt injection.
	TrajectoryWindow time.Duration

	// RelationshipDeltaCap bounds how far a single turn can move any one
	// relationship score.
	RelationshipDeltaCap float64

	// InitialRelationshipScore seeds affection/trust/attunement on the
	// first interaction (a warm start, not absolute zero).
	InitialRelationshipScore float64

	// NegativeAffectionBias scales negative affection deltas relative to
	// positive ones of the same magnitude. Trust is easier to lose than
	// to gain; values > 1 make losses outweigh gains.
	NegativeAffectionBias float64

	// TrustHalfCount is the interaction count at which the per-turn trust
	// increment has fallen to half its initial size.
	TrustHalfCount int

	// MinAggregationSamples is the minimum relationship-delta history
	// required before the aggregator emits non-neutral weights.
	MinAggregationSamples int

	// AggregationLookback bounds how far back an aggregation run mines.
	AggregationLookback time.Duration

	// AggregationEMA blends a fresh aggregation result into the previous
	// weights (0 = ignore new result, 1 = replace outright).
	AggregationEMA float64

	// ClassifyTimeout bounds one classifier call; on expiry the turn
	// proceeds with a neutral sample.
	ClassifyTimeout time.Duration

	// StorageRetries and StorageRetryBase control the bounded exponential
	// backoff applied to transient storage failures.
	StorageRetries   int
	StorageRetryBase time.Duration

	// CASAttempts bounds optimistic-concurrency retry loops on versioned
	// records.
	CASAttempts int
}

// DefaultEngineConfig returns production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DecayRatePerHour:         0.105, // 1-e^-0.105 ≈ 10%/hour
		DefaultBaseline:          0.45,
		StateDeltaCap:            0.08,
		MinConfidence:            0.3,
		TrendEpsilonPerHour:      0.05,
		TrajectoryWindow:         6 * time.Hour,
		RelationshipDeltaCap:     5.0,
		InitialRelationshipScore: 10.0,
		NegativeAffectionBias:    1.5,
		TrustHalfCount:           25,
		MinAggregationSamples:    20,
		AggregationLookback:      7 * 24 * time.Hour,
		AggregationEMA:           0.3,
		ClassifyTimeout:          5 * time.Second,
		StorageRetries:           3,
		StorageRetryBase:         100 * time.Millisecond,
		CASAttempts:              5,
	}
}

// withDefaults fills zero-valued fields so partially populated configs
// behave sensibly.
func (c EngineConfig) withDefaults() EngineConfig {
	def := DefaultEngineConfig()
	if c.DecayRatePerHour <= 0 {
		c.DecayRatePerHour = def.DecayRatePerHour
	}
	if c.DefaultBaseline <= 0 {
		c.DefaultBaseline = def.DefaultBaseline
	}
	if c.StateDeltaCap <= 0 {
		c.StateDeltaCap = def.StateDeltaCap
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = def.MinConfidence
	}
	if c.TrendEpsilonPerHour <= 0 {
		c.TrendEpsilonPerHour = def.TrendEpsilonPerHour
	}
	if c.TrajectoryWindow <= 0 {
		c.TrajectoryWindow = def.TrajectoryWindow
	}
	if c.RelationshipDeltaCap <= 0 {
		c.RelationshipDeltaCap = def.RelationshipDeltaCap
	}
	if c.InitialRelationshipScore <= 0 {
		c.InitialRelationshipScore = def.InitialRelationshipScore
	}
	if c.NegativeAffectionBias <= 0 {
		c.NegativeAffectionBias = def.NegativeAffectionBias
	}
	if c.TrustHalfCount <= 0 {
		c.TrustHalfCount = def.TrustHalfCount
	}
	if c.MinAggregationSamples <= 0 {
		c.MinAggregationSamples = def.MinAggregationSamples
	}
	if c.AggregationLookback <= 0 {
		c.AggregationLookback = def.AggregationLookback
	}
	if c.AggregationEMA <= 0 {
		c.AggregationEMA = def.AggregationEMA
	}
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = def.ClassifyTimeout
	}
	if c.StorageRetries <= 0 {
		c.StorageRetries = def.StorageRetries
	}
	if c.StorageRetryBase <= 0 {
		c.StorageRetryBase = def.StorageRetryBase
	}
	if c.CASAttempts <= 0 {
		c.CASAttempts = def.CASAttempts
	}
	return c
}
