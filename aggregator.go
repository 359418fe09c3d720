package affectsdk

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// ──────────────────────────────────────────────
// Feedback Aggregator — weight tuning from history
// ──────────────────────────────────────────────

// FeedbackWeight is the set of multipliers the aggregator derives from
// historical patterns. Purely an optimization signal: safe to discard
// and recompute from raw stored data at any time.
type FeedbackWeight struct {
	EmpathySensitivity  float64   `json:"empathy_sensitivity"`
	DecayRateMultiplier float64   `json:"decay_rate_multiplier"`
	AffectionGain       float64   `json:"affection_gain"`
	TrustGain           float64   `json:"trust_gain"`
	AttunementGain      float64   `json:"attunement_gain"`
	SampleCount         int       `json:"sample_count"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NeutralFeedbackWeight returns all-1.0 multipliers — the cold-start
// and fallback weights.
func NeutralFeedbackWeight() *FeedbackWeight {
	return &FeedbackWeight{
		EmpathySensitivity:  1.0,
		DecayRateMultiplier: 1.0,
		AffectionGain:       1.0,
		TrustGain:           1.0,
		AttunementGain:      1.0,
	}
}

// toneGroup coarsens the taxonomy into buckets for correlation.
func toneGroup(e Emotion) string {
	switch e {
	case EmotionJoy, EmotionLove, EmotionGratitude:
		return "warm"
	case EmotionSadness, EmotionFear:
		return "somber"
	case EmotionAnger, EmotionDisgust, EmotionSurprise:
		return "sharp"
	default:
		return "steady"
	}
}

type aggJob struct {
	userID      string
	characterID string
}

// AggregatorConfig controls the background aggregation pipeline.
type AggregatorConfig struct {
	Workers    int           // background worker goroutines, default 1
	QueueSize  int           // buffered channel capacity, default 64
	JobTimeout time.Duration // per-run bound, default 30s
}

// DefaultAggregatorConfig returns production defaults.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Workers:    1,
		QueueSize:  64,
		JobTimeout: 30 * time.Second,
	}
}

// FeedbackAggregator mines trajectory and relationship-delta history to
// produce FeedbackWeight adjustments, off the conversation hot path.
// The caller enqueues runs via Submit(); readers always get the
// last-known (or neutral) weights without blocking.
type FeedbackAggregator struct {
	store  Store
	cfg    EngineConfig
	acfg   AggregatorConfig
	now    func() time.Time
	queue  chan aggJob
	wg     sync.WaitGroup
	cancel context.CancelFunc

	cache     sync.Map // pair id -> *FeedbackWeight
	charCache sync.Map // character id -> *FeedbackWeight (latest run)
	dropped   atomic.Int64
	runs      atomic.Int64
}

// NewFeedbackAggregator creates and starts the aggregation pipeline.
// Call Stop() to drain the queue and shut down workers.
func NewFeedbackAggregator(store Store, cfg EngineConfig, aconfig ...AggregatorConfig) *FeedbackAggregator {
	acfg := DefaultAggregatorConfig()
	if len(aconfig) > 0 {
		acfg = aconfig[0]
	}
	if acfg.Workers <= 0 {
		acfg.Workers = 1
	}
	if acfg.QueueSize <= 0 {
		acfg.QueueSize = 64
	}
	if acfg.JobTimeout <= 0 {
		acfg.JobTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &FeedbackAggregator{
		store:  store,
		cfg:    cfg.withDefaults(),
		acfg:   acfg,
		now:    time.Now,
		queue:  make(chan aggJob, acfg.QueueSize),
		cancel: cancel,
	}
	for i := 0; i < acfg.Workers; i++ {
		a.wg.Add(1)
		go a.worker(ctx)
	}
	return a
}

// Submit enqueues an aggregation run. Non-blocking; drops if the queue
// is full — the system keeps running on last-known weights.
func (a *FeedbackAggregator) Submit(userID, characterID string) bool {
	select {
	case a.queue <- aggJob{userID: userID, characterID: characterID}:
		return true
	default:
		a.dropped.Inc()
		log.Printf("[FeedbackAggregator] Queue full, dropping run for %s:%s", userID, characterID)
		return false
	}
}

// Pending returns the number of queued runs.
func (a *FeedbackAggregator) Pending() int { return len(a.queue) }

// Dropped returns how many runs were dropped due to a full queue.
func (a *FeedbackAggregator) Dropped() int64 { return a.dropped.Load() }

// Runs returns how many aggregation runs have completed.
func (a *FeedbackAggregator) Runs() int64 { return a.runs.Load() }

// Stop signals workers to drain remaining runs and exit. Blocks until done.
func (a *FeedbackAggregator) Stop() {
	a.cancel()
	close(a.queue)
	a.wg.Wait()
}

func (a *FeedbackAggregator) worker(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case job, ok := <-a.queue:
			if !ok {
				return
			}
			a.processJob(job)
		case <-ctx.Done():
			// Drain remaining
			for job := range a.queue {
				a.processJob(job)
			}
			return
		}
	}
}

func (a *FeedbackAggregator) processJob(job aggJob) {
	ctx, cancel := context.WithTimeout(context.Background(), a.acfg.JobTimeout)
	defer cancel()
	if _, err := a.RunAggregation(ctx, job.userID, job.characterID, a.cfg.AggregationLookback); err != nil {
		// A failed run never propagates: keep serving last-known weights.
		log.Printf("[FeedbackAggregator] Run failed for %s:%s, keeping last-known weights: %v",
			job.userID, job.characterID, err)
	}
}

// WeightsFor returns the last-known weights for a pair, or neutral
// weights when none have been computed yet. Never blocks.
func (a *FeedbackAggregator) WeightsFor(userID, characterID string) *FeedbackWeight {
	if v, ok := a.cache.Load(pairID(userID, characterID)); ok {
		return v.(*FeedbackWeight)
	}
	return NeutralFeedbackWeight()
}

// CharacterWeightsFor returns the most recently computed weights for
// any pair involving the character. Character state is shared across
// users, so its multipliers follow whichever pair aggregated last.
func (a *FeedbackAggregator) CharacterWeightsFor(characterID string) *FeedbackWeight {
	if v, ok := a.charCache.Load(characterID); ok {
		return v.(*FeedbackWeight)
	}
	return NeutralFeedbackWeight()
}

// LoadWeights warms the in-process cache from the durable store, e.g.
// at startup. Missing records are fine; the cache stays neutral.
func (a *FeedbackAggregator) LoadWeights(ctx context.Context, userID, characterID string) error {
	raw, _, err := a.store.GetRecord(ctx, RecordKindWeights, pairID(userID, characterID))
	if err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	var w FeedbackWeight
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return err
	}
	a.cache.Store(pairID(userID, characterID), &w)
	return nil
}

// RunAggregation mines the pair's recent history and emits adjusted
// weights. With fewer than MinAggregationSamples delta rows it returns
// all-neutral weights rather than overfitting to noise. The result is
// a plain weighted-average statistic — no hidden model state — blended
// into the previous weights by EMA and persisted wholesale.
func (a *FeedbackAggregator) RunAggregation(ctx context.Context, userID, characterID string, lookback time.Duration) (*FeedbackWeight, error) {
	now := a.now()
	from := now.Add(-lookback)

	rows, err := a.store.RangeSamples(ctx, RelationshipDeltaEntityID(userID, characterID), from, now)
	if err != nil {
		return nil, err
	}

	deltas := make([]relationshipDelta, 0, len(rows))
	for _, row := range rows {
		var d relationshipDelta
		if err := json.Unmarshal([]byte(row.Payload), &d); err != nil {
			continue
		}
		deltas = append(deltas, d)
	}

	if len(deltas) < a.cfg.MinAggregationSamples {
		neutral := NeutralFeedbackWeight()
		neutral.SampleCount = len(deltas)
		neutral.UpdatedAt = now
		a.publish(userID, characterID, neutral)
		a.runs.Inc()
		return neutral, nil
	}

	fresh := a.deriveWeights(ctx, userID, characterID, deltas, from, now)
	blended := a.blend(userID, characterID, fresh)
	blended.SampleCount = len(deltas)
	blended.UpdatedAt = now

	if err := a.persist(ctx, userID, characterID, blended); err != nil {
		// Cache still advances; the record is a recomputable cache anyway.
		log.Printf("[FeedbackAggregator] Persist failed for %s:%s: %v", userID, characterID, err)
	}
	a.publish(userID, characterID, blended)
	a.runs.Inc()
	return blended, nil
}

// deriveWeights computes candidate multipliers from bucket statistics.
func (a *FeedbackAggregator) deriveWeights(ctx context.Context, userID, characterID string, deltas []relationshipDelta, from, to time.Time) *FeedbackWeight {
	bucketSum := map[string]float64{}
	bucketN := map[string]float64{}
	var overallSum, engagementSum, attunementSum float64
	for _, d := range deltas {
		total := d.AffectionDelta + d.TrustDelta + d.AttunementDelta
		group := toneGroup(d.BotPrimary)
		bucketSum[group] += total
		bucketN[group]++
		overallSum += total
		engagementSum += d.Engagement
		attunementSum += d.AttunementDelta
	}
	n := float64(len(deltas))
	overall := overallSum / n
	bucketMean := func(group string) float64 {
		if bucketN[group] == 0 {
			return overall
		}
		return bucketSum[group] / bucketN[group]
	}

	w := NeutralFeedbackWeight()
	// Did warm (or somber) bot tone historically precede larger score
	// gains for this user? Bias the corresponding gains accordingly.
	w.AffectionGain = clampRange(1+(bucketMean("warm")-overall)*0.15, 0.5, 1.5)
	w.EmpathySensitivity = clampRange(1+(bucketMean("somber")-overall)*0.15, 0.5, 1.5)
	w.TrustGain = clampRange(0.5+engagementSum/n, 0.5, 1.5)
	w.AttunementGain = clampRange(1+(attunementSum/n)*0.2, 0.5, 1.5)
	w.DecayRateMultiplier = a.decayMultiplier(ctx, characterID, from, to)
	return w
}

// decayMultiplier nudges the state decay rate from the volatility of
// the character's own recent intensity: a volatile mood returns to
// baseline faster, a steady one lingers.
func (a *FeedbackAggregator) decayMultiplier(ctx context.Context, characterID string, from, to time.Time) float64 {
	rows, err := a.store.RangeSamples(ctx, CharacterEntityID(characterID), from, to)
	if err != nil || len(rows) < 2 {
		return 1.0
	}
	var sum, sumSq, n float64
	for _, row := range rows {
		var s EmotionSample
		if err := json.Unmarshal([]byte(row.Payload), &s); err != nil {
			continue
		}
		sum += s.Intensity
		sumSq += s.Intensity * s.Intensity
		n++
	}
	if n < 2 {
		return 1.0
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return clampRange(0.9+math.Sqrt(variance), 0.9, 1.2)
}

// blend folds fresh weights into the previous ones by EMA.
func (a *FeedbackAggregator) blend(userID, characterID string, fresh *FeedbackWeight) *FeedbackWeight {
	prev := a.WeightsFor(userID, characterID)
	alpha := a.cfg.AggregationEMA
	mix := func(old, new float64) float64 { return old*(1-alpha) + new*alpha }
	return &FeedbackWeight{
		EmpathySensitivity:  mix(prev.EmpathySensitivity, fresh.EmpathySensitivity),
		DecayRateMultiplier: mix(prev.DecayRateMultiplier, fresh.DecayRateMultiplier),
		AffectionGain:       mix(prev.AffectionGain, fresh.AffectionGain),
		TrustGain:           mix(prev.TrustGain, fresh.TrustGain),
		AttunementGain:      mix(prev.AttunementGain, fresh.AttunementGain),
	}
}

func (a *FeedbackAggregator) publish(userID, characterID string, w *FeedbackWeight) {
	a.cache.Store(pairID(userID, characterID), w)
	a.charCache.Store(characterID, w)
}

// persist overwrites the cached weight record wholesale. The record is
// derived data, so a version conflict just means a concurrent run
// already wrote fresher weights; that run wins.
func (a *FeedbackAggregator) persist(ctx context.Context, userID, characterID string, w *FeedbackWeight) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return err
	}
	id := pairID(userID, characterID)
	_, version, err := a.store.GetRecord(ctx, RecordKindWeights, id)
	if err != nil {
		return err
	}
	if err := a.store.PutRecord(ctx, RecordKindWeights, id, string(raw), version); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil
		}
		return err
	}
	return nil
}
