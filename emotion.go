package affectsdk

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// ──────────────────────────────────────────────
// Emotion taxonomy — closed 11-category enum
// ──────────────────────────────────────────────

// Emotion is one category of the fixed classification taxonomy.
// Always construct via the constants or ParseEmotion; free-form strings
// silently become EmotionNeutral instead of creating phantom categories.
type Emotion string

const (
	EmotionJoy          Emotion = "joy"
	EmotionSadness      Emotion = "sadness"
	EmotionAnger        Emotion = "anger"
	EmotionFear         Emotion = "fear"
	EmotionSurprise     Emotion = "surprise"
	EmotionDisgust      Emotion = "disgust"
	EmotionTrust        Emotion = "trust"
	EmotionAnticipation Emotion = "anticipation"
	EmotionLove         Emotion = "love"
	EmotionGratitude    Emotion = "gratitude"
	EmotionNeutral      Emotion = "neutral"
)

// AllEmotions lists every category in the taxonomy.
var AllEmotions = []Emotion{
	EmotionJoy, EmotionSadness, EmotionAnger, EmotionFear,
	EmotionSurprise, EmotionDisgust, EmotionTrust, EmotionAnticipation,
	EmotionLove, EmotionGratitude, EmotionNeutral,
}

// ParseEmotion maps a raw string to a taxonomy category.
// Unknown values map to EmotionNeutral.
func ParseEmotion(s string) Emotion {
	e := Emotion(s)
	if e.Valid() {
		return e
	}
	return EmotionNeutral
}

// Valid reports whether e is one of the 11 taxonomy categories.
func (e Emotion) Valid() bool {
	switch e {
	case EmotionJoy, EmotionSadness, EmotionAnger, EmotionFear,
		EmotionSurprise, EmotionDisgust, EmotionTrust, EmotionAnticipation,
		EmotionLove, EmotionGratitude, EmotionNeutral:
		return true
	}
	return false
}

// emotionValence maps each category to a signed valence in [-1, 1].
var emotionValence = map[Emotion]float64{
	EmotionJoy:          1.0,
	EmotionGratitude:    0.9,
	EmotionLove:         0.9,
	EmotionTrust:        0.6,
	EmotionAnticipation: 0.3,
	EmotionSurprise:     0.1,
	EmotionNeutral:      0.0,
	EmotionFear:         -0.6,
	EmotionSadness:      -0.7,
	EmotionDisgust:      -0.7,
	EmotionAnger:        -0.8,
}

// Valence returns the signed positive/negative weight of the category.
func (e Emotion) Valence() float64 {
	return emotionValence[e]
}

// ──────────────────────────────────────────────
// EmotionSample — one classified reading
// ──────────────────────────────────────────────

// SampleSource tags which side of the conversation produced a sample.
type SampleSource string

const (
	SourceUser SampleSource = "user"
	SourceBot  SampleSource = "bot"
)

// EmotionScore is one (emotion, score) entry of a mixed-emotion list.
type EmotionScore struct {
	Emotion Emotion `json:"emotion"`
	Score   float64 `json:"score"`
}

// maxMixedEmotions bounds the secondary-emotion list per sample.
const maxMixedEmotions = 4

// EmotionSample is one immutable classified emotional reading of a single
// message. Created on every classified message, user and bot side.
type EmotionSample struct {
	ID         string         `json:"id"`
	EntityID   string         `json:"entity_id"`
	Source     SampleSource   `json:"source"`
	Timestamp  time.Time      `json:"timestamp"`
	Primary    Emotion        `json:"primary_emotion"`
	Intensity  float64        `json:"intensity"`  // 0.0-1.0
	Confidence float64        `json:"confidence"` // 0.0-1.0
	Mixed      []EmotionScore `json:"mixed_emotions,omitempty"`
}

// NewEmotionSample builds a sample with clamped fields.
// The mixed list is truncated to 4 entries and rescaled so its total
// mass never exceeds 1.0 (remaining mass is implicitly neutral).
func NewEmotionSample(entityID string, source SampleSource, primary Emotion, intensity, confidence float64, mixed []EmotionScore, ts time.Time) *EmotionSample {
	if !primary.Valid() {
		primary = EmotionNeutral
	}
	if len(mixed) > maxMixedEmotions {
		mixed = mixed[:maxMixedEmotions]
	}
	cleaned := make([]EmotionScore, 0, len(mixed))
	sum := 0.0
	for _, m := range mixed {
		if !m.Emotion.Valid() || m.Score <= 0 {
			continue
		}
		cleaned = append(cleaned, EmotionScore{Emotion: m.Emotion, Score: clamp01(m.Score)})
		sum += clamp01(m.Score)
	}
	if sum > 1.0 {
		for i := range cleaned {
			cleaned[i].Score /= sum
		}
	}
	return &EmotionSample{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		Source:     source,
		Timestamp:  ts,
		Primary:    primary,
		Intensity:  clamp01(intensity),
		Confidence: clamp01(confidence),
		Mixed:      cleaned,
	}
}

// NeutralSample is the degrade-gracefully substitute used when
// classification times out or fails. Confidence 0 makes every downstream
// consumer treat it as a no-op.
func NeutralSample(entityID string, source SampleSource, ts time.Time) *EmotionSample {
	return NewEmotionSample(entityID, source, EmotionNeutral, 0, 0, nil, ts)
}

// Distribution expands a sample into per-category mass. The primary
// emotion carries the intensity; mixed entries carry their scores.
func (s *EmotionSample) Distribution() map[Emotion]float64 {
	dist := make(map[Emotion]float64, 1+len(s.Mixed))
	dist[s.Primary] = s.Intensity
	for _, m := range s.Mixed {
		dist[m.Emotion] += m.Score
	}
	return dist
}

// DistributionDistance computes a normalized L1 distance in [0, 1]
// between two emotion distributions. 0 = identical, 1 = fully disjoint.
func DistributionDistance(a, b map[Emotion]float64) float64 {
	var total float64
	for _, e := range AllEmotions {
		total += math.Abs(a[e] - b[e])
	}
	// Each distribution carries at most 2.0 of mass (primary + mixed),
	// so the worst-case L1 distance is 4.0.
	d := total / 4.0
	return clamp01(d)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
