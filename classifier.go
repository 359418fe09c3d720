package affectsdk

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"
)

// ──────────────────────────────────────────────
// Emotion Classifier — lightweight rule-based scoring
// ──────────────────────────────────────────────

// EmotionReading is the raw output of a classifier for one text.
// It carries no entity identity; the engine attaches that when it
// turns a reading into an EmotionSample.
type EmotionReading struct {
	Primary    Emotion        `json:"primary_emotion"`
	Intensity  float64        `json:"intensity"`  // 0.0-1.0
	Confidence float64        `json:"confidence"` // 0.0-1.0
	Mixed      []EmotionScore `json:"mixed_emotions,omitempty"`
}

// NeutralReading is the substitute used when classification fails or
// times out. Confidence 0 makes downstream consumers no-op.
func NeutralReading() *EmotionReading {
	return &EmotionReading{Primary: EmotionNeutral}
}

// EmotionClassifier classifies a text into the emotion taxonomy.
// Implementations must be side-effect-free and safe for concurrent use.
type EmotionClassifier interface {
	Classify(ctx context.Context, text string) (*EmotionReading, error)
}

type weightedKeyword struct {
	keyword string
	weight  float64
}

// KeywordClassifier detects emotion via weighted keyword scoring.
// Zero LLM cost; strong words carry higher weights so a single casual
// word does not trigger a reading.
type KeywordClassifier struct {
	patterns      map[Emotion][]weightedKeyword
	minConfidence float64
}

// NewKeywordClassifier creates a classifier with built-in patterns.
// Readings scoring below minConfidence collapse to neutral
// (0 = default 0.3).
func NewKeywordClassifier(minConfidence float64) *KeywordClassifier {
	if minConfidence <= 0 {
		minConfidence = 0.3
	}
	return &KeywordClassifier{
		patterns:      defaultEmotionPatterns(),
		minConfidence: minConfidence,
	}
}

func defaultEmotionPatterns() map[Emotion][]weightedKeyword {
	return map[Emotion][]weightedKeyword{
		EmotionJoy: {
			// Lower weight — needs multiple hits to trigger (anti-false-positive for sarcasm)
			{keyword: "awesome", weight: 0.4}, {keyword: "so happy", weight: 0.5},
			{keyword: "great", weight: 0.3}, {keyword: "wonderful", weight: 0.4},
			{keyword: "love it", weight: 0.4}, {keyword: "haha", weight: 0.3},
			{keyword: "yay", weight: 0.4}, {keyword: ":d", weight: 0.3},
		},
		EmotionSadness: {
			{keyword: "sad", weight: 0.5}, {keyword: "miss", weight: 0.3},
			{keyword: "lonely", weight: 0.5}, {keyword: "sigh", weight: 0.4},
			{keyword: "disappointed", weight: 0.4}, {keyword: "crying", weight: 0.5},
			{keyword: "forget it", weight: 0.3},
		},
		EmotionAnger: {
			// Strong words — weight 0.5
			{keyword: "furious", weight: 0.5}, {keyword: "hate", weight: 0.5},
			{keyword: "wtf", weight: 0.5}, {keyword: "terrible", weight: 0.4},
			{keyword: "useless", weight: 0.4}, {keyword: "annoying", weight: 0.4},
		},
		EmotionFear: {
			{keyword: "scared", weight: 0.5}, {keyword: "afraid", weight: 0.5},
			{keyword: "worried", weight: 0.4}, {keyword: "anxious", weight: 0.4},
			{keyword: "nervous", weight: 0.4}, {keyword: "terrified", weight: 0.6},
		},
		EmotionSurprise: {
			{keyword: "whoa", weight: 0.4}, {keyword: "no way", weight: 0.4},
			{keyword: "can't believe", weight: 0.4}, {keyword: "really?", weight: 0.3},
			{keyword: "unexpected", weight: 0.4},
		},
		EmotionDisgust: {
			{keyword: "gross", weight: 0.5}, {keyword: "disgusting", weight: 0.5},
			{keyword: "ew", weight: 0.4}, {keyword: "awful", weight: 0.4},
		},
		EmotionTrust: {
			{keyword: "i trust you", weight: 0.6}, {keyword: "you remembered", weight: 0.5},
			{keyword: "count on you", weight: 0.5}, {keyword: "reliable", weight: 0.4},
		},
		EmotionAnticipation: {
			{keyword: "can't wait", weight: 0.5}, {keyword: "looking forward", weight: 0.5},
			{keyword: "excited", weight: 0.4}, {keyword: "soon", weight: 0.2},
		},
		EmotionLove: {
			{keyword: "love you", weight: 0.6}, {keyword: "adore", weight: 0.5},
			{keyword: "miss you", weight: 0.5}, {keyword: "<3", weight: 0.4},
		},
		EmotionGratitude: {
			{keyword: "thank you", weight: 0.5}, {keyword: "thanks", weight: 0.4},
			{keyword: "grateful", weight: 0.5}, {keyword: "appreciate", weight: 0.5},
		},
	}
}

// Classify analyzes text for emotional content. Never returns an error;
// texts without signal produce a neutral reading.
func (c *KeywordClassifier) Classify(ctx context.Context, text string) (*EmotionReading, error) {
	lower := strings.ToLower(text)
	scores := make(map[Emotion]float64, len(c.patterns))

	for emo, keywords := range c.patterns {
		for _, kw := range keywords {
			if strings.Contains(lower, kw.keyword) {
				scores[emo] += kw.weight
			}
		}
	}

	// Exclamation boost: >=2 exclamation marks → top emotion +0.1 per mark (cap +0.2)
	if exclam := strings.Count(text, "!"); exclam >= 2 {
		boost := float64(exclam) * 0.1
		if boost > 0.2 {
			boost = 0.2
		}
		if top := maxScoredEmotion(scores); top != EmotionNeutral {
			scores[top] += boost
		}
	}

	top := maxScoredEmotion(scores)
	topScore := clamp01(scores[top])

	// Below threshold → neutral
	if top == EmotionNeutral || topScore < c.minConfidence {
		return NeutralReading(), nil
	}

	// Secondary emotions, strongest first, at most 4
	var mixed []EmotionScore
	for emo, score := range scores {
		if emo == top || score <= 0 {
			continue
		}
		mixed = append(mixed, EmotionScore{Emotion: emo, Score: clamp01(score)})
	}
	sort.Slice(mixed, func(i, j int) bool { return mixed[i].Score > mixed[j].Score })
	if len(mixed) > maxMixedEmotions {
		mixed = mixed[:maxMixedEmotions]
	}

	return &EmotionReading{
		Primary:    top,
		Intensity:  topScore,
		Confidence: topScore,
		Mixed:      mixed,
	}, nil
}

func maxScoredEmotion(scores map[Emotion]float64) Emotion {
	top := EmotionNeutral
	best := 0.0
	// Deterministic tie-break: taxonomy order
	for _, emo := range AllEmotions {
		if emo == EmotionNeutral {
			continue
		}
		if s := scores[emo]; s > best {
			best = s
			top = emo
		}
	}
	return top
}

// ClassifyWithFallback runs the classifier under a bounded timeout.
// On timeout, error, or nil result it returns a neutral reading — the
// conversation turn must never block on classification.
func ClassifyWithFallback(ctx context.Context, c EmotionClassifier, text string, timeout time.Duration) *EmotionReading {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		reading *EmotionReading
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		r, err := c.Classify(cctx, text)
		ch <- result{reading: r, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil || res.reading == nil {
			if res.err != nil {
				log.Printf("[Classifier] Classification failed, using neutral: %v", res.err)
			}
			return NeutralReading()
		}
		return res.reading
	case <-cctx.Done():
		log.Printf("[Classifier] Classification timed out after %s, using neutral", timeout)
		return NeutralReading()
	}
}

// Compile-time interface check.
var _ EmotionClassifier = (*KeywordClassifier)(nil)
