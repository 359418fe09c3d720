package affectsdk

import (
	"fmt"
	"strings"
)

// ──────────────────────────────────────────────
// Prompt formatting — plain-text fragments for LLM injection
// ──────────────────────────────────────────────

var dimensionHints = map[StateDimension]string{
	DimEnthusiasm:  "feeling energetic and upbeat",
	DimStress:      "feeling tense and on edge",
	DimContentment: "feeling settled and at ease",
	DimEmpathy:     "feeling especially warm and attentive",
	DimConfidence:  "feeling self-assured",
}

// FormatForPrompt renders the character's mood as a gentle hint.
// Returns "" when the character sits at baseline (no injection needed).
func (s *CharacterEmotionalState) FormatForPrompt() string {
	dominant := s.Dominant()
	if dominant == "" {
		return ""
	}
	hint, ok := dimensionHints[dominant]
	if !ok {
		return ""
	}
	return fmt.Sprintf("[Current mood] The character is %s right now; let that color the reply without naming it.", hint)
}

var levelHints = map[RelationshipLevel]string{
	LevelStranger:     "You have only just met this user; stay warm but not familiar.",
	LevelAcquaintance: "You know this user a little; light familiarity is fine.",
	LevelFriend:       "You and this user are friends; relaxed, personal tone is natural.",
	LevelCloseFriend:  "You are close friends with this user; reference shared history freely.",
	LevelBestFriend:   "This user is one of your closest; be openly affectionate and candid.",
}

// FormatForPrompt renders the relationship stage for prompt injection.
func (r *RelationshipScore) FormatForPrompt() string {
	hint, ok := levelHints[r.Level]
	if !ok {
		return ""
	}
	return fmt.Sprintf("[Relationship] %s", hint)
}

// FormatForPrompt renders the recent emotional trend. Returns "" for a
// stable or empty window.
func (w *TrajectoryWindow) FormatForPrompt() string {
	switch w.Direction {
	case TrendIntensifying:
		return "[Emotional trend] Feelings in this conversation have been intensifying; acknowledge the rising energy."
	case TrendCalming:
		return "[Emotional trend] Feelings in this conversation have been settling down; keep the tone even."
	default:
		return ""
	}
}

// FormatForPrompt assembles the non-empty fragments of the whole
// context, one per line.
func (c *EmotionalContext) FormatForPrompt() string {
	var lines []string
	if c.State != nil {
		if s := c.State.FormatForPrompt(); s != "" {
			lines = append(lines, s)
		}
	}
	if c.Relationship != nil {
		if s := c.Relationship.FormatForPrompt(); s != "" {
			lines = append(lines, s)
		}
	}
	if c.Trajectory != nil {
		if s := c.Trajectory.FormatForPrompt(); s != "" {
			lines = append(lines, s)
		}
	}
	return strings.Join(lines, "\n")
}
