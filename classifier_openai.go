package affectsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/responses"
)

// ──────────────────────────────────────────────
// OpenAI Classifier — structured-output taxonomy scoring
// ──────────────────────────────────────────────

const classifierInstructions = `You classify the emotional content of one chat message.
Pick exactly one primary emotion from this taxonomy:
joy, sadness, anger, fear, surprise, disgust, trust, anticipation, love, gratitude, neutral.
Report intensity (how strongly the emotion is expressed, 0.0-1.0) and your
confidence in the classification (0.0-1.0). List up to 4 secondary emotions
with scores; their scores must sum to at most 1.0. Use neutral with intensity 0
when the message carries no emotional signal.`

// classifyModelResponse mirrors the JSON schema sent to the model.
type classifyModelResponse struct {
	PrimaryEmotion string  `json:"primary_emotion"`
	Intensity      float64 `json:"intensity"`
	Confidence     float64 `json:"confidence"`
	MixedEmotions  []struct {
		Emotion string  `json:"emotion"`
		Score   float64 `json:"score"`
	} `json:"mixed_emotions"`
}

var classifySchema = generateSchema[classifyModelResponse]()

// OpenAIClassifier classifies messages with an OpenAI model using strict
// JSON-schema output. Heavier and slower than KeywordClassifier; wrap it
// with ClassifyWithFallback so a slow call degrades to neutral.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

// NewOpenAIClassifier creates a classifier.
// model defaults to gpt-5-mini when empty.
func NewOpenAIClassifier(client *openai.Client, model string) *OpenAIClassifier {
	if model == "" {
		model = "gpt-5-mini"
	}
	return &OpenAIClassifier{client: client, model: model}
}

// Classify sends one message to the model and maps the structured result
// onto the closed taxonomy. Unknown category strings collapse to neutral
// rather than leaking free-form labels downstream.
func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (*EmotionReading, error) {
	if c.client == nil {
		return nil, fmt.Errorf("openai classifier: nil client")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return NeutralReading(), nil
	}

	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:   "EmotionReading",
			Schema: classifySchema,
			Strict: openai.Bool(true),
		},
	}
	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(300),
		Instructions:    openai.String(classifierInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: format,
		},
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai classify: %w", err)
	}

	var out classifyModelResponse
	if err := json.Unmarshal([]byte(resp.OutputText()), &out); err != nil {
		return nil, fmt.Errorf("openai classify: unmarshal: %w", err)
	}

	mixed := make([]EmotionScore, 0, len(out.MixedEmotions))
	for _, m := range out.MixedEmotions {
		mixed = append(mixed, EmotionScore{Emotion: ParseEmotion(m.Emotion), Score: clamp01(m.Score)})
	}
	return &EmotionReading{
		Primary:    ParseEmotion(out.PrimaryEmotion),
		Intensity:  clamp01(out.Intensity),
		Confidence: clamp01(out.Confidence),
		Mixed:      mixed,
	}, nil
}

// generateSchema reflects T into an OpenAI-compliant strict JSON schema.
func generateSchema[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)
	b, err := schema.MarshalJSON()
	if err != nil {
		panic(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	ensureStrictSchema(m)
	return m
}

// ensureStrictSchema marks every object closed and all properties
// required, which the strict structured-output mode demands.
func ensureStrictSchema(schema map[string]interface{}) {
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if props, ok := schema["properties"].(map[string]interface{}); ok {
			var required []string
			for name := range props {
				required = append(required, name)
			}
			if len(required) > 0 {
				schema["required"] = required
			}
		}
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		for _, p := range props {
			if pm, ok := p.(map[string]interface{}); ok {
				ensureStrictSchema(pm)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		ensureStrictSchema(items)
	}
}

// Compile-time interface check.
var _ EmotionClassifier = (*OpenAIClassifier)(nil)
