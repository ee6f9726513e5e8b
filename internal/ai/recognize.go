package ai

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"plant-sage/backend/internal/advisory"
)

// MaxRecognizedItems caps how many plants one photo may yield.
const MaxRecognizedItems = 20

type recognitionEnvelope struct {
	Plants json.RawMessage `json:"plants"`
}

type recognitionItem struct {
	Name       json.RawMessage `json:"name"`
	Category   json.RawMessage `json:"category"`
	Points     json.RawMessage `json:"points"`
	Confidence json.RawMessage `json:"confidence"`
}

// ValidateRecognitionPayload extracts the plant list from a chat-completion
// body. The content may be {"plants":[...]} or a bare array. Entries without a
// usable name are dropped; everything else is normalised.
func ValidateRecognitionPayload(raw []byte) ([]advisory.RecognizedItem, error) {
	content, err := MessageContent(raw)
	if err != nil {
		return nil, err
	}
	list := []byte(content)
	if trimmed := bytes.TrimSpace(list); len(trimmed) > 0 && trimmed[0] == '{' {
		var env recognitionEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, invalid("", "content is not a JSON object")
		}
		if len(env.Plants) == 0 {
			return nil, invalid("plants", "is missing")
		}
		list = env.Plants
	}

	var items []recognitionItem
	if err := json.Unmarshal(list, &items); err != nil {
		return nil, invalid("plants", "is not an array of objects")
	}

	out := make([]advisory.RecognizedItem, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		name := strings.TrimSpace(stringOr(item.Name, ""))
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		category := strings.ToLower(strings.TrimSpace(stringOr(item.Category, "")))
		if category == "" {
			category = "other"
		}
		points, ok := numberOr(item.Points)
		if !ok || points < 0 || math.IsNaN(points) {
			points = defaultPoints(category)
		}
		confidence, ok := numberOr(item.Confidence)
		if !ok {
			confidence = advisory.DefaultConfidence
		}
		out = append(out, advisory.RecognizedItem{
			Name:       name,
			Category:   category,
			Points:     points,
			Confidence: advisory.ClampConfidence(confidence),
		})
		if len(out) == MaxRecognizedItems {
			break
		}
	}
	return out, nil
}

func defaultPoints(category string) float64 {
	switch category {
	case "herb", "spice":
		return 0.25
	default:
		return 1
	}
}

func stringOr(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return fallback
	}
	return s
}

// numberOr accepts JSON numbers and numeric strings.
func numberOr(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
