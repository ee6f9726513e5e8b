package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"plant-sage/backend/internal/advisory"
)

// ErrMalformed is matched by every *InvalidPayloadError.
var ErrMalformed = errors.New("provider payload malformed")

// InvalidPayloadError names the first structural deviation found.
type InvalidPayloadError struct {
	Field  string
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	if e.Field == "" {
		return "invalid provider payload: " + e.Reason
	}
	return fmt.Sprintf("invalid provider payload: %s %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrMalformed) match.
func (e *InvalidPayloadError) Is(target error) bool {
	return target == ErrMalformed
}

func invalid(field, reason string) error {
	return &InvalidPayloadError{Field: field, Reason: reason}
}

// MessageContent extracts choices[0].message.content from a chat-completion
// body and strips any code fence around it.
func MessageContent(raw []byte) (string, error) {
	var decoded chatCompletionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", invalid("", "body is not a chat completion")
	}
	if len(decoded.Choices) == 0 {
		return "", invalid("choices", "is empty")
	}
	content := bytes.TrimSpace(decoded.Choices[0].Message.Content)
	if len(content) == 0 || content[0] != '"' {
		return "", invalid("choices[0].message.content", "is not a string")
	}
	var text string
	if err := json.Unmarshal(content, &text); err != nil {
		return "", invalid("choices[0].message.content", "is not a string")
	}
	text = normalizeJSONBlock(text)
	if text == "" {
		return "", invalid("choices[0].message.content", "is empty")
	}
	return text, nil
}

// ValidateVerdictPayload accepts a chat-completion body only when its message
// content is a complete verdict object. Nothing is partially accepted.
func ValidateVerdictPayload(raw []byte) (advisory.Verdict, error) {
	content, err := MessageContent(raw)
	if err != nil {
		return advisory.Verdict{}, err
	}
	return ValidateVerdictJSON([]byte(content))
}

// ValidateVerdictJSON checks a bare verdict object.
func ValidateVerdictJSON(content []byte) (advisory.Verdict, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(content, &fields); err != nil || fields == nil {
		return advisory.Verdict{}, invalid("", "content is not a JSON object")
	}

	answer, err := requiredString(fields, "answer")
	if err != nil {
		return advisory.Verdict{}, err
	}
	reason, err := requiredString(fields, "reason")
	if err != nil {
		return advisory.Verdict{}, err
	}
	rawKind, err := requiredString(fields, "verdict")
	if err != nil {
		return advisory.Verdict{}, err
	}
	kind, ok := advisory.ParseKind(rawKind)
	if !ok {
		return advisory.Verdict{}, invalid("verdict", fmt.Sprintf("%q is not a known verdict", rawKind))
	}

	confidence, err := number(fields, "confidence")
	if err != nil {
		return advisory.Verdict{}, err
	}

	rawPoints, ok := fields["points"]
	if !ok {
		return advisory.Verdict{}, invalid("points", "is missing")
	}
	var points *float64
	if !isNull(rawPoints) {
		var value float64
		if err := json.Unmarshal(rawPoints, &value); err != nil {
			return advisory.Verdict{}, invalid("points", "is not a number or null")
		}
		if value < 0 || math.IsInf(value, 0) {
			return advisory.Verdict{}, invalid("points", "is negative")
		}
		if !kind.AssignsPoints() {
			return advisory.Verdict{}, invalid("points", "must be null for "+string(kind))
		}
		points = &value
	}

	v := advisory.Verdict{
		Verdict:    kind,
		Points:     points,
		Answer:     answer,
		Reason:     reason,
		Confidence: advisory.ClampConfidence(confidence),
	}
	if rawFollow, ok := fields["followUpQuestion"]; ok {
		var follow string
		if err := json.Unmarshal(rawFollow, &follow); err != nil || isNull(rawFollow) {
			return advisory.Verdict{}, invalid("followUpQuestion", "is not a string")
		}
		if strings.TrimSpace(follow) == "" {
			return advisory.Verdict{}, invalid("followUpQuestion", "is empty")
		}
		v.FollowUpQuestion = follow
	}
	return v.Normalize(), nil
}

func requiredString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", invalid(key, "is missing")
	}
	var value string
	if isNull(raw) || json.Unmarshal(raw, &value) != nil {
		return "", invalid(key, "is not a string")
	}
	if strings.TrimSpace(value) == "" {
		return "", invalid(key, "is empty")
	}
	return value, nil
}

func number(fields map[string]json.RawMessage, key string) (float64, error) {
	raw, ok := fields[key]
	if !ok {
		return 0, invalid(key, "is missing")
	}
	var value float64
	if isNull(raw) || json.Unmarshal(raw, &value) != nil {
		return 0, invalid(key, "is not a number")
	}
	return value, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
