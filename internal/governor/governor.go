package governor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"plant-sage/backend/internal/advisory"
)

// Limits enforced before any provider call.
const (
	MaxAdvisoryBodyBytes  = 64 << 10
	MaxQuestionChars      = 500
	MaxLoggedItems        = 100
	MaxLoggedItemChars    = 80
	MaxRecognizedPlants   = 20
	MaxPlantNameChars     = 80
	MaxPlantCategoryChars = 40
)

// ErrInputRejected is matched by every *RejectionError.
var ErrInputRejected = errors.New("input rejected")

// Kind is a stable, machine-readable rejection code.
type Kind string

const (
	KindInvalidBody               Kind = "invalid_body"
	KindPayloadTooLarge           Kind = "payload_too_large"
	KindQuestionMissing           Kind = "question_missing"
	KindQuestionNotString         Kind = "question_not_string"
	KindQuestionTooLong           Kind = "question_too_long"
	KindContextInvalid            Kind = "context_invalid"
	KindLoggedTooMany             Kind = "context_logged_too_many"
	KindLoggedItemTooLong         Kind = "context_logged_item_too_long"
	KindRecognizedTooMany         Kind = "context_recognized_too_many"
	KindRecognizedNameMissing     Kind = "context_recognized_name_missing"
	KindRecognizedNameTooLong     Kind = "context_recognized_name_too_long"
	KindRecognizedCategoryTooLong Kind = "context_recognized_category_too_long"
	KindRecognizedPointsInvalid   Kind = "context_recognized_points_invalid"
	KindWeekProgressInvalid       Kind = "context_week_progress_invalid"
	KindImageMissing              Kind = "image_missing"
	KindImageNotString            Kind = "image_not_string"
	KindImageInvalidFormat        Kind = "image_invalid_format"
	KindImageUnsupportedType      Kind = "image_unsupported_type"
	KindImageInvalidEncoding      Kind = "image_invalid_encoding"
	KindImageTooLarge             Kind = "image_too_large"
)

// Status maps a kind onto its HTTP status.
func (k Kind) Status() int {
	switch k {
	case KindPayloadTooLarge, KindImageTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadRequest
	}
}

// RejectionError reports the first violated constraint.
type RejectionError struct {
	Kind    Kind
	Message string
}

func (e *RejectionError) Error() string {
	return e.Message
}

// Is lets errors.Is(err, ErrInputRejected) match.
func (e *RejectionError) Is(target error) bool {
	return target == ErrInputRejected
}

func reject(kind Kind, format string, args ...any) error {
	return &RejectionError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the rejection kind from err, if it is one.
func KindOf(err error) (Kind, bool) {
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return rejection.Kind, true
	}
	return "", false
}

type advisoryInput struct {
	Question string       `json:"question" validate:"required,max=500"`
	Context  contextInput `json:"context"`
}

type contextInput struct {
	AlreadyLoggedThisWeek []string           `json:"alreadyLoggedThisWeek" validate:"max=100,dive,max=80"`
	RecognizedPlants      []recognizedInput  `json:"recognizedPlants" validate:"max=20,dive"`
	WeekProgress          *weekProgressInput `json:"weekProgress" validate:"omitempty"`
}

type recognizedInput struct {
	Name     string   `json:"name" validate:"required,max=80"`
	Category string   `json:"category" validate:"max=40"`
	Points   *float64 `json:"points" validate:"omitempty,gte=0"`
}

type weekProgressInput struct {
	Points        float64 `json:"points" validate:"gte=0"`
	Target        float64 `json:"target" validate:"gte=0"`
	UniquePlants  int     `json:"uniquePlants" validate:"gte=0"`
	DaysRemaining int     `json:"daysRemaining" validate:"gte=0,lte=7"`
}

// fieldKinds maps "<json path>|<tag>" onto a rejection kind. Slice indexes
// are collapsed to "[]".
var fieldKinds = map[string]Kind{
	"question|required":                        KindQuestionMissing,
	"question|max":                             KindQuestionTooLong,
	"context.alreadyLoggedThisWeek|max":        KindLoggedTooMany,
	"context.alreadyLoggedThisWeek[]|max":      KindLoggedItemTooLong,
	"context.recognizedPlants|max":             KindRecognizedTooMany,
	"context.recognizedPlants[].name|required": KindRecognizedNameMissing,
	"context.recognizedPlants[].name|max":      KindRecognizedNameTooLong,
	"context.recognizedPlants[].category|max":  KindRecognizedCategoryTooLong,
	"context.recognizedPlants[].points|gte":    KindRecognizedPointsInvalid,
}

// Governor validates inbound payloads. It holds no per-request state.
type Governor struct {
	validate *validator.Validate
}

// New prepares the validator.
func New() *Governor {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Governor{validate: v}
}

// CheckAdvisory turns a raw advisory body into a validated question.
func (g *Governor) CheckAdvisory(raw []byte) (advisory.Question, error) {
	if len(raw) > MaxAdvisoryBodyBytes {
		return advisory.Question{}, reject(KindPayloadTooLarge, "request body exceeds %d bytes", MaxAdvisoryBodyBytes)
	}
	top, err := decodeObject(raw)
	if err != nil {
		return advisory.Question{}, err
	}

	var input advisoryInput
	rawQuestion, ok := top["question"]
	if !ok || isNull(rawQuestion) {
		return advisory.Question{}, reject(KindQuestionMissing, "question is required")
	}
	if err := json.Unmarshal(rawQuestion, &input.Question); err != nil {
		return advisory.Question{}, reject(KindQuestionNotString, "question must be a string")
	}
	input.Question = strings.TrimSpace(input.Question)

	if rawContext, ok := top["context"]; ok && !isNull(rawContext) {
		if err := json.Unmarshal(rawContext, &input.Context); err != nil {
			return advisory.Question{}, reject(KindContextInvalid, "context has an invalid shape: %s", describeJSONError(err))
		}
		for i := range input.Context.RecognizedPlants {
			p := &input.Context.RecognizedPlants[i]
			p.Name = strings.TrimSpace(p.Name)
			p.Category = strings.TrimSpace(p.Category)
		}
	}

	if err := g.validate.Struct(input); err != nil {
		return advisory.Question{}, translate(err)
	}
	return input.toQuestion(), nil
}

func (in advisoryInput) toQuestion() advisory.Question {
	q := advisory.Question{Question: in.Question}
	for _, item := range in.Context.AlreadyLoggedThisWeek {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			q.Context.AlreadyLoggedThisWeek = append(q.Context.AlreadyLoggedThisWeek, trimmed)
		}
	}
	for _, p := range in.Context.RecognizedPlants {
		q.Context.RecognizedPlants = append(q.Context.RecognizedPlants, advisory.RecognizedPlant{
			Name:     p.Name,
			Category: p.Category,
			Points:   p.Points,
		})
	}
	if wp := in.Context.WeekProgress; wp != nil {
		q.Context.WeekProgress = &advisory.WeekProgress{
			Points:        wp.Points,
			Target:        wp.Target,
			UniquePlants:  wp.UniquePlants,
			DaysRemaining: wp.DaysRemaining,
		}
	}
	return q
}

func translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return reject(KindInvalidBody, "request failed validation")
	}
	fe := verrs[0]
	path := fieldPath(fe.Namespace())
	kind, ok := fieldKinds[path+"|"+fe.Tag()]
	if !ok {
		switch {
		case strings.HasPrefix(path, "context.weekProgress"):
			kind = KindWeekProgressInvalid
		case strings.HasPrefix(path, "context"):
			kind = KindContextInvalid
		default:
			kind = KindInvalidBody
		}
	}
	return reject(kind, "%s failed %s", strings.ReplaceAll(path, "[]", ""), describeTag(fe))
}

// fieldPath drops the root struct name and collapses slice indexes:
// "advisoryInput.context.alreadyLoggedThisWeek[3]" -> "context.alreadyLoggedThisWeek[]".
func fieldPath(namespace string) string {
	if idx := strings.IndexByte(namespace, '.'); idx >= 0 {
		namespace = namespace[idx+1:]
	}
	var b strings.Builder
	skipping := false
	for _, r := range namespace {
		switch {
		case r == '[':
			skipping = true
			b.WriteString("[]")
		case r == ']':
			skipping = false
		case !skipping:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required check"
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("limit of %s items", fe.Param())
		}
		return fmt.Sprintf("limit of %s characters", fe.Param())
	case "gte":
		return "non-negative check"
	case "lte":
		return fmt.Sprintf("maximum of %s", fe.Param())
	default:
		return fe.Tag()
	}
}

func describeJSONError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("%s must be %s", typeErr.Field, typeErr.Type.Kind())
	}
	return "malformed JSON"
}

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return nil, reject(KindInvalidBody, "request body must be a JSON object")
	}
	return top, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
