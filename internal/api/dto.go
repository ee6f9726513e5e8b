package api

import (
	"sort"
	"time"

	"plant-sage/backend/internal/advisory"
	"plant-sage/backend/internal/ai"
	"plant-sage/backend/internal/rules"
	"plant-sage/backend/internal/store"
	"plant-sage/backend/internal/telemetry"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	RequestID string            `json:"request_id,omitempty"`
	Fallback  *advisory.Verdict `json:"fallback,omitempty"`
}

// RecognizeResponse lists the plants found in a photo.
type RecognizeResponse struct {
	Plants []advisory.RecognizedItem `json:"plants"`
}

// PolicyDTO is the public view of a resilience policy.
type PolicyDTO struct {
	Name            string `json:"name"`
	TimeoutMs       int64  `json:"timeout_ms"`
	MaxRequestBytes int64  `json:"max_request_bytes"`
	RetryCount      int    `json:"retry_count"`
	RetryDelayMs    int64  `json:"retry_delay_ms"`
}

func PolicyFromModel(p ai.Policy) PolicyDTO {
	return PolicyDTO{
		Name:            p.Name,
		TimeoutMs:       p.Timeout.Milliseconds(),
		MaxRequestBytes: p.MaxRequestBytes,
		RetryCount:      p.RetryCount,
		RetryDelayMs:    p.RetryDelay.Milliseconds(),
	}
}

// ConfigResponse reports what the server is running with.
type ConfigResponse struct {
	ProviderConfigured bool        `json:"provider_configured"`
	Model              string      `json:"model,omitempty"`
	Policies           []PolicyDTO `json:"policies"`
	RuleCount          int         `json:"rule_count"`
	CatalogSize        int         `json:"catalog_size"`
	Database           string      `json:"database"`
	Throttled          bool        `json:"throttled"`
}

// RuleDTO lists one deterministic rule and the phrases it answers.
type RuleDTO struct {
	ID       string   `json:"id"`
	Subjects []string `json:"subjects"`
	Aliases  []string `json:"aliases"`
}

func RuleFromModel(r rules.Rule) RuleDTO {
	aliases := make([]string, 0, len(r.Aliases))
	subjects := make(map[string]struct{})
	for alias, subject := range r.Aliases {
		aliases = append(aliases, alias)
		subjects[subject] = struct{}{}
	}
	sort.Strings(aliases)
	dto := RuleDTO{ID: r.ID, Aliases: aliases, Subjects: make([]string, 0, len(subjects))}
	for subject := range subjects {
		dto.Subjects = append(dto.Subjects, subject)
	}
	sort.Strings(dto.Subjects)
	return dto
}

// CatalogPlantDTO is one stored catalog row.
type CatalogPlantDTO struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Points    float64   `json:"points"`
	UpdatedAt time.Time `json:"updated_at"`
}

func CatalogPlantFromModel(p store.CatalogPlant) CatalogPlantDTO {
	return CatalogPlantDTO{
		ID:        p.ID,
		Name:      p.Name,
		Category:  p.Category,
		Points:    p.Points,
		UpdatedAt: p.UpdatedAt,
	}
}

// CatalogResponse pages through the catalog.
type CatalogResponse struct {
	Items []CatalogPlantDTO `json:"items"`
	Total int64             `json:"total"`
}

// EventsResponse pages through telemetry events.
type EventsResponse struct {
	Items []telemetry.Event `json:"items"`
	Total int64             `json:"total"`
}

// SummaryResponse aggregates terminal states.
type SummaryResponse struct {
	States []store.StateCount `json:"states"`
}
