package analysis

import (
	"encoding/json"
	"strings"
)

// Result is the structured output of one pipeline run. It is built once and
// never mutated; the derived fields remain absent (empty) when the model
// response does not carry them, which callers must treat as a normal state.
type Result struct {
	Success         bool           `json:"success"`
	Category        Category       `json:"analysis_type"`
	Model           string         `json:"model_used,omitempty"`
	RawText         string         `json:"analysis_text,omitempty"`
	Structured      map[string]any `json:"structured_data,omitempty"`
	PlantType       string         `json:"plant_type,omitempty"`
	HealthStatus    string         `json:"health_status,omitempty"`
	Recommendations []string       `json:"recommendations"`
	ContextUsed     bool           `json:"context_used"`
	ContextRecords  int            `json:"context_records"`
	ErrorMessage    string         `json:"error,omitempty"`
}

// Normalize turns a raw model response into a structured Result. It is total:
// any input, however malformed, yields a well-formed successful Result — the
// inference call already succeeded, so parse trouble degrades to a textual
// fallback instead of an error.
func Normalize(rawText string, category Category) Result {
	structured := parseStructured(rawText)
	return Result{
		Success:         true,
		Category:        category,
		RawText:         rawText,
		Structured:      structured,
		PlantType:       probePlantType(structured),
		HealthStatus:    probeHealthStatus(structured),
		Recommendations: probeRecommendations(structured),
	}
}

// FailedResult wraps a fatal per-item error into a Result so batch runs can
// report partial success.
func FailedResult(category Category, err error) Result {
	return Result{
		Success:         false,
		Category:        category,
		Recommendations: []string{},
		ErrorMessage:    SanitizeError(err),
	}
}

func parseStructured(rawText string) map[string]any {
	text := stripCodeFences(rawText)
	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		var structured map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &structured); err == nil {
			return structured
		}
	}
	return map[string]any{
		"raw_analysis": rawText,
		"summary":      extractSummary(rawText),
	}
}

// stripCodeFences removes a surrounding markdown code fence, with or without
// a language tag.
func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	} else {
		trimmed = strings.TrimPrefix(trimmed, "json")
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// extractSummary keeps the first 5 non-blank, non-heading lines, joined and
// capped at 200 characters.
func extractSummary(text string) string {
	lines := strings.Split(text, "\n")
	summary := make([]string, 0, 5)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		summary = append(summary, line)
		if len(summary) == 5 {
			break
		}
	}
	joined := strings.Join(summary, " ")
	if runes := []rune(joined); len(runes) > 200 {
		return string(runes[:200]) + "..."
	}
	return joined
}

// The probe paths below encode tolerance for a free-form upstream response:
// an explicit ordered list of lookup paths per field, first present wins.

func probePlantType(structured map[string]any) string {
	if nested := nestedString(structured, "plant_identification", "scientific_name"); nested != "" {
		return nested
	}
	if value := topLevelString(structured, "plant_type"); value != "" {
		return value
	}
	return topLevelString(structured, "scientific_name")
}

func probeHealthStatus(structured map[string]any) string {
	if nested := nestedString(structured, "health_status", "overall"); nested != "" {
		return nested
	}
	if value := topLevelString(structured, "health_status"); value != "" {
		return value
	}
	return topLevelString(structured, "overall_health")
}

func probeRecommendations(structured map[string]any) []string {
	value, ok := structured["recommendations"]
	if !ok || value == nil {
		value = structured["care_recommendations"]
	}
	switch raw := value.(type) {
	case string:
		return []string{raw}
	case []string:
		return raw
	case []any:
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return []string{}
	}
}

func topLevelString(structured map[string]any, key string) string {
	if value, ok := structured[key].(string); ok {
		return value
	}
	return ""
}

func nestedString(structured map[string]any, key, field string) string {
	nested, ok := structured[key].(map[string]any)
	if !ok {
		return ""
	}
	if value, ok := nested[field].(string); ok {
		return value
	}
	return ""
}
