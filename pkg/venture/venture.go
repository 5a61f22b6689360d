// Copyright 2025 Jinn Network
//
// Package venture implements the control-plane-side Venture/Template
// Dispatcher (spec §4.8), referenced for interface completeness: given a
// Venture and a due ScheduleEntry, load the template, substitute
// {{path.expr}} placeholders in the blueprint, compose additional context
// with venture invariants and last measurements, and dispatch a new
// on-chain request through the same contract C5/C8 use. Grounded on
// pkg/intent/conversion.go's blob-substitution/compose pattern.
package venture

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/blueprint"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

// Venture is a long-running container for templates, invariants, and
// schedules (spec §3 GLOSSARY, §4.8).
type Venture struct {
	ID         string
	Name       string
	Invariants []blueprint.Invariant // venture-scoped FLOOR/CEILING/RANGE invariants
}

// Template is the reusable blueprint a ScheduleEntry instantiates.
type Template struct {
	ID            string
	BlueprintJSON []byte
	EnabledTools  []string
}

// ScheduleEntry is a due dispatch instruction: which template to run and
// what input values override its placeholders (spec §4.8).
type ScheduleEntry struct {
	TemplateID       string
	InputOverrides   map[string]interface{}
	JobDefinitionID  string // optional: deterministic id for idempotency; empty means fresh random
}

// TemplateStore loads templates by id (control-plane collaborator, spec §1).
type TemplateStore interface {
	LoadTemplate(id string) (Template, error)
}

// MeasurementStore resolves the venture's last measurements, folded into
// the dispatched job's additional context alongside venture invariants
// (spec §4.8 "compose the additional-context with venture invariants + last
// measurements").
type MeasurementStore interface {
	LastMeasurements(ventureID string) (map[string]domain.Measurement, error)
}

// Dispatcher posts an on-chain request via the pipeline's shared
// dispatch-to-marketplace contract (spec §4.8, reused from C5/C8).
type Dispatcher interface {
	DispatchFollowUp(jobDefinitionID string, additionalContext map[string]interface{}) error
}

// Service runs the venture/template dispatch path.
type Service struct {
	templates    TemplateStore
	measurements MeasurementStore
	dispatcher   Dispatcher
}

// New constructs a Service.
func New(templates TemplateStore, measurements MeasurementStore, dispatcher Dispatcher) *Service {
	return &Service{templates: templates, measurements: measurements, dispatcher: dispatcher}
}

// Run loads entry's template, substitutes placeholders, composes the
// additional context, and dispatches (spec §4.8).
func (s *Service) Run(v Venture, entry ScheduleEntry) error {
	tpl, err := s.templates.LoadTemplate(entry.TemplateID)
	if err != nil {
		return fmt.Errorf("load template %s: %w", entry.TemplateID, err)
	}

	var rawBlueprint map[string]interface{}
	if err := json.Unmarshal(tpl.BlueprintJSON, &rawBlueprint); err != nil {
		return fmt.Errorf("decode template %s blueprint: %w", entry.TemplateID, err)
	}
	substituted := SubstitutePlaceholders(rawBlueprint, entry.InputOverrides)

	last, err := s.measurements.LastMeasurements(v.ID)
	if err != nil {
		return fmt.Errorf("load last measurements for venture %s: %w", v.ID, err)
	}

	additionalContext := map[string]interface{}{
		"blueprint":          substituted,
		"ventureInvariants":  v.Invariants,
		"lastMeasurements":   last,
		"ventureId":          v.ID,
		"templateId":         entry.TemplateID,
	}

	jobDefinitionID := entry.JobDefinitionID
	if jobDefinitionID == "" {
		jobDefinitionID = uuid.NewString()
	}

	return s.dispatcher.DispatchFollowUp(jobDefinitionID, additionalContext)
}

// SubstitutePlaceholders deep-walks value, replacing any string matching
// {{path.expr}} with the value the dot-path resolves to in overrides (spec
// §4.8 "substitute {{path.expr}} placeholders in the blueprint via a deep
// traversal"). Arrays encountered at the resolved path are joined with
// newlines; a path that resolves to nothing is left literal.
func SubstitutePlaceholders(value interface{}, overrides map[string]interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return substituteString(v, overrides)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			out[k] = SubstitutePlaceholders(child, overrides)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = SubstitutePlaceholders(child, overrides)
		}
		return out
	default:
		return v
	}
}

const placeholderOpen = "{{"
const placeholderClose = "}}"

// substituteString replaces every {{path.expr}} occurrence in s.
func substituteString(s string, overrides map[string]interface{}) string {
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, placeholderOpen)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], placeholderClose)
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start
		b.WriteString(rest[:start])
		path := strings.TrimSpace(rest[start+len(placeholderOpen) : end])
		resolved, ok := resolvePath(overrides, path)
		if ok {
			b.WriteString(stringify(resolved))
		} else {
			b.WriteString(rest[start : end+len(placeholderClose)])
		}
		rest = rest[end+len(placeholderClose):]
	}
	return b.String()
}

// resolvePath walks overrides by dot-separated path segments.
func resolvePath(overrides map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var cur interface{} = overrides
	for _, seg := range segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		next, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// stringify renders a resolved placeholder value as text; arrays are joined
// with newlines (spec §4.8 "arrays joined with newlines").
func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []interface{}:
		parts := make([]string, len(val))
		for i, e := range val {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, "\n")
	case nil:
		return ""
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	}
}
