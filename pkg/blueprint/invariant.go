// Copyright 2025 Jinn Network
//
// Package blueprint implements the tagged-variant invariant type (spec §3,
// §4.6) as a closed sum type over JSON: a discriminator field picks one of
// FLOOR/CEILING/RANGE/BOOLEAN, validated by a pure function instead of a
// subclass hierarchy (spec §9 design note).
package blueprint

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind discriminates the four invariant variants.
type Kind string

const (
	KindFloor   Kind = "FLOOR"
	KindCeiling Kind = "CEILING"
	KindRange   Kind = "RANGE"
	KindBoolean Kind = "BOOLEAN"
)

// Namespace classifies an invariant id prefix as mission (handed to the
// agent as the measurement set) or system (directive only) per spec §3.
type Namespace string

const (
	NamespaceMission Namespace = "mission"
	NamespaceSystem  Namespace = "system"
	NamespaceUnknown Namespace = "unknown"
)

var missionPrefixes = map[string]bool{
	"JOB": true, "GOAL": true, "OUT": true, "STRAT": true, "VENTURE": true, "MEAS": true,
}

var systemPrefixes = map[string]bool{
	"SYS": true, "COORD": true, "STATE": true, "LEARN": true, "RECOV": true,
	"TOOL": true, "QUAL": true, "CYCLE": true,
}

// NamespaceOf classifies an invariant id by its hyphen-delimited prefix.
// "STRAT" appears in both lists in spec §3 (it is listed under both mission
// and system ids); mission takes precedence there since mission invariants
// are the superset handed to the agent for measurement.
func NamespaceOf(id string) Namespace {
	prefix := id
	if idx := strings.IndexByte(id, '-'); idx >= 0 {
		prefix = id[:idx]
	}
	prefix = strings.ToUpper(prefix)
	if missionPrefixes[prefix] {
		return NamespaceMission
	}
	if systemPrefixes[prefix] {
		return NamespaceSystem
	}
	return NamespaceUnknown
}

// Example is an optional do/don't example attached to an invariant.
type Example struct {
	Description string `json:"description"`
	Positive    bool   `json:"positive"`
}

// Invariant is the tagged variant. Only the fields relevant to Kind are set;
// callers must switch on Kind (Validate enforces that the required fields
// for that Kind are present).
type Invariant struct {
	Kind       Kind      `json:"type"`
	ID         string    `json:"id"`
	Metric     string    `json:"metric,omitempty"`
	Min        *float64  `json:"min,omitempty"`
	Max        *float64  `json:"max,omitempty"`
	Condition  string    `json:"condition,omitempty"`
	Assessment string    `json:"assessment"`
	Examples   []Example `json:"examples,omitempty"`
}

// ValidationError cites the offending invariant id (spec §8 testable property 4).
type ValidationError struct {
	ID     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invariant %q invalid: %s", e.ID, e.Reason)
}

// Validate checks an Invariant against the schema for its Kind and returns
// the (possibly unchanged) Invariant, or a *ValidationError citing the id.
func Validate(inv Invariant) (Invariant, error) {
	if inv.ID == "" {
		return inv, &ValidationError{ID: inv.ID, Reason: "missing id"}
	}
	if inv.Assessment == "" {
		return inv, &ValidationError{ID: inv.ID, Reason: "missing assessment"}
	}
	switch inv.Kind {
	case KindFloor:
		if inv.Metric == "" {
			return inv, &ValidationError{ID: inv.ID, Reason: "FLOOR requires metric"}
		}
		if inv.Min == nil {
			return inv, &ValidationError{ID: inv.ID, Reason: "FLOOR requires min"}
		}
	case KindCeiling:
		if inv.Metric == "" {
			return inv, &ValidationError{ID: inv.ID, Reason: "CEILING requires metric"}
		}
		if inv.Max == nil {
			return inv, &ValidationError{ID: inv.ID, Reason: "CEILING requires max"}
		}
	case KindRange:
		if inv.Metric == "" {
			return inv, &ValidationError{ID: inv.ID, Reason: "RANGE requires metric"}
		}
		if inv.Min == nil || inv.Max == nil {
			return inv, &ValidationError{ID: inv.ID, Reason: "RANGE requires min and max"}
		}
		if *inv.Min >= *inv.Max {
			return inv, &ValidationError{ID: inv.ID, Reason: fmt.Sprintf("RANGE min (%v) must be < max (%v)", *inv.Min, *inv.Max)}
		}
	case KindBoolean:
		if inv.Condition == "" {
			return inv, &ValidationError{ID: inv.ID, Reason: "BOOLEAN requires condition"}
		}
	default:
		return inv, &ValidationError{ID: inv.ID, Reason: fmt.Sprintf("unknown invariant type %q", inv.Kind)}
	}
	return inv, nil
}

// Blueprint is the decoded job blueprint (spec §3): narrative guidance plus
// the invariant list.
type Blueprint struct {
	Narrative  string      `json:"narrative,omitempty"`
	Invariants []Invariant `json:"invariants"`
}

// Parse decodes and validates every invariant in raw JSON, returning the
// aggregated list of validation errors (spec §4.6: "aggregated error list").
func Parse(raw []byte) (Blueprint, []error) {
	var bp Blueprint
	if err := json.Unmarshal(raw, &bp); err != nil {
		return bp, []error{fmt.Errorf("malformed blueprint json: %w", err)}
	}
	var errs []error
	for i, inv := range bp.Invariants {
		validated, err := Validate(inv)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		bp.Invariants[i] = validated
	}
	return bp, errs
}

// MissionInvariants filters the blueprint's invariants down to the mission
// set handed to the agent as the measurement target (spec §4.6).
func MissionInvariants(bp Blueprint) []Invariant {
	var out []Invariant
	for _, inv := range bp.Invariants {
		if NamespaceOf(inv.ID) == NamespaceMission {
			out = append(out, inv)
		}
	}
	return out
}
