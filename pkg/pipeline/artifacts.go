// Copyright 2025 Jinn Network
package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

// ExtractArtifacts discovers artifacts through the two channels spec §4.6
// "Artifact extraction" describes: structured tool-call results first, then
// a balanced-brace JSON scrape of free-form output. Results are
// deduplicated on (cid, topic).
func ExtractArtifacts(result domain.ExecutionResult) []domain.ArtifactRef {
	seen := make(map[string]bool)
	var out []domain.ArtifactRef

	add := func(ref domain.ArtifactRef) {
		if ref.CID == "" || ref.Topic == "" {
			return
		}
		key := ref.CID + "\x00" + ref.Topic
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, ref)
	}

	for _, call := range result.ToolCalls {
		if !call.Success || call.Result == nil {
			continue
		}
		if ref, ok := artifactFromMap(call.Result); ok {
			add(ref)
		}
	}

	for _, obj := range scanBalancedBraceObjects(result.Output) {
		if ref, ok := artifactFromMap(obj); ok {
			add(ref)
		}
	}

	return out
}

// artifactFromMap recognizes the {cid, topic, name?, type?, tags?} shape,
// including the agent's nested function-response envelopes (spec §4.6
// "nested extraction from the agent's function-response envelopes").
func artifactFromMap(m map[string]interface{}) (domain.ArtifactRef, bool) {
	if ref, ok := directArtifact(m); ok {
		return ref, true
	}
	for _, key := range []string{"response", "result", "data"} {
		if nested, ok := m[key].(map[string]interface{}); ok {
			if ref, ok := directArtifact(nested); ok {
				return ref, true
			}
		}
	}
	return domain.ArtifactRef{}, false
}

func directArtifact(m map[string]interface{}) (domain.ArtifactRef, bool) {
	cid, _ := m["cid"].(string)
	topic, _ := m["topic"].(string)
	if cid == "" || topic == "" {
		return domain.ArtifactRef{}, false
	}
	ref := domain.ArtifactRef{CID: cid, Topic: topic}
	ref.Name, _ = m["name"].(string)
	ref.Type, _ = m["type"].(string)
	if tagsRaw, ok := m["tags"].([]interface{}); ok {
		for _, t := range tagsRaw {
			if s, ok := t.(string); ok {
				ref.Tags = append(ref.Tags, s)
			}
		}
	}
	return ref, true
}

// scanBalancedBraceObjects scans text for top-level balanced-brace JSON
// objects and parses each as a map, skipping anything that fails to decode
// (spec §4.6 "Fallback JSON-scraping of agent output (balanced-brace scan)").
func scanBalancedBraceObjects(text string) []map[string]interface{} {
	var out []map[string]interface{}
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range text {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inString:
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
			// inside a string literal, braces don't count
		case r == '{':
			if depth == 0 {
				start = i
			}
			depth++
		case r == '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidate := text[start : i+1]
					var m map[string]interface{}
					if err := json.Unmarshal([]byte(candidate), &m); err == nil {
						out = append(out, m)
					}
					start = -1
				}
			}
		}
	}
	return out
}

// artifactTopicLooksLikeMeasurement reports whether topic names a
// MEASUREMENT artifact, used by callers folding artifacts into C6 context.
func artifactTopicLooksLikeMeasurement(topic string) bool {
	return strings.EqualFold(topic, "MEASUREMENT")
}
