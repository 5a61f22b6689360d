// Copyright 2025 Jinn Network
package blueprint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestValidate_RoundTrip(t *testing.T) {
	cases := []Invariant{
		{Kind: KindFloor, ID: "JOB-1", Metric: "coverage", Min: f(0.8), Assessment: "measure coverage"},
		{Kind: KindCeiling, ID: "SYS-1", Metric: "latency_ms", Max: f(500), Assessment: "measure latency"},
		{Kind: KindRange, ID: "OUT-1", Metric: "score", Min: f(1), Max: f(10), Assessment: "measure score"},
		{Kind: KindBoolean, ID: "GOAL-1", Condition: "tests pass", Assessment: "check suite"},
	}
	for _, c := range cases {
		raw, err := json.Marshal(c)
		require.NoError(t, err)

		var decoded Invariant
		require.NoError(t, json.Unmarshal(raw, &decoded))

		validated, err := Validate(decoded)
		require.NoError(t, err)
		assert.Equal(t, c, validated)
	}
}

func TestValidate_RangeMinGEMax(t *testing.T) {
	inv := Invariant{Kind: KindRange, ID: "X", Metric: "m", Min: f(10), Max: f(5), Assessment: "a"}
	_, err := Validate(inv)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "X", verr.ID)
}

func TestNamespaceOf(t *testing.T) {
	assert.Equal(t, NamespaceMission, NamespaceOf("JOB-1"))
	assert.Equal(t, NamespaceMission, NamespaceOf("VENTURE-7"))
	assert.Equal(t, NamespaceSystem, NamespaceOf("RECOV-LOOP"))
	assert.Equal(t, NamespaceSystem, NamespaceOf("TOOL-3"))
	assert.Equal(t, NamespaceUnknown, NamespaceOf("BOGUS-1"))
}

func TestParse_AggregatesErrors(t *testing.T) {
	raw := []byte(`{"invariants":[
		{"id":"X","type":"RANGE","metric":"m","min":10,"max":5,"assessment":"a"},
		{"id":"Y","type":"BOOLEAN","assessment":"a"}
	]}`)
	_, errs := Parse(raw)
	require.Len(t, errs, 2)
}

func TestParse_MalformedJSON(t *testing.T) {
	_, errs := Parse([]byte(`not json`))
	require.Len(t, errs, 1)
}

func TestMissionInvariants(t *testing.T) {
	bp := Blueprint{Invariants: []Invariant{
		{Kind: KindBoolean, ID: "JOB-1", Condition: "c", Assessment: "a"},
		{Kind: KindBoolean, ID: "SYS-1", Condition: "c", Assessment: "a"},
	}}
	mission := MissionInvariants(bp)
	require.Len(t, mission, 1)
	assert.Equal(t, "JOB-1", mission[0].ID)
}
