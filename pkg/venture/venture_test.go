// Copyright 2025 Jinn Network
package venture

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

func TestSubstitutePlaceholders_ResolvesDotPath(t *testing.T) {
	overrides := map[string]interface{}{
		"input": map[string]interface{}{"name": "acme-widgets"},
	}
	out := SubstitutePlaceholders(map[string]interface{}{
		"goal": "Ship {{input.name}} release notes",
	}, overrides)

	m := out.(map[string]interface{})
	require.Equal(t, "Ship acme-widgets release notes", m["goal"])
}

func TestSubstitutePlaceholders_MissingPathLeftLiteral(t *testing.T) {
	out := substituteString("Value is {{missing.path}}", map[string]interface{}{})
	require.Equal(t, "Value is {{missing.path}}", out)
}

func TestSubstitutePlaceholders_ArrayJoinedWithNewlines(t *testing.T) {
	overrides := map[string]interface{}{
		"items": []interface{}{"one", "two", "three"},
	}
	out := substituteString("{{items}}", overrides)
	require.Equal(t, "one\ntwo\nthree", out)
}

func TestSubstitutePlaceholders_RecursesIntoNestedStructures(t *testing.T) {
	overrides := map[string]interface{}{"x": "y"}
	out := SubstitutePlaceholders(map[string]interface{}{
		"nested": []interface{}{
			map[string]interface{}{"value": "{{x}}"},
		},
	}, overrides)

	m := out.(map[string]interface{})
	arr := m["nested"].([]interface{})
	inner := arr[0].(map[string]interface{})
	require.Equal(t, "y", inner["value"])
}

type fakeTemplateStore struct {
	tpl Template
}

func (f *fakeTemplateStore) LoadTemplate(id string) (Template, error) { return f.tpl, nil }

type fakeMeasurementStore struct {
	last map[string]domain.Measurement
}

func (f *fakeMeasurementStore) LastMeasurements(ventureID string) (map[string]domain.Measurement, error) {
	return f.last, nil
}

type fakeDispatcher struct {
	jobDefinitionID   string
	additionalContext map[string]interface{}
}

func (f *fakeDispatcher) DispatchFollowUp(jobDefinitionID string, additionalContext map[string]interface{}) error {
	f.jobDefinitionID = jobDefinitionID
	f.additionalContext = additionalContext
	return nil
}

func TestService_Run_DispatchesWithDeterministicJobDefinitionID(t *testing.T) {
	templates := &fakeTemplateStore{tpl: Template{ID: "tpl-1", BlueprintJSON: []byte(`{"goal":"{{input.name}}"}`)}}
	dispatcher := &fakeDispatcher{}
	svc := New(templates, &fakeMeasurementStore{last: map[string]domain.Measurement{}}, dispatcher)

	v := Venture{ID: "venture-1", Name: "Acme"}
	entry := ScheduleEntry{
		TemplateID:      "tpl-1",
		InputOverrides:  map[string]interface{}{"input": map[string]interface{}{"name": "widgets"}},
		JobDefinitionID: "deterministic-id",
	}

	err := svc.Run(v, entry)
	require.NoError(t, err)
	require.Equal(t, "deterministic-id", dispatcher.jobDefinitionID)
	require.Equal(t, "venture-1", dispatcher.additionalContext["ventureId"])
}

func TestService_Run_GeneratesRandomJobDefinitionIDWhenAbsent(t *testing.T) {
	templates := &fakeTemplateStore{tpl: Template{ID: "tpl-1", BlueprintJSON: []byte(`{}`)}}
	dispatcher := &fakeDispatcher{}
	svc := New(templates, &fakeMeasurementStore{last: map[string]domain.Measurement{}}, dispatcher)

	err := svc.Run(Venture{ID: "venture-1"}, ScheduleEntry{TemplateID: "tpl-1"})
	require.NoError(t, err)
	require.NotEmpty(t, dispatcher.jobDefinitionID)
}
