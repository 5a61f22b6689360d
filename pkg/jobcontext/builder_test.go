// Copyright 2025 Jinn Network
package jobcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

type fakeMetadata struct {
	metadata domain.JobMetadata
	err      error
}

func (f *fakeMetadata) FetchMetadata(ctx context.Context, r domain.Request) (domain.JobMetadata, error) {
	return f.metadata, f.err
}

type fakeHierarchy struct {
	children map[string][]string
}

func (f *fakeHierarchy) ChildJobDefinitions(ctx context.Context, id string) ([]string, error) {
	return f.children[id], nil
}
func (f *fakeHierarchy) RunsOf(ctx context.Context, id string) ([]domain.RequestID, error) {
	return nil, nil
}
func (f *fakeHierarchy) HierarchyStatus(ctx context.Context, id string) (domain.HierarchyStatus, error) {
	return domain.HierarchyActive, nil
}
func (f *fakeHierarchy) BranchOf(ctx context.Context, id string) (string, error) { return "", nil }
func (f *fakeHierarchy) ArtifactRefsOf(ctx context.Context, id string) ([]string, error) {
	return nil, nil
}
func (f *fakeHierarchy) MessageRefsOf(ctx context.Context, id string) ([]string, error) {
	return nil, nil
}

type fakeMeasurements struct {
	measurements []domain.Measurement
}

func (f *fakeMeasurements) LatestMeasurements(ctx context.Context, workstreamID string) ([]domain.Measurement, error) {
	return f.measurements, nil
}

type fakeTools struct {
	available map[string]bool
}

func (f *fakeTools) Available(tool string) bool { return f.available[tool] }

func TestBuild_MalformedMetadata_NoBlueprint(t *testing.T) {
	b := New(&fakeMetadata{metadata: domain.JobMetadata{}}, &fakeHierarchy{}, &fakeMeasurements{}, &fakeTools{})
	_, err := b.Build(context.Background(), domain.Request{ID: "0x1"})
	require.Equal(t, domain.ErrMalformedMetadata, domain.CodeOf(err))
}

func TestBuild_MalformedMetadata_InvalidJSON(t *testing.T) {
	b := New(&fakeMetadata{metadata: domain.JobMetadata{BlueprintJSON: []byte("{not json")}}, &fakeHierarchy{}, &fakeMeasurements{}, &fakeTools{})
	_, err := b.Build(context.Background(), domain.Request{ID: "0x1"})
	require.Equal(t, domain.ErrMalformedMetadata, domain.CodeOf(err))
}

func TestBuild_ToolUnavailable_RequiredToolMissing(t *testing.T) {
	metadata := domain.JobMetadata{
		BlueprintJSON: []byte(`{}`),
		ToolPolicy:    domain.ToolPolicy{Required: []string{"browser"}},
	}
	b := New(&fakeMetadata{metadata: metadata}, &fakeHierarchy{}, &fakeMeasurements{}, &fakeTools{available: map[string]bool{}})
	_, err := b.Build(context.Background(), domain.Request{ID: "0x1"})
	require.Equal(t, domain.ErrToolUnavailable, domain.CodeOf(err))
}

func TestBuild_ComposesContextWithLatestMeasurementWins(t *testing.T) {
	metadata := domain.JobMetadata{
		BlueprintJSON: []byte(`{}`),
		WorkstreamID:  "ws1",
		JobDefinitionID: "root",
		ToolPolicy:    domain.ToolPolicy{Required: []string{"shell"}},
	}
	older := domain.Measurement{InvariantID: "MEAS-1", Value: 1, Timestamp: time.Unix(100, 0)}
	newer := domain.Measurement{InvariantID: "MEAS-1", Value: 2, Timestamp: time.Unix(200, 0)}

	b := New(
		&fakeMetadata{metadata: metadata},
		&fakeHierarchy{children: map[string][]string{"root": {"child1"}}},
		&fakeMeasurements{measurements: []domain.Measurement{older, newer}},
		&fakeTools{available: map[string]bool{"shell": true}},
	)

	jc, err := b.Build(context.Background(), domain.Request{ID: "0x1"})
	require.NoError(t, err)
	require.Equal(t, 2.0, jc.Measurements["MEAS-1"].Value)
	require.Contains(t, jc.Hierarchy.Nodes, "root")
	require.Contains(t, jc.Hierarchy.Nodes, "child1")
}

func TestBuild_EnvironmentFiltersSecretLikeKeys(t *testing.T) {
	metadata := domain.JobMetadata{
		BlueprintJSON: []byte(`{}`),
		EnvironmentOverrides: map[string]string{
			"JOB_NAME":       "demo",
			"API_SECRET_KEY": "shh",
		},
	}
	b := New(&fakeMetadata{metadata: metadata}, &fakeHierarchy{}, &fakeMeasurements{}, &fakeTools{})
	jc, err := b.Build(context.Background(), domain.Request{ID: "0x1"})
	require.NoError(t, err)
	require.Equal(t, "demo", jc.Environment["JOB_NAME"])
	require.NotContains(t, jc.Environment, "API_SECRET_KEY")
}
