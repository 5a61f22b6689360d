// Copyright 2025 Jinn Network
package health

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTracker struct{ idle int }

func (f fakeTracker) IdleCycles() int { return f.idle }

func TestStatus_DefaultsToOK(t *testing.T) {
	s := New("deadbeef", fakeTracker{})
	var r report
	require.NoError(t, json.Unmarshal(s.ToJSON(), &r))
	require.Equal(t, "ok", r.Status)
	require.Equal(t, "deadbeef", r.NodeID)
}

func TestStatus_DisconnectedChainIsError(t *testing.T) {
	s := New("deadbeef", fakeTracker{})
	s.SetChain("disconnected")
	var r report
	require.NoError(t, json.Unmarshal(s.ToJSON(), &r))
	require.Equal(t, "error", r.Status)
}

func TestStatus_OperatorWarningIsDegradedNotError(t *testing.T) {
	s := New("deadbeef", fakeTracker{})
	s.SetOperatorWarning(true)
	var r report
	require.NoError(t, json.Unmarshal(s.ToJSON(), &r))
	require.Equal(t, "degraded", r.Status)
	require.True(t, r.OperatorWarning)
	require.Equal(t, "operator-warning", r.PeerGate)
}

func TestStatus_RecordJobUpdatesAverages(t *testing.T) {
	s := New("deadbeef", fakeTracker{})
	s.RecordJob(2 * time.Second)
	s.RecordJob(4 * time.Second)
	s.RecordIdle(6 * time.Second)

	var r report
	require.NoError(t, json.Unmarshal(s.ToJSON(), &r))
	require.Equal(t, int64(2), r.ProcessedJobs)
	require.InDelta(t, 3.0, r.AvgJobDurationSec, 0.01)
	require.InDelta(t, 50.0, r.IdlePercent, 0.01)
}

func TestStatus_IdleCyclesDelegatesToTracker(t *testing.T) {
	s := New("deadbeef", fakeTracker{idle: 7})
	var r report
	require.NoError(t, json.Unmarshal(s.ToJSON(), &r))
	require.Equal(t, 7, r.IdleCycles)
}

func TestStatus_HandlerReturnsServiceUnavailableOnError(t *testing.T) {
	s := New("deadbeef", fakeTracker{})
	s.SetChain("disconnected")

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler()(rec, req)

	require.Equal(t, 503, rec.Code)
}

func TestStatus_HandlerReturnsOKNormally(t *testing.T) {
	s := New("deadbeef", fakeTracker{})

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler()(rec, req)

	require.Equal(t, 200, rec.Code)
}
