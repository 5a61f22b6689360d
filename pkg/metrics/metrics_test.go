// Copyright 2025 Jinn Network
package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestClaimsTotal_IncrementsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(ClaimsTotal.WithLabelValues("claimed"))
	ClaimsTotal.WithLabelValues("claimed").Inc()
	after := testutil.ToFloat64(ClaimsTotal.WithLabelValues("claimed"))
	require.Equal(t, before+1, after)
}

func TestTimer_ObserveDurationVec(t *testing.T) {
	timer := NewTimer()
	time.Sleep(time.Millisecond)
	timer.ObserveDurationVec(PipelineStageDuration, "context_build")

	count := testutil.CollectAndCount(PipelineStageDuration)
	require.Greater(t, count, 0)
}
