// Copyright 2025 Jinn Network
//
// Package health exposes the worker's GET /health endpoint (spec §6 "Health
// endpoint"): node identity, uptime, last-activity age, processed job
// count, and idle/execution efficiency metrics. Grounded on the teacher's
// main.go HealthStatus type — the Set*/updateOverallStatus/ToJSON shape is
// kept, but the component set is replaced (chain/content-store connectivity
// and claim-loop activity instead of Database/Ethereum/Accumulate/
// BatchSystem/ProofCycle) since this worker has no consensus or batch
// subsystem to report on.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// ActivityTracker is the subset of the claim loop's state the health
// endpoint needs (spec §6: idle cycles feed the idle-percent metric).
type ActivityTracker interface {
	IdleCycles() int
}

// Status tracks worker health for the /health endpoint.
type Status struct {
	mu sync.RWMutex

	nodeID    string
	startTime time.Time

	chain        string // "connected", "disconnected", "unknown"
	contentStore string
	peerGate     string // "ok", "operator-warning"

	processedJobs   int64
	totalExecNanos  int64
	totalIdleNanos  int64
	lastActivity    time.Time
	operatorWarning bool

	tracker ActivityTracker
}

// New constructs a Status. nodeID is expected to be the first 8 hex
// characters of the master Safe address (spec §6).
func New(nodeID string, tracker ActivityTracker) *Status {
	now := time.Now()
	return &Status{
		nodeID:       nodeID,
		startTime:    now,
		chain:        "unknown",
		contentStore: "unknown",
		peerGate:     "ok",
		lastActivity: now,
		tracker:      tracker,
	}
}

// SetChain records chain-gateway connectivity.
func (s *Status) SetChain(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chain = status
}

// SetContentStore records content-store connectivity.
func (s *Status) SetContentStore(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contentStore = status
}

// SetOperatorWarning surfaces the peer-gate cold-start fail-open condition
// (SPEC_FULL.md §9 Open Question resolution) so it is observable rather
// than silent.
func (s *Status) SetOperatorWarning(warn bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operatorWarning = warn
	if warn {
		s.peerGate = "operator-warning"
	} else {
		s.peerGate = "ok"
	}
}

// RecordJob records one completed pipeline run's execution duration and
// advances the last-activity timestamp (spec §6 "avg job duration").
func (s *Status) RecordJob(execDuration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processedJobs++
	s.totalExecNanos += execDuration.Nanoseconds()
	s.lastActivity = time.Now()
}

// RecordIdle accrues idle wall-clock time between dispatches, the
// complement of RecordJob's execution time (spec §6 "idle percent").
func (s *Status) RecordIdle(idleDuration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalIdleNanos += idleDuration.Nanoseconds()
}

// report is the JSON shape served at /health.
type report struct {
	Status            string  `json:"status"`
	NodeID            string  `json:"node_id"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
	Chain             string  `json:"chain"`
	ContentStore      string  `json:"content_store"`
	PeerGate          string  `json:"peer_gate"`
	OperatorWarning   bool    `json:"operator_warning"`
	ProcessedJobs     int64   `json:"processed_jobs"`
	IdleCycles        int     `json:"idle_cycles"`
	LastActivitySecs  int64   `json:"last_activity_seconds_ago"`
	AvgJobDurationSec float64 `json:"avg_job_duration_seconds"`
	TotalExecSeconds  float64 `json:"total_execution_seconds"`
	TotalIdleSeconds  float64 `json:"total_idle_seconds"`
	IdlePercent       float64 `json:"idle_percent"`
}

func (s *Status) snapshot() report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	overall := "ok"
	if s.chain == "disconnected" || s.contentStore == "disconnected" {
		overall = "error"
	} else if s.operatorWarning {
		overall = "degraded"
	}

	var idleCycles int
	if s.tracker != nil {
		idleCycles = s.tracker.IdleCycles()
	}

	var avgJobSeconds float64
	if s.processedJobs > 0 {
		avgJobSeconds = (float64(s.totalExecNanos) / float64(s.processedJobs)) / float64(time.Second)
	}

	totalExecSeconds := float64(s.totalExecNanos) / float64(time.Second)
	totalIdleSeconds := float64(s.totalIdleNanos) / float64(time.Second)
	var idlePercent float64
	if total := totalExecSeconds + totalIdleSeconds; total > 0 {
		idlePercent = 100 * totalIdleSeconds / total
	}

	return report{
		Status:            overall,
		NodeID:            s.nodeID,
		UptimeSeconds:     int64(time.Since(s.startTime).Seconds()),
		Chain:             s.chain,
		ContentStore:      s.contentStore,
		PeerGate:          s.peerGate,
		OperatorWarning:   s.operatorWarning,
		ProcessedJobs:     s.processedJobs,
		IdleCycles:        idleCycles,
		LastActivitySecs:  int64(time.Since(s.lastActivity).Seconds()),
		AvgJobDurationSec: avgJobSeconds,
		TotalExecSeconds:  totalExecSeconds,
		TotalIdleSeconds:  totalIdleSeconds,
		IdlePercent:       idlePercent,
	}
}

// ToJSON serializes the current status snapshot.
func (s *Status) ToJSON() []byte {
	data, _ := json.Marshal(s.snapshot())
	return data
}

// Handler returns an http.HandlerFunc for GET /health: 200 with "ok" or
// "degraded" status, 503 on "error", mirroring the teacher's status-code
// mapping.
func (s *Status) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := s.snapshot()
		w.Header().Set("Content-Type", "application/json")
		if snap.Status == "error" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		data, _ := json.Marshal(snap)
		w.Write(data)
	}
}
