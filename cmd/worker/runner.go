// Copyright 2025 Jinn Network
//
// runner wires claim → execute → deliver → lineage into a single
// claimloop.Dispatcher implementation, the glue cmd/worker's main assembles
// C5 through C8 with. Grounded on the teacher's main.go inline closures
// wiring batch/attestation components together at construction time.
package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/delivery"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/health"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/metrics"
	"github.com/Jinn-Network/jinn-node-sub004/pkg/pipeline"
)

// leaseStore is the subset of pkg/database.LeaseRepository the runner needs;
// a nil leaseStore disables durable claim-idempotence bookkeeping, falling
// back to the claim loop's in-memory memo and the chain's own claim check.
type leaseStore interface {
	Insert(ctx context.Context, requestID string) error
	MarkDelivered(ctx context.Context, requestID string) error
}

// runner implements claimloop.Dispatcher: it runs the execution pipeline for
// a claimed request, submits the terminal outcome to delivery, and lets
// delivery schedule lineage follow-ups, all off the claim loop's own
// goroutine so ticking is never blocked by a slow job (spec §5 "Across
// requests, concurrency is bounded by a configurable in-flight cap").
type runner struct {
	pipeline *pipeline.Pipeline
	delivery *delivery.Service
	health   *health.Status
	lease    leaseStore
	logger   *log.Logger

	wg sync.WaitGroup
}

func newRunner(p *pipeline.Pipeline, d *delivery.Service, h *health.Status, lease leaseStore, logger *log.Logger) *runner {
	return &runner{pipeline: p, delivery: d, health: h, lease: lease, logger: logger}
}

// Dispatch hands request off to a background goroutine and returns
// immediately, satisfying pkg/claimloop.Dispatcher.
func (r *runner) Dispatch(ctx context.Context, request domain.Request) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, request)
	}()
}

// Wait blocks until every in-flight dispatch has settled; called during
// shutdown so an in-flight claim finishes (commit or revert) before exit
// (spec §4.5 "Cancellation").
func (r *runner) Wait() { r.wg.Wait() }

// SetHealth wires the health status sink after construction, breaking the
// constructor cycle between the runner (claimloop.Dispatcher) and the claim
// loop (health.ActivityTracker) that health.New itself depends on.
func (r *runner) SetHealth(h *health.Status) { r.health = h }

func (r *runner) run(ctx context.Context, request domain.Request) {
	if r.lease != nil {
		if err := r.lease.Insert(ctx, string(request.ID)); err != nil {
			r.logger.Printf("record claim lease for %s: %v", request.ID, err)
		}
	}

	started := time.Now()
	timer := metrics.NewTimer()
	outcome, err := r.pipeline.Run(ctx, request)
	timer.ObserveDurationVec(metrics.PipelineStageDuration, "run")
	execDuration := time.Since(started)
	if err != nil {
		r.logger.Printf("pipeline run for %s: %v", request.ID, err)
		return
	}
	metrics.PipelineOutcomesTotal.WithLabelValues(string(outcome.Status)).Inc()

	requestIDInt, err := request.ID.BigInt()
	if err != nil {
		r.logger.Printf("parse request id %s for delivery: %v", request.ID, err)
		return
	}

	payload := domain.DeliveryPayload{
		Status:    outcome.Status,
		Message:   outcome.Message,
		Output:    outcome.Output,
		Model:     outcome.Model,
		Telemetry: outcome.Telemetry,
		Artifacts: outcome.ArtifactRefs,
		PRURL:     outcome.PRURL,
	}

	deliverTimer := metrics.NewTimer()
	_, err = r.delivery.Deliver(ctx, string(request.ID), requestIDInt, payload)
	if err != nil {
		metrics.DeliveriesTotal.WithLabelValues("error").Inc()
		r.logger.Printf("deliver request %s: %v", request.ID, err)
		if r.health != nil {
			r.health.SetOperatorWarning(true)
		}
		return
	}
	metrics.DeliveriesTotal.WithLabelValues("ok").Inc()
	deliverTimer.ObserveDurationVec(metrics.PipelineStageDuration, "deliver")

	if r.lease != nil {
		if err := r.lease.MarkDelivered(ctx, string(request.ID)); err != nil {
			r.logger.Printf("mark claim lease delivered for %s: %v", request.ID, err)
		}
	}
	if r.health != nil {
		r.health.RecordJob(execDuration)
	}

	r.delivery.ScheduleFollowUps(ctx, outcome.JobContext, outcome.Status, outcome.LoopMessage)
}
