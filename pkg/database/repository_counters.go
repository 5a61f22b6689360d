// Copyright 2025 Jinn Network
//
// Worker counters repository: durable idle-cycle and processed-job counts,
// read by workerctl status. The health endpoint's efficiency metrics come
// from in-memory state, not from these counters.
package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CounterRepository handles durable worker counters.
type CounterRepository struct {
	client *Client
}

// NewCounterRepository constructs a CounterRepository.
func NewCounterRepository(client *Client) *CounterRepository {
	return &CounterRepository{client: client}
}

// Increment adds delta to the named counter and returns its new value.
func (r *CounterRepository) Increment(ctx context.Context, name string, delta int64) (int64, error) {
	query := `
		INSERT INTO worker_counters (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = worker_counters.value + $2
		RETURNING value`
	var value int64
	if err := r.client.QueryRowContext(ctx, query, name, delta).Scan(&value); err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", name, err)
	}
	return value, nil
}

// Get returns the current value of the named counter, 0 if never set.
func (r *CounterRepository) Get(ctx context.Context, name string) (int64, error) {
	query := `SELECT value FROM worker_counters WHERE name = $1`
	var value int64
	err := r.client.QueryRowContext(ctx, query, name).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter %s: %w", name, err)
	}
	return value, nil
}
