// Copyright 2025 Jinn Network
//
// Claim-lease repository: durable record of in-flight and delivered
// requests, so a worker restart does not re-claim a request it already
// holds (spec §4.5 claim idempotence, testable property 1). Grounded on the
// teacher's pkg/database/repository_request.go CRUD shape.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ClaimLease is a durable record of a claimed request.
type ClaimLease struct {
	RequestID   string
	ClaimedAt   time.Time
	Delivered   bool
	DeliveredAt sql.NullTime
}

// LeaseRepository handles claim-lease persistence.
type LeaseRepository struct {
	client *Client
}

// NewLeaseRepository constructs a LeaseRepository.
func NewLeaseRepository(client *Client) *LeaseRepository {
	return &LeaseRepository{client: client}
}

// Insert records a new claim lease; a duplicate request id is reported as
// ErrLeaseAlreadyHeld rather than a raw unique-violation.
func (r *LeaseRepository) Insert(ctx context.Context, requestID string) error {
	query := `INSERT INTO claim_leases (request_id, claimed_at) VALUES ($1, $2)`
	_, err := r.client.ExecContext(ctx, query, requestID, time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrLeaseAlreadyHeld
		}
		return fmt.Errorf("insert claim lease: %w", err)
	}
	return nil
}

// Get retrieves the lease for requestID.
func (r *LeaseRepository) Get(ctx context.Context, requestID string) (*ClaimLease, error) {
	query := `SELECT request_id, claimed_at, delivered, delivered_at FROM claim_leases WHERE request_id = $1`
	lease := &ClaimLease{}
	err := r.client.QueryRowContext(ctx, query, requestID).Scan(
		&lease.RequestID, &lease.ClaimedAt, &lease.Delivered, &lease.DeliveredAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrLeaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get claim lease: %w", err)
	}
	return lease, nil
}

// MarkDelivered records delivery, making claim idempotence durable across
// restarts.
func (r *LeaseRepository) MarkDelivered(ctx context.Context, requestID string) error {
	query := `UPDATE claim_leases SET delivered = TRUE, delivered_at = $2 WHERE request_id = $1`
	result, err := r.client.ExecContext(ctx, query, requestID, time.Now())
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark delivered rows affected: %w", err)
	}
	if rows == 0 {
		return ErrLeaseNotFound
	}
	return nil
}

// List returns every claim lease, most recently claimed first, for the
// workerctl `list` command (spec §6 "CLI surface").
func (r *LeaseRepository) List(ctx context.Context) ([]ClaimLease, error) {
	query := `SELECT request_id, claimed_at, delivered, delivered_at FROM claim_leases ORDER BY claimed_at DESC`
	rows, err := r.client.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list claim leases: %w", err)
	}
	defer rows.Close()

	var leases []ClaimLease
	for rows.Next() {
		var lease ClaimLease
		if err := rows.Scan(&lease.RequestID, &lease.ClaimedAt, &lease.Delivered, &lease.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scan claim lease: %w", err)
		}
		leases = append(leases, lease)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claim leases: %w", err)
	}
	return leases, nil
}

// IsDelivered reports whether requestID has a durable delivered lease;
// absence of a lease is not an error, just "not delivered yet".
func (r *LeaseRepository) IsDelivered(ctx context.Context, requestID string) (bool, error) {
	lease, err := r.Get(ctx, requestID)
	if err == ErrLeaseNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return lease.Delivered, nil
}

func isUniqueViolation(err error) bool {
	// lib/pq reports unique violations as a *pq.Error with SQLSTATE 23505 in
	// its Code field; its Error() text carries only the message. Errors from
	// other drivers are matched on the SQLSTATE appearing in their text.
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && containsSQLState(err.Error(), "23505")
}

func containsSQLState(msg, code string) bool {
	for i := 0; i+len(code) <= len(msg); i++ {
		if msg[i:i+len(code)] == code {
			return true
		}
	}
	return false
}
