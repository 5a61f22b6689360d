// Copyright 2025 Jinn Network
package delivery

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

var fakeDigestHex = "0xab" + strings.Repeat("00", 31)

type fakePublisher struct {
	puts int
}

func (f *fakePublisher) PutJSON(value interface{}) (string, string, error) {
	f.puts++
	return "bafkreifake", fakeDigestHex, nil
}

type fakeReceipt struct{ ok bool }

func (r fakeReceipt) Success() bool { return r.ok }

type fakeSubmitter struct {
	calls int
	fail  error
	ok    bool
}

func (f *fakeSubmitter) Deliver(ctx context.Context, requestID *big.Int, digest [32]byte) (Receipt, error) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	return fakeReceipt{ok: f.ok}, nil
}

type fakeArtifacts struct {
	created []string
}

func (f *fakeArtifacts) CreateArtifact(ctx context.Context, requestID, cid, topic, name string) error {
	f.created = append(f.created, topic)
	return nil
}

type fakeFollowUps struct {
	dispatched []string
}

func (f *fakeFollowUps) DispatchFollowUp(ctx context.Context, jobDefinitionID string, additionalContext map[string]interface{}) error {
	f.dispatched = append(f.dispatched, jobDefinitionID)
	return nil
}

type fakeLineage struct {
	parent           string
	hasParent        bool
	pendingChildren  bool
}

func (f *fakeLineage) ParentOf(ctx context.Context, jobDefinitionID string) (string, bool) {
	return f.parent, f.hasParent
}

func (f *fakeLineage) ParentHasPendingChildren(ctx context.Context, parentJobDefID string, excluding string) (bool, error) {
	return f.pendingChildren, nil
}

func TestDeliver_PublishesAndSubmits(t *testing.T) {
	pub := &fakePublisher{}
	sub := &fakeSubmitter{ok: true}
	svc := New(pub, sub, &fakeArtifacts{}, &fakeFollowUps{}, &fakeLineage{})

	outcome, err := svc.Deliver(context.Background(), "0xreq", big.NewInt(1), domain.DeliveryPayload{Status: domain.StatusCompleted})

	require.NoError(t, err)
	require.NotEmpty(t, outcome.CID)
	require.Equal(t, 1, sub.calls)
}

func TestDeliver_RevertIsTerminalTaggedError(t *testing.T) {
	pub := &fakePublisher{}
	sub := &fakeSubmitter{ok: false}
	svc := New(pub, sub, &fakeArtifacts{}, &fakeFollowUps{}, &fakeLineage{})

	_, err := svc.Deliver(context.Background(), "0xreq", big.NewInt(1), domain.DeliveryPayload{Status: domain.StatusFailed})

	require.Error(t, err)
	require.Equal(t, domain.ErrSafeTxRevert, domain.CodeOf(err))
}

func TestDeliver_RetriesTransientThenSucceeds(t *testing.T) {
	pub := &fakePublisher{}
	sub := &retryingSubmitter{failTimes: 2}
	svc := New(pub, sub, &fakeArtifacts{}, &fakeFollowUps{}, &fakeLineage{}, WithBackoff(time.Millisecond, 5*time.Millisecond, 5))

	_, err := svc.Deliver(context.Background(), "0xreq", big.NewInt(1), domain.DeliveryPayload{Status: domain.StatusCompleted})

	require.NoError(t, err)
	require.Equal(t, 3, sub.calls)
}

type retryingSubmitter struct {
	calls     int
	failTimes int
}

func (r *retryingSubmitter) Deliver(ctx context.Context, requestID *big.Int, digest [32]byte) (Receipt, error) {
	r.calls++
	if r.calls <= r.failTimes {
		return nil, domain.NewTaggedError(domain.ErrRPCFailure, "0xreq", "test", nil)
	}
	return fakeReceipt{ok: true}, nil
}

func TestScheduleFollowUps_ParentVerificationDispatchedWhenNoPendingChildren(t *testing.T) {
	pub := &fakePublisher{}
	sub := &fakeSubmitter{ok: true}
	followUps := &fakeFollowUps{}
	lineage := &fakeLineage{parent: "parent-job", hasParent: true, pendingChildren: false}
	svc := New(pub, sub, &fakeArtifacts{}, followUps, lineage)

	jc := domain.JobContext{Metadata: domain.JobMetadata{JobDefinitionID: "child-job"}}
	svc.ScheduleFollowUps(context.Background(), jc, domain.StatusCompleted, "")

	require.Equal(t, []string{"parent-job"}, followUps.dispatched)
}

func TestScheduleFollowUps_CycleRunDispatchedOnlyWhenCyclicAndCompleted(t *testing.T) {
	pub := &fakePublisher{}
	sub := &fakeSubmitter{ok: true}
	followUps := &fakeFollowUps{}
	svc := New(pub, sub, &fakeArtifacts{}, followUps, &fakeLineage{})

	jc := domain.JobContext{Metadata: domain.JobMetadata{JobDefinitionID: "cycle-job", Cyclic: true}}
	svc.ScheduleFollowUps(context.Background(), jc, domain.StatusFailed, "")
	require.Empty(t, followUps.dispatched)

	svc.ScheduleFollowUps(context.Background(), jc, domain.StatusCompleted, "")
	require.Equal(t, []string{"cycle-job"}, followUps.dispatched)
}

func TestScheduleFollowUps_LoopRecoveryBoundedToThreeAttempts(t *testing.T) {
	pub := &fakePublisher{}
	sub := &fakeSubmitter{ok: true}
	followUps := &fakeFollowUps{}
	svc := New(pub, sub, &fakeArtifacts{}, followUps, &fakeLineage{})

	jc := domain.JobContext{
		Metadata:     domain.JobMetadata{JobDefinitionID: "recov-job"},
		LoopRecovery: &domain.LoopRecovery{Attempt: 3},
	}
	svc.ScheduleFollowUps(context.Background(), jc, domain.StatusFailed, "Repeating edit of file F")

	require.Empty(t, followUps.dispatched)
}
