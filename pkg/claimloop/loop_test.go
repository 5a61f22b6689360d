// Copyright 2025 Jinn Network
package claimloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Jinn-Network/jinn-node-sub004/pkg/domain"
)

type fakeSource struct {
	requests []domain.Request
}

func (f *fakeSource) UnclaimedRequests(ctx context.Context, mech string) ([]domain.Request, error) {
	return f.requests, nil
}

type alwaysStaked struct{}

func (alwaysStaked) IsStaked(ctx context.Context, mech string) (bool, error) { return true, nil }

type fakeDeps struct {
	delivered map[domain.RequestID]bool
}

func (f *fakeDeps) IsDelivered(ctx context.Context, id domain.RequestID) (bool, error) {
	return f.delivered[id], nil
}

type alwaysEligible struct{}

func (alwaysEligible) Eligible(ctx context.Context, r domain.Request) (bool, error) { return true, nil }
func (alwaysEligible) Demands(ctx context.Context, r domain.Request) (bool, error)  { return false, nil }
func (alwaysEligible) Trusted() bool                                               { return false }

type fakeClaimer struct {
	calls []domain.RequestID
}

func (f *fakeClaimer) Claim(ctx context.Context, r domain.Request) error {
	f.calls = append(f.calls, r.ID)
	return nil
}

type fakeDispatcher struct {
	dispatched []domain.RequestID
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, r domain.Request) {
	f.dispatched = append(f.dispatched, r.ID)
}

func TestRunTick_ClaimIdempotence_AlreadyDeliveredRequestIsNoOp(t *testing.T) {
	claimer := &fakeClaimer{}
	dispatcher := &fakeDispatcher{}
	source := &fakeSource{requests: []domain.Request{{ID: "0x1", Mech: "0xmech", Delivered: true}}}
	lp := New(source, alwaysStaked{}, &fakeDeps{}, alwaysEligible{}, claimer, dispatcher, "0xmech", time.Second)

	lp.runTick(context.Background())

	require.Empty(t, claimer.calls)
}

func TestRunTick_ClaimIdempotence_DoesNotReclaimSameProcessRequest(t *testing.T) {
	claimer := &fakeClaimer{}
	dispatcher := &fakeDispatcher{}
	source := &fakeSource{requests: []domain.Request{{ID: "0x1", Mech: "0xmech"}}}
	lp := New(source, alwaysStaked{}, &fakeDeps{}, alwaysEligible{}, claimer, dispatcher, "0xmech", time.Second)

	lp.runTick(context.Background())
	lp.runTick(context.Background())

	require.Len(t, claimer.calls, 1)
}

func TestRunTick_DependencySafety_SkipsUndeliveredDependency(t *testing.T) {
	claimer := &fakeClaimer{}
	dispatcher := &fakeDispatcher{}
	source := &fakeSource{requests: []domain.Request{
		{ID: "0x1", Mech: "0xmech", Dependencies: []domain.RequestID{"0xdead", "0xbeef"}},
	}}
	deps := &fakeDeps{delivered: map[domain.RequestID]bool{"0xdead": true}}
	lp := New(source, alwaysStaked{}, deps, alwaysEligible{}, claimer, dispatcher, "0xmech", time.Second)

	lp.runTick(context.Background())

	require.Empty(t, claimer.calls)
	require.Empty(t, dispatcher.dispatched)
	require.Equal(t, 1, lp.IdleCycles())
}

func TestRunTick_DependencySafety_ClaimsOnceAllDependenciesDelivered(t *testing.T) {
	claimer := &fakeClaimer{}
	dispatcher := &fakeDispatcher{}
	source := &fakeSource{requests: []domain.Request{
		{ID: "0x1", Mech: "0xmech", Dependencies: []domain.RequestID{"0xdead", "0xbeef"}},
	}}
	deps := &fakeDeps{delivered: map[domain.RequestID]bool{"0xdead": true, "0xbeef": true}}
	lp := New(source, alwaysStaked{}, deps, alwaysEligible{}, claimer, dispatcher, "0xmech", time.Second)

	lp.runTick(context.Background())

	require.Equal(t, []domain.RequestID{"0x1"}, claimer.calls)
	require.Equal(t, []domain.RequestID{"0x1"}, dispatcher.dispatched)
}

func TestStop_WaitsForInFlightTick(t *testing.T) {
	source := &fakeSource{}
	lp := New(source, alwaysStaked{}, &fakeDeps{}, alwaysEligible{}, &fakeClaimer{}, &fakeDispatcher{}, "0xmech", time.Millisecond)

	done := make(chan struct{})
	go func() {
		lp.Run(context.Background())
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	lp.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
