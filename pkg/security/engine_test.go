package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlane(t *testing.T, rules []ResponseRule) (*Plane, *fakeEventStore, *fakeIncidentStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	events := newFakeEventStore()
	incidents := newFakeIncidentStore()
	correlator := NewCorrelator(events, incidents, 30*time.Minute)
	blocks := NewBlockList(client)
	rateLimit := NewRateLimiter(client)

	plane := NewPlane(events, incidents, correlator, blocks, rateLimit, nil, rules, time.Minute)
	return plane, events, incidents
}

func TestPlane_RecordEventOpensIncidentAndFiresIsolateBlock(t *testing.T) {
	rules := []ResponseRule{
		{Name: "egress-high", Priority: 1, MatchKind: EventEgressAttempt, MatchSeverity: SeverityHigh, Actions: []Action{ActionIsolate, ActionBlock, ActionAlert}},
	}
	plane, _, incidents := newTestPlane(t, rules)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := plane.RecordEvent(ctx, SecurityEvent{
			ServiceID:   "whatsapp-agent",
			Kind:        EventEgressAttempt,
			Severity:    SeverityHigh,
			Destination: "api.external.example.com",
		})
		require.NoError(t, err)
	}

	assert.True(t, plane.IsServiceBlocked("whatsapp-agent"))
	assert.True(t, plane.IsDestinationBlocked("api.external.example.com"))

	list, err := incidents.ListIncidents(ctx, IncidentOpen)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, SeverityHigh, list[0].Severity)
}

func TestPlane_EvaluateEgressRecordsEventOnlyWhenDenied(t *testing.T) {
	plane, events, _ := newTestPlane(t, nil)
	ctx := context.Background()

	require.NoError(t, plane.EvaluateEgress(ctx, "svc-1", "allowed.example.com", true))
	assert.Empty(t, events.events)

	require.NoError(t, plane.EvaluateEgress(ctx, "svc-1", "denied.example.com", false))
	require.Len(t, events.events, 1)
	assert.Equal(t, EventEgressAttempt, events.events[0].Kind)
	assert.GreaterOrEqual(t, severityRank[events.events[0].Severity], severityRank[SeverityMedium])
}

func TestPlane_QuarantineFreezeMonitorActionsSetInProcessFlags(t *testing.T) {
	rules := []ResponseRule{
		{Name: "data-access", Priority: 1, MatchKind: EventDataAccess, Actions: []Action{ActionQuarantine, ActionFreeze, ActionMonitor, ActionRateLimit, ActionReview, ActionAudit}},
	}
	plane, _, _ := newTestPlane(t, rules)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, plane.RecordEvent(ctx, SecurityEvent{ServiceID: "svc-3", Kind: EventDataAccess, Severity: SeverityMedium}))
	}

	assert.True(t, plane.IsQuarantined("svc-3"))
	assert.True(t, plane.IsFrozen("svc-3"))
	assert.True(t, plane.IsMonitored("svc-3"))

	allowed, err := plane.AllowRequest(ctx, "svc-3")
	require.NoError(t, err)
	assert.True(t, allowed, "first call after install should still be within burst")
}

func TestPlane_ResolveIncidentClearsQuarantineAndFreeze(t *testing.T) {
	rules := []ResponseRule{
		{Name: "data-access", Priority: 1, MatchKind: EventDataAccess, Actions: []Action{ActionQuarantine, ActionFreeze}},
	}
	plane, _, incidents := newTestPlane(t, rules)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, plane.RecordEvent(ctx, SecurityEvent{ServiceID: "svc-4", Kind: EventDataAccess, Severity: SeverityMedium}))
	}
	require.True(t, plane.IsQuarantined("svc-4"))

	list, err := incidents.ListIncidents(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, plane.ResolveIncident(ctx, list[0].IncidentID))
	assert.False(t, plane.IsQuarantined("svc-4"))
	assert.False(t, plane.IsFrozen("svc-4"))

	resolved, err := incidents.GetIncident(ctx, list[0].IncidentID)
	require.NoError(t, err)
	assert.Equal(t, IncidentResolved, resolved.Status)
}

func TestPlane_CriticalSeverityEventDispatchesWithoutWaitingForIncident(t *testing.T) {
	rules := []ResponseRule{
		{Name: "critical-any", Priority: 1, MatchSeverity: SeverityCritical, Actions: []Action{ActionFreeze}},
	}
	plane, _, _ := newTestPlane(t, rules)
	ctx := context.Background()

	require.NoError(t, plane.RecordEvent(ctx, SecurityEvent{ServiceID: "svc-5", Kind: EventPolicyViolation, Severity: SeverityCritical}))
	assert.True(t, plane.IsFrozen("svc-5"), "a single critical event should dispatch immediately, not wait for correlation")
}
