package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelator_OpensIncidentAtThreeSameKindEvents(t *testing.T) {
	events := newFakeEventStore()
	incidents := newFakeIncidentStore()
	c := NewCorrelator(events, incidents, 30*time.Minute)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 2; i++ {
		e := SecurityEvent{ServiceID: "svc-1", Kind: EventEgressAttempt, Severity: SeverityMedium, Timestamp: now.Add(time.Duration(i) * time.Second), EventID: string(rune('a' + i))}
		require.NoError(t, events.SaveEvent(ctx, e))
		incident, err := c.Evaluate(ctx, e)
		require.NoError(t, err)
		assert.Nil(t, incident, "fewer than 3 same-kind events must not open an incident")
	}

	third := SecurityEvent{ServiceID: "svc-1", Kind: EventEgressAttempt, Severity: SeverityHigh, Timestamp: now.Add(3 * time.Second), EventID: "c"}
	require.NoError(t, events.SaveEvent(ctx, third))
	incident, err := c.Evaluate(ctx, third)
	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.Equal(t, SeverityHigh, incident.Severity, "incident severity is the max of its constituent events")
	assert.Equal(t, "svc-1", incident.ServiceID)
}

func TestCorrelator_DoesNotReopenIncidentWithinSameWindow(t *testing.T) {
	events := newFakeEventStore()
	incidents := newFakeIncidentStore()
	c := NewCorrelator(events, incidents, 30*time.Minute)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 3; i++ {
		e := SecurityEvent{ServiceID: "svc-1", Kind: EventEgressAttempt, Severity: SeverityMedium, Timestamp: now.Add(time.Duration(i) * time.Second), EventID: string(rune('a' + i))}
		require.NoError(t, events.SaveEvent(ctx, e))
		c.Evaluate(ctx, e)
	}

	fourth := SecurityEvent{ServiceID: "svc-1", Kind: EventEgressAttempt, Severity: SeverityCritical, Timestamp: now.Add(10 * time.Second), EventID: "d"}
	require.NoError(t, events.SaveEvent(ctx, fourth))
	incident, err := c.Evaluate(ctx, fourth)
	require.NoError(t, err)
	require.NotNil(t, incident, "a still-open window for the same service+kind mutates the existing incident")
	assert.Equal(t, SeverityCritical, incident.Severity, "severity re-maxes across constituent events")
	assert.Contains(t, incident.EventIDs, "d", "the fourth event's ID joins the existing incident")

	incidentList, err := incidents.ListIncidents(ctx, "")
	require.NoError(t, err)
	require.Len(t, incidentList, 1, "a still-open window for the same service+kind must not spawn a second incident")
	assert.Equal(t, SeverityCritical, incidentList[0].Severity)
}

func TestCorrelator_OpensIncidentAtThreeRelatedKinds(t *testing.T) {
	events := newFakeEventStore()
	incidents := newFakeIncidentStore()
	c := NewCorrelator(events, incidents, 30*time.Minute)
	ctx := context.Background()

	now := time.Now()
	e1 := SecurityEvent{ServiceID: "svc-2", Kind: EventEgressAttempt, Severity: SeverityMedium, Timestamp: now, EventID: "a"}
	e2 := SecurityEvent{ServiceID: "svc-2", Kind: EventDataAccess, Severity: SeverityMedium, Timestamp: now.Add(time.Second), EventID: "b"}
	require.NoError(t, events.SaveEvent(ctx, e1))
	require.NoError(t, events.SaveEvent(ctx, e2))
	c.Evaluate(ctx, e1)
	incident, err := c.Evaluate(ctx, e2)
	require.NoError(t, err)
	assert.Nil(t, incident, "two distinct related kinds is still below threshold")

	e3 := SecurityEvent{ServiceID: "svc-2", Kind: EventPolicyViolation, Severity: SeverityMedium, Timestamp: now.Add(2 * time.Second), EventID: "c"}
	require.NoError(t, events.SaveEvent(ctx, e3))
	incident, err = c.Evaluate(ctx, e3)
	require.NoError(t, err)
	require.NotNil(t, incident, "three distinct related kinds for the same service must open an incident")
}
