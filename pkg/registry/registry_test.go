package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_NewAgentStartsUnknownAndIndexesCapabilities(t *testing.T) {
	reg := New(NewEgressStore(nil), nil)
	id, _, err := reg.Register(context.Background(), testManifest(), "http://localhost:9100", "http://localhost:9100/health")
	require.NoError(t, err)
	assert.Equal(t, "mail-agent", id)

	rec, ok := reg.GetAgent("mail-agent")
	require.True(t, ok)
	assert.Equal(t, HealthUnknown, rec.HealthStatus)

	refs := reg.LookupCapability("messages.search")
	require.Len(t, refs, 1)
	assert.Equal(t, "mail-agent", refs[0].AgentID)
}

func TestRegister_RejectsEgressDomainNotInAllowlist(t *testing.T) {
	reg := New(NewEgressStore([]string{"allowed.example.com"}), nil)
	m := testManifest()
	m.EgressDomains = []string{"forbidden.example.com"}

	_, _, err := reg.Register(context.Background(), m, "http://localhost:9100", "http://localhost:9100/health")
	require.Error(t, err)
}

func TestReregister_ResetsHealthToUnknown(t *testing.T) {
	reg := New(NewEgressStore(nil), nil)
	ctx := context.Background()
	_, _, err := reg.Register(ctx, testManifest(), "http://localhost:9100", "http://localhost:9100/health")
	require.NoError(t, err)

	rec, _ := reg.GetAgent("mail-agent")
	rec.recordObservation(Observation{At: time.Now(), Success: true}, 0)
	rec.recordObservation(Observation{At: time.Now(), Success: true}, 0)
	rec.recordObservation(Observation{At: time.Now(), Success: true}, 0)
	assert.Equal(t, HealthHealthy, rec.HealthStatus)

	require.NoError(t, reg.Deregister(ctx, "mail-agent"))
	_, _, err = reg.Register(ctx, testManifest(), "http://localhost:9100", "http://localhost:9100/health")
	require.NoError(t, err)

	rec2, ok := reg.GetAgent("mail-agent")
	require.True(t, ok)
	assert.Equal(t, HealthUnknown, rec2.HealthStatus)
}

func TestHealthStateMachine_DegradesAfterTwoConsecutiveFailures(t *testing.T) {
	rec := &RegistryRecord{HealthStatus: HealthHealthy}
	rec.recordObservation(Observation{At: time.Now(), Success: false}, 0)
	assert.Equal(t, HealthHealthy, rec.HealthStatus)
	rec.recordObservation(Observation{At: time.Now(), Success: false}, 0)
	assert.Equal(t, HealthDegraded, rec.HealthStatus)
}

func TestHealthStateMachine_DegradedToUnhealthyAfterFiveConsecutiveFailures(t *testing.T) {
	rec := &RegistryRecord{HealthStatus: HealthDegraded}
	for i := 0; i < 4; i++ {
		rec.recordObservation(Observation{At: time.Now(), Success: false}, 0)
		assert.Equal(t, HealthDegraded, rec.HealthStatus)
	}
	rec.recordObservation(Observation{At: time.Now(), Success: false}, 0)
	assert.Equal(t, HealthUnhealthy, rec.HealthStatus)
}

func TestHealthStateMachine_UnhealthyRecoversAfterThreeConsecutiveSuccesses(t *testing.T) {
	rec := &RegistryRecord{HealthStatus: HealthUnhealthy}
	for i := 0; i < 2; i++ {
		rec.recordObservation(Observation{At: time.Now(), Success: true}, 0)
		assert.Equal(t, HealthUnhealthy, rec.HealthStatus)
	}
	rec.recordObservation(Observation{At: time.Now(), Success: true}, 0)
	assert.Equal(t, HealthHealthy, rec.HealthStatus)
}

func TestHealthStateMachine_DegradesOnSLABreachEvenWithoutFailures(t *testing.T) {
	rec := &RegistryRecord{HealthStatus: HealthHealthy}
	rec.recordObservation(Observation{At: time.Now(), Success: true, LatencyMS: 5000}, 1000)
	assert.Equal(t, HealthDegraded, rec.HealthStatus)
}

func TestLookupCapability_TieBreaksOnHealthThenLatencyThenAgentID(t *testing.T) {
	reg := New(NewEgressStore(nil), nil)
	ctx := context.Background()

	mA := testManifest()
	mA.AgentID = "agent-a"
	mB := testManifest()
	mB.AgentID = "agent-b"

	_, _, err := reg.Register(ctx, mA, "http://a", "http://a/health")
	require.NoError(t, err)
	_, _, err = reg.Register(ctx, mB, "http://b", "http://b/health")
	require.NoError(t, err)

	recA, _ := reg.GetAgent("agent-a")
	recA.HealthStatus = HealthDegraded
	recB, _ := reg.GetAgent("agent-b")
	recB.HealthStatus = HealthHealthy

	refs := reg.LookupCapability("messages.search")
	require.Len(t, refs, 2)
	assert.Equal(t, "agent-b", refs[0].AgentID, "healthy agent should be preferred over degraded")
}

func TestSystemHealth_ReportsCriticalWhenAnyAgentUnhealthy(t *testing.T) {
	reg := New(NewEgressStore(nil), nil)
	_, _, err := reg.Register(context.Background(), testManifest(), "http://localhost:9100", "http://localhost:9100/health")
	require.NoError(t, err)

	rec, _ := reg.GetAgent("mail-agent")
	rec.HealthStatus = HealthUnhealthy

	snap := reg.SystemHealth()
	assert.Equal(t, "critical", snap.Overall)
	assert.Equal(t, "unhealthy", snap.PerAgent["mail-agent"])
}
