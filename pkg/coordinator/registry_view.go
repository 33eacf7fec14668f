package coordinator

import (
	"github.com/kenny-fabric/kenny/pkg/manifest"
	"github.com/kenny-fabric/kenny/pkg/registry"
)

// RegistryView is the subset of pkg/registry.Registry the Coordinator
// needs: capability resolution and health state for Planner validation,
// kept narrow so the Coordinator can be tested against a fake.
type RegistryView interface {
	ListCapabilities() []registry.CapabilityRef
	LookupCapability(verb string) []registry.CapabilityRef
	GetAgent(agentID string) (*registry.RegistryRecord, bool)
}

// agentTypeOf looks up the agent_type of a capability's owning agent. No
// code in this module calls it.
func agentTypeOf(reg RegistryView, agentID string) (manifest.AgentType, bool) {
	rec, ok := reg.GetAgent(agentID)
	if !ok {
		return "", false
	}
	return rec.Manifest.AgentType, true
}
