package registry

import (
	"strings"
	"sync"
)

// EgressDecision is the outcome of EvaluateEgress.
type EgressDecision string

const (
	EgressAllow             EgressDecision = "allow"
	EgressDeny              EgressDecision = "deny"
	EgressDenyWithBypass    EgressDecision = "deny_with_bypass_token"
)

// Allowlist is an immutable snapshot of the configured egress destinations,
// each a bare domain (possibly wildcard-prefixed, "*.example.com") or
// domain:port pair.
type Allowlist []string

// allows reports whether destination matches any allowlist entry. Matching
// mirrors the masking package's AppliesTo-then-apply split: a cheap,
// deterministic string check, no network lookups.
func (a Allowlist) allows(destination string) bool {
	host := destination
	if i := strings.LastIndex(destination, ":"); i > 0 && !strings.Contains(destination[i:], "]") {
		host = destination[:i]
	}
	for _, entry := range a {
		entryHost := entry
		if i := strings.LastIndex(entry, ":"); i > 0 {
			entryHost = entry[:i]
			if entry != destination && entryHost != host {
				continue
			}
		}
		if strings.HasPrefix(entryHost, "*.") {
			suffix := entryHost[1:] // ".example.com"
			if strings.HasSuffix(host, suffix) || host == entryHost[2:] {
				return true
			}
			continue
		}
		if entryHost == host {
			return true
		}
	}
	return false
}

// BlockChecker is implemented by the Security plane's block-list store so
// the Registry can consult live blocks without importing pkg/security
// directly.
type BlockChecker interface {
	IsServiceBlocked(serviceID string) bool
	IsDestinationBlocked(destination string) bool
	HasBypass(serviceID, destination string) bool
}

// EgressStore holds the Registry's view of the global egress allowlist and,
// optionally, a reference to the Security plane's block lists for
// EvaluateEgress's advisory enforcement (spec.md §4.1).
type EgressStore struct {
	mu        sync.RWMutex
	allowlist Allowlist
	blocks    BlockChecker
}

// NewEgressStore creates a store seeded with the configured allowlist.
func NewEgressStore(allowlist []string) *EgressStore {
	return &EgressStore{allowlist: append(Allowlist(nil), allowlist...)}
}

// SetBlockChecker wires the Security plane's block-list view in. Until
// called, EvaluateEgress only consults the static allowlist.
func (s *EgressStore) SetBlockChecker(b BlockChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = b
}

// Allowlist returns a copy-on-write snapshot of the current allowlist, safe
// to read without holding the store's lock for the duration of an egress
// evaluation (spec.md §5 "Shared-resource policy").
func (s *EgressStore) Allowlist() Allowlist {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(Allowlist, len(s.allowlist))
	copy(cp, s.allowlist)
	return cp
}

// SetAllowlist replaces the allowlist wholesale (admin operation).
func (s *EgressStore) SetAllowlist(allowlist []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowlist = append(Allowlist(nil), allowlist...)
}

// EvaluateEgress is the Registry-layer advisory check from spec.md §4.1.
// The Security plane is the authority on service/destination blocks; this
// only decides whether the static allowlist and any wired blocks permit the
// attempt.
func (s *EgressStore) EvaluateEgress(serviceID, destination string) EgressDecision {
	allowlist := s.Allowlist()

	s.mu.RLock()
	blocks := s.blocks
	s.mu.RUnlock()

	if blocks != nil {
		if blocks.IsServiceBlocked(serviceID) || blocks.IsDestinationBlocked(destination) {
			if blocks.HasBypass(serviceID, destination) {
				return EgressDenyWithBypass
			}
			return EgressDeny
		}
	}

	if allowlist.allows(destination) {
		return EgressAllow
	}
	return EgressDeny
}
