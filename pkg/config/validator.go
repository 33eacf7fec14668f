package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// structValidator is process-wide: go-playground/validator's Validate is
// safe for concurrent use once built and caches struct metadata internally.
var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate performs comprehensive validation on a loaded configuration:
// struct-tag validation first (cheap, catches missing/malformed fields),
// then semantic cross-field checks, fail-fast as soon as either stage
// reports a problem.
func Validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return NewValidationError("config", err)
	}

	v := &semanticValidator{cfg: cfg}
	if err := v.validateEgress(); err != nil {
		return err
	}
	if err := v.validateCacheTTLOrdering(); err != nil {
		return err
	}
	if err := v.validateCoordinatorBounds(); err != nil {
		return err
	}
	return nil
}

type semanticValidator struct {
	cfg *Config
}

// validateEgress rejects allowlist entries that are not a bare domain or
// domain:port, catching copy-paste of a full URL (scheme/path) early
// rather than at first EvaluateEgress call.
func (v *semanticValidator) validateEgress() error {
	for _, entry := range v.cfg.Egress.Allowlist {
		if entry == "" {
			return NewValidationError("egress.allowlist", fmt.Errorf("empty entry"))
		}
		if strings.Contains(entry, "://") || strings.Contains(entry, "/") {
			return NewValidationError("egress.allowlist",
				fmt.Errorf("entry %q must be a bare domain or domain:port, not a URL", entry))
		}
	}
	return nil
}

// validateCacheTTLOrdering enforces the tiering invariant implied by
// spec.md §4.2: each tier's TTL must be at least as long as the tier below
// it, otherwise promotion could never be "never extends beyond the faster
// tier's TTL" in any meaningful sense.
func (v *semanticValidator) validateCacheTTLOrdering() error {
	l1, l2, l3 := v.cfg.Cache.L1.TTLMS, v.cfg.Cache.L2.TTLMS, v.cfg.Cache.L3.TTLMS
	if l2 < l1 {
		return NewValidationError("cache.l2.ttl_ms", fmt.Errorf("must be >= cache.l1.ttl_ms (%d < %d)", l2, l1))
	}
	if l3 < l2 {
		return NewValidationError("cache.l3.ttl_ms", fmt.Errorf("must be >= cache.l2.ttl_ms (%d < %d)", l3, l2))
	}
	return nil
}

// validateCoordinatorBounds enforces spec.md §4.3's Planner bounds are
// internally consistent (depth cannot exceed size).
func (v *semanticValidator) validateCoordinatorBounds() error {
	c := v.cfg.Coordinator
	if c.PlanDepthMax > c.PlanSizeMax {
		return NewValidationError("coordinator.plan_depth_max",
			fmt.Errorf("must be <= coordinator.plan_size_max (%d > %d)", c.PlanDepthMax, c.PlanSizeMax))
	}
	return nil
}
