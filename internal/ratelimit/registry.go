package ratelimit

import (
	"strconv"
	"sync"

	"github.com/AlexKimmel/edgeguard/internal/apperr"
)

// Registry holds per-tenant request ceilings on top of a process-wide default.
type Registry struct {
	def       int64
	overrides sync.Map // tenant id -> int64
}

// NewRegistry returns a registry whose tenants without an override get def.
// A non-positive def falls back to DefaultTenantLimit.
func NewRegistry(def int64) *Registry {
	if def <= 0 {
		def = DefaultTenantLimit
	}
	return &Registry{def: def}
}

func (r *Registry) DefaultLimit() int64 { return r.def }

// Limit returns the tenant's override, or the default.
func (r *Registry) Limit(tenantID string) int64 {
	if v, ok := r.overrides.Load(tenantID); ok {
		return v.(int64)
	}
	return r.def
}

// SetLimit installs an override, visible to the next Limit call.
func (r *Registry) SetLimit(tenantID string, limit int64) error {
	if limit <= 0 {
		return apperr.New(apperr.CodeInvalidArgument, "limit must be a positive number, got "+strconv.FormatInt(limit, 10))
	}
	r.overrides.Store(tenantID, limit)
	return nil
}

// ResetToDefault drops the tenant's override. Missing overrides are a no-op.
func (r *Registry) ResetToDefault(tenantID string) {
	r.overrides.Delete(tenantID)
}

func (r *Registry) IsCustom(tenantID string) bool {
	_, ok := r.overrides.Load(tenantID)
	return ok
}

// Overrides returns a copy of all overrides; callers may mutate it freely.
func (r *Registry) Overrides() map[string]int64 {
	out := make(map[string]int64)
	r.overrides.Range(func(k, v any) bool {
		out[k.(string)] = v.(int64)
		return true
	})
	return out
}
