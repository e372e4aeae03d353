package ratelimit

import (
	"strings"
	"time"
)

// Limits are the fixed per-caller ceilings, in requests per window.
type Limits struct {
	Principal int64
	Address   int64
	Window    time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.Principal <= 0 {
		l.Principal = DefaultPrincipalLimit
	}
	if l.Address <= 0 {
		l.Address = DefaultAddressLimit
	}
	if l.Window <= 0 {
		l.Window = DefaultWindow
	}
	return l
}

// Controller decides admission across the tenant, caller and global tiers.
type Controller struct {
	buckets  Consumer
	registry *Registry
	global   *GlobalLimiter
	limits   Limits
}

// NewController wires a controller. global may be nil.
func NewController(buckets Consumer, registry *Registry, global *GlobalLimiter, limits Limits) *Controller {
	return &Controller{
		buckets:  buckets,
		registry: registry,
		global:   global,
		limits:   limits.withDefaults(),
	}
}

// Admit evaluates, in order: tenant (when a tenant is named), then principal
// or client address, then global. Every evaluated tier must pass; the first
// exhausted one rejects and later tiers are not charged.
func (c *Controller) Admit(s Subject) Outcome {
	if tenant := strings.TrimSpace(s.TenantID); tenant != "" {
		key := TierKey{Kind: TierTenant, ID: tenant}
		if !c.buckets.Consume(key, c.registry.Limit(tenant)) {
			return c.reject(key)
		}
	}

	key, limit := c.callerKey(s)
	if !c.buckets.Consume(key, limit) {
		return c.reject(key)
	}

	if !c.global.Allow() {
		return c.reject(TierKey{Kind: TierGlobal, ID: GlobalID})
	}
	return Outcome{Admitted: true}
}

func (c *Controller) callerKey(s Subject) (TierKey, int64) {
	if p := strings.TrimSpace(s.PrincipalID); p != "" {
		return TierKey{Kind: TierPrincipal, ID: p}, c.limits.Principal
	}
	addr := strings.TrimSpace(s.ClientAddress)
	if addr == "" {
		addr = UnknownAddress
	}
	return TierKey{Kind: TierAddress, ID: addr}, c.limits.Address
}

func (c *Controller) reject(key TierKey) Outcome {
	return Outcome{
		Admitted:          false,
		RejectedBy:        key.Kind,
		Key:               key,
		RetryAfterSeconds: c.RetryAfterSeconds(),
	}
}

// RetryAfterSeconds is the advertised retry interval: one full window,
// regardless of how soon the bucket actually refills.
func (c *Controller) RetryAfterSeconds() int {
	secs := int(c.limits.Window / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
