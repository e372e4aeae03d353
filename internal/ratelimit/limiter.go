package ratelimit

import "time"

// TierKind is one independent axis of admission control.
type TierKind int

const (
	TierTenant TierKind = iota + 1
	TierPrincipal
	TierAddress
	TierGlobal
)

// String returns the label sent in X-RateLimit-Type.
func (k TierKind) String() string {
	switch k {
	case TierTenant:
		return "store"
	case TierPrincipal:
		return "user"
	case TierAddress:
		return "ip"
	case TierGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// TierKey identifies one bucket.
type TierKey struct {
	Kind TierKind
	ID   string
}

func (k TierKey) String() string { return k.Kind.String() + ":" + k.ID }

const (
	// UnknownAddress keys the address tier when no client address resolves.
	UnknownAddress = "unknown"
	// GlobalID keys the single global bucket.
	GlobalID = "*"

	DefaultWindow         = time.Minute
	DefaultTenantLimit    = 5000
	DefaultPrincipalLimit = 100
	DefaultAddressLimit   = 1000
)

// Consumer takes one token from the bucket for key, creating or replacing
// it when limit differs from the limit the bucket was built with.
type Consumer interface {
	Consume(key TierKey, limit int64) bool
}

// Subject is the part of a request admission is decided on.
type Subject struct {
	TenantID      string
	PrincipalID   string
	ClientAddress string
}

// Outcome is the result of one admission decision.
type Outcome struct {
	Admitted          bool
	RejectedBy        TierKind // zero when admitted
	Key               TierKey  // bucket that rejected
	RetryAfterSeconds int
}
