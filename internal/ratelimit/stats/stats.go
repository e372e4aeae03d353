// Package stats records admission decisions for later inspection.
//
// Recording is best-effort: a failing or slow sink must never change or delay
// an admission decision. Sinks that do I/O are wrapped in Async.
package stats

import (
	"context"
	"time"
)

// Event is one admission decision.
type Event struct {
	Allowed bool
	Tier    string // rejecting tier label, empty when allowed
	Key     string // rejecting bucket id, empty when allowed
	Method  string
	Path    string
	At      time.Time
}

type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
