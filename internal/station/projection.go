package station

import (
	"sync"
	"time"
)

// Projected attributes.
const (
	attrVolume  = "volume"
	attrPlaying = "playing"
)

type mark struct {
	value any
	at    time.Time
}

// Projection suppresses stale echoes of recently commanded values.
//
// Mark records the commanded value of an attribute at send time. Until
// the speaker reports a converging value, or the grace period elapses,
// Accept rejects competing reports for that attribute. Either outcome
// clears the mark and later reports pass unconditionally.
type Projection struct {
	grace time.Duration
	now   func() time.Time

	mu    sync.Mutex
	marks map[string]mark
}

// NewProjection creates a Projection with the given grace period.
func NewProjection(grace time.Duration) *Projection {
	return &Projection{
		grace: grace,
		now:   time.Now,
		marks: make(map[string]mark),
	}
}

// Mark records value as just commanded for attr.
func (p *Projection) Mark(attr string, value any) {
	p.mu.Lock()
	p.marks[attr] = mark{value: value, at: p.now()}
	p.mu.Unlock()
}

// Clear drops the mark on attr.
func (p *Projection) Clear(attr string) {
	p.mu.Lock()
	delete(p.marks, attr)
	p.mu.Unlock()
}

// Pending reports whether attr is currently marked.
func (p *Projection) Pending(attr string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.marks[attr]
	return ok
}

// Accept reports whether a reported value for attr may be written to the
// observed state.
func (p *Projection) Accept(attr string, reported any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.marks[attr]
	if !ok {
		return true
	}
	if converged(m.value, reported) || p.now().Sub(m.at) >= p.grace {
		delete(p.marks, attr)
		return true
	}
	return false
}

func converged(commanded, reported any) bool {
	if a, ok := commanded.(float64); ok {
		b, ok := reported.(float64)
		return ok && sameVolume(a, b)
	}
	return commanded == reported
}
