// Package attendance tracks which identities were marked present in this session
// and delivers attendance records to the remote attendance API.
package attendance

import (
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State of an identity within a session.
type State int

const (
	NeverSeen State = iota
	Seen            // recognized, delivery not yet confirmed
	Marked          // delivery confirmed; terminal for the session
)

func (s State) String() string {
	switch s {
	case NeverSeen:
		return "never_seen"
	case Seen:
		return "seen"
	case Marked:
		return "marked"
	default:
		return "invalid"
	}
}

// Status is a snapshot of one tracked identity.
type Status struct {
	Identity  string    `json:"identity"`
	State     string    `json:"state"`
	Attempts  int       `json:"attempts"`
	FirstSeen time.Time `json:"first_seen"`
	MarkedAt  time.Time `json:"marked_at,omitzero"`
	RetryAt   time.Time `json:"retry_at,omitzero"`
}

type identityState struct {
	state     State
	inFlight  bool
	attempts  int
	firstSeen time.Time
	markedAt  time.Time
	retryAt   time.Time
	backoff   *backoff.ExponentialBackOff
}

// Tracker holds per-identity session state. All methods are safe for concurrent use.
type Tracker struct {
	mu              sync.Mutex
	identities      map[string]*identityState
	initialInterval time.Duration
	maxInterval     time.Duration
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithRetryBackoff sets the exponential wait between delivery attempts for one
// identity. A non-positive initial interval allows a retry on the very next frame.
func WithRetryBackoff(initial, maxInterval time.Duration) TrackerOption {
	return func(t *Tracker) {
		t.initialInterval = initial
		t.maxInterval = maxInterval
	}
}

// NewTracker creates an empty session.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{identities: make(map[string]*identityState)}
	for _, opt := range opts {
		opt(t)
	}
	if t.maxInterval < t.initialInterval {
		t.maxInterval = t.initialInterval
	}
	return t
}

// Begin records a sighting and reports whether the caller should deliver a record
// now. It returns true only when the identity is not marked, no delivery is in
// flight and any retry wait has passed; the identity is then in flight until
// Complete or Fail is called.
func (t *Tracker) Begin(identity string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.identities[identity]
	if !ok {
		s = &identityState{state: Seen, firstSeen: now}
		t.identities[identity] = s
	}
	if s.state == Marked || s.inFlight {
		return false
	}
	if !s.retryAt.IsZero() && now.Before(s.retryAt) {
		return false
	}
	s.inFlight = true
	s.attempts++
	return true
}

// Complete marks identity present after a successful delivery.
func (t *Tracker) Complete(identity string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.get(identity, now)
	s.state = Marked
	s.inFlight = false
	s.markedAt = now
	s.retryAt = time.Time{}
	s.backoff = nil
}

// Fail releases an in-flight delivery and schedules the next attempt. It returns the
// earliest time Begin will allow a retry.
func (t *Tracker) Fail(identity string, now time.Time) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.get(identity, now)
	s.inFlight = false
	if s.state == Marked {
		return time.Time{}
	}
	if t.initialInterval <= 0 {
		s.retryAt = now
		return now
	}
	if s.backoff == nil {
		s.backoff = t.newBackoff()
	}
	s.retryAt = now.Add(s.backoff.NextBackOff())
	return s.retryAt
}

func (t *Tracker) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.initialInterval
	b.MaxInterval = t.maxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// get must be called with mu held.
func (t *Tracker) get(identity string, now time.Time) *identityState {
	s, ok := t.identities[identity]
	if !ok {
		s = &identityState{state: Seen, firstSeen: now}
		t.identities[identity] = s
	}
	return s
}

// State returns the session state of identity.
func (t *Tracker) State(identity string) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.identities[identity]; ok {
		return s.state
	}
	return NeverSeen
}

// Marked returns the marked identities in the order they were marked.
func (t *Tracker) Marked() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	type marked struct {
		identity string
		at       time.Time
	}
	var list []marked
	for id, s := range t.identities {
		if s.state == Marked {
			list = append(list, marked{id, s.markedAt})
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].at.Equal(list[j].at) {
			return list[i].identity < list[j].identity
		}
		return list[i].at.Before(list[j].at)
	})

	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.identity
	}
	return out
}

// MarkedCount returns the number of marked identities.
func (t *Tracker) MarkedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, s := range t.identities {
		if s.state == Marked {
			n++
		}
	}
	return n
}

// Snapshot returns every tracked identity sorted by name.
func (t *Tracker) Snapshot() []Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Status, 0, len(t.identities))
	for id, s := range t.identities {
		out = append(out, Status{
			Identity:  id,
			State:     s.state.String(),
			Attempts:  s.attempts,
			FirstSeen: s.firstSeen,
			MarkedAt:  s.markedAt,
			RetryAt:   s.retryAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}
