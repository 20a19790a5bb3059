// Package dedup filters retransmitted stream events.
//
// Every event gets an identity: its explicit "id" field when present,
// otherwise "<type>-<session>-<ordinal>" where the ordinal counts every
// event the Session has observed so far. A Session accepts each identity
// once.
//
// How long a Session lives is a Registry policy. ScopeCall builds a fresh
// Session per relay call, so ordinals restart at zero and no locking is
// needed. ScopeConversation reuses one Session per conversation id across
// calls, so ordinals keep counting and the seen set is guarded because
// concurrent calls may share it.
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Scope selects the lifetime of a Session.
type Scope string

const (
	ScopeCall         Scope = "call"
	ScopeConversation Scope = "conversation"
)

// ErrLockTimeout is returned when a shared set's guard cannot be acquired.
var ErrLockTimeout = errors.New("dedup: lock not acquired")

// Set records observed identities.
type Set interface {
	// Observe reports whether id is new, recording it if so. The check and
	// the insert are one atomic step.
	Observe(ctx context.Context, id string) (bool, error)
	Len() int
}

// LocalSet is an unguarded Set owned by a single call.
type LocalSet struct {
	seen map[string]struct{}
}

// NewLocalSet returns an empty LocalSet.
func NewLocalSet() *LocalSet {
	return &LocalSet{seen: make(map[string]struct{})}
}

// Observe implements Set.
func (s *LocalSet) Observe(_ context.Context, id string) (bool, error) {
	if _, ok := s.seen[id]; ok {
		return false, nil
	}
	s.seen[id] = struct{}{}
	return true, nil
}

// Len returns the number of identities seen.
func (s *LocalSet) Len() int { return len(s.seen) }

// SharedSet is a Set safe for concurrent calls. Its guard is a one-slot
// semaphore so acquisition can give up after a timeout or on ctx.
type SharedSet struct {
	sem         chan struct{}
	lockTimeout time.Duration
	seen        map[string]struct{}
}

// NewSharedSet returns an empty SharedSet. A non-positive lockTimeout waits
// only on ctx.
func NewSharedSet(lockTimeout time.Duration) *SharedSet {
	return &SharedSet{
		sem:         make(chan struct{}, 1),
		lockTimeout: lockTimeout,
		seen:        make(map[string]struct{}),
	}
}

// Observe implements Set.
func (s *SharedSet) Observe(ctx context.Context, id string) (bool, error) {
	if err := s.lock(ctx); err != nil {
		return false, err
	}
	defer s.unlock()

	if _, ok := s.seen[id]; ok {
		return false, nil
	}
	s.seen[id] = struct{}{}
	return true, nil
}

// Len returns the number of identities seen.
func (s *SharedSet) Len() int {
	if err := s.lock(context.Background()); err != nil {
		return -1
	}
	defer s.unlock()
	return len(s.seen)
}

func (s *SharedSet) lock(ctx context.Context) error {
	var timeout <-chan time.Time
	if s.lockTimeout > 0 {
		t := time.NewTimer(s.lockTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-timeout:
		return fmt.Errorf("%w after %s", ErrLockTimeout, s.lockTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
	}
}

func (s *SharedSet) unlock() { <-s.sem }

// Event is an observed stream event with its dedup identity.
type Event struct {
	Kind        string
	ID          string
	Synthesized bool // ID was derived from kind, session and ordinal
	Ordinal     int64
	Payload     map[string]any
}

// Session tracks identities for one logical session.
type Session struct {
	id      string
	seen    Set
	ordinal atomic.Int64
}

// NewSession returns a Session keyed by sessionID (may be empty).
func NewSession(sessionID string, seen Set) *Session {
	return &Session{id: sessionID, seen: seen}
}

// ID returns the session id the Session was created with.
func (s *Session) ID() string { return s.id }

// Observed returns how many events have passed through Observe.
func (s *Session) Observed() int64 { return s.ordinal.Load() }

// Observe assigns payload its identity and reports whether it is the first
// occurrence. The ordinal advances for every event, duplicates included.
func (s *Session) Observe(ctx context.Context, payload map[string]any) (Event, bool, error) {
	evt := Event{
		Kind:    stringField(payload["type"]),
		Ordinal: s.ordinal.Add(1) - 1,
		Payload: payload,
	}
	evt.ID = stringField(payload["id"])
	if evt.ID == "" {
		evt.ID = FallbackID(evt.Kind, s.id, evt.Ordinal)
		evt.Synthesized = true
	}

	ok, err := s.seen.Observe(ctx, evt.ID)
	if err != nil {
		return evt, false, err
	}
	return evt, ok, nil
}

// FallbackID builds the identity for an event without an explicit id.
func FallbackID(kind, sessionID string, ordinal int64) string {
	return kind + "-" + sessionID + "-" + strconv.FormatInt(ordinal, 10)
}

func stringField(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

// DefaultSessionLimit caps the conversation Sessions a Registry retains.
const DefaultSessionLimit = 1024

// Registry hands out Sessions according to a Scope. In conversation scope
// it keeps at most a fixed number of Sessions and forgets the least
// recently used one when a new conversation would exceed the limit.
type Registry struct {
	scope       Scope
	lockTimeout time.Duration

	mu       sync.Mutex
	limit    int
	tick     uint64
	sessions map[string]*entry
}

type entry struct {
	session *Session
	used    uint64
}

// NewRegistry validates scope and returns a Registry.
func NewRegistry(scope Scope, lockTimeout time.Duration) (*Registry, error) {
	switch scope {
	case ScopeCall, ScopeConversation:
	case "":
		scope = ScopeCall
	default:
		return nil, fmt.Errorf("dedup: unknown scope %q", scope)
	}
	return &Registry{
		scope:       scope,
		lockTimeout: lockTimeout,
		limit:       DefaultSessionLimit,
		sessions:    make(map[string]*entry),
	}, nil
}

// Scope returns the registry policy.
func (r *Registry) Scope() Scope { return r.scope }

// SetLimit changes how many conversation Sessions are retained. Values
// below one are ignored.
func (r *Registry) SetLimit(n int) {
	if n < 1 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limit = n
	for len(r.sessions) > r.limit {
		r.evictLocked()
	}
}

// Session returns the Session a relay call for sessionID should use. Calls
// without a session id never share state, whatever the scope.
func (r *Registry) Session(sessionID string) *Session {
	if r.scope == ScopeCall || sessionID == "" {
		return NewSession(sessionID, NewLocalSet())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tick++
	e, ok := r.sessions[sessionID]
	if !ok {
		if len(r.sessions) >= r.limit {
			r.evictLocked()
		}
		e = &entry{session: NewSession(sessionID, NewSharedSet(r.lockTimeout))}
		r.sessions[sessionID] = e
	}
	e.used = r.tick
	return e.session
}

func (r *Registry) evictLocked() {
	var (
		oldest string
		least  uint64
	)
	for id, e := range r.sessions {
		if oldest == "" || e.used < least {
			oldest, least = id, e.used
		}
	}
	delete(r.sessions, oldest)
}

// Forget drops the conversation Session for sessionID.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// Len returns the number of retained conversation Sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
