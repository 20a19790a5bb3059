package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func ev(kind, id string) map[string]any {
	m := map[string]any{"type": kind}
	if id != "" {
		m["id"] = id
	}
	return m
}

func TestSession_RetransmitAcceptedOnce(t *testing.T) {
	s := NewSession("ses_1", NewLocalSet())
	ctx := context.Background()

	accepted := 0
	for i := 0; i < 5; i++ {
		_, ok, err := s.Observe(ctx, ev("message.part.updated", "evt-9"))
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("accepted = %d, want 1", accepted)
	}
	if s.Observed() != 5 {
		t.Errorf("Observed = %d, want 5", s.Observed())
	}
}

func TestSession_FallbackIdentity(t *testing.T) {
	s := NewSession("", NewLocalSet())
	ctx := context.Background()

	var got []Event
	var oks []bool
	for _, p := range []map[string]any{ev("a", "1"), ev("a", "1"), ev("b", "")} {
		e, ok, err := s.Observe(ctx, p)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, e)
		oks = append(oks, ok)
	}

	if !oks[0] || oks[1] || !oks[2] {
		t.Errorf("accepted = %v, want [true false true]", oks)
	}
	if got[2].ID != "b--2" || !got[2].Synthesized {
		t.Errorf("fallback = %+v, want synthesized b--2", got[2])
	}
	if got[0].Synthesized {
		t.Error("explicit id marked synthesized")
	}
}

func TestSession_FallbackIncludesSession(t *testing.T) {
	s := NewSession("ses_7", NewLocalSet())
	e, _, err := s.Observe(context.Background(), ev("text", ""))
	if err != nil {
		t.Fatal(err)
	}
	if e.ID != "text-ses_7-0" {
		t.Errorf("ID = %q, want text-ses_7-0", e.ID)
	}
}

func TestSession_DistinctEventsWithoutIDNeverCollide(t *testing.T) {
	s := NewSession("x", NewLocalSet())
	for i := 0; i < 100; i++ {
		_, ok, err := s.Observe(context.Background(), ev("delta", ""))
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("event %d dropped", i)
		}
	}
}

func TestSession_NumericID(t *testing.T) {
	s := NewSession("", NewLocalSet())
	ctx := context.Background()
	p1 := map[string]any{"type": "a", "id": json.Number("42")}
	p2 := map[string]any{"type": "a", "id": float64(42)}
	if _, ok, _ := s.Observe(ctx, p1); !ok {
		t.Fatal("first numeric id rejected")
	}
	if _, ok, _ := s.Observe(ctx, p2); ok {
		t.Error("same numeric id accepted twice")
	}
}

func TestRegistry_CallScopeResets(t *testing.T) {
	r, err := NewRegistry(ScopeCall, 0)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	s1 := r.Session("ses_1")
	s1.Observe(ctx, ev("a", "1"))
	e1, _, _ := s1.Observe(ctx, ev("b", ""))

	s2 := r.Session("ses_1")
	if s1 == s2 {
		t.Fatal("call scope reused a session")
	}
	if _, ok, _ := s2.Observe(ctx, ev("a", "1")); !ok {
		t.Error("call scope carried seen ids across calls")
	}
	e2, _, _ := s2.Observe(ctx, ev("b", ""))
	if e1.ID != e2.ID {
		t.Errorf("ordinals did not reset: %q vs %q", e1.ID, e2.ID)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0 for call scope", r.Len())
	}
}

func TestRegistry_ConversationScopeShares(t *testing.T) {
	r, err := NewRegistry(ScopeConversation, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	s1 := r.Session("ses_1")
	s1.Observe(ctx, ev("a", "1"))
	e1, _, _ := s1.Observe(ctx, ev("b", ""))

	s2 := r.Session("ses_1")
	if s1 != s2 {
		t.Fatal("conversation scope built a new session")
	}
	if _, ok, _ := s2.Observe(ctx, ev("a", "1")); ok {
		t.Error("conversation scope accepted a duplicate from an earlier call")
	}
	e2, _, _ := s2.Observe(ctx, ev("b", ""))
	if e2.Ordinal <= e1.Ordinal {
		t.Errorf("ordinal did not keep counting: %d then %d", e1.Ordinal, e2.Ordinal)
	}

	if r.Session("ses_2") == s1 {
		t.Error("different conversations share a session")
	}
	if r.Session("") == r.Session("") {
		t.Error("calls without a session id share state")
	}

	r.Forget("ses_1")
	if r.Session("ses_1") == s1 {
		t.Error("Forget did not drop the session")
	}
}

func TestRegistry_ConversationScopeEvictsLeastRecentlyUsed(t *testing.T) {
	r, err := NewRegistry(ScopeConversation, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	r.SetLimit(2)

	a := r.Session("ses_a")
	r.Session("ses_b")
	if r.Session("ses_a") != a {
		t.Fatal("ses_a not reused")
	}
	r.Session("ses_c")

	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	if r.Session("ses_a") != a {
		t.Error("recently used ses_a was evicted")
	}
	if r.Len() != 2 {
		t.Errorf("Len after reuse = %d, want 2", r.Len())
	}

	for i := 0; i < 10; i++ {
		r.Session(fmt.Sprintf("ses_%d", i))
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d, want bounded at 2", r.Len())
	}

	r.SetLimit(1)
	if r.Len() != 1 {
		t.Errorf("Len after lowering limit = %d, want 1", r.Len())
	}
}

func TestNewRegistry_UnknownScope(t *testing.T) {
	if _, err := NewRegistry("global", 0); err == nil {
		t.Fatal("expected error for unknown scope")
	}
	r, err := NewRegistry("", 0)
	if err != nil {
		t.Fatal(err)
	}
	if r.Scope() != ScopeCall {
		t.Errorf("default scope = %q, want call", r.Scope())
	}
}

func TestSharedSet_ConcurrentObserveAcceptsOnce(t *testing.T) {
	s := NewSharedSet(time.Second)
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Observe(context.Background(), "same")
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	if accepted.Load() != 1 {
		t.Errorf("accepted = %d, want 1", accepted.Load())
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestSharedSet_LockTimeout(t *testing.T) {
	s := NewSharedSet(10 * time.Millisecond)
	s.sem <- struct{}{} // hold the guard
	defer s.unlock()

	_, err := s.Observe(context.Background(), "x")
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}
}

func TestSharedSet_ContextCancelled(t *testing.T) {
	s := NewSharedSet(0)
	s.sem <- struct{}{}
	defer s.unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Observe(ctx, "x")
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}
}

func TestSession_LockErrorSurfaces(t *testing.T) {
	set := NewSharedSet(5 * time.Millisecond)
	set.sem <- struct{}{}
	defer set.unlock()

	s := NewSession("ses", set)
	_, ok, err := s.Observe(context.Background(), ev("a", "1"))
	if ok || !errors.Is(err, ErrLockTimeout) {
		t.Errorf("ok=%v err=%v, want rejected with ErrLockTimeout", ok, err)
	}
}
