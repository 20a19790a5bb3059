package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roadmap-manager/roadmap/internal/dedup"
)

type emitted struct {
	name    string
	payload any
}

type recordingSink struct {
	mu     sync.Mutex
	events []emitted
}

func (s *recordingSink) Emit(name string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, emitted{name, payload})
	return nil
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		out = append(out, e.name)
	}
	return out
}

func newTestRelay(t *testing.T, url string, sink Sink, reg *dedup.Registry) *Relay {
	t.Helper()
	r, err := New(Opts{BaseURL: url, Timeout: 5 * time.Second, Sink: sink, Registry: reg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func sseHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		// Write in small pieces to exercise chunk reassembly.
		for i := 0; i < len(body); i += 7 {
			end := min(i+7, len(body))
			fmt.Fprint(w, body[i:end])
			w.(http.Flusher).Flush()
		}
	}
}

func TestStream_DedupAndDone(t *testing.T) {
	body := "data: {\"type\":\"a\",\"id\":\"1\"}\n\ndata: {\"type\":\"a\",\"id\":\"1\"}\n\ndata: {\"type\":\"b\"}\n\n"
	srv := httptest.NewServer(sseHandler(body))
	defer srv.Close()

	sink := &recordingSink{}
	r := newTestRelay(t, srv.URL, sink, nil)

	res, err := r.Stream(context.Background(), "navigate", Request{Prompt: "next step"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if res.Accepted != 2 || res.Dropped != 1 {
		t.Errorf("result = %+v, want 2 accepted / 1 dropped", res)
	}

	want := []string{"navigate-event", "navigate-event", "navigate-done"}
	got := sink.names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", got, want)
	}
	first := sink.events[0].payload.(map[string]any)
	second := sink.events[1].payload.(map[string]any)
	if first["type"] != "a" || second["type"] != "b" {
		t.Errorf("payload order = %v, %v", first, second)
	}
	if sink.events[2].payload != nil {
		t.Errorf("done payload = %v, want nil", sink.events[2].payload)
	}
}

func TestStream_Status500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer srv.Close()

	sink := &recordingSink{}
	r := newTestRelay(t, srv.URL, sink, nil)

	_, err := r.Stream(context.Background(), "modal-prompt", Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %q, want to contain boom", err.Error())
	}
	if !errors.Is(err, ErrStatus) {
		t.Error("error does not match ErrStatus")
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 500 {
		t.Errorf("StatusError = %+v", se)
	}
	if got := sink.names(); len(got) != 1 || got[0] != "modal-prompt-done" {
		t.Errorf("events = %v, want only modal-prompt-done", got)
	}
}

func TestStream_RequestShape(t *testing.T) {
	var (
		gotPath   string
		gotMethod string
		gotCT     string
		gotBody   map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod, gotCT = r.URL.Path, r.Method, r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := newTestRelay(t, srv.URL+"/", &recordingSink{}, nil)
	_, err := r.Stream(context.Background(), "navigate", Request{
		Prompt:    "plan",
		SessionID: "ses_1",
		Model:     &Model{ProviderID: "opencode", ModelID: "big-pickle"},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/navigate" {
		t.Errorf("request = %s %s, want POST /api/navigate", gotMethod, gotPath)
	}
	if gotCT != "application/json" {
		t.Errorf("Content-Type = %q", gotCT)
	}
	if gotBody["prompt"] != "plan" || gotBody["sessionId"] != "ses_1" {
		t.Errorf("body = %v", gotBody)
	}
	model, _ := gotBody["model"].(map[string]any)
	if model["providerID"] != "opencode" || model["modelID"] != "big-pickle" {
		t.Errorf("model = %v", model)
	}
}

func TestStream_OmitsOptionalFields(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		raw = string(data)
	}))
	defer srv.Close()

	r := newTestRelay(t, srv.URL, &recordingSink{}, nil)
	if _, err := r.Stream(context.Background(), "navigate", Request{Prompt: "p"}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(raw, "sessionId") || strings.Contains(raw, "model") {
		t.Errorf("body %s should omit empty optional fields", raw)
	}
}

func TestStream_InvalidRequestStillDone(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	sink := &recordingSink{}
	r := newTestRelay(t, srv.URL, sink, nil)

	tests := []Request{
		{Prompt: "   "},
		{Prompt: "x", Model: &Model{ProviderID: "opencode"}},
	}
	for _, req := range tests {
		_, err := r.Stream(context.Background(), "navigate", req)
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Stream(%+v) err = %v, want ErrInvalidRequest", req, err)
		}
	}
	if called {
		t.Error("invalid request reached the service")
	}
	if got := sink.names(); len(got) != 2 || got[0] != "navigate-done" {
		t.Errorf("events = %v, want two done signals", got)
	}
}

func TestStream_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sink := &recordingSink{}
	r := newTestRelay(t, url, sink, nil)
	_, err := r.Stream(context.Background(), "navigate", Request{Prompt: "x"})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if errors.Is(err, ErrStatus) {
		t.Error("transport failure reported as status error")
	}
	if got := sink.names(); len(got) != 1 || got[0] != "navigate-done" {
		t.Errorf("events = %v, want navigate-done only", got)
	}
}

func TestStream_AbortMidStreamKeepsDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: {\"type\":\"a\",\"id\":\"1\"}\n\ndata: {\"type\":\"b\"")
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	sink := &recordingSink{}
	r := newTestRelay(t, srv.URL, sink, nil)
	res, err := r.Stream(context.Background(), "navigate", Request{Prompt: "x"})
	if err == nil {
		t.Fatal("expected stream error after abort")
	}
	if res.Accepted != 1 {
		t.Errorf("Accepted = %d, want 1", res.Accepted)
	}
	want := []string{"navigate-event", "navigate-done"}
	if got := sink.names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestStream_ConversationScopeAcrossCalls(t *testing.T) {
	body := "data: {\"type\":\"a\",\"id\":\"1\"}\n\ndata: {\"type\":\"a\",\"id\":\"2\"}\n\n"
	srv := httptest.NewServer(sseHandler(body))
	defer srv.Close()

	reg, err := dedup.NewRegistry(dedup.ScopeConversation, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	sink := &recordingSink{}
	r := newTestRelay(t, srv.URL, sink, reg)

	res1, err := r.Stream(context.Background(), "navigate", Request{Prompt: "x", SessionID: "ses_1"})
	if err != nil {
		t.Fatal(err)
	}
	res2, err := r.Stream(context.Background(), "navigate", Request{Prompt: "x", SessionID: "ses_1"})
	if err != nil {
		t.Fatal(err)
	}
	if res1.Accepted != 2 || res2.Accepted != 0 || res2.Dropped != 2 {
		t.Errorf("results = %+v / %+v, want second call fully deduplicated", res1, res2)
	}
}

func TestStream_ConcurrentCallsSharedScope(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, "data: {\"type\":\"a\",\"id\":\"%d\"}\n\n", i)
	}
	srv := httptest.NewServer(sseHandler(b.String()))
	defer srv.Close()

	reg, _ := dedup.NewRegistry(dedup.ScopeConversation, time.Second)
	sink := &recordingSink{}
	r := newTestRelay(t, srv.URL, sink, reg)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Stream(context.Background(), "navigate", Request{Prompt: "x", SessionID: "shared"}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	events := 0
	for _, n := range sink.names() {
		if n == "navigate-event" {
			events++
		}
	}
	if events != 50 {
		t.Errorf("delivered %d events, want each of 50 exactly once", events)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{Sink: &recordingSink{}}); err == nil {
		t.Error("expected error for missing base URL")
	}
	if _, err := New(Opts{BaseURL: "http://x"}); err == nil {
		t.Error("expected error for missing sink")
	}
}

func TestSinkFunc(t *testing.T) {
	var got string
	s := SinkFunc(func(name string, payload any) error {
		got = name
		return nil
	})
	s.Emit("x-done", nil)
	if got != "x-done" {
		t.Errorf("got %q", got)
	}
}
