// Package relay streams agent service responses to the UI.
//
// A relay call issues one POST to /api/<operation>, decodes the SSE body,
// drops retransmitted events and emits each survivor to a Sink as
// "<operation>-event". "<operation>-done" is always emitted last, whether
// the call succeeded or not; callers tell success from failure by the
// returned error, never by the done signal.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/roadmap-manager/roadmap/internal/dedup"
	"github.com/roadmap-manager/roadmap/internal/sse"
)

// DefaultTimeout bounds a whole relay call, including the streamed body.
const DefaultTimeout = 10 * time.Minute

// maxErrorBody caps how much of a non-success response is read.
const maxErrorBody = 64 * 1024

// ErrStatus marks a non-success HTTP status from the agent service.
var ErrStatus = errors.New("relay: unexpected status")

// ErrInvalidRequest marks a request rejected before it was sent.
var ErrInvalidRequest = errors.New("relay: invalid request")

// Model selects a provider and model for one prompt.
type Model struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// Request is the outbound call body. It is not modified after creation.
type Request struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"sessionId,omitempty"`
	Model     *Model `json:"model,omitempty"`
}

// Validate checks the request before it is sent.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if r.Model != nil && (r.Model.ProviderID == "" || r.Model.ModelID == "") {
		return fmt.Errorf("%w: model needs both providerID and modelID", ErrInvalidRequest)
	}
	return nil
}

// StatusError is a non-success response. Body holds the response text.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		body = http.StatusText(e.Code)
	}
	return fmt.Sprintf("agent service returned %d: %s", e.Code, body)
}

// Is reports ErrStatus.
func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// Sink receives named UI events.
type Sink interface {
	Emit(name string, payload any) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(name string, payload any) error

// Emit calls f.
func (f SinkFunc) Emit(name string, payload any) error { return f(name, payload) }

// EventName returns the per-event UI name for operation.
func EventName(operation string) string { return operation + "-event" }

// DoneName returns the terminal UI name for operation.
func DoneName(operation string) string { return operation + "-done" }

// Result summarises one relay call.
type Result struct {
	Accepted int
	Dropped  int
}

// Opts configures a Relay.
type Opts struct {
	BaseURL  string // e.g. http://127.0.0.1:51432
	Timeout  time.Duration
	Client   *http.Client // Timeout is applied when Client is nil
	Sink     Sink
	Registry *dedup.Registry // defaults to call scope
}

// Relay drives relay calls against one agent service.
type Relay struct {
	baseURL  string
	client   *http.Client
	sink     Sink
	registry *dedup.Registry
}

// New creates a Relay.
func New(opts Opts) (*Relay, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("relay: base URL is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("relay: sink is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	registry := opts.Registry
	if registry == nil {
		registry, _ = dedup.NewRegistry(dedup.ScopeCall, 0)
	}
	return &Relay{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		client:   client,
		sink:     opts.Sink,
		registry: registry,
	}, nil
}

// Stream performs one relay call for operation. Events already emitted are
// never retracted when the stream later fails.
func (r *Relay) Stream(ctx context.Context, operation string, req Request) (res Result, err error) {
	defer r.emit(DoneName(operation), nil)

	if err := req.Validate(); err != nil {
		return res, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return res, fmt.Errorf("relay: encode request: %w", err)
	}

	url := r.baseURL + "/api/" + operation
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return res, fmt.Errorf("relay: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return res, fmt.Errorf("relay: %s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return res, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}

	session := r.registry.Session(req.SessionID)
	eventName := EventName(operation)
	err = sse.Scan(resp.Body, func(v sse.Value) error {
		_, ok, err := session.Observe(ctx, v)
		if err != nil {
			return err
		}
		if !ok {
			res.Dropped++
			return nil
		}
		res.Accepted++
		r.emit(eventName, v)
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("relay: %s stream: %w", operation, err)
	}
	return res, nil
}

func (r *Relay) emit(name string, payload any) {
	if err := r.sink.Emit(name, payload); err != nil {
		log.Printf("relay: emit %s: %v", name, err)
	}
}
