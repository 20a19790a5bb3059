// Package dispatch exposes the user-facing operations of the application.
//
// Navigate and ModalPrompt differ only in the endpoint and event prefix they
// use. Both hand the request to the relay and turn any failure into an
// *OpError whose message is safe to show the user. Nothing serialises two
// calls against each other; with the conversation dedup scope they share
// state and rely on its lock.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/roadmap-manager/roadmap/internal/config"
	"github.com/roadmap-manager/roadmap/internal/dedup"
	"github.com/roadmap-manager/roadmap/internal/relay"
)

const (
	OpNavigate    = "navigate"
	OpModalPrompt = "modal-prompt"
)

// defaultQueryTimeout bounds non-streaming calls such as session listing.
const defaultQueryTimeout = 5 * time.Second

// OpError is a failed operation. Message is the single string shown to the user.
type OpError struct {
	Op      string
	Message string
	Err     error
}

func (e *OpError) Error() string { return e.Message }

func (e *OpError) Unwrap() error { return e.Err }

// Streamer performs relay calls. *relay.Relay satisfies it.
type Streamer interface {
	Stream(ctx context.Context, operation string, req relay.Request) (relay.Result, error)
}

// Recorder stores operation metadata. *db.History satisfies it.
type Recorder interface {
	BeginOperation(operation, sessionID, prompt string) (string, error)
	FinishOperation(id string, accepted, dropped int, err error) error
}

// Opts configures a Dispatcher.
type Opts struct {
	Relay     Streamer
	BaseURL   string       // agent service root, used for session queries
	Client    *http.Client // used for session queries; defaults to a 5s timeout
	Directory string       // sessions outside this directory are hidden
	Models    []config.ModelConfig
	Recorder  Recorder // optional
}

// Dispatcher runs operations against the agent service.
type Dispatcher struct {
	relay     Streamer
	baseURL   string
	client    *http.Client
	directory string
	models    []config.ModelConfig
	recorder  Recorder
}

// New creates a Dispatcher.
func New(opts Opts) (*Dispatcher, error) {
	if opts.Relay == nil {
		return nil, fmt.Errorf("dispatch: relay is required")
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: defaultQueryTimeout}
	}
	return &Dispatcher{
		relay:     opts.Relay,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		client:    client,
		directory: opts.Directory,
		models:    append([]config.ModelConfig(nil), opts.Models...),
		recorder:  opts.Recorder,
	}, nil
}

// Navigate sends a prompt to the navigate endpoint.
func (d *Dispatcher) Navigate(ctx context.Context, prompt, sessionID string, model *relay.Model) error {
	return d.run(ctx, OpNavigate, prompt, sessionID, model)
}

// ModalPrompt sends a prompt to the modal-prompt endpoint.
func (d *Dispatcher) ModalPrompt(ctx context.Context, prompt, sessionID string, model *relay.Model) error {
	return d.run(ctx, OpModalPrompt, prompt, sessionID, model)
}

func (d *Dispatcher) run(ctx context.Context, op, prompt, sessionID string, model *relay.Model) error {
	req := relay.Request{Prompt: prompt, SessionID: sessionID, Model: model}

	runID := d.begin(op, sessionID, prompt)
	res, err := d.relay.Stream(ctx, op, req)
	d.finish(runID, res, err)

	if err != nil {
		return &OpError{Op: op, Message: userMessage(err), Err: err}
	}
	return nil
}

func (d *Dispatcher) begin(op, sessionID, prompt string) string {
	if d.recorder == nil {
		return ""
	}
	id, err := d.recorder.BeginOperation(op, sessionID, prompt)
	if err != nil {
		log.Printf("dispatch: record %s: %v", op, err)
		return ""
	}
	return id
}

func (d *Dispatcher) finish(runID string, res relay.Result, opErr error) {
	if d.recorder == nil || runID == "" {
		return
	}
	if err := d.recorder.FinishOperation(runID, res.Accepted, res.Dropped, opErr); err != nil {
		log.Printf("dispatch: finish run %s: %v", runID, err)
	}
}

// userMessage maps relay failures to text for the UI.
func userMessage(err error) string {
	var statusErr *relay.StatusError
	switch {
	case errors.As(err, &statusErr):
		return statusErr.Error()
	case errors.Is(err, relay.ErrInvalidRequest):
		return strings.TrimPrefix(err.Error(), relay.ErrInvalidRequest.Error()+": ")
	case errors.Is(err, dedup.ErrLockTimeout):
		return "another operation is still streaming for this session"
	case errors.Is(err, context.Canceled):
		return fmt.Sprintf("operation cancelled: %v", err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("agent service did not finish in time: %v", err)
	default:
		return fmt.Sprintf("agent service request failed: %v", err)
	}
}

// Models returns the configured model catalog.
func (d *Dispatcher) Models() []config.ModelConfig {
	return append([]config.ModelConfig(nil), d.models...)
}

// ParseModel parses "provider/model". An empty string selects no model.
func ParseModel(s string) (*relay.Model, error) {
	if s == "" {
		return nil, nil
	}
	provider, model, ok := strings.Cut(s, "/")
	if !ok || provider == "" || model == "" {
		return nil, fmt.Errorf("dispatch: model %q must be provider/model", s)
	}
	return &relay.Model{ProviderID: provider, ModelID: model}, nil
}
