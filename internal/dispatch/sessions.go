package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// SubagentMarker appears in titles of sessions spawned by another session.
	SubagentMarker = "subagent"
	// ModalPromptMarker prefixes titles of sessions created by modal prompts.
	ModalPromptMarker = "modal-prompt:"
)

// Session is one conversation known to the agent service.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Directory string `json:"directory"`
	ParentID  string `json:"parentID,omitempty"`
}

// ListSessions returns every session the agent service reports.
func (d *Dispatcher) ListSessions(ctx context.Context) ([]Session, error) {
	resp, err := d.get(ctx, "/session")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dispatch: read sessions: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("dispatch: list sessions: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return decodeSessions(data)
}

// Sessions returns the sessions the UI should offer: top-level sessions
// in this application's directory, excluding subagent and modal sessions.
func (d *Dispatcher) Sessions(ctx context.Context) ([]Session, error) {
	all, err := d.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	return FilterSessions(all, d.directory), nil
}

// FilterSessions applies the session view filter for dir.
func FilterSessions(sessions []Session, dir string) []Session {
	out := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if s.Directory != dir || s.ParentID != "" {
			continue
		}
		if strings.Contains(s.Title, SubagentMarker) || strings.HasPrefix(s.Title, ModalPromptMarker) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// decodeSessions accepts {"sessions": [...]} or a bare array.
func decodeSessions(data []byte) ([]Session, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []Session
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("dispatch: decode sessions: %w", err)
		}
		return list, nil
	}
	var wrapped struct {
		Sessions []Session `json:"sessions"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("dispatch: decode sessions: %w", err)
	}
	return wrapped.Sessions, nil
}

// Health reports whether the agent service answers its session endpoint.
func (d *Dispatcher) Health(ctx context.Context) error {
	resp, err := d.get(ctx, "/session")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("dispatch: health: status %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) get(ctx context.Context, path string) (*http.Response, error) {
	if d.baseURL == "" {
		return nil, fmt.Errorf("dispatch: base URL is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("dispatch: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch: GET %s: %w", path, err)
	}
	return resp, nil
}
