// Package agentproxy implements the agent proxy (C6): it resolves a
// project's in-cluster endpoint from the metadata store and forwards chat
// traffic to it, either as a single synchronous call or as a relayed
// server-sent-event stream.
package agentproxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/agentctl/controlplane/internal/apperr"
	"github.com/agentctl/controlplane/internal/telemetry"
	"github.com/agentctl/controlplane/pkg/store"
)

// SendResult is the body returned by send_message.
type SendResult struct {
	SessionID string          `json:"session_id"`
	Result    json.RawMessage `json:"result"`
}

// Proxy forwards chat requests to a project's agent endpoint.
type Proxy struct {
	store      *store.Store
	httpClient *http.Client
}

// New builds a Proxy. The client has no overall timeout: send_message relies
// on the caller's context, and stream_message is long-lived by nature.
func New(st *store.Store, httpClient *http.Client) *Proxy {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Proxy{store: st, httpClient: httpClient}
}

func (p *Proxy) activeProjectEndpoint(ctx context.Context, projectID string) (store.Project, error) {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if project.Status != store.StatusActive {
		return store.Project{}, apperr.New(apperr.ProjectNotActive, "project is not active")
	}
	if project.Endpoint == "" {
		return store.Project{}, apperr.New(apperr.ProjectNotActive, "project has no recorded endpoint")
	}
	return project, nil
}

// SendMessage implements send_message (§4.6): POSTs to the agent's
// synchronous endpoint and returns the full response body.
func (p *Proxy) SendMessage(ctx context.Context, projectID, sessionID, content string) (SendResult, error) {
	project, err := p.activeProjectEndpoint(ctx, projectID)
	if err != nil {
		return SendResult{}, err
	}

	body, err := json.Marshal(map[string]string{"session_id": sessionID, "content": content})
	if err != nil {
		return SendResult{}, apperr.Wrap(apperr.InvalidArgument, "encoding message", err)
	}

	url := fmt.Sprintf("http://%s/sessions/%s/messages", project.Endpoint, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, apperr.Wrap(apperr.UpstreamError, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return SendResult{}, apperr.Wrap(apperr.UpstreamError, "calling agent", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return SendResult{}, apperr.Wrap(apperr.UpstreamError, "reading agent response", err)
	}
	if resp.StatusCode >= 300 {
		return SendResult{}, apperr.New(apperr.UpstreamError, fmt.Sprintf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	return SendResult{SessionID: sessionID, Result: json.RawMessage(raw)}, nil
}

// ListMessages fetches the message history for a session from the agent's
// synchronous endpoint. Not itself an §4.6 operation, but it shares the
// same active-project precondition and endpoint resolution.
func (p *Proxy) ListMessages(ctx context.Context, projectID, sessionID string) (json.RawMessage, error) {
	project, err := p.activeProjectEndpoint(ctx, projectID)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("http://%s/sessions/%s/messages", project.Endpoint, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamError, "building request", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamError, "calling agent", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamError, "reading agent response", err)
	}
	if resp.StatusCode >= 300 {
		return nil, apperr.New(apperr.UpstreamError, fmt.Sprintf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	return json.RawMessage(raw), nil
}

// CreatedSession is the agent's response to a session-creation request: the
// agent, not the control plane, mints the session_id (§3, §6).
type CreatedSession struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
}

// CreateSession implements the agent round trip behind create_session (§3):
// sessions can only be created against a running agent, which returns the
// session_id.
func (p *Proxy) CreateSession(ctx context.Context, projectID, name string) (CreatedSession, error) {
	project, err := p.activeProjectEndpoint(ctx, projectID)
	if err != nil {
		return CreatedSession{}, err
	}

	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return CreatedSession{}, apperr.Wrap(apperr.InvalidArgument, "encoding session request", err)
	}

	url := fmt.Sprintf("http://%s/sessions", project.Endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return CreatedSession{}, apperr.Wrap(apperr.UpstreamError, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return CreatedSession{}, apperr.Wrap(apperr.UpstreamError, "calling agent", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return CreatedSession{}, apperr.Wrap(apperr.UpstreamError, "reading agent response", err)
	}
	if resp.StatusCode >= 300 {
		return CreatedSession{}, apperr.New(apperr.UpstreamError, fmt.Sprintf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var created CreatedSession
	if err := json.Unmarshal(raw, &created); err != nil {
		return CreatedSession{}, apperr.Wrap(apperr.UpstreamError, "decoding agent response", err)
	}
	if created.SessionID == "" {
		return CreatedSession{}, apperr.New(apperr.UpstreamError, "agent did not return a session_id")
	}
	return created, nil
}

// DeleteSession implements the agent round trip behind delete_session (§3):
// the agent must confirm deletion before the control plane drops its local
// summary.
func (p *Proxy) DeleteSession(ctx context.Context, projectID, sessionID string) error {
	project, err := p.activeProjectEndpoint(ctx, projectID)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/sessions/%s", project.Endpoint, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return apperr.Wrap(apperr.UpstreamError, "building request", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.UpstreamError, "calling agent", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(apperr.UpstreamError, "reading agent response", err)
	}
	if resp.StatusCode >= 300 {
		return apperr.New(apperr.UpstreamError, fmt.Sprintf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	return nil
}

// EventWriter is the downstream surface stream_message relays events onto.
// http.ResponseWriter satisfies it once wrapped by a flusher-capable
// middleware chain.
type EventWriter interface {
	io.Writer
	Flush()
}

// StreamMessage implements stream_message (§4.6): POSTs to the agent's
// streaming endpoint with Accept: text/event-stream, relays every event to
// w with its original framing, and flushes after each one. A clean upstream
// close ends the relay; an upstream error produces one terminal "error"
// event before returning.
func (p *Proxy) StreamMessage(ctx context.Context, w EventWriter, projectID, sessionID, content string) error {
	project, err := p.activeProjectEndpoint(ctx, projectID)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{"session_id": sessionID, "content": content})
	if err != nil {
		return apperr.Wrap(apperr.InvalidArgument, "encoding message", err)
	}

	url := fmt.Sprintf("http://%s/sessions/%s/stream", project.Endpoint, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.UpstreamError, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	telemetry.ProxyStreamsActive.Inc()
	defer telemetry.ProxyStreamsActive.Dec()

	resp, err := p.httpClient.Do(req)
	if err != nil {
		writeErrorEvent(w, "upstream connection failed")
		return apperr.Wrap(apperr.UpstreamError, "dialing agent stream", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		writeErrorEvent(w, fmt.Sprintf("agent returned %d", resp.StatusCode))
		return apperr.New(apperr.UpstreamError, fmt.Sprintf("agent stream returned %d", resp.StatusCode))
	}

	return relay(ctx, w, resp.Body)
}

// relay copies upstream SSE events to w verbatim, line by line, flushing
// after each blank-line-terminated event. It stops on a clean upstream EOF,
// caller cancellation, or a read error (emitting a terminal error event in
// the last case).
func relay(ctx context.Context, w EventWriter, upstream io.Reader) error {
	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var block strings.Builder
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return apperr.Wrap(apperr.Cancelled, "stream cancelled by caller", err)
		}

		line := scanner.Text()
		block.WriteString(line)
		block.WriteByte('\n')

		if line == "" {
			if _, err := io.WriteString(w, block.String()); err != nil {
				return apperr.Wrap(apperr.UpstreamError, "writing to caller", err)
			}
			w.Flush()
			block.Reset()
		}
	}

	if err := scanner.Err(); err != nil {
		writeErrorEvent(w, "upstream stream read failed")
		return apperr.Wrap(apperr.UpstreamError, "reading agent stream", err)
	}
	return nil
}

// writeErrorEvent emits a single terminal "error" event, best-effort.
func writeErrorEvent(w EventWriter, reason string) {
	payload, _ := json.Marshal(map[string]string{"reason": reason})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
	w.Flush()
}

// noopFlush adapts a plain io.Writer (used in tests) into an EventWriter.
type noopFlush struct{ io.Writer }

func (noopFlush) Flush() {}

// WrapWriter adapts any io.Writer into an EventWriter for callers that don't
// need real flushing (tests, non-HTTP transports).
func WrapWriter(w io.Writer) EventWriter { return noopFlush{w} }
