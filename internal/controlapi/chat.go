package controlapi

import (
	"net/http"

	"github.com/agentctl/controlplane/internal/httpserver"
)

type chatRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Content   string `json:"content" validate:"required"`
}

// handleSendMessage implements POST .../messages/send, the synchronous
// send_message operation (§4.6).
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.proxy.SendMessage(r.Context(), pathProject(r), req.SessionID, req.Content)
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"message":    "message sent",
		"result":     result.Result,
		"session_id": result.SessionID,
	})
}

// handleStreamMessage implements POST .../messages, the streaming
// stream_message operation (§4.6): it relays an SSE event stream from the
// agent to the caller with proper framing and flushing.
func (h *Handler) handleStreamMessage(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "streaming not supported by this transport")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ew := sseWriter{w: w, f: flusher}
	if err := h.proxy.StreamMessage(r.Context(), ew, pathProject(r), req.SessionID, req.Content); err != nil {
		h.logger.Error("stream_message ended with error", "project_id", pathProject(r), "error", err)
	}
}

// sseWriter adapts a ResponseWriter+Flusher pair to agentproxy.EventWriter.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s sseWriter) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s sseWriter) Flush()                      { s.f.Flush() }
