package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Siddhant412/chatgpt-notes-app/internal/correlation"
	"pkt.systems/pslog"
)

const (
	sessionIDHeader       = "Mcp-Session-Id"
	protocolVersionHeader = "Mcp-Protocol-Version"

	jsonrpcServerError = -32000

	msgNoSession      = "Bad Request: No valid session ID provided"
	msgUnknownSession = "Bad Request: Invalid session ID"
	msgBodyTooLarge   = "Request body too large"
	msgUnreadableBody = "Bad Request: unreadable request body"
	msgMissingSession = "Invalid or missing session ID"
)

// handleMCP dispatches the single MCP endpoint. Every request either reaches
// a registered session transport or is rejected without creating one.
func (s *server) handleMCP(w http.ResponseWriter, r *http.Request) {
	tw := &trackingWriter{ResponseWriter: w}
	logger := s.requestLogger(r)
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Error("mcp.transport.panic", "panic", rec, "headers_sent", tw.Sent())
			if !tw.Sent() {
				writeTransportError(tw)
			}
		}
	}()

	switch r.Method {
	case http.MethodPost:
		s.handlePost(tw, r, logger)
	case http.MethodGet:
		s.handleStream(tw, r, logger)
	case http.MethodDelete:
		s.handleDelete(tw, r, logger)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(tw, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func (s *server) handlePost(w *trackingWriter, r *http.Request, logger pslog.Logger) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reject(r, logger, "body_too_large")
			writeJSONRPCError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return
		}
		logger.Warn("mcp.transport.read_body_failed", "error", err)
		s.reject(r, logger, "unreadable_body")
		writeJSONRPCError(w, http.StatusBadRequest, msgUnreadableBody)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))

	if id := r.Header.Get(sessionIDHeader); id != "" {
		rec, ok := s.sessions.Lookup(id)
		if !ok {
			logger.Info("mcp.transport.unknown_session", "session_id", id)
			s.reject(r, logger, "unknown_session")
			writeJSONRPCError(w, http.StatusBadRequest, msgUnknownSession)
			return
		}
		rec.transport.ServeHTTP(w, r)
		return
	}

	if !isInitializeRequest(body) {
		s.reject(r, logger, "missing_session")
		writeJSONRPCError(w, http.StatusBadRequest, msgNoSession)
		return
	}
	rec, err := s.sessions.Create(context.WithoutCancel(r.Context()))
	if err != nil {
		logger.Error("mcp.session.create_failed", "error", err)
		writeTransportError(w)
		return
	}
	logger.Debug("mcp.transport.session_created", "session_id", rec.id)
	rec.transport.ServeHTTP(w, r)
	if status := w.Status(); status >= http.StatusBadRequest {
		// The client never learned this id.
		logger.Info("mcp.session.init_rejected", "session_id", rec.id, "status", status)
		s.sessions.Terminate(rec.id, closeReasonInitFailed)
	}
}

func (s *server) handleStream(w *trackingWriter, r *http.Request, logger pslog.Logger) {
	rec, ok := s.sessions.Lookup(r.Header.Get(sessionIDHeader))
	if !ok {
		s.reject(r, logger, "invalid_session")
		http.Error(w, msgMissingSession, http.StatusBadRequest)
		return
	}
	rec.transport.ServeHTTP(w, r)
}

func (s *server) handleDelete(w *trackingWriter, r *http.Request, logger pslog.Logger) {
	id := r.Header.Get(sessionIDHeader)
	if !s.sessions.Terminate(id, closeReasonClientDelete) {
		s.reject(r, logger, "invalid_session")
		http.Error(w, msgMissingSession, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) reject(r *http.Request, logger pslog.Logger, reason string) {
	s.metrics.requestRejected(r.Context(), reason)
	logger.Debug("mcp.transport.rejected", "method", r.Method, "reason", reason)
}

func (s *server) requestLogger(r *http.Request) pslog.Logger {
	logger := s.transportLog
	if id := correlation.ID(r.Context()); id != "" {
		logger = logger.With("cid", id)
	}
	if reqID := chimiddleware.GetReqID(r.Context()); reqID != "" {
		logger = logger.With("req_id", reqID)
	}
	return logger
}

// correlationMiddleware accepts or assigns an X-Correlation-Id and echoes it.
func (s *server) correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := correlation.FromHeader(r.Header.Get(correlation.HeaderName))
		w.Header().Set(correlation.HeaderName, id)
		ctx := correlation.Set(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type jsonrpcProbe struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	ID      json.RawMessage `json:"id"`
}

func (p jsonrpcProbe) isInitialize() bool {
	return p.JSONRPC == "2.0" && p.Method == "initialize" && len(p.ID) > 0 && string(p.ID) != "null"
}

// isInitializeRequest reports whether body is a JSON-RPC initialize request,
// either alone or inside a batch.
func isInitializeRequest(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}
	if trimmed[0] == '[' {
		var batch []jsonrpcProbe
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return false
		}
		for _, msg := range batch {
			if msg.isInitialize() {
				return true
			}
		}
		return false
	}
	var msg jsonrpcProbe
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return false
	}
	return msg.isInitialize()
}

type jsonrpcErrorBody struct {
	JSONRPC string           `json:"jsonrpc"`
	Error   jsonrpcErrorInfo `json:"error"`
	ID      *int             `json:"id"`
}

type jsonrpcErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSONRPCError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonrpcErrorBody{
		JSONRPC: "2.0",
		Error:   jsonrpcErrorInfo{Code: jsonrpcServerError, Message: message},
	})
}

func writeTransportError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(`{"error":"mcp transport error"}`))
}

// trackingWriter records whether the response has started and with which
// status.
type trackingWriter struct {
	http.ResponseWriter
	sent   atomic.Bool
	status atomic.Int32
}

func (w *trackingWriter) WriteHeader(code int) {
	if w.sent.CompareAndSwap(false, true) {
		w.status.Store(int32(code))
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *trackingWriter) Write(p []byte) (int, error) {
	if w.sent.CompareAndSwap(false, true) {
		w.status.Store(http.StatusOK)
	}
	return w.ResponseWriter.Write(p)
}

func (w *trackingWriter) Flush() {
	if w.sent.CompareAndSwap(false, true) {
		w.status.Store(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *trackingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Sent reports whether headers have been written.
func (w *trackingWriter) Sent() bool {
	return w.sent.Load()
}

// Status returns the first status written, or 0 before any write.
func (w *trackingWriter) Status() int {
	return int(w.status.Load())
}
