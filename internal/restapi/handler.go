// Package restapi is the HTTP gateway in front of the TaskBridge service.
// Every route calls the gRPC implementation in-process and maps its status
// codes to HTTP.
package restapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "github.com/mtiwari1/stylesync/proto"
)

// Pinger reports whether the durable store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for REST endpoints.
type Handler struct {
	grpc   pb.TaskBridgeServer
	store  Pinger
	logger *slog.Logger
}

// NewHandler creates a new REST handler.
func NewHandler(grpcSrv pb.TaskBridgeServer, store Pinger, logger *slog.Logger) *Handler {
	return &Handler{grpc: grpcSrv, store: store, logger: logger}
}

// RegisterRoutes attaches all REST routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /requests", h.listRequests)
	mux.HandleFunc("POST /requests/{id}/restore", h.restoreRequest)
	mux.HandleFunc("POST /requests/restore", h.restoreAll)
	mux.HandleFunc("DELETE /requests/{id}", h.discardRequest)
	mux.HandleFunc("PUT /settings/auto-restore", h.setAutoRestore)
	mux.HandleFunc("POST /uploads", h.enqueueUpload)
	mux.HandleFunc("POST /lifecycle", h.transition)
	mux.HandleFunc("POST /drain", h.drain)
	mux.HandleFunc("GET /healthz", h.healthz)
}

// requestLogger tags every log line of one HTTP request with a request_id.
func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return h.logger.With(
		slog.String("request_id", uuid.New().String()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
}

// ---------- GET /requests ----------

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	resp, err := h.grpc.ListRequests(r.Context(), &pb.ListRequestsRequest{})
	if err != nil {
		h.fail(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------- POST /requests/{id}/restore ----------

func (h *Handler) restoreRequest(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	id := r.PathValue("id")

	resp, err := h.grpc.RestoreRequest(r.Context(), &pb.RestoreRequestRequest{Id: id})
	if err != nil {
		h.fail(w, logger.With(slog.String("id", id)), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------- POST /requests/restore ----------

func (h *Handler) restoreAll(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	resp, err := h.grpc.RestoreAll(r.Context(), &pb.RestoreAllRequest{})
	if err != nil {
		h.fail(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------- DELETE /requests/{id} ----------

func (h *Handler) discardRequest(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	id := r.PathValue("id")

	if _, err := h.grpc.DiscardRequest(r.Context(), &pb.DiscardRequestRequest{Id: id}); err != nil {
		h.fail(w, logger.With(slog.String("id", id)), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------- PUT /settings/auto-restore ----------

func (h *Handler) setAutoRestore(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	var in pb.SetAutoRestoreRequest
	if !decodeBody(w, r, logger, &in) {
		return
	}
	resp, err := h.grpc.SetAutoRestore(r.Context(), &in)
	if err != nil {
		h.fail(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------- POST /uploads ----------

func (h *Handler) enqueueUpload(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	var in pb.EnqueueUploadRequest
	if !decodeBody(w, r, logger, &in) {
		return
	}
	resp, err := h.grpc.EnqueueUpload(r.Context(), &in)
	if err != nil {
		h.fail(w, logger, err)
		return
	}

	logger.Info("upload accepted",
		slog.String("upload_id", resp.Id),
		slog.String("message_id", resp.MessageId),
		slog.String("status", resp.Status),
	)
	writeJSON(w, http.StatusAccepted, resp)
}

// ---------- POST /lifecycle ----------

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	var in pb.TransitionRequest
	if !decodeBody(w, r, logger, &in) {
		return
	}
	resp, err := h.grpc.Transition(r.Context(), &in)
	if err != nil {
		h.fail(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------- POST /drain ----------

func (h *Handler) drain(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	resp, err := h.grpc.Drain(r.Context(), &pb.DrainRequest{})
	if err != nil {
		h.fail(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------- GET /healthz ----------

// healthz verifies the durable store is reachable.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	result := map[string]string{"status": "ok"}
	httpStatus := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		result["status"] = "degraded"
		result["store"] = "unreachable: " + err.Error()
		httpStatus = http.StatusServiceUnavailable
	} else {
		result["store"] = "connected"
	}

	writeJSON(w, httpStatus, result)
}

func (h *Handler) fail(w http.ResponseWriter, logger *slog.Logger, err error) {
	code := grpcToHTTPStatus(err)
	msg := err.Error()
	if st, ok := status.FromError(err); ok {
		msg = st.Message()
	}
	if code >= http.StatusInternalServerError {
		logger.Error("request failed", slog.Int("status", code), slog.String("error", msg))
	} else {
		logger.Warn("request rejected", slog.Int("status", code), slog.String("error", msg))
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

// decodeBody reads a JSON body into v, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, logger *slog.Logger, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// grpcToHTTPStatus maps gRPC status codes to HTTP status codes.
func grpcToHTTPStatus(err error) int {
	st, ok := status.FromError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch st.Code() {
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return 499
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
