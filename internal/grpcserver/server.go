// Package grpcserver implements the stylesync.TaskBridge gRPC service the UI
// layer uses to list, restore and discard interrupted requests and to feed
// uploads and lifecycle events into the background layer.
package grpcserver

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mtiwari1/stylesync/internal/app"
	"github.com/mtiwari1/stylesync/internal/coordinator"
	"github.com/mtiwari1/stylesync/internal/lifecycle"
	"github.com/mtiwari1/stylesync/internal/remote"
	"github.com/mtiwari1/stylesync/internal/upload"
	pb "github.com/mtiwari1/stylesync/proto"
)

var _ pb.TaskBridgeServer = (*Server)(nil)

// Server implements pb.TaskBridgeServer on top of the composition root.
// Dependencies are injected via the constructor.
type Server struct {
	app    *app.App
	logger *slog.Logger
}

// NewServer creates the bridge server.
func NewServer(a *app.App, logger *slog.Logger) *Server {
	return &Server{app: a, logger: logger}
}

// ListRequests returns the persisted requests after the expiry sweep, along
// with the long tasks still awaiting a result.
func (s *Server) ListRequests(ctx context.Context, _ *pb.ListRequestsRequest) (*pb.ListRequestsResponse, error) {
	recs := s.app.Coordinator.GetAllPersistedRequests(ctx)
	tasks := s.app.Poller.Pending(ctx)
	out := &pb.ListRequestsResponse{
		Requests:    make([]*pb.PersistedRequest, 0, len(recs)),
		Tasks:       make([]*pb.LongTask, 0, len(tasks)),
		AutoRestore: s.app.Coordinator.AutoRestore(),
	}
	for _, t := range tasks {
		out.Tasks = append(out.Tasks, &pb.LongTask{
			Id:        t.ID,
			Type:      string(t.Type),
			Timestamp: t.Timestamp,
			Progress:  int32(t.Progress),
			Polling:   s.app.Poller.IsPolling(t.ID),
		})
	}
	for _, r := range recs {
		out.Requests = append(out.Requests, &pb.PersistedRequest{
			Id:         r.ID,
			Type:       string(r.Type),
			Timestamp:  r.Timestamp,
			Params:     r.Params,
			Progress:   int32(r.Progress),
			RetryCount: int32(r.RetryCount),
			MaxRetries: int32(r.MaxRetries),
		})
	}
	s.logger.Info("grpc ListRequests",
		slog.Int("count", len(out.Requests)),
		slog.Int("tasks", len(out.Tasks)),
	)
	return out, nil
}

// RestoreRequest replays one persisted request.
func (s *Server) RestoreRequest(ctx context.Context, req *pb.RestoreRequestRequest) (*pb.RestoreRequestResponse, error) {
	s.logger.Info("grpc RestoreRequest", slog.String("id", req.Id))
	if req.Id == "" {
		return nil, status.Error(codes.InvalidArgument, "RestoreRequest: id is required")
	}

	result, err := s.app.Coordinator.ManuallyRestoreRequest(ctx, req.Id)
	if err != nil {
		return nil, mapError(err, "RestoreRequest")
	}
	return &pb.RestoreRequestResponse{Id: req.Id, Result: result}, nil
}

// RestoreAll replays every persisted request, one at a time.
func (s *Server) RestoreAll(ctx context.Context, _ *pb.RestoreAllRequest) (*pb.RestoreAllResponse, error) {
	rep := s.app.Coordinator.ManuallyRestoreAllRequests(ctx)

	out := &pb.RestoreAllResponse{
		Restored: make([]string, 0, len(rep.Restored)),
		Failed:   make([]*pb.RestoreFailure, 0, len(rep.Failed)),
		Skipped:  append([]string{}, rep.Skipped...),
	}
	for _, o := range rep.Restored {
		out.Restored = append(out.Restored, o.ID)
	}
	for _, o := range rep.Failed {
		out.Failed = append(out.Failed, &pb.RestoreFailure{Id: o.ID, Error: o.Err.Error()})
	}

	s.logger.Info("grpc RestoreAll",
		slog.Int("restored", len(out.Restored)),
		slog.Int("failed", len(out.Failed)),
		slog.Int("skipped", len(out.Skipped)),
	)
	return out, nil
}

// DiscardRequest drops a persisted request without replaying it.
func (s *Server) DiscardRequest(ctx context.Context, req *pb.DiscardRequestRequest) (*pb.DiscardRequestResponse, error) {
	s.logger.Info("grpc DiscardRequest", slog.String("id", req.Id))
	if err := s.app.Coordinator.Discard(ctx, req.Id); err != nil {
		return nil, mapError(err, "DiscardRequest")
	}
	return &pb.DiscardRequestResponse{Id: req.Id}, nil
}

// SetAutoRestore switches between manual and automatic restore.
func (s *Server) SetAutoRestore(_ context.Context, req *pb.SetAutoRestoreRequest) (*pb.SetAutoRestoreResponse, error) {
	s.logger.Info("grpc SetAutoRestore", slog.Bool("enabled", req.Enabled))
	s.app.Coordinator.SetAutoRestore(req.Enabled)
	return &pb.SetAutoRestoreResponse{Enabled: s.app.Coordinator.AutoRestore()}, nil
}

// EnqueueUpload starts, attaches or queues an upload.
func (s *Server) EnqueueUpload(ctx context.Context, req *pb.EnqueueUploadRequest) (*pb.EnqueueUploadResponse, error) {
	s.logger.Info("grpc EnqueueUpload",
		slog.String("source_uri", req.SourceUri),
		slog.String("message_id", req.MessageId),
	)

	t, err := s.app.BeginUpload(ctx, req.SourceUri, req.MessageId)
	if err != nil {
		return nil, mapError(err, "EnqueueUpload")
	}
	return &pb.EnqueueUploadResponse{Id: t.ID, MessageId: t.MessageID, Status: string(t.Disposition)}, nil
}

// Transition forwards a host lifecycle event.
func (s *Server) Transition(_ context.Context, req *pb.TransitionRequest) (*pb.TransitionResponse, error) {
	st, err := lifecycle.Parse(req.State)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Transition: %v", err)
	}
	changed := s.app.Transition(st)
	s.logger.Info("grpc Transition", slog.String("state", string(st)), slog.Bool("changed", changed))
	return &pb.TransitionResponse{State: string(st), Changed: changed}, nil
}

// Drain runs the upload queue drain task once, as a host wake would.
func (s *Server) Drain(ctx context.Context, _ *pb.DrainRequest) (*pb.DrainResponse, error) {
	res := s.app.Drainer.Run(ctx)
	pending := len(s.app.Queue.List(ctx))
	s.logger.Info("grpc Drain", slog.String("result", string(res)), slog.Int("pending", pending))
	return &pb.DrainResponse{Result: string(res), Pending: int32(pending)}, nil
}

// mapError converts domain errors to gRPC status codes.
func mapError(err error, method string) error {
	var se *remote.StatusError
	switch {
	case errors.Is(err, coordinator.ErrNotFound):
		return status.Errorf(codes.NotFound, "%s: request not found", method)
	case errors.Is(err, coordinator.ErrRetryLimit):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", method, err)
	case errors.Is(err, upload.ErrInvalidUpload):
		return status.Errorf(codes.InvalidArgument, "%s: %v", method, err)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%s: remote timeout", method)
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%s: cancelled", method)
	case errors.As(err, &se):
		if se.Permanent() {
			return status.Errorf(codes.FailedPrecondition, "%s: %v", method, err)
		}
		return status.Errorf(codes.Unavailable, "%s: %v", method, err)
	}
	return status.Errorf(codes.Internal, "%s: %v", method, err)
}
