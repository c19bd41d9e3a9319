// Package remote is the client side of the opaque AI/image service. Callers
// only depend on the submit/status envelope and the one-shot invoke call.
package remote

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
)

// RequestType tags which remote call a persisted request replays.
type RequestType string

const (
	TypeRecommendation RequestType = "recommendation"
	TypeLookbook       RequestType = "lookbook"
	TypeChat           RequestType = "chat"
	TypeAnalyze        RequestType = "analyze"
)

// JobStatus is the lifecycle state reported by a status endpoint.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// StatusResponse is the status endpoint envelope.
type StatusResponse struct {
	Status   JobStatus       `json:"status"`
	Progress int             `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// SubmitResponse is returned by a submit endpoint.
type SubmitResponse struct {
	TaskID string `json:"taskId"`
}

// TaskService creates remote jobs and reports their status.
type TaskService interface {
	Submit(ctx context.Context, endpoint string, params json.RawMessage) (string, error)
	Status(ctx context.Context, endpoint, taskID string) (StatusResponse, error)
}

// Invoker performs a synchronous remote call for a request type.
type Invoker interface {
	Invoke(ctx context.Context, typ RequestType, params json.RawMessage) (json.RawMessage, error)
}

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: status %d: %s", e.Code, e.Body)
}

// Permanent reports whether retrying the same call cannot succeed.
func (e *StatusError) Permanent() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != 408 && e.Code != 429
}
