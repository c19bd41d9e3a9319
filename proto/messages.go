package proto

import json "github.com/goccy/go-json"

// PersistedRequest mirrors a request waiting for restore.
type PersistedRequest struct {
	Id         string          `json:"id"`
	Type       string          `json:"type"`
	Timestamp  int64           `json:"timestamp"`
	Params     json.RawMessage `json:"params,omitempty"`
	Progress   int32           `json:"progress"`
	RetryCount int32           `json:"retryCount"`
	MaxRetries int32           `json:"maxRetries"`
}

type ListRequestsRequest struct{}

// LongTask is a submitted remote job the poller still tracks.
type LongTask struct {
	Id        string `json:"id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Progress  int32  `json:"progress"`
	Polling   bool   `json:"polling"`
}

type ListRequestsResponse struct {
	Requests    []*PersistedRequest `json:"requests"`
	Tasks       []*LongTask         `json:"tasks"`
	AutoRestore bool                `json:"autoRestore"`
}

type RestoreRequestRequest struct {
	Id string `json:"id"`
}

type RestoreRequestResponse struct {
	Id     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
}

type RestoreAllRequest struct{}

// RestoreFailure names a request whose replay failed.
type RestoreFailure struct {
	Id    string `json:"id"`
	Error string `json:"error"`
}

type RestoreAllResponse struct {
	Restored []string          `json:"restored"`
	Failed   []*RestoreFailure `json:"failed"`
	Skipped  []string          `json:"skipped"`
}

type DiscardRequestRequest struct {
	Id string `json:"id"`
}

type DiscardRequestResponse struct {
	Id string `json:"id"`
}

type SetAutoRestoreRequest struct {
	Enabled bool `json:"enabled"`
}

type SetAutoRestoreResponse struct {
	Enabled bool `json:"enabled"`
}

type EnqueueUploadRequest struct {
	SourceUri string `json:"sourceUri"`
	MessageId string `json:"messageId"`
}

// EnqueueUploadResponse reports how the upload was accepted: "started",
// "attached" (joined a transfer already in flight) or "queued".
type EnqueueUploadResponse struct {
	Id        string `json:"id,omitempty"`
	MessageId string `json:"messageId"`
	Status    string `json:"status"`
}

type TransitionRequest struct {
	State string `json:"state"`
}

type TransitionResponse struct {
	State   string `json:"state"`
	Changed bool   `json:"changed"`
}

type DrainRequest struct{}

type DrainResponse struct {
	Result  string `json:"result"`
	Pending int32  `json:"pending"`
}
