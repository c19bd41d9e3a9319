// Package upload moves local resources to the remote store. It owns the
// durable upload queue drained on host wakes, the in-memory dedup guard used
// by foreground transfers, and the onboarding profile's pending upload slot.
package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mtiwari1/stylesync/internal/clock"
	"github.com/mtiwari1/stylesync/internal/store"
)

// PendingUpload is a transfer waiting in the durable queue.
type PendingUpload struct {
	ID        string `json:"id"`
	SourceURI string `json:"source_uri"`
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"timestamp"`
}

// RecordID implements store.Record.
func (u PendingUpload) RecordID() string { return u.ID }

// ErrInvalidUpload is returned when an upload is missing its resource or
// correlation id.
var ErrInvalidUpload = errors.New("upload: source uri and message id are required")

// Queue is the durable list of uploads awaiting the drain task. It does not
// deduplicate: the same resource may be enqueued more than once.
type Queue struct {
	records *store.Collection[PendingUpload]
	clock   clock.Clock
}

// NewQueue returns the queue stored under store.KindUploadQueue.
func NewQueue(s *store.Store, clk clock.Clock) *Queue {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Queue{records: store.NewCollection[PendingUpload](s, store.KindUploadQueue), clock: clk}
}

// NewPendingUpload builds an upload record. IDs are UUIDv7 so they sort in
// creation order.
func NewPendingUpload(sourceURI, messageID string, at time.Time) (PendingUpload, error) {
	if strings.TrimSpace(sourceURI) == "" || strings.TrimSpace(messageID) == "" {
		return PendingUpload{}, ErrInvalidUpload
	}
	id, err := uuid.NewV7()
	if err != nil {
		return PendingUpload{}, fmt.Errorf("upload: new id: %w", err)
	}
	return PendingUpload{
		ID:        id.String(),
		SourceURI: sourceURI,
		MessageID: messageID,
		Timestamp: clock.EpochMillis(at),
	}, nil
}

// Enqueue appends a new pending upload.
func (q *Queue) Enqueue(ctx context.Context, sourceURI, messageID string) (PendingUpload, error) {
	u, err := NewPendingUpload(sourceURI, messageID, q.clock.Now())
	if err != nil {
		return PendingUpload{}, err
	}
	if err := q.records.Update(ctx, func(recs []PendingUpload) []PendingUpload {
		return append(recs, u)
	}); err != nil {
		return PendingUpload{}, err
	}
	return u, nil
}

// List returns every queued upload in enqueue order.
func (q *Queue) List(ctx context.Context) []PendingUpload {
	return q.records.GetAll(ctx)
}

// Remove drops the given uploads in one write.
func (q *Queue) Remove(ctx context.Context, ids ...string) error {
	return q.records.Remove(ctx, ids...)
}

// profile is the onboarding blob; it holds at most one pending upload.
type profile struct {
	PendingUpload *PendingUpload `json:"pending_upload,omitempty"`
	UpdatedAt     int64          `json:"updated_at"`
}

// ProfileSlot persists the single in-progress onboarding photo upload so it
// can be resumed after the process is killed.
type ProfileSlot struct {
	store *store.Store
}

// NewProfileSlot returns the slot stored under store.KindOnboardingProfile.
func NewProfileSlot(s *store.Store) *ProfileSlot {
	return &ProfileSlot{store: s}
}

// Get returns the pending upload, if any.
func (p *ProfileSlot) Get(ctx context.Context) (PendingUpload, bool) {
	var pr profile
	if !p.store.LoadValue(ctx, store.KindOnboardingProfile, &pr) || pr.PendingUpload == nil {
		return PendingUpload{}, false
	}
	return *pr.PendingUpload, true
}

// Set replaces the pending upload.
func (p *ProfileSlot) Set(ctx context.Context, u PendingUpload) error {
	return p.store.SaveValue(ctx, store.KindOnboardingProfile, profile{PendingUpload: &u, UpdatedAt: time.Now().UnixMilli()})
}

// Clear removes the pending upload if it is the one identified by id.
func (p *ProfileSlot) Clear(ctx context.Context, id string) error {
	cur, ok := p.Get(ctx)
	if !ok || cur.ID != id {
		return nil
	}
	return p.store.SaveValue(ctx, store.KindOnboardingProfile, profile{UpdatedAt: time.Now().UnixMilli()})
}
