// Package store persists typed record lists that must survive a process
// restart. Each record kind lives under its own namespace key and is always
// read and written as a whole serialized list.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"
)

// Kind is the namespace key a record list is stored under.
type Kind string

const (
	KindLongTasks         Kind = "pending_long_tasks"
	KindPersistedRequests Kind = "persisted_requests"
	KindUploadQueue       Kind = "upload_queue"
	KindOnboardingProfile Kind = "onboarding_profile"
)

// Backend is a small key-value interface for durable blobs.
// Implementations must honour the supplied context for cancellation and timeouts.
type Backend interface {
	// Load returns the stored bytes for key, or nil with no error when the
	// key has never been written.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save overwrites the value stored under key in a single write.
	Save(ctx context.Context, key string, data []byte) error

	Close() error
}

// Store serializes values onto a Backend. Read failures are logged and
// reported to callers as "no data".
type Store struct {
	backend Backend
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[Kind]*sync.Mutex
}

// New wraps backend. The caller owns the backend's lifetime.
func New(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		logger:  logger,
		locks:   make(map[Kind]*sync.Mutex),
	}
}

// kindLock serializes read-modify-write cycles on one kind.
func (s *Store) kindLock(kind Kind) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[kind]
	if !ok {
		l = &sync.Mutex{}
		s.locks[kind] = l
	}
	return l
}

// LoadValue decodes the value stored under kind into v. It reports false when
// nothing is stored or the stored bytes cannot be read back.
func (s *Store) LoadValue(ctx context.Context, kind Kind, v any) bool {
	data, err := s.backend.Load(ctx, string(kind))
	if err != nil {
		s.logger.Error("store load failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
		return false
	}
	if len(data) == 0 {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Error("store decode failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
		return false
	}
	return true
}

// SaveValue encodes v and writes it under kind.
func (s *Store) SaveValue(ctx context.Context, kind Kind, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", kind, err)
	}
	if err := s.backend.Save(ctx, string(kind), data); err != nil {
		return fmt.Errorf("store: save %s: %w", kind, err)
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
