package rotation

import (
	"strconv"
	"time"

	"github.com/meridianhq/rotatord/internal/rotation/storage"
)

// FileHistoryStore adapts internal/rotation/storage.Storage (normally a
// storage.FileStorage) into a HistoryStore, translating between
// RotationEvent and the storage package's own HistoryEntry shape so the
// durable history backend doesn't need to know about pkg/rotation's types.
type FileHistoryStore struct {
	backend storage.Storage
}

// NewFileHistoryStore wraps backend as a HistoryStore.
func NewFileHistoryStore(backend storage.Storage) *FileHistoryStore {
	return &FileHistoryStore{backend: backend}
}

func (s *FileHistoryStore) Append(secretID string, event RotationEvent) error {
	entry := &storage.HistoryEntry{
		ID:             event.ID,
		Timestamp:      event.Timestamp,
		ServiceName:    secretID,
		CredentialType: "secret",
		Action:         historyAction(event.Type),
		Status:         event.Status,
		Duration:       time.Duration(event.DurationMs) * time.Millisecond,
		Error:          event.Error,
		User:           event.Initiator,
		Metadata:       event.Metadata,
		OldVersion:     strconv.Itoa(event.FromVersion),
		NewVersion:     strconv.Itoa(event.ToVersion),
	}
	return s.backend.SaveHistory(entry)
}

func (s *FileHistoryStore) List(secretID string, limit int) ([]RotationEvent, error) {
	entries, err := s.backend.GetHistory(secretID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]RotationEvent, 0, len(entries))
	for _, e := range entries {
		out = append(out, RotationEvent{
			ID:          e.ID,
			SecretID:    e.ServiceName,
			Type:        e.Action,
			Status:      e.Status,
			FromVersion: atoiOrZero(e.OldVersion),
			ToVersion:   atoiOrZero(e.NewVersion),
			Initiator:   e.User,
			Timestamp:   e.Timestamp,
			DurationMs:  e.Duration.Milliseconds(),
			Error:       e.Error,
			Metadata:    e.Metadata,
		})
	}
	return out, nil
}

func historyAction(eventType string) string {
	if eventType == TriggerRollback {
		return "rollback"
	}
	return "rotate"
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
