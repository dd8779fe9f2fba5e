package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avolkens/device-dispatch-backend/interfaces"
)

// StoreTaskStore persists task records as JSON under `task:{id}` in the
// coordination store. The script body in the record is sealed under the
// task's one-time key; the key itself travels in the record too, and
// only the dispatcher and its tests may read it back.
type StoreTaskStore struct {
	store interfaces.CoordinationStore
	log   *slog.Logger
}

// NewTaskStore creates a coordination-store-backed task store.
func NewTaskStore(store interfaces.CoordinationStore, log *slog.Logger) *StoreTaskStore {
	return &StoreTaskStore{store: store, log: log}
}

func taskKey(id interfaces.TaskID) string {
	return "task:" + id.String()
}

// Put writes the task record, replacing any previous version.
func (s *StoreTaskStore) Put(ctx context.Context, task *interfaces.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	if err := s.store.Set(ctx, taskKey(task.ID), string(data)); err != nil {
		return fmt.Errorf("persist task %s: %w", task.ID, err)
	}
	return nil
}

// Get returns the stored task record, or ErrTaskNotFound.
func (s *StoreTaskStore) Get(ctx context.Context, id interfaces.TaskID) (*interfaces.Task, error) {
	data, err := s.store.Get(ctx, taskKey(id))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, interfaces.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}

	var task interfaces.Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("unmarshal task %s: %w", id, err)
	}
	return &task, nil
}
