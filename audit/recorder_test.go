package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
)

type memStore struct {
	mu     sync.Mutex
	events []Event
}

func (m *memStore) Save(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memStore) ListByType(_ context.Context, eventType Type) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestRecorderDrainsOnShutdown(t *testing.T) {
	store := &memStore{}
	recorder := NewRecorder(store, 16)
	recorder.Start()

	for i := 0; i < 10; i++ {
		recorder.Record(NewEvent(TypeGroupCreated, WithActor("test")))
	}
	recorder.Shutdown()

	saved, err := store.ListByType(context.Background(), TypeGroupCreated)
	if err != nil {
		t.Fatalf("ListByType failed: %v", err)
	}
	if len(saved) != 10 {
		t.Errorf("saved %d events, want 10", len(saved))
	}
}

func TestRecordDropsWhenFull(t *testing.T) {
	// Never started, so nothing drains the queue.
	recorder := NewRecorder(&memStore{}, 1)

	recorder.Record(NewEvent(TypeHealthCheck))
	// Must not block.
	recorder.Record(NewEvent(TypeHealthCheck))

	if len(recorder.queue) != 1 {
		t.Errorf("queue length = %d, want 1", len(recorder.queue))
	}
}

func TestNewEvent(t *testing.T) {
	e := NewEvent(TypeMemberJoined,
		WithActor("membership-1"),
		WithData(map[string]string{"group_id": "g1"}),
	)
	if e.ID == uuid.Nil {
		t.Error("event id must be set")
	}
	if e.Type != TypeMemberJoined || e.Actor != "membership-1" || e.Data["group_id"] != "g1" {
		t.Errorf("unexpected event %+v", e)
	}
	if e.CreatedAt.IsZero() {
		t.Error("created at must be set")
	}
}
