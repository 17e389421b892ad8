package interfaces_test

import (
	"context"
	"testing"

	"proctor/pkg/interfaces"
	"proctor/pkg/types"
)

// Mock implementations for testing

type mockConnection struct{}

func (m *mockConnection) WriteJSON(v interface{}) error { return nil }
func (m *mockConnection) Close() error                  { return nil }
func (m *mockConnection) GetID() string                 { return "" }
func (m *mockConnection) GetWatch() string              { return "" }

type mockPublisher struct{}

func (m *mockPublisher) Publish(event types.Event) error { return nil }

type mockStore struct{}

func (m *mockStore) RecordSessionStart(ctx context.Context, s *types.Session) error { return nil }
func (m *mockStore) RecordSessionEnd(ctx context.Context, s *types.Session) error   { return nil }
func (m *mockStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	return nil, interfaces.ErrSessionNotFound
}
func (m *mockStore) ListSessions(ctx context.Context, u string, n int) ([]*types.Session, error) {
	return nil, nil
}
func (m *mockStore) RecordClip(ctx context.Context, c *types.ClipRecord) error { return nil }
func (m *mockStore) ListClips(ctx context.Context, u string) ([]*types.ClipRecord, error) {
	return nil, nil
}
func (m *mockStore) DeleteClip(ctx context.Context, f string) error         { return nil }
func (m *mockStore) RecordEvent(ctx context.Context, e *types.Event) error { return nil }
func (m *mockStore) ListEvents(ctx context.Context, u string, n int) ([]*types.Event, error) {
	return nil, nil
}
func (m *mockStore) HealthCheck(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                          { return nil }

// Architectural Validation Tests - Ensure interfaces are properly defined

func TestInterfaces_ArchitecturalCompliance(t *testing.T) {
	var _ interfaces.Connection = (*mockConnection)(nil)
	var _ interfaces.EventPublisher = (*mockPublisher)(nil)
	var _ interfaces.SessionStore = (*mockStore)(nil)
}

func TestSessionStore_NotFoundSentinel(t *testing.T) {
	var store interfaces.SessionStore = &mockStore{}
	if _, err := store.GetSession(context.Background(), "missing"); err != interfaces.ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
