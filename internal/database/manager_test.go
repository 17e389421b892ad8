package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"proctor/pkg/database"
	"proctor/pkg/interfaces"
	"proctor/pkg/types"
)

// Test database setup helpers
func setupTestDB(t *testing.T) *Manager {
	t.Helper()

	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	config.WriteTimeout = 5 * time.Second

	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if err := database.NewEmbeddedMigrationManager(manager.GetDB()).ApplyMigrations(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func newSession(id, username string, start time.Time) *types.Session {
	return &types.Session{
		ID:        id,
		Username:  username,
		StartTime: start,
		Budget:    time.Hour,
		Status:    types.SessionStatusActive,
	}
}

var baseTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// Architectural Validation Tests
func TestManager_InterfaceCompliance(t *testing.T) {
	var _ interfaces.SessionStore = (*Manager)(nil)
}

// Functional Validation Tests - Sessions
func TestManager_SessionLifecycle(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	session := newSession("session-1", "alice", baseTime)
	if err := manager.RecordSessionStart(ctx, session); err != nil {
		t.Fatalf("RecordSessionStart failed: %v", err)
	}

	got, err := manager.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Username != "alice" || got.Status != types.SessionStatusActive {
		t.Errorf("unexpected session: %+v", got)
	}
	if got.Budget != time.Hour {
		t.Errorf("Budget = %v, want 1h", got.Budget)
	}
	if !got.StartTime.Equal(baseTime) {
		t.Errorf("StartTime = %v, want %v", got.StartTime, baseTime)
	}
	if got.EndTime != nil {
		t.Error("active session should have no end time")
	}

	end := baseTime.Add(20 * time.Minute)
	session.EndTime = &end
	session.Status = types.SessionStatusEnded
	session.EndReason = types.EndReasonStopped
	if err := manager.RecordSessionEnd(ctx, session); err != nil {
		t.Fatalf("RecordSessionEnd failed: %v", err)
	}

	got, err = manager.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != types.SessionStatusEnded || got.EndReason != types.EndReasonStopped {
		t.Errorf("unexpected ended session: %+v", got)
	}
	if got.EndTime == nil || !got.EndTime.Equal(end) {
		t.Errorf("EndTime = %v, want %v", got.EndTime, end)
	}
}

func TestManager_GetSessionNotFound(t *testing.T) {
	manager := setupTestDB(t)

	_, err := manager.GetSession(context.Background(), "missing")
	if !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_RecordSessionEndUnknown(t *testing.T) {
	manager := setupTestDB(t)

	end := baseTime
	session := newSession("ghost", "alice", baseTime)
	session.EndTime = &end
	session.Status = types.SessionStatusEnded
	if err := manager.RecordSessionEnd(context.Background(), session); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_RejectsInvalidSessionStatus(t *testing.T) {
	manager := setupTestDB(t)

	session := newSession("bad-status", "alice", baseTime)
	session.Status = "paused"
	if err := manager.RecordSessionStart(context.Background(), session); err == nil {
		t.Error("CHECK constraint should reject unknown status")
	}
}

func TestManager_ListSessionsOrderingAndFilter(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	for i, user := range []string{"alice", "bob", "alice", "alice"} {
		s := newSession(fmt.Sprintf("s-%d", i), user, baseTime.Add(time.Duration(i)*time.Minute))
		if err := manager.RecordSessionStart(ctx, s); err != nil {
			t.Fatalf("RecordSessionStart failed: %v", err)
		}
	}

	tests := []struct {
		name     string
		username string
		limit    int
		want     []string
	}{
		{"all users", "", 0, []string{"s-3", "s-2", "s-1", "s-0"}},
		{"one user", "alice", 0, []string{"s-3", "s-2", "s-0"}},
		{"limited", "alice", 2, []string{"s-3", "s-2"}},
		{"unknown user", "carol", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions, err := manager.ListSessions(ctx, tt.username, tt.limit)
			if err != nil {
				t.Fatalf("ListSessions failed: %v", err)
			}
			if len(sessions) != len(tt.want) {
				t.Fatalf("got %d sessions, want %d", len(sessions), len(tt.want))
			}
			for i, s := range sessions {
				if s.ID != tt.want[i] {
					t.Errorf("sessions[%d] = %s, want %s", i, s.ID, tt.want[i])
				}
			}
		})
	}
}

// Functional Validation Tests - Clips
func TestManager_ClipMetadata(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	clips := []*types.ClipRecord{
		{
			ID:              "clip-1",
			SessionID:       "session-1",
			Username:        "alice",
			Filename:        "cheating_alice_20260314_093000_2s_book_phone.mp4",
			Path:            "/clips/cheating_alice_20260314_093000_2s_book_phone.mp4",
			DurationSeconds: 2.4,
			Frames:          48,
			Flags:           []types.Flag{types.FlagBook, types.FlagPhone},
			CreatedAt:       baseTime,
		},
		{
			ID:              "clip-2",
			Username:        "bob",
			Filename:        "cheating_bob_20260314_094000_0s_general.mp4",
			Path:            "/clips/cheating_bob_20260314_094000_0s_general.mp4",
			DurationSeconds: 0.3,
			Frames:          6,
			Forced:          true,
			CreatedAt:       baseTime.Add(10 * time.Minute),
		},
	}
	for _, c := range clips {
		if err := manager.RecordClip(ctx, c); err != nil {
			t.Fatalf("RecordClip failed: %v", err)
		}
	}

	all, err := manager.ListClips(ctx, "")
	if err != nil {
		t.Fatalf("ListClips failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != "clip-2" {
		t.Fatalf("expected newest first, got %d clips", len(all))
	}
	if !all[0].Forced || all[0].SessionID != "" || len(all[0].Flags) != 0 {
		t.Errorf("unexpected forced clip: %+v", all[0])
	}

	alice, err := manager.ListClips(ctx, "alice")
	if err != nil {
		t.Fatalf("ListClips failed: %v", err)
	}
	if len(alice) != 1 {
		t.Fatalf("expected 1 clip for alice, got %d", len(alice))
	}
	got := alice[0]
	if got.SessionID != "session-1" || got.Frames != 48 || got.DurationSeconds != 2.4 {
		t.Errorf("unexpected clip: %+v", got)
	}
	if len(got.Flags) != 2 || got.Flags[0] != types.FlagBook || got.Flags[1] != types.FlagPhone {
		t.Errorf("Flags = %v", got.Flags)
	}

	if err := manager.DeleteClip(ctx, clips[0].Filename); err != nil {
		t.Fatalf("DeleteClip failed: %v", err)
	}
	alice, _ = manager.ListClips(ctx, "alice")
	if len(alice) != 0 {
		t.Errorf("clip should be gone, got %d", len(alice))
	}

	// deleting an unknown clip is not an error: the file may predate the store
	if err := manager.DeleteClip(ctx, "never-recorded.mp4"); err != nil {
		t.Errorf("DeleteClip of unknown file should succeed: %v", err)
	}
}

func TestManager_DuplicateClipFilenameRejected(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	clip := &types.ClipRecord{ID: "a", Username: "alice", Filename: "same.mp4", Path: "/same.mp4", CreatedAt: baseTime}
	if err := manager.RecordClip(ctx, clip); err != nil {
		t.Fatalf("RecordClip failed: %v", err)
	}
	dup := *clip
	dup.ID = "b"
	if err := manager.RecordClip(ctx, &dup); err == nil {
		t.Error("UNIQUE constraint should reject duplicate filename")
	}
}

// Functional Validation Tests - Events
func TestManager_EventsChronological(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	kinds := []string{types.EventSessionStarted, types.EventMajorityChanged, types.EventClipSaved, types.EventSessionStopped}
	for i, kind := range kinds {
		event := &types.Event{
			ID:        fmt.Sprintf("e-%d", i),
			Type:      kind,
			SessionID: "session-1",
			Username:  "alice",
			Payload:   map[string]interface{}{"seq": i},
			Timestamp: baseTime.Add(time.Duration(i) * time.Second),
		}
		if err := manager.RecordEvent(ctx, event); err != nil {
			t.Fatalf("RecordEvent failed: %v", err)
		}
	}
	other := &types.Event{ID: "other", Type: types.EventFocusLost, Username: "bob", Timestamp: baseTime}
	if err := manager.RecordEvent(ctx, other); err != nil {
		t.Fatalf("RecordEvent without payload failed: %v", err)
	}

	events, err := manager.ListEvents(ctx, "alice", 3)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	want := []string{"e-1", "e-2", "e-3"}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, e := range events {
		if e.ID != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, e.ID, want[i])
		}
	}
	if seq, ok := events[0].Payload["seq"].(float64); !ok || seq != 1 {
		t.Errorf("payload = %v", events[0].Payload)
	}

	bob, err := manager.ListEvents(ctx, "bob", 0)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(bob) != 1 || bob[0].SessionID != "" || len(bob[0].Payload) != 0 {
		t.Errorf("unexpected bob events: %+v", bob)
	}
}

func TestManager_RejectsUnknownEventType(t *testing.T) {
	manager := setupTestDB(t)

	event := &types.Event{ID: "x", Type: "teleported", Username: "alice", Timestamp: baseTime}
	if err := manager.RecordEvent(context.Background(), event); err == nil {
		t.Error("CHECK constraint should reject unknown event type")
	}
}

// Performance Validation Tests - single writer under concurrency
func TestManager_SingleWriterPattern(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	const numWrites = 20
	var wg sync.WaitGroup
	errs := make(chan error, numWrites)

	wg.Add(numWrites)
	for i := 0; i < numWrites; i++ {
		go func(id int) {
			defer wg.Done()
			event := &types.Event{
				ID:        fmt.Sprintf("concurrent-%d", id),
				Type:      types.EventMajorityChanged,
				Username:  "alice",
				Payload:   map[string]interface{}{"majority": id%2 == 0},
				Timestamp: baseTime.Add(time.Duration(id) * time.Millisecond),
			}
			if err := manager.RecordEvent(ctx, event); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent write failed: %v", err)
	}

	events, err := manager.ListEvents(ctx, "alice", 100)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != numWrites {
		t.Errorf("Expected %d events, got %d", numWrites, len(events))
	}
}

func TestManager_HealthCheckBehavior(t *testing.T) {
	manager := setupTestDB(t)

	if err := manager.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck should pass on a migrated database: %v", err)
	}
}

func TestManager_CleanShutdown(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if err := manager.RecordSessionStart(ctx, newSession("shutdown", "alice", baseTime)); err != nil {
		t.Fatalf("RecordSessionStart failed: %v", err)
	}

	if err := manager.Close(); err != nil {
		t.Errorf("Close should succeed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("second Close should be a no-op: %v", err)
	}

	if err := manager.RecordSessionStart(ctx, newSession("late", "alice", baseTime)); err == nil {
		t.Error("Operations should fail after Close()")
	}
}
