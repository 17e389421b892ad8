package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"proctor/internal/api"
	"proctor/pkg/types"
)

// dashboard is a websocket client following one username
type dashboard struct {
	conn *gorillaws.Conn
}

func dialDashboard(t *testing.T, s *Stack, watch string) *dashboard {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.Server.URL, "http") + "/ws/events?username=" + watch
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect dashboard: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	d := &dashboard{conn: conn}
	d.waitFor(t, "system", 2*time.Second)
	return d
}

// waitFor reads events until one of the given type arrives and returns
// every event read on the way, including the match
func (d *dashboard) waitFor(t *testing.T, eventType string, timeout time.Duration) []types.Event {
	t.Helper()
	var seen []types.Event
	deadline := time.Now().Add(timeout)
	for {
		if err := d.conn.SetReadDeadline(deadline); err != nil {
			t.Fatalf("SetReadDeadline: %v", err)
		}
		var event types.Event
		if err := d.conn.ReadJSON(&event); err != nil {
			t.Fatalf("waiting for %s after %d events: %v", eventType, len(seen), err)
		}
		seen = append(seen, event)
		if event.Type == eventType {
			return seen
		}
	}
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func kinds(events []types.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// TestProctoring_ExpiredExamLeavesEvidence drives a whole exam over HTTP:
// the dashboard sees it live, the clip lands on disk and in the database,
// and the session history records the expiry
func TestProctoring_ExpiredExamLeavesEvidence(t *testing.T) {
	s := NewStack(t, &ScriptedObjects{Cheat: func(seq uint64) bool { return seq <= 40 }})
	board := dialDashboard(t, s, "alice")

	resp := postJSON(t, s.Server.URL+"/api/proctoring/start", map[string]interface{}{
		"username":      "alice",
		"exam_duration": 5,
	})
	var started api.ProctoringResponse
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || started.Status != "active" {
		t.Fatalf("start = %d %+v", resp.StatusCode, started)
	}

	events := board.waitFor(t, types.EventSessionExpired, 5*time.Second)
	seen := kinds(events)
	if seen[0] != types.EventSessionStarted {
		t.Errorf("first event = %s, want session_started (all: %v)", seen[0], seen)
	}
	for _, want := range []string{types.EventMajorityChanged, types.EventClipSaved} {
		if !contains(seen, want) {
			t.Errorf("dashboard missed %s: %v", want, seen)
		}
	}

	// Clip file and metadata
	listed, err := s.Library.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listed) != 1 || !strings.HasPrefix(listed[0].Filename, "cheating_alice_") {
		t.Fatalf("clips on disk = %+v", listed)
	}
	records, err := s.DB.ListClips(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListClips failed: %v", err)
	}
	if len(records) != 1 || records[0].Filename != listed[0].Filename || records[0].Frames == 0 {
		t.Fatalf("clip records = %+v", records)
	}
	if len(records[0].Flags) != 2 || records[0].Forced {
		t.Errorf("clip flags = %v forced = %v", records[0].Flags, records[0].Forced)
	}

	// Session history
	resp, err = http.Get(s.Server.URL + "/api/proctoring/sessions?username=alice")
	if err != nil {
		t.Fatalf("sessions request failed: %v", err)
	}
	var history api.SessionsResponse
	err = json.NewDecoder(resp.Body).Decode(&history)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(history.Sessions) != 1 {
		t.Fatalf("sessions = %+v", history.Sessions)
	}
	ended := history.Sessions[0]
	if ended.Status != types.SessionStatusEnded || ended.EndReason != types.EndReasonExpired || ended.EndTime == nil {
		t.Errorf("session = %+v", ended)
	}

	// Stored audit trail matches what the dashboard saw
	stored, err := s.DB.ListEvents(context.Background(), "alice", 500)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(stored) != len(events) {
		t.Errorf("stored %d events, dashboard saw %d", len(stored), len(events))
	}

	// Statistics cover the whole exam
	resp, err = http.Get(s.Server.URL + "/api/proctoring/statistics/alice")
	if err != nil {
		t.Fatalf("statistics request failed: %v", err)
	}
	var stats struct {
		TotalEntries      int `json:"total_entries"`
		CheatingInstances int `json:"cheating_instances"`
	}
	err = json.NewDecoder(resp.Body).Decode(&stats)
	resp.Body.Close()
	if err != nil || stats.TotalEntries == 0 || stats.CheatingInstances == 0 {
		t.Errorf("statistics = %+v err %v", stats, err)
	}

	// Deleting the recording removes file and row
	req, _ := http.NewRequest(http.MethodDelete, s.Server.URL+"/api/proctoring/recordings/"+listed[0].Filename, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if records, _ := s.DB.ListClips(context.Background(), "alice"); len(records) != 0 {
		t.Errorf("clip row should be gone, got %+v", records)
	}
}

// TestProctoring_FocusLostReachesDashboard checks the browser focus report path
func TestProctoring_FocusLostReachesDashboard(t *testing.T) {
	s := NewStack(t, nil)
	alice := dialDashboard(t, s, "alice")
	everyone := dialDashboard(t, s, "*")

	resp := postJSON(t, s.Server.URL+"/api/proctoring/alt-tab", map[string]interface{}{
		"type":         "blur",
		"username":     "alice",
		"time_elapsed": 2.5,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("alt-tab status = %d", resp.StatusCode)
	}

	for name, d := range map[string]*dashboard{"alice": alice, "everyone": everyone} {
		events := d.waitFor(t, types.EventFocusLost, 2*time.Second)
		got := events[len(events)-1]
		if got.Username != "alice" || got.Payload["type"] != "blur" {
			t.Errorf("%s dashboard got %+v", name, got)
		}
	}

	stored, err := s.DB.ListEvents(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(stored) != 1 || stored[0].Type != types.EventFocusLost {
		t.Errorf("stored events = %+v", stored)
	}
}

// TestProctoring_ReconnectReplaysHistory checks that a late dashboard
// receives the stored trail before live events
func TestProctoring_ReconnectReplaysHistory(t *testing.T) {
	s := NewStack(t, nil)
	for i := 0; i < 3; i++ {
		resp := postJSON(t, s.Server.URL+"/api/proctoring/alt-tab", map[string]interface{}{
			"type":     fmt.Sprintf("blur-%d", i),
			"username": "carol",
		})
		resp.Body.Close()
	}
	waitForStoredEvents(t, s, "carol", 3)

	url := "ws" + strings.TrimPrefix(s.Server.URL, "http") + "/ws/events?username=carol"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect dashboard: %v", err)
	}
	defer conn.Close()

	board := &dashboard{conn: conn}
	replayed := board.waitFor(t, "system", 2*time.Second)
	if len(replayed) != 4 {
		t.Fatalf("expected 3 history events and the completion marker, got %v", kinds(replayed))
	}
	for i, e := range replayed[:3] {
		if e.Payload["type"] != fmt.Sprintf("blur-%d", i) {
			t.Errorf("history[%d] = %v, want oldest first", i, e.Payload["type"])
		}
	}
}

// TestProctoring_DatabaseSingleWriterPattern validates that concurrent
// publishers all land in the audit trail
func TestProctoring_DatabaseSingleWriterPattern(t *testing.T) {
	s := NewStack(t, nil)

	const publishers = 10
	const perPublisher = 20
	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				err := s.Hub.Publish(types.Event{
					Type:     types.EventFocusLost,
					Username: fmt.Sprintf("student%d", idx),
					Payload:  map[string]interface{}{"n": j},
				})
				if err != nil {
					t.Errorf("Publish failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < publishers; i++ {
		waitForStoredEvents(t, s, fmt.Sprintf("student%d", i), perPublisher)
	}
}

func waitForStoredEvents(t *testing.T, s *Stack, username string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		events, err := s.DB.ListEvents(context.Background(), username, 1000)
		if err != nil {
			t.Fatalf("ListEvents failed: %v", err)
		}
		if len(events) >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d stored events for %s, got %d", n, username, len(events))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
