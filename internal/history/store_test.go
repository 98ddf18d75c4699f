package history

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleSession(id string, startedAt time.Time) Session {
	ended := startedAt.Add(90 * time.Second)
	return Session{
		ID:              id,
		Title:           "Morning standup",
		StartedAt:       startedAt,
		EndedAt:         &ended,
		DurationSeconds: 90,
		InputLang:       "en",
		OutputLang:      "ja",
		Summary:         "## Summary\n- talked",
		RecordingPath:   "/tmp/session.wav",
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	startedAt := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	lines := []Line{
		{Original: "hello world", Translation: "こんにちは世界", Trigger: "completed", CommittedAt: startedAt.Add(5 * time.Second)},
		{Original: "second line", Translation: "二行目", Trigger: "gap_timeout", CommittedAt: startedAt.Add(20 * time.Second)},
	}
	if err := store.Save(sampleSession("s1", startedAt), lines); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	sess, gotLines, err := store.Get("s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.Title != "Morning standup" {
		t.Errorf("unexpected title %q", sess.Title)
	}
	if sess.DurationSeconds != 90 {
		t.Errorf("unexpected duration %d", sess.DurationSeconds)
	}
	if sess.EndedAt == nil || !sess.EndedAt.Equal(startedAt.Add(90*time.Second)) {
		t.Errorf("unexpected ended_at %v", sess.EndedAt)
	}
	if len(gotLines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(gotLines))
	}
	if gotLines[0].Original != "hello world" || gotLines[0].Translation != "こんにちは世界" {
		t.Errorf("unexpected first line %+v", gotLines[0])
	}
	if gotLines[1].Trigger != "gap_timeout" {
		t.Errorf("unexpected trigger %q", gotLines[1].Trigger)
	}
}

func TestStore_SaveRequiresID(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(Session{StartedAt: time.Now()}, nil); err == nil {
		t.Fatal("expected error for missing session id")
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		if err := store.Save(sampleSession(id, base.Add(time.Duration(i)*time.Hour)), nil); err != nil {
			t.Fatalf("Save %s failed: %v", id, err)
		}
	}

	sessions, err := store.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "new" || sessions[2].ID != "old" {
		t.Errorf("unexpected order: %s, %s, %s", sessions[0].ID, sessions[1].ID, sessions[2].ID)
	}
}

func TestStore_UpdateSummary(t *testing.T) {
	store := newTestStore(t)
	startedAt := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	if err := store.Save(sampleSession("s1", startedAt), nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.UpdateSummary("s1", "updated"); err != nil {
		t.Fatalf("UpdateSummary failed: %v", err)
	}
	sess, _, err := store.Get("s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.Summary != "updated" {
		t.Errorf("unexpected summary %q", sess.Summary)
	}

	if err := store.UpdateSummary("missing", "x"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows for unknown session, got %v", err)
	}
}

func TestStore_DeleteOlderThan(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	if err := store.Save(sampleSession("stale", base), []Line{{Original: "x", CommittedAt: base}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(sampleSession("fresh", base.AddDate(0, 0, 20)), nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	removed, err := store.DeleteOlderThan(base.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed session, got %d", removed)
	}

	if _, _, err := store.Get("stale"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected stale session gone, got %v", err)
	}
	if _, _, err := store.Get("fresh"); err != nil {
		t.Errorf("fresh session should survive: %v", err)
	}
}
