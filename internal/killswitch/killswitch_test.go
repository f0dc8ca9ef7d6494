package killswitch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/wardenhq/warden/internal/storage"
)

func newSwitch(t *testing.T) *Switch {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "warden.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(context.Background(), db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSwitchDefaultsOff(t *testing.T) {
	t.Parallel()

	s := newSwitch(t)
	if s.Engaged() {
		t.Fatal("switch should default to off")
	}
}

func TestSetAndHistory(t *testing.T) {
	t.Parallel()

	s := newSwitch(t)

	st, err := s.Set(context.Background(), true, "admin")
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !st.Engaged || st.LastChangedBy != "admin" {
		t.Fatalf("unexpected state: %#v", st)
	}
	if !s.Engaged() {
		t.Fatal("switch should be on")
	}

	if _, err := s.Set(context.Background(), false, "admin"); err != nil {
		t.Fatalf("Set off: %v", err)
	}

	hist, err := s.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(hist))
	}
	if hist[0].Engaged || !hist[1].Engaged {
		t.Fatalf("history out of order: %#v", hist)
	}
}

func TestSetRequiresIdentity(t *testing.T) {
	t.Parallel()

	s := newSwitch(t)
	if _, err := s.Set(context.Background(), true, ""); err == nil {
		t.Fatal("expected error for empty changedBy")
	}
}

func TestSetWithoutAuditRowDoesNotFlip(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "warden.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	s, err := New(context.Background(), db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Make the audit insert fail; the switch must stay off.
	_ = db.Close()
	if _, err := s.Set(context.Background(), true, "admin"); err == nil {
		t.Fatal("expected error when the audit row cannot be written")
	}
	if s.Engaged() {
		t.Fatal("switch flipped without an audit row")
	}
	if st := s.State(); st.LastChangedBy != "" {
		t.Fatalf("change metadata recorded for a failed toggle: %#v", st)
	}
}

func TestStateRestoredAcrossRestart(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "warden.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	s, err := New(context.Background(), db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Set(context.Background(), true, "admin"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_ = db.Close()

	db2, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = db2.Close() })

	s2, err := New(context.Background(), db2)
	if err != nil {
		t.Fatalf("New after restart: %v", err)
	}
	if !s2.Engaged() {
		t.Fatal("engaged state should survive restart")
	}
	if s2.State().LastChangedBy != "admin" {
		t.Fatalf("change metadata lost: %#v", s2.State())
	}
}

func TestSubscribeSeesToggle(t *testing.T) {
	t.Parallel()

	s := newSwitch(t)
	ch, cancel := s.Subscribe()
	defer cancel()

	if _, err := s.Set(context.Background(), true, "admin"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	select {
	case st := <-ch:
		if !st.Engaged {
			t.Fatalf("unexpected notification: %#v", st)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification received")
	}
}
