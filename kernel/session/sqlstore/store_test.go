package sqlstore

import (
	"path/filepath"
	"testing"

	"github.com/Terryzhang-jp/curise-agent/kernel/session"
	"github.com/Terryzhang-jp/curise-agent/kernel/session/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) session.Store {
		s, err := Open(filepath.Join(t.TempDir(), "agent.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("   "); err == nil {
		t.Fatal("empty path must fail")
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := s.CreateSession(t.Context(), "persisted")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := session.AddUserMessage(t.Context(), s, sess.ID, "hello"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	got, err := s2.GetSession(t.Context(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "persisted" {
		t.Errorf("title = %q", got.Title)
	}
	msgs, err := s2.ListMessages(t.Context(), sess.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("messages = %d", len(msgs))
	}
}
