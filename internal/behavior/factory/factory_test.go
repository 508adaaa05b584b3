package factory

import (
	"path/filepath"
	"testing"

	"github.com/loykin/procsentry/internal/behavior"
)

func TestNewNoPersistence(t *testing.T) {
	for _, typ := range []string{"", "none"} {
		s, err := New(Config{Type: typ})
		if err != nil || s != nil {
			t.Fatalf("type %q: store = %v, err = %v", typ, s, err)
		}
	}
}

func TestNewMemory(t *testing.T) {
	s, err := New(Config{Type: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*behavior.MemoryStore); !ok {
		t.Fatalf("store type = %T", s)
	}
}

func TestNewSQLite(t *testing.T) {
	s, err := New(Config{Type: "sqlite", Path: filepath.Join(t.TempDir(), "behavior.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()
	if _, ok := s.(*behavior.SQLiteStore); !ok {
		t.Fatalf("store type = %T", s)
	}

	if _, err := New(Config{Type: "sqlite"}); err == nil {
		t.Fatal("sqlite without path accepted")
	}
}

func TestNewRejections(t *testing.T) {
	if _, err := New(Config{Type: "postgres"}); err == nil {
		t.Fatal("postgres without dsn accepted")
	}
	if _, err := New(Config{Type: "redis"}); err == nil {
		t.Fatal("unknown type accepted")
	}
}
