package storage

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-node/migrations" // registers kv_store schema
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "node.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db)
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return newSQLiteStore(t) },
	}

	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			ctx := context.Background()

			if _, err := s.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Load(missing) error = %v, want ErrNotFound", err)
			}

			if err := s.Save(ctx, KeySafetyState, []byte{1, 2}); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if err := s.Save(ctx, KeySafetyState, []byte{3}); err != nil {
				t.Fatalf("Save() overwrite error = %v", err)
			}
			got, err := s.Load(ctx, KeySafetyState)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !bytes.Equal(got, []byte{3}) {
				t.Errorf("Load() = %v, want [3]", got)
			}

			_ = s.Save(ctx, KeyLibraryPrefix+"ph_v2", []byte("b"))
			_ = s.Save(ctx, KeyLibraryPrefix+"fan", []byte("a"))
			keys, err := s.Keys(ctx, KeyLibraryPrefix)
			if err != nil {
				t.Fatalf("Keys() error = %v", err)
			}
			if len(keys) != 2 || keys[0] != "library/fan" || keys[1] != "library/ph_v2" {
				t.Errorf("Keys() = %v", keys)
			}

			if err := s.Delete(ctx, KeySafetyState); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := s.Load(ctx, KeySafetyState); !errors.Is(err, ErrNotFound) {
				t.Errorf("Load() after Delete error = %v, want ErrNotFound", err)
			}
			if err := s.Delete(ctx, "never-saved"); err != nil {
				t.Errorf("Delete(missing) error = %v", err)
			}
		})
	}
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	s := NewMemoryStore()
	v := []byte{1}
	_ = s.Save(context.Background(), "k", v)
	v[0] = 9
	got, _ := s.Load(context.Background(), "k")
	if got[0] != 1 {
		t.Error("Save should copy the caller's slice")
	}
}
