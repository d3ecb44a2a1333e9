package snapshot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/keyweave/internal/keytest"
)

func stores(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "snapshots.db")})
			if err != nil {
				t.Fatalf("NewSQLiteStore() error = %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func sample(id string, at time.Time) *Snapshot {
	return &Snapshot{
		ID:          id,
		Description: "before " + id,
		CreatedBy:   "alice",
		Timestamp:   at,
		ViewVersion: 3,
		Keys: []KeyState{
			{KeyID: "a", Weight: 100, Enabled: true},
			{KeyID: "b", Weight: 0, Enabled: false},
		},
	}
}

func TestStores(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("SaveAndGet", func(t *testing.T) {
				s := open(t)
				want := sample("s1", keytest.Epoch)
				want.Automatic = true
				if err := s.Save(ctx, want); err != nil {
					t.Fatal(err)
				}

				got, err := s.Get(ctx, "s1")
				if err != nil {
					t.Fatal(err)
				}
				if got.ID != want.ID || got.Description != want.Description || got.CreatedBy != want.CreatedBy ||
					!got.Timestamp.Equal(want.Timestamp) || !got.Automatic || got.ViewVersion != 3 {
					t.Errorf("Get() = %+v, want %+v", got, want)
				}
				if len(got.Keys) != 2 || got.Keys[0] != want.Keys[0] || got.Keys[1] != want.Keys[1] {
					t.Errorf("Keys = %+v", got.Keys)
				}
			})

			t.Run("GetMissing", func(t *testing.T) {
				s := open(t)
				_, err := s.Get(ctx, "nope")
				var nf *SnapshotNotFoundError
				if !errors.As(err, &nf) || nf.ID != "nope" || !errors.Is(err, ErrSnapshotNotFound) {
					t.Errorf("Get(nope) error = %v", err)
				}
			})

			t.Run("DuplicateRejected", func(t *testing.T) {
				s := open(t)
				if err := s.Save(ctx, sample("dup", keytest.Epoch)); err != nil {
					t.Fatal(err)
				}
				err := s.Save(ctx, sample("dup", keytest.Epoch.Add(time.Second)))
				if !errors.Is(err, ErrDuplicateSnapshot) {
					t.Errorf("second Save() error = %v, want ErrDuplicateSnapshot", err)
				}
			})

			t.Run("ListNewestFirst", func(t *testing.T) {
				s := open(t)
				for _, snap := range []*Snapshot{
					sample("old", keytest.Epoch),
					sample("new", keytest.Epoch.Add(2*time.Hour)),
					sample("mid", keytest.Epoch.Add(time.Hour)),
					sample("mid2", keytest.Epoch.Add(time.Hour)),
				} {
					if err := s.Save(ctx, snap); err != nil {
						t.Fatal(err)
					}
				}

				list, err := s.List(ctx)
				if err != nil {
					t.Fatal(err)
				}
				want := []string{"new", "mid2", "mid", "old"}
				if len(list) != len(want) {
					t.Fatalf("List() returned %d, want %d", len(list), len(want))
				}
				for i, snap := range list {
					if snap.ID != want[i] {
						t.Errorf("List()[%d] = %s, want %s", i, snap.ID, want[i])
					}
				}
			})

			t.Run("ReturnsCopies", func(t *testing.T) {
				s := open(t)
				orig := sample("c", keytest.Epoch)
				if err := s.Save(ctx, orig); err != nil {
					t.Fatal(err)
				}
				orig.Keys[0].Weight = 999

				got, _ := s.Get(ctx, "c")
				got.Keys[0].Weight = 555

				again, _ := s.Get(ctx, "c")
				if again.Keys[0].Weight != 100 {
					t.Errorf("stored snapshot was mutated: %+v", again.Keys[0])
				}
			})
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "snapshots.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, sample("keep", keytest.Epoch)); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewSQLiteStore(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Get(ctx, "keep"); err != nil {
		t.Errorf("Get() after reopen error = %v", err)
	}
}

func TestSQLiteStore_RejectsUpdate(t *testing.T) {
	s, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "s.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Save(ctx, sample("x", keytest.Epoch)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE snapshots SET description = 'edited'"); err == nil {
		t.Error("expected UPDATE to be rejected")
	}
}

func TestNewSQLiteStore_EmptyPath(t *testing.T) {
	var se *StorageError
	if _, err := NewSQLiteStore(SQLiteConfig{}); !errors.As(err, &se) {
		t.Errorf("error = %v, want *StorageError", err)
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	s.Close()

	err := s.Save(context.Background(), sample("x", keytest.Epoch))
	var se *StorageError
	if !errors.As(err, &se) || !errors.Is(err, ErrClosed) {
		t.Errorf("Save() after close error = %v", err)
	}
}
