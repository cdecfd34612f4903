package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestFilesystemStore_PutGetDelete(t *testing.T) {
	root := filepath.Join(t.TempDir(), "blobs")
	store, err := NewFilesystemStore(root)
	if err != nil {
		t.Fatalf("new filesystem store: %v", err)
	}

	key := "pending/2f1c/case.json"
	payload := []byte(`{"case_id":"2f1c"}`)
	if err := store.Put(context.Background(), key, "application/json", payload); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("unexpected payload: %q", string(got))
	}

	if err := store.Delete(context.Background(), key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = store.Get(context.Background(), key)
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if err := store.Delete(context.Background(), key); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestFilesystemStore_ListAndExists(t *testing.T) {
	root := t.TempDir()
	store, err := NewFilesystemStore(root)
	if err != nil {
		t.Fatalf("new filesystem store: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"raw/b.json", "raw/a.json", "responded/a.sent", "rawish/x.json"} {
		if err := store.Put(ctx, key, "", []byte("{}")); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "raw", "c.json.tmp"), []byte("{"), 0o640); err != nil {
		t.Fatalf("write tmp: %v", err)
	}

	keys, err := store.List(ctx, "raw/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := []string{"raw/a.json", "raw/b.json"}; !reflect.DeepEqual(keys, want) {
		t.Fatalf("list = %v, want %v", keys, want)
	}

	keys, err = store.List(ctx, "missing/")
	if err != nil {
		t.Fatalf("list missing dir: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", keys)
	}

	ok, err := store.Exists(ctx, "responded/a.sent")
	if err != nil || !ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}
	ok, err = store.Exists(ctx, "responded/b.sent")
	if err != nil || ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}
}

func TestFilesystemStore_RejectsEscapingKeys(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem store: %v", err)
	}
	if _, err := store.resolvePath("   "); err == nil {
		t.Fatal("expected error for blank key")
	}
	path, err := store.resolvePath("../../etc/passwd")
	if err != nil {
		t.Fatalf("resolvePath: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(store.root, "etc") {
		t.Fatalf("key escaped root: %s", path)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, "/pending/x.json", "", []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "expired/y.json", "", []byte("2")); err != nil {
		t.Fatalf("put: %v", err)
	}

	keys, _ := store.List(ctx, "pending/")
	if !reflect.DeepEqual(keys, []string{"pending/x.json"}) {
		t.Fatalf("list = %v", keys)
	}
	data, err := store.Get(ctx, "pending/x.json")
	if err != nil || string(data) != "1" {
		t.Fatalf("get = %q, %v", data, err)
	}
	_ = store.Delete(ctx, "pending/x.json")
	if _, err := store.Get(ctx, "pending/x.json"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestNewFromConfig(t *testing.T) {
	s, err := NewFromConfig(context.Background(), Config{Backend: "filesystem", FSRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("filesystem backend: %v", err)
	}
	if _, ok := s.(*FilesystemStore); !ok {
		t.Fatalf("expected *FilesystemStore, got %T", s)
	}
	if _, err := NewFromConfig(context.Background(), Config{Backend: "ftp"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := NewFromConfig(context.Background(), Config{Backend: "gcs"}); err == nil {
		t.Fatal("expected error for gcs without bucket")
	}
}
