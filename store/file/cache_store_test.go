package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/sumi-social/sumid/core"
)

func testStore(t *testing.T, path string) *CacheStore {
	t.Helper()
	store, err := NewCacheStore(path, glog.Nop())
	if err != nil {
		t.Fatalf("new cache store: %v", err)
	}
	return store
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	store := testStore(t, path)

	saved := core.CacheSnapshot{
		Accounts: map[string]core.CachedAccount{
			"acct-1": {AccessToken: "access-1", RefreshToken: "refresh-1"},
			"acct-2": {AccessToken: "access-2", RefreshToken: "refresh-2"},
		},
		Scopes: []string{"tweet.read", "users.read"},
	}
	if err := store.Save(context.Background(), saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, ok, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatalf("expected a snapshot")
	}
	if len(loaded.Accounts) != 2 || loaded.Accounts["acct-1"].RefreshToken != "refresh-1" {
		t.Fatalf("unexpected accounts %+v", loaded.Accounts)
	}
	if !core.ScopesEqual(loaded.Scopes, saved.Scopes) {
		t.Fatalf("scope fingerprint lost: %v", loaded.Scopes)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("cache file must be owner-only, got %v", info.Mode().Perm())
	}
}

func TestLoadMissingFile(t *testing.T) {
	store := testStore(t, filepath.Join(t.TempDir(), "absent.json"))
	_, ok, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("a missing file must not fail: %v", err)
	}
	if ok {
		t.Fatalf("expected no snapshot")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := testStore(t, path)
	_, ok, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("a corrupt file must not fail: %v", err)
	}
	if ok {
		t.Fatalf("expected no snapshot from a corrupt file")
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := testStore(t, path)

	first := core.CacheSnapshot{
		Accounts: map[string]core.CachedAccount{"acct-1": {AccessToken: "a1"}},
		Scopes:   []string{"tweet.read"},
	}
	second := core.CacheSnapshot{
		Accounts: map[string]core.CachedAccount{"acct-2": {AccessToken: "a2"}},
		Scopes:   []string{"tweet.read"},
	}
	if err := store.Save(context.Background(), first); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := store.Save(context.Background(), second); err != nil {
		t.Fatalf("second save: %v", err)
	}
	loaded, ok, err := store.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if _, stale := loaded.Accounts["acct-1"]; stale {
		t.Fatalf("old snapshot leaked through: %+v", loaded.Accounts)
	}
	if loaded.Accounts["acct-2"].AccessToken != "a2" {
		t.Fatalf("unexpected accounts %+v", loaded.Accounts)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}
