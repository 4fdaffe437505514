package sumid

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sumi-social/sumid/core"
)

type stubRemoteAPI struct{}

func (stubRemoteAPI) Identity(context.Context, string) (string, error) { return "acct-1", nil }

func (stubRemoteAPI) Validate(context.Context, string) (bool, error) { return true, nil }

func (stubRemoteAPI) ExchangeCode(context.Context, string, string, string) (core.TokenPair, error) {
	return core.TokenPair{}, nil
}

func (stubRemoteAPI) ExchangeRefresh(context.Context, string, []string) (core.TokenPair, error) {
	return core.TokenPair{}, nil
}

func (stubRemoteAPI) Timeline(context.Context, string, string, map[string]any) (core.TimelinePage, error) {
	return core.TimelinePage{}, nil
}

func (stubRemoteAPI) Call(context.Context, string, string, string, string, map[string]any) (core.CallResult, error) {
	return core.CallResult{}, nil
}

type stubStore struct{}

func (stubStore) Load(context.Context) (core.CacheSnapshot, bool, error) {
	return core.CacheSnapshot{}, false, nil
}

func (stubStore) Save(context.Context, core.CacheSnapshot) error { return nil }

func testConfig(t *testing.T) core.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := core.DefaultConfig()
	cfg.ClientID = "client-1"
	cfg.SocketPath = filepath.Join(dir, "sumid.sock")
	cfg.FilterDir = filepath.Join(dir, "filters")
	if err := os.MkdirAll(cfg.FilterDir, 0o755); err != nil {
		t.Fatalf("filter dir: %v", err)
	}
	cfg.Cache.Path = filepath.Join(dir, "credentials.json")
	return cfg
}

func TestNewRejectsMissingFilterDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.FilterDir = filepath.Join(cfg.FilterDir, "absent")
	if _, err := New(context.Background(), cfg, WithRemoteAPI(stubRemoteAPI{}), WithCacheStore(stubStore{})); err == nil {
		t.Fatalf("expected a startup failure for a missing filter directory")
	}
}

func TestNewWiresTheDispatcher(t *testing.T) {
	daemon, err := New(context.Background(), testConfig(t),
		WithRemoteAPI(stubRemoteAPI{}), WithCacheStore(stubStore{}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer daemon.Close()

	raw := daemon.Dispatcher().HandleLine(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"status","id":1}`))
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("response: %v", err)
	}
	result, ok := decoded["result"].(map[string]any)
	if !ok || result["version"] == "" {
		t.Fatalf("unexpected response %s", raw)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.ClientID = ""
	if _, err := New(context.Background(), cfg, WithRemoteAPI(stubRemoteAPI{}), WithCacheStore(stubStore{})); err == nil {
		t.Fatalf("expected a validation error")
	}
}

func TestNewRejectsBrokenFilterSet(t *testing.T) {
	cfg := testConfig(t)
	dir := filepath.Join(cfg.FilterDir, "10-broken")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// manifest without an entrypoint must keep the daemon from starting
	if err := os.WriteFile(filepath.Join(dir, "filter.yaml"), []byte("name: broken\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := New(context.Background(), cfg, WithRemoteAPI(stubRemoteAPI{}), WithCacheStore(stubStore{})); err == nil {
		t.Fatalf("expected a filter load failure")
	}
}
