package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults with client id", func(c *Config) { c.ClientID = "client" }, false},
		{"missing client id", func(c *Config) {}, true},
		{"missing scopes", func(c *Config) {
			c.ClientID = "client"
			c.Scopes = nil
		}, true},
		{"bad cache driver", func(c *Config) {
			c.ClientID = "client"
			c.Cache.Driver = "mysql"
		}, true},
		{"postgres without dsn", func(c *Config) {
			c.ClientID = "client"
			c.Cache.Driver = "postgres"
			c.Cache.DSN = ""
		}, true},
		{"postgres with dsn", func(c *Config) {
			c.ClientID = "client"
			c.Cache.Driver = "postgres"
			c.Cache.DSN = "postgres://localhost/sumid"
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected a validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestFileRawConfigLoaderMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "client_id: from-file\nsocket_path: /tmp/from-file.sock\ncache:\n  driver: file\n  path: /tmp/cache.json\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loader := FileRawConfigLoader{
		Path: path,
		Environ: func() []string {
			return []string{
				"SUMID_CLIENT_ID=from-env",
				"SUMID_CACHE__DRIVER=sqlite3",
				"SUMID_SCOPES=tweet.read users.read",
				"UNRELATED=ignored",
			}
		},
	}
	raw, err := loader.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	if raw["client_id"] != "from-env" {
		t.Fatalf("environment should win over the file, got %v", raw["client_id"])
	}
	if raw["socket_path"] != "/tmp/from-file.sock" {
		t.Fatalf("file value lost: %v", raw["socket_path"])
	}
	cache, ok := raw["cache"].(map[string]any)
	if !ok || cache["driver"] != "sqlite3" {
		t.Fatalf("nested env override failed: %v", raw["cache"])
	}
	scopes, ok := raw["scopes"].([]string)
	if !ok || len(scopes) != 2 {
		t.Fatalf("scope list override failed: %v", raw["scopes"])
	}
}

func TestFileRawConfigLoaderMissingFile(t *testing.T) {
	loader := FileRawConfigLoader{
		Path:    filepath.Join(t.TempDir(), "absent.yaml"),
		Environ: func() []string { return nil },
	}
	raw, err := loader.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("a missing file must not fail: %v", err)
	}
	if len(raw) != 0 {
		t.Fatalf("expected an empty raw map, got %v", raw)
	}
}

func TestGoOptionsResolverLayering(t *testing.T) {
	defaults := DefaultConfig()
	loaded := Config{ClientID: "from-config", FilterDir: "/etc/sumid/filters"}
	runtime := Config{ClientID: "from-runtime"}

	resolved, err := GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ClientID != "from-runtime" {
		t.Fatalf("runtime layer should win, got %q", resolved.ClientID)
	}
	if resolved.FilterDir != "/etc/sumid/filters" {
		t.Fatalf("config layer lost, got %q", resolved.FilterDir)
	}
	if resolved.SocketPath != defaults.SocketPath {
		t.Fatalf("defaults layer lost, got %q", resolved.SocketPath)
	}
}

func TestYAMLConfigMergeUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("client_id: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	loader := FileRawConfigLoader{Path: path, Environ: func() []string { return nil }}
	if _, err := loader.LoadRaw(context.Background()); err == nil {
		t.Fatalf("expected an error for a malformed config file")
	}
}
