package filter

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/sumi-social/sumid/core"
	"github.com/sumi-social/sumid/script"
)

func writeFilter(t *testing.T, dir, name, manifest, source string) {
	t.Helper()
	filterDir := filepath.Join(dir, name)
	if err := os.MkdirAll(filterDir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filterDir, err)
	}
	if err := os.WriteFile(filepath.Join(filterDir, "filter.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(filterDir, "main.js"), []byte(source), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
}

const keepAllManifest = `name: keep-all
description: passes everything through
author: tester
entrypoint: main.js
scopes: [tweet.read]
`

func TestLoadOrdersBySubdirectory(t *testing.T) {
	dir := t.TempDir()
	writeFilter(t, dir, "20-second", `name: second
entrypoint: main.js
scopes: [tweet.read]
`, `post`)
	writeFilter(t, dir, "10-first", `name: first
entrypoint: main.js
scopes: [tweet.read]
`, `post`)

	descriptors, err := Load(dir, []string{"tweet.read"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(descriptors) != 2 {
		t.Fatalf("expected two filters, got %d", len(descriptors))
	}
	if descriptors[0].Manifest.Name != "first" || descriptors[1].Manifest.Name != "second" {
		t.Fatalf("unexpected order: %v, %v", descriptors[0].Manifest.Name, descriptors[1].Manifest.Name)
	}
}

func TestLoadUnsetDirIsEmptySet(t *testing.T) {
	descriptors, err := Load("", []string{"tweet.read"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(descriptors) != 0 {
		t.Fatalf("expected an empty set, got %d", len(descriptors))
	}
}

func TestLoadMissingDirFailsTheLoad(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent"), []string{"tweet.read"})
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != core.ErrorFilterLoad {
		t.Fatalf("expected %s for a missing directory, got %v", core.ErrorFilterLoad, err)
	}
}

func TestLoadNonDirectoryPathFailsTheLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filters")
	if err := os.WriteFile(path, []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := Load(path, []string{"tweet.read"})
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != core.ErrorFilterLoad {
		t.Fatalf("expected %s for a non-directory path, got %v", core.ErrorFilterLoad, err)
	}
}

func TestLoadInsufficientScopesAbortsWholeSet(t *testing.T) {
	dir := t.TempDir()
	writeFilter(t, dir, "a-fine", keepAllManifest, `post`)
	writeFilter(t, dir, "b-greedy", `name: greedy
entrypoint: main.js
scopes: [tweet.read, dm.read]
`, `post`)

	_, err := Load(dir, []string{"tweet.read"})
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != core.ErrorFilterScopes {
		t.Fatalf("expected %s, got %v", core.ErrorFilterScopes, err)
	}
	if richErr.Metadata["filter"] != "greedy" {
		t.Fatalf("offending filter not named: %v", richErr.Metadata)
	}
}

func TestLoadBrokenManifestAbortsWholeSet(t *testing.T) {
	dir := t.TempDir()
	writeFilter(t, dir, "a-fine", keepAllManifest, `post`)
	writeFilter(t, dir, "b-broken", `name: [unterminated`, `post`)

	_, err := Load(dir, []string{"tweet.read"})
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != core.ErrorFilterLoad {
		t.Fatalf("expected %s, got %v", core.ErrorFilterLoad, err)
	}
}

func TestLoadMissingEntrypointAbortsWholeSet(t *testing.T) {
	dir := t.TempDir()
	filterDir := filepath.Join(dir, "no-script")
	if err := os.MkdirAll(filterDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manifest := "name: no-script\nentrypoint: gone.js\nscopes: [tweet.read]\n"
	if err := os.WriteFile(filepath.Join(filterDir, "filter.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	_, err := Load(dir, []string{"tweet.read"})
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != core.ErrorFilterLoad {
		t.Fatalf("expected %s, got %v", core.ErrorFilterLoad, err)
	}
}

func TestManifestValidateRejectsEscapingEntrypoint(t *testing.T) {
	manifest := Manifest{Name: "escape", Entrypoint: "../../etc/passwd"}
	if err := manifest.Validate(); err == nil {
		t.Fatalf("expected a validation error")
	}
}

func newTestPipeline(t *testing.T, descriptors []Descriptor) *Pipeline {
	t.Helper()
	pipeline, err := NewPipeline(descriptors, script.NewEngine(), glog.Nop())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return pipeline
}

func TestApplyShortCircuitsAndPreservesOrder(t *testing.T) {
	descriptors := []Descriptor{
		{
			Manifest: Manifest{Name: "drop-spam"},
			Source:   `post.text.includes("spam") ? null : post`,
		},
		{
			Manifest: Manifest{Name: "uppercase"},
			Source:   `post.text = post.text.toUpperCase(); post`,
		},
	}
	pipeline := newTestPipeline(t, descriptors)

	items := []map[string]any{
		{"id": "1", "text": "keep me"},
		{"id": "2", "text": "pure spam"},
		{"id": "3", "text": "keep me too"},
	}
	kept, err := pipeline.Apply(items)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	gotIDs := make([]string, 0, len(kept))
	for _, item := range kept {
		gotIDs = append(gotIDs, item["id"].(string))
	}
	if !reflect.DeepEqual(gotIDs, []string{"1", "3"}) {
		t.Fatalf("unexpected surviving items: %v", gotIDs)
	}
	// the rejected item must not reach the second filter
	if kept[0]["text"] != "KEEP ME" || kept[1]["text"] != "KEEP ME TOO" {
		t.Fatalf("rewrites lost: %+v", kept)
	}
}

func TestApplyScriptErrorAbortsWholePass(t *testing.T) {
	descriptors := []Descriptor{
		{Manifest: Manifest{Name: "fine"}, Source: `post`},
		{Manifest: Manifest{Name: "broken"}, Source: `throw new Error("boom")`},
	}
	pipeline := newTestPipeline(t, descriptors)
	_, err := pipeline.Apply([]map[string]any{{"id": "1", "text": "x"}})
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != core.ErrorScript {
		t.Fatalf("expected %s, got %v", core.ErrorScript, err)
	}
}

func TestApplyEmptyChainKeepsEverything(t *testing.T) {
	pipeline := newTestPipeline(t, nil)
	items := []map[string]any{{"id": "1"}, {"id": "2"}}
	kept, err := pipeline.Apply(items)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(kept) != 2 {
		t.Fatalf("expected both items, got %d", len(kept))
	}
}

func TestLoadThenApplyEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeFilter(t, dir, "only", keepAllManifest, `post.seen = true; post`)
	descriptors, err := Load(dir, []string{"tweet.read"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	pipeline := newTestPipeline(t, descriptors)
	kept, err := pipeline.Apply([]map[string]any{{"id": "1"}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(kept) != 1 || kept[0]["seen"] != true {
		t.Fatalf("unexpected result %+v", kept)
	}
}
