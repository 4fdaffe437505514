// Package filter loads operator-authored filter manifests and runs timeline
// items through their scripts. A filter directory holds one subdirectory per
// filter, each carrying a filter.yaml manifest and the entrypoint script it
// names. Loading is all-or-nothing: one bad manifest, missing script, or
// scope deficit rejects the whole set.
package filter

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	"github.com/sumi-social/sumid/core"
)

const manifestFileName = "filter.yaml"

// Manifest is the operator-facing filter.yaml schema.
type Manifest struct {
	Name        string   `koanf:"name" mapstructure:"name"`
	Description string   `koanf:"description" mapstructure:"description"`
	Author      string   `koanf:"author" mapstructure:"author"`
	Entrypoint  string   `koanf:"entrypoint" mapstructure:"entrypoint"`
	Scopes      []string `koanf:"scopes" mapstructure:"scopes"`
}

func (m Manifest) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("filter: manifest name is required")
	}
	if strings.TrimSpace(m.Entrypoint) == "" {
		return fmt.Errorf("filter: manifest entrypoint is required")
	}
	if strings.Contains(m.Entrypoint, "..") || filepath.IsAbs(m.Entrypoint) {
		return fmt.Errorf("filter: manifest entrypoint must be a relative path inside the filter directory")
	}
	return nil
}

// Descriptor is one loaded, scope-checked filter ready to run.
type Descriptor struct {
	Manifest Manifest
	Source   string
}

// Load reads every filter under dir, in lexical subdirectory order, and
// verifies each filter's required scopes against the granted set. Filters
// whose scope needs exceed the grant make the whole set unusable.
//
// An empty dir means filtering is explicitly off. A configured dir that is
// missing or not a directory is an error: a typo here must not silently
// disable the pipeline.
func Load(dir string, grantedScopes []string) ([]Descriptor, error) {
	if strings.TrimSpace(dir) == "" {
		return []Descriptor{}, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, loadError(fmt.Errorf("filter: directory %s: %w", dir, err))
	}
	if !info.IsDir() {
		return nil, loadError(fmt.Errorf("filter: %s is not a directory", dir))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, loadError(fmt.Errorf("filter: read directory %s: %w", dir, err))
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	granted := core.NormalizeScopes(grantedScopes)
	descriptors := make([]Descriptor, 0, len(names))
	for _, name := range names {
		descriptor, err := loadOne(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if missing := core.MissingScopes(descriptor.Manifest.Scopes, granted); len(missing) > 0 {
			return nil, core.NewError(
				fmt.Sprintf("filter: %q requires scopes beyond the grant: %s",
					descriptor.Manifest.Name, strings.Join(missing, ", ")),
				goerrors.CategoryAuthz, core.ErrorFilterScopes,
			).WithMetadata(map[string]any{
				"filter":         descriptor.Manifest.Name,
				"missing_scopes": missing,
			})
		}
		descriptors = append(descriptors, descriptor)
	}
	return descriptors, nil
}

func loadOne(filterDir string) (Descriptor, error) {
	manifestPath := filepath.Join(filterDir, manifestFileName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return Descriptor{}, loadError(fmt.Errorf("filter: read manifest %s: %w", manifestPath, err))
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Descriptor{}, loadError(fmt.Errorf("filter: parse manifest %s: %w", manifestPath, err))
	}
	manifest, err := cfgx.Build[Manifest](raw,
		cfgx.WithValidator[Manifest]((*Manifest).Validate),
	)
	if err != nil {
		return Descriptor{}, loadError(fmt.Errorf("filter: manifest %s: %w", manifestPath, err))
	}

	scriptPath := filepath.Join(filterDir, manifest.Entrypoint)
	source, err := os.ReadFile(scriptPath)
	if err != nil {
		return Descriptor{}, loadError(fmt.Errorf("filter: read entrypoint %s: %w", scriptPath, err))
	}
	manifest.Scopes = core.NormalizeScopes(manifest.Scopes)
	return Descriptor{Manifest: manifest, Source: string(source)}, nil
}

func loadError(err error) *goerrors.Error {
	return core.WrapError(err, "filter: load failed",
		goerrors.CategoryOperation, core.ErrorFilterLoad)
}
