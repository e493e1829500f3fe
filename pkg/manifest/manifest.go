// Package manifest loads the JSON file listing the scripts a host serves and
// registers them with a script registry.
package manifest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/morezero/apprunner/pkg/jsscript"
	"github.com/morezero/apprunner/pkg/script"
	"github.com/morezero/apprunner/pkg/semver"
)

const logPrefix = "manifest:loader"

// EnvManifestFile names the environment variable consulted after explicit paths.
const EnvManifestFile = "APPRUNNER_MANIFEST_FILE"

// ScriptEntry is one script version listed in a manifest.
type ScriptEntry struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	File        string `json:"file"`
	Status      string `json:"status,omitempty"`
	Description string `json:"description,omitempty"`
}

// Manifest is the root of a manifest file.
type Manifest struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description,omitempty"`
	Scripts     []ScriptEntry     `json:"scripts"`
	Aliases     map[string]string `json:"aliases,omitempty"`

	// Path the manifest was read from; script files are relative to its directory.
	Path string `json:"-"`
}

// Load reads the first manifest that can be parsed. It tries the given paths,
// then APPRUNNER_MANIFEST_FILE, then config/apprunner.json and apprunner.json.
// When none is found the empty default manifest is returned.
func Load(paths ...string) (*Manifest, error) {
	candidates := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			candidates = append(candidates, p)
		}
	}
	if envPath := os.Getenv(EnvManifestFile); envPath != "" {
		candidates = append(candidates, envPath)
	}
	candidates = append(candidates, filepath.Join("config", "apprunner.json"), "apprunner.json")

	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse manifest %s: %v", logPrefix, p, err))
			continue
		}
		m.Path = p

		slog.Info(fmt.Sprintf("%s - Loaded manifest %s with %d scripts", logPrefix, p, len(m.Scripts)))
		return &m, nil
	}

	slog.Info(fmt.Sprintf("%s - No manifest found, serving built-in scripts only", logPrefix))
	return Default(), nil
}

// Default returns the manifest used when no file is found.
func Default() *Manifest {
	return &Manifest{
		Name:        "apprunner",
		Version:     "1.0.0",
		Description: "No application scripts",
		Aliases:     map[string]string{},
	}
}

// Register compiles every listed script and adds it to reg, then adds the
// aliases. It stops at the first failure.
func (m *Manifest) Register(reg *script.Registry) (int, error) {
	dir := "."
	if m.Path != "" {
		dir = filepath.Dir(m.Path)
	}

	for i, entry := range m.Scripts {
		status, err := semver.ParseStatus(entry.Status)
		if err != nil {
			return i, fmt.Errorf("%s - %s: %w", logPrefix, entry.Name, err)
		}
		file := entry.File
		if file == "" {
			return i, fmt.Errorf("%s - %s@%s has no file", logPrefix, entry.Name, entry.Version)
		}
		if !filepath.IsAbs(file) {
			file = filepath.Join(dir, file)
		}

		s, err := jsscript.Load(file)
		if err != nil {
			return i, fmt.Errorf("%s - loading %s: %w", logPrefix, entry.Name, err)
		}
		if err := reg.Register(entry.Name, entry.Version, s,
			script.WithStatus(status),
			script.WithDescription(entry.Description),
			script.WithSource(file),
		); err != nil {
			return i, err
		}
	}

	for alias, target := range m.Aliases {
		if err := reg.Alias(alias, target); err != nil {
			return len(m.Scripts), err
		}
	}
	return len(m.Scripts), nil
}
