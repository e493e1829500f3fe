// Package script keeps the application scripts a host can run, indexed by name
// and version, and resolves script references such as "blog@^2.1.0".
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/apprunner/pkg/apprunner"
	"github.com/morezero/apprunner/pkg/semver"
)

const logPrefix = "script:registry"

var (
	// ErrScriptNotFound is returned when no registered version matches a reference.
	ErrScriptNotFound = errors.New("script not found")

	// ErrDuplicateScript is returned when a name and version are registered twice.
	ErrDuplicateScript = errors.New("script version already registered")
)

// Entry is one registered script version.
type Entry struct {
	Name        string        `json:"name"`
	Version     string        `json:"version"`
	Status      semver.Status `json:"status"`
	Description string        `json:"description,omitempty"`
	Source      string        `json:"source,omitempty"`

	Script apprunner.Script `json:"-"`
}

// Ref returns the exact reference of the entry ("name@version").
func (e Entry) Ref() string {
	return semver.BuildScriptRef(e.Name, e.Version)
}

// Option sets optional Entry fields at registration.
type Option func(*Entry)

// WithDescription sets the entry description.
func WithDescription(d string) Option {
	return func(e *Entry) { e.Description = d }
}

// WithStatus sets the lifecycle status; the default is active.
func WithStatus(s semver.Status) Option {
	return func(e *Entry) { e.Status = s }
}

// WithSource records where the script came from (a file path, "builtin").
func WithSource(src string) Option {
	return func(e *Entry) { e.Source = src }
}

type registered struct {
	entry   Entry
	release semver.Release
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	scripts map[string][]registered
	aliases map[string]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		scripts: make(map[string][]registered),
		aliases: make(map[string]string),
	}
}

// Register adds s under name and version. An empty version registers 0.0.0.
func (r *Registry) Register(name, version string, s apprunner.Script, opts ...Option) error {
	if !semver.ValidateScriptName(name) {
		return fmt.Errorf("%s - invalid script name %q", logPrefix, name)
	}
	if s == nil {
		return fmt.Errorf("%s - nil script for %s", logPrefix, name)
	}

	entry := Entry{Name: name, Status: semver.StatusActive, Script: s}
	for _, opt := range opts {
		opt(&entry)
	}
	release, err := semver.NewRelease(version, entry.Status)
	if err != nil {
		return fmt.Errorf("%s - registering %s: %w", logPrefix, name, err)
	}
	entry.Version = release.Version.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.scripts[name] {
		if existing.release.Version.Equal(release.Version) {
			return fmt.Errorf("%s - %s: %w", logPrefix, entry.Ref(), ErrDuplicateScript)
		}
	}
	r.scripts[name] = append(r.scripts[name], registered{entry: entry, release: release})

	slog.Debug(fmt.Sprintf("%s - registered %s (%s)", logPrefix, entry.Ref(), entry.Status))
	return nil
}

// Alias makes alias resolve to the script named target.
func (r *Registry) Alias(alias, target string) error {
	if !semver.ValidateScriptName(alias) {
		return fmt.Errorf("%s - invalid alias %q", logPrefix, alias)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias] = target
	return nil
}

// Lookup resolves ref to the best matching entry. Disabled versions never match.
func (r *Registry) Lookup(ref string) (*Entry, error) {
	parsed, err := semver.ParseScriptRef(ref)
	if err != nil {
		return nil, fmt.Errorf("%s - %v: %w", logPrefix, err, ErrScriptNotFound)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	name := parsed.Name
	candidates, ok := r.scripts[name]
	if !ok {
		if target, aliased := r.aliases[name]; aliased {
			candidates = r.scripts[target]
		}
	}

	releases := make([]semver.Release, len(candidates))
	for i, c := range candidates {
		releases[i] = c.release
	}
	best, found := semver.Resolve(semver.ResolveParams{Releases: releases, Range: parsed.Range})
	if !found {
		return nil, fmt.Errorf("%s - %s: %w", logPrefix, parsed.Raw, ErrScriptNotFound)
	}
	for _, c := range candidates {
		if c.release.Version.Equal(best.Version) {
			entry := c.entry
			return &entry, nil
		}
	}
	return nil, fmt.Errorf("%s - %s: %w", logPrefix, parsed.Raw, ErrScriptNotFound)
}

// Find is Lookup shaped as an apprunner finder: handlers declaring an *Entry
// parameter receive the entry a path argument resolves to.
func (r *Registry) Find(_ context.Context, ref string) (*Entry, error) {
	entry, err := r.Lookup(ref)
	if errors.Is(err, ErrScriptNotFound) {
		return nil, apprunner.ErrNotFound
	}
	return entry, err
}

// List returns every entry, by name and then by version, newest first.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []registered
	for _, regs := range r.scripts {
		all = append(all, regs...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].entry.Name != all[j].entry.Name {
			return all[i].entry.Name < all[j].entry.Name
		}
		return all[i].release.Version.GreaterThan(all[j].release.Version)
	})

	entries := make([]Entry, len(all))
	for i, reg := range all {
		entries[i] = reg.entry
	}
	return entries
}

// Aliases returns a copy of the alias table.
func (r *Registry) Aliases() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.aliases))
	for k, v := range r.aliases {
		out[k] = v
	}
	return out
}

// Len returns the number of registered versions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, regs := range r.scripts {
		n += len(regs)
	}
	return n
}
