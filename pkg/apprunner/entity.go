package apprunner

import (
	"context"
	"reflect"
	"sync"
)

// Finder fetches an entity by identifier. It returns ErrNotFound (or a nil
// entity) when nothing matches.
type Finder interface {
	FindByID(ctx context.Context, id string) (interface{}, error)
}

// FinderFunc adapts a function to Finder.
type FinderFunc func(ctx context.Context, id string) (interface{}, error)

// FindByID calls f.
func (f FinderFunc) FindByID(ctx context.Context, id string) (interface{}, error) {
	return f(ctx, id)
}

// Finders maps entity types to the Finder that loads them. A handler parameter
// of a registered type consumes one path argument as the identifier.
type Finders struct {
	mu      sync.RWMutex
	finders map[reflect.Type]Finder
}

// NewFinders creates an empty Finders.
func NewFinders() *Finders {
	return &Finders{finders: make(map[reflect.Type]Finder)}
}

// Register sets the Finder for t.
func (f *Finders) Register(t reflect.Type, finder Finder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finders[t] = finder
}

// Lookup returns the Finder for t.
func (f *Finders) Lookup(t reflect.Type) (Finder, bool) {
	if f == nil {
		return nil, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	finder, ok := f.finders[t]
	return finder, ok
}

// RegisterFinder registers find as the Finder for entities of type T.
func RegisterFinder[T any](f *Finders, find func(ctx context.Context, id string) (T, error)) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	f.Register(t, FinderFunc(func(ctx context.Context, id string) (interface{}, error) {
		v, err := find(ctx, id)
		if err != nil {
			return nil, err
		}
		return v, nil
	}))
}
