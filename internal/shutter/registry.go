package shutter

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var ErrCoverNotFound = errors.New("cover not found")

// Registry holds the configured shutters keyed by cover ID and drives them on behalf of callers
// that only know a Ref.
type Registry struct {
	mu       sync.RWMutex
	shutters map[string]Shutter
}

func NewRegistry(shutters ...Shutter) *Registry {
	r := &Registry{shutters: map[string]Shutter{}}
	for _, s := range shutters {
		r.Add(s)
	}

	return r
}

func (r *Registry) Add(s Shutter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.shutters[s.Ref().ID] = s
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.shutters, id)
}

func (r *Registry) Get(id string) (Shutter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.shutters[id]
	return s, ok
}

// Covers returns refs of all registered shutters sorted by ID.
func (r *Registry) Covers() []Ref {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := make([]Ref, 0, len(r.shutters))
	for _, s := range r.shutters {
		refs = append(refs, s.Ref())
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })

	return refs
}

func (r *Registry) Shutters() []Shutter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	shutters := make([]Shutter, 0, len(r.shutters))
	for _, s := range r.shutters {
		shutters = append(shutters, s)
	}
	sort.Slice(shutters, func(i, j int) bool { return shutters[i].Ref().ID < shutters[j].Ref().ID })

	return shutters
}

func (r *Registry) lookup(cover Ref) (Shutter, error) {
	s, ok := r.Get(cover.ID)
	if !ok {
		return nil, errors.Wrapf(ErrCoverNotFound, "%s", cover)
	}

	return s, nil
}

func (r *Registry) StartMotion(ctx context.Context, cover Ref, direction Direction) error {
	s, err := r.lookup(cover)
	if err != nil {
		return err
	}

	return s.StartMotion(ctx, direction)
}

func (r *Registry) StopMotion(ctx context.Context, cover Ref) error {
	s, err := r.lookup(cover)
	if err != nil {
		return err
	}

	return s.StopMotion(ctx)
}

func (r *Registry) Status(ctx context.Context, cover Ref) (Status, error) {
	s, err := r.lookup(cover)
	if err != nil {
		return Status{}, err
	}

	return s.Status(ctx)
}
