package devices

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/brightclass/backend/internal/models"
)

// Provider enumerates the host's media input devices. Enumeration is
// best-effort: a host that denies device listing yields an empty slice,
// not an error.
type Provider interface {
	Enumerate(ctx context.Context) ([]models.DeviceDescriptor, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) ([]models.DeviceDescriptor, error)

// Enumerate calls f.
func (f ProviderFunc) Enumerate(ctx context.Context) ([]models.DeviceDescriptor, error) {
	return f(ctx)
}

// StaticProvider returns a fixed descriptor list (config-fed deployments and tests).
func StaticProvider(list []models.DeviceDescriptor) Provider {
	return ProviderFunc(func(context.Context) ([]models.DeviceDescriptor, error) {
		out := make([]models.DeviceDescriptor, len(list))
		copy(out, list)
		return out, nil
	})
}

// Registry caches the last enumeration and serves filtered device lists.
// Callers treat an empty result as "no devices available", never as failure.
type Registry struct {
	mu       sync.RWMutex
	provider Provider
	cached   []models.DeviceDescriptor
	log      *zap.Logger
}

// NewRegistry creates a registry over the given provider.
func NewRegistry(provider Provider, log *zap.Logger) *Registry {
	return &Registry{provider: provider, log: log}
}

// Refresh re-enumerates devices and replaces the cached snapshot. A provider
// failure (e.g. listing permission denied) logs and yields an empty list.
func (r *Registry) Refresh(ctx context.Context) []models.DeviceDescriptor {
	list, err := r.provider.Enumerate(ctx)
	if err != nil {
		r.log.Warn("device enumeration failed", zap.Error(err))
		list = nil
	}
	r.mu.Lock()
	r.cached = list
	r.mu.Unlock()
	return r.copyFiltered("")
}

// List returns cached descriptors, optionally filtered by kind. Empty kind
// returns everything. Enumerates on first use.
func (r *Registry) List(ctx context.Context, kind models.DeviceKind) []models.DeviceDescriptor {
	r.mu.RLock()
	primed := r.cached != nil
	r.mu.RUnlock()
	if !primed {
		r.Refresh(ctx)
	}
	return r.copyFiltered(kind)
}

func (r *Registry) copyFiltered(kind models.DeviceKind) []models.DeviceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.DeviceDescriptor, 0, len(r.cached))
	for _, d := range r.cached {
		if kind == "" || d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}
