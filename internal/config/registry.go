package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/vocascan/pkg/audio"
	"github.com/MrWong99/vocascan/pkg/provider/frequency"
	"github.com/MrWong99/vocascan/pkg/provider/scoring"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	capture   map[string]func(CaptureConfig) (audio.Capture, error)
	frequency map[string]func(ProviderEntry) (frequency.Provider, error)
	scoring   map[string]func(ScoringConfig) (scoring.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture:   make(map[string]func(CaptureConfig) (audio.Capture, error)),
		frequency: make(map[string]func(ProviderEntry) (frequency.Provider, error)),
		scoring:   make(map[string]func(ScoringConfig) (scoring.Provider, error)),
	}
}

// RegisterCapture registers a capture device factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory func(CaptureConfig) (audio.Capture, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterFrequency registers a frequency source factory under name.
func (r *Registry) RegisterFrequency(name string, factory func(ProviderEntry) (frequency.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frequency[name] = factory
}

// RegisterScoring registers a scoring provider factory under name.
func (r *Registry) RegisterScoring(name string, factory func(ScoringConfig) (scoring.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scoring[name] = factory
}

// CreateCapture instantiates a capture device using the factory registered
// under cfg.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateCapture(cfg CaptureConfig) (audio.Capture, error) {
	r.mu.RLock()
	factory, ok := r.capture[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateFrequency instantiates a frequency source using the factory
// registered under entry.Name.
func (r *Registry) CreateFrequency(entry ProviderEntry) (frequency.Provider, error) {
	r.mu.RLock()
	factory, ok := r.frequency[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: frequency/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateScoring instantiates a scoring provider using the factory registered
// under cfg.Name.
func (r *Registry) CreateScoring(cfg ScoringConfig) (scoring.Provider, error) {
	r.mu.RLock()
	factory, ok := r.scoring[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: scoring/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// Names returns the sorted registered names per provider kind, for startup
// logging.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string][]string{}
	for n := range r.capture {
		out["capture"] = append(out["capture"], n)
	}
	for n := range r.frequency {
		out["frequency"] = append(out["frequency"], n)
	}
	for n := range r.scoring {
		out["scoring"] = append(out["scoring"], n)
	}
	for _, names := range out {
		slices.Sort(names)
	}
	return out
}
