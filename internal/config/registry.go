package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/liveinterview/pkg/audio"
	"github.com/MrWong99/liveinterview/pkg/live"
)

// ErrNotRegistered is returned by the Create methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: factory not registered")

// factories is a named set of constructors of one kind.
type factories[E, T any] struct {
	kind string
	m    map[string]func(context.Context, E) (T, error)
}

func (f factories[E, T]) lookup(name string) (func(context.Context, E) (T, error), error) {
	fn, ok := f.m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%q", ErrNotRegistered, f.kind, name)
	}
	return fn, nil
}

// Registry maps names to constructors for live transports and audio devices.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transports factories[LiveConfig, live.Dialer]
	inputs     factories[DeviceEntry, audio.Microphone]
	outputs    factories[DeviceEntry, audio.Output]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transports: factories[LiveConfig, live.Dialer]{kind: "live", m: make(map[string]func(context.Context, LiveConfig) (live.Dialer, error))},
		inputs:     factories[DeviceEntry, audio.Microphone]{kind: "input", m: make(map[string]func(context.Context, DeviceEntry) (audio.Microphone, error))},
		outputs:    factories[DeviceEntry, audio.Output]{kind: "output", m: make(map[string]func(context.Context, DeviceEntry) (audio.Output, error))},
	}
}

// RegisterTransport registers a live dialer factory under name. Subsequent
// calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTransport(name string, factory func(context.Context, LiveConfig) (live.Dialer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports.m[name] = factory
}

// RegisterInput registers a microphone factory under name.
func (r *Registry) RegisterInput(name string, factory func(context.Context, DeviceEntry) (audio.Microphone, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs.m[name] = factory
}

// RegisterOutput registers an audio output factory under name.
func (r *Registry) RegisterOutput(name string, factory func(context.Context, DeviceEntry) (audio.Output, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs.m[name] = factory
}

// CreateTransport builds the dialer selected by cfg.Transport.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateTransport(ctx context.Context, cfg LiveConfig) (live.Dialer, error) {
	r.mu.RLock()
	fn, err := r.transports.lookup(cfg.Transport)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return fn(ctx, cfg)
}

// CreateInput builds the microphone selected by entry.Name.
func (r *Registry) CreateInput(ctx context.Context, entry DeviceEntry) (audio.Microphone, error) {
	r.mu.RLock()
	fn, err := r.inputs.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return fn(ctx, entry)
}

// CreateOutput builds the audio output selected by entry.Name.
func (r *Registry) CreateOutput(ctx context.Context, entry DeviceEntry) (audio.Output, error) {
	r.mu.RLock()
	fn, err := r.outputs.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return fn(ctx, entry)
}
