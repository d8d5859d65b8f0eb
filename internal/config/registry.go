package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/softspoken-ai/dialtone/pkg/provider/eot"
	"github.com/softspoken-ai/dialtone/pkg/provider/stt"
	"github.com/softspoken-ai/dialtone/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// pipeline stage. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]func(ProviderEntry) (stt.Provider, error)
	tts map[string]func(ProviderEntry) (tts.Engine, error)
	eot map[string]func(ProviderEntry) (eot.Predictor, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt: make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts: make(map[string]func(ProviderEntry) (tts.Engine, error)),
		eot: make(map[string]func(ProviderEntry) (eot.Predictor, error)),
	}
}

// RegisterSTT registers a speech recognition provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a synthesis engine factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterEOT registers an end-of-turn predictor factory under name.
func (r *Registry) RegisterEOT(name string, factory func(ProviderEntry) (eot.Predictor, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eot[name] = factory
}

// CreateSTT instantiates a speech recognition provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a synthesis engine using the factory registered
// under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Engine, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEOT instantiates an end-of-turn predictor using the factory
// registered under entry.Name.
func (r *Registry) CreateEOT(entry ProviderEntry) (eot.Predictor, error) {
	r.mu.RLock()
	factory, ok := r.eot[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: eot/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
