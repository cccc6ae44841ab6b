package artifacttype

import (
	"errors"
	"fmt"
	"sync"
)

// FallbackKey is the key of the type serving artifact keys that have no
// type of their own.
const FallbackKey = "__fallback"

// Registry maps artifact keys to artifact types. It is filled at startup
// and only read afterwards.
type Registry struct {
	mu    sync.RWMutex
	keys  []string
	types map[string]ArtifactType
}

// NewRegistry returns an empty registry without a fallback.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]ArtifactType)}
}

// Register adds t under key.
func (r *Registry) Register(key string, t ArtifactType) error {
	if key == "" {
		return errors.New("artifact type key cannot be empty")
	}
	if t == nil {
		return fmt.Errorf("artifact type %s is nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[key]; exists {
		return fmt.Errorf("artifact type %s already registered", key)
	}
	r.keys = append(r.keys, key)
	r.types[key] = t
	return nil
}

// MustRegister is Register for static setup; it panics on error.
func (r *Registry) MustRegister(key string, t ArtifactType) {
	if err := r.Register(key, t); err != nil {
		panic(err)
	}
}

// Lookup returns the type registered for key, or the fallback type.
// It returns ErrNoFallback when neither exists.
func (r *Registry) Lookup(key string) (ArtifactType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.types[key]; ok {
		return t, nil
	}
	if t, ok := r.types[FallbackKey]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoFallback, key)
}

// Keys returns the registered keys in registration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// each calls fn for every registered type in registration order.
func (r *Registry) each(fn func(key string, t ArtifactType)) {
	r.mu.RLock()
	keys := make([]string, len(r.keys))
	copy(keys, r.keys)
	types := make([]ArtifactType, len(keys))
	for i, k := range keys {
		types[i] = r.types[k]
	}
	r.mu.RUnlock()

	for i, k := range keys {
		fn(k, types[i])
	}
}

// Dependencies are the collaborators of the built-in types. Nil fields
// disable the features that need them.
type Dependencies struct {
	Nightlies    NightlyStore
	ReleaseNotes ReleaseNotes
}

// Default returns a registry with the fallback and all built-in types.
func Default(deps Dependencies) *Registry {
	r := NewRegistry()
	r.MustRegister(FallbackKey, Fallback{})
	r.MustRegister(FlathubKey, NewFlatpak(FlathubKey, FlathubStable()))
	r.MustRegister(FlathubBetaKey, NewFlatpak(FlathubBetaKey, FlathubBeta()))
	r.MustRegister(FlatpakCustomKey, NewFlatpak(FlatpakCustomKey, nil))
	r.MustRegister(GitHubKey, NewGitHub(deps.ReleaseNotes))
	r.MustRegister("mac64", NewPlatform("MacOS Intel x86", "mac64.png", deps.Nightlies))
	r.MustRegister("mac_arm64", NewPlatform("MacOS ARM64", "mac64.png", deps.Nightlies))
	r.MustRegister(PyPIKey, PyPI{})
	r.MustRegister("win32", NewPlatform("Windows (32-bit)", "win32.png", deps.Nightlies))
	r.MustRegister("win64", NewPlatform("Windows (64-bit)", "win64.png", deps.Nightlies))
	return r
}
