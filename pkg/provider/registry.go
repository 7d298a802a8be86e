package provider

import (
	"sort"
	"sync"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/config"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/log"
)

// Target is one resolved provider+model pair.
type Target struct {
	Adapter Adapter
	Model   string
}

// Registry resolves roles to adapters. Roles whose provider is missing
// at boot are recorded as unresolved so their stages can be disabled
// instead of failing the whole process.
type Registry struct {
	mu         sync.RWMutex
	adapters   map[string]Adapter
	roles      map[string]config.RoleConfig
	unresolved map[string]bool
}

// NewRegistry creates an empty registry with the given role table.
func NewRegistry(roles map[string]config.RoleConfig) *Registry {
	return &Registry{
		adapters:   make(map[string]Adapter),
		roles:      roles,
		unresolved: make(map[string]bool),
	}
}

// Register adds an adapter under its name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for a provider name.
func (r *Registry) Get(provider string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[provider]
	if !ok {
		return nil, errdefs.Newf(errdefs.KindNotFound, "provider %s not registered", provider)
	}
	return a, nil
}

// Names lists registered providers sorted by name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every role against the registered adapters and their
// model lists. Unresolvable roles are remembered; the caller disables
// the stages that need them.
func (r *Registry) Validate() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger := log.WithComponent("provider")
	var bad []string
	for role, rc := range r.roles {
		if !r.resolvableLocked(rc.Provider, rc.Model) {
			logger.Warn().
				Str("role", role).
				Str("provider", rc.Provider).
				Str("model", rc.Model).
				Msg("Role primary target unresolvable, stage will be disabled unless a fallback resolves")

			if !r.anyFallbackLocked(rc.Fallbacks) {
				r.unresolved[role] = true
				bad = append(bad, role)
			}
		}
	}
	sort.Strings(bad)
	return bad
}

func (r *Registry) resolvableLocked(provider, model string) bool {
	a, ok := r.adapters[provider]
	if !ok {
		return false
	}
	for _, m := range a.Models() {
		if m == model {
			return true
		}
	}
	return false
}

func (r *Registry) anyFallbackLocked(fallbacks []config.ProviderModel) bool {
	for _, f := range fallbacks {
		if r.resolvableLocked(f.Provider, f.Model) {
			return true
		}
	}
	return false
}

// RoleResolvable reports whether the role has at least one usable
// target.
func (r *Registry) RoleResolvable(role string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.roles[role]; !ok {
		return false
	}
	return !r.unresolved[role]
}

// Chain returns the ordered call chain for a role: the primary target
// followed by its fallbacks, skipping entries that do not resolve.
func (r *Registry) Chain(role string) ([]Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rc, ok := r.roles[role]
	if !ok {
		return nil, errdefs.Newf(errdefs.KindNotFound, "role %s not configured", role)
	}

	var chain []Target
	appendIf := func(provider, model string) {
		if a, ok := r.adapters[provider]; ok && r.resolvableLocked(provider, model) {
			chain = append(chain, Target{Adapter: a, Model: model})
		}
	}

	appendIf(rc.Provider, rc.Model)
	for _, f := range rc.Fallbacks {
		appendIf(f.Provider, f.Model)
	}

	if len(chain) == 0 {
		return nil, errdefs.Newf(errdefs.KindProviderUnavailable, "no usable provider for role %s", role)
	}
	return chain, nil
}
