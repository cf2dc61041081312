package model

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	cerrors "github.com/cascade-run/cascade/pkg/errors"
)

// MaxTier is the highest agent tier. Tier 0 is deterministic and never
// consults the registry.
const MaxTier = 5

// TierEnvVar returns the process-level override variable for a tier
// (CASCADE_MODEL_TIER_1 .. CASCADE_MODEL_TIER_5).
func TierEnvVar(tier int) string {
	return fmt.Sprintf("CASCADE_MODEL_TIER_%d", tier)
}

// ProviderSpec declares a provider tag and the environment variables that
// must be non-empty for the provider to count as available. A provider with
// no required variables (a local model server) is always available.
type ProviderSpec struct {
	Name        string
	RequiredEnv []string
}

// BackendFactory constructs a live backend for one candidate model id.
type BackendFactory func(modelID string) (Backend, error)

// Registry holds the tier fallback chains, provider specs, backup models,
// and lazily constructed backends. Chains and specs are immutable during a
// run; the backend cache is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ProviderSpec
	chains    map[int][]string
	backups   map[string][]string
	factories map[string]BackendFactory
	backends  map[string]Backend
}

// defaultProviders lists the providers the engine knows out of the box.
// Embedders may register more.
var defaultProviders = []ProviderSpec{
	{Name: "anthropic", RequiredEnv: []string{"ANTHROPIC_API_KEY"}},
	{Name: "openai", RequiredEnv: []string{"OPENAI_API_KEY"}},
	{Name: "google", RequiredEnv: []string{"GOOGLE_API_KEY"}},
	{Name: "ollama"},
}

// defaultChains maps each tier to its static fallback chain, strongest
// candidate first. Tier 0 is deterministic and has no chain.
var defaultChains = map[int][]string{
	1: {"ollama:llama3.2", "openai:gpt-4o-mini", "anthropic:claude-3-5-haiku"},
	2: {"openai:gpt-4o-mini", "anthropic:claude-3-5-haiku", "google:gemini-2.0-flash"},
	3: {"anthropic:claude-sonnet-4", "openai:gpt-4o", "google:gemini-1.5-pro"},
	4: {"anthropic:claude-sonnet-4", "openai:o1", "google:gemini-1.5-pro"},
	5: {"anthropic:claude-opus-4", "openai:o1", "google:gemini-1.5-pro"},
}

// defaultBackups lists provider-specific backup models appended to a chain
// only when that provider is available.
var defaultBackups = map[string][]string{
	"anthropic": {"anthropic:claude-3-5-sonnet"},
	"openai":    {"openai:gpt-4-turbo"},
}

// NewRegistry creates a registry with the built-in providers, tier chains,
// and backups.
func NewRegistry() *Registry {
	r := &Registry{
		providers: make(map[string]ProviderSpec),
		chains:    make(map[int][]string),
		backups:   make(map[string][]string),
		factories: make(map[string]BackendFactory),
		backends:  make(map[string]Backend),
	}
	for _, p := range defaultProviders {
		r.providers[p.Name] = p
	}
	for tier, chain := range defaultChains {
		r.chains[tier] = append([]string(nil), chain...)
	}
	for prov, models := range defaultBackups {
		r.backups[prov] = append([]string(nil), models...)
	}
	return r
}

// RegisterProvider adds or replaces a provider spec.
func (r *Registry) RegisterProvider(spec ProviderSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[spec.Name] = spec
}

// SetChain replaces the fallback chain for a tier.
func (r *Registry) SetChain(tier int, chain []string) error {
	if tier < 1 || tier > MaxTier {
		return &cerrors.ValidationError{
			Field:   "tier",
			Message: fmt.Sprintf("tier must be in 1..%d, got %d", MaxTier, tier),
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[tier] = append([]string(nil), chain...)
	return nil
}

// SetBackups replaces the backup models for a provider.
func (r *Registry) SetBackups(provider string, models []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backups[provider] = append([]string(nil), models...)
}

// RegisterBackendFactory installs the constructor used to build backends for
// one provider tag.
func (r *Registry) RegisterBackendFactory(provider string, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = factory
}

// Provider extracts the provider tag from a model id of shape provider:name.
// An id without a tag maps to the empty provider, which is never available.
func Provider(modelID string) string {
	tag, _, ok := strings.Cut(modelID, ":")
	if !ok {
		return ""
	}
	return tag
}

// Available reports whether the provider's required credential variables are
// all non-empty. Unknown providers are unavailable.
func (r *Registry) Available(provider string) bool {
	r.mu.RLock()
	spec, ok := r.providers[provider]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	for _, v := range spec.RequiredEnv {
		if os.Getenv(v) == "" {
			return false
		}
	}
	return true
}

// Candidates returns the ordered candidate model list for a tier, applying
// the per-step override, the CASCADE_MODEL_TIER_{N} process override, the
// probed tier default, the remaining chain, and available-provider backups,
// de-duplicated in first-seen order.
//
// With includeUnavailable=false, candidates from unavailable providers are
// dropped except for the pinned head (the override / tier-var / probed-default
// segment), which stays visible so the caller can report why it failed.
func (r *Registry) Candidates(tier int, override Override, includeUnavailable bool) ([]string, error) {
	if tier < 1 || tier > MaxTier {
		return nil, &cerrors.ValidationError{
			Field:   "tier",
			Message: fmt.Sprintf("tier must be in 1..%d, got %d", MaxTier, tier),
		}
	}

	r.mu.RLock()
	chain := append([]string(nil), r.chains[tier]...)
	r.mu.RUnlock()

	var ordered []string
	pinned := 0

	if !override.IsZero() {
		id, err := override.Resolve()
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, id)
		pinned = len(ordered)
	}

	if v := os.Getenv(TierEnvVar(tier)); v != "" {
		ordered = append(ordered, v)
		pinned = len(ordered)
	}

	// Probed default: the first chain entry whose provider is available
	// moves to the front of the chain segment and is pinned with the
	// overrides.
	probed := -1
	for i, id := range chain {
		if r.Available(Provider(id)) {
			probed = i
			break
		}
	}
	if probed >= 0 {
		ordered = append(ordered, chain[probed])
		pinned = len(ordered)
	}
	for i, id := range chain {
		if i != probed {
			ordered = append(ordered, id)
		}
	}

	// Backups only join when their provider is available, regardless of
	// includeUnavailable.
	r.mu.RLock()
	provs := make([]string, 0, len(r.backups))
	for prov := range r.backups {
		provs = append(provs, prov)
	}
	sort.Strings(provs)
	for _, prov := range provs {
		if r.availableLocked(prov) {
			ordered = append(ordered, r.backups[prov]...)
		}
	}
	r.mu.RUnlock()

	seen := make(map[string]bool, len(ordered))
	out := make([]string, 0, len(ordered))
	for i, id := range ordered {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !includeUnavailable && i >= pinned && !r.Available(Provider(id)) {
			continue
		}
		out = append(out, id)
	}

	if len(out) == 0 {
		return nil, &cerrors.NotFoundError{
			Resource: "model candidate",
			ID:       fmt.Sprintf("tier %d", tier),
		}
	}
	return out, nil
}

// availableLocked is Available without re-taking the registry lock. The
// caller must hold at least a read lock.
func (r *Registry) availableLocked(provider string) bool {
	spec, ok := r.providers[provider]
	if !ok {
		return false
	}
	for _, v := range spec.RequiredEnv {
		if os.Getenv(v) == "" {
			return false
		}
	}
	return true
}

// Backend returns a live backend for a candidate id, constructing it lazily
// through the provider's registered factory and caching per model id.
func (r *Registry) Backend(modelID string) (Backend, error) {
	r.mu.RLock()
	if b, ok := r.backends[modelID]; ok {
		r.mu.RUnlock()
		return b, nil
	}
	factory, ok := r.factories[Provider(modelID)]
	r.mu.RUnlock()

	if !ok {
		return nil, &cerrors.NotFoundError{
			Resource: "backend factory",
			ID:       Provider(modelID),
		}
	}

	b, err := factory(modelID)
	if err != nil {
		return nil, &cerrors.ProviderError{
			Provider: Provider(modelID),
			Model:    modelID,
			Message:  "backend construction failed",
			Cause:    err,
		}
	}

	r.mu.Lock()
	// Another goroutine may have built it first; keep the existing one.
	if existing, ok := r.backends[modelID]; ok {
		b = existing
	} else {
		r.backends[modelID] = b
	}
	r.mu.Unlock()
	return b, nil
}
