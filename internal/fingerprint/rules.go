package fingerprint

import (
	"fmt"
	"regexp"
	"sync"
)

// Rule rewrites one class of volatile token to a stable placeholder before
// hashing. Rules are a classification concern: stripping too much causes
// false merges, which are acceptable; producing different output for the
// same input is not.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Replace string
}

// RuleSet is an ordered, immutable collection of normalization rules.
// Sets are versioned: a registered version is never modified, so events
// admitted under it fingerprint identically on every retry, and changing
// rules never re-keys existing groups.
type RuleSet struct {
	Version int
	rules   []Rule
}

// Apply runs every rule over the input in order.
func (rs *RuleSet) Apply(s string) string {
	for _, r := range rs.rules {
		s = r.Pattern.ReplaceAllString(s, r.Replace)
	}
	return s
}

// Registry holds all known rule-set versions.
type Registry struct {
	mu   sync.RWMutex
	sets map[int]*RuleSet
}

func NewRegistry() *Registry {
	return &Registry{sets: make(map[int]*RuleSet)}
}

// Register adds a rule-set version. Re-registering an existing version is
// an error: published versions are immutable.
func (r *Registry) Register(version int, rules []Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sets[version]; ok {
		return fmt.Errorf("rule set version %d already registered", version)
	}
	r.sets[version] = &RuleSet{Version: version, rules: rules}
	return nil
}

// Get returns the rule set for a version.
func (r *Registry) Get(version int) (*RuleSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.sets[version]
	if !ok {
		return nil, fmt.Errorf("unknown rule set version %d", version)
	}
	return rs, nil
}

// DefaultRules strips the volatile tokens commonly embedded in error
// messages and frame paths: memory addresses, UUIDs, request IDs and
// big numeric literals.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "hex_address",
			Pattern: regexp.MustCompile(`0x[0-9a-fA-F]+`),
			Replace: "<addr>",
		},
		{
			Name:    "uuid",
			Pattern: regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`),
			Replace: "<uuid>",
		},
		{
			Name:    "request_id",
			Pattern: regexp.MustCompile(`(?i)(request[_-]?id[=: ]+)[A-Za-z0-9-]+`),
			Replace: "${1}<id>",
		},
		{
			Name:    "long_number",
			Pattern: regexp.MustCompile(`\b\d{4,}\b`),
			Replace: "<num>",
		},
	}
}

// NewDefaultRegistry returns a registry with version 1 populated by the
// default rules.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	// Register cannot fail on an empty registry.
	_ = r.Register(1, DefaultRules())
	return r
}
