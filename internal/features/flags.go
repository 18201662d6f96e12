package features

import (
	"fmt"
	"sync"
	"time"
)

// Flag represents a feature flag with metadata
type Flag struct {
	Name        string    `json:"name"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Tags        []string  `json:"tags,omitempty"`
}

// FlagManager manages feature flags with thread-safe operations
type FlagManager struct {
	flags map[string]*Flag
	mu    sync.RWMutex
}

// NewFlagManager creates a new feature flag manager
func NewFlagManager() *FlagManager {
	fm := &FlagManager{
		flags: make(map[string]*Flag),
	}
	fm.initializeDefaults()
	return fm
}

// Define flag constants for type safety
const (
	// FlagIdempotencyKeys switches reconciliation from the sender+time-window
	// heuristic to exact lookup of a client-generated key echoed by the server
	// in both the ack and the broadcast.
	FlagIdempotencyKeys = "idempotency_keys"

	// FlagDistributedTracing enables OpenTelemetry spans around send/ack and
	// history loads.
	FlagDistributedTracing = "distributed_tracing"

	// FlagCacheFallback serves history pages from the local cache when the
	// channel fetch fails.
	FlagCacheFallback = "cache_fallback"
)

// FlagDefinition contains metadata about a flag
type FlagDefinition struct {
	Name         string
	Description  string
	DefaultValue bool
	Tags         []string
}

// DefaultFlags defines all available feature flags with their defaults
var DefaultFlags = []FlagDefinition{
	{FlagIdempotencyKeys, "Correlate optimistic entries by client key instead of sender+time window", false, []string{"experimental", "reconciliation"}},
	{FlagDistributedTracing, "Enable OpenTelemetry distributed tracing", true, []string{"core", "observability"}},
	{FlagCacheFallback, "Serve history pages from the local cache when the fetch fails", true, []string{"core", "reliability"}},
}

func (fm *FlagManager) initializeDefaults() {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	now := time.Now()
	for _, def := range DefaultFlags {
		if _, exists := fm.flags[def.Name]; !exists {
			fm.flags[def.Name] = &Flag{
				Name:        def.Name,
				Enabled:     def.DefaultValue,
				Description: def.Description,
				CreatedAt:   now,
				UpdatedAt:   now,
				Tags:        def.Tags,
			}
		}
	}
}

// IsEnabled checks if a feature flag is enabled
func (fm *FlagManager) IsEnabled(flagName string) bool {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	flag, exists := fm.flags[flagName]
	if !exists {
		return false
	}
	return flag.Enabled
}

// Enable enables a feature flag
func (fm *FlagManager) Enable(flagName string) error {
	return fm.set(flagName, true)
}

// Disable disables a feature flag
func (fm *FlagManager) Disable(flagName string) error {
	return fm.set(flagName, false)
}

func (fm *FlagManager) set(flagName string, enabled bool) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	flag, exists := fm.flags[flagName]
	if !exists {
		return fmt.Errorf("unknown feature flag: %s", flagName)
	}
	flag.Enabled = enabled
	flag.UpdatedAt = time.Now()
	return nil
}

// GetFlag returns a copy of the flag information
func (fm *FlagManager) GetFlag(flagName string) (*Flag, error) {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	flag, exists := fm.flags[flagName]
	if !exists {
		return nil, fmt.Errorf("unknown feature flag: %s", flagName)
	}
	cp := *flag
	return &cp, nil
}

// ListFlags returns a snapshot of all flags
func (fm *FlagManager) ListFlags() []*Flag {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	out := make([]*Flag, 0, len(fm.flags))
	for _, flag := range fm.flags {
		cp := *flag
		out = append(out, &cp)
	}
	return out
}
