package transport

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/joelklabo/hassbuddy/internal/config"
	"github.com/joelklabo/hassbuddy/internal/core"
	"github.com/joelklabo/hassbuddy/internal/nostrclient"
)

// Deps are shared services handed to every transport constructor.
type Deps struct {
	// State persists cursors and processed ids; it may be nil for transports
	// that keep no state.
	State  nostrclient.State
	Logger *slog.Logger
}

// Constructor builds a Transport from its config section.
type Constructor func(cfg config.TransportConfig, deps Deps) (core.Transport, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register adds a constructor for a transport type.
func Register(kind string, ctor Constructor) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[kind]; exists {
		return fmt.Errorf("transport type %s already registered", kind)
	}
	registry[kind] = ctor
	return nil
}

// MustRegister panics on error; intended for init() in transport packages.
func MustRegister(kind string, ctor Constructor) {
	if err := Register(kind, ctor); err != nil {
		panic(err)
	}
}

// Build constructs a transport of the configured type.
func Build(cfg config.TransportConfig, deps Deps) (core.Transport, error) {
	registryMu.RLock()
	ctor, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown transport type %s", cfg.Type)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	tr, err := ctor(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("transport %s: %w", cfg.ID, err)
	}
	return tr, nil
}

// RegisteredTypes returns the registered transport kinds, sorted.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
