package breaker

import (
	"log/slog"
	"sync"

	"github.com/DICKY1987/pipeline-core/statemachine"
)

// Registry hands out one shared breaker per tool id. Safe for concurrent
// use; all breakers share the same config, sink, and logger.
type Registry struct {
	mu       sync.Mutex
	config   Config
	sink     statemachine.EventSink
	logger   *slog.Logger
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry(config Config, sink statemachine.EventSink, logger *slog.Logger) *Registry {
	return &Registry{
		config:   config,
		sink:     sink,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// ForTool returns the breaker for the given tool, creating it on first use.
func (r *Registry) ForTool(toolID string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[toolID]
	if !ok {
		b = New(toolID, r.config, r.sink, r.logger)
		r.breakers[toolID] = b
	}
	return b
}

// Stats returns snapshots for every breaker the registry has created.
func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Stats())
	}
	return out
}
