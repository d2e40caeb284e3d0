package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Agent is one opaque unit of pipeline work. Process reads fields from the job
// context and returns a partial update to merge back; it must not touch
// orchestration state.
type Agent interface {
	Name() string
	Process(ctx context.Context, jobContext map[string]any) (map[string]any, error)
}

// StepDef names one schedulable step. Exactly one of Agent or FanOut is set;
// FanOut agents are declared independent and run concurrently, each writing
// disjoint context keys.
type StepDef struct {
	Name   string
	Agent  Agent
	FanOut []Agent
}

// Finalizer runs after the last step, while the job lock is still held. It
// receives the full context and returns the context to record as the result.
type Finalizer interface {
	Finalize(ctx context.Context, jobContext map[string]any) (map[string]any, error)
}

// Pipeline is an ordered list of named steps plus an optional finalizer
// (the quality gate).
type Pipeline struct {
	Name      string
	Steps     []StepDef
	Finalizer Finalizer
}

func (p *Pipeline) StepNames() []string {
	out := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, s.Name)
	}
	return out
}

// Registry maps pipeline names to definitions. Entries are registered at
// startup; there is no runtime reflection or lookup-by-class-name.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
}

func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[string]*Pipeline)}
}

func (r *Registry) Register(p *Pipeline) error {
	if p == nil {
		return fmt.Errorf("nil pipeline")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("pipeline missing name")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("pipeline %q has no steps", p.Name)
	}
	seen := map[string]bool{}
	for _, s := range p.Steps {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("pipeline %q: step missing name", p.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("pipeline %q: duplicate step %q", p.Name, s.Name)
		}
		seen[s.Name] = true
		if s.Agent == nil && len(s.FanOut) == 0 {
			return fmt.Errorf("pipeline %q: step %q has no agent", p.Name, s.Name)
		}
		if s.Agent != nil && len(s.FanOut) > 0 {
			return fmt.Errorf("pipeline %q: step %q sets both Agent and FanOut", p.Name, s.Name)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pipelines[p.Name]; exists {
		return fmt.Errorf("pipeline already registered: %s", p.Name)
	}
	r.pipelines[p.Name] = p
	return nil
}

// Names returns the registered pipeline names sorted for stable output.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Get(name string) (*Pipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[name]
	return p, ok
}
