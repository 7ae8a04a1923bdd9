package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nextlevelbuilder/valet/internal/providers"
)

// Registry holds the tool set and validates call arguments against each
// tool's declared parameter schema before dispatch.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. The parameter schema is compiled once here so that
// malformed schemas fail at startup, not at call time.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	raw, err := json.Marshal(t.Parameters())
	if err != nil {
		return fmt.Errorf("tool %q: encode schema: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	url := "tool://" + name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("tool %q: add schema: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("tool %q: compile schema: %w", name, err)
	}

	r.tools[name] = t
	r.schemas[name] = schema
	return nil
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions builds the tool list sent with each model call.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute validates the raw arguments and dispatches the call. Failures are
// returned as error results rather than Go errors so the model sees them as
// tool output and can recover.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (res *Result) {
	r.mu.RLock()
	t, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	var args map[string]any
	if err := json.Unmarshal(input, &args); err != nil {
		return ErrorResult(fmt.Sprintf("invalid tool arguments: %v", err))
	}

	if schema != nil {
		// Validate against the decoded form; jsonschema wants interface{} trees.
		var decoded any
		_ = json.Unmarshal(input, &decoded)
		if err := schema.Validate(decoded); err != nil {
			return ErrorResult(fmt.Sprintf("arguments for %s failed validation: %v", name, err))
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panicked", "tool", name, "panic", rec)
			res = ErrorResult(fmt.Sprintf("tool %s failed unexpectedly", name))
		}
	}()

	return t.Execute(ctx, args)
}
