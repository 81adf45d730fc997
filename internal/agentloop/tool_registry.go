package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

type ToolRegistry struct {
	mu     sync.RWMutex
	byName map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{byName: map[string]Tool{}}
}

func (r *ToolRegistry) Register(tool Tool) error {
	if r == nil {
		return errors.New("registry is nil")
	}
	if tool == nil {
		return errors.New("tool is nil")
	}
	name := strings.TrimSpace(tool.Name())
	if name == "" {
		return errors.New("tool name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.byName[name] = tool
	return nil
}

func (r *ToolRegistry) RegisterAll(tools ...Tool) error {
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	name = strings.TrimSpace(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.byName[name]
	return tool, ok
}

func (r *ToolRegistry) Names() []string {
	if r == nil {
		return []string{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *ToolRegistry) Specs() []ResponseToolSpec {
	names := r.Names()
	out := make([]ResponseToolSpec, 0, len(names))
	for _, name := range names {
		if tool, ok := r.Get(name); ok {
			out = append(out, tool.Spec())
		}
	}
	return out
}

func (r *ToolRegistry) Execute(ctx context.Context, name string, input json.RawMessage, callID string) (out string, toolErr *ToolError) {
	tool, ok := r.Get(name)
	if !ok {
		return "", NewToolError(fmt.Sprintf("unknown tool %q", strings.TrimSpace(name)), "use one of: "+strings.Join(r.Names(), ", "))
	}
	defer func() {
		if rec := recover(); rec != nil {
			out = ""
			toolErr = NewToolError(fmt.Sprintf("tool %s panicked: %v", tool.Name(), rec), "")
		}
	}()
	return tool.Execute(ctx, input, callID)
}

// Invoke is the string-in, string-out boundary used by the agent loop. It
// returns the tool's JSON result, or "Error: <message>" for any failure, and
// never panics.
func (r *ToolRegistry) Invoke(ctx context.Context, name, argsJSON string) string {
	out, err := r.Execute(ctx, name, json.RawMessage(argsJSON), "")
	if err != nil {
		return err.Output()
	}
	return out
}
