package provider

import (
	"context"
	"fmt"
)

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged turn handed to a backend.
type Message struct {
	Role    string
	Content string
}

// Error reports a failed backend call. The caller decides how to recover;
// adapters never retry.
type Error struct {
	Provider string
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Adapter is the uniform surface over one LLM backend. Implementations
// translate the message list into the vendor protocol, normalize the success
// response into a single string and map failures to *Error. No persistence
// happens here.
type Adapter interface {
	Name() string
	Invoke(ctx context.Context, messages []Message, model string) (string, error)
}

type route struct {
	adapter string
	model   string
}

// Registry routes logical model identifiers to a registered adapter and its
// concrete backend model name. Adding a vendor is additive: register the
// adapter, add routes.
type Registry struct {
	adapters     map[string]Adapter
	routes       map[string]route
	defaultModel string
}

// NewRegistry builds an empty registry. defaultModel is the logical id used
// when a request names no model.
func NewRegistry(defaultModel string) *Registry {
	return &Registry{
		adapters:     make(map[string]Adapter),
		routes:       make(map[string]route),
		defaultModel: defaultModel,
	}
}

// Register adds an adapter under its name.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Route binds a logical model id to an adapter and concrete model name.
// Binding a not-yet-available logical id to a shipped model name is how safe
// fallbacks are expressed.
func (r *Registry) Route(logicalID, adapterName, concreteModel string) {
	r.routes[logicalID] = route{adapter: adapterName, model: concreteModel}
}

// Resolve returns the adapter and concrete model for a logical id.
func (r *Registry) Resolve(logicalID string) (Adapter, string, error) {
	if logicalID == "" {
		logicalID = r.defaultModel
	}

	rt, ok := r.routes[logicalID]
	if !ok {
		rt, ok = r.routes[r.defaultModel]
		if !ok {
			return nil, "", fmt.Errorf("no route for model %q and no default", logicalID)
		}
	}

	adapter, ok := r.adapters[rt.adapter]
	if !ok {
		return nil, "", fmt.Errorf("model %q routes to unregistered adapter %q", logicalID, rt.adapter)
	}
	return adapter, rt.model, nil
}

// Invoke resolves the logical model and calls the backend.
func (r *Registry) Invoke(ctx context.Context, messages []Message, logicalID string) (string, error) {
	adapter, model, err := r.Resolve(logicalID)
	if err != nil {
		return "", err
	}
	return adapter.Invoke(ctx, messages, model)
}

// splitSystem extracts the system turn for providers whose protocol carries
// persona instructions in a dedicated field.
func splitSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem && system == "" {
			system = msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}
