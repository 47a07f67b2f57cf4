// Package tools exposes the datastore to the conversation engine as named tools taking JSON
// arguments.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Protocol-Lattice/airport-assistant/src/auth"
	"github.com/Protocol-Lattice/airport-assistant/src/datastore"
	"github.com/Protocol-Lattice/airport-assistant/src/embed"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// ToolSpec describes how the engine should present a tool to the model.
type ToolSpec struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	InputSchema map[string]any   `json:"input_schema"`
	Examples    []map[string]any `json:"examples,omitempty"`
}

// ToolRequest captures one invocation. User is nil for anonymous sessions.
type ToolRequest struct {
	SessionID string
	Arguments map[string]any
	User      *auth.User
}

// ToolResponse is what the model sees as the observation.
type ToolResponse struct {
	Content  string
	Metadata map[string]string
}

// Tool exposes structured metadata and an invocation handler.
type Tool interface {
	Spec() ToolSpec
	Invoke(ctx context.Context, req ToolRequest) (ToolResponse, error)
}

// Catalog keeps tools in registration order with case-insensitive lookup.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]Tool
	specs map[string]ToolSpec
	order []string
}

func NewCatalog(tools ...Tool) *Catalog {
	c := &Catalog{tools: make(map[string]Tool), specs: make(map[string]ToolSpec)}
	for _, t := range tools {
		_ = c.Register(t)
	}
	return c
}

// Register adds a tool under its lower-cased name. Duplicate names return an error.
func (c *Catalog) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool is nil")
	}
	spec := tool.Spec()
	key := strings.ToLower(strings.TrimSpace(spec.Name))
	if key == "" {
		return fmt.Errorf("tool name is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tools[key]; exists {
		return fmt.Errorf("tool %s already registered", spec.Name)
	}
	c.tools[key] = tool
	c.specs[key] = spec
	c.order = append(c.order, key)
	return nil
}

// Lookup returns the tool and its specification if present.
func (c *Catalog) Lookup(name string) (Tool, ToolSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key := strings.ToLower(strings.TrimSpace(name))
	tool, ok := c.tools[key]
	if !ok {
		return nil, ToolSpec{}, false
	}
	return tool, c.specs[key], true
}

// Specs returns the specifications in registration order.
func (c *Catalog) Specs() []ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(c.order))
	for _, key := range c.order {
		specs = append(specs, c.specs[key])
	}
	return specs
}

// Len is the number of registered tools.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Options tunes the search tools.
type Options struct {
	Threshold float64
	TopK      int
}

// DefaultOptions matches the configuration defaults.
var DefaultOptions = Options{Threshold: 0.5, TopK: 5}

// ListLimit is how many rows the listing tools show before summarising the rest.
const ListLimit = 2

// New builds the catalog for client. Tools whose entity family the provider does not store
// are left out so the model never sees them.
func New(client datastore.Client, embedder embed.Embedder, opts Options) *Catalog {
	if opts.TopK < 1 {
		opts.TopK = DefaultOptions.TopK
	}
	caps := client.Capabilities()
	c := NewCatalog()
	for _, t := range all(client, embedder, opts) {
		if !caps.Has(t.needs) {
			continue
		}
		_ = c.Register(t)
	}
	return c
}

func all(client datastore.Client, embedder embed.Embedder, opts Options) []*funcTool {
	return []*funcTool{
		searchAirports(client),
		getAirport(client),
		searchFlightsByNumber(client),
		listFlights(client),
		searchAmenities(client, embedder, opts),
		searchPolicies(client, embedder, opts),
		insertTicket(client),
		listTickets(client),
	}
}

// funcTool pairs a spec with the capability it needs and the handler that serves it.
type funcTool struct {
	spec  ToolSpec
	needs datastore.Capabilities
	run   func(ctx context.Context, req ToolRequest) (any, error)
}

func (t *funcTool) Spec() ToolSpec { return t.spec }

func (t *funcTool) Invoke(ctx context.Context, req ToolRequest) (ToolResponse, error) {
	out, err := t.run(ctx, req)
	if err != nil {
		return ToolResponse{}, fmt.Errorf("%s: %w", t.spec.Name, err)
	}
	if s, ok := out.(string); ok {
		return ToolResponse{Content: s, Metadata: map[string]string{"tool": t.spec.Name}}, nil
	}
	body, err := json.Marshal(out)
	if err != nil {
		return ToolResponse{}, fmt.Errorf("%s: encode result: %w", t.spec.Name, err)
	}
	return ToolResponse{Content: string(body), Metadata: map[string]string{"tool": t.spec.Name}}, nil
}

// decodeArgs maps loosely typed arguments onto a struct through a JSON round trip.
func decodeArgs(raw map[string]any, dst any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	body, err := json.Marshal(raw)
	if err != nil {
		return errdefs.Validationf("arguments: %v", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errdefs.Validationf("arguments: %v", err)
	}
	return nil
}

// listing is the shape of search_airports and list_flights results.
type listing[T any] struct {
	Total   int    `json:"total"`
	Results []T    `json:"results"`
	Note    string `json:"note,omitempty"`
}

func newListing[T any](items []T, noun string) any {
	if len(items) == 0 {
		return fmt.Sprintf("There are no %s matching that query. Let the user know there are no results.", noun)
	}
	l := listing[T]{Total: len(items), Results: items}
	if len(items) > ListLimit {
		l.Results = items[:ListLimit]
		l.Note = fmt.Sprintf("There are %d %s matching that query. Here are the first %d results.", len(items), noun, ListLimit)
	}
	return l
}

func schema(required []string, props map[string]string) map[string]any {
	properties := make(map[string]any, len(props))
	for name, desc := range props {
		properties[name] = map[string]any{"type": "string", "description": desc}
	}
	s := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
