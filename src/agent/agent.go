// Package agent runs one conversation: it prompts a language model with the tool catalogue
// and the session history, executes the tool calls the model asks for and returns the final
// reply.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/Protocol-Lattice/airport-assistant/src/auth"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
	"github.com/Protocol-Lattice/airport-assistant/src/models"
	"github.com/Protocol-Lattice/airport-assistant/src/tools"
	"github.com/Protocol-Lattice/airport-assistant/src/trace"
)

const defaultSystemPrompt = `Airport Assistant helps travelers find their way at the airport and manage their flights.
It can answer questions about airports, flights, airport amenities and airline policy, and it can
book tickets for signed in users. Answer from tool results; never invent flights, amenities or policies.
When information is missing, ask the user for it instead of guessing.`

// DefaultMaxSteps bounds the tool calls made for one user message.
const DefaultMaxSteps = 3

// Options configures an Engine.
type Options struct {
	Model        models.LLM
	Tools        *tools.Catalog
	Verifier     auth.Verifier
	SystemPrompt string
	MaxSteps     int
	HistoryLimit int
	SessionID    string
	Now          func() time.Time
}

// Engine is a conversation bound to one session. It is not safe for concurrent Invoke calls;
// the orchestrator serialises them.
type Engine struct {
	model        models.LLM
	tools        *tools.Catalog
	verifier     auth.Verifier
	systemPrompt string
	maxSteps     int
	historyLimit int
	sessionID    string
	now          func() time.Time

	mu     sync.Mutex
	token  string
	user   *auth.User
	closed bool
}

// New creates an Engine with the provided options.
func New(opts Options) (*Engine, error) {
	if opts.Model == nil {
		return nil, errors.New("agent requires a language model")
	}
	e := &Engine{
		model:        opts.Model,
		tools:        opts.Tools,
		verifier:     opts.Verifier,
		systemPrompt: opts.SystemPrompt,
		maxSteps:     opts.MaxSteps,
		historyLimit: opts.HistoryLimit,
		sessionID:    opts.SessionID,
		now:          opts.Now,
	}
	if strings.TrimSpace(e.systemPrompt) == "" {
		e.systemPrompt = defaultSystemPrompt
	}
	if e.tools == nil {
		e.tools = tools.NewCatalog()
	}
	if e.maxSteps <= 0 {
		e.maxSteps = DefaultMaxSteps
	}
	if e.historyLimit <= 0 {
		e.historyLimit = 20
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// SetAuthToken stores the bearer credential for protected tools. It is verified on first use.
func (e *Engine) SetAuthToken(token string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.token = auth.StripBearer(token)
	e.user = nil
}

// Close marks the engine unusable. The model is shared between sessions and stays open.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.token, e.user = "", nil
	e.mu.Unlock()
	return nil
}

// currentUser resolves the stored token. A missing verifier, token or a rejected token all
// leave the request anonymous so protected tools answer with ErrAuth.
func (e *Engine) currentUser(ctx context.Context) *auth.User {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.user != nil || e.token == "" || e.verifier == nil {
		return e.user
	}
	u, err := e.verifier.Verify(ctx, e.token)
	if err != nil {
		log.Printf("[agent] session %s: token rejected: %v", e.sessionID, err)
		e.token = ""
		return nil
	}
	e.user = &u
	return e.user
}

// Invoke answers prompt given the prior history. It may call up to MaxSteps tools.
func (e *Engine) Invoke(ctx context.Context, prompt string, history []models.Message) (string, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return "", errors.New("conversation is closed")
	}
	if strings.TrimSpace(prompt) == "" {
		return "", errdefs.Validationf("prompt is empty")
	}

	var steps []string
	for step := 0; step < e.maxSteps; step++ {
		reply, err := e.model.Generate(ctx, e.buildPrompt(prompt, history, steps, false))
		if err != nil {
			return "", err
		}
		name, args, ok := parseToolCall(reply)
		if !ok {
			return strings.TrimSpace(reply), nil
		}
		observation, err := e.runTool(ctx, name, args)
		if err != nil {
			return "", err
		}
		steps = append(steps, fmt.Sprintf("tool:%s %s\nObservation: %s", name, args, observation))
	}

	reply, err := e.model.Generate(ctx, e.buildPrompt(prompt, history, steps, true))
	if err != nil {
		return "", err
	}
	if _, _, ok := parseToolCall(reply); ok {
		return "I could not finish that request. Could you rephrase or give more details?", nil
	}
	return strings.TrimSpace(reply), nil
}

// runTool executes one call. Errors the model can act on come back as the observation;
// anything else aborts the turn.
func (e *Engine) runTool(ctx context.Context, name, rawArgs string) (string, error) {
	tool, spec, ok := e.tools.Lookup(name)
	if !ok {
		return fmt.Sprintf("error: unknown tool %q", name), nil
	}
	trace.Add(ctx, fmt.Sprintf("Calling %s.", spec.Name))
	resp, err := tool.Invoke(ctx, tools.ToolRequest{
		SessionID: e.sessionID,
		Arguments: parseToolArguments(rawArgs),
		User:      e.currentUser(ctx),
	})
	switch {
	case err == nil:
		return strings.TrimSpace(resp.Content), nil
	case errors.Is(err, errdefs.ErrValidation), errors.Is(err, errdefs.ErrAuth),
		errors.Is(err, errdefs.ErrUnsupported), errors.Is(err, errdefs.ErrNotFound):
		return "error: " + err.Error(), nil
	default:
		return "", err
	}
}

func (e *Engine) buildPrompt(userInput string, history []models.Message, steps []string, final bool) string {
	var sb strings.Builder
	sb.Grow(4096)

	sb.WriteString(e.systemPrompt)
	if !final {
		if t := renderTools(e.tools.Specs()); t != "" {
			sb.WriteString("\n\n")
			sb.WriteString(t)
		}
	}
	sb.WriteString("\n\nToday is ")
	sb.WriteString(e.now().Format("Monday, January 2, 2006"))
	sb.WriteString(".")

	sb.WriteString("\n\nConversation history:\n")
	sb.WriteString(renderHistory(history, e.historyLimit))

	sb.WriteString("\n\nCurrent user message:\n")
	sb.WriteString(strings.TrimSpace(userInput))

	if len(steps) > 0 {
		sb.WriteString("\n\nTool results so far:\n")
		sb.WriteString(strings.Join(steps, "\n"))
	}
	if final {
		sb.WriteString("\n\nNo more tools may be called. Answer the user with what you have.\n")
	} else {
		sb.WriteString("\n\nEither call one tool or compose the best possible assistant reply.\n")
	}
	return sb.String()
}

func renderTools(specs []tools.ToolSpec) string {
	if len(specs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Available tools:\n")
	for _, spec := range specs {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", spec.Name, spec.Description))
		if len(spec.InputSchema) > 0 {
			if schemaJSON, err := json.Marshal(spec.InputSchema); err == nil {
				sb.WriteString("  Input schema: ")
				sb.Write(schemaJSON)
				sb.WriteString("\n")
			}
		}
		for _, ex := range spec.Examples {
			if exJSON, err := json.Marshal(ex); err == nil {
				sb.WriteString("  Example: tool:" + spec.Name + " ")
				sb.Write(exJSON)
				sb.WriteString("\n")
			}
		}
	}
	sb.WriteString("Invoke a tool by replying with a single line: `tool:<name> <json arguments>`\n")
	return sb.String()
}

func renderHistory(history []models.Message, limit int) string {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	if len(history) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, m := range history {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(strings.TrimSpace(m.Content))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// parseToolCall finds the first line of reply starting with "tool:".
func parseToolCall(reply string) (name, args string, ok bool) {
	for _, line := range strings.Split(reply, "\n") {
		trimmed := strings.Trim(strings.TrimSpace(line), "`")
		if len(trimmed) < len("tool:") || !strings.EqualFold(trimmed[:len("tool:")], "tool:") {
			continue
		}
		name, args = splitCommand(strings.TrimSpace(trimmed[len("tool:"):]))
		if name == "" {
			return "", "", false
		}
		return name, args, true
	}
	return "", "", false
}

func splitCommand(payload string) (name string, args string) {
	parts := strings.Fields(payload)
	if len(parts) == 0 {
		return "", ""
	}
	name = parts[0]
	if len(payload) > len(name) {
		args = strings.TrimSpace(payload[len(name):])
	}
	return name, args
}

func parseToolArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var payload map[string]any
	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal([]byte(raw), &payload); err == nil {
			return payload
		}
	}
	return map[string]any{"input": raw}
}
