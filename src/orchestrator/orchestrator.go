// Package orchestrator keeps one conversation per user session and serialises the work done
// on each session while letting different sessions run in parallel.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Protocol-Lattice/airport-assistant/src/auth"
	"github.com/Protocol-Lattice/airport-assistant/src/concurrent"
	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
	"github.com/Protocol-Lattice/airport-assistant/src/models"
	"github.com/Protocol-Lattice/airport-assistant/src/trace"
)

// Conversation is the engine bound to one session.
type Conversation interface {
	Invoke(ctx context.Context, prompt string, history []models.Message) (string, error)
	SetAuthToken(token string)
	Close() error
}

// ConversationFactory builds the conversation for a new session.
type ConversationFactory func(ctx context.Context, sessionID string) (Conversation, error)

// TraceSink receives the trace of one turn.
type TraceSink func(sessionID, text string)

// DefaultGreeting seeds the history of new sessions.
const DefaultGreeting = "Welcome to Cymbal Air! How may I assist you?"

type session struct {
	id   string
	conv Conversation
	// pool has one slot: every operation on the session runs through it.
	pool *concurrent.WorkerPool

	mu      sync.Mutex
	history []models.Message
	closed  bool
}

func (s *session) snapshot() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Orchestrator maps session ids to live conversations.
type Orchestrator struct {
	factory  ConversationFactory
	greeting string
	sink     TraceSink

	mu       sync.RWMutex
	sessions map[string]*session
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithGreeting replaces DefaultGreeting.
func WithGreeting(text string) Option {
	return func(o *Orchestrator) { o.greeting = text }
}

// WithTraceSink routes turn traces somewhere other than the log.
func WithTraceSink(sink TraceSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

func New(factory ConversationFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		factory:  factory,
		greeting: DefaultGreeting,
		sessions: make(map[string]*session),
		sink: func(id, text string) {
			log.Printf("[session] %s: %s", id, text)
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) lookup(id string) (*session, error) {
	o.mu.RLock()
	s, ok := o.sessions[id]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", errdefs.ErrSessionNotFound, id)
	}
	return s, nil
}

// Exists reports whether id has a live conversation.
func (o *Orchestrator) Exists(id string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.sessions[id]
	return ok
}

// Len is the number of live sessions.
func (o *Orchestrator) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.sessions)
}

// Create starts a session. An empty id gets a fresh uuid. Creating an existing session is a
// no-op that returns its id.
func (o *Orchestrator) Create(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	if o.Exists(id) {
		return id, nil
	}
	if o.factory == nil {
		return "", errdefs.Configf("orchestrator has no conversation factory")
	}
	conv, err := o.factory(ctx, id)
	if err != nil {
		return "", fmt.Errorf("create conversation %s: %w", id, err)
	}

	o.mu.Lock()
	if _, raced := o.sessions[id]; raced {
		o.mu.Unlock()
		// another caller created it while the factory ran
		_ = conv.Close()
		return id, nil
	}
	o.sessions[id] = &session{
		id:      id,
		conv:    conv,
		pool:    concurrent.NewWorkerPool(1),
		history: []models.Message{{Role: models.RoleAssistant, Content: o.greeting}},
	}
	o.mu.Unlock()
	return id, nil
}

// run executes fn in the session's single slot, failing if the session was reset meanwhile.
func (o *Orchestrator) run(ctx context.Context, id string, fn func(s *session) error) error {
	s, err := o.lookup(id)
	if err != nil {
		return err
	}
	return s.pool.Do(ctx, func() error {
		if s.closed {
			return fmt.Errorf("%w: %s", errdefs.ErrSessionNotFound, id)
		}
		return fn(s)
	})
}

// Invoke sends prompt with a snapshot of the history and records the exchange. A failed or
// cancelled turn leaves the history unchanged.
func (o *Orchestrator) Invoke(ctx context.Context, id, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errdefs.Validationf("prompt is empty")
	}
	var reply string
	err := o.run(ctx, id, func(s *session) error {
		tr := trace.New()
		out, err := s.conv.Invoke(trace.NewContext(ctx, tr), prompt, s.snapshot())
		if text := tr.Flush(); text != "" && o.sink != nil {
			o.sink(id, text)
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		s.history = append(s.history,
			models.Message{Role: models.RoleUser, Content: prompt},
			models.Message{Role: models.RoleAssistant, Content: out},
		)
		s.mu.Unlock()
		reply = out
		return nil
	})
	return reply, err
}

// SetAuthHeader hands a bearer credential to the session's conversation. Both
// "Bearer <token>" and a bare token are accepted.
func (o *Orchestrator) SetAuthHeader(ctx context.Context, id, header string) error {
	return o.run(ctx, id, func(s *session) error {
		s.conv.SetAuthToken(auth.StripBearer(header))
		return nil
	})
}

// Welcome greets a signed in user by name. A history holding only the greeting has it
// replaced; otherwise the welcome is appended.
func (o *Orchestrator) Welcome(ctx context.Context, id, userName string) error {
	text := "Welcome to Cymbal Air! How may I assist you?"
	if name := strings.TrimSpace(userName); name != "" {
		text = fmt.Sprintf("Welcome to Cymbal Air, %s! How may I assist you?", name)
	}
	return o.run(ctx, id, func(s *session) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		msg := models.Message{Role: models.RoleAssistant, Content: text}
		if len(s.history) == 1 {
			s.history[0] = msg
			return nil
		}
		s.history = append(s.history, msg)
		return nil
	})
}

// History returns a copy of the session's messages.
func (o *Orchestrator) History(id string) ([]models.Message, error) {
	s, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.snapshot(), nil
}

// Reset waits for in-flight work on the session, closes its conversation and forgets it.
func (o *Orchestrator) Reset(ctx context.Context, id string) error {
	var closeErr error
	err := o.run(ctx, id, func(s *session) error {
		s.closed = true
		closeErr = s.conv.Close()
		o.mu.Lock()
		if o.sessions[id] == s {
			delete(o.sessions, id)
		}
		o.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	if closeErr != nil {
		return fmt.Errorf("close conversation %s: %w", id, closeErr)
	}
	return nil
}

// CloseAll closes every live session concurrently and joins their errors.
func (o *Orchestrator) CloseAll(ctx context.Context) error {
	o.mu.Lock()
	all := make([]*session, 0, len(o.sessions))
	for _, s := range o.sessions {
		all = append(all, s)
	}
	o.sessions = make(map[string]*session)
	o.mu.Unlock()

	return concurrent.ParallelForEach(ctx, all, func(ctx context.Context, s *session) error {
		return s.pool.Do(ctx, func() error {
			if s.closed {
				return nil
			}
			s.closed = true
			if err := s.conv.Close(); err != nil {
				return fmt.Errorf("close conversation %s: %w", s.id, err)
			}
			return nil
		})
	}, 0)
}
