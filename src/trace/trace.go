// Package trace buffers human readable progress lines for one logical request.
package trace

import (
	"context"
	"strings"
	"sync"
)

// Trace collects lines until Flush. The zero value is ready to use.
type Trace struct {
	mu    sync.Mutex
	lines []string
}

// New returns an empty trace.
func New() *Trace { return &Trace{} }

// Add appends a line. Blank input is ignored.
func (t *Trace) Add(line string) {
	if t == nil || strings.TrimSpace(line) == "" {
		return
	}
	t.mu.Lock()
	t.lines = append(t.lines, line)
	t.mu.Unlock()
}

// Flush returns every buffered line joined by a single space and clears the buffer.
func (t *Trace) Flush() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := strings.Join(t.lines, " ")
	t.lines = nil
	return out
}

// Len reports the number of buffered lines.
func (t *Trace) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lines)
}

type ctxKey struct{}

// NewContext returns a child context carrying t.
func NewContext(ctx context.Context, t *Trace) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the trace carried by ctx, or nil.
func FromContext(ctx context.Context) *Trace {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(ctxKey{}).(*Trace)
	return t
}

// Add appends line to the trace carried by ctx. Without one it does nothing.
func Add(ctx context.Context, line string) {
	FromContext(ctx).Add(line)
}
