package datastore

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Protocol-Lattice/airport-assistant/src/datastore/model"
)

// Pipeline runs the bulk load phases in order and remembers how far it got. When a phase
// fails, the phases before it stay committed and the next Run resumes at the failed phase.
// Callers must pass the same dataset when resuming.
type Pipeline struct {
	runner PhaseRunner

	mu   sync.Mutex
	done int
}

// NewPipeline binds a pipeline to a provider.
func NewPipeline(runner PhaseRunner) *Pipeline {
	return &Pipeline{runner: runner}
}

// Run validates data, drops entity families the provider does not store, then applies the
// remaining phases. Validation happens before the wipe phase so bad input never destroys a
// loaded dataset.
func (p *Pipeline) Run(ctx context.Context, data model.Dataset) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prepared, err := data.Prepare()
	if err != nil {
		return fmt.Errorf("%s bulk load: %w", p.runner.Kind(), err)
	}
	prepared = restrictDataset(p.runner.Kind(), p.runner.Capabilities(), prepared)

	for i := p.done; i < len(Phases); i++ {
		phase := Phases[i]
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s bulk load stopped before %s: %w", p.runner.Kind(), phase, err)
		}
		start := time.Now()
		if err := p.runner.RunPhase(ctx, phase, prepared); err != nil {
			return fmt.Errorf("%s bulk load phase %s: %w", p.runner.Kind(), phase, err)
		}
		p.done = i + 1
		log.Printf("[loader] %s: phase %s done in %s", p.runner.Kind(), phase, time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// Completed lists the phases committed so far.
func (p *Pipeline) Completed() []Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Phase(nil), Phases[:p.done]...)
}

// Done reports whether every phase has been committed.
func (p *Pipeline) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done == len(Phases)
}

// Reset makes the next Run start from the wipe phase.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.done = 0
	p.mu.Unlock()
}

func restrictDataset(kind Kind, caps Capabilities, d model.Dataset) model.Dataset {
	skip := func(family string, n int) {
		if n > 0 {
			log.Printf("[loader] %s does not store %s; skipping %d rows", kind, family, n)
		}
	}
	if !caps.Has(CapAirports) {
		skip("airports", len(d.Airports))
		d.Airports = nil
	}
	if !caps.Has(CapAmenities) {
		skip("amenities", len(d.Amenities))
		d.Amenities = nil
	}
	if !caps.Has(CapFlights) {
		skip("flights", len(d.Flights))
		d.Flights = nil
	}
	if !caps.Has(CapPolicies) {
		skip("policies", len(d.Policies))
		d.Policies = nil
	}
	if !caps.Has(CapGraph) {
		skip("relationships", len(d.Relationships))
		d.Relationships = nil
	}
	return d
}

// checkPhaseInput rejects families a provider cannot hold when RunPhase is called directly.
func checkPhaseInput(kind Kind, caps Capabilities, d model.Dataset) error {
	checks := []struct {
		n   int
		cap Capabilities
	}{
		{len(d.Airports), CapAirports},
		{len(d.Amenities), CapAmenities},
		{len(d.Flights), CapFlights},
		{len(d.Policies), CapPolicies},
		{len(d.Relationships), CapGraph},
	}
	for _, c := range checks {
		if c.n > 0 {
			if err := requireCap(kind, caps, c.cap); err != nil {
				return err
			}
		}
	}
	return nil
}
