package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"marginledger/core/batch"
	"marginledger/core/events"
	"marginledger/core/state"
	"marginledger/core/types"
	"marginledger/crypto"
	"marginledger/observability"
)

var (
	// ErrNilBatch is returned when execution is asked to run a nil batch.
	ErrNilBatch = errors.New("core: batch must not be nil")
	// ErrUnknownProgram is returned when a step targets an address no program
	// is registered under.
	ErrUnknownProgram = errors.New("core: no program registered for step")
	// ErrDuplicateProgram is returned when two programs claim one address.
	ErrDuplicateProgram = errors.New("core: program already registered")
)

// Program is one native engine entry point addressable from batch steps.
type Program interface {
	Address() crypto.Address
	Execute(step batch.Step, intro batch.Introspector) error
}

// Processor hosts registered programs and runs batches against journaled
// ledger state. A batch either runs to completion and commits, or the first
// failing step resets the journal and nothing of the batch survives.
type Processor struct {
	manager  *state.Manager
	programs map[string]Program
	events   []types.Event
	logger   *slog.Logger
}

// NewProcessor constructs a processor over the given state manager.
func NewProcessor(manager *state.Manager) (*Processor, error) {
	if manager == nil {
		return nil, fmt.Errorf("core: state manager must not be nil")
	}
	return &Processor{
		manager:  manager,
		programs: make(map[string]Program),
		logger:   slog.Default(),
	}, nil
}

// SetLogger replaces the processor's logger. Passing nil restores the default.
func (p *Processor) SetLogger(logger *slog.Logger) {
	if logger == nil {
		p.logger = slog.Default()
		return
	}
	p.logger = logger
}

// Register makes a program addressable from batch steps.
func (p *Processor) Register(program Program) error {
	if program == nil {
		return fmt.Errorf("core: program must not be nil")
	}
	key := program.Address().String()
	if _, exists := p.programs[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProgram, program.Address())
	}
	p.programs[key] = program
	return nil
}

// Emitter returns the sink engines publish events through. Emitted events
// land in the current batch's event log.
func (p *Processor) Emitter() events.Emitter {
	return processorEmitter{p: p}
}

// ExecuteBatch runs every step of the batch in order. On success the journal
// commits and the batch's events are returned; on failure the journal resets
// and no events survive.
func (p *Processor) ExecuteBatch(b *batch.Batch) ([]types.Event, error) {
	if b == nil {
		return nil, ErrNilBatch
	}
	started := time.Now()
	p.events = p.events[:0]
	cursor := batch.NewCursor(b)
	for index := range b.Steps {
		step := b.Steps[index]
		program, ok := p.programs[step.Program.String()]
		if !ok {
			err := fmt.Errorf("%w: %s", ErrUnknownProgram, step.Program)
			p.abort(b, index, started, err)
			return nil, err
		}
		if err := program.Execute(step, cursor); err != nil {
			p.abort(b, index, started, err)
			return nil, fmt.Errorf("core: step %d: %w", index, err)
		}
		cursor.Advance()
	}
	root, err := p.manager.Commit()
	if err != nil {
		p.abort(b, len(b.Steps), started, err)
		return nil, err
	}
	duration := time.Since(started)
	observability.FlashLoan().ObserveBatch(duration, nil)
	p.recordLoanMetrics()
	p.logger.Info("batch committed",
		"batch", b.ID,
		"steps", len(b.Steps),
		"root", fmt.Sprintf("%x", root),
		"duration", duration,
	)
	return p.Events(), nil
}

func (p *Processor) abort(b *batch.Batch, index int, started time.Time, err error) {
	p.manager.Reset()
	p.events = p.events[:0]
	observability.FlashLoan().ObserveBatch(time.Since(started), err)
	p.logger.Error("batch aborted", "batch", b.ID, "step", index, "err", err)
}

func (p *Processor) recordLoanMetrics() {
	metrics := observability.FlashLoan()
	for i := range p.events {
		switch p.events[i].Type {
		case events.TypeLoanBegin:
			metrics.RecordLoanBegun()
		case events.TypeLoanSettle:
			fee, ok := new(big.Int).SetString(p.events[i].Attribute("fee"), 10)
			if !ok {
				fee = nil
			}
			metrics.RecordLoanSettled(fee)
		}
	}
}

// AppendEvent adds an event to the current batch's log. The emission counter
// ticks here, so discarded events from an aborted batch still show up as
// emitted.
func (p *Processor) AppendEvent(evt *types.Event) {
	if evt == nil {
		return
	}
	attrs := make(map[string]string, len(evt.Attributes))
	for k, v := range evt.Attributes {
		attrs[k] = v
	}
	p.events = append(p.events, types.Event{Type: evt.Type, Attributes: attrs})
	observability.Events().RecordEvent(evt.Type)
}

// Events returns a copy of the events emitted by the current batch.
func (p *Processor) Events() []types.Event {
	out := make([]types.Event, len(p.events))
	for i := range p.events {
		attrs := make(map[string]string, len(p.events[i].Attributes))
		for k, v := range p.events[i].Attributes {
			attrs[k] = v
		}
		out[i] = types.Event{Type: p.events[i].Type, Attributes: attrs}
	}
	return out
}

type processorEmitter struct {
	p *Processor
}

func (e processorEmitter) Emit(evt events.Event) {
	if e.p == nil || evt == nil {
		return
	}
	if provider, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := provider.Event(); payload != nil {
			e.p.AppendEvent(payload)
		}
		return
	}
	e.p.AppendEvent(&types.Event{Type: evt.EventType(), Attributes: map[string]string{}})
}
