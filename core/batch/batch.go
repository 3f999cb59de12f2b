package batch

import (
	"errors"

	"github.com/google/uuid"

	"marginledger/crypto"
)

// ErrStepOutOfRange is returned by introspection when a step index falls
// outside the batch. Scanning callers treat it as the end of the batch.
var ErrStepOutOfRange = errors.New("batch: step index out of range")

// Step is a single operation within a batch: the program it targets, the
// ordered accounts it touches and opaque call data. The first eight bytes of
// the data select the operation inside the program.
type Step struct {
	Program  crypto.Address
	Accounts []crypto.Address
	Data     []byte
}

// Selector extracts the operation selector from the step data. ok is false
// when the data is too short to carry one.
func (s Step) Selector() (crypto.Selector, bool) {
	var sel crypto.Selector
	if len(s.Data) < crypto.SelectorLength {
		return sel, false
	}
	copy(sel[:], s.Data[:crypto.SelectorLength])
	return sel, true
}

// Batch is an ordered list of steps executed as one atomic unit. The ID ties
// log lines and events from the same execution together.
type Batch struct {
	ID    string
	Steps []Step
}

// New assembles a batch with a fresh correlation ID.
func New(steps ...Step) *Batch {
	return &Batch{
		ID:    uuid.NewString(),
		Steps: steps,
	}
}

// Introspector exposes read-only visibility into the batch under execution.
// Programs use it to verify batch shape without being able to reorder or
// rewrite steps.
type Introspector interface {
	// CurrentIndex reports the position of the step being executed.
	CurrentIndex() int
	// StepAt returns the step at the given position, or ErrStepOutOfRange
	// past the end of the batch.
	StepAt(index int) (Step, error)
}

// Cursor is an Introspector over an in-memory batch. The executor advances it
// as steps run.
type Cursor struct {
	batch *Batch
	index int
}

// NewCursor positions a cursor on the first step of the batch.
func NewCursor(b *Batch) *Cursor {
	return &Cursor{batch: b}
}

// CurrentIndex reports the position of the step being executed.
func (c *Cursor) CurrentIndex() int {
	return c.index
}

// StepAt returns the step at the given position.
func (c *Cursor) StepAt(index int) (Step, error) {
	if c.batch == nil || index < 0 || index >= len(c.batch.Steps) {
		return Step{}, ErrStepOutOfRange
	}
	return c.batch.Steps[index], nil
}

// Advance moves the cursor to the next step.
func (c *Cursor) Advance() {
	c.index++
}
