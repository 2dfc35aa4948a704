package jit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// historyLimit bounds the scheduler's "last addresses visited" ring buffer.
// 1000 is generous for interactive debugging sessions without letting a
// long-running emulation grow the buffer unbounded.
const historyLimit = 1000

// Scheduler is the run_method loop of §4.6: resolve the compiled entry for
// an address (compiling on a cache miss), run it, and follow whatever
// address it hands back until a routine returns a negative sentinel or the
// caller's context is cancelled.
type Scheduler struct {
	bus         *Bus
	cache       *Cache
	customizers []Customizer
	log         *zap.SugaredLogger

	history []uint16
}

// NewScheduler wires a scheduler to bus and cache, registering the cache's
// self-modifying-code tracker on the bus's write-listener list. customizers
// are applied, in order, to every function this scheduler compiles.
func NewScheduler(bus *Bus, cache *Cache, log *zap.SugaredLogger, customizers ...Customizer) *Scheduler {
	s := &Scheduler{bus: bus, cache: cache, customizers: customizers, log: log}
	bus.OnMemoryWritten(cache.HandleWrite)
	return s
}

// NewStandardScheduler is NewScheduler with WithInterruptPolling and
// WithCycleCounting prepended, ahead of any caller-supplied customizers —
// the interrupt-delivery and cycle-accounting contracts generated routines
// honor (HAL.PollForInterrupt, HAL.IncrementCPUCycleCount) in day-to-day
// use.
func NewStandardScheduler(bus *Bus, cache *Cache, log *zap.SugaredLogger, extra ...Customizer) *Scheduler {
	customizers := append([]Customizer{WithInterruptPolling, WithCycleCounting}, extra...)
	return NewScheduler(bus, cache, log, customizers...)
}

// Run drives hal starting at entry until a routine signals halt
// (HaltRoutine), the context is cancelled, or an unrecoverable error occurs.
// Cancellation (ErrCancelled, raised by HAL.IncrementCPUCycleCount) unwinds
// cleanly and is not itself returned as an error.
func (s *Scheduler) Run(ctx context.Context, hal HAL, entry uint16) error {
	addr := entry
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		compiled, ok := s.cache.Lookup(addr)
		if !ok {
			var err error
			compiled, err = s.cache.Compile(s.bus, addr, s.customizers...)
			if err != nil {
				return err
			}
		}

		s.recordHistory(addr)

		next, err := s.runEntry(ctx, hal, compiled)
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return nil
			}
			return err
		}
		if next == HaltRoutine {
			return nil
		}
		addr = uint16(next)
	}
}

// runEntry runs compiled, then follows its patch fall-through chain: a
// routine returning FallthroughToOriginal hands control to the entry it
// displaced rather than producing a real next address itself. The chain
// terminates at the first entry whose routine returns anything else, so a
// patch installed over a patch over a compiled entry unwinds cleanly one
// link at a time.
func (s *Scheduler) runEntry(ctx context.Context, hal HAL, compiled *CompiledEntry) (int32, error) {
	for {
		s.cache.BeginExecution(compiled.EntryAddress)
		next, err := compiled.Routine(ctx, hal)
		s.cache.EndExecution()
		if err != nil {
			return 0, err
		}
		if next != FallthroughToOriginal {
			return next, nil
		}
		if compiled.Fallthrough == nil {
			return 0, fmt.Errorf("%w: patch at $%04X", ErrNoFallthrough, compiled.EntryAddress)
		}
		compiled = compiled.Fallthrough
	}
}

func (s *Scheduler) recordHistory(addr uint16) {
	s.history = append(s.history, addr)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
}

// History returns a copy of the most recently visited entry addresses,
// oldest first.
func (s *Scheduler) History() []uint16 {
	out := make([]uint16, len(s.history))
	copy(out, s.history)
	return out
}
