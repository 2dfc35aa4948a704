package jit

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CompiledEntry is one function's cached compilation: the generated routine,
// the byte range it was decompiled from, and the subset of that range the
// lifter already treats as self-modifiable (and therefore tolerates writes
// to without going stale).
type CompiledEntry struct {
	ID                uuid.UUID
	EntryAddress      uint16
	Routine           Routine
	ByteRangeCovered  map[uint16]bool
	AllowedSMCTargets map[uint16]bool

	// Fallthrough is the entry InstallPatch displaced when it installed
	// Routine, or nil for anything Compile produced. Scheduler.runEntry
	// chains into it when Routine returns FallthroughToOriginal, so a patch
	// over a patch over a compiled entry chains as far back as it needs to.
	Fallthrough *CompiledEntry
}

// Cache is the code cache and self-modifying-code tracker described in
// §4.5: it holds one compiled entry per entry address, and evicts entries
// whose covered bytes are overwritten unless the write lands on an already
// tolerated (Dynamic-lifted) address.
//
// Every Cache instance owns its own map and mutex — there is no
// package-level cache, so two emulator instances in the same process never
// share or corrupt each other's compiled state.
type Cache struct {
	mu      sync.Mutex
	entries map[uint16]*CompiledEntry

	// smcTargets accumulates, per entry address, the operand addresses a
	// prior compilation learned were self-modified from within the same
	// function. The next compilation of that entry address lifts those
	// addresses as Dynamic, so the cache stops thrashing on code that
	// habitually patches its own operands.
	smcTargets map[uint16]map[uint16]bool

	// currentEntry is the entry address of the routine presently executing,
	// set by the scheduler for the duration of one Routine invocation. A
	// write that lands inside the currently executing function's own range
	// is what promotes an address into smcTargets; a write from anywhere
	// else just evicts.
	currentEntry uint16
	executing    bool

	log *zap.SugaredLogger
}

// NewCache creates an empty cache. log may be nil, in which case eviction
// and compilation events are not logged.
func NewCache(log *zap.SugaredLogger) *Cache {
	return &Cache{
		entries:    make(map[uint16]*CompiledEntry),
		smcTargets: make(map[uint16]map[uint16]bool),
		log:        log,
	}
}

func (c *Cache) logf(template string, args ...interface{}) {
	if c.log != nil {
		c.log.Debugf(template, args...)
	}
}

// Lookup returns the cached entry for addr, if present.
func (c *Cache) Lookup(addr uint16) (*CompiledEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[addr]
	return e, ok
}

// Compile decompiles, lifts, customizes, and generates the function at addr,
// installs it in the cache, and returns the new entry. It folds in whatever
// self-modifying-code targets a previous compilation of this same entry
// address discovered.
func (c *Cache) Compile(bus *Bus, addr uint16, customizers ...Customizer) (*CompiledEntry, error) {
	df, err := Decompile(bus, addr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	smc := c.smcTargets[addr]
	c.mu.Unlock()

	seq, addrs, err := LiftFunction(df, smc)
	if err != nil {
		return nil, err
	}
	seq, addrs = applyCustomizers(df, seq, addrs, customizers...)

	routine, err := Generate(seq, addrs)
	if err != nil {
		return nil, err
	}

	entry := &CompiledEntry{
		ID:                uuid.New(),
		EntryAddress:      addr,
		Routine:           routine,
		ByteRangeCovered:  df.ByteRangeCovered(),
		AllowedSMCTargets: smc,
	}

	c.mu.Lock()
	c.entries[addr] = entry
	c.mu.Unlock()

	c.logf("compiled entry %s at $%04X (%d instructions, %d tolerated SMC targets)",
		entry.ID, addr, len(df.Instructions), len(smc))

	return entry, nil
}

// BeginExecution and EndExecution bracket one Routine invocation so
// HandleWrite can tell a function's self-modification of its own bytes
// apart from an unrelated write landing in its range.
func (c *Cache) BeginExecution(entryAddr uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentEntry = entryAddr
	c.executing = true
}

func (c *Cache) EndExecution() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executing = false
}

// HandleWrite is registered with Bus.OnMemoryWritten. It evicts every cached
// entry whose covered range contains addr, except where that address is
// already in the entry's AllowedSMCTargets — those entries keep working
// because the lifter already emits a live memory read for them. A write
// that both lands in the currently executing entry's own range and wasn't
// already tolerated is remembered, so the next compilation of that entry
// lifts the address as Dynamic instead of baking in a now-stale constant.
func (c *Cache) HandleWrite(addr uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for entryAddr, entry := range c.entries {
		if !entry.ByteRangeCovered[addr] {
			continue
		}
		if entry.AllowedSMCTargets[addr] {
			continue
		}

		delete(c.entries, entryAddr)
		c.logf("evicted entry at $%04X: byte $%04X written", entryAddr, addr)

		if c.executing && c.currentEntry == entryAddr {
			targets := c.smcTargets[entryAddr]
			if targets == nil {
				targets = make(map[uint16]bool)
				c.smcTargets[entryAddr] = targets
			}
			targets[addr] = true
			c.logf("entry $%04X recorded $%04X as a self-modifying-code target", entryAddr, addr)
		}
	}
}
