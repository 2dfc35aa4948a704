package jit

import "github.com/google/uuid"

// InstallPatch binds a native Go routine to addr, replacing whatever the
// decompiler/lifter/generator pipeline would otherwise produce for it. A
// patch has no decoded byte range, so the self-modifying-code tracker can
// never evict it — it stays installed until replaced by another
// InstallPatch call.
//
// Patches follow the same ABI as a generated Routine, plus one more
// sentinel: returning FallthroughToOriginal tells the scheduler to run the
// entry this patch displaced — whatever was cached at addr at the moment of
// this InstallPatch call, compiled or itself a patch — and use its result
// instead. InstallPatch retains that displaced entry on the new one's
// Fallthrough field rather than discarding it, so the effect replays
// exactly as the displaced routine would have produced it, not merely the
// "resume at the next address" approximation a patch could fake by hand.
// Installing over bare ground (nothing cached at addr yet) leaves
// Fallthrough nil; a patch that returns FallthroughToOriginal in that case
// faults with ErrNoFallthrough.
//
// Install patches before the target address is first executed: if an entry
// is already cached there, InstallPatch evicts it so the patch takes over
// on the next call, but any routine already mid-execution at that address
// finishes running the code it was compiled from.
func (c *Cache) InstallPatch(addr uint16, routine Routine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	displaced := c.entries[addr]
	c.entries[addr] = &CompiledEntry{
		ID:                uuid.New(),
		EntryAddress:      addr,
		Routine:           routine,
		ByteRangeCovered:  map[uint16]bool{},
		AllowedSMCTargets: map[uint16]bool{},
		Fallthrough:       displaced,
	}
}
