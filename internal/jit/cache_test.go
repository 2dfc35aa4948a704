package jit

import (
	"context"
	"testing"
)

func dummyRoutine(addr uint16) Routine {
	return func(context.Context, HAL) (int32, error) { return int32(addr), nil }
}

func TestCacheEvictsEntryOnUnrelatedWrite(t *testing.T) {
	cache := NewCache(nil)
	cache.entries[0x8000] = &CompiledEntry{
		EntryAddress:      0x8000,
		Routine:           dummyRoutine(0x8000),
		ByteRangeCovered:  map[uint16]bool{0x8000: true, 0x8001: true},
		AllowedSMCTargets: map[uint16]bool{},
	}

	cache.HandleWrite(0x8001)

	if _, ok := cache.Lookup(0x8000); ok {
		t.Fatal("expected entry to be evicted")
	}
}

func TestCacheTolerateKnownSMCTargetWithoutEviction(t *testing.T) {
	cache := NewCache(nil)
	cache.entries[0x8000] = &CompiledEntry{
		EntryAddress:      0x8000,
		Routine:           dummyRoutine(0x8000),
		ByteRangeCovered:  map[uint16]bool{0x8000: true, 0x8001: true},
		AllowedSMCTargets: map[uint16]bool{0x8001: true},
	}

	cache.HandleWrite(0x8001)

	if _, ok := cache.Lookup(0x8000); !ok {
		t.Fatal("expected entry to survive a write to a tolerated SMC target")
	}
}

func TestCacheIgnoresWriteOutsideCoveredRange(t *testing.T) {
	cache := NewCache(nil)
	cache.entries[0x8000] = &CompiledEntry{
		EntryAddress:      0x8000,
		Routine:           dummyRoutine(0x8000),
		ByteRangeCovered:  map[uint16]bool{0x8000: true},
		AllowedSMCTargets: map[uint16]bool{},
	}

	cache.HandleWrite(0x9000)

	if _, ok := cache.Lookup(0x8000); !ok {
		t.Fatal("expected entry untouched by a write outside its byte range")
	}
}

func TestCacheRecordsSelfModificationFromCurrentlyExecutingEntry(t *testing.T) {
	cache := NewCache(nil)
	cache.entries[0x8000] = &CompiledEntry{
		EntryAddress:      0x8000,
		Routine:           dummyRoutine(0x8000),
		ByteRangeCovered:  map[uint16]bool{0x8000: true, 0x8001: true},
		AllowedSMCTargets: map[uint16]bool{},
	}

	cache.BeginExecution(0x8000)
	cache.HandleWrite(0x8001)
	cache.EndExecution()

	if !cache.smcTargets[0x8000][0x8001] {
		t.Fatal("expected $8001 recorded as a self-modifying-code target for entry $8000")
	}
}

func TestCacheDoesNotRecordWriteFromOutsideCurrentEntry(t *testing.T) {
	cache := NewCache(nil)
	cache.entries[0x8000] = &CompiledEntry{
		EntryAddress:      0x8000,
		Routine:           dummyRoutine(0x8000),
		ByteRangeCovered:  map[uint16]bool{0x8000: true, 0x8001: true},
		AllowedSMCTargets: map[uint16]bool{},
	}

	// No BeginExecution call: this write isn't attributed to any running
	// function, so it should evict without promoting $8001 to an SMC target.
	cache.HandleWrite(0x8001)

	if len(cache.smcTargets[0x8000]) != 0 {
		t.Fatal("expected no SMC target recorded without an executing entry")
	}
}

func TestInstallPatchSurvivesWritesToItsOwnAddress(t *testing.T) {
	cache := NewCache(nil)
	cache.entries[0x8000] = &CompiledEntry{
		EntryAddress:     0x8000,
		Routine:          dummyRoutine(0x8000),
		ByteRangeCovered: map[uint16]bool{0x8000: true},
	}

	cache.InstallPatch(0x8000, dummyRoutine(0x9000))
	cache.HandleWrite(0x8000)

	entry, ok := cache.Lookup(0x8000)
	if !ok {
		t.Fatal("expected patch to remain installed")
	}
	next, err := entry.Routine(context.Background(), nil)
	if err != nil || next != 0x9000 {
		t.Errorf("got (%v, %v), want (0x9000, nil)", next, err)
	}
}
