package vrp

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// DeltaStatus is the result of Store.DeltaStatus, telling an RTR
// handler how to respond to a Serial Query for a given client serial.
type DeltaStatus int

const (
	// NoDataAvailable: no snapshot has ever been installed.
	NoDataAvailable DeltaStatus = iota
	// DiffAvailable: the requested serial is retained in history (or
	// the client asked for "none" and a snapshot exists).
	DiffAvailable
	// DiffUndetermined: the requested serial is outside the retained
	// window (too old, or from the future).
	DiffUndetermined
	// NoDiff: the requested serial equals the current serial.
	NoDiff
)

func (s DeltaStatus) String() string {
	switch s {
	case NoDataAvailable:
		return "NoDataAvailable"
	case DiffAvailable:
		return "DiffAvailable"
	case DiffUndetermined:
		return "DiffUndetermined"
	case NoDiff:
		return "NoDiff"
	default:
		return "unknown"
	}
}

// ErrShuttingDown is returned by Install once the Store has been
// marked for shutdown.
var ErrShuttingDown = errors.New("vrp: store is shutting down")

// Store is the in-memory, versioned VRP database. It supports
// many-reader-one-writer semantics: Install is serialized (only the
// driver calls it); reads may proceed concurrently with reads and with
// any in-progress install, by retaining a handle to an atomically
// published *snapshot (§5 "Shared-resource policy").
type Store struct {
	mu sync.Mutex // serializes Install (and history mutation) only

	cur     atomic.Pointer[snapshot]
	history *history

	sessionV0 uint16
	sessionV1 uint16

	shuttingDown atomic.Bool
}

// NewStore returns an empty Store with freshly chosen, stable session
// ids for protocol versions 0 and 1 (§3 "Session").
func NewStore(maxAge time.Duration, maxEntries int) *Store {
	return &Store{
		history:   newHistory(maxAge, maxEntries),
		sessionV0: uint16(rand.Uint32()),
		sessionV1: uint16(rand.Uint32()),
	}
}

// SessionID returns the session id for the given RTR protocol version
// (0 or 1). It is constant for the process lifetime per version.
func (s *Store) SessionID(version uint8) uint16 {
	if version == 0 {
		return s.sessionV0
	}
	return s.sessionV1
}

// CurrentSerial returns the serial of the most recently installed
// snapshot. Zero if no snapshot has ever been installed.
func (s *Store) CurrentSerial() uint32 {
	if cur := s.cur.Load(); cur != nil {
		return cur.serial
	}
	return 0
}

// HasSnapshot reports whether any snapshot has ever been installed.
func (s *Store) HasSnapshot() bool {
	return s.cur.Load() != nil
}

// Shutdown marks the store as shutting down; subsequent Install calls
// fail with ErrShuttingDown.
func (s *Store) Shutdown() {
	s.shuttingDown.Store(true)
}

// Install atomically replaces the current snapshot with table,
// computes a Delta against the prior snapshot, appends it to history,
// and advances the serial by 1 (mod 2^32). Returns the new serial.
//
// Serial 0 is reserved for "no snapshot installed" (see CurrentSerial);
// the first installed snapshot is always serial 1, so every installed
// serial is strictly greater than the initial, never-installed state.
func (s *Store) Install(table *Table) (uint32, error) {
	if s.shuttingDown.Load() {
		return 0, ErrShuttingDown
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cur.Load()
	nextSerial := uint32(1)
	if prev != nil {
		nextSerial = prev.serial + 1
	}

	next := newSnapshot(nextSerial, table)
	delta := newDelta(nextSerial, prev, next)

	// publish atomically: readers either see the old snapshot in full
	// or the new one in full, never a partial mix (§3 "Snapshot").
	s.cur.Store(next)
	s.history.append(delta, time.Now())

	return nextSerial, nil
}

// DeltaStatus implements the lookup table from spec §4.1.
func (s *Store) DeltaStatus(clientSerial *uint32) DeltaStatus {
	cur := s.cur.Load()
	if clientSerial == nil {
		if cur == nil {
			return NoDataAvailable
		}
		return DiffAvailable
	}
	if cur == nil {
		return NoDataAvailable
	}
	if *clientSerial == cur.serial {
		return NoDiff
	}
	if s.history.has(*clientSerial) {
		return DiffAvailable
	}
	return DiffUndetermined
}

// Snapshot returns the currently published snapshot handle (nil if
// none installed yet) and its serial. The returned value is immutable
// and safe to iterate concurrently with further Installs.
func (s *Store) Snapshot() (*snapshot, uint32) {
	cur := s.cur.Load()
	if cur == nil {
		return nil, 0
	}
	return cur, cur.serial
}

// VRPs returns the VRP set of this snapshot.
func (s *snapshot) VRPs() map[VRP]struct{} {
	return s.vrps
}

// RouterKeys returns the router-key set of this snapshot.
func (s *snapshot) RouterKeys() map[RouterKey]struct{} {
	return s.routerKeys
}

// Serial returns the serial this snapshot was installed with.
func (s *snapshot) Serial() uint32 {
	return s.serial
}

// ComposedDelta returns the delta covering (fromSerial, currentSerial]
// composed from retained history. Callers must have first checked
// DeltaStatus(fromSerial) == DiffAvailable; per the store's invariant,
// a successful call here requires that prior result for the same pair.
func (s *Store) ComposedDelta(fromSerial uint32) *Delta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.composeSince(fromSerial)
}
