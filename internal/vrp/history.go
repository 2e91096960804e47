package vrp

import "time"

// historyEntry pairs a Delta with the time it was installed, so the
// history can be truncated by both count and age.
type historyEntry struct {
	delta   *Delta
	stamped time.Time
}

// history is an ordered map from serial to Delta, truncated when a
// delta falls outside the retention window (§3 "Delta history").
// Not safe for concurrent use; the Store serializes all writers.
type history struct {
	entries    []historyEntry // ascending by serial
	maxAge     time.Duration
	maxEntries int
}

func newHistory(maxAge time.Duration, maxEntries int) *history {
	return &history{maxAge: maxAge, maxEntries: maxEntries}
}

func (h *history) append(d *Delta, now time.Time) {
	h.entries = append(h.entries, historyEntry{delta: d, stamped: now})
	h.truncate(now)
}

func (h *history) truncate(now time.Time) {
	// drop entries older than maxAge
	if h.maxAge > 0 {
		cutoff := now.Add(-h.maxAge)
		i := 0
		for i < len(h.entries) && h.entries[i].stamped.Before(cutoff) {
			i++
		}
		if i > 0 {
			h.entries = append([]historyEntry(nil), h.entries[i:]...)
		}
	}

	// drop oldest entries beyond maxEntries
	if h.maxEntries > 0 && len(h.entries) > h.maxEntries {
		drop := len(h.entries) - h.maxEntries
		h.entries = append([]historyEntry(nil), h.entries[drop:]...)
	}
}

// oldestBaseSerial returns the serial immediately before the oldest
// retained delta, and whether any deltas are retained at all. Delta
// serials start at 1 (serial 0 means "no snapshot"), so this never
// underflows in practice; the guard only protects against a
// corrupted/forged Serial value reaching here.
func (h *history) oldestBaseSerial() (serial uint32, ok bool) {
	if len(h.entries) == 0 {
		return 0, false
	}
	if h.entries[0].delta.Serial == 0 {
		return 0, true
	}
	return h.entries[0].delta.Serial - 1, true
}

// has reports whether fromSerial is a serial this history can compose
// a delta from (i.e. fromSerial is the base of some retained delta, or
// equals a later retained delta's serial).
func (h *history) has(fromSerial uint32) bool {
	if len(h.entries) == 0 {
		return false
	}
	base, _ := h.oldestBaseSerial()
	if fromSerial < base {
		return false
	}
	last := h.entries[len(h.entries)-1].delta.Serial
	return fromSerial <= last
}

// composeSince returns the composed delta covering (fromSerial,
// current], i.e. every retained delta whose serial > fromSerial.
func (h *history) composeSince(fromSerial uint32) *Delta {
	var subset []*Delta
	for _, e := range h.entries {
		if e.delta.Serial > fromSerial {
			subset = append(subset, e.delta)
		}
	}
	return composeFrom(subset)
}
