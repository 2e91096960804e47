package vrp

import "iter"

// Item is a single payload element as it would appear on the wire: a
// VRP or a RouterKey, tagged with an announce/withdraw flag. Snapshots
// only ever emit Announce; deltas emit both.
type Item struct {
	VRP       *VRP       // non-nil for a prefix payload
	RouterKey *RouterKey // non-nil for a router-key payload (version >= 1 only)
	Flag      Flag
}

// SnapshotIter streams the current snapshot as payload Items, filtered
// by what protocol version supports: version 0 gets only VRPs (v4/v6
// prefix PDUs); version 1 also gets router keys. All items are
// Announce, per §4.1.
func (s *Store) SnapshotIter(version uint8) iter.Seq[Item] {
	cur := s.cur.Load()
	return func(yield func(Item) bool) {
		if cur == nil {
			return
		}
		for v := range cur.vrps {
			v := v
			if !yield(Item{VRP: &v, Flag: Announce}) {
				return
			}
		}
		if version >= 1 {
			for k := range cur.routerKeys {
				k := k
				if !yield(Item{RouterKey: &k, Flag: Announce}) {
					return
				}
			}
		}
	}
}

// DeltaIter streams the composed delta from fromSerial (exclusive) to
// CurrentSerial (inclusive) as payload Items tagged with their
// announce/withdraw flag, filtered by version the same way as
// SnapshotIter. Callers must have confirmed DeltaStatus(fromSerial) ==
// DiffAvailable before calling this.
func (s *Store) DeltaIter(fromSerial uint32, version uint8) iter.Seq[Item] {
	d := s.ComposedDelta(fromSerial)
	return func(yield func(Item) bool) {
		if d == nil {
			return
		}
		for v, f := range d.VRPs {
			v, f := v, f
			if !yield(Item{VRP: &v, Flag: f}) {
				return
			}
		}
		if version >= 1 {
			for k, f := range d.RouterKeys {
				k, f := k, f
				if !yield(Item{RouterKey: &k, Flag: f}) {
					return
				}
			}
		}
	}
}
