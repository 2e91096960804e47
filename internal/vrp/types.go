// Package vrp implements the in-memory, versioned VRP database: the
// current snapshot of Validated ROA Payloads and router keys, and a
// bounded history of deltas keyed by serial number.
package vrp

import "net/netip"

// Family identifies the address family a VRP was validated for.
type Family uint8

const (
	FamilyV4 Family = iota
	FamilyV6
)

// VRP is a single Validated ROA Payload: (ASN, prefix, max length).
// Two VRPs compare equal iff all four fields match.
type VRP struct {
	ASN    uint32
	Prefix netip.Prefix
	MaxLen uint8
	Family Family
}

// RouterKey is a BGPsec router key, present only for RTR version >= 1.
type RouterKey struct {
	ASN  uint32
	SKI  [20]byte
	SPKI string // DER bytes, stored as string so RouterKey stays comparable
}

// Flag marks an item in a Delta as an announcement or a withdrawal.
type Flag uint8

const (
	Withdraw Flag = 0
	Announce Flag = 1
)

// Table is the mutable, worker-local (or merged) set of VRPs and
// router keys produced by one validation cycle, before it is installed
// into the Store. It is a plain set: insertion is idempotent.
type Table struct {
	VRPs       map[VRP]struct{}
	RouterKeys map[RouterKey]struct{}
}

// NewTable returns an empty, ready-to-use Table.
func NewTable() *Table {
	return &Table{
		VRPs:       make(map[VRP]struct{}),
		RouterKeys: make(map[RouterKey]struct{}),
	}
}

// AddVRP inserts v, idempotently.
func (t *Table) AddVRP(v VRP) {
	t.VRPs[v] = struct{}{}
}

// AddRouterKey inserts k, idempotently.
func (t *Table) AddRouterKey(k RouterKey) {
	t.RouterKeys[k] = struct{}{}
}

// Merge folds other into t (union of both sets).
func (t *Table) Merge(other *Table) {
	for v := range other.VRPs {
		t.VRPs[v] = struct{}{}
	}
	for k := range other.RouterKeys {
		t.RouterKeys[k] = struct{}{}
	}
}

// snapshot is the immutable, atomically-published view of the VRP
// database at a given serial. Once published it is never mutated;
// readers that hold a *snapshot are unaffected by later installs.
type snapshot struct {
	serial     uint32
	vrps       map[VRP]struct{}
	routerKeys map[RouterKey]struct{}
}

func newSnapshot(serial uint32, t *Table) *snapshot {
	s := &snapshot{
		serial:     serial,
		vrps:       make(map[VRP]struct{}, len(t.VRPs)),
		routerKeys: make(map[RouterKey]struct{}, len(t.RouterKeys)),
	}
	for v := range t.VRPs {
		s.vrps[v] = struct{}{}
	}
	for k := range t.RouterKeys {
		s.routerKeys[k] = struct{}{}
	}
	return s
}

// Delta is the announce/withdraw difference between two adjacent
// (or composed) snapshots, tagged with the serial that produced it.
type Delta struct {
	Serial     uint32
	VRPs       map[VRP]Flag
	RouterKeys map[RouterKey]Flag
}

func newDelta(serial uint32, prev, cur *snapshot) *Delta {
	d := &Delta{
		Serial:     serial,
		VRPs:       make(map[VRP]Flag),
		RouterKeys: make(map[RouterKey]Flag),
	}

	var prevVRPs, curVRPs map[VRP]struct{}
	var prevKeys, curKeys map[RouterKey]struct{}
	if prev != nil {
		prevVRPs, prevKeys = prev.vrps, prev.routerKeys
	}
	curVRPs, curKeys = cur.vrps, cur.routerKeys

	for v := range curVRPs {
		if _, ok := prevVRPs[v]; !ok {
			d.VRPs[v] = Announce
		}
	}
	for v := range prevVRPs {
		if _, ok := curVRPs[v]; !ok {
			d.VRPs[v] = Withdraw
		}
	}
	for k := range curKeys {
		if _, ok := prevKeys[k]; !ok {
			d.RouterKeys[k] = Announce
		}
	}
	for k := range prevKeys {
		if _, ok := curKeys[k]; !ok {
			d.RouterKeys[k] = Withdraw
		}
	}

	return d
}

// composeFrom builds a single Delta equivalent to applying deltas
// a+1..b in order, where deltas is the slice of per-serial deltas in
// ascending serial order. Per §3 "Delta history" invariant, composing
// all retained deltas for [a+1, b] must equal snapshot(b) - snapshot(a).
func composeFrom(deltas []*Delta) *Delta {
	out := &Delta{
		VRPs:       make(map[VRP]Flag),
		RouterKeys: make(map[RouterKey]Flag),
	}
	if len(deltas) == 0 {
		return out
	}
	out.Serial = deltas[len(deltas)-1].Serial

	applyVRP := func(v VRP, f Flag) {
		if prev, ok := out.VRPs[v]; ok {
			if prev != f {
				delete(out.VRPs, v) // announce+withdraw (or vice versa) cancel out
			}
			return
		}
		out.VRPs[v] = f
	}
	applyKey := func(k RouterKey, f Flag) {
		if prev, ok := out.RouterKeys[k]; ok {
			if prev != f {
				delete(out.RouterKeys, k)
			}
			return
		}
		out.RouterKeys[k] = f
	}

	for _, d := range deltas {
		for v, f := range d.VRPs {
			applyVRP(v, f)
		}
		for k, f := range d.RouterKeys {
			applyKey(k, f)
		}
	}

	return out
}
