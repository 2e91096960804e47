package validation

import (
	"context"
	"math/rand/v2"
	"net/netip"

	"github.com/rs/zerolog"

	"github.com/rpkivp/rtrd/internal/cache"
	"github.com/rpkivp/rtrd/internal/tal"
	"github.com/rpkivp/rtrd/internal/vrp"
)

// Result is the outcome of one TAL's worker: either a populated Table,
// or an error that discards the whole cycle (§4.2 "Join policy").
type Result struct {
	TALFile string
	Table   *vrp.Table
	Err     error
}

// worker runs one TAL's validation: load, fetch, walk, collect.
type worker struct {
	log      zerolog.Logger
	talFile  string
	talData  []byte
	handle   cache.Handle
	tree     Tree
	shuffle  bool
}

// tableEmitter adapts a *vrp.Table to the validation.Emitter interface.
type tableEmitter struct {
	table *vrp.Table
	log   zerolog.Logger
}

func (e *tableEmitter) ROA(prefix netip.Prefix, maxLength uint8, asn uint32) {
	fam := vrp.FamilyV4
	if prefix.Addr().Is6() {
		fam = vrp.FamilyV6
	}
	if maxLength < uint8(prefix.Bits()) {
		e.log.Warn().Stringer("prefix", prefix).Uint8("maxLength", maxLength).Msg("invalid maxLength, skipping ROA")
		return
	}
	e.table.AddVRP(vrp.VRP{
		ASN:    asn,
		Prefix: prefix.Masked(),
		MaxLen: maxLength,
		Family: fam,
	})
}

func (e *tableEmitter) RouterKey(asn uint32, ski [20]byte, spki []byte) {
	e.table.AddRouterKey(vrp.RouterKey{ASN: asn, SKI: ski, SPKI: string(spki)})
}

// run loads the TAL, tries its URIs in order until one yields a valid
// root, walks the resulting tree, and returns the worker-local table.
func (w *worker) run(ctx context.Context) Result {
	t, err := tal.Load(w.talFile, w.talData)
	if err != nil {
		return Result{TALFile: w.talFile, Err: err}
	}

	uris := append([]string(nil), t.URIs...)
	if w.shuffle {
		rand.Shuffle(len(uris), func(i, j int) { uris[i], uris[j] = uris[j], uris[i] })
	}

	var lastErr error
	for _, uri := range uris {
		rootPath, err := w.handle.Fetch(ctx, uri)
		if err != nil {
			w.log.Warn().Err(err).Str("uri", uri).Msg("fetch failed, trying next URI")
			lastErr = err
			continue
		}

		table := vrp.NewTable()
		emit := &tableEmitter{table: table, log: w.log}
		if err := w.tree.Walk(ctx, rootPath, emit); err != nil {
			// this URI's root certificate failed to validate: try the next one.
			w.log.Warn().Err(err).Str("uri", uri).Msg("root validation failed, trying next URI")
			lastErr = err
			continue
		}
		return Result{TALFile: w.talFile, Table: table}
	}

	// no URI yielded a valid root: the whole TAL fails.
	return Result{TALFile: w.talFile, Err: lastErr}
}
