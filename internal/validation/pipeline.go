// Package validation implements the Validation Pipeline: one worker
// per configured TAL, walking its certificate tree concurrently with
// the others, then merging the resulting tables and installing them
// into the VRP Store as a single atomic cycle (§4.2).
package validation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rpkivp/rtrd/internal/cache"
	"github.com/rpkivp/rtrd/internal/vrp"
)

// CacheFactory returns a fresh, cycle-scoped cache.Handle. Cache
// handles are per-cycle, never process-global (§9).
type CacheFactory func() (cache.Handle, error)

// Pipeline runs one validation cycle at a time over the TALs found in
// TALDir, installing the result into Store on success.
type Pipeline struct {
	Log     zerolog.Logger
	TALDir  string
	Store   *vrp.Store
	Tree    Tree
	Cache   CacheFactory
	Shuffle bool
}

// CycleResult summarizes one call to Run, for the driver to log/meter.
type CycleResult struct {
	Installed bool
	Serial    uint32
	TALCount  int
	Err       error
	PerTAL    []Result
}

// Run enumerates TAL files in p.TALDir, spawns one worker per TAL, and
// waits for all of them (the join barrier). If any worker failed, the
// whole cycle is discarded and the store is left untouched; otherwise
// the merged table is installed (§4.2 "Join policy").
func (p *Pipeline) Run(ctx context.Context) CycleResult {
	files, err := p.talFiles()
	if err != nil {
		return CycleResult{Err: fmt.Errorf("validation: listing TAL directory: %w", err)}
	}
	if len(files) == 0 {
		return CycleResult{Err: fmt.Errorf("validation: no TAL files found in %s", p.TALDir)}
	}

	results := make([]Result, len(files))
	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		go func(i int, f string) {
			defer wg.Done()
			results[i] = p.runOne(ctx, f)
		}(i, f)
	}
	wg.Wait()

	merged := vrp.NewTable()
	for _, r := range results {
		if r.Err != nil {
			p.Log.Warn().Err(r.Err).Str("tal", r.TALFile).Msg("TAL validation failed; discarding cycle")
			return CycleResult{Err: fmt.Errorf("validation: %s: %w", r.TALFile, r.Err), TALCount: len(files), PerTAL: results}
		}
		merged.Merge(r.Table)
	}

	serial, err := p.Store.Install(merged)
	if err != nil {
		return CycleResult{Err: fmt.Errorf("validation: install: %w", err), TALCount: len(files), PerTAL: results}
	}

	return CycleResult{Installed: true, Serial: serial, TALCount: len(files), PerTAL: results}
}

// runOne loads its own cache handle (per-worker, cycle-scoped) and
// runs one TAL's worker to completion.
func (p *Pipeline) runOne(ctx context.Context, talFile string) Result {
	data, err := os.ReadFile(talFile)
	if err != nil {
		return Result{TALFile: talFile, Err: err}
	}

	handle, err := p.Cache()
	if err != nil {
		return Result{TALFile: talFile, Err: fmt.Errorf("creating cache handle: %w", err)}
	}
	defer handle.Close()

	w := &worker{
		log:     p.Log.With().Str("tal", filepath.Base(talFile)).Logger(),
		talFile: talFile,
		talData: data,
		handle:  handle,
		tree:    p.Tree,
		shuffle: p.Shuffle,
	}
	return w.run(ctx)
}

func (p *Pipeline) talFiles() ([]string, error) {
	entries, err := os.ReadDir(p.TALDir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".tal") {
			out = append(out, filepath.Join(p.TALDir, e.Name()))
		}
	}
	return out, nil
}
