package driver

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rpkivp/rtrd/internal/cache"
	"github.com/rpkivp/rtrd/internal/validation"
	"github.com/rpkivp/rtrd/internal/vrp"
)

type fakeHandle struct{}

func (fakeHandle) Fetch(ctx context.Context, uri string) (string, error) {
	return strings.TrimPrefix(uri, "rsync://"), nil
}
func (fakeHandle) Close() error { return nil }

func newTestPipeline(t *testing.T) *validation.Pipeline {
	t.Helper()
	dir := t.TempDir()
	fixture := filepath.Join(dir, "roas.csv")
	require.NoError(t, os.WriteFile(fixture, []byte("192.0.2.0/24,24,64512\n"), 0o644))

	tal := filepath.Join(dir, "ta.tal")
	require.NoError(t, os.WriteFile(tal, []byte("rsync://"+fixture+"\n\nMIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEA\n"), 0o644))

	return &validation.Pipeline{
		Log:    zerolog.New(io.Discard),
		TALDir: dir,
		Store:  vrp.NewStore(time.Hour, 10),
		Tree:   validation.NullTree{},
		Cache:  func() (cache.Handle, error) { return fakeHandle{}, nil },
	}
}

func TestDriverBecomesReadyAfterFirstCycle(t *testing.T) {
	p := newTestPipeline(t)
	d := &Driver{Log: zerolog.New(io.Discard), Pipeline: p, Interval: time.Hour}

	require.False(t, d.Ready())
	d.runCycle(context.Background())
	require.True(t, d.Ready())
	require.EqualValues(t, 1, p.Store.CurrentSerial())
}

func TestDriverInvokesOnInstall(t *testing.T) {
	p := newTestPipeline(t)
	var gotSerial uint32
	var gotCount int
	called := false
	d := &Driver{
		Log:      zerolog.New(io.Discard),
		Pipeline: p,
		Interval: time.Hour,
		OnInstall: func(serial uint32, vrpCount, keyCount int) {
			called = true
			gotSerial = serial
			gotCount = vrpCount
		},
	}
	d.runCycle(context.Background())
	require.True(t, called)
	require.EqualValues(t, 1, gotSerial)
	require.Equal(t, 1, gotCount)
}

func TestDriverRunStopsOnContextCancel(t *testing.T) {
	p := newTestPipeline(t)
	d := &Driver{Log: zerolog.New(io.Discard), Pipeline: p, Interval: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, d.Ready, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("driver did not stop after context cancel")
	}
}
