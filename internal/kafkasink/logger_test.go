package kafkasink

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestKgoLoggerLevelMapping(t *testing.T) {
	cases := []struct {
		zl   zerolog.Level
		want kgo.LogLevel
	}{
		{zerolog.DebugLevel, kgo.LogLevelDebug},
		{zerolog.TraceLevel, kgo.LogLevelDebug},
		{zerolog.InfoLevel, kgo.LogLevelInfo},
		{zerolog.WarnLevel, kgo.LogLevelWarn},
		{zerolog.ErrorLevel, kgo.LogLevelError},
		{zerolog.Disabled, kgo.LogLevelNone},
	}
	for _, c := range cases {
		l := kgoLogger{zerolog.Nop().Level(c.zl)}
		require.Equal(t, c.want, l.Level())
	}
}

func TestKgoLoggerLogWritesKeyvalsAndMessage(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	l := kgoLogger{base}

	l.Log(kgo.LogLevelWarn, "broker unreachable", "broker", "localhost:9092", "attempt", 3)

	out := buf.String()
	require.Contains(t, out, "broker unreachable")
	require.Contains(t, out, "localhost:9092")
	require.Contains(t, out, `"attempt":3`)
}

func TestKgoLoggerLogIgnoresOddKeyvals(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	l := kgoLogger{base}

	require.NotPanics(t, func() {
		l.Log(kgo.LogLevelInfo, "dangling keyval", "orphan")
	})
	require.Contains(t, buf.String(), "dangling keyval")
}
