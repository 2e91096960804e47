package kafkasink

import (
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// kgoLogger adapts a zerolog.Logger to kgo.Logger, the same shape of
// adapter the teacher writes for foreign logging interfaces (its
// zerolog-to-stdlog Printf/Debugf/Infof/Errorf wrapper), generalized
// to kgo's level-plus-keyvals call signature.
type kgoLogger struct {
	zerolog.Logger
}

func (l kgoLogger) Level() kgo.LogLevel {
	switch l.GetLevel() {
	case zerolog.DebugLevel, zerolog.TraceLevel:
		return kgo.LogLevelDebug
	case zerolog.WarnLevel:
		return kgo.LogLevelWarn
	case zerolog.ErrorLevel:
		return kgo.LogLevelError
	case zerolog.Disabled:
		return kgo.LogLevelNone
	default:
		return kgo.LogLevelInfo
	}
}

func (l kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	var ev *zerolog.Event
	switch level {
	case kgo.LogLevelDebug:
		ev = l.Debug()
	case kgo.LogLevelWarn:
		ev = l.Warn()
	case kgo.LogLevelError:
		ev = l.Error()
	default:
		ev = l.Info()
	}
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, keyvals[i+1])
	}
	ev.Msg(msg)
}
