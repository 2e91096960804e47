// Package config parses rtrd's CLI surface with spf13/pflag and
// knadh/koanf, following the teacher's addFlags/parseArgs/usage
// layering (core/config.go), generalized from a BGP pipeline's
// per-stage flags to rtrd's single flat flag set.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

// Config is rtrd's fully parsed runtime configuration.
type Config struct {
	TALDir    string
	CachePath string

	BindAddr  string
	Backlog   int
	ReusePort bool

	ValidationInterval time.Duration
	RTRRefresh         time.Duration
	RTRRetry           time.Duration
	RTRExpire          time.Duration
	RTRMaxQueryRate    float64
	RTRReadTimeout     time.Duration
	RTRWriteTimeout    time.Duration

	EnableRsync bool
	EnableRRDP  bool
	Offline     bool

	AdminAddr string

	KafkaBrokers []string
	KafkaTopic   string

	LogLevel  string
	LogFormat string
}

// Parse parses args (normally os.Args[1:]) into a Config, applying
// defaults for anything not given on the command line.
func Parse(args []string) (Config, error) {
	f := pflag.NewFlagSet("rtrd", pflag.ContinueOnError)
	f.SortFlags = false
	f.Usage = func() { usage(f) }

	f.String("tal-dir", "/etc/rtrd/tals", "directory of .tal files to validate")
	f.String("cache", "/var/lib/rtrd/cache", "local repository (cache) path")

	f.String("bind", ":8323", "RTR server bind address")
	f.Int("backlog", 128, "RTR server accept backlog (advisory)")
	f.Bool("reuseport", false, "set SO_REUSEPORT on the RTR listener (linux only)")

	f.Duration("validation-interval", time.Hour, "validation cycle interval")
	f.Duration("rtr-refresh", 3600*time.Second, "RTR refresh interval sent to clients")
	f.Duration("rtr-retry", 600*time.Second, "RTR retry interval sent to clients")
	f.Duration("rtr-expire", 7200*time.Second, "RTR expire interval sent to clients")
	f.Float64("rtr-max-query-rate", 2.0, "max Serial/Reset Query PDUs per second, per connection (0 disables limiting)")
	f.Duration("rtr-read-timeout", 90*time.Second, "RTR connection read timeout")
	f.Duration("rtr-write-timeout", 30*time.Second, "RTR connection write timeout")

	f.Bool("rsync", true, "enable rsync fetching")
	f.Bool("rrdp", true, "enable RRDP fetching")
	f.Bool("offline", false, "do not fetch; validate only what is already cached")

	f.String("admin-addr", ":8324", "admin/observability HTTP bind address")

	f.StringSlice("kafka-brokers", nil, "Kafka seed brokers for the delta event sink (empty disables it)")
	f.String("kafka-topic", "rtrd.deltas", "Kafka topic for delta events")

	f.StringP("log", "l", "info", "log level (debug/info/warn/error/disabled)")
	f.String("log-format", "console", "log format (console/json)")

	if err := f.Parse(args); err != nil {
		return Config{}, err
	}

	k := koanf.New(".")
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return Config{}, fmt.Errorf("config: loading flags: %w", err)
	}

	cfg := Config{
		TALDir:             k.String("tal-dir"),
		CachePath:          k.String("cache"),
		BindAddr:           k.String("bind"),
		Backlog:            k.Int("backlog"),
		ReusePort:          k.Bool("reuseport"),
		ValidationInterval: k.Duration("validation-interval"),
		RTRRefresh:         k.Duration("rtr-refresh"),
		RTRRetry:           k.Duration("rtr-retry"),
		RTRExpire:          k.Duration("rtr-expire"),
		RTRMaxQueryRate:    k.Float64("rtr-max-query-rate"),
		RTRReadTimeout:     k.Duration("rtr-read-timeout"),
		RTRWriteTimeout:    k.Duration("rtr-write-timeout"),
		EnableRsync:        k.Bool("rsync"),
		EnableRRDP:         k.Bool("rrdp"),
		Offline:            k.Bool("offline"),
		AdminAddr:          k.String("admin-addr"),
		KafkaBrokers:       k.Strings("kafka-brokers"),
		KafkaTopic:         k.String("kafka-topic"),
		LogLevel:           k.String("log"),
		LogFormat:          k.String("log-format"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.TALDir == "" {
		return fmt.Errorf("config: --tal-dir is required")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: invalid --log level %q: %w", c.LogLevel, err)
	}
	if c.ValidationInterval <= 0 {
		return fmt.Errorf("config: --validation-interval must be positive")
	}
	return nil
}

func usage(f *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: rtrd [OPTIONS]\n\nOptions:\n")
	f.PrintDefaults()
}
