package rtr

import (
	"context"
	"net"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rpkivp/rtrd/internal/vrp"
)

// Config tunes the listener and every connection it accepts.
type Config struct {
	Bind         string
	Backlog      int // advisory; Run does not apply it to the listener
	Intervals    Intervals
	MaxQueryRate float64 // Serial/Reset Query PDUs per second, per connection
	QueryBurst   int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ReusePort    bool
}

// Server is the RTR TCP listener: it accepts connections and serves
// each on its own goroutine for the connection's lifetime (§5
// "Scheduling model").
type Server struct {
	Log     zerolog.Logger
	Store   *vrp.Store
	Config  Config
	ReadyFn func() bool // true once the driver has completed a first cycle

	conns *xsync.Map[string, net.Conn] // connected-router registry, for admin /status
}

// NewServer returns a Server ready to Run.
func NewServer(log zerolog.Logger, store *vrp.Store, cfg Config, readyFn func() bool) *Server {
	return &Server{
		Log:     log,
		Store:   store,
		Config:  cfg,
		ReadyFn: readyFn,
		conns:   xsync.NewMap[string, net.Conn](),
	}
}

// Run listens on s.Config.Bind and serves connections until ctx is
// canceled. It blocks until the listener stops accepting.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	if s.Config.ReusePort {
		lc.Control = reusePortControl
	}

	l, err := lc.Listen(ctx, "tcp", s.Config.Bind)
	if err != nil {
		return err
	}
	s.Log.Info().Str("addr", l.Addr().String()).Msg("RTR server listening")

	go func() {
		<-ctx.Done()
		s.Log.Debug().Msg("RTR server stopping accept loop")
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.Log.Warn().Err(err).Msg("accept failed")
				return err
			}
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s.conns.Store(remote, conn)
	defer s.conns.Delete(remote)

	log := s.Log.With().Str("remote", remote).Logger()
	log.Info().Msg("RTR connection accepted")

	var limiter *rate.Limiter
	if s.Config.MaxQueryRate > 0 {
		burst := s.Config.QueryBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.Config.MaxQueryRate), burst)
	}

	h := &connHandler{
		conn:         conn,
		log:          log,
		store:        s.Store,
		intervals:    s.Config.Intervals,
		limiter:      limiter,
		readyFn:      s.ReadyFn,
		readTimeout:  s.Config.ReadTimeout,
		writeTimeout: s.Config.WriteTimeout,
	}
	h.serve()
	log.Info().Msg("RTR connection closed")
}

// ConnectionCount reports the number of currently connected routers,
// for the admin /status surface.
func (s *Server) ConnectionCount() int {
	return s.conns.Size()
}

// Notify sends a Serial Notify PDU to every connected router at the
// given serial, using the session id and protocol version given by
// version. Best-effort: write
// errors are logged and otherwise ignored, since the connection's own
// read loop will observe the failure and close.
func (s *Server) Notify(version uint8, serial uint32) {
	pdu := SerialNotifyPDU{Version: version, SessionID: s.Store.SessionID(version), Serial: serial}
	encoded := pdu.Encode()
	s.conns.Range(func(remote string, conn net.Conn) bool {
		if _, err := conn.Write(encoded); err != nil {
			s.Log.Debug().Err(err).Str("remote", remote).Msg("Serial Notify write failed")
		}
		return true
	})
}
