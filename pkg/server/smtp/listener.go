package smtp

import (
	"container/list"
	"context"
	"expvar"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dima-xd/mail-forwarder-to-tg/pkg/config"
	"github.com/dima-xd/mail-forwarder-to-tg/pkg/metric"
	"github.com/dima-xd/mail-forwarder-to-tg/pkg/notify"
	"github.com/dima-xd/mail-forwarder-to-tg/pkg/registry"
)

var (
	// Raw stat collectors
	expConnectsTotal    = new(expvar.Int)
	expConnectsCurrent  = new(expvar.Int)
	expReceivedTotal    = new(expvar.Int)
	expDiscardedTotal   = new(expvar.Int)
	expParseErrorsTotal = new(expvar.Int)
	expErrorsTotal      = new(expvar.Int)
	expWarnsTotal       = new(expvar.Int)

	// History of certain stats
	receivedHist = list.New()
	connectsHist = list.New()
	errorsHist   = list.New()
	warnsHist    = list.New()

	// History rendered as comma delim string
	expReceivedHist = new(expvar.String)
	expConnectsHist = new(expvar.String)
	expErrorsHist   = new(expvar.String)
	expWarnsHist    = new(expvar.String)
)

func init() {
	m := expvar.NewMap("smtp")
	m.Set("ConnectsTotal", expConnectsTotal)
	m.Set("ConnectsHist", expConnectsHist)
	m.Set("ConnectsCurrent", expConnectsCurrent)
	m.Set("ReceivedTotal", expReceivedTotal)
	m.Set("ReceivedHist", expReceivedHist)
	m.Set("DiscardedTotal", expDiscardedTotal)
	m.Set("ParseErrorsTotal", expParseErrorsTotal)
	m.Set("ErrorsTotal", expErrorsTotal)
	m.Set("ErrorsHist", expErrorsHist)
	m.Set("WarnsTotal", expWarnsTotal)
	m.Set("WarnsHist", expWarnsHist)
	metric.AddTickerFunc(func() {
		expReceivedHist.Set(metric.Push(receivedHist, expReceivedTotal))
		expConnectsHist.Set(metric.Push(connectsHist, expConnectsTotal))
		expErrorsHist.Set(metric.Push(errorsHist, expErrorsTotal))
		expWarnsHist.Set(metric.Push(warnsHist, expWarnsTotal))
	})
}

// Server holds the configuration and state of our SMTP server.
type Server struct {
	config         config.SMTP        // SMTP configuration.
	mode           string             // Operating mode, registry or broadcast.
	domain         string             // Domain announced in the greeting.
	registry       *registry.Registry // Nickname bindings, nil in broadcast mode.
	broadcastChat  int64              // Fixed destination for broadcast mode.
	dispatcher     *notify.Dispatcher // Delivers rendered notifications.
	globalShutdown chan bool          // Shuts down the process.
	listener       net.Listener       // Incoming network connections.
	wg             *sync.WaitGroup    // Waitgroup tracks individual sessions.
	notify         chan error         // Notify on fatal error.
}

// NewServer creates a new, unstarted, SMTP server instance.  reg may be nil
// when conf selects broadcast mode.
func NewServer(
	conf *config.Root,
	globalShutdown chan bool,
	reg *registry.Registry,
	dispatcher *notify.Dispatcher,
) *Server {
	return &Server{
		config:         conf.SMTP,
		mode:           conf.Mode,
		domain:         conf.Domain,
		registry:       reg,
		broadcastChat:  conf.Telegram.BroadcastChatID,
		dispatcher:     dispatcher,
		globalShutdown: globalShutdown,
		wg:             new(sync.WaitGroup),
		notify:         make(chan error, 1),
	}
}

// Start the listener and handle incoming connections.
func (s *Server) Start(ctx context.Context) {
	slog := log.With().Str("module", "smtp").Str("phase", "startup").Logger()
	addr, err := net.ResolveTCPAddr("tcp4", s.config.Addr)
	if err != nil {
		slog.Error().Err(err).Msg("Failed to build tcp4 address")
		s.emergencyShutdown()
		return
	}
	slog.Info().Str("addr", addr.String()).Str("mode", s.mode).Msg("SMTP listening on tcp4")
	s.listener, err = net.ListenTCP("tcp4", addr)
	if err != nil {
		slog.Error().Err(err).Msg("Failed to start tcp4 listener")
		s.emergencyShutdown()
		return
	}
	// Listener go routine.
	go s.serve(ctx)
	// Wait for shutdown.
	<-ctx.Done()
	slog = log.With().Str("module", "smtp").Str("phase", "shutdown").Logger()
	slog.Debug().Msg("SMTP shutdown requested, connections will be drained")
	// Closing the listener will cause the serve() go routine to exit.
	if err := s.listener.Close(); err != nil {
		slog.Error().Err(err).Msg("Failed to close SMTP listener")
	}
}

// serve is the listen/accept loop.
func (s *Server) serve(ctx context.Context) {
	// Handle incoming connections.
	var tempDelay time.Duration
	for sessionID := 1; ; sessionID++ {
		if conn, err := s.listener.Accept(); err != nil {
			// There was an error accepting the connection.
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				// Transient error, sleep for a bit and try again.
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Error().Str("module", "smtp").Err(err).
					Msgf("SMTP accept error; retrying in %v", tempDelay)
				time.Sleep(tempDelay)
				continue
			} else {
				// Permanent error.
				select {
				case <-ctx.Done():
					// SMTP is shutting down.
					return
				default:
					// Something went wrong.
					s.notify <- err
					close(s.notify)
					s.emergencyShutdown()
					return
				}
			}
		} else {
			tempDelay = 0
			go s.startSession(sessionID, conn, log.Logger)
		}
	}
}

func (s *Server) emergencyShutdown() {
	// Shutdown the whole process.
	select {
	case <-s.globalShutdown:
	default:
		close(s.globalShutdown)
	}
}

// Drain causes the caller to block until all active SMTP sessions have finished.
func (s *Server) Drain() {
	// Wait for sessions to close.
	s.wg.Wait()
	log.Debug().Str("module", "smtp").Str("phase", "shutdown").Msg("SMTP connections have drained")
}

// Notify allows the running SMTP server to be monitored for a fatal error.
func (s *Server) Notify() <-chan error {
	return s.notify
}
