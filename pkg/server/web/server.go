// Package web serves the status and monitoring HTTP endpoints.
package web

import (
	"context"
	"expvar"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/dima-xd/mail-forwarder-to-tg/pkg/config"
	"github.com/dima-xd/mail-forwarder-to-tg/pkg/registry"
)

// Server exposes process status over HTTP.
type Server struct {
	config         config.Web
	server         *http.Server
	listener       net.Listener
	globalShutdown chan bool
}

// NewServer creates an unstarted status server.  reg may be nil in
// broadcast mode.
func NewServer(conf *config.Root, shutdownChan chan bool, reg *registry.Registry) *Server {
	router := mux.NewRouter()
	router.Handle("/debug/vars", expvar.Handler())
	router.HandleFunc("/status", statusHandler(conf, reg)).Methods("GET")
	return &Server{
		config: conf.Web,
		server: &http.Server{
			Handler:      router,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		globalShutdown: shutdownChan,
	}
}

// Start begins listening for HTTP requests.
func (s *Server) Start(ctx context.Context) {
	slog := log.With().Str("module", "web").Logger()
	var err error
	s.listener, err = net.Listen("tcp", s.config.Addr)
	if err != nil {
		slog.Error().Err(err).Msg("Failed to start HTTP listener")
		s.emergencyShutdown()
		return
	}
	slog.Info().Str("addr", s.config.Addr).Msg("HTTP listening on tcp")

	// Listener go routine.
	go s.serve(ctx)

	// Wait for shutdown.
	<-ctx.Done()
	slog.Debug().Msg("HTTP server shutting down on request")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		slog.Error().Err(err).Msg("Failed to shut down HTTP server")
	}
}

// serve blocks until the listener is closed.
func (s *Server) serve(ctx context.Context) {
	err := s.server.Serve(s.listener)
	select {
	case <-ctx.Done():
	default:
		log.Error().Str("module", "web").Err(err).Msg("HTTP server failed")
		s.emergencyShutdown()
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
