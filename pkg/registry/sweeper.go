package registry

import (
	"expvar"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	expBindingsCurrent = new(expvar.Int)
	expSweepsTotal     = new(expvar.Int)
	expSweptTotal      = new(expvar.Int)
)

func init() {
	m := expvar.NewMap("registry")
	m.Set("BindingsCurrent", expBindingsCurrent)
	m.Set("SweepsTotal", expSweepsTotal)
	m.Set("SweptTotal", expSweptTotal)
}

// Sweeper periodically removes expired bindings from a Registry.
type Sweeper struct {
	globalShutdown chan bool // Closes when the process needs to shut down.
	sweeperDone    chan bool // Closed after the sweeper has shut down.
	reg            *Registry
	interval       time.Duration
}

// NewSweeper configures a new Sweeper.
func NewSweeper(reg *Registry, interval time.Duration, shutdownChan chan bool) *Sweeper {
	return &Sweeper{
		globalShutdown: shutdownChan,
		sweeperDone:    make(chan bool),
		reg:            reg,
		interval:       interval,
	}
}

// Start up the sweeper if the interval > 0.
func (s *Sweeper) Start() {
	slog := log.With().Str("module", "registry").Logger()
	if s.interval <= 0 {
		slog.Info().Msg("Registry sweeper disabled")
		close(s.sweeperDone)
		return
	}
	slog.Info().Dur("interval", s.interval).Msg("Registry sweeper started")
	go s.run()
}

// run loops to kick off sweeps on the configured schedule.
func (s *Sweeper) run() {
	slog := log.With().Str("module", "registry").Logger()
sweepLoop:
	for {
		select {
		case <-s.globalShutdown:
			break sweepLoop
		case <-time.After(s.interval):
		}
		swept := s.reg.Sweep()
		expSweepsTotal.Add(1)
		expSweptTotal.Add(int64(swept))
		expBindingsCurrent.Set(int64(s.reg.Len()))
		if swept > 0 {
			slog.Debug().Int("swept", swept).Msg("Purged expired bindings")
		}
	}
	slog.Debug().Msg("Registry sweeper shut down")
	close(s.sweeperDone)
}

// Join does not return until the sweeper has shut down.
func (s *Sweeper) Join() {
	if s.sweeperDone != nil {
		<-s.sweeperDone
	}
}
