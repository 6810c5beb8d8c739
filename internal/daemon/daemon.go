package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/i474232898/querycache/internal/api/http"
	socketapi "github.com/i474232898/querycache/internal/api/socket"
	"github.com/i474232898/querycache/internal/config"
	"github.com/i474232898/querycache/internal/providers"
	"github.com/i474232898/querycache/internal/query"
	"github.com/i474232898/querycache/internal/scheduler"
	"github.com/i474232898/querycache/internal/store"
)

// State is a daemon lifecycle state.
type State int32

const (
	StateInit State = iota
	StateRunning
	StateShuttingDown
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Daemon hosts the refresh scheduler, the socket server and, when
// configured, the status server.
type Daemon struct {
	cfg      *config.AppConfig
	logger   *zap.Logger
	resolver *query.Resolver
	store    *store.MemoryStore
	sched    *scheduler.Scheduler
	server   *socketapi.Server

	state atomic.Int32
}

// FromConfig builds the provider chain described by cfg and a Daemon
// around it.
func FromConfig(cfg *config.AppConfig, logger *zap.Logger) (*Daemon, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fallback, err := cfg.Fallback()
	if err != nil {
		return nil, err
	}

	var geo providers.Geocoder
	if cfg.GeocoderAPIKey != "" {
		geo = providers.NewGoogleGeocoder(cfg.GeocoderAPIKey)
	}

	chain, err := providers.BuildChain(cfg.ProviderOrder, providers.Deps{
		HTTPClient:        &http.Client{Timeout: cfg.HTTPTimeout},
		Logger:            logger.Named("providers"),
		Geocoder:          geo,
		OpenWeatherAPIKey: cfg.OpenWeatherAPIKey,
		WeatherAPIKey:     cfg.WeatherAPIKey,
		IPAPIURL:          cfg.IPAPIURL,
		DefaultPlace:      cfg.DefaultPlace,
		DefaultCoords:     providers.Coordinates{Lat: cfg.DefaultLatitude, Lon: cfg.DefaultLongitude},
		Fallback:          fallback,
	})
	if err != nil {
		return nil, err
	}
	return New(cfg, chain, logger)
}

// New creates a Daemon serving the results of chain.
func New(cfg *config.AppConfig, chain []query.Provider, logger *zap.Logger) (*Daemon, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	resolver, err := query.NewResolver(chain, logger.Named("resolver"))
	if err != nil {
		return nil, err
	}

	memStore := store.NewMemoryStore()
	sched := scheduler.New(resolver, memStore, scheduler.Options{
		Interval:   cfg.RefreshInterval,
		Terminate:  cfg.Terminate(),
		MaxTracked: cfg.MaxTrackedQueries,
		Queries:    cfg.TrackedQueries,
	}, logger.Named("scheduler"))

	server := socketapi.NewServer(memStore, sched, socketapi.Options{
		Interval:        cfg.RefreshInterval,
		RequestTimeout:  cfg.RequestTimeout,
		MaxRequestBytes: cfg.MaxRequestBytes,
		ShutdownGrace:   cfg.ShutdownGrace,
		AutoTrack:       cfg.AutoTrack,
	}, logger.Named("socket"))

	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		resolver: resolver,
		store:    memStore,
		sched:    sched,
		server:   server,
	}, nil
}

// Run binds the socket and serves until ctx is cancelled or a component
// fails. The socket file is removed before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := socketapi.Listen(d.cfg.SocketPath)
	if err != nil {
		d.setState(StateFailed)
		return err
	}

	var statusLn net.Listener
	if d.cfg.StatusAddr != "" {
		statusLn, err = net.Listen("tcp", d.cfg.StatusAddr)
		if err != nil {
			ln.Close()
			d.removeSocket()
			d.setState(StateFailed)
			return fmt.Errorf("status server: %w", err)
		}
	}

	d.setState(StateRunning)
	d.logger.Info("Daemon running",
		zap.String("socket", d.cfg.SocketPath),
		zap.Strings("providers", d.resolver.Providers()),
		zap.Duration("interval", d.cfg.RefreshInterval))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		d.setState(StateShuttingDown)
		return nil
	})
	g.Go(func() error {
		return d.sched.Run(gctx)
	})
	g.Go(func() error {
		return d.server.Serve(gctx, ln)
	})

	if statusLn != nil {
		app := httpapi.NewApp(d, d.logger.Named("status"))
		g.Go(func() error {
			d.logger.Info("Status server listening", zap.String("addr", statusLn.Addr().String()))
			return app.Listener(statusLn)
		})
		g.Go(func() error {
			<-gctx.Done()
			return app.ShutdownWithTimeout(d.cfg.ShutdownGrace + time.Second)
		})
	}

	err = g.Wait()
	d.removeSocket()
	d.setState(StateStopped)
	if err != nil {
		d.logger.Error("Daemon stopped with error", zap.Error(err))
		return err
	}
	d.logger.Info("Daemon stopped")
	return nil
}

// Trigger requests an out-of-band refresh.
func (d *Daemon) Trigger() {
	d.sched.Trigger()
}

// State returns the current lifecycle state name.
func (d *Daemon) State() string {
	return State(d.state.Load()).String()
}

// LastCycle returns when the last refresh cycle completed.
func (d *Daemon) LastCycle() time.Time {
	return d.sched.LastCycle()
}

// Tracked returns the tracked cache keys.
func (d *Daemon) Tracked() []string {
	return d.sched.Tracked()
}

func (d *Daemon) setState(s State) {
	prev := State(d.state.Swap(int32(s)))
	if prev != s {
		d.logger.Info("Daemon state changed",
			zap.String("from", prev.String()),
			zap.String("to", s.String()))
	}
}

func (d *Daemon) removeSocket() {
	if err := os.Remove(d.cfg.SocketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		d.logger.Warn("Failed to remove socket file", zap.String("path", d.cfg.SocketPath), zap.Error(err))
	}
}
