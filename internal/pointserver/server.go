// Package pointserver serves the latest point cloud measurement over HTTP,
// both as a single snapshot and as a rate-paced continuous stream.
//
// A Server owns the listener lifecycle. It is started and stopped with the
// host application's foreground state, and every open stream observes a
// stop within one refresh period.
package pointserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/pointcloud-server/internal/metrics"
	"github.com/banshee-data/pointcloud-server/internal/monitoring"
	"github.com/banshee-data/pointcloud-server/internal/netaddr"
	"github.com/banshee-data/pointcloud-server/internal/provider"
	"github.com/banshee-data/pointcloud-server/internal/timeutil"
)

var (
	// ErrBind is wrapped by Start when the listener cannot be bound.
	ErrBind = errors.New("failed to bind listener")
	// ErrAlreadyRunning is returned by Start while the server is up.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrInvalidPort is returned by SetPort for out-of-range ports.
	ErrInvalidPort = errors.New("invalid port")
	// ErrInvalidRate is returned by SetRefreshRate for non-positive rates.
	ErrInvalidRate = errors.New("invalid refresh rate")
)

// Defaults used when Config leaves a field zero.
const (
	DefaultPort            = 3000
	DefaultRefreshRateHz   = 50
	DefaultShutdownTimeout = time.Second
	DefaultWriteTimeout    = 10 * time.Second
)

// HealthReporter is told whenever the listener comes up or goes down.
type HealthReporter interface {
	SetServing(serving bool)
}

// Config holds the collaborators and initial settings of a Server.
type Config struct {
	// Port is the TCP port to listen on. Zero means DefaultPort; use
	// SetPort(0) for an ephemeral port in tests.
	Port int

	// ListenHost restricts the bind address (e.g. "127.0.0.1"). Empty
	// listens on every interface so peers on the local network can connect.
	ListenHost string

	// RefreshRateHz is the stream emission rate.
	RefreshRateHz int

	// Provider supplies measurements. Nil behaves as a provider that never
	// has one.
	Provider provider.Provider

	// Resolver discovers the host address shown to users. Nil uses
	// netaddr.Discover.
	Resolver netaddr.Resolver

	Metrics *metrics.Metrics
	Health  HealthReporter
	Clock   timeutil.Clock

	ShutdownTimeout time.Duration
	// WriteTimeout bounds a single websocket message write.
	WriteTimeout time.Duration
}

// State is a point-in-time view of the server.
type State struct {
	Port          int       `json:"port"`
	Running       bool      `json:"running"`
	RefreshRateHz int       `json:"refreshRateHz"`
	Host          string    `json:"host"`
	ActiveStreams int       `json:"activeStreams"`
	StartedAt     time.Time `json:"startedAt,omitzero"`
}

// Server manages the HTTP listener and the state its handlers read.
type Server struct {
	config   Config
	provider provider.Provider
	resolver netaddr.Resolver
	metrics  *metrics.Metrics
	health   HealthReporter
	clock    timeutil.Clock

	running       atomic.Bool
	refreshHz     atomic.Int64
	activeStreams atomic.Int64

	// lifecycleMu serialises Start, Stop and SetPort.
	lifecycleMu sync.Mutex

	// stateMu guards the fields below. Handlers take it only briefly.
	stateMu    sync.RWMutex
	port       int
	host       string
	startedAt  time.Time
	listener   net.Listener
	httpServer *http.Server
	stopCh     chan struct{}

	wg sync.WaitGroup
}

// New creates a stopped Server.
func New(cfg Config) *Server {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.RefreshRateHz <= 0 {
		cfg.RefreshRateHz = DefaultRefreshRateHz
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	s := &Server{
		config:   cfg,
		provider: cfg.Provider,
		resolver: cfg.Resolver,
		metrics:  cfg.Metrics,
		health:   cfg.Health,
		clock:    cfg.Clock,
		port:     cfg.Port,
	}
	if s.provider == nil {
		s.provider = provider.Static{}
	}
	if s.resolver == nil {
		s.resolver = netaddr.Discover
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	s.refreshHz.Store(int64(cfg.RefreshRateHz))
	return s
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running.Load() {
		return ErrAlreadyRunning
	}

	s.stateMu.RLock()
	port := s.port
	s.stateMu.RUnlock()

	addr := net.JoinHostPort(s.config.ListenHost, strconv.Itoa(port))
	logf("Attempting to bind to %s...", addr)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		s.metrics.BindFailures.Inc()
		logf("Failed to bind to %s: %v", addr, err)
		return fmt.Errorf("%w on %s: %w", ErrBind, addr, err)
	}

	host := netaddr.Resolve(s.resolver)
	stop := make(chan struct{})
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.stateMu.Lock()
	s.listener = lis
	s.httpServer = srv
	s.stopCh = stop
	s.host = host
	s.startedAt = s.clock.Now()
	s.stateMu.Unlock()
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logf("HTTP server error: %v", err)
		}
	}()

	s.metrics.ServerRunning.Set(1)
	s.metrics.ServerStarts.Inc()
	if s.health != nil {
		s.health.SetServing(true)
	}
	logf("Listening on %s (host %s, %d Hz)", lis.Addr(), host, s.refreshHz.Load())
	return nil
}

// Stop closes the listener and ends every open stream. It is safe to call
// on a stopped server.
func (s *Server) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	s.stopLocked()
}

func (s *Server) stopLocked() {
	if !s.running.Load() {
		return
	}

	s.stateMu.Lock()
	close(s.stopCh)
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.host = ""
	s.startedAt = time.Time{}
	s.stateMu.Unlock()
	s.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logf("Graceful shutdown timed out, closing: %v", err)
		srv.Close()
	}
	s.wg.Wait()

	s.metrics.ServerRunning.Set(0)
	if s.health != nil {
		s.health.SetServing(false)
	}
	logf("Stopped")
}

// SetPort changes the listening port. A running server is stopped and is
// not restarted; the caller decides when to Start again.
func (s *Server) SetPort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running.Load() {
		logf("Port changing to %d, stopping", port)
		s.stopLocked()
	}
	s.stateMu.Lock()
	s.port = port
	s.stateMu.Unlock()
	return nil
}

// SetRefreshRate changes the stream rate. Open streams pick it up on their
// next cycle.
func (s *Server) SetRefreshRate(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("%w: %d Hz", ErrInvalidRate, hz)
	}
	s.refreshHz.Store(int64(hz))
	return nil
}

// EnteredBackground stops the server.
func (s *Server) EnteredBackground() {
	logf("Entered background")
	s.Stop()
}

// EnteredForeground starts the server. Failures are logged.
func (s *Server) EnteredForeground() {
	logf("Entered foreground")
	if err := s.Start(); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		logf("Failed to start on foreground: %v", err)
	}
}

// IsRunning reports whether the listener is up.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Addr returns the bound listener address, or nil while stopped.
func (s *Server) Addr() net.Addr {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// State returns a snapshot of the server state. While running, Port is the
// bound port.
func (s *Server) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	st := State{
		Port:          s.port,
		Running:       s.running.Load(),
		RefreshRateHz: s.RefreshRate(),
		Host:          s.host,
		ActiveStreams: int(s.activeStreams.Load()),
		StartedAt:     s.startedAt,
	}
	if s.listener != nil {
		if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
			st.Port = tcp.Port
		}
	}
	return st
}

// RefreshRate returns the current stream rate in Hz.
func (s *Server) RefreshRate() int {
	return int(s.refreshHz.Load())
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// stopChan returns the current stop channel. It is nil before the first
// Start, which handlers treat as never stopping.
func (s *Server) stopChan() <-chan struct{} {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.stopCh
}

func logf(format string, v ...interface{}) {
	monitoring.Logf("[PointServer] "+format, v...)
}
