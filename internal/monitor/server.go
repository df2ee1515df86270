// Package monitor serves diagnostics of a running core over HTTP: Prometheus
// metrics, a JSON status report and a websocket stream of lifecycle, task and
// metrics events.
package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/misterbo94/Bela/internal/logging"
)

// Options configures the diagnostics server
type Options struct {
	// Addr is the listen address, ":0" picks a free port
	Addr string
	// Interval between metrics updates, 0 for the configured default
	Interval time.Duration
	// Process returns resource usage for status reports, may be nil
	Process func() *ProcessData
}

// Server is the diagnostics HTTP server
type Server struct {
	opts    Options
	logger  *logging.ComponentLogger
	events  *Broadcaster
	updater *Updater
	engine  *gin.Engine

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer creates a server reporting on src
func NewServer(src Source, opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		opts:   opts,
		logger: logging.NewComponentLogger(*logging.GetDefaultLogger(), "monitor"),
		events: NewBroadcaster(),
	}
	s.updater = NewUpdater(src, s.events, opts.Process, opts.Interval)

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/status", s.handleStatus)
	r.GET("/events", s.handleEvents)
	s.engine = r
	return s
}

// Events returns the event broadcaster, for wiring state and task listeners
func (s *Server) Events() *Broadcaster { return s.events }

// Handler returns the HTTP handler without listening
func (s *Server) Handler() http.Handler { return s.engine }

// Addr returns the bound address once started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listen address and serves in the background together with
// the metrics updater. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return errors.New("monitor already started")
	}
	s.logger.LogComponentStarting()

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		s.logger.LogError(err, "failed to bind monitor address")
		return err
	}
	s.listener = ln

	ctx, s.cancel = context.WithCancel(ctx)
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	srv := s.srv
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.GetLogger().Error().Err(err).Msg("monitor server stopped")
		}
	}()
	go func() {
		defer s.wg.Done()
		s.updater.Run(ctx)
	}()

	s.logger.LogComponentStarted()
	s.logger.GetLogger().Info().Str("addr", ln.Addr().String()).Msg("monitor listening")
	return nil
}

// Shutdown stops the server and the updater and waits for both
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	cancel := s.cancel
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.LogComponentStopping()
	cancel()
	err := srv.Shutdown(ctx)
	s.wg.Wait()
	s.logger.LogComponentStopped()
	return err
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.updater.Status())
}

func (s *Server) handleEvents(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.GetLogger().Warn().Err(err).Msg("failed to accept websocket")
		return
	}
	defer conn.CloseNow()

	// CloseRead discards client messages and cancels ctx when the peer goes away
	ctx := conn.CloseRead(c.Request.Context())
	id := s.events.Subscribe(ctx, conn)
	defer s.events.Unsubscribe(id)

	s.events.SendTo(id, Event{Type: EventMetricsUpdate, Data: s.updater.Status()})

	<-ctx.Done()
	conn.Close(websocket.StatusNormalClosure, "")
}
