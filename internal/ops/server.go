// Package ops serves the Governor's local operations endpoint: a health
// probe backed by the store, the monitor status snapshot, and Prometheus
// metrics. The endpoint is disabled by default and intended for loopback.
package ops

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/charlesng35/governor/internal/monitor"
	"github.com/charlesng35/governor/internal/store"
	"github.com/charlesng35/governor/pkg/logger"
	"github.com/charlesng35/governor/pkg/response"
)

const (
	readHeaderTimeout = 5 * time.Second
	healthTimeout     = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// SnapshotFunc returns the current monitor state for the status endpoint.
type SnapshotFunc func() monitor.Snapshot

// Server is the operations HTTP endpoint.
type Server struct {
	store    store.Store
	snapshot SnapshotFunc
	log      *zap.Logger
	server   *http.Server
}

// NewServer builds the operations endpoint. The store powers the health
// check; snapshot may be nil when no monitor is running.
func NewServer(addr string, st store.Store, snapshot SnapshotFunc) *Server {
	s := &Server{
		store:    st,
		snapshot: snapshot,
		log:      logger.WithModule("ops"),
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(recovery())
	r.Use(accessLog())

	r.GET("/healthz", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.NoRoute(func(c *gin.Context) {
		response.Error(c, http.StatusNotFound, "NOT_FOUND",
			fmt.Sprintf("route %s not found", c.Request.URL.Path))
	})

	return r
}

// Handler exposes the HTTP handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		s.log.Info("ops endpoint listening", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ops shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("ops server: %w", err)
	}

	s.log.Info("ops endpoint stopped")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	state := "ok"
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			state = "store unreachable"
		}
	}

	c.JSON(status, gin.H{
		"success":    status == http.StatusOK,
		"status":     state,
		"checked_at": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.snapshot == nil {
		response.Success(c, http.StatusOK, nil)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"monitor": s.snapshot()})
}
