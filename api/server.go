// Package api serves the read-only HTTPS debug endpoint: session state, a
// stats snapshot, Prometheus metrics, and health.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumen-live/lumen/certs"
	"github.com/lumen-live/lumen/session"
)

// Server exposes one playback session over HTTPS.
type Server struct {
	sess   *session.Session
	log    *slog.Logger
	router *gin.Engine
	srv    *http.Server
}

// New builds the server. A nil gatherer uses the default registry; a nil
// logger uses slog.Default.
func New(addr string, sess *session.Session, cert *certs.CertInfo, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		sess:   sess,
		log:    log.With("component", "api"),
		router: router,
		srv: &http.Server{
			Addr:    addr,
			Handler: router,
			TLSConfig: &tls.Config{
				Certificates: []tls.Certificate{cert.TLSCert},
			},
		},
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/api/v1/state", s.handleState)
	router.GET("/api/v1/stats", s.handleStats)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves HTTPS until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	s.log.Info("debug api listening", "addr", s.srv.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("api shutdown", "error", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleState(c *gin.Context) {
	state, cause := s.sess.State()
	resp := gin.H{
		"sessionId": s.sess.ID(),
		"state":     state.String(),
	}
	if cause != "" {
		resp["cause"] = cause
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.sess.Snapshot())
}
