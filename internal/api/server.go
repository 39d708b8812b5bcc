// Package api serves a small JSON status and control API over gin.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/fencewatch/internal/common"
	"github.com/Veraticus/fencewatch/internal/engine"
	"github.com/Veraticus/fencewatch/internal/feed"
	"github.com/Veraticus/fencewatch/internal/geo"
	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/Veraticus/fencewatch/internal/monitor"
	"github.com/Veraticus/fencewatch/internal/syncer"
)

const defaultDownloadLimit = 20

// Backend is what the handlers call into. *engine.Manager implements it.
type Backend interface {
	QueryAllGeofences(ctx context.Context) ([]model.Geofence, error)
	QueryGeofence(ctx context.Context, code string) (*model.Geofence, error)
	AddGeofence(ctx context.Context, name string, center model.Position, radius int) (*model.Geofence, error)
	RemoveGeofence(ctx context.Context, code string) error
	MonitoredGeofences(ctx context.Context) ([]model.Geofence, error)
	Downloads(ctx context.Context, limit int) ([]model.Download, error)
	UpdatePosition(ctx context.Context, pos model.Position) (monitor.Delta, error)
	Synchronize(ctx context.Context, force bool) (syncer.Outcome, error)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AddGeofenceRequest is the body of POST /v1/geofences.
type AddGeofenceRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" binding:"required,gte=-180,lte=180"`
	Name      string   `json:"name" binding:"required"`
	Radius    int      `json:"radius" binding:"required,gt=0"`
}

// PositionRequest is the body of POST /v1/position.
type PositionRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" binding:"required,gte=-180,lte=180"`
}

// Server holds the router.
type Server struct {
	backend Backend
	router  *gin.Engine
	tls     *tls.Config
	addr    string
	version string
}

// NewServer builds the router. metrics may be nil.
func NewServer(backend Backend, metrics http.Handler, addr, version string) *Server {
	s := &Server{
		backend: backend,
		router:  gin.New(),
		addr:    addr,
		version: version,
	}
	s.router.Use(gin.Recovery(), requestLogger())

	s.router.GET("/health", s.handleHealth)
	if metrics != nil {
		s.router.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := s.router.Group("/v1")
	v1.GET("/geofences", s.handleListGeofences)
	v1.POST("/geofences", s.handleAddGeofence)
	v1.GET("/geofences/:code", s.handleGetGeofence)
	v1.DELETE("/geofences/:code", s.handleRemoveGeofence)
	v1.GET("/monitored", s.handleMonitored)
	v1.GET("/downloads", s.handleDownloads)
	v1.POST("/position", s.handlePosition)
	v1.POST("/sync", s.handleSync)

	return s
}

// UseTLS serves HTTPS with cert instead of plain HTTP.
func (s *Server) UseTLS(cert tls.Certificate) {
	s.tls = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         s.tls,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API listening", "addr", s.addr, "tls", s.tls != nil)
		var err error
		if s.tls != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("API request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidGeofence), errors.Is(err, geo.ErrNoPosition):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, syncer.ErrCancelled), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
}

func (s *Server) handleListGeofences(c *gin.Context) {
	fences, err := s.backend.QueryAllGeofences(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"geofences": nonNil(fences), "count": len(fences)})
}

func (s *Server) handleGetGeofence(c *gin.Context) {
	fence, err := s.backend.QueryGeofence(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, fence)
}

func (s *Server) handleAddGeofence(c *gin.Context) {
	var req AddGeofenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	center := model.Position{Latitude: *req.Latitude, Longitude: *req.Longitude}
	fence, err := s.backend.AddGeofence(c.Request.Context(), req.Name, center, req.Radius)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, fence)
}

func (s *Server) handleRemoveGeofence(c *gin.Context) {
	if err := s.backend.RemoveGeofence(c.Request.Context(), c.Param("code")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMonitored(c *gin.Context) {
	fences, err := s.backend.MonitoredGeofences(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"geofences": nonNil(fences), "count": len(fences)})
}

func (s *Server) handleDownloads(c *gin.Context) {
	limit := defaultDownloadLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	downloads, err := s.backend.Downloads(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	if downloads == nil {
		downloads = []model.Download{}
	}
	c.JSON(http.StatusOK, gin.H{"downloads": downloads})
}

func (s *Server) handlePosition(c *gin.Context) {
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	delta, err := s.backend.UpdatePosition(c.Request.Context(), model.Position{Latitude: *req.Latitude, Longitude: *req.Longitude})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, delta)
}

func (s *Server) handleSync(c *gin.Context) {
	force := c.Query("force") == "true"
	outcome, err := s.backend.Synchronize(c.Request.Context(), force)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"outcome": outcome})
	case !feed.IsFatal(err):
		// The batch was applied; only some features were rejected.
		c.JSON(http.StatusOK, gin.H{"outcome": outcome, "error": err.Error()})
	default:
		c.JSON(statusFor(err), gin.H{"outcome": outcome, "error": err.Error()})
	}
}

func nonNil(fences []model.Geofence) []model.Geofence {
	if fences == nil {
		return []model.Geofence{}
	}
	return fences
}
