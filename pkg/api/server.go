// Package api serves committed scores and features over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/edgescore/edgescore/pkg/models"
	"github.com/edgescore/edgescore/pkg/store"
	"github.com/edgescore/edgescore/pkg/window"
)

// Reader is the read side of the store.
type Reader interface {
	Scores(ctx context.Context, opts models.ScoreQueryOpts) ([]models.RiskScore, error)
	Features(ctx context.Context, ip string, limit int) ([]models.IPDayFeatures, error)
	TierStats(ctx context.Context, since time.Time) ([]models.TierStat, error)
}

// Server is the read API.
type Server struct {
	store  Reader
	log    zerolog.Logger
	router *gin.Engine
}

// New builds the router.
func New(r Reader, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{store: r, log: log, router: gin.New()}
	s.router.Use(gin.Recovery(), s.requestLogger())

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/scores", s.getScores)
		v1.GET("/ips/:ip", s.getIP)
		v1.GET("/stats", s.getStats)
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("api listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.log.Error().Err(err).Str("path", c.FullPath()).Msg("query failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func parseDay(c *gin.Context, key string) (time.Time, bool) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, true
	}
	d, err := time.Parse(window.DateLayout, v)
	if err != nil {
		badRequest(c, key+" must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}

func parseLimit(c *gin.Context) (int, bool) {
	v := c.Query("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 10000 {
		badRequest(c, "limit must be between 1 and 10000")
		return 0, false
	}
	return n, true
}

func (s *Server) getScores(c *gin.Context) {
	opts := models.ScoreQueryOpts{IP: c.Query("ip")}
	var ok bool
	if opts.Day, ok = parseDay(c, "date"); !ok {
		return
	}
	if opts.Limit, ok = parseLimit(c); !ok {
		return
	}
	if t := c.Query("min_tier"); t != "" {
		tier, err := models.ParseTier(t)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		opts.MinTier = tier
	}

	scores, err := s.store.Scores(c.Request.Context(), opts)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if scores == nil {
		scores = []models.RiskScore{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(scores), "scores": scores})
}

func (s *Server) getIP(c *gin.Context) {
	ip := c.Param("ip")
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	feats, err := s.store.Features(c.Request.Context(), ip, limit)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no data for " + ip})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	scores, err := s.store.Scores(c.Request.Context(), models.ScoreQueryOpts{IP: ip, Limit: limit})
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ip": ip, "features": feats, "scores": scores})
}

func (s *Server) getStats(c *gin.Context) {
	since, ok := parseDay(c, "since")
	if !ok {
		return
	}
	stats, err := s.store.TierStats(c.Request.Context(), since)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if stats == nil {
		stats = []models.TierStat{}
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}
