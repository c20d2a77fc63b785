// Package api serves read-only HTTP views of the caches.
package api

import (
	"errors"
	"net/http"
	"sort"

	"esa_go/internal/cache"
	"esa_go/internal/domain"
	"esa_go/internal/service"

	"github.com/gin-gonic/gin"
)

// Snapshots is the read side of the streaming service.
type Snapshots interface {
	MarketSnap(marketID string) (*cache.MarketSnap, error)
	OrderMarketSnap(marketID string) (*cache.OrderMarketSnap, error)
	MarketSnaps() []*cache.MarketSnap
}

// StatusSource reports the stream connection status.
type StatusSource interface {
	Status() domain.ConnectionStatus
}

// Server routes HTTP requests to snapshot lookups.
type Server struct {
	snaps   Snapshots
	status  StatusSource
	metrics http.Handler
	router  *gin.Engine
}

// NewServer builds the router. status and metrics may be nil.
func NewServer(snaps Snapshots, status StatusSource, metrics http.Handler) *Server {
	s := &Server{snaps: snaps, status: status, metrics: metrics}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/markets", s.listMarketsHandler)
	s.router.GET("/markets/:id", s.marketSummaryHandler)
	s.router.GET("/markets/:id/book", s.marketBookHandler)
	s.router.GET("/orders/:id", s.ordersHandler)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	st := s.status.Status()
	code := http.StatusOK
	if !st.IsAuthenticated() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": st.String()})
}

func (s *Server) listMarketsHandler(c *gin.Context) {
	snaps := s.snaps.MarketSnaps()
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].MarketID < snaps[j].MarketID
	})
	out := make([]service.MarketSummary, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, service.Summarize(snap))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) marketSummaryHandler(c *gin.Context) {
	snap, err := s.snaps.MarketSnap(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, service.Summarize(snap))
}

func (s *Server) marketBookHandler(c *gin.Context) {
	snap, err := s.snaps.MarketSnap(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) ordersHandler(c *gin.Context) {
	snap, err := s.snaps.OrderMarketSnap(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func writeError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrMarketNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
