// Package rest provides the Gin-based REST API server.
package rest

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iggydv12/hubsim/internal/config"
	"github.com/iggydv12/hubsim/internal/metrics"
	"github.com/iggydv12/hubsim/internal/sim"
)

// maxKeptRuns bounds the results kept for GET /runs/:id.
const maxKeptRuns = 64

// Server is the REST API server.
type Server struct {
	engine   *gin.Engine
	base     config.ScenarioConfig
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu   sync.Mutex
	runs map[string]*sim.Result
	ids  []string // insertion order, oldest first
}

// New creates a REST Server. base is the scenario every request starts from.
func New(base config.ScenarioConfig, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	reg := prometheus.NewRegistry()
	s := &Server{
		engine:   engine,
		base:     base,
		registry: reg,
		metrics:  metrics.New(reg),
		logger:   logger,
		runs:     make(map[string]*sim.Result),
	}
	s.registerRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start starts the REST server on addr.
func (s *Server) Start(addr string) error {
	s.logger.Info("REST API listening", zap.String("addr", addr))
	return s.engine.Run(addr)
}

// registerRoutes sets up the /hubsim context path.
func (s *Server) registerRoutes() {
	hubsim := s.engine.Group("/hubsim")

	hubsim.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	presets := hubsim.Group("/presets")
	{
		presets.GET("", s.listPresets)
		presets.GET("/:name", s.getPreset)
	}

	runs := hubsim.Group("/runs")
	{
		runs.POST("", s.run)
		runs.POST("/survivors", s.survivors)
		runs.GET("/:id", s.getRun)
	}
}

// scenario resolves the request scenario: base, replaced by the optional
// ?preset= query, then any JSON body fields on top.
func (s *Server) scenario(c *gin.Context, base config.ScenarioConfig) (config.ScenarioConfig, error) {
	cfg := base
	if name := c.Query("preset"); name != "" {
		p, err := config.Preset(name)
		if err != nil {
			return cfg, err
		}
		cfg = p
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

func (s *Server) run(c *gin.Context) {
	cfg, err := s.scenario(c, s.base)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := sim.New(cfg, s.logger, sim.WithMetrics(s.metrics))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := d.Run(c.Request.Context())
	if err != nil && !errors.Is(err, sim.ErrInvariantViolation) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.keep(res)
	if c.Query("records") != "true" {
		res = &sim.Result{Report: res.Report}
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) survivors(c *gin.Context) {
	base, err := config.Preset("survivors")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	cfg, err := s.scenario(c, base)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := sim.RunSurvivors(c.Request.Context(), cfg, s.logger, sim.WithMetrics(s.metrics))
	switch {
	case errors.Is(err, sim.ErrNoRecovery):
		c.JSON(http.StatusOK, res)
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		s.keep(res.Run)
		c.JSON(http.StatusOK, res)
	}
}

func (s *Server) getRun(c *gin.Context) {
	s.mu.Lock()
	res, ok := s.runs[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) keep(res *sim.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := res.Report.RunID
	if _, ok := s.runs[id]; !ok {
		s.ids = append(s.ids, id)
	}
	s.runs[id] = res
	for len(s.ids) > maxKeptRuns {
		delete(s.runs, s.ids[0])
		s.ids = s.ids[1:]
	}
}

func (s *Server) listPresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"presets": config.PresetNames()})
}

func (s *Server) getPreset(c *gin.Context) {
	p, err := config.Preset(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}
