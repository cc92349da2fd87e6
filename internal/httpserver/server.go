// Package httpserver serves the latest scan, the sensor controls and the
// metrics over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/womat/debug"
	"github.com/womat/hm3301/internal/capture"
	"github.com/womat/hm3301/internal/config"
	"github.com/womat/hm3301/pkg/protocol"
	"github.com/womat/hm3301/pkg/session"
	"golang.org/x/time/rate"
)

// Sensor is the part of a session the server controls.
type Sensor interface {
	SerialNumber() (string, error)
	CleaningPeriod() (uint32, error)
	SetCleaningPeriod(seconds int) (*session.Warning, error)
	StartCleaning(trigger int) error
}

// Server wraps the gin engine and its http.Server.
type Server struct {
	srv    *http.Server
	sensor Sensor
	clean  *rate.Limiter

	mu   sync.RWMutex
	last *capture.Scan
}

type scanResponse struct {
	Time   time.Time          `json:"time"`
	Values map[string]float64 `json:"values"`
}

type periodRequest struct {
	Seconds *int `json:"seconds" binding:"required"`
}

type periodResponse struct {
	Seconds uint32 `json:"seconds"`
	Warning string `json:"warning,omitempty"`
}

// New creates the gin engine and registers the routes.
func New(cfg config.HTTPConfig, metricsPath string, metricsHandler http.Handler, sensor Sensor) *Server {
	s := &Server{
		sensor: sensor,
		clean:  rate.NewLimiter(rate.Every(cfg.CleanInterval), 1),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if s.Last() != nil {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if metricsHandler != nil {
		r.GET(metricsPath, gin.WrapH(metricsHandler))
	}

	api := r.Group("/api/v1")
	api.GET("/current", s.current)
	api.GET("/serial", s.serial)
	api.GET("/cleaning-period", s.cleaningPeriod)
	api.PUT("/cleaning-period", s.setCleaningPeriod)
	api.POST("/clean", s.startCleaning)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start blocks serving HTTP.
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Update stores the latest scan.
func (s *Server) Update(scan capture.Scan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &scan
}

// Last returns the latest scan or nil.
func (s *Server) Last() *capture.Scan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Server) current(c *gin.Context) {
	scan := s.Last()
	if scan == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no scan yet"})
		return
	}

	resp := scanResponse{Time: scan.Time, Values: make(map[string]float64, len(scan.Values))}
	for ch, v := range scan.Values {
		resp.Values[protocol.Channel(ch).String()] = v.Float64()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) serial(c *gin.Context) {
	serial, err := s.sensor.SerialNumber()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"serial": serial})
}

func (s *Server) cleaningPeriod(c *gin.Context) {
	seconds, err := s.sensor.CleaningPeriod()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, periodResponse{Seconds: seconds})
}

func (s *Server) setCleaningPeriod(c *gin.Context) {
	var req periodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	w, err := s.sensor.SetCleaningPeriod(*req.Seconds)
	if err != nil {
		fail(c, err)
		return
	}

	resp := periodResponse{Seconds: uint32(*req.Seconds)}
	if w != nil {
		resp.Warning = w.String()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) startCleaning(c *gin.Context) {
	if !s.clean.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "fan cleaning was started recently"})
		return
	}

	if err := s.sensor.StartCleaning(1); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// fail maps the error kind to a status code
func fail(c *gin.Context, err error) {
	code := http.StatusBadGateway
	switch protocol.KindOf(err) {
	case protocol.KindInvalidArgument:
		code = http.StatusBadRequest
	case protocol.KindTimeout:
		code = http.StatusGatewayTimeout
	}

	debug.ErrorLog.Printf("%v %v: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(code, gin.H{"error": err.Error()})
}
