package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/quorumline/internal/events"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

type eventView struct {
	At        time.Time `json:"at"`
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Producer  string    `json:"producer,omitempty"`
	Round     uint64    `json:"round,omitempty"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": "quorumd",
			"version": Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.source.Status())
	})

	s.router.GET("/events", func(c *gin.Context) {
		limit := defaultEventLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxEventLimit)
		}
		recent := s.source.Events(limit)
		c.JSON(http.StatusOK, gin.H{
			"count":  len(recent),
			"events": viewEvents(recent),
		})
	})
}

func viewEvents(in []events.Event) []eventView {
	out := make([]eventView, 0, len(in))
	for _, e := range in {
		out = append(out, eventView{
			At:        e.At,
			Level:     e.Level.String(),
			Component: e.Component,
			Message:   e.Message,
			Producer:  e.Producer,
			Round:     e.Round,
		})
	}
	return out
}
