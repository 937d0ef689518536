// Package server exposes the operation API over HTTP: create an action,
// poll it with a cursor, or stream its log as server-sent events.
package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/oneclick-io/oneclick/internal/ops"
	"github.com/oneclick-io/oneclick/internal/pipeline"
	"github.com/oneclick-io/oneclick/internal/supervisor"
)

// Server routes operation requests to the supervisor and registry.
type Server struct {
	sup *supervisor.Supervisor
	reg *ops.Registry

	// Defaults applied when the request body omits them.
	Profile  string
	Region   string
	BaseName string
}

func New(sup *supervisor.Supervisor, reg *ops.Registry) *Server {
	return &Server{sup: sup, reg: reg}
}

// Router builds the gin engine with all API routes mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := r.Group("/api")
	api.POST("/deploy", s.handleDeploy)
	api.POST("/test", s.handleTest)
	api.POST("/teardown", s.handleTeardown)
	api.GET("/op/:id", s.handleRead)
	api.GET("/op/:id/stream", s.handleStream)
	api.POST("/op/:id/abort", s.handleAbort)
	return r
}

type actionRequest struct {
	Profile  string            `json:"profile"`
	Region   string            `json:"region"`
	BaseName string            `json:"base_name"`
	Options  map[string]string `json:"options"`
	Topic    string            `json:"topic"`
}

func (s *Server) input(req actionRequest) pipeline.Input {
	in := pipeline.Input{
		Profile:  req.Profile,
		Region:   req.Region,
		BaseName: req.BaseName,
		Options:  req.Options,
	}
	if in.Profile == "" {
		in.Profile = s.Profile
	}
	if in.Region == "" {
		in.Region = s.Region
	}
	if in.BaseName == "" {
		in.BaseName = s.BaseName
	}
	return in
}

func (s *Server) handleDeploy(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := s.sup.Deploy(s.input(req))
	c.JSON(http.StatusOK, gin.H{"op_id": id})
}

func (s *Server) handleTest(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := s.sup.Test(supervisor.TestInput{Input: s.input(req), Topic: req.Topic})
	c.JSON(http.StatusOK, gin.H{"op_id": id})
}

func (s *Server) handleTeardown(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := s.sup.Teardown(s.input(req))
	c.JSON(http.StatusOK, gin.H{"op_id": id})
}

// handleRead serves the cursor-pull protocol: logs after ?since=N plus the
// next cursor, with outputs or error once terminal.
func (s *Server) handleRead(c *gin.Context) {
	since, err := strconv.Atoi(c.DefaultQuery("since", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an integer"})
		return
	}

	view, err := s.reg.Read(c.Param("id"), since)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
		return
	}

	resp := gin.H{
		"status":   view.Status,
		"progress": view.Progress,
		"logs":     view.Lines,
		"cursor":   view.Cursor,
	}
	if view.Outputs != nil {
		resp["outputs"] = view.Outputs
	}
	if view.Failure != nil {
		resp["error"] = view.Failure
	}
	c.JSON(http.StatusOK, resp)
}

// handleStream serves the push protocol: one SSE event per log line,
// closing when the operation reaches a terminal status.
func (s *Server) handleStream(c *gin.Context) {
	lines, cancel, err := s.reg.Subscribe(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
		return
	}
	defer cancel()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case line, ok := <-lines:
			if !ok {
				return false
			}
			c.SSEvent("log", line)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) handleAbort(c *gin.Context) {
	if err := s.sup.Abort(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
