// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package viewer serves the live graph view over HTTP.
//
// # Routes
//
//	GET  /healthz          liveness
//	GET  /api/state        pipeline state (404 without a state source)
//	GET  /api/layout       positioned graph (layout.View)
//	GET  /graph.svg        static SVG of the current layout
//	POST /api/select       {"kind":"node|edge|none","id":"..."}
//	POST /api/drag         {"id":"...","x":1,"y":2}
//	POST /api/release      {"id":"..."}
//	POST /api/expand       {"record_id":"..."}
//	POST /api/labels       {"show":true}
//	GET  /metrics          Prometheus exposition, when configured
//	GET  /ws               push channel; also accepts the POST bodies as
//	                       {"action":"select", ...} commands
//
// The server owns no graph state of its own: the layout.Engine holds the
// model and selection, and the orchestrator holds the pipeline state.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/layout"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/orchestrator"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/util"
)

// Defaults for animation and push cadence.
const (
	DefaultIterations   = 30
	DefaultPushInterval = 250 * time.Millisecond
	shutdownTimeout     = 5 * time.Second
)

// StateSource provides the pipeline state. *orchestrator.Orchestrator
// implements it.
type StateSource interface {
	State() orchestrator.State
}

// =============================================================================
// Server
// =============================================================================

// Server is the live viewer.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Server struct {
	engine       *layout.Engine
	state        StateSource
	logger       *slog.Logger
	metrics      http.Handler
	serviceName  string
	iterations   int
	pushInterval time.Duration

	router   *gin.Engine
	upgrader websocket.Upgrader

	// ctx ends every websocket session on Close.
	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithState sets the pipeline state source.
func WithState(src StateSource) Option {
	return func(s *Server) { s.state = src }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithIterations sets how many layout ticks run per push interval.
func WithIterations(n int) Option {
	return func(s *Server) { s.iterations = n }
}

// WithPushInterval sets the animation and push cadence.
func WithPushInterval(d time.Duration) Option {
	return func(s *Server) { s.pushInterval = d }
}

// WithServiceName names the server in traces.
func WithServiceName(name string) Option {
	return func(s *Server) { s.serviceName = name }
}

// New creates a Server around engine.
func New(engine *layout.Engine, opts ...Option) *Server {
	s := &Server{
		engine:       engine,
		logger:       slog.Default(),
		serviceName:  "simdeck-viewer",
		iterations:   DefaultIterations,
		pushInterval: DefaultPushInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.iterations < 1 {
		s.iterations = DefaultIterations
	}
	s.pushInterval = util.EnforceMinTimeout(s.pushInterval, 10*time.Millisecond)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.initRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// OnGraph feeds a new snapshot to the engine. It has the
// orchestrator.GraphListener signature.
func (s *Server) OnGraph(snap api.GraphSnapshot, _ layout.Delta) {
	d := s.engine.Update(snap)
	if !d.Empty() {
		s.logger.Debug("viewer graph updated", "delta", d.String())
	}
}

// Animate advances the layout every push interval until ctx ends.
func (s *Server) Animate(ctx context.Context) {
	t := time.NewTicker(s.pushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.engine.Step(s.iterations)
		}
	}
}

// Serve listens on addr until ctx ends, then shuts down gracefully.
//
// # Inputs
//
//   - ctx: Cancel to stop
//   - addr: Listen address, e.g. ":8088"
//   - ready: Receives the bound address once listening; may be nil
//
// # Outputs
//
//   - error: Listen or serve failure; nil after a clean shutdown
func (s *Server) Serve(ctx context.Context, addr string, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if ready != nil {
		ready(ln.Addr())
	}
	s.logger.Info("viewer listening", "addr", ln.Addr().String())

	animCtx, stopAnim := context.WithCancel(ctx)
	var anim sync.WaitGroup
	anim.Add(1)
	go func() {
		defer anim.Done()
		s.Animate(animCtx)
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		s.cancel()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = srv.Shutdown(sctx)
		cancel()
		<-errCh
	}
	stopAnim()
	anim.Wait()
	s.Close()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close ends every websocket session and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.conns.Wait()
}

// =============================================================================
// Routes
// =============================================================================

func (s *Server) initRouter() {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(s.serviceName))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := r.Group("/api")
	apiGroup.GET("/state", s.handleState)
	apiGroup.GET("/layout", s.handleLayout)
	apiGroup.POST("/select", s.handleSelect)
	apiGroup.POST("/drag", s.handleDrag)
	apiGroup.POST("/release", s.handleRelease)
	apiGroup.POST("/expand", s.handleExpand)
	apiGroup.POST("/labels", s.handleLabels)

	r.GET("/graph.svg", s.handleSVG)
	r.GET("/ws", s.handleWS)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}
	s.router = r
}

func (s *Server) handleState(c *gin.Context) {
	if s.state == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pipeline attached"})
		return
	}
	c.JSON(http.StatusOK, s.state.State())
}

func (s *Server) handleLayout(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.View())
}

func (s *Server) handleSVG(c *gin.Context) {
	c.Data(http.StatusOK, "image/svg+xml; charset=utf-8", []byte(s.engine.SVG()))
}

// Command is one interaction, posted to /api/* or sent over /ws.
type Command struct {
	Action   string  `json:"action,omitempty"`
	Kind     string  `json:"kind,omitempty"`
	ID       string  `json:"id,omitempty"`
	RecordID string  `json:"record_id,omitempty"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	Show     *bool   `json:"show,omitempty"`
}

// errBadCommand marks a command that could not be applied.
var errBadCommand = errors.New("bad command")

// Apply runs a command against the engine.
func (s *Server) Apply(cmd Command) error {
	switch cmd.Action {
	case "select":
		switch layout.SelectionKind(cmd.Kind) {
		case layout.SelectNone, "":
			s.engine.ClearSelection()
		case layout.SelectNode:
			if !s.engine.SelectNode(cmd.ID) {
				return fmt.Errorf("%w: unknown node %q", errBadCommand, cmd.ID)
			}
		case layout.SelectEdge:
			if !s.engine.SelectEdge(cmd.ID) {
				return fmt.Errorf("%w: unknown edge %q", errBadCommand, cmd.ID)
			}
		default:
			return fmt.Errorf("%w: selection kind %q", errBadCommand, cmd.Kind)
		}
	case "drag":
		if err := s.engine.Drag(cmd.ID, layout.Point{X: cmd.X, Y: cmd.Y}); err != nil {
			return fmt.Errorf("%w: %v", errBadCommand, err)
		}
	case "release":
		if err := s.engine.Release(cmd.ID); err != nil {
			return fmt.Errorf("%w: %v", errBadCommand, err)
		}
	case "expand":
		was := slices.Contains(s.engine.View().Selection.Expanded, cmd.RecordID)
		if now := s.engine.ToggleExpanded(cmd.RecordID); !was && !now {
			return fmt.Errorf("%w: record %q is not in the selected self-loop group", errBadCommand, cmd.RecordID)
		}
	case "labels":
		if cmd.Show == nil {
			return fmt.Errorf("%w: labels needs show", errBadCommand)
		}
		s.engine.SetEdgeLabels(*cmd.Show)
	default:
		return fmt.Errorf("%w: unknown action %q", errBadCommand, cmd.Action)
	}
	return nil
}

func (s *Server) command(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cmd Command
		if err := c.ShouldBindJSON(&cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cmd.Action = action
		if err := s.Apply(cmd); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, s.engine.View().Selection)
	}
}

func (s *Server) handleSelect(c *gin.Context)  { s.command("select")(c) }
func (s *Server) handleDrag(c *gin.Context)    { s.command("drag")(c) }
func (s *Server) handleRelease(c *gin.Context) { s.command("release")(c) }
func (s *Server) handleExpand(c *gin.Context)  { s.command("expand")(c) }
func (s *Server) handleLabels(c *gin.Context)  { s.command("labels")(c) }
