// Package api serves the contract over HTTP: JSON Init/Execute calls, read
// endpoints for the queries, and a websocket stream of bus events.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zmlAEQ/Aequa-dkg/internal/contract"
	"github.com/zmlAEQ/Aequa-dkg/pkg/bus"
	"github.com/zmlAEQ/Aequa-dkg/pkg/logger"
	"github.com/zmlAEQ/Aequa-dkg/pkg/metrics"
)

const headerRequestID = "X-Request-ID"

type Service struct {
	addr     string
	contract *contract.Contract
	bus      *bus.Bus
	engine   *gin.Engine
	srv      *http.Server
	ln       net.Listener
}

func New(addr string, c *contract.Contract, b *bus.Bus) *Service {
	gin.SetMode(gin.ReleaseMode)
	s := &Service{addr: addr, contract: c, bus: b}
	s.engine = s.router()
	return s
}

func (s *Service) Name() string { return "api" }

// Handler exposes the router, mainly for tests.
func (s *Service) Handler() http.Handler { return s.engine }

// Addr is the bound address once started.
func (s *Service) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

func (s *Service) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorJ("api", map[string]any{"op": "serve", "err": err.Error()})
		}
	}()
	logger.InfoJ("api", map[string]any{"op": "listen", "addr": s.Addr()})
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Service) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog())
	v1 := r.Group("/v1")
	v1.POST("/init", s.handleInit)
	v1.POST("/execute", s.handleExecute)
	v1.GET("/config", s.handleConfig)
	v1.GET("/members", s.handleMembers)
	v1.GET("/members/:address", s.handleMember)
	v1.GET("/rounds/latest", s.handleLatestRound)
	v1.GET("/rounds/:id", s.handleRound)
	v1.GET("/events", s.handleEvents)
	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(headerRequestID, id)
		c.Request = c.Request.WithContext(contract.WithTraceID(c.Request.Context(), id))
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		begin := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		ms := float64(time.Since(begin).Microseconds()) / 1000
		metrics.Inc("api_requests_total", map[string]string{"route": route, "code": strconv.Itoa(code)})
		metrics.ObserveSummary("api_request_ms", map[string]string{"route": route}, ms)
		logger.InfoJ("api_request", map[string]any{
			"method":     c.Request.Method,
			"route":      route,
			"status":     code,
			"latency_ms": ms,
			"trace_id":   c.Writer.Header().Get(headerRequestID),
		})
	}
}
