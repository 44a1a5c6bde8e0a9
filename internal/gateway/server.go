// Package gateway serves the engine to web clients: JSON intents over HTTP,
// a websocket snapshot stream and Prometheus metrics.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Server is the HTTP gateway.
type Server struct {
	engine api.Engine
	logger *zap.Logger
	router *gin.Engine
	http   *http.Server
}

// New builds the router. Nothing listens until Start.
func New(addr string, e api.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{engine: e, logger: logger}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware("chatsync-gateway"), metrics.HTTPMetricsMiddleware())

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", s.stream)

	g := r.Group("/api")
	g.GET("/snapshot", s.snapshot)
	g.PUT("/presence", s.setPresence)
	g.PUT("/search-term", s.setSearchTerm)
	g.GET("/search", s.search)
	g.GET("/outbox", s.outbox)

	g.GET("/conversations", s.listConversations)
	g.POST("/conversations/groups", s.createGroup)
	g.POST("/conversations/directs", s.createDirect)
	g.GET("/conversations/:id", s.getConversation)
	g.POST("/conversations/:id/select", s.selectConversation)
	g.POST("/conversations/:id/read", s.markRead)
	g.POST("/conversations/:id/messages", s.sendMessage)
	g.POST("/conversations/:id/participants", s.addParticipant)
	g.DELETE("/conversations/:id/participants/:user_id", s.removeParticipant)

	g.GET("/messages/:id", s.getMessage)
	g.POST("/messages/:id/resend", s.resendMessage)
	g.DELETE("/messages/:id", s.cancelMessage)

	g.GET("/statuses", s.listStatuses)
	g.POST("/statuses", s.postStatus)
	g.POST("/statuses/:id/view", s.viewStatus)
	g.GET("/calls", s.listCalls)
	g.POST("/calls", s.startCall)
	g.POST("/calls/:id/end", s.endCall)
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("gateway listening", zap.String("addr", lis.Addr().String()))
	go func() {
		if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("gateway stopping")
	return s.http.Shutdown(ctx)
}
