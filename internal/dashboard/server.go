// Package dashboard serves the HTTP API used by the operator dashboard.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rcliao/chat-relay/internal/admin"
	"github.com/rcliao/chat-relay/internal/observability"
)

// Options configure a Server.
type Options struct {
	// Token, when set, must be sent as "Authorization: Bearer <token>".
	Token  string
	Logger *slog.Logger
}

type Server struct {
	engine *gin.Engine
	admin  *admin.Service
	log    *slog.Logger
}

// dashboardCaller is trusted: access is controlled by the bearer token.
var dashboardCaller = admin.Caller{ID: "dashboard", Trusted: true}

func New(svc *admin.Service, opts Options) *Server {
	s := &Server{admin: svc, log: opts.Logger}
	if s.log == nil {
		s.log = observability.Logger()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log))
	if opts.Token != "" {
		r.Use(bearerAuth(opts.Token))
	}
	s.routes(r)
	s.engine = r
	return s
}

func (s *Server) routes(r *gin.Engine) {
	r.PUT("/status/:status", s.setStatus)

	api := r.Group("/api")
	api.GET("/stats/messages/total", s.totalMessages)
	api.GET("/stats/messages/user", s.messagesPerUser)
	api.GET("/stats/messages/channel", s.messagesPerChannel)
	api.GET("/stats/server/uptime", s.uptime)
	api.POST("/stats/clear", s.clearStats)
	api.POST("/db/clear", s.clearDB)
	api.POST("/updateprompt", s.updatePrompt)
	api.POST("/setMessageHistoryLimit/:limit", s.setHistoryLimit)
	api.GET("/getMessageHistoryLimit", s.getHistoryLimit)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("dashboard listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dashboard: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("dashboard shutdown: %w", err)
		}
		return nil
	}
}
