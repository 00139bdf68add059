package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ahmethakanbesel/clipper/internal/artifact"
	"github.com/ahmethakanbesel/clipper/internal/clip"
	"github.com/ahmethakanbesel/clipper/internal/job"
)

type Server struct {
	srv *http.Server
}

// New creates a server. The baseCtx is used as the base context for all
// incoming requests (via BaseContext), so cancelling it ends in-flight
// requests during graceful shutdown.
func New(baseCtx context.Context, port string, clipSvc *clip.Service, jobSvc *job.Service, artifacts *artifact.Store) *Server {
	return &Server{
		srv: &http.Server{
			Addr:    fmt.Sprintf(":%s", port),
			Handler: newMux(clipSvc, jobSvc, artifacts),
			BaseContext: func(_ net.Listener) context.Context {
				return baseCtx
			},
			ReadTimeout: 15 * time.Second,
			// Clips can be large; downloads need longer than the API calls.
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  120 * time.Second,
		},
	}
}

func (s *Server) Start() error {
	slog.Info("starting server", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down server")
	return s.srv.Shutdown(ctx)
}
