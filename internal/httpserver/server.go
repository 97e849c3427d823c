package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server wraps the router with CORS and runs it until the context is cancelled.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewServer(port string, router *Router, corsOrigins []string, logger *zap.Logger) *Server {
	c := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions, http.MethodHead},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Trace-ID"},
		ExposedHeaders:   []string{"X-Trace-ID"},
		AllowCredentials: true,
	})

	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           c.Handler(router.Engine),
			ReadHeaderTimeout: 10 * time.Second,
			// batch 分析可能持续数分钟，不设置写超时
			WriteTimeout: 0,
		},
		logger: logger,
	}
}

// Handler exposes the CORS-wrapped handler for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	return s.srv.Shutdown(shutdownCtx)
}
