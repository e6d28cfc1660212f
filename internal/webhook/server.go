package webhook

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server owns the HTTP listener for the webhook endpoints.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer builds the HTTP server with the webhook routes mounted.
func NewServer(addr string, h *Handler, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	h.Register(mux)
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("webhook server starting", zap.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown, letting in-flight batches finish.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("webhook server stopping")
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("shutdown error", zap.Error(err))
	}
}
