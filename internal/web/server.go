// Package web exposes the bot management HTTP API and a live SSE stream of
// bot states.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Daly187/DalyKraken2.0-sub000/internal/domain"
	"github.com/Daly187/DalyKraken2.0-sub000/internal/engine"
)

const streamPollInterval = 2 * time.Second

// botService is the slice of the engine the API needs.
type botService interface {
	CreateBot(symbol string, cfg domain.BotConfig) (*domain.BotInstance, error)
	Pause(botID string) error
	Resume(botID string) error
	Stop(botID string) error
	Delete(botID string) error
	UpdateConfig(botID string, cfg domain.BotConfig) error
	ManualExit(botID string) error
	RetryExit(botID string) error
	EvaluateBot(ctx context.Context, botID string) error
	GetBotView(ctx context.Context, botID string) (engine.BotView, error)
	ListBots(ctx context.Context) []engine.BotView
}

// Server exposes the HTTP API.
type Server struct {
	addr    string
	service botService
	logger  *zap.Logger
}

// NewServer creates a new API server instance.
func NewServer(addr string, service botService, logger *zap.Logger) *Server {
	return &Server{addr: addr, service: service, logger: logger}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", zap.String("addr", s.addr))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /bots", s.handleCreateBot)
	mux.HandleFunc("GET /bots", s.handleListBots)
	mux.HandleFunc("GET /bots/stream", s.handleBotStream)
	mux.HandleFunc("GET /bots/{id}", s.handleGetBot)
	mux.HandleFunc("DELETE /bots/{id}", s.handleDeleteBot)
	mux.HandleFunc("PATCH /bots/{id}/config", s.handleUpdateConfig)
	mux.HandleFunc("POST /bots/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /bots/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /bots/{id}/stop", s.handleStop)
	mux.HandleFunc("POST /bots/{id}/exit", s.handleManualExit)
	mux.HandleFunc("POST /bots/{id}/retry-exit", s.handleRetryExit)
	mux.HandleFunc("POST /bots/{id}/evaluate", s.handleEvaluate)
	return mux
}
