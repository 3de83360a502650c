package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Daly187/DalyKraken2.0-sub000/internal/domain"
	"github.com/Daly187/DalyKraken2.0-sub000/internal/engine"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrBotNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidStatus):
		status = http.StatusConflict
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createBotRequest struct {
	Symbol string           `json:"symbol"`
	Config domain.BotConfig `json:"config"`
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	bot, err := s.service.CreateBot(req.Symbol, req.Config)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.writeJSON(w, http.StatusCreated, bot)
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.ListBots(r.Context()))
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetBotView(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateConfig applies a partial config update: fields absent from
// the request body keep their current values.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("id")

	current, err := s.service.GetBotView(r.Context(), botID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	cfg := current.Bot.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	if err := s.service.UpdateConfig(botID, cfg); err != nil {
		if errors.Is(err, engine.ErrBotNotFound) || errors.Is(err, engine.ErrInvalidStatus) {
			s.writeError(w, err)
		} else {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		return
	}

	view, err := s.service.GetBotView(r.Context(), botID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.service.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.service.Resume)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.service.Stop)
}

func (s *Server) handleManualExit(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.service.ManualExit)
}

func (s *Server) handleRetryExit(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.service.RetryExit)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, fn func(botID string) error) {
	botID := r.PathValue("id")
	if err := fn(botID); err != nil {
		s.writeError(w, err)
		return
	}

	view, err := s.service.GetBotView(r.Context(), botID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("id")
	if err := s.service.EvaluateBot(r.Context(), botID); err != nil {
		s.writeError(w, err)
		return
	}

	view, err := s.service.GetBotView(r.Context(), botID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleBotStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// comment heartbeat every 30s so proxies keep the connection
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(streamPollInterval)
	defer pollTicker.Stop()

	sendViews := func() error {
		payload, err := json.Marshal(s.service.ListBots(r.Context()))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "event: bots\n")
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		return nil
	}

	if err := sendViews(); err != nil {
		s.logger.Error("bot stream initial send failed", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendViews(); err != nil {
				s.logger.Error("bot stream poll failed", zap.Error(err))
				return
			}
		}
	}
}
