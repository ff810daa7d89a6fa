// Package dashboard serves a small JSON API over the bot's stored state:
// status, orders, and positions per bot instance, plus start/stop controls.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/kelly_kapoor/internal/controller"
	"github.com/eddiefleurent/kelly_kapoor/internal/models"
	"github.com/eddiefleurent/kelly_kapoor/internal/storage"
)

// Server exposes bot state over HTTP.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	storage    storage.Interface
	controller *controller.Controller
	logger     *logrus.Logger
	port       int
	authToken  string
}

// Config holds the HTTP server settings.
type Config struct {
	Port      int
	AuthToken string
}

// StatusView is the JSON shape of a bot status row.
type StatusView struct {
	BotInstanceID int64     `json:"bot_instance_id"`
	Status        string    `json:"status"`
	LastCheckIn   time.Time `json:"last_check_in"`
	IsActive      bool      `json:"is_active"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

// ControlView is the JSON shape of a start/stop outcome.
type ControlView struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NewServer creates the dashboard server and wires its routes.
func NewServer(cfg Config, store storage.Interface, ctrl *controller.Controller, logger *logrus.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		storage:    store,
		controller: ctrl,
		logger:     logger,
		port:       cfg.Port,
		authToken:  cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api/bots/{botID}", func(r chi.Router) {
		r.Get("/status", s.handleGetStatus)
		r.Get("/orders", s.handleGetOrders)
		r.Get("/positions", s.handleGetPositions)
		r.Post("/start", s.handleStartBot)
		r.Post("/stop", s.handleStopBot)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) botID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "botID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid bot id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.botID(w, r)
	if !ok {
		return
	}

	status, err := s.storage.GetBotStatus(id)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read bot status")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, StatusView{
		BotInstanceID: status.BotInstanceID,
		Status:        string(status.Status),
		LastCheckIn:   status.LastCheckIn,
		IsActive:      status.IsActive,
		ErrorMessage:  status.ErrorMessage,
	})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := s.botID(w, r)
	if !ok {
		return
	}

	orders, err := s.storage.GetTradeOrders(id)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read trade orders")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []models.TradeOrder{}
	}

	s.writeJSON(w, orders)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	id, ok := s.botID(w, r)
	if !ok {
		return
	}

	positions, err := s.storage.GetPositions(id)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read positions")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []models.PositionRecord{}
	}

	s.writeJSON(w, positions)
}

func (s *Server) handleStartBot(w http.ResponseWriter, r *http.Request) {
	id, ok := s.botID(w, r)
	if !ok {
		return
	}

	result, err := s.controller.StartBot(id)
	if err != nil {
		if errors.Is(err, controller.ErrBrokerUnavailable) && result != nil {
			w.WriteHeader(http.StatusBadGateway)
			s.writeJSON(w, ControlView{Success: result.Success, Message: result.Message})
			return
		}
		s.logger.WithError(err).Error("Failed to start bot")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, ControlView{Success: result.Success, Message: result.Message})
}

func (s *Server) handleStopBot(w http.ResponseWriter, r *http.Request) {
	id, ok := s.botID(w, r)
	if !ok {
		return
	}

	result, err := s.controller.StopBot(id)
	if err != nil {
		s.logger.WithError(err).Error("Failed to stop bot")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, ControlView{Success: result.Success, Message: result.Message})
}
