package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"tripchat/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server is the local debug surface: health, metrics and a read-only view of
// the active room. It never mutates engine state.
type Server struct {
	router *mux.Router
	logger *logrus.Logger
	engine *service.Engine
	server *http.Server
	port   int
}

func NewServer(engine *service.Engine, port int, logger *logrus.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: logger,
		engine: engine,
		port:   port,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	debug := s.router.PathPrefix("/debug").Subrouter()
	debug.HandleFunc("/room", s.handleActiveRoom()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	port := s.port
	if env := os.Getenv("PORT"); env != "" {
		fmt.Sscanf(env, "%d", &port)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Infof("Starting debug server on port %d", port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

func (s *Server) handleActiveRoom() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		rc := s.engine.ActiveRoom()
		if rc == nil {
			json.NewEncoder(w).Encode(map[string]interface{}{"active": false})
			return
		}

		session := rc.Session()
		resp := map[string]interface{}{
			"active":         true,
			"roomId":         session.RoomID,
			"messages":       len(rc.Messages()),
			"hasMore":        session.HasMore,
			"deliveredLatch": session.DeliveredLatch,
			"readLatch":      session.ReadLatch,
			"typing":         rc.TypingUsers(),
			"onlineMembers":  rc.OnlineMembers(),
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			s.logger.WithError(err).Error("Failed to encode room debug response")
		}
	}
}
