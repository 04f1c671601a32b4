package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the operational HTTP surface: health and metrics only.
type Server struct {
	httpServer *http.Server
	app        *App
	logger     *zap.SugaredLogger
}

// NewServer creates the HTTP server with its routes registered.
func NewServer(host string, port int, app *App, logger *zap.SugaredLogger) *Server {
	s := &Server{app: app, logger: logger}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("HTTP server failed: %v", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status     string `json:"status"`
	MongoDB    string `json:"mongodb"`
	Redis      string `json:"redis,omitempty"`
	SQLitePath string `json:"sqlite_path"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", SQLitePath: s.app.Config.SQLite.Path}
	healthy := true

	if s.app.Mongo != nil {
		if err := s.app.Mongo.Client.Ping(ctx, nil); err != nil {
			resp.MongoDB = "unreachable"
			healthy = false
		} else {
			resp.MongoDB = "ok"
		}
	} else {
		resp.MongoDB = "disabled"
	}

	if s.app.KeyCache != nil {
		if err := s.app.KeyCache.Ping(ctx); err != nil {
			resp.Redis = "unreachable"
			healthy = false
		} else {
			resp.Redis = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		resp.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
