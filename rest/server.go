package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/parley-labs/parley/engine"
	"github.com/parley-labs/parley/logger"
	"github.com/parley-labs/parley/metrics"
	"github.com/parley-labs/parley/persistence"
	"github.com/parley-labs/parley/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port        int
	flowEngine  *engine.FlowEngine
	definitions persistence.DefinitionStorage
	store       persistence.SessionStore
	versions    *version.Manager
}

func NewServer(httpPort int, flowEngine *engine.FlowEngine, definitions persistence.DefinitionStorage,
	store persistence.SessionStore, versions *version.Manager, collector *metrics.Collector) (*Server, error) {

	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		flowEngine:  flowEngine,
		definitions: definitions,
		store:       store,
		versions:    versions,
		Port:        httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/flow", s.HandleCreateFlow).Methods(http.MethodPost)
	router.HandleFunc("/flow", s.HandleListFlows).Methods(http.MethodGet)
	router.HandleFunc("/flow/{id}", s.HandleGetFlow).Methods(http.MethodGet)
	router.HandleFunc("/flow/{id}", s.HandleDeleteFlow).Methods(http.MethodDelete)

	router.HandleFunc("/event", s.HandleEvent).Methods(http.MethodPost)

	router.HandleFunc("/conversation/{id}/messages", s.HandlePeekMessages).Methods(http.MethodGet)
	router.HandleFunc("/conversation/{id}/messages/ack", s.HandleAckMessages).Methods(http.MethodPost)
	router.HandleFunc("/conversation/{id}/preferences", s.HandleGetPreferences).Methods(http.MethodGet)
	router.HandleFunc("/conversation/{id}", s.HandleTerminateConversation).Methods(http.MethodDelete)
	router.HandleFunc("/conversation/{id}/auth", s.HandleClearAuth).Methods(http.MethodDelete)
	router.HandleFunc("/conversation/{id}/order", s.HandleClearOrder).Methods(http.MethodDelete)

	router.HandleFunc("/version", s.HandleRegisterVersion).Methods(http.MethodPost)
	router.HandleFunc("/version/{flowId}", s.HandleListVersions).Methods(http.MethodGet)
	router.HandleFunc("/version/{flowId}/promote/{versionId}", s.HandlePromoteVersion).Methods(http.MethodPost)
	router.HandleFunc("/version/{flowId}/canary", s.HandleSetCanaryWeights).Methods(http.MethodPost)
	router.HandleFunc("/version/stats/{versionId}", s.HandleVersionStats).Methods(http.MethodGet)

	router.HandleFunc("/abtest", s.HandleCreateTest).Methods(http.MethodPost)
	router.HandleFunc("/abtest/{id}", s.HandleGetTest).Methods(http.MethodGet)
	router.HandleFunc("/abtest/{id}/start", s.HandleStartTest).Methods(http.MethodPost)
	router.HandleFunc("/abtest/{id}/stop", s.HandleStopTest).Methods(http.MethodPost)

	router.HandleFunc("/healthz", s.HandleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func (s *Server) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	respondOK(w, map[string]any{"status": "ok"})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, message map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
	res, _ := json.Marshal(message)
	w.Write(res)
}

func respondOKWithoutBody(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
