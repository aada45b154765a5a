package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/parley-labs/parley/logger"
	"github.com/parley-labs/parley/model"
	"go.uber.org/zap"
)

func (s *Server) HandleRegisterVersion(w http.ResponseWriter, r *http.Request) {
	var cfg model.FlowVersionConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if cfg.FlowId == "" || cfg.VersionId == "" {
		respondWithError(w, http.StatusBadRequest, "flowId and versionId are required")
		return
	}
	s.versions.RegisterVersion(cfg.FlowId, cfg)
	respondOK(w, map[string]any{"versionId": cfg.VersionId})
}

func (s *Server) HandleListVersions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	flowId, ok := vars["flowId"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	respondWithJSON(w, http.StatusOK, s.versions.ListVersions(flowId))
}

func (s *Server) HandleVersionStats(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	versionId, ok := vars["versionId"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	stats, err := s.versions.Stats(versionId)
	if err != nil {
		respondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

// HandlePromoteVersion routes all traffic to the winner and retires its
// siblings. Sticky assignments for the flow are re-rolled.
func (s *Server) HandlePromoteVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	flowId := vars["flowId"]
	versionId := vars["versionId"]
	if err := s.versions.PromoteVersion(flowId, versionId); err != nil {
		logger.Error("error promoting version", zap.String("flow", flowId),
			zap.String("version", versionId), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOKWithoutBody(w)
}

func (s *Server) HandleSetCanaryWeights(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	flowId := vars["flowId"]
	var req model.VersionWeightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := s.versions.SetCanaryWeights(flowId, req.StableId, req.CanaryId, req.CanaryPercent); err != nil {
		logger.Error("error setting canary weights", zap.String("flow", flowId), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOKWithoutBody(w)
}

func (s *Server) HandleCreateTest(w http.ResponseWriter, r *http.Request) {
	var cfg model.ABTestConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := s.versions.CreateTest(cfg); err != nil {
		logger.Error("error creating test", zap.String("test", cfg.TestId), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(w, map[string]any{"testId": cfg.TestId})
}

func (s *Server) HandleGetTest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	testId := vars["id"]
	test, err := s.versions.GetTest(testId)
	if err != nil {
		respondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, test)
}

func (s *Server) HandleStartTest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	testId := vars["id"]
	if err := s.versions.StartTest(testId); err != nil {
		logger.Error("error starting test", zap.String("test", testId), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOKWithoutBody(w)
}

// HandleStopTest concludes a test. Stopping with ?cancel=true discards it
// instead of computing a winner.
func (s *Server) HandleStopTest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	testId := vars["id"]
	status := model.AB_TEST_COMPLETED
	if r.URL.Query().Get("cancel") == "true" {
		status = model.AB_TEST_CANCELLED
	}
	results, err := s.versions.StopTest(testId, status)
	if err != nil {
		logger.Error("error stopping test", zap.String("test", testId), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, results)
}
