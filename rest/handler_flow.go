package rest

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/parley-labs/parley/definition"
	"github.com/parley-labs/parley/logger"
	"github.com/parley-labs/parley/persistence"
	"go.uber.org/zap"
)

// HandleCreateFlow accepts a YAML flow definition, validates it, and stores
// it. Re-posting the same id overwrites the stored definition.
func (s *Server) HandleCreateFlow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	def, err := definition.Parse(body)
	if err != nil {
		logger.Error("invalid flow definition", zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.definitions.SaveDefinition(*def); err != nil {
		logger.Error("error saving flow definition", zap.String("id", def.Id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error saving flow definition")
		return
	}
	respondOK(w, map[string]any{"id": def.Id, "version": def.Version})
}

func (s *Server) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	def, err := s.definitions.GetDefinition(id)
	if err != nil {
		var nf persistence.NotFoundError
		if errors.As(err, &nf) {
			respondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		logger.Error("error loading flow definition", zap.String("id", id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error loading flow definition")
		return
	}
	respondWithJSON(w, http.StatusOK, def)
}

func (s *Server) HandleListFlows(w http.ResponseWriter, r *http.Request) {
	defs, err := s.definitions.ListDefinitions()
	if err != nil {
		logger.Error("error listing flow definitions", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error listing flow definitions")
		return
	}
	respondWithJSON(w, http.StatusOK, defs)
}

func (s *Server) HandleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.definitions.DeleteDefinition(id); err != nil {
		logger.Error("error deleting flow definition", zap.String("id", id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error deleting flow definition")
		return
	}
	respondOKWithoutBody(w)
}
