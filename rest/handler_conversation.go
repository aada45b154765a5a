package rest

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/parley-labs/parley/logger"
	"go.uber.org/zap"
)

func (s *Server) HandlePeekMessages(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	messages, err := s.store.PeekMessages(r.Context(), id)
	if err != nil {
		logger.Error("error reading message queue", zap.String("id", id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error reading message queue")
		return
	}
	respondWithJSON(w, http.StatusOK, messages)
}

// HandleAckMessages removes delivered messages from the queue. Without a
// count parameter the whole queue is acknowledged.
func (s *Server) HandleAckMessages(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	count := 0
	if raw := r.URL.Query().Get("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "count must be an integer")
			return
		}
		count = parsed
	}
	if err := s.store.AcknowledgeMessages(r.Context(), id, count); err != nil {
		logger.Error("error acknowledging messages", zap.String("id", id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error acknowledging messages")
		return
	}
	respondOKWithoutBody(w)
}

func (s *Server) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	prefs, err := s.store.GetPreferences(r.Context(), id)
	if err != nil {
		logger.Error("error reading preferences", zap.String("id", id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error reading preferences")
		return
	}
	respondWithJSON(w, http.StatusOK, prefs)
}

func (s *Server) HandleTerminateConversation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.store.Terminate(r.Context(), id); err != nil {
		logger.Error("error terminating conversation", zap.String("id", id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error terminating conversation")
		return
	}
	respondOKWithoutBody(w)
}

func (s *Server) HandleClearAuth(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.store.ClearAuthFields(r.Context(), id); err != nil {
		logger.Error("error clearing auth fields", zap.String("id", id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error clearing auth fields")
		return
	}
	respondOKWithoutBody(w)
}

func (s *Server) HandleClearOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.store.ClearTransientOrderFields(r.Context(), id); err != nil {
		logger.Error("error clearing order fields", zap.String("id", id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error clearing order fields")
		return
	}
	respondOKWithoutBody(w)
}
