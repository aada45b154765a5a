package rest

import (
	"encoding/json"
	"net/http"

	"github.com/parley-labs/parley/logger"
	"github.com/parley-labs/parley/model"
	"go.uber.org/zap"
)

// HandleEvent runs one conversation step. A failed step still answers with a
// degraded rendering so the caller always has something to show the user.
func (s *Server) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var req model.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if req.ConversationId == "" || req.FlowId == "" || req.Event == "" {
		respondWithError(w, http.StatusBadRequest, "conversationId, flowId and event are required")
		return
	}
	result, err := s.flowEngine.HandleEvent(r.Context(), req)
	if err != nil {
		logger.Error("error handling event", zap.String("conversation", req.ConversationId),
			zap.String("flow", req.FlowId), zap.Error(err))
		respondWithJSON(w, http.StatusInternalServerError, result)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}
