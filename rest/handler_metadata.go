package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
)

func decodeWorkflow(w http.ResponseWriter, r *http.Request) (*model.Workflow, bool) {
	defer r.Body.Close()
	var wf model.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid workflow definition: "+err.Error())
		return nil, false
	}
	return &wf, true
}

func (s *Server) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := decodeWorkflow(w, r)
	if !ok {
		return
	}
	if err := s.metadataService.SaveWorkflow(r.Context(), *wf); err != nil {
		logger.Error("error creating workflow", zap.String("workflow", wf.Id), zap.Error(err))
		respondWithErr(w, err)
		return
	}
	respondOK(w, map[string]any{"created": true, "id": wf.Id})
}

func (s *Server) HandleValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := decodeWorkflow(w, r)
	if !ok {
		return
	}
	if err := s.metadataService.ValidateWorkflow(*wf); err != nil {
		respondWithJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	respondOK(w, map[string]any{"valid": true})
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wf, err := s.metadataService.GetWorkflow(r.Context(), id)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wf)
}

func (s *Server) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := s.metadataService.ListWorkflows(r.Context())
	if err != nil {
		logger.Error("error listing workflows", zap.Error(err))
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, list)
}

func (s *Server) HandleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.metadataService.DeleteWorkflow(r.Context(), id); err != nil {
		respondWithErr(w, err)
		return
	}
	respondOK(w, map[string]any{"deleted": true})
}
