package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/model"
	"go.uber.org/zap"
)

func (s *Server) HandleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var runReq model.WorkflowRunRequest
	if err := json.NewDecoder(r.Body).Decode(&runReq); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid run request: "+err.Error())
		return
	}
	if runReq.WorkflowId == "" {
		respondWithError(w, http.StatusBadRequest, "workflowId is required")
		return
	}
	res, err := s.executor.Execute(r.Context(), runReq)
	if err != nil {
		logger.Error("error running workflow", zap.String("workflow", runReq.WorkflowId), zap.Error(err))
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (s *Server) HandleResumeWorkflow(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var resumeReq model.WorkflowResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&resumeReq); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid resume request: "+err.Error())
		return
	}
	res, err := s.executor.Resume(r.Context(), resumeReq)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (s *Server) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, err := s.executor.GetRun(r.Context(), id)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"summary": model.NewExecutionResult(run),
		"run":     run,
	})
}

func (s *Server) HandleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	id := mux.Vars(r)["id"]
	var cancelReq model.WorkflowCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&cancelReq); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "invalid cancel request: "+err.Error())
		return
	}
	res, err := s.executor.Cancel(r.Context(), id, cancelReq.Reason)
	if err != nil {
		logger.Error("error cancelling run", zap.String("runId", id), zap.Error(err))
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (s *Server) HandleContinueWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, err := s.executor.Continue(r.Context(), id)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}
