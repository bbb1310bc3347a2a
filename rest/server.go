package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/metadata"
	"github.com/mohitkumar/stepflow/model"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ExecutionService is the part of the engine the HTTP surface drives.
type ExecutionService interface {
	Execute(ctx context.Context, req model.WorkflowRunRequest) (*model.ExecutionResult, error)
	Resume(ctx context.Context, req model.WorkflowResumeRequest) (*model.ExecutionResult, error)
	Cancel(ctx context.Context, runId string, reason string) (*model.ExecutionResult, error)
	Continue(ctx context.Context, runId string) (*model.ExecutionResult, error)
	GetRun(ctx context.Context, runId string) (*model.Run, error)
}

type Server struct {
	http.Server
	Port            int
	metadataService metadata.MetadataService
	executor        ExecutionService
}

func NewServer(httpPort int, metadataService metadata.MetadataService, executor ExecutionService, gatherer prometheus.Gatherer) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr:              fmt.Sprintf(":%d", httpPort),
			IdleTimeout:       2 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
		metadataService: metadataService,
		executor:        executor,
		Port:            httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/metadata/workflow", s.HandleCreateWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/metadata/workflow/validate", s.HandleValidateWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/metadata/workflow", s.HandleListWorkflows).Methods(http.MethodGet)
	router.HandleFunc("/metadata/workflow/{id}", s.HandleGetWorkflow).Methods(http.MethodGet)
	router.HandleFunc("/metadata/workflow/{id}", s.HandleDeleteWorkflow).Methods(http.MethodDelete)

	router.HandleFunc("/execution", s.HandleRunWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/execution/resume", s.HandleResumeWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/execution/{id}", s.HandleGetExecution).Methods(http.MethodGet)
	router.HandleFunc("/execution/{id}/cancel", s.HandleCancelWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/execution/{id}/continue", s.HandleContinueWorkflow).Methods(http.MethodPost)

	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("http request", zap.String("method", r.Method), zap.String("uri", r.RequestURI))
		next.ServeHTTP(w, r)
	})
}

// statusFor maps engine and storage errors to HTTP status codes.
func statusFor(err error) int {
	var cfgErr model.ConfigurationError
	var expired model.TokenExpiredError
	var invalid model.TokenInvalidError
	var transition model.InvalidTransitionError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case persistence.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &expired):
		return http.StatusGone
	case errors.As(err, &invalid), errors.As(err, &transition), persistence.IsConflict(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, message map[string]any) {
	respondWithJSON(w, http.StatusOK, message)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithErr(w http.ResponseWriter, err error) {
	code := statusFor(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		message = "internal error"
	}
	respondWithError(w, code, message)
}
