// Package api exposes the dispatchd HTTP surface: job and worker CRUD plus
// a server-sent-events stream of domain notifications.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbellgren/dispatchd/internal/core/domain"
	"github.com/mbellgren/dispatchd/internal/core/services"
)

type Server struct {
	logger   *slog.Logger
	jobs     *services.JobService
	registry *services.WorkerRegistry
	queue    *services.JobQueue
	bus      *services.EventBus
}

func NewServer(logger *slog.Logger, jobs *services.JobService, registry *services.WorkerRegistry, queue *services.JobQueue, bus *services.EventBus) *Server {
	return &Server{
		logger:   logger,
		jobs:     jobs,
		registry: registry,
		queue:    queue,
		bus:      bus,
	}
}

// Handler mounts all routes on a fresh mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /v1/jobs/{id}", s.handleDeleteJob)
	mux.HandleFunc("POST /v1/jobs/{id}/retry", s.handleRetryJob)
	mux.HandleFunc("POST /v1/jobs/{id}/restart", s.handleRestartJob)
	mux.HandleFunc("POST /v1/jobs/{id}/stop", s.handleStopJob)
	mux.HandleFunc("PUT /v1/jobs/{id}/progress", s.handleUpdateProgress)
	mux.HandleFunc("GET /v1/jobs/{id}/logs", s.handleJobLogs)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.HandleFunc("POST /v1/workers", s.handleRegisterWorker)
	mux.HandleFunc("GET /v1/workers", s.handleListWorkers)
	mux.HandleFunc("GET /v1/workers/{id}", s.handleGetWorker)
	mux.HandleFunc("PUT /v1/workers/{id}", s.handleUpdateWorker)
	mux.HandleFunc("POST /v1/workers/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /v1/workers/{id}/deactivate", s.handleDeactivateWorker)
	mux.HandleFunc("DELETE /v1/workers/{id}", s.handleDeleteWorker)

	mux.HandleFunc("GET /v1/queue", s.handleQueueStats)

	return mux
}

// jobView is the client-visible job shape: the assigned worker appears as
// id+name only, never as the full worker record.
type jobView struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Description        string     `json:"description,omitempty"`
	Status             string     `json:"status"`
	Priority           string     `json:"priority"`
	Progress           int        `json:"progress"`
	ErrorMessage       *string    `json:"error_message,omitempty"`
	JobType            string     `json:"job_type,omitempty"`
	ScheduledStartTime *time.Time `json:"scheduled_start_time,omitempty"`
	MaxRetryAttempts   int        `json:"max_retry_attempts"`
	CurrentRetryCount  int        `json:"current_retry_count"`
	StartTime          *time.Time `json:"start_time,omitempty"`
	EndTime            *time.Time `json:"end_time,omitempty"`
	WorkerNodeID       string     `json:"worker_node_id,omitempty"`
	WorkerName         string     `json:"worker_name,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func (s *Server) jobToView(r *http.Request, job *domain.Job) jobView {
	view := jobView{
		ID:                 string(job.ID),
		Name:               job.Name,
		Description:        job.Description,
		Status:             string(job.Status),
		Priority:           job.Priority.String(),
		Progress:           job.Progress,
		ErrorMessage:       job.ErrorMessage,
		JobType:            job.JobType,
		ScheduledStartTime: job.ScheduledStartTime,
		MaxRetryAttempts:   job.MaxRetryAttempts,
		CurrentRetryCount:  job.CurrentRetryCount,
		StartTime:          job.StartTime,
		EndTime:            job.EndTime,
		CreatedAt:          job.CreatedAt,
	}
	if job.WorkerNodeID != nil {
		view.WorkerNodeID = string(*job.WorkerNodeID)
		view.WorkerName = s.jobs.WorkerName(r.Context(), job)
	}
	return view
}

type createJobRequest struct {
	Name               string     `json:"name"`
	Description        string     `json:"description"`
	Priority           string     `json:"priority"`
	JobType            string     `json:"job_type"`
	ScheduledStartTime *time.Time `json:"scheduled_start_time"`
	MaxRetryAttempts   int        `json:"max_retry_attempts"`
	PreferredWorkerID  string     `json:"preferred_worker_id"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	priority := domain.PriorityRegular
	if req.Priority != "" {
		p, err := domain.ParsePriority(req.Priority)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if p == domain.PriorityImmediate {
			writeError(w, http.StatusBadRequest, "priority immediate is reserved")
			return
		}
		priority = p
	}

	job, err := s.jobs.Create(r.Context(), services.CreateJobRequest{
		Name:               req.Name,
		Description:        req.Description,
		Priority:           priority,
		JobType:            req.JobType,
		ScheduledStartTime: req.ScheduledStartTime,
		MaxRetryAttempts:   req.MaxRetryAttempts,
		PreferredWorkerID:  domain.WorkerID(req.PreferredWorkerID),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.jobToView(r, job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	views := make([]jobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, s.jobToView(r, &jobs[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), domain.JobID(r.PathValue("id")))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.jobToView(r, job))
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Delete(r.Context(), domain.JobID(r.PathValue("id"))); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Retry(r.Context(), domain.JobID(r.PathValue("id")))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.jobToView(r, job))
}

func (s *Server) handleRestartJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Restart(r.Context(), domain.JobID(r.PathValue("id")))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.jobToView(r, job))
}

func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Stop(r.Context(), domain.JobID(r.PathValue("id"))); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleUpdateProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Progress int `json:"progress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.jobs.UpdateProgress(r.Context(), domain.JobID(r.PathValue("id")), req.Progress); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.jobs.Logs(r.Context(), domain.JobID(r.PathValue("id")))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// handleEvents streams every domain notification as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsub := s.bus.SubscribeAll()
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Topic, data)
			flusher.Flush()
		}
	}
}

type registerWorkerRequest struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	Capacity int    `json:"capacity"`
	Power    int    `json:"power"`
}

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req registerWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "worker name is required")
		return
	}
	if req.Capacity <= 0 {
		writeError(w, http.StatusBadRequest, "capacity must be positive")
		return
	}

	worker, err := s.registry.Register(r.Context(), req.Name, req.Endpoint, req.Capacity, req.Power)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, worker)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.registry.GetAll(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workers)
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := s.registry.GetByID(r.Context(), domain.WorkerID(r.PathValue("id")))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (s *Server) handleUpdateWorker(w http.ResponseWriter, r *http.Request) {
	var req registerWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	worker, err := s.registry.UpdateDetails(r.Context(), domain.WorkerID(r.PathValue("id")), req.Endpoint, req.Capacity, req.Power)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Heartbeat(r.Context(), domain.WorkerID(r.PathValue("id"))); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeactivateWorker(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Deactivate(r.Context(), domain.WorkerID(r.PathValue("id"))); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteWorker(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(r.Context(), domain.WorkerID(r.PathValue("id"))); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	lengths := s.queue.Lengths()
	stats := struct {
		Total      int            `json:"total"`
		ByPriority map[string]int `json:"by_priority"`
	}{
		Total:      s.queue.GetLength(),
		ByPriority: make(map[string]int, len(lengths)),
	}
	for p, n := range lengths {
		stats.ByPriority[p.String()] = n
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeDomainError maps domain sentinels to HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrWorkerNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNoWorkers),
		errors.Is(err, domain.ErrJobNotPending),
		errors.Is(err, domain.ErrJobNotRetryable),
		errors.Is(err, domain.ErrJobRunning),
		errors.Is(err, domain.ErrWorkerBusy),
		errors.Is(err, domain.ErrWorkerNotAvailable),
		errors.Is(err, domain.ErrInvalidProgress):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
