package domain

import (
	"errors"
	"time"
)

type JobID string

type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusStopped   JobStatus = "STOPPED"
)

// Job represents a unit of schedulable work.
type Job struct {
	ID                 JobID       `json:"id"`
	Name               string      `json:"name"`
	Description        string      `json:"description,omitempty"`
	Status             JobStatus   `json:"status"`
	Priority           JobPriority `json:"priority"`
	Progress           int         `json:"progress"` // 0-100
	ErrorMessage       *string     `json:"error_message,omitempty"`
	JobType            string      `json:"job_type,omitempty"`
	ScheduledStartTime *time.Time  `json:"scheduled_start_time,omitempty"`
	MaxRetryAttempts   int         `json:"max_retry_attempts"`
	CurrentRetryCount  int         `json:"current_retry_count"`
	WorkerNodeID       *WorkerID   `json:"worker_node_id,omitempty"`
	StartTime          *time.Time  `json:"start_time,omitempty"`
	EndTime            *time.Time  `json:"end_time,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotPending   = errors.New("job is not pending")
	ErrJobRunning      = errors.New("job is currently running")
	ErrJobNotRetryable = errors.New("job is not in a retryable state")
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")
)

// IsTerminal reports whether the job has reached a final status.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusStopped:
		return true
	}
	return false
}

// CanRetry reports whether the job is eligible for a retry attempt.
func (j *Job) CanRetry() bool {
	return j.Status == JobStatusFailed && j.CurrentRetryCount < j.MaxRetryAttempts
}

// MarkRunning transitions the job to RUNNING. StartTime is set only on the
// first transition; re-entering RUNNING never overwrites it.
func (j *Job) MarkRunning(now time.Time) {
	j.Status = JobStatusRunning
	if j.StartTime == nil {
		t := now.UTC()
		j.StartTime = &t
	}
	j.UpdatedAt = now.UTC()
}

// MarkTerminal transitions the job to a terminal status. EndTime is set only
// on the first terminal transition.
func (j *Job) MarkTerminal(status JobStatus, now time.Time) {
	j.Status = status
	if j.EndTime == nil {
		t := now.UTC()
		j.EndTime = &t
	}
	j.UpdatedAt = now.UTC()
}

// ResetForRetry returns the job to PENDING for another attempt: progress,
// timestamps, error and worker link are cleared.
func (j *Job) ResetForRetry(now time.Time) {
	j.Status = JobStatusPending
	j.Progress = 0
	j.StartTime = nil
	j.EndTime = nil
	j.ErrorMessage = nil
	j.WorkerNodeID = nil
	j.UpdatedAt = now.UTC()
}

// IsDeferred reports whether the job's scheduled start lies in the future.
func (j *Job) IsDeferred(now time.Time) bool {
	return j.ScheduledStartTime != nil && j.ScheduledStartTime.UTC().After(now.UTC())
}

type JobLogLevel string

const (
	JobLogInfo    JobLogLevel = "INFO"
	JobLogWarning JobLogLevel = "WARNING"
	JobLogError   JobLogLevel = "ERROR"
)

// JobLog is one execution log entry attached to a job.
type JobLog struct {
	ID        string      `json:"id"`
	JobID     JobID       `json:"job_id"`
	Level     JobLogLevel `json:"level"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"created_at"`
}
