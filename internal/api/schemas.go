package api

import (
	"time"

	"github.com/pulsecam/pulsecam-agent/internal/measurement"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State        string `json:"state"`
	BPM          int    `json:"bpm,omitempty"`
	Error        string `json:"error,omitempty"`
	UpdatedAt    string `json:"updated_at"`
	HistoryCount int    `json:"history_count"`
	JobsPending  int    `json:"jobs_pending"`
	Paused       bool   `json:"paused"`
}

type MeasurementResponse struct {
	BPM       int    `json:"bpm"`
	Timestamp string `json:"timestamp"`
	Time      string `json:"time"`
	VideoID   string `json:"video_id"`
}

type MeasurementsResponse struct {
	Measurements []MeasurementResponse `json:"measurements"`
}

type SubmitResponse struct {
	JobID string `json:"job_id"`
	Size  int64  `json:"size"`
}

type JobResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	RemoteID    string `json:"remote_id,omitempty"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func SnapshotToResponse(s measurement.Snapshot) StatusResponse {
	return StatusResponse{
		State:     string(s.State),
		BPM:       s.BPM,
		Error:     s.Error,
		UpdatedAt: s.UpdatedAt.Format(time.RFC3339),
	}
}

func RecordToResponse(r measurement.Record) MeasurementResponse {
	return MeasurementResponse{
		BPM:       r.BPM,
		Timestamp: r.Timestamp.Format(time.RFC3339),
		Time:      r.Time,
		VideoID:   r.VideoID,
	}
}

// JobToResponse leaves out the spool path, which is local to the agent.
func JobToResponse(j *measurement.Job) JobResponse {
	return JobResponse{
		ID:          j.ID,
		Status:      j.Status,
		ContentType: j.ContentType,
		Size:        j.Size,
		RemoteID:    j.RemoteID,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.Format(time.RFC3339),
	}
}
