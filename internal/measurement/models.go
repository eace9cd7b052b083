package measurement

import (
	"time"

	"github.com/google/uuid"
)

// State is what the status display shows.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateResult     State = "result"
	StateError      State = "error"
)

// Snapshot is the current display state. BPM is set in StateResult, Error in
// StateError.
type Snapshot struct {
	State     State     `json:"state"`
	BPM       int       `json:"bpm"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record is one successful measurement in the session history.
type Record struct {
	BPM       int       `json:"bpm"`
	Timestamp time.Time `json:"timestamp"`
	Time      string    `json:"time"`
	VideoID   string    `json:"video_id"`
}

// TimeLayout is the clock format shown next to each history entry.
const TimeLayout = "15:04:05"

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job is a queued measurement of a spooled video file.
type Job struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	VideoPath   string    `json:"video_path"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	RemoteID    string    `json:"remote_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func NewID() string {
	return uuid.NewString()
}
