// Package measurement drives one heart-rate measurement at a time through the
// analysis service and keeps the display state and session history.
package measurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsecam/pulsecam-agent/internal/presage"
)

// DefaultRecordingTimeout is how long the display stays in the recording
// state when no measurement follows.
const DefaultRecordingTimeout = 2 * time.Minute

// ErrBusy is returned when a measurement is requested while one is in flight.
var ErrBusy = errors.New("a measurement is already in progress")

// Analyzer uploads a video and waits for its analysis.
type Analyzer interface {
	Upload(ctx context.Context, v presage.Video) (string, error)
	PollForResults(ctx context.Context, id string, opts presage.PollOptions) (presage.Result, error)
}

// Observer receives one call per finished measurement. A nil Observer is
// allowed.
type Observer interface {
	RecordMeasurement(bpm int, err error)
}

type Service struct {
	analyzer Analyzer
	pollOpts presage.PollOptions
	history  *History
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	recordingTimeout time.Duration

	busy atomic.Bool

	mu           sync.RWMutex
	snapshot     Snapshot
	onChange     func(Snapshot)
	recordingGen uint64
}

type ServiceConfig struct {
	Analyzer    Analyzer
	PollOptions presage.PollOptions
	History     *History
	Observer    Observer
	Logger      *slog.Logger

	// RecordingTimeout resets a recording that no measurement follows back
	// to idle. Zero means DefaultRecordingTimeout, negative disables it.
	RecordingTimeout time.Duration
}

func NewService(cfg ServiceConfig) *Service {
	history := cfg.History
	if history == nil {
		history = NewHistory()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		analyzer: cfg.Analyzer,
		pollOpts: cfg.PollOptions,
		history:  history,
		observer: cfg.Observer,
		logger:   logger,
		now:      time.Now,

		recordingTimeout: cfg.RecordingTimeout,
	}
	if s.recordingTimeout == 0 {
		s.recordingTimeout = DefaultRecordingTimeout
	}
	s.snapshot = Snapshot{State: StateIdle, UpdatedAt: s.now()}
	return s
}

// BeginRecording moves the display to the recording state. It fails with
// ErrBusy while a measurement is processing. The state falls back to idle
// when no measurement starts within the recording timeout.
func (s *Service) BeginRecording() error {
	if s.busy.Load() {
		return ErrBusy
	}

	s.mu.Lock()
	s.recordingGen++
	gen := s.recordingGen
	s.mu.Unlock()

	s.setSnapshot(Snapshot{State: StateRecording})
	if s.recordingTimeout > 0 {
		time.AfterFunc(s.recordingTimeout, func() { s.expireRecording(gen) })
	}
	return nil
}

// expireRecording resets the display to idle if recording gen is still the
// current state.
func (s *Service) expireRecording(gen uint64) {
	s.mu.Lock()
	if s.recordingGen != gen || s.snapshot.State != StateRecording {
		s.mu.Unlock()
		return
	}
	snap := Snapshot{State: StateIdle, UpdatedAt: s.now()}
	s.snapshot = snap
	fn := s.onChange
	s.mu.Unlock()

	s.logger.Info("recording abandoned, display reset", "timeout", s.recordingTimeout)
	if fn != nil {
		fn(snap)
	}
}

// Measure uploads v, waits for the analysis and appends the heart rate to the
// history. When the failure happens after the upload, the returned Record
// still carries the remote VideoID.
func (s *Service) Measure(ctx context.Context, v presage.Video) (Record, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return Record{}, ErrBusy
	}
	defer s.busy.Store(false)

	s.setSnapshot(Snapshot{State: StateProcessing})
	start := s.now()

	videoID, err := s.analyzer.Upload(ctx, v)
	if err != nil {
		return Record{}, s.fail(fmt.Errorf("upload video: %w", err), "")
	}
	s.logger.Info("video uploaded, waiting for analysis", "video_id", videoID)

	result, err := s.analyzer.PollForResults(ctx, videoID, s.pollOpts)
	if err != nil {
		return Record{VideoID: videoID}, s.fail(fmt.Errorf("poll results: %w", err), videoID)
	}

	bpm := result.BPM()
	now := s.now()
	rec := Record{
		BPM:       bpm,
		Timestamp: now,
		Time:      now.Format(TimeLayout),
		VideoID:   videoID,
	}
	s.history.Prepend(rec)
	s.setSnapshot(Snapshot{State: StateResult, BPM: bpm})

	if s.observer != nil {
		s.observer.RecordMeasurement(bpm, nil)
	}
	s.logger.Info("measurement completed", "video_id", videoID, "bpm", bpm, "duration", now.Sub(start))
	return rec, nil
}

func (s *Service) fail(err error, videoID string) error {
	s.setSnapshot(Snapshot{State: StateError, Error: UserMessage(err)})
	if s.observer != nil {
		s.observer.RecordMeasurement(0, err)
	}
	s.logger.Error("measurement failed", "video_id", videoID, "kind", presage.Kind(err), "error", err)
	return err
}

// Snapshot returns the current display state.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// OnChange registers fn to be called after every display state change.
func (s *Service) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Service) setSnapshot(snap Snapshot) {
	snap.UpdatedAt = s.now()
	s.mu.Lock()
	s.snapshot = snap
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

func (s *Service) History() *History {
	return s.history
}

// Busy reports whether a measurement is in flight.
func (s *Service) Busy() bool {
	return s.busy.Load()
}

// UserMessage turns a measurement error into the text shown to the user.
func UserMessage(err error) string {
	var (
		authErr    *presage.AuthError
		timeoutErr *presage.TimeoutError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &authErr):
		return "Unauthorized: check your API key"
	case errors.As(err, &timeoutErr):
		return fmt.Sprintf("Processing timed out (%s)", timeoutErr.Timeout)
	case errors.Is(err, context.Canceled):
		return "Measurement cancelled"
	case errors.Is(err, ErrBusy):
		return "A measurement is already in progress"
	default:
		return err.Error()
	}
}
