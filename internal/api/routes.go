package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsecam/pulsecam-agent/internal/measurement"
	"github.com/pulsecam/pulsecam-agent/internal/video"
)

// DefaultMaxVideoBytes caps POST /measurements bodies when the server config
// leaves MaxVideoBytes unset.
const DefaultMaxVideoBytes = 200 << 20

// multipartMemory is how much of a multipart upload is kept in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(LoopbackOnly(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/measurements", listMeasurementsHandler(cfg))
		r.Post("/measurements", submitMeasurementHandler(cfg))
		r.Post("/recording", recordingHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		if cfg.Gatherer != nil {
			r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
		}
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := SnapshotToResponse(cfg.Service.Snapshot())
		resp.HistoryCount = cfg.Service.History().Len()

		if cfg.Jobs != nil {
			resp.Paused = cfg.Jobs.IsPaused()
		}
		if pending, err := cfg.Repository.ListPendingJobs(r.Context()); err == nil {
			resp.JobsPending = len(pending)
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listMeasurementsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records := cfg.Service.History().List()

		resp := MeasurementsResponse{Measurements: make([]MeasurementResponse, len(records))}
		for i, rec := range records {
			resp.Measurements[i] = RecordToResponse(rec)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// submitMeasurementHandler accepts a video either as the multipart field
// "video" or as a raw video/* request body, and queues it for measurement.
func submitMeasurementHandler(cfg ServerConfig) http.HandlerFunc {
	maxBytes := cfg.MaxVideoBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxVideoBytes
	}

	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

		data, contentType, err := readVideo(r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge, "video exceeds size limit", "TOO_LARGE")
				return
			}
			if errors.Is(err, video.ErrNotVideo) {
				WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_VIDEO")
				return
			}
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		job, err := cfg.Jobs.Submit(r.Context(), data, contentType)
		switch {
		case errors.Is(err, video.ErrEmpty), errors.Is(err, video.ErrNotVideo):
			WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_VIDEO")
			return
		case err != nil:
			cfg.Logger.Error("failed to queue measurement", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to queue measurement", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusAccepted, SubmitResponse{JobID: job.ID, Size: job.Size})
	}
}

func readVideo(r *http.Request) ([]byte, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		contentType := r.Header.Get("Content-Type")
		if !video.IsVideoContentType(contentType) {
			return nil, "", fmt.Errorf("%w: content type %q", video.ErrNotVideo, contentType)
		}
		data, err := io.ReadAll(r.Body)
		return data, contentType, err
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, "", err
	}
	file, header, err := r.FormFile("video")
	if err != nil {
		return nil, "", errors.New("multipart field \"video\" is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}

	contentType := header.Header.Get("Content-Type")
	if !video.IsVideoContentType(contentType) {
		ct, ok := video.ContentTypeFor(header.Filename)
		if !ok {
			return nil, "", fmt.Errorf("%w: %s", video.ErrNotVideo, header.Filename)
		}
		contentType = ct
	}
	return data, contentType, nil
}

func recordingHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Service.BeginRecording(); err != nil {
			if errors.Is(err, measurement.ErrBusy) {
				WriteError(w, http.StatusConflict, measurement.UserMessage(err), "BUSY")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, SnapshotToResponse(cfg.Service.Snapshot()))
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.Repository.ListJobs(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Repository.GetJob(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}
