package measurement

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecam/pulsecam-agent/internal/db"
	"github.com/pulsecam/pulsecam-agent/internal/presage"
	"github.com/pulsecam/pulsecam-agent/internal/video"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return NewRepository(database.Conn())
}

func setupRunnerTest(t *testing.T, analyzer *fakeAnalyzer) (*Runner, *SQLiteRepository, *Service) {
	t.Helper()

	repo := setupRepo(t)
	svc := newTestService(analyzer, nil)
	runner := NewRunner(svc, repo, filepath.Join(t.TempDir(), "spool"), testLogger())
	return runner, repo, svc
}

func TestRunner_SubmitSpoolsVideo(t *testing.T) {
	runner, repo, _ := setupRunnerTest(t, &fakeAnalyzer{})
	ctx := context.Background()

	job, err := runner.Submit(ctx, []byte("mp4-bytes"), "video/mp4")
	require.NoError(t, err)

	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, int64(9), job.Size)
	assert.Equal(t, ".mp4", filepath.Ext(job.VideoPath))

	data, err := os.ReadFile(job.VideoPath)
	require.NoError(t, err)
	assert.Equal(t, "mp4-bytes", string(data))

	stored, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, job.VideoPath, stored.VideoPath)
	assert.Equal(t, "video/mp4", stored.ContentType)
}

func TestRunner_SubmitRejectsInvalidVideo(t *testing.T) {
	runner, repo, _ := setupRunnerTest(t, &fakeAnalyzer{})
	ctx := context.Background()

	_, err := runner.Submit(ctx, nil, "video/webm")
	assert.ErrorIs(t, err, video.ErrEmpty)

	_, err = runner.Submit(ctx, []byte("hello"), "text/plain")
	assert.ErrorIs(t, err, video.ErrNotVideo)

	jobs, err := repo.ListJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRunner_ProcessCompletesJob(t *testing.T) {
	analyzer := &fakeAnalyzer{videoID: "remote-1", result: presage.Result{"heart_rate": 64.4}}
	runner, repo, svc := setupRunnerTest(t, analyzer)
	ctx := context.Background()

	job, err := runner.Submit(ctx, []byte("webm-bytes"), "video/webm")
	require.NoError(t, err)

	require.True(t, runner.processNextJob(ctx))

	stored, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, stored.Status)
	assert.Equal(t, "remote-1", stored.RemoteID)
	assert.Empty(t, stored.Error)

	_, err = os.Stat(job.VideoPath)
	assert.True(t, os.IsNotExist(err), "spooled video should be removed")

	history := svc.History().List()
	require.Len(t, history, 1)
	assert.Equal(t, 64, history[0].BPM)
	assert.Equal(t, [][]byte{[]byte("webm-bytes")}, analyzer.uploads)

	assert.False(t, runner.processNextJob(ctx))
}

func TestRunner_ProcessFailedJob(t *testing.T) {
	analyzer := &fakeAnalyzer{videoID: "remote-2", pollErr: &presage.AuthError{Body: "nope"}}
	runner, repo, svc := setupRunnerTest(t, analyzer)
	ctx := context.Background()

	job, err := runner.Submit(ctx, []byte("webm-bytes"), "video/webm")
	require.NoError(t, err)
	require.True(t, runner.processNextJob(ctx))

	stored, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Equal(t, "remote-2", stored.RemoteID)
	assert.Equal(t, "Unauthorized: check your API key", stored.Error)

	_, err = os.Stat(job.VideoPath)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, StateError, svc.Snapshot().State)
}

func TestRunner_MissingSpoolFileFailsJob(t *testing.T) {
	analyzer := &fakeAnalyzer{videoID: "remote-3"}
	runner, repo, _ := setupRunnerTest(t, analyzer)
	ctx := context.Background()

	job, err := runner.Submit(ctx, []byte("webm-bytes"), "video/webm")
	require.NoError(t, err)
	require.NoError(t, os.Remove(job.VideoPath))

	require.True(t, runner.processNextJob(ctx))

	stored, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "read spooled video")
	assert.Equal(t, 0, analyzer.uploadCount())
}

func TestRunner_ProcessesOldestFirst(t *testing.T) {
	analyzer := &fakeAnalyzer{videoID: "remote", result: presage.Result{"hr": 70.0}}
	runner, repo, _ := setupRunnerTest(t, analyzer)
	ctx := context.Background()

	first, err := runner.Submit(ctx, []byte("first"), "video/webm")
	require.NoError(t, err)
	second, err := runner.Submit(ctx, []byte("second"), "video/webm")
	require.NoError(t, err)

	require.True(t, runner.processNextJob(ctx))

	got, err := repo.GetJob(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)

	got, err = repo.GetJob(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, got.Status)

	require.Len(t, analyzer.uploads, 1)
	assert.Equal(t, "first", string(analyzer.uploads[0]))
}

// holdMeasurement starts a measurement that blocks in Upload until the
// returned release func is called.
func holdMeasurement(t *testing.T, svc *Service, analyzer *fakeAnalyzer) (release func()) {
	t.Helper()

	artifact := testArtifact(t)
	done := make(chan error, 1)
	go func() {
		_, err := svc.Measure(context.Background(), artifact)
		done <- err
	}()
	<-analyzer.started

	return func() {
		close(analyzer.release)
		require.NoError(t, <-done)
	}
}

func TestRunner_BusyServiceRequeuesJob(t *testing.T) {
	analyzer := &fakeAnalyzer{
		videoID: "remote-1",
		result:  presage.Result{"heart_rate": 70.0},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	runner, repo, svc := setupRunnerTest(t, analyzer)
	ctx := context.Background()

	job, err := runner.Submit(ctx, []byte("webm-bytes"), "video/webm")
	require.NoError(t, err)

	release := holdMeasurement(t, svc, analyzer)
	assert.True(t, runner.processNextJob(ctx))
	release()

	stored, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)
	_, err = os.Stat(job.VideoPath)
	assert.NoError(t, err)
}

type requeueFailingRepo struct {
	Repository
}

func (r requeueFailingRepo) UpdateJobStatus(ctx context.Context, id, status, errMsg string) error {
	if status == JobStatusPending {
		return errors.New("disk full")
	}
	return r.Repository.UpdateJobStatus(ctx, id, status, errMsg)
}

func TestRunner_RequeueFailureIsLogged(t *testing.T) {
	analyzer := &fakeAnalyzer{
		videoID: "remote-1",
		result:  presage.Result{"heart_rate": 70.0},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	repo := setupRepo(t)
	svc := newTestService(analyzer, nil)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	runner := NewRunner(svc, requeueFailingRepo{repo}, filepath.Join(t.TempDir(), "spool"), logger)
	ctx := context.Background()

	_, err := runner.Submit(ctx, []byte("webm-bytes"), "video/webm")
	require.NoError(t, err)

	release := holdMeasurement(t, svc, analyzer)
	assert.True(t, runner.processNextJob(ctx))
	release()

	assert.Contains(t, logs.String(), "failed to requeue job")
	assert.Contains(t, logs.String(), "disk full")
	assert.NotContains(t, logs.String(), "job stays queued")
}

func TestRunner_PauseResume(t *testing.T) {
	runner, _, _ := setupRunnerTest(t, &fakeAnalyzer{})

	assert.False(t, runner.IsPaused())
	runner.Pause()
	assert.True(t, runner.IsPaused())
	runner.Resume()
	assert.False(t, runner.IsPaused())
}

func TestRunner_StartProcessesSubmittedJob(t *testing.T) {
	analyzer := &fakeAnalyzer{videoID: "remote-4", result: presage.Result{"heart_rate": 58.0}}
	runner, repo, _ := setupRunnerTest(t, analyzer)
	runner.pollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(done)
	}()

	job, err := runner.Submit(ctx, []byte("webm-bytes"), "video/webm")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got, err := repo.GetJob(context.Background(), job.ID)
		return err == nil && got != nil && got.Status == JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.False(t, runner.IsRunning())
}

func TestRepository_GetJobMissing(t *testing.T) {
	repo := setupRepo(t)

	job, err := repo.GetJob(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRepository_ListJobsNewestFirst(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		created := base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.CreateJob(ctx, &Job{
			ID: id, Status: JobStatusPending, VideoPath: "/spool/" + id + ".webm",
			CreatedAt: created, UpdatedAt: created,
		}))
	}

	jobs, err := repo.ListJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "c", jobs[0].ID)
	assert.Equal(t, "b", jobs[1].ID)
	assert.True(t, jobs[0].CreatedAt.Equal(base.Add(2*time.Second)))

	pending, err := repo.ListPendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "a", pending[0].ID)
}

func TestRepository_Config(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	value, err := repo.GetConfig(ctx, "auth_token")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, repo.SetConfig(ctx, "auth_token", "one"))
	require.NoError(t, repo.SetConfig(ctx, "auth_token", "two"))

	value, err = repo.GetConfig(ctx, "auth_token")
	require.NoError(t, err)
	assert.Equal(t, "two", value)
}
