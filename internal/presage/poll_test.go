package presage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// scriptedRetriever replays outcomes in order and repeats the last one.
type scriptedRetriever struct {
	outcomes []RetrieveOutcome
	err      error
	calls    int
	ids      []string
}

func (r *scriptedRetriever) Retrieve(_ context.Context, id string) (RetrieveOutcome, error) {
	r.calls++
	r.ids = append(r.ids, id)
	if r.err != nil {
		return RetrieveOutcome{}, r.err
	}
	i := min(r.calls-1, len(r.outcomes)-1)
	return r.outcomes[i], nil
}

func pending() RetrieveOutcome {
	return RetrieveOutcome{Kind: OutcomePending, StatusCode: http.StatusCreated}
}

func ready(body string) RetrieveOutcome {
	return RetrieveOutcome{Kind: OutcomeReady, StatusCode: http.StatusOK, Body: []byte(body)}
}

func newTestPoller(r Retriever, obs Observer) (*Poller, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	p := NewPoller(r, obs, testLogger())
	p.now = clock.Now
	p.sleep = clock.Sleep
	return p, clock
}

func TestPoll_PendingThenReady(t *testing.T) {
	r := &scriptedRetriever{outcomes: []RetrieveOutcome{pending(), pending(), pending(), ready(`{"heart_rate": 68.2}`)}}
	p, clock := newTestPoller(r, nil)

	result, err := p.Poll(context.Background(), "vid-1", PollOptions{Interval: 2 * time.Second, Timeout: time.Minute})
	require.NoError(t, err)

	assert.Equal(t, 68, result.BPM())
	assert.Equal(t, 4, r.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, clock.sleeps)
	assert.Equal(t, []string{"vid-1", "vid-1", "vid-1", "vid-1"}, r.ids)
}

func TestPoll_UnauthorizedStopsImmediately(t *testing.T) {
	r := &scriptedRetriever{outcomes: []RetrieveOutcome{
		{Kind: OutcomeUnauthorized, StatusCode: http.StatusUnauthorized, Body: []byte("bad key")},
		ready(`{"heart_rate": 70}`),
	}}
	p, clock := newTestPoller(r, nil)

	_, err := p.Poll(context.Background(), "vid-1", PollOptions{})

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr), "got %v", err)
	assert.Equal(t, "bad key", authErr.Body)
	assert.Equal(t, 1, r.calls)
	assert.Empty(t, clock.sleeps)
}

func TestPoll_UnauthorizedAfterPending(t *testing.T) {
	r := &scriptedRetriever{outcomes: []RetrieveOutcome{
		pending(),
		{Kind: OutcomeUnauthorized, StatusCode: http.StatusUnauthorized},
		ready(`{"heart_rate": 70}`),
	}}
	p, _ := newTestPoller(r, nil)

	_, err := p.Poll(context.Background(), "vid-1", PollOptions{Interval: time.Second, Timeout: time.Hour})

	var authErr *AuthError
	assert.True(t, errors.As(err, &authErr))
	assert.Equal(t, 2, r.calls)
}

func TestPoll_OtherStatusIsTerminal(t *testing.T) {
	r := &scriptedRetriever{outcomes: []RetrieveOutcome{
		{Kind: OutcomeFailed, StatusCode: http.StatusInternalServerError, Body: []byte("boom")},
		ready(`{}`),
	}}
	p, _ := newTestPoller(r, nil)

	_, err := p.Poll(context.Background(), "vid-1", PollOptions{})

	var retrieveErr *RetrieveError
	require.True(t, errors.As(err, &retrieveErr), "got %v", err)
	assert.Equal(t, http.StatusInternalServerError, retrieveErr.StatusCode)
	assert.Equal(t, "boom", retrieveErr.Body)
	assert.Equal(t, 1, r.calls)
}

func TestPoll_TimeoutAfterThreeAttempts(t *testing.T) {
	r := &scriptedRetriever{outcomes: []RetrieveOutcome{pending()}}
	obs := &recordingObserver{}
	p, clock := newTestPoller(r, obs)

	_, err := p.Poll(context.Background(), "vid-1", PollOptions{Interval: 2000 * time.Millisecond, Timeout: 6000 * time.Millisecond})

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr), "got %v", err)
	assert.Equal(t, 3, timeoutErr.Attempts)
	assert.Equal(t, 6*time.Second, timeoutErr.Timeout)
	assert.Equal(t, 3, r.calls)
	assert.Len(t, clock.sleeps, 3)

	assert.Equal(t, 1, obs.polls)
	assert.Equal(t, 3, obs.pollTries)
	assert.Equal(t, err, obs.pollErr)
}

func TestPoll_Defaults(t *testing.T) {
	r := &scriptedRetriever{outcomes: []RetrieveOutcome{pending()}}
	p, clock := newTestPoller(r, nil)

	_, err := p.Poll(context.Background(), "vid-1", PollOptions{})

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, DefaultPollTimeout, timeoutErr.Timeout)
	assert.Equal(t, 150, r.calls)
	assert.Equal(t, DefaultPollInterval, clock.sleeps[0])
}

func TestPoll_TransportErrorIsReturned(t *testing.T) {
	boom := errors.New("connection refused")
	r := &scriptedRetriever{err: boom}
	p, _ := newTestPoller(r, nil)

	_, err := p.Poll(context.Background(), "vid-1", PollOptions{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, r.calls)
}

func TestPoll_ContextCancelledDuringWait(t *testing.T) {
	r := &scriptedRetriever{outcomes: []RetrieveOutcome{pending()}}
	p := NewPoller(r, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := p.Poll(ctx, "vid-1", PollOptions{Interval: time.Hour, Timeout: 2 * time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 1, r.calls)
}

func TestPoll_InvalidReadyBody(t *testing.T) {
	r := &scriptedRetriever{outcomes: []RetrieveOutcome{ready(`not json`)}}
	p, _ := newTestPoller(r, nil)

	_, err := p.Poll(context.Background(), "vid-1", PollOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal analysis result")
}

func TestHTTPClient_PollForResults(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/retrieve-data", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))

		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, map[string]any{"id": "vid-9", "reshape": false}, req)

		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"heart_rate": 68.2}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "test-key", testLogger())
	result, err := client.PollForResults(context.Background(), "vid-9", PollOptions{Interval: time.Millisecond, Timeout: 10 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, 68, result.BPM())
	assert.Equal(t, int32(4), calls.Load())
}

func TestHTTPClient_PollUnauthorizedSingleRequest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "wrong-key", testLogger())
	_, err := client.PollForResults(context.Background(), "vid-9", PollOptions{Interval: time.Millisecond, Timeout: time.Second})

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr), "got %v", err)
	assert.False(t, authErr.IsRetryable())
	assert.Equal(t, int32(1), calls.Load())
}
