package presage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollTimeout  = 5 * time.Minute
)

type PollOptions struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultPollInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultPollTimeout
	}
	return o
}

// Poller repeats retrieve requests at a fixed interval until the analysis is
// ready, the service rejects the request, or the timeout elapses.
type Poller struct {
	retriever Retriever
	observer  Observer
	logger    *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPoller(r Retriever, observer Observer, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		retriever: r,
		observer:  observer,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Poller returns a poller that retrieves through this client.
func (c *HTTPClient) Poller() *Poller {
	return NewPoller(c, c.observer, c.logger)
}

// PollForResults polls until the analysis of id is ready.
func (c *HTTPClient) PollForResults(ctx context.Context, id string, opts PollOptions) (Result, error) {
	return c.Poller().Poll(ctx, id, opts)
}

// Poll waits for the analysis of id. Cancelling ctx aborts both an in-flight
// request and the wait between attempts.
func (p *Poller) Poll(ctx context.Context, id string, opts PollOptions) (result Result, err error) {
	opts = opts.withDefaults()
	start := p.now()
	attempts := 0

	defer func() {
		if p.observer != nil {
			p.observer.RecordPoll(p.now().Sub(start), attempts, err)
		}
	}()

	for p.now().Sub(start) < opts.Timeout {
		attempts++
		outcome, err := p.retriever.Retrieve(ctx, id)
		if err != nil {
			return nil, err
		}

		switch outcome.Kind {
		case OutcomeReady:
			p.logger.Info("analysis ready", "video_id", id, "attempts", attempts)
			return ParseResult(outcome.Body)
		case OutcomeUnauthorized:
			return nil, &AuthError{Body: string(outcome.Body)}
		case OutcomePending:
			p.logger.Debug("analysis pending", "video_id", id, "attempt", attempts)
			if err := p.sleep(ctx, opts.Interval); err != nil {
				return nil, err
			}
		default:
			return nil, &RetrieveError{StatusCode: outcome.StatusCode, Body: string(outcome.Body)}
		}
	}

	p.logger.Warn("analysis timed out", "video_id", id, "attempts", attempts, "timeout", opts.Timeout)
	return nil, &TimeoutError{Timeout: opts.Timeout, Attempts: attempts}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ParseResult decodes a ready retrieve-data body. Numbers are kept as
// json.Number.
func ParseResult(body []byte) (Result, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var r Result
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("unmarshal analysis result: %w", err)
	}
	if r == nil {
		r = Result{}
	}
	return r, nil
}
