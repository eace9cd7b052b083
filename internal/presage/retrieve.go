package presage

import (
	"context"
	"fmt"
	"net/http"
)

// OutcomeKind is the analysis state signalled by the retrieve-data status code.
type OutcomeKind int

const (
	OutcomeReady OutcomeKind = iota
	OutcomePending
	OutcomeUnauthorized
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeReady:
		return "ready"
	case OutcomePending:
		return "pending"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// RetrieveOutcome is one retrieve-data response. Body is the ready payload
// for OutcomeReady and the error body for OutcomeUnauthorized and
// OutcomeFailed.
type RetrieveOutcome struct {
	Kind       OutcomeKind
	StatusCode int
	Body       []byte
}

// Retriever asks the service once for the analysis of a video.
type Retriever interface {
	Retrieve(ctx context.Context, id string) (RetrieveOutcome, error)
}

type retrieveRequest struct {
	ID      string `json:"id"`
	Reshape bool   `json:"reshape"`
}

// Retrieve issues a single retrieve-data request. A returned error means the
// request itself failed; service-side states are reported in the outcome.
func (c *HTTPClient) Retrieve(ctx context.Context, id string) (RetrieveOutcome, error) {
	status, body, err := c.postJSON(ctx, "/retrieve-data", retrieveRequest{ID: id, Reshape: false})
	if err != nil {
		return RetrieveOutcome{}, fmt.Errorf("retrieve data: %w", err)
	}

	outcome := classify(status, body)
	if c.observer != nil {
		c.observer.RecordRetrieve(outcome.Kind)
	}
	return outcome, nil
}

func classify(status int, body []byte) RetrieveOutcome {
	o := RetrieveOutcome{StatusCode: status, Body: body}
	switch status {
	case http.StatusOK:
		o.Kind = OutcomeReady
	case http.StatusCreated:
		o.Kind = OutcomePending
		o.Body = nil
	case http.StatusUnauthorized:
		o.Kind = OutcomeUnauthorized
	default:
		o.Kind = OutcomeFailed
	}
	return o
}
