package presage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
)

// UploadSession is the server-side state of one upload attempt.
type UploadSession struct {
	ID       string   `json:"id"`
	UploadID string   `json:"upload_id"`
	URLs     []string `json:"urls"`
}

// Part identifies one transferred chunk in the complete request.
type Part struct {
	ETag       string `json:"ETag"`
	PartNumber int    `json:"PartNumber"`
}

type uploadURLRequest struct {
	FileSize int64          `json:"file_size"`
	HRBR     processOptions `json:"hr_br"`
}

type processOptions struct {
	ToProcess bool `json:"to_process"`
}

type completeRequest struct {
	ID       string `json:"id"`
	UploadID string `json:"upload_id"`
	Parts    []Part `json:"parts"`
}

// Upload stores video remotely and returns the id used to retrieve results.
// There are no internal retries: each call creates a new remote object.
func (c *HTTPClient) Upload(ctx context.Context, v Video) (id string, err error) {
	data := v.Bytes()
	if len(data) == 0 {
		return "", ErrEmptyVideo
	}

	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.RecordUpload(time.Since(start), int64(len(data)), err)
		}
	}()

	session, err := c.requestSlots(ctx, int64(len(data)))
	if err != nil {
		return "", err
	}

	if want := ChunkCount(int64(len(data)), c.chunkSize); len(session.URLs) != want {
		return "", &SlotCountError{Want: want, Got: len(session.URLs)}
	}

	c.logger.Info("uploading video",
		"video_id", session.ID,
		"size", humanize.IBytes(uint64(len(data))),
		"parts", len(session.URLs),
	)

	parts, err := c.uploadChunks(ctx, session, data, v.ContentType())
	if err != nil {
		return "", err
	}

	if err := c.complete(ctx, session, parts); err != nil {
		return "", err
	}

	c.logger.Info("video upload completed", "video_id", session.ID, "duration", time.Since(start))
	return session.ID, nil
}

func (c *HTTPClient) requestSlots(ctx context.Context, size int64) (*UploadSession, error) {
	status, body, err := c.postJSON(ctx, "/v1/upload-url", uploadURLRequest{
		FileSize: size,
		HRBR:     processOptions{ToProcess: true},
	})
	if err != nil {
		return nil, fmt.Errorf("request upload slots: %w", err)
	}
	if !isSuccess(status) {
		return nil, &SlotRequestError{StatusCode: status, Body: string(body)}
	}

	var session UploadSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("unmarshal upload url response: %w", err)
	}
	return &session, nil
}

func (c *HTTPClient) uploadChunks(ctx context.Context, session *UploadSession, data []byte, contentType string) ([]Part, error) {
	chunks := SplitChunks(data, c.chunkSize)
	parts := make([]Part, 0, len(chunks))

	for i, chunk := range chunks {
		partNumber := i + 1
		etag, err := c.putChunk(ctx, session.URLs[i], chunk, contentType, partNumber)
		if c.observer != nil {
			c.observer.RecordChunk(partNumber, len(chunk), err)
		}
		if err != nil {
			return nil, err
		}

		c.logger.Debug("chunk uploaded", "video_id", session.ID, "part_number", partNumber, "bytes", len(chunk))
		parts = append(parts, Part{ETag: etag, PartNumber: partNumber})
	}
	return parts, nil
}

// putChunk transfers one chunk to a pre-signed slot URL. The slot URL is
// external to the API so it does not get the API key.
func (c *HTTPClient) putChunk(ctx context.Context, url string, chunk []byte, contentType string, partNumber int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(chunk))
	if err != nil {
		return "", fmt.Errorf("create chunk request (part %d): %w", partNumber, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chunk upload (part %d): %w", partNumber, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if !isSuccess(resp.StatusCode) {
		return "", &ChunkUploadError{PartNumber: partNumber, StatusCode: resp.StatusCode}
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", &ChunkUploadError{PartNumber: partNumber, StatusCode: resp.StatusCode, Reason: "missing ETag header"}
	}
	return etag, nil
}

func (c *HTTPClient) complete(ctx context.Context, session *UploadSession, parts []Part) error {
	status, body, err := c.postJSON(ctx, "/v1/complete", completeRequest{
		ID:       session.ID,
		UploadID: session.UploadID,
		Parts:    parts,
	})
	if err != nil {
		return fmt.Errorf("complete upload: %w", err)
	}
	if !isSuccess(status) {
		return &FinalizeError{StatusCode: status, Body: string(body)}
	}
	return nil
}

// ChunkCount returns how many chunks of at most chunkSize bytes size splits into.
func ChunkCount(size int64, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	cs := int64(chunkSize)
	return int((size + cs - 1) / cs)
}

// SplitChunks slices data into consecutive chunks of at most chunkSize bytes.
// The chunks share data's backing array.
func SplitChunks(data []byte, chunkSize int) [][]byte {
	n := ChunkCount(int64(len(data)), chunkSize)
	chunks := make([][]byte, 0, n)
	for offset := 0; offset < len(data); offset += chunkSize {
		end := min(offset+chunkSize, len(data))
		chunks = append(chunks, data[offset:end])
	}
	return chunks
}
