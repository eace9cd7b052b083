// Package video holds the finished recording handed to the analysis client.
package video

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrEmpty    = errors.New("video is empty")
	ErrNotVideo = errors.New("not a supported video file")
)

// Extensions maps supported container extensions to their content type.
var Extensions = map[string]string{
	".webm": "video/webm",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
}

// Artifact is an immutable in-memory video buffer with its declared encoding.
type Artifact struct {
	data        []byte
	contentType string
}

// New wraps data as an artifact. The caller must not modify data afterwards.
func New(data []byte, contentType string) (*Artifact, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if contentType != "" && !IsVideoContentType(contentType) {
		return nil, fmt.Errorf("%w: content type %q", ErrNotVideo, contentType)
	}
	return &Artifact{data: data, contentType: contentType}, nil
}

// Load reads a video file from disk, deriving the content type from its
// extension.
func Load(path string) (*Artifact, error) {
	contentType, ok := ContentTypeFor(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotVideo, filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read video: %w", err)
	}
	return New(data, contentType)
}

func (a *Artifact) Bytes() []byte {
	return a.data
}

func (a *Artifact) Size() int64 {
	return int64(len(a.data))
}

func (a *Artifact) ContentType() string {
	return a.contentType
}

// ContentTypeFor returns the content type for a video file name.
func ContentTypeFor(filename string) (string, bool) {
	ct, ok := Extensions[strings.ToLower(filepath.Ext(filename))]
	return ct, ok
}

// ExtensionFor returns the file extension for a video content type, falling
// back to ".webm" which is what browser recorders produce.
func ExtensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".webm"
	}
	for ext, ct := range Extensions {
		if ct == mediaType {
			return ext
		}
	}
	return ".webm"
}

// IsVideoContentType reports whether contentType is a video/* media type.
func IsVideoContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "video/")
}
