package media

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/meshroom/internal/util"
)

// Source is the media source manager: it acquires the local stream lazily
// and is the only component that creates or releases it.
type Source struct {
	capturer Capturer

	mu     sync.Mutex // held across Capture, so one acquisition at a time
	stream *LocalStream
}

// NewSource returns a source backed by capturer. A nil capturer yields a
// source whose acquisitions always fail with ErrCaptureUnavailable.
func NewSource(capturer Capturer) *Source {
	return &Source{capturer: capturer}
}

// EnsureLocalStream returns the local stream, acquiring it on first use.
// A failed acquisition is logged and leaves the stream unset, so the next
// call tries again.
func (s *Source) EnsureLocalStream(ctx context.Context) (*LocalStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return s.stream, nil
	}
	if s.capturer == nil {
		util.LogWarning("No capture device configured, continuing without local media")
		return nil, ErrCaptureUnavailable
	}

	stream, err := s.capturer.Capture(ctx)
	if err == nil && stream == nil {
		err = errors.New("capturer returned no stream")
	}
	if err != nil {
		util.LogError("Failed to acquire local media: %v", err)
		return nil, err
	}

	s.stream = stream
	util.LogSuccess("Local stream %s acquired (%d tracks)", stream.ID, len(stream.Tracks()))
	return stream, nil
}

// Stream returns the acquired stream or nil.
func (s *Source) Stream() *LocalStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Release drops the local stream. Links that already carry its tracks keep
// them until they close.
func (s *Source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		util.LogDebug("Local stream %s released", s.stream.ID)
	}
	s.stream = nil
}
