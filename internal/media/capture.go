package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// ErrCaptureUnavailable reports that no capture device could be opened or
// access to it was denied.
var ErrCaptureUnavailable = errors.New("media: capture unavailable")

// Capturer acquires the local audio+video stream.
type Capturer interface {
	Capture(ctx context.Context) (*LocalStream, error)
}

// CapturerFunc adapts a function to Capturer.
type CapturerFunc func(ctx context.Context) (*LocalStream, error)

func (f CapturerFunc) Capture(ctx context.Context) (*LocalStream, error) {
	return f(ctx)
}

// StaticCapturer produces an Opus audio track and a VP8 video track under a
// fresh stream id. Nothing is read from devices; samples are pushed by the
// application through LocalStream.
type StaticCapturer struct {
	NoAudio bool
	NoVideo bool
}

func (c StaticCapturer) Capture(ctx context.Context) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.NoAudio && c.NoVideo {
		return nil, fmt.Errorf("%w: audio and video both disabled", ErrCaptureUnavailable)
	}

	stream := &LocalStream{ID: "meshroom-" + uuid.NewString()}

	if !c.NoAudio {
		audio, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", stream.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio track: %w", err)
		}
		stream.Audio = audio
	}

	if !c.NoVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", stream.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create video track: %w", err)
		}
		stream.Video = video
	}

	return stream, nil
}
