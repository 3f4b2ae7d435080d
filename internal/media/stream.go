// Package media owns the local capture stream shared by every peer link and
// the types describing media received from remote participants.
package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// LocalStream is the participant's own audio+video, published to every
// peer link. The embedding application writes samples to its tracks.
type LocalStream struct {
	ID    string
	Audio *webrtc.TrackLocalStaticSample
	Video *webrtc.TrackLocalStaticSample
}

// Tracks returns the tracks that are present, audio first.
func (s *LocalStream) Tracks() []webrtc.TrackLocal {
	if s == nil {
		return nil
	}
	var out []webrtc.TrackLocal
	if s.Audio != nil {
		out = append(out, s.Audio)
	}
	if s.Video != nil {
		out = append(out, s.Video)
	}
	return out
}

// RemoteTrack describes one track delivered by a remote participant.
type RemoteTrack struct {
	Kind     webrtc.RTPCodecType
	ID       string
	StreamID string
	Track    *webrtc.TrackRemote // nil for tracks not backed by pion (tests)
}

// RemoteStream groups the tracks of one remote participant.
type RemoteStream struct {
	id string

	mu     sync.RWMutex
	tracks []RemoteTrack
}

func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id}
}

func (s *RemoteStream) ID() string {
	return s.id
}

// Add records t unless a track with the same id is already present. It
// reports whether the stream changed.
func (s *RemoteStream) Add(t RemoteTrack) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.tracks {
		if have.ID == t.ID {
			return false
		}
	}
	s.tracks = append(s.tracks, t)
	return true
}

// Tracks returns a copy of the tracks received so far.
func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RemoteTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// Kinds returns a short label such as "audio+video" for display.
func (s *RemoteStream) Kinds() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var audio, video bool
	for _, t := range s.tracks {
		switch t.Kind {
		case webrtc.RTPCodecTypeAudio:
			audio = true
		case webrtc.RTPCodecTypeVideo:
			video = true
		}
	}
	switch {
	case audio && video:
		return "audio+video"
	case audio:
		return "audio"
	case video:
		return "video"
	}
	return "-"
}
