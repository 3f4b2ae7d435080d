// Package signaling implements the relay channel participants use to
// announce themselves in a room and to exchange SDP/ICE with each other.
package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/meshroom/internal/room"
)

// ErrInvalidMessage is wrapped by every Parse failure.
var ErrInvalidMessage = errors.New("signaling: invalid message")

// Action identifies the kind of signaling message.
type Action string

const (
	ActionJoin      Action = "join"
	ActionJoined    Action = "joined"
	ActionNewPeer   Action = "new-peer"
	ActionOffer     Action = "offer"
	ActionAnswer    Action = "answer"
	ActionCandidate Action = "candidate"
)

func (a Action) valid() bool {
	switch a {
	case ActionJoin, ActionJoined, ActionNewPeer, ActionOffer, ActionAnswer, ActionCandidate:
		return true
	}
	return false
}

// Message is the JSON object carried in one WebSocket text frame.
type Message struct {
	Action       Action               `json:"action"`
	RoomID       room.ID              `json:"roomId"`
	UserID       room.ParticipantID   `json:"userID"`
	SenderUserID *room.ParticipantID  `json:"senderUserID,omitempty"`
	TargetUserID *room.ParticipantID  `json:"targetUserID,omitempty"`
	Data         json.RawMessage      `json:"data,omitempty"`
	Clients      []room.ParticipantID `json:"clients,omitempty"`
}

// Sender returns the participant a message originates from. Relays that
// forward frames verbatim leave senderUserID unset, so userID is used then.
func (m Message) Sender() room.ParticipantID {
	if m.SenderUserID != nil {
		return *m.SenderUserID
	}
	return m.UserID
}

// Target returns the addressed participant, if any.
func (m Message) Target() (room.ParticipantID, bool) {
	if m.TargetUserID == nil {
		return 0, false
	}
	return *m.TargetUserID, true
}

// FromSelf reports whether the frame explicitly claims self as its sender.
func (m Message) FromSelf(self room.ParticipantID) bool {
	return m.SenderUserID != nil && *m.SenderUserID == self
}

// SessionDescription decodes data as an offer or answer.
func (m Message) SessionDescription() (webrtc.SessionDescription, error) {
	var d sessionDescription
	if err := json.Unmarshal(m.Data, &d); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s data: %v", ErrInvalidMessage, m.Action, err)
	}
	return d.toPion()
}

// Candidate decodes data as an ICE candidate.
func (m Message) Candidate() (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(m.Data, &c); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: candidate data: %v", ErrInvalidMessage, err)
	}
	return c, nil
}

// sessionDescription is the browser RTCSessionDescriptionInit shape.
type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (d sessionDescription) toPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch d.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: unsupported sdp type %q", ErrInvalidMessage, d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

// NewOffer builds an offer addressed to target.
func NewOffer(target room.ParticipantID, desc webrtc.SessionDescription) Message {
	return newDescriptionMessage(ActionOffer, target, desc)
}

// NewAnswer builds an answer addressed to target.
func NewAnswer(target room.ParticipantID, desc webrtc.SessionDescription) Message {
	return newDescriptionMessage(ActionAnswer, target, desc)
}

func newDescriptionMessage(action Action, target room.ParticipantID, desc webrtc.SessionDescription) Message {
	data, _ := json.Marshal(sessionDescription{Type: desc.Type.String(), SDP: desc.SDP})
	return Message{Action: action, TargetUserID: &target, Data: data}
}

// NewCandidate builds a candidate message addressed to target.
func NewCandidate(target room.ParticipantID, init webrtc.ICECandidateInit) Message {
	data, _ := json.Marshal(init)
	return Message{Action: ActionCandidate, TargetUserID: &target, Data: data}
}

// Parse decodes a single frame and validates it against the schema of its
// action. Unknown fields are tolerated; trailing data is not.
func Parse(raw []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("%w: unexpected trailing data", ErrInvalidMessage)
	}
	if err := msg.validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m Message) validate() error {
	if !m.Action.valid() {
		return fmt.Errorf("%w: unsupported action %q", ErrInvalidMessage, m.Action)
	}

	switch m.Action {
	case ActionOffer, ActionAnswer:
		if len(m.Data) == 0 {
			return fmt.Errorf("%w: %s message missing data", ErrInvalidMessage, m.Action)
		}
		desc, err := m.SessionDescription()
		if err != nil {
			return err
		}
		if desc.Type.String() != string(m.Action) {
			return fmt.Errorf("%w: %s message has sdp type %q", ErrInvalidMessage, m.Action, desc.Type)
		}
		if desc.SDP == "" {
			return fmt.Errorf("%w: %s message missing sdp", ErrInvalidMessage, m.Action)
		}
	case ActionCandidate:
		if len(m.Data) == 0 {
			return fmt.Errorf("%w: candidate message missing data", ErrInvalidMessage)
		}
		c, err := m.Candidate()
		if err != nil {
			return err
		}
		if c.Candidate == "" {
			return fmt.Errorf("%w: candidate message has empty candidate", ErrInvalidMessage)
		}
	}
	return nil
}
