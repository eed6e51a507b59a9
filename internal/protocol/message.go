// Package protocol defines the negotiation messages exchanged between peers
// and the signaling hub.
//
// One JSON object per websocket text frame. The hub never interprets the
// sdp/candidate/data payloads; it only routes on type/from/to.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeRegister         Type = "register"
	TypeRegistered       Type = "registered"
	TypePeerList         Type = "peer_list"
	TypeOffer            Type = "offer"
	TypeAnswer           Type = "answer"
	TypeICECandidate     Type = "ice-candidate"
	TypeStreamStatus     Type = "stream-status"
	TypeMediaState       Type = "media-state"
	TypePeerDisconnected Type = "peer-disconnected"
	TypeDisconnect       Type = "disconnect"
	TypeLogout           Type = "logout"
	TypeError            Type = "error"
)

// Relayable reports whether the hub forwards this message type from a named
// sender to a named target. Everything else is hub-terminated or hub-emitted.
func (t Type) Relayable() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeStreamStatus, TypeMediaState, TypeDisconnect:
		return true
	}
	return false
}

// SDP is a JSON-friendly session description. We keep our own type at the
// protocol surface so the hub does not depend on the WebRTC implementation.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Message is the wire envelope. Which fields are required depends on Type;
// Validate enforces that exhaustively.
type Message struct {
	Type Type   `json:"type"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// UserID names the identity being registered, logged out, or evicted.
	UserID string `json:"userId,omitempty"`

	// Peers is the full registry key set, peer_list only.
	Peers []string `json:"peers,omitempty"`

	SDP       *SDP            `json:"sdp,omitempty"`
	Candidate *Candidate      `json:"candidate,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	HasVideo *bool `json:"hasVideo,omitempty"`
	HasAudio *bool `json:"hasAudio,omitempty"`

	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Parse decodes and validates a single wire frame. Unknown fields and
// trailing data are rejected.
func Parse(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m Message) Validate() error {
	switch m.Type {
	case TypeRegister, TypeLogout:
		if m.UserID == "" {
			return fmt.Errorf("%s message missing userId", m.Type)
		}
		if m.From != "" || m.To != "" || m.SDP != nil || m.Candidate != nil || m.Peers != nil {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case TypeRegistered, TypePeerDisconnected:
		if m.UserID == "" {
			return fmt.Errorf("%s message missing userId", m.Type)
		}
		if m.SDP != nil || m.Candidate != nil {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case TypePeerList:
		if m.Peers == nil {
			return fmt.Errorf("peer_list message missing peers")
		}
		if m.From != "" || m.To != "" || m.SDP != nil || m.Candidate != nil {
			return fmt.Errorf("peer_list message has unexpected fields")
		}
	case TypeOffer, TypeAnswer:
		if m.From == "" || m.To == "" {
			return fmt.Errorf("%s message missing from/to", m.Type)
		}
		if m.SDP == nil {
			return fmt.Errorf("%s message missing sdp", m.Type)
		}
		if string(m.Type) != m.SDP.Type {
			return fmt.Errorf("%s message has sdp.type=%q", m.Type, m.SDP.Type)
		}
		if m.Candidate != nil || m.Peers != nil {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case TypeICECandidate:
		if m.From == "" || m.To == "" {
			return fmt.Errorf("ice-candidate message missing from/to")
		}
		if m.Candidate == nil {
			return fmt.Errorf("ice-candidate message missing candidate")
		}
		if m.SDP != nil || m.Peers != nil {
			return fmt.Errorf("ice-candidate message has unexpected fields")
		}
	case TypeStreamStatus, TypeMediaState:
		if m.From == "" || m.To == "" {
			return fmt.Errorf("%s message missing from/to", m.Type)
		}
		if m.SDP != nil || m.Candidate != nil || m.Peers != nil {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case TypeDisconnect:
		if m.From == "" || m.To == "" {
			return fmt.Errorf("disconnect message missing from/to")
		}
		if m.SDP != nil || m.Candidate != nil || m.Peers != nil {
			return fmt.Errorf("disconnect message has unexpected fields")
		}
	case TypeError:
		if m.Message == "" {
			return fmt.Errorf("error message missing message")
		}
		if m.SDP != nil || m.Candidate != nil || m.Peers != nil {
			return fmt.Errorf("error message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
