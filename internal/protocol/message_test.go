package protocol

import (
	"testing"
)

func TestParse_Offer(t *testing.T) {
	msg := Message{
		Type: TypeOffer,
		From: "alice",
		To:   "bob",
		SDP:  &SDP{Type: "offer", SDP: "v=0"},
	}

	b, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := Parse(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != TypeOffer || got.From != "alice" || got.To != "bob" {
		t.Fatalf("unexpected decoded offer: %#v", got)
	}
	if got.SDP == nil || got.SDP.Type != "offer" || got.SDP.SDP != "v=0" {
		t.Fatalf("unexpected sdp: %#v", got.SDP)
	}
}

func TestParse_Candidate(t *testing.T) {
	raw := []byte(`{
		"type":"ice-candidate",
		"from":"alice",
		"to":"bob",
		"candidate":{
			"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host",
			"sdpMid":"0",
			"sdpMLineIndex":0
		}
	}`)

	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != TypeICECandidate || got.Candidate == nil || got.Candidate.Candidate == "" {
		t.Fatalf("unexpected decoded candidate: %#v", got)
	}
}

func TestParse_RejectsOfferWithMismatchedSDPType(t *testing.T) {
	raw := []byte(`{ "type":"offer", "from":"a", "to":"b", "sdp":{"type":"answer","sdp":"v=0"} }`)
	if _, err := Parse(raw); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParse_RejectsUnknownType(t *testing.T) {
	raw := []byte(`{ "type":"renegotiate" }`)
	if _, err := Parse(raw); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParse_DisallowUnknownFields(t *testing.T) {
	raw := []byte(`{ "type":"logout", "userId":"alice", "unexpected": true }`)
	if _, err := Parse(raw); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParse_RejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"register without userId", `{ "type":"register" }`},
		{"offer without sdp", `{ "type":"offer", "from":"a", "to":"b" }`},
		{"offer without to", `{ "type":"offer", "from":"a", "sdp":{"type":"offer","sdp":"v=0"} }`},
		{"candidate without candidate", `{ "type":"ice-candidate", "from":"a", "to":"b" }`},
		{"peer_list without peers", `{ "type":"peer_list" }`},
		{"error without message", `{ "type":"error" }`},
		{"disconnect without to", `{ "type":"disconnect", "from":"a" }`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.raw)); err == nil {
				t.Fatalf("expected error for %s", tc.raw)
			}
		})
	}
}

func TestParse_PeerListAllowsEmptyList(t *testing.T) {
	got, err := Parse([]byte(`{ "type":"peer_list", "peers":[] }`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Peers == nil || len(got.Peers) != 0 {
		t.Fatalf("unexpected peers: %#v", got.Peers)
	}
}

func TestType_Relayable(t *testing.T) {
	relayable := []Type{TypeOffer, TypeAnswer, TypeICECandidate, TypeStreamStatus, TypeMediaState, TypeDisconnect}
	for _, typ := range relayable {
		if !typ.Relayable() {
			t.Fatalf("%s should be relayable", typ)
		}
	}
	terminated := []Type{TypeRegister, TypeRegistered, TypePeerList, TypePeerDisconnected, TypeLogout, TypeError}
	for _, typ := range terminated {
		if typ.Relayable() {
			t.Fatalf("%s should not be relayable", typ)
		}
	}
}

func TestSDP_PionRoundTrip(t *testing.T) {
	s := SDP{Type: "answer", SDP: "v=0"}
	desc, err := s.ToPion()
	if err != nil {
		t.Fatalf("to pion: %v", err)
	}
	back := SDPFromPion(desc)
	if back != s {
		t.Fatalf("round trip mismatch: %#v != %#v", back, s)
	}

	if _, err := (SDP{Type: "pranswer", SDP: "v=0"}).ToPion(); err == nil {
		t.Fatalf("expected error for unsupported sdp type")
	}
}
