package rtc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/parley-app/parley/internal/config"
	"github.com/parley-app/parley/internal/protocol"
)

// DataChannelLabel is the negotiation channel both sides agree on; the side
// that creates the offer also creates the channel.
const DataChannelLabel = "parley"

// PionFactory builds pion-backed transports sharing one API instance.
type PionFactory struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	tracks     []webrtc.TrackLocal
	log        *slog.Logger
}

func NewPionFactory(cfg config.Config, logger *slog.Logger, tracks ...webrtc.TrackLocal) *PionFactory {
	return &PionFactory{
		api:        NewAPI(cfg, logger),
		iceServers: cfg.ICEServers,
		tracks:     tracks,
		log:        logger.With("component", "rtc"),
	}
}

func (f *PionFactory) NewTransport(cb Callbacks) (Transport, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	t := &pionTransport{pc: pc, cb: cb, log: f.log}

	for _, track := range f.tracks {
		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add local track: %w", err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			if cb.GatheringComplete != nil {
				cb.GatheringComplete()
			}
			return
		}
		if cb.Candidate != nil {
			cb.Candidate(protocol.CandidateFromPion(c.ToJSON()))
		}
	})

	// The offering side creates the channel; the answering side receives it
	// here. Either way Open is the establishment signal.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != DataChannelLabel {
			return
		}
		t.bindChannel(dc)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if cb.Track != nil {
			cb.Track(track.Kind().String())
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if cb.Failed != nil {
				cb.Failed()
			}
		}
	})

	return t, nil
}

type pionTransport struct {
	pc  *webrtc.PeerConnection
	cb  Callbacks
	log *slog.Logger

	mu    sync.Mutex
	dc    *webrtc.DataChannel
	close sync.Once
}

func (t *pionTransport) bindChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	dc.OnOpen(func() {
		if t.cb.Open != nil {
			t.cb.Open()
		}
	})
}

func (t *pionTransport) CreateOffer(ctx context.Context) (protocol.SDP, error) {
	dc, err := t.pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		return protocol.SDP{}, fmt.Errorf("create data channel: %w", err)
	}
	t.bindChannel(dc)

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SDP{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return protocol.SDP{}, fmt.Errorf("set local description: %w", err)
	}
	return protocol.SDPFromPion(offer), nil
}

func (t *pionTransport) CreateAnswer(ctx context.Context) (protocol.SDP, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SDP{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return protocol.SDP{}, fmt.Errorf("set local description: %w", err)
	}
	return protocol.SDPFromPion(answer), nil
}

func (t *pionTransport) SetRemoteDescription(sdp protocol.SDP) error {
	desc, err := sdp.ToPion()
	if err != nil {
		return err
	}
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (t *pionTransport) AddCandidate(cand protocol.Candidate) error {
	if err := t.pc.AddICECandidate(cand.ToPion()); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (t *pionTransport) Close() error {
	var err error
	t.close.Do(func() {
		t.mu.Lock()
		dc := t.dc
		t.mu.Unlock()
		if dc != nil {
			_ = dc.Close()
		}
		err = t.pc.Close()
	})
	return err
}
