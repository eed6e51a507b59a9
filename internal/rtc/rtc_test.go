package rtc

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/parley-app/parley/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestPionTransport_OfferAndClose(t *testing.T) {
	f := NewPionFactory(config.Config{}, testLogger())

	tr, err := f.NewTransport(Callbacks{})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}

	offer, err := tr.CreateOffer(context.Background())
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if offer.Type != "offer" || offer.SDP == "" {
		t.Fatalf("unexpected offer: type=%q len=%d", offer.Type, len(offer.SDP))
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent.
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestPionTransport_AnswerFlow(t *testing.T) {
	f := NewPionFactory(config.Config{}, testLogger())

	offerer, err := f.NewTransport(Callbacks{})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer offerer.Close()

	answerer, err := f.NewTransport(Callbacks{})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer answerer.Close()

	offer, err := offerer.CreateOffer(context.Background())
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := answerer.SetRemoteDescription(offer); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}

	answer, err := answerer.CreateAnswer(context.Background())
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if answer.Type != "answer" {
		t.Fatalf("answer type=%q", answer.Type)
	}
	if err := offerer.SetRemoteDescription(answer); err != nil {
		t.Fatalf("SetRemoteDescription(answer): %v", err)
	}
}
