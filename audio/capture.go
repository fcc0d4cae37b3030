package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/benbjohnson/clock"
)

// Capture is acquired local audio input. Read returns mu-law frames of
// SamplesPerFrame bytes ready to be written to a dialog.
type Capture interface {
	io.Reader
	Close() error
}

type CaptureProvider interface {
	Acquire(ctx context.Context) (Capture, error)
}

// CaptureProviderFunc adapts a function to CaptureProvider.
type CaptureProviderFunc func(ctx context.Context) (Capture, error)

func (f CaptureProviderFunc) Acquire(ctx context.Context) (Capture, error) {
	return f(ctx)
}

// NewCaptureProvider returns the provider named by kind: "microphone" or
// "silence".
func NewCaptureProvider(kind string) (CaptureProvider, error) {
	switch kind {
	case "", "microphone":
		return newMicrophoneProvider(), nil
	case "silence":
		return SilenceProvider{Clock: clock.New()}, nil
	}
	return nil, fmt.Errorf("%w: unknown capture source %q", types.ErrCaptureUnavailable, kind)
}

// SilenceProvider paces silent frames in real time. Used on headless hosts.
type SilenceProvider struct {
	Clock clock.Clock
}

func (p SilenceProvider) Acquire(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &silenceCapture{
		ticker: p.Clock.Ticker(FrameDuration * time.Millisecond),
		done:   make(chan struct{}),
	}, nil
}

type silenceCapture struct {
	ticker *clock.Ticker
	once   sync.Once
	done   chan struct{}
}

func (s *silenceCapture) Read(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, io.EOF
	case <-s.ticker.C:
	}
	n := min(len(p), SamplesPerFrame)
	for i := 0; i < n; i++ {
		p[i] = ULawSilence
	}
	return n, nil
}

func (s *silenceCapture) Close() error {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
	return nil
}
