//go:build !linux

package audio

import (
	"context"
	"fmt"
	"runtime"

	"github.com/Reverse-Call-Center/agent-phone/types"
)

type microphoneProvider struct{}

func newMicrophoneProvider() CaptureProvider {
	return microphoneProvider{}
}

// Acquire always fails: microphone drivers are only wired on linux.
// Use the "silence" capture source elsewhere.
func (microphoneProvider) Acquire(ctx context.Context) (Capture, error) {
	return nil, fmt.Errorf("%w: no microphone driver on %s", types.ErrCaptureUnavailable, runtime.GOOS)
}
