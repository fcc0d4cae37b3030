package calls

import (
	"context"
	"errors"

	"github.com/Reverse-Call-Center/agent-phone/audio"
	"github.com/Reverse-Call-Center/agent-phone/types"
)

// Dialog is the signaling side of one call.
type Dialog interface {
	// Answer accepts an incoming dialog with local media.
	Answer(ctx context.Context) error
	// Reject declines an incoming dialog that was never answered.
	Reject(ctx context.Context, code int, reason string) error
	// Hangup ends an established dialog.
	Hangup(ctx context.Context) error
	// Hold toggles the far end's view of the media direction. It returns
	// types.ErrUnsupported when the dialog cannot renegotiate.
	Hold(ctx context.Context, held bool) error
	// Refer asks the far end to call target and returns once the far end
	// accepted or refused the request.
	Refer(ctx context.Context, target string) error
	Media() audio.Stream
	// Done is closed when the far end ends the dialog.
	Done() <-chan struct{}
}

// Signaling places outgoing calls.
type Signaling interface {
	Dial(ctx context.Context, destination string) (Dialog, error)
}

// StatusCoder is implemented by errors carrying a final SIP response code.
type StatusCoder interface {
	StatusCode() int
}

// SIP response codes used when declining incoming calls.
const (
	codeBusyHere               = 486
	codeTemporarilyUnavailable = 480
	codeDecline                = 603
)

// dialFailureCause maps a failed dial onto the session end cause.
func dialFailureCause(err error) types.EndCause {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.CauseNoAnswer
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		switch sc.StatusCode() {
		case 486, 600:
			return types.CauseBusy
		case 404, 410, 480:
			return types.CauseUnavailable
		case 603:
			return types.CauseRejected
		case 408, 487:
			return types.CauseNoAnswer
		}
	}
	return types.CauseFailed
}
