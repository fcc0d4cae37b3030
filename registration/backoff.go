package registration

import (
	"errors"
	"time"

	"github.com/Reverse-Call-Center/agent-phone/types"
)

// Backoff is a bounded exponential delay: min(Base * 2^attempt, Cap).
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait before the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		if d >= b.Cap || d > b.Cap/2 {
			return b.Cap
		}
		d *= 2
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}

// FailureKind classifies a transport or registration error.
type FailureKind int

const (
	FailureTransient FailureKind = iota
	FailureAuth
)

func (k FailureKind) String() string {
	if k == FailureAuth {
		return "auth"
	}
	return "transient"
}

// Classify decides whether err is worth retrying.
func Classify(err error) FailureKind {
	if errors.Is(err, types.ErrAuthRejected) {
		return FailureAuth
	}
	return FailureTransient
}
