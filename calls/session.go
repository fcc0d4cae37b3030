package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

const signalTimeout = 5 * time.Second

// ending describes why a session ends and what the far end is told.
type ending struct {
	cause  types.EndCause
	detail string
	code   int
	reason string
}

// Session is the state machine of one call. It owns its CallSession data;
// everyone else sees copies through Snapshot.
type Session struct {
	id        string
	direction types.Direction
	remote    string
	ctrl      *Controller
	logger    zerolog.Logger

	// ctx is cancelled when the session ends, preempting in-flight work.
	ctx    context.Context
	cancel context.CancelFunc

	// opMutex serialises user operations so their transitions land in the
	// order they were requested.
	opMutex sync.Mutex
	// effectMutex keeps each transition and its side effects together.
	effectMutex sync.Mutex

	mutex       sync.Mutex
	dialog      Dialog
	state       types.CallState
	startedAt   time.Time
	acceptedAt  *time.Time
	endedAt     *time.Time
	activeSince time.Time
	elapsed     time.Duration
	held        bool
	muted       bool
	alerting    bool
	end         ending
	transfer    *fsm.FSM
	transferTo  string
	transferErr string
	tickerStop  chan struct{}
}

func newSession(ctrl *Controller, id string, direction types.Direction, remote string, dialog Dialog) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        id,
		direction: direction,
		remote:    remote,
		ctrl:      ctrl,
		ctx:       ctx,
		cancel:    cancel,
		dialog:    dialog,
		state:     stateIdle,
		startedAt: ctrl.clock.Now(),
		transfer:  newTransferFSM(),
	}
	s.logger = ctrl.logger.With().
		Str("call_id", id).
		Str("direction", string(direction)).
		Str("remote", ctrl.displayNumber(remote)).
		Logger()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() types.CallState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Session) Snapshot() types.CallSession {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	elapsed := s.elapsed
	if !s.activeSince.IsZero() {
		elapsed += s.ctrl.clock.Now().Sub(s.activeSince)
	}

	snap := types.CallSession{
		ID:             s.id,
		Direction:      s.direction,
		RemoteIdentity: s.remote,
		State:          s.state,
		StartedAt:      s.startedAt,
		AcceptedAt:     copyTime(s.acceptedAt),
		EndedAt:        copyTime(s.endedAt),
		Held:           s.held,
		Muted:          s.muted,
		ElapsedSeconds: int64(elapsed / time.Second),
		EndCause:       s.end.cause,
		EndDetail:      s.end.detail,
		TransferTarget: s.transferTo,
		TransferStatus: transferStatus(s.transfer),
		TransferError:  s.transferErr,
		Connectivity:   s.ctrl.media.Connectivity(s.id),
	}
	return snap
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// apply runs one transition and its effects. Terminal events on an ended
// session are dropped.
func (s *Session) apply(ev Event, end ending) error {
	s.effectMutex.Lock()
	defer s.effectMutex.Unlock()

	s.mutex.Lock()
	from := s.state
	to, effects, err := Transition(from, ev)
	if err != nil {
		s.mutex.Unlock()
		return err
	}
	if from == types.StateEnded {
		s.mutex.Unlock()
		return nil
	}
	now := s.ctrl.clock.Now()
	s.state = to
	s.held = to == types.StateHeld
	if to == types.StateEnded {
		s.end = end
		s.endedAt = &now
	}
	s.mutex.Unlock()

	s.logger.Debug().
		Str("from", string(from)).
		Str("to", string(to)).
		Str("event", string(ev)).
		Msg("Call transition")

	// Cancel before releasing media so an acquisition racing the end
	// either sees the cancellation or is released with the rest.
	if to == types.StateEnded {
		s.cancel()
	}
	for _, effect := range effects {
		s.run(effect, now, end)
	}

	if to == types.StateEnded {
		s.logger.Info().
			Str("cause", string(end.cause)).
			Str("detail", end.detail).
			Msg("Call ended")
	}
	s.ctrl.changed()
	return nil
}

func (s *Session) run(effect Effect, now time.Time, end ending) {
	switch effect {
	case EffectStartAlert:
		s.mutex.Lock()
		s.alerting = true
		s.mutex.Unlock()
		s.ctrl.ringer.Start()

	case EffectStopAlert:
		s.mutex.Lock()
		alerting := s.alerting
		s.alerting = false
		s.mutex.Unlock()
		if alerting {
			s.ctrl.ringer.Stop()
		}

	case EffectStampAccepted:
		s.mutex.Lock()
		s.acceptedAt = &now
		s.mutex.Unlock()

	case EffectStartTimer:
		s.startTimer(now)

	case EffectStopTimer:
		s.stopTimer(now)

	case EffectPresenceOnCall:
		s.ctrl.presence.CallStarted()

	case EffectMediaHold, EffectMediaResume:
		if err := s.ctrl.media.SetHeld(s.id, effect == EffectMediaHold); err != nil {
			s.logger.Debug().Err(err).Msg("Media hold")
		}

	case EffectSendReject:
		ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
		defer cancel()
		code, reason := end.code, end.reason
		if code == 0 {
			code, reason = codeDecline, "Decline"
		}
		if err := s.dialog.Reject(ctx, code, reason); err != nil {
			s.logger.Warn().Err(err).Int("code", code).Msg("Reject failed")
		}

	case EffectCancelDial:
		s.cancel()
		s.mutex.Lock()
		dialog := s.dialog
		s.mutex.Unlock()
		if dialog != nil {
			s.hangupDialog(dialog)
		}

	case EffectSendBye:
		s.mutex.Lock()
		dialog := s.dialog
		s.mutex.Unlock()
		if dialog != nil {
			s.hangupDialog(dialog)
		}

	case EffectReleaseMedia:
		s.ctrl.media.ReleaseAll(s.id)

	case EffectReleaseSlot:
		s.ctrl.release(s)
	}
}

func (s *Session) hangupDialog(dialog Dialog) {
	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()
	if err := dialog.Hangup(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Hangup failed")
	}
}

// startTimer starts counting elapsed time and pushes a UI update every second.
func (s *Session) startTimer(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.activeSince.IsZero() {
		return
	}
	s.activeSince = now

	ticker := s.ctrl.clock.Ticker(time.Second)
	stop := make(chan struct{})
	s.tickerStop = stop
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.ctrl.changed()
			}
		}
	}()
}

func (s *Session) stopTimer(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.activeSince.IsZero() {
		return
	}
	s.elapsed += now.Sub(s.activeSince)
	s.activeSince = time.Time{}
	close(s.tickerStop)
	s.tickerStop = nil
}

// watch turns a far end termination into a remote hangup.
func (s *Session) watch(dialog Dialog) {
	go func() {
		select {
		case <-dialog.Done():
			s.remoteEnded()
		case <-s.ctx.Done():
		}
	}()
}

func (s *Session) remoteEnded() {
	s.mutex.Lock()
	state := s.state
	transferred := s.transfer.Current() == transferAccepted
	if transferred {
		transferEvent(s.transfer, transferEventComplete)
	}
	s.mutex.Unlock()

	end := ending{cause: types.CauseRemoteHangup}
	switch {
	case transferred:
		end = ending{cause: types.CauseTransferred, detail: "transferred to " + s.transferTarget()}
	case state == types.StateRingingIncoming:
		end.detail = "caller cancelled"
	}
	if err := s.apply(EventRemoteHangup, end); err != nil {
		s.logger.Debug().Err(err).Msg("Remote hangup")
	}
}

func (s *Session) transferTarget() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.transferTo
}

func (s *Session) fail(cause types.EndCause, detail string) {
	if err := s.apply(EventFailed, ending{cause: cause, detail: detail, code: 488, reason: "Not Acceptable Here"}); err != nil {
		s.logger.Debug().Err(err).Msg("Fail")
	}
}

// Answer accepts a ringing incoming call: local capture first, then the
// signaling answer, then remote playback.
func (s *Session) Answer() error {
	s.opMutex.Lock()
	defer s.opMutex.Unlock()

	if st := s.State(); st != types.StateRingingIncoming {
		return fmt.Errorf("%w: answer on %q", types.ErrInvalidState, st)
	}
	if err := s.ctrl.registry.Promote(s.id); err != nil {
		return err
	}

	if _, err := s.ctrl.media.AcquireLocalAudio(s.ctx, s.id); err != nil {
		s.fail(types.CauseFailed, "audio capture unavailable: "+err.Error())
		return s.preempted(err)
	}
	if err := s.dialog.Answer(s.ctx); err != nil {
		s.fail(types.CauseFailed, "answer failed: "+err.Error())
		return s.preempted(err)
	}
	if err := s.ctrl.media.BindRemote(s.id, s.dialog.Media()); err != nil {
		s.fail(types.CauseFailed, "media negotiation failed: "+err.Error())
		return s.preempted(err)
	}
	s.applyMute()

	if err := s.apply(EventAnswered, ending{}); err != nil {
		return s.preempted(err)
	}
	return nil
}

// preempted reports a session that ended while an operation was running.
func (s *Session) preempted(err error) error {
	if s.ctx.Err() != nil && s.State() == types.StateEnded {
		snap := s.Snapshot()
		if snap.EndCause != types.CauseFailed {
			return fmt.Errorf("%w: call ended (%s)", types.ErrInvalidState, snap.EndCause)
		}
	}
	return err
}

// HangUp ends the call from any live state. Ringing incoming calls are
// declined rather than terminated.
func (s *Session) HangUp() error {
	s.opMutex.Lock()
	defer s.opMutex.Unlock()

	end := ending{cause: types.CauseLocalHangup}
	if s.State() == types.StateRingingIncoming {
		end = ending{cause: types.CauseRejected, code: codeDecline, reason: "Decline"}
	}
	return s.apply(EventLocalHangup, end)
}

// terminate ends the session from outside any user operation.
func (s *Session) terminate(cause types.EndCause, detail string) {
	end := ending{cause: cause, detail: detail, code: codeTemporarilyUnavailable, reason: "Temporarily Unavailable"}
	if err := s.apply(EventEndAll, end); err != nil {
		s.logger.Debug().Err(err).Msg("Terminate")
	}
}

func (s *Session) Hold(ctx context.Context) error {
	return s.setHold(ctx, true)
}

func (s *Session) Unhold(ctx context.Context) error {
	return s.setHold(ctx, false)
}

// setHold renegotiates first and only then changes state, so a refused
// hold leaves the call as it was.
func (s *Session) setHold(ctx context.Context, held bool) error {
	s.opMutex.Lock()
	defer s.opMutex.Unlock()

	want, ev := types.StateActive, EventHeld
	if !held {
		want, ev = types.StateHeld, EventResumed
	}
	if st := s.State(); st != want {
		return fmt.Errorf("%w: %s on %q", types.ErrInvalidState, ev, st)
	}

	ctx, cancel := mergeCancel(ctx, s.ctx)
	defer cancel()
	if err := s.dialog.Hold(ctx, held); err != nil {
		s.logger.Warn().Err(err).Bool("held", held).Msg("Hold renegotiation failed")
		return s.preempted(err)
	}
	return s.apply(ev, ending{})
}

func (s *Session) Mute() error   { return s.setMute(true) }
func (s *Session) Unmute() error { return s.setMute(false) }

func (s *Session) setMute(muted bool) error {
	s.opMutex.Lock()
	defer s.opMutex.Unlock()

	s.mutex.Lock()
	if s.state == types.StateEnded {
		s.mutex.Unlock()
		return fmt.Errorf("%w: mute on ended call", types.ErrInvalidState)
	}
	s.muted = muted
	s.mutex.Unlock()

	s.applyMute()
	s.ctrl.changed()
	return nil
}

func (s *Session) applyMute() {
	s.mutex.Lock()
	muted := s.muted
	s.mutex.Unlock()
	if err := s.ctrl.media.SetMuted(s.id, muted); err != nil && !errors.Is(err, types.ErrSessionNotFound) {
		s.logger.Warn().Err(err).Msg("Mute")
	}
}

// Transfer asks the far end to call target. The call itself keeps its
// state; the far end's hangup after an accepted transfer ends it.
func (s *Session) Transfer(ctx context.Context, target string) error {
	s.opMutex.Lock()
	defer s.opMutex.Unlock()

	if target == "" {
		return errors.New("transfer target is required")
	}

	s.mutex.Lock()
	if s.state != types.StateActive {
		st := s.state
		s.mutex.Unlock()
		return fmt.Errorf("%w: transfer on %q", types.ErrInvalidState, st)
	}
	if !transferEvent(s.transfer, transferEventRequest) {
		s.mutex.Unlock()
		return fmt.Errorf("%w: transfer already in progress", types.ErrInvalidState)
	}
	s.transferTo = target
	s.transferErr = ""
	s.mutex.Unlock()
	s.ctrl.changed()

	ctx, cancel := mergeCancel(ctx, s.ctx)
	defer cancel()
	err := s.dialog.Refer(ctx, target)

	s.mutex.Lock()
	if err != nil {
		transferEvent(s.transfer, transferEventFail)
		s.transferErr = err.Error()
	} else {
		transferEvent(s.transfer, transferEventAccept)
	}
	s.mutex.Unlock()
	s.ctrl.changed()

	if err != nil {
		s.logger.Warn().Err(err).Msg("Transfer failed")
		return err
	}
	s.logger.Info().Str("target", s.ctrl.displayNumber(target)).Msg("Transfer accepted")
	return nil
}

// dial places the outgoing call. Local capture is already attached.
func (s *Session) dial(destination string) {
	ctx := s.ctx
	if s.ctrl.opts.NoAnswerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, s.ctrl.opts.NoAnswerTimeout)
		defer cancel()
	}

	dialog, err := s.ctrl.signaling.Dial(ctx, destination)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		cause := dialFailureCause(err)
		s.logger.Info().Err(err).Str("cause", string(cause)).Msg("Outgoing call failed")
		if err := s.apply(EventDialFailed, ending{cause: cause, detail: err.Error()}); err != nil {
			s.logger.Debug().Err(err).Msg("Dial failed")
		}
		return
	}

	s.mutex.Lock()
	ended := s.state == types.StateEnded
	if !ended {
		s.dialog = dialog
	}
	s.mutex.Unlock()
	if ended {
		s.hangupDialog(dialog)
		return
	}
	s.watch(dialog)

	if err := s.ctrl.media.BindRemote(s.id, dialog.Media()); err != nil {
		s.fail(types.CauseFailed, "media negotiation failed: "+err.Error())
		return
	}
	s.applyMute()

	if err := s.apply(EventRemoteAnswered, ending{}); err != nil {
		s.logger.Debug().Err(err).Msg("Remote answered")
	}
}

// mergeCancel returns a context done when either parent is done.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
