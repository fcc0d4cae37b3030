package calls

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Reverse-Call-Center/agent-phone/audio"
	"github.com/Reverse-Call-Center/agent-phone/session"
	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/Reverse-Call-Center/agent-phone/utils"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Media is the part of the media coordinator a call drives.
type Media interface {
	AcquireLocalAudio(ctx context.Context, sessionID string) (audio.Capture, error)
	BindRemote(sessionID string, stream audio.Stream) error
	SetMuted(sessionID string, muted bool) error
	SetHeld(sessionID string, held bool) error
	ReleaseAll(sessionID string)
	Connectivity(sessionID string) types.Connectivity
}

type Alert interface {
	Start()
	Stop()
}

// Presence receives the system-derived on_call transitions.
type Presence interface {
	Status() types.PresenceStatus
	CallStarted()
	CallsEnded()
}

// Connection reports whether the agent is registered.
type Connection interface {
	State() types.ConnectionState
}

type Options struct {
	Clock           clock.Clock
	Logger          zerolog.Logger
	NoAnswerTimeout time.Duration
	// EndedRetention keeps ended sessions listed so the UI can show them.
	EndedRetention  time.Duration
	LogPhoneNumbers bool
}

// Controller creates call sessions and routes call-control operations to
// them. The registry decides which sessions may exist at the same time.
type Controller struct {
	signaling  Signaling
	registry   *session.Registry
	media      Media
	ringer     Alert
	presence   Presence
	connection Connection
	opts       Options
	clock      clock.Clock
	logger     zerolog.Logger

	mutex    sync.Mutex
	onChange func()
}

func NewController(signaling Signaling, registry *session.Registry, media Media, ringer Alert,
	presence Presence, connection Connection, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Controller{
		signaling:  signaling,
		registry:   registry,
		media:      media,
		ringer:     ringer,
		presence:   presence,
		connection: connection,
		opts:       opts,
		clock:      opts.Clock,
		logger:     opts.Logger.With().Str("component", "calls").Logger(),
	}
}

// OnChange registers the function called after any session changes.
func (c *Controller) OnChange(fn func()) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onChange = fn
}

func (c *Controller) changed() {
	c.mutex.Lock()
	fn := c.onChange
	c.mutex.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Controller) displayNumber(number string) string {
	if c.opts.LogPhoneNumbers {
		return number
	}
	return utils.MaskNumber(number)
}

// Incoming handles a new inbound dialog. Calls are declined without ever
// being registered when presence refuses them or a call is already ringing.
func (c *Controller) Incoming(dialog Dialog, remote string) (*Session, error) {
	logger := c.logger.With().Str("remote", c.displayNumber(remote)).Logger()

	if status := c.presence.Status(); status.RejectsInbound() {
		logger.Info().Str("presence", string(status)).Msg("Declining call, agent unavailable")
		c.reject(dialog, codeTemporarilyUnavailable, "Temporarily Unavailable")
		return nil, types.ErrTemporarilyUnavailable
	}

	s := newSession(c, utils.GenerateCallID(), types.DirectionIncoming, remote, dialog)
	if err := c.registry.Register(s, types.DirectionIncoming); err != nil {
		logger.Info().Err(err).Msg("Declining call, already ringing")
		c.reject(dialog, codeBusyHere, "Busy Here")
		return nil, err
	}

	if err := s.apply(EventIncoming, ending{}); err != nil {
		c.registry.Remove(s.id)
		c.reject(dialog, codeBusyHere, "Busy Here")
		return nil, err
	}
	s.watch(dialog)

	s.logger.Info().Msg("Incoming call")
	return s, nil
}

func (c *Controller) reject(dialog Dialog, code int, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()
	if err := dialog.Reject(ctx, code, reason); err != nil {
		c.logger.Warn().Err(err).Int("code", code).Msg("Reject failed")
	}
}

// Call places an outgoing call. It fails fast when not registered or when
// another call is live, and fails the new session when local capture
// cannot be acquired, before the far end is contacted.
func (c *Controller) Call(ctx context.Context, destination string) (types.CallSession, error) {
	if destination == "" {
		return types.CallSession{}, errors.New("destination is required")
	}
	if !c.connection.State().Registered() {
		return types.CallSession{}, types.ErrNotRegistered
	}

	s := newSession(c, utils.GenerateCallID(), types.DirectionOutgoing, destination, nil)
	if err := c.registry.Register(s, types.DirectionOutgoing); err != nil {
		return types.CallSession{}, err
	}
	if err := s.apply(EventOutgoing, ending{}); err != nil {
		c.registry.Remove(s.id)
		return types.CallSession{}, err
	}
	s.logger.Info().Msg("Outgoing call")

	acquireCtx, cancel := mergeCancel(ctx, s.ctx)
	_, err := c.media.AcquireLocalAudio(acquireCtx, s.id)
	cancel()
	if err != nil {
		s.fail(types.CauseFailed, "audio capture unavailable: "+err.Error())
		return s.Snapshot(), err
	}

	go s.dial(destination)
	return s.Snapshot(), nil
}

// release frees the session's registry slot, hands presence back when no
// live call remains and removes the session after the retention window.
func (c *Controller) release(s *Session) {
	c.registry.Release(s.id)
	if _, active := c.registry.ActiveSession(); !active {
		c.presence.CallsEnded()
	}

	if c.opts.EndedRetention <= 0 {
		c.registry.Remove(s.id)
		return
	}
	c.clock.AfterFunc(c.opts.EndedRetention, func() {
		c.registry.Remove(s.id)
		c.changed()
	})
}

func (c *Controller) Get(id string) (*Session, error) {
	call, ok := c.registry.Get(id)
	if !ok {
		return nil, types.ErrSessionNotFound
	}
	return call.(*Session), nil
}

// target resolves an operation's session: an explicit id, else the live
// call, else (when allowed) the ringing one.
func (c *Controller) target(id string, allowIncoming bool) (*Session, error) {
	if id != "" {
		return c.Get(id)
	}
	if call, ok := c.registry.ActiveSession(); ok {
		return call.(*Session), nil
	}
	if allowIncoming {
		if call, ok := c.registry.IncomingSession(); ok {
			return call.(*Session), nil
		}
	}
	return nil, types.ErrSessionNotFound
}

// Answer answers the ringing call (or the one named by id). It fails with
// ErrBusy while another call is live; the ringing call keeps ringing.
func (c *Controller) Answer(id string) error {
	var s *Session
	if id != "" {
		var err error
		if s, err = c.Get(id); err != nil {
			return err
		}
	} else {
		call, ok := c.registry.IncomingSession()
		if !ok {
			return types.ErrSessionNotFound
		}
		s = call.(*Session)
	}
	return s.Answer()
}

func (c *Controller) HangUp(id string) error {
	s, err := c.target(id, true)
	if err != nil {
		return err
	}
	return s.HangUp()
}

func (c *Controller) Hold(ctx context.Context, id string) error {
	s, err := c.target(id, false)
	if err != nil {
		return err
	}
	return s.Hold(ctx)
}

func (c *Controller) Unhold(ctx context.Context, id string) error {
	s, err := c.target(id, false)
	if err != nil {
		return err
	}
	return s.Unhold(ctx)
}

func (c *Controller) Mute(id string) error {
	s, err := c.target(id, false)
	if err != nil {
		return err
	}
	return s.Mute()
}

func (c *Controller) Unmute(id string) error {
	s, err := c.target(id, false)
	if err != nil {
		return err
	}
	return s.Unmute()
}

func (c *Controller) Transfer(ctx context.Context, id, target string) error {
	s, err := c.target(id, false)
	if err != nil {
		return err
	}
	return s.Transfer(ctx, target)
}

// EndAll terminates every live session with the given cause.
func (c *Controller) EndAll(cause types.EndCause, detail string) int {
	ended := 0
	for _, call := range c.registry.List() {
		s := call.(*Session)
		if s.State().IsTerminal() {
			continue
		}
		s.terminate(cause, detail)
		ended++
	}
	if ended > 0 {
		c.logger.Info().Int("calls", ended).Str("cause", string(cause)).Msg("Ended all calls")
	}
	return ended
}

func (c *Controller) Snapshots() []types.CallSession {
	return c.registry.Snapshots()
}

// HasLiveCall reports whether a call is ringing out, active or held.
func (c *Controller) HasLiveCall() bool {
	_, ok := c.registry.ActiveSession()
	return ok
}
