package softphone

import (
	"context"
	"sync"
	"time"

	"github.com/Reverse-Call-Center/agent-phone/agents"
	"github.com/Reverse-Call-Center/agent-phone/audio"
	"github.com/Reverse-Call-Center/agent-phone/calls"
	"github.com/Reverse-Call-Center/agent-phone/config"
	"github.com/Reverse-Call-Center/agent-phone/credentials"
	"github.com/Reverse-Call-Center/agent-phone/registration"
	"github.com/Reverse-Call-Center/agent-phone/session"
	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Snapshot is everything the UI renders.
type Snapshot struct {
	Connection types.ConnectionState `json:"connection"`
	Presence   types.AgentPresence   `json:"presence"`
	Calls      []types.CallSession   `json:"calls"`
}

// Deps are the outside collaborators a Phone drives.
type Deps struct {
	Transport   registration.Transport
	Signaling   calls.Signaling
	Capture     audio.CaptureProvider
	Sinks       audio.SinkFactory
	Reporter    agents.Reporter
	Credentials credentials.Provider
	Clock       clock.Clock
	Logger      zerolog.Logger
}

// Phone wires registration, presence, call control and media into one
// agent softphone and publishes a Snapshot after every change.
type Phone struct {
	registration *registration.Manager
	presence     *agents.Manager
	calls        *calls.Controller
	media        *audio.Coordinator
	ringer       *audio.Ringer
	credentials  credentials.Provider
	clock        clock.Clock
	logger       zerolog.Logger

	// mutex guards the cached component state and subscribers. The caches
	// are fed by OnChange callbacks, which run under component locks.
	mutex       sync.Mutex
	connection  types.ConnectionState
	status      types.AgentPresence
	subscribers map[chan Snapshot]struct{}
}

func New(cfg *config.Config, deps Deps) *Phone {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Credentials == nil {
		deps.Credentials = credentials.Static{}
	}

	p := &Phone{
		credentials: deps.Credentials,
		clock:       deps.Clock,
		logger:      deps.Logger.With().Str("component", "softphone").Logger(),
		connection:  types.InitialConnectionState(cfg.MaxReconnectAttempts),
		status:      types.AgentPresence{Status: types.PresenceAvailable},
		subscribers: make(map[chan Snapshot]struct{}),
	}

	p.registration = registration.NewManager(deps.Transport, registration.Options{
		Backoff: registration.Backoff{
			Base: cfg.ReconnectBaseDelay.Std(),
			Cap:  cfg.ReconnectCapDelay.Std(),
		},
		MaxAttempts: cfg.MaxReconnectAttempts,
		Clock:       deps.Clock,
		Logger:      deps.Logger,
		Allowed:     func() bool { return p.presence.Allowed() },
		OnChange:    p.onConnection,
	})
	p.presence = agents.NewManager(p.registration, deps.Reporter, agents.Options{
		Logger:   deps.Logger,
		OnChange: p.onPresence,
	})

	p.media = audio.NewCoordinator(deps.Capture, deps.Sinks, audio.CoordinatorOptions{
		MediaTimeout: cfg.MediaTimeout.Std(),
		Clock:        deps.Clock,
		Logger:       deps.Logger,
	})
	p.media.OnChange(p.onMedia)
	p.ringer = audio.NewRinger(deps.Sinks, deps.Clock, cfg.RingtoneInterval.Std(), deps.Logger)

	p.calls = calls.NewController(deps.Signaling, session.NewRegistry(), p.media, p.ringer,
		p.presence, p.registration, calls.Options{
			Clock:           deps.Clock,
			Logger:          deps.Logger,
			NoAnswerTimeout: cfg.NoAnswerTimeout.Std(),
			EndedRetention:  cfg.EndedRetention.Std(),
			LogPhoneNumbers: cfg.LogPhoneNumbers,
		})
	p.calls.OnChange(p.publish)
	return p
}

func (p *Phone) onConnection(state types.ConnectionState) {
	p.mutex.Lock()
	p.connection = state
	p.mutex.Unlock()
	p.publish()
}

func (p *Phone) onPresence(presence types.AgentPresence) {
	p.mutex.Lock()
	p.status = presence
	p.mutex.Unlock()
	p.publish()
}

func (p *Phone) onMedia(state types.MediaPipelineState) {
	if state.Connectivity == types.ConnectivityFailed {
		p.logger.Warn().Str("call_id", state.SessionID).Msg("Audio connection failed")
	}
	p.publish()
}

// Run starts registration with the current credentials and follows
// credential changes until ctx is done. Live calls end on shutdown.
func (p *Phone) Run(ctx context.Context) error {
	go p.presence.Run(ctx)

	p.start(p.credentials.Current())

	ticker := p.clock.Ticker(time.Second)
	defer ticker.Stop()
	changes := p.credentials.Changes()

	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return nil
		case creds := <-changes:
			p.changeCredentials(creds)
		case <-ticker.C:
			// Elapsed time moves every second while a call is live.
			if p.calls.HasLiveCall() {
				p.publish()
			}
		}
	}
}

func (p *Phone) start(creds types.Credentials) {
	if creds.Empty() {
		p.logger.Warn().Msg("No agent credentials configured, waiting for credentials")
		_ = p.registration.UpdateCredentials(creds)
		return
	}
	if !p.presence.Allowed() {
		_ = p.registration.UpdateCredentials(creds)
		return
	}
	if err := p.registration.Start(creds); err != nil {
		p.logger.Warn().Err(err).Msg("Registration not started")
	}
}

// changeCredentials ends every call, then registers the new identity from
// attempt zero, even after the old one was rejected.
func (p *Phone) changeCredentials(creds types.Credentials) {
	p.logger.Info().Str("identity", creds.Identity).Msg("Agent credentials changed")
	p.calls.EndAll(types.CauseCredentialsChanged, "agent credentials changed")
	p.start(creds)
}

func (p *Phone) shutdown() {
	p.calls.EndAll(types.CauseLocalHangup, "shutting down")
	p.ringer.Stop()
	p.registration.Stop()
	p.logger.Info().Msg("Softphone stopped")
}

// Snapshot returns the current state.
func (p *Phone) Snapshot() Snapshot {
	list := p.calls.Snapshots()
	if list == nil {
		list = []types.CallSession{}
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return Snapshot{Connection: p.connection, Presence: p.status, Calls: list}
}

// Subscribe returns a channel that always holds the latest Snapshot. The
// returned function stops delivery.
func (p *Phone) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	ch <- p.Snapshot()

	p.mutex.Lock()
	p.subscribers[ch] = struct{}{}
	p.mutex.Unlock()

	return ch, func() {
		p.mutex.Lock()
		delete(p.subscribers, ch)
		p.mutex.Unlock()
	}
}

func (p *Phone) publish() {
	snapshot := p.Snapshot()

	p.mutex.Lock()
	defer p.mutex.Unlock()
	for ch := range p.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

// Incoming hands a new inbound dialog to call control.
func (p *Phone) Incoming(dialog calls.Dialog, remote string) (*calls.Session, error) {
	return p.calls.Incoming(dialog, remote)
}

func (p *Phone) Call(ctx context.Context, destination string) (types.CallSession, error) {
	return p.calls.Call(ctx, destination)
}

func (p *Phone) Answer(id string) error { return p.calls.Answer(id) }

func (p *Phone) HangUp(id string) error { return p.calls.HangUp(id) }

func (p *Phone) Hold(ctx context.Context, id string) error { return p.calls.Hold(ctx, id) }

func (p *Phone) Unhold(ctx context.Context, id string) error { return p.calls.Unhold(ctx, id) }

func (p *Phone) Mute(id string) error { return p.calls.Mute(id) }

func (p *Phone) Unmute(id string) error { return p.calls.Unmute(id) }

func (p *Phone) Transfer(ctx context.Context, id, target string) error {
	return p.calls.Transfer(ctx, id, target)
}

func (p *Phone) SetStatus(status types.PresenceStatus, reason string) error {
	return p.presence.SetStatus(status, reason)
}

// Retry restarts registration after it gave up.
func (p *Phone) Retry() error {
	return p.registration.Retry()
}

// Identity is the agent identity currently configured.
func (p *Phone) Identity() string {
	return p.credentials.Current().Identity
}
