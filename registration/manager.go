package registration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Transport is the signaling connection the manager drives.
type Transport interface {
	// Connect opens the connection. onDrop is called at most once per
	// successful Connect when the connection is lost unexpectedly.
	Connect(ctx context.Context, onDrop func(error)) error
	Register(ctx context.Context, creds types.Credentials) error
	Unregister(ctx context.Context) error
	Close() error
}

type Options struct {
	Backoff     Backoff
	MaxAttempts int
	Clock       clock.Clock
	Logger      zerolog.Logger

	// Allowed reports whether presence currently permits registration.
	Allowed func() bool
	// OnChange receives every ConnectionState update. It runs with the
	// manager locked and must not call back into the Manager.
	OnChange func(types.ConnectionState)
}

// Manager owns the transport and keeps the agent registered, reconnecting
// with bounded exponential backoff after transient failures.
type Manager struct {
	transport Transport
	opts      Options
	logger    zerolog.Logger

	// opMutex serialises transport use across attempts and teardown.
	opMutex sync.Mutex

	mutex      sync.Mutex
	creds      types.Credentials
	state      types.ConnectionState
	running    bool
	generation uint64
	timer      *clock.Timer
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewManager(transport Transport, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Allowed == nil {
		opts.Allowed = func() bool { return true }
	}
	return &Manager{
		transport: transport,
		opts:      opts,
		logger:    opts.Logger.With().Str("component", "registration").Logger(),
		state:     types.InitialConnectionState(opts.MaxAttempts),
	}
}

func (m *Manager) State() types.ConnectionState {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

func (m *Manager) Credentials() types.Credentials {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.creds
}

// Start stores creds and begins connecting from attempt zero. Any running
// sequence is torn down first.
func (m *Manager) Start(creds types.Credentials) error {
	if creds.Empty() {
		return types.ErrNoCredentials
	}
	m.teardown()

	m.mutex.Lock()
	m.creds = creds
	gen := m.restartLocked()
	m.mutex.Unlock()

	go m.attempt(gen)
	return nil
}

// Stop cancels any pending reconnect, unregisters best-effort and closes
// the transport. ConnectionState goes back to its initial value.
func (m *Manager) Stop() {
	m.teardown()
}

// UpdateCredentials replaces the credentials. A running sequence restarts
// from attempt zero; a stopped manager only remembers them.
func (m *Manager) UpdateCredentials(creds types.Credentials) error {
	m.mutex.Lock()
	running := m.running
	m.creds = creds
	m.mutex.Unlock()

	if creds.Empty() {
		m.teardown()
		m.mutex.Lock()
		m.state.LastError = types.ErrNoCredentials.Error()
		m.publishLocked()
		m.mutex.Unlock()
		return nil
	}
	if !running {
		return nil
	}
	return m.Start(creds)
}

// Retry restarts the sequence after a fatal error.
func (m *Manager) Retry() error {
	creds := m.Credentials()
	if creds.Empty() {
		return types.ErrNoCredentials
	}
	if !m.opts.Allowed() {
		return types.ErrTemporarilyUnavailable
	}
	return m.Start(creds)
}

func (m *Manager) restartLocked() uint64 {
	m.generation++
	m.running = true
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.state = types.InitialConnectionState(m.opts.MaxAttempts)
	m.publishLocked()
	return m.generation
}

func (m *Manager) teardown() {
	m.mutex.Lock()
	m.generation++
	wasRegistered := m.state.Registered()
	wasRunning := m.running
	m.running = false
	m.stopTimerLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.state = types.InitialConnectionState(m.opts.MaxAttempts)
	m.publishLocked()
	m.mutex.Unlock()

	if !wasRunning {
		return
	}

	m.opMutex.Lock()
	defer m.opMutex.Unlock()

	if wasRegistered {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := m.transport.Unregister(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("Unregister failed")
		}
		cancel()
	}
	if err := m.transport.Close(); err != nil {
		m.logger.Debug().Err(err).Msg("Transport close")
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// begin returns the attempt context when gen is still the live generation
// and marks the pending reconnect, if any, as consumed.
func (m *Manager) begin(gen uint64) (context.Context, types.Credentials, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if gen != m.generation || !m.running {
		return nil, types.Credentials{}, false
	}
	m.timer = nil
	return m.ctx, m.creds, true
}

func (m *Manager) attempt(gen uint64) {
	m.opMutex.Lock()
	defer m.opMutex.Unlock()

	ctx, creds, ok := m.begin(gen)
	if !ok {
		return
	}

	m.update(gen, func(s *types.ConnectionState) {
		s.TransportStatus = types.TransportConnecting
		s.RegistrationStatus = types.RegistrationUnregistered
	})

	err := m.transport.Connect(ctx, func(err error) { m.handleDrop(gen, err) })
	if err != nil {
		m.logger.Warn().Err(err).Msg("Transport connect failed")
		m.fail(gen, fmt.Errorf("connect: %w", err))
		return
	}

	if !m.update(gen, func(s *types.ConnectionState) {
		s.TransportStatus = types.TransportConnected
		s.RegistrationStatus = types.RegistrationRegistering
	}) {
		_ = m.transport.Close()
		return
	}

	if err := m.transport.Register(ctx, creds); err != nil {
		m.logger.Warn().Err(err).Msg("Register failed")
		_ = m.transport.Close()
		m.fail(gen, fmt.Errorf("register: %w", err))
		return
	}

	if !m.update(gen, func(s *types.ConnectionState) {
		s.TransportStatus = types.TransportConnected
		s.RegistrationStatus = types.RegistrationRegistered
		s.ReconnectAttempt = 0
		s.Reconnecting = false
		s.Fatal = false
		s.LastError = ""
	}) {
		return
	}
	m.logger.Info().Str("identity", creds.Identity).Msg("Registered")
}

// update applies fn when gen is current and reports whether it did.
func (m *Manager) update(gen uint64, fn func(*types.ConnectionState)) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if gen != m.generation || !m.running {
		return false
	}
	fn(&m.state)
	m.publishLocked()
	return true
}

func (m *Manager) handleDrop(gen uint64, err error) {
	if err == nil {
		err = errors.New("connection lost")
	}
	m.logger.Warn().Err(err).Msg("Transport dropped")
	m.fail(gen, err)
}

func (m *Manager) fail(gen uint64, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if gen != m.generation || !m.running {
		return
	}
	// A drop reported during Register and the Register error itself settle
	// the same attempt; only the first one schedules.
	if m.timer != nil {
		return
	}

	m.state.TransportStatus = types.TransportDisconnected
	m.state.LastError = err.Error()

	if Classify(err) == FailureAuth {
		m.state.RegistrationStatus = types.RegistrationFailed
		m.state.Reconnecting = false
		m.state.Fatal = true
		m.publishLocked()
		m.logger.Error().Err(err).Msg("Authentication rejected, not retrying")
		return
	}

	m.state.RegistrationStatus = types.RegistrationUnregistered
	m.scheduleLocked(gen, err)
}

func (m *Manager) scheduleLocked(gen uint64, cause error) {
	var gate error
	switch {
	case m.creds.Empty():
		gate = types.ErrNoCredentials
	case !m.opts.Allowed():
		gate = types.ErrTemporarilyUnavailable
	case m.state.ReconnectAttempt >= m.opts.MaxAttempts:
		gate = types.ErrReconnectExhausted
	}
	if gate != nil {
		m.state.RegistrationStatus = types.RegistrationFailed
		m.state.Reconnecting = false
		m.state.Fatal = true
		m.state.LastError = fmt.Sprintf("%v (last error: %v)", gate, cause)
		m.publishLocked()
		m.logger.Error().Err(cause).Str("gate", gate.Error()).Msg("Not reconnecting")
		return
	}

	delay := m.opts.Backoff.Delay(m.state.ReconnectAttempt)
	m.state.ReconnectAttempt++
	m.state.Reconnecting = true
	m.stopTimerLocked()
	m.timer = m.opts.Clock.AfterFunc(delay, func() { m.attempt(gen) })
	m.publishLocked()

	m.logger.Info().
		Dur("delay", delay).
		Int("attempt", m.state.ReconnectAttempt).
		Int("max_attempts", m.opts.MaxAttempts).
		Msg("Reconnect scheduled")
}

func (m *Manager) publishLocked() {
	if m.opts.OnChange != nil {
		m.opts.OnChange(m.state)
	}
}
