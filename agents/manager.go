package agents

import (
	"context"
	"sync"
	"time"

	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/rs/zerolog"
)

// Registration is the part of the registration manager presence drives.
type Registration interface {
	Retry() error
	Stop()
}

// Reporter persists the agent's presence with the remote collaborator.
type Reporter interface {
	ReportStatus(ctx context.Context, presence types.AgentPresence) error
}

type Options struct {
	Logger        zerolog.Logger
	ReportTimeout time.Duration
	// OnChange receives every AgentPresence update. It runs with the
	// manager locked and must not call back into the Manager.
	OnChange func(types.AgentPresence)
}

// Manager owns the agent's presence. Users choose available, paused,
// do_not_disturb or unavailable; on_call is set while a call is live and
// the user's choice is restored (or a choice made during the call applied)
// once the last call ends.
type Manager struct {
	registration Registration
	reporter     Reporter
	opts         Options
	logger       zerolog.Logger

	mutex    sync.Mutex
	current  types.AgentPresence
	resume   types.AgentPresence
	deferred *types.AgentPresence
	onCall   bool

	pending *types.AgentPresence
	wake    chan struct{}
}

func NewManager(registration Registration, reporter Reporter, opts Options) *Manager {
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = 5 * time.Second
	}
	return &Manager{
		registration: registration,
		reporter:     reporter,
		opts:         opts,
		logger:       opts.Logger.With().Str("component", "presence").Logger(),
		current:      types.AgentPresence{Status: types.PresenceAvailable},
		wake:         make(chan struct{}, 1),
	}
}

func (m *Manager) Presence() types.AgentPresence {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.current
}

func (m *Manager) Status() types.PresenceStatus {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.current.Status
}

// Allowed reports whether the current status lets the agent register.
func (m *Manager) Allowed() bool {
	return !m.Status().BlocksRegistration()
}

// SetStatus applies a user-chosen status. While a call is live the choice
// is kept and applied when the call ends.
func (m *Manager) SetStatus(status types.PresenceStatus, reason string) error {
	switch {
	case !status.Valid():
		return types.ErrUnknownStatus
	case status == types.PresenceOnCall:
		return types.ErrOnCallReserved
	case status == types.PresencePaused && reason == "":
		return types.ErrPauseReasonRequired
	}
	if status != types.PresencePaused {
		reason = ""
	}
	next := types.AgentPresence{Status: status, PauseReason: reason}

	m.mutex.Lock()
	if m.onCall {
		m.deferred = &next
		m.mutex.Unlock()
		m.logger.Info().Str("status", string(status)).Msg("Status change deferred until the call ends")
		return nil
	}
	prev := m.current
	m.setLocked(next)
	m.mutex.Unlock()

	m.logger.Info().Str("status", string(status)).Str("reason", reason).Msg("Status changed")
	m.gate(prev.Status, next.Status)
	return nil
}

// CallStarted marks the agent on_call.
func (m *Manager) CallStarted() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.onCall {
		return
	}
	m.onCall = true
	m.resume = m.current
	m.setLocked(types.AgentPresence{Status: types.PresenceOnCall})
}

// CallsEnded restores the user's status once no call is live.
func (m *Manager) CallsEnded() {
	m.mutex.Lock()
	if !m.onCall {
		m.mutex.Unlock()
		return
	}
	m.onCall = false
	next := m.resume
	if m.deferred != nil {
		next = *m.deferred
		m.deferred = nil
	}
	prev := m.resume
	m.setLocked(next)
	m.mutex.Unlock()

	m.gate(prev.Status, next.Status)
}

func (m *Manager) setLocked(next types.AgentPresence) {
	m.current = next
	if m.opts.OnChange != nil {
		m.opts.OnChange(next)
	}
	m.pending = &next
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// gate starts or stops registration for a status change.
func (m *Manager) gate(prev, next types.PresenceStatus) {
	if m.registration == nil {
		return
	}
	switch {
	case next.BlocksRegistration():
		m.registration.Stop()
	case prev.BlocksRegistration():
		if err := m.registration.Retry(); err != nil {
			m.logger.Warn().Err(err).Msg("Could not resume registration")
		}
	}
}

// Run reports presence changes to the remote collaborator until ctx is
// done. Only the latest status is sent when changes pile up.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}

		m.mutex.Lock()
		p := m.pending
		m.pending = nil
		m.mutex.Unlock()
		if p == nil || m.reporter == nil {
			continue
		}

		reportCtx, cancel := context.WithTimeout(ctx, m.opts.ReportTimeout)
		err := m.reporter.ReportStatus(reportCtx, *p)
		cancel()
		if err != nil {
			m.logger.Warn().Err(err).Str("status", string(p.Status)).Msg("Failed to report presence")
			continue
		}
		m.logger.Debug().Str("status", string(p.Status)).Msg("Presence reported")
	}
}
