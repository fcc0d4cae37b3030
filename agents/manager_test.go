package agents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistration struct {
	mutex   sync.Mutex
	stops   int
	retries int
}

func (r *fakeRegistration) Retry() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.retries++
	return nil
}

func (r *fakeRegistration) Stop() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.stops++
}

func (r *fakeRegistration) counts() (stops, retries int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.stops, r.retries
}

type fakeReporter struct {
	mutex    sync.Mutex
	err      error
	reported []types.AgentPresence
}

func (r *fakeReporter) ReportStatus(ctx context.Context, presence types.AgentPresence) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.reported = append(r.reported, presence)
	return r.err
}

func (r *fakeReporter) last() (types.AgentPresence, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.reported) == 0 {
		return types.AgentPresence{}, false
	}
	return r.reported[len(r.reported)-1], true
}

func newTestManager(reporter Reporter) (*Manager, *fakeRegistration) {
	registration := &fakeRegistration{}
	return NewManager(registration, reporter, Options{Logger: zerolog.Nop()}), registration
}

func TestSetStatusValidation(t *testing.T) {
	m, _ := newTestManager(nil)

	tests := []struct {
		name   string
		status types.PresenceStatus
		reason string
		err    error
	}{
		{"on_call is reserved", types.PresenceOnCall, "", types.ErrOnCallReserved},
		{"pause needs a reason", types.PresencePaused, "", types.ErrPauseReasonRequired},
		{"unknown status", types.PresenceStatus("lunch"), "", types.ErrUnknownStatus},
		{"pause with reason", types.PresencePaused, "break", nil},
		{"available", types.PresenceAvailable, "ignored", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.SetStatus(tt.status, tt.reason)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.status, m.Status())
		})
	}
	assert.Empty(t, m.Presence().PauseReason)
}

func TestStatusGatesRegistration(t *testing.T) {
	m, registration := newTestManager(nil)
	assert.True(t, m.Allowed())

	require.NoError(t, m.SetStatus(types.PresencePaused, "training"))
	assert.False(t, m.Allowed())
	assert.Equal(t, "training", m.Presence().PauseReason)
	stops, retries := registration.counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 0, retries)

	require.NoError(t, m.SetStatus(types.PresenceDoNotDisturb, ""))
	require.NoError(t, m.SetStatus(types.PresenceAvailable, ""))
	assert.True(t, m.Allowed())
	stops, retries = registration.counts()
	assert.Equal(t, 2, stops)
	assert.Equal(t, 1, retries)

	// available to available does not touch registration
	require.NoError(t, m.SetStatus(types.PresenceAvailable, ""))
	_, retries = registration.counts()
	assert.Equal(t, 1, retries)
}

func TestOnCallRevertsWhenCallsEnd(t *testing.T) {
	var changes []types.PresenceStatus
	registration := &fakeRegistration{}
	m := NewManager(registration, nil, Options{
		Logger:   zerolog.Nop(),
		OnChange: func(p types.AgentPresence) { changes = append(changes, p.Status) },
	})

	m.CallStarted()
	m.CallStarted()
	assert.Equal(t, types.PresenceOnCall, m.Status())
	assert.True(t, m.Allowed())

	m.CallsEnded()
	assert.Equal(t, types.PresenceAvailable, m.Status())
	assert.Equal(t, []types.PresenceStatus{types.PresenceOnCall, types.PresenceAvailable}, changes)

	m.CallsEnded()
	assert.Len(t, changes, 2)
	stops, retries := registration.counts()
	assert.Zero(t, stops)
	assert.Zero(t, retries)
}

func TestStatusChangeDuringCallIsDeferred(t *testing.T) {
	m, registration := newTestManager(nil)
	m.CallStarted()

	require.NoError(t, m.SetStatus(types.PresencePaused, "after call work"))
	assert.Equal(t, types.PresenceOnCall, m.Status())
	stops, _ := registration.counts()
	assert.Zero(t, stops)

	m.CallsEnded()
	presence := m.Presence()
	assert.Equal(t, types.PresencePaused, presence.Status)
	assert.Equal(t, "after call work", presence.PauseReason)
	stops, _ = registration.counts()
	assert.Equal(t, 1, stops)
}

func TestRunReportsLatestStatus(t *testing.T) {
	reporter := &fakeReporter{}
	m, _ := newTestManager(reporter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.NoError(t, m.SetStatus(types.PresencePaused, "lunch"))
	require.Eventually(t, func() bool {
		p, ok := reporter.last()
		return ok && p.Status == types.PresencePaused && p.PauseReason == "lunch"
	}, time.Second, 5*time.Millisecond)
}

func TestReportFailureKeepsLocalStatus(t *testing.T) {
	reporter := &fakeReporter{err: errors.New("collector down")}
	m, _ := newTestManager(reporter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.NoError(t, m.SetStatus(types.PresenceDoNotDisturb, ""))
	require.Eventually(t, func() bool {
		_, ok := reporter.last()
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, types.PresenceDoNotDisturb, m.Status())
}
