package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Reverse-Call-Center/agent-phone/softphone"
	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePhone struct {
	mutex    sync.Mutex
	calls    []string
	err      error
	snapshot softphone.Snapshot
	updates  chan softphone.Snapshot
}

func newFakePhone() *fakePhone {
	return &fakePhone{
		snapshot: softphone.Snapshot{
			Connection: types.InitialConnectionState(8),
			Presence:   types.AgentPresence{Status: types.PresenceAvailable},
			Calls:      []types.CallSession{},
		},
		updates: make(chan softphone.Snapshot, 1),
	}
}

func (f *fakePhone) record(format string, args ...any) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.err
}

func (f *fakePhone) recorded() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePhone) Snapshot() softphone.Snapshot { return f.snapshot }

func (f *fakePhone) Subscribe() (<-chan softphone.Snapshot, func()) {
	f.updates <- f.snapshot
	return f.updates, func() {}
}

func (f *fakePhone) Call(ctx context.Context, destination string) (types.CallSession, error) {
	if err := f.record("call %s", destination); err != nil {
		return types.CallSession{}, err
	}
	return types.CallSession{ID: "c1", Direction: types.DirectionOutgoing, RemoteIdentity: destination,
		State: types.StateRingingOutgoing}, nil
}

func (f *fakePhone) Answer(id string) error { return f.record("answer %s", id) }
func (f *fakePhone) HangUp(id string) error { return f.record("hangup %s", id) }
func (f *fakePhone) Mute(id string) error   { return f.record("mute %s", id) }
func (f *fakePhone) Unmute(id string) error { return f.record("unmute %s", id) }
func (f *fakePhone) Retry() error           { return f.record("retry") }
func (f *fakePhone) Hold(ctx context.Context, id string) error {
	return f.record("hold %s", id)
}
func (f *fakePhone) Unhold(ctx context.Context, id string) error {
	return f.record("unhold %s", id)
}
func (f *fakePhone) Transfer(ctx context.Context, id, target string) error {
	return f.record("transfer %s %s", id, target)
}
func (f *fakePhone) SetStatus(status types.PresenceStatus, reason string) error {
	return f.record("status %s %s", status, reason)
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{Command{Action: "call", Destination: "1002"}, "call 1002"},
		{Command{Action: "answer", CallID: "c1"}, "answer c1"},
		{Command{Action: "hangup"}, "hangup "},
		{Command{Action: "hold", CallID: "c1"}, "hold c1"},
		{Command{Action: "unhold", CallID: "c1"}, "unhold c1"},
		{Command{Action: "mute"}, "mute "},
		{Command{Action: "unmute"}, "unmute "},
		{Command{Action: "transfer", CallID: "c1", Target: "2001"}, "transfer c1 2001"},
		{Command{Action: "set_status", Status: "paused", Reason: "lunch"}, "status paused lunch"},
		{Command{Action: "retry"}, "retry"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.Action, func(t *testing.T) {
			phone := newFakePhone()
			cmd := tt.cmd
			cmd.ID = "r1"
			result := Dispatch(context.Background(), phone, cmd)
			assert.True(t, result.OK)
			assert.Equal(t, "r1", result.ID)
			assert.Equal(t, []string{tt.want}, phone.recorded())
		})
	}

	t.Run("call returns session", func(t *testing.T) {
		result := Dispatch(context.Background(), newFakePhone(), Command{Action: "call", Destination: "1002"})
		require.NotNil(t, result.Call)
		assert.Equal(t, "c1", result.Call.ID)
	})

	t.Run("unknown action", func(t *testing.T) {
		result := Dispatch(context.Background(), newFakePhone(), Command{Action: "dance"})
		assert.False(t, result.OK)
		assert.Contains(t, result.Error, "unknown action")
	})

	t.Run("error", func(t *testing.T) {
		phone := newFakePhone()
		phone.err = types.ErrBusy
		result := Dispatch(context.Background(), phone, Command{Action: "answer"})
		assert.False(t, result.OK)
		assert.Equal(t, types.ErrBusy.Error(), result.Error)
	})
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusOK, statusCode(nil))
	assert.Equal(t, http.StatusNotFound, statusCode(types.ErrSessionNotFound))
	assert.Equal(t, http.StatusConflict, statusCode(types.ErrBusy))
	assert.Equal(t, http.StatusConflict, statusCode(fmt.Errorf("%w: hold", types.ErrInvalidState)))
	assert.Equal(t, http.StatusServiceUnavailable, statusCode(types.ErrNotRegistered))
	assert.Equal(t, http.StatusNotImplemented, statusCode(types.ErrUnsupported))
	assert.Equal(t, http.StatusBadRequest, statusCode(types.ErrPauseReasonRequired))
}

func TestHealthAndState(t *testing.T) {
	router := NewRouter(newFakePhone(), zerolog.Nop())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var snap softphone.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, types.PresenceAvailable, snap.Presence.Status)
	assert.Equal(t, types.RegistrationUnregistered, snap.Connection.RegistrationStatus)
}

func TestCommandsEndpoint(t *testing.T) {
	phone := newFakePhone()
	router := NewRouter(phone, zerolog.Nop())

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/commands", bytes.NewBufferString(body)))
		return rec
	}

	rec := post(`{"action":"call","destination":"1002"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.OK)
	require.NotNil(t, result.Call)
	assert.Equal(t, "1002", result.Call.RemoteIdentity)

	rec = post(`{"action":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	phone.err = types.ErrNotRegistered
	rec = post(`{"action":"retry"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), types.ErrNotRegistered.Error())
}

func TestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	handler := Logger(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/test", entry["path"])
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, "request completed", entry["message"])
}

func TestWebsocket(t *testing.T) {
	phone := newFakePhone()
	server := httptest.NewServer(NewRouter(phone, zerolog.Nop()))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var state struct {
		Type  string             `json:"type"`
		State softphone.Snapshot `json:"state"`
	}
	require.NoError(t, conn.ReadJSON(&state))
	assert.Equal(t, "state", state.Type)
	assert.Equal(t, types.PresenceAvailable, state.State.Presence.Status)

	require.NoError(t, conn.WriteJSON(Command{ID: "42", Action: "hangup", CallID: "c1"}))

	var result Result
	require.NoError(t, conn.ReadJSON(&result))
	assert.Equal(t, "result", result.Type)
	assert.Equal(t, "42", result.ID)
	assert.True(t, result.OK)
	assert.Equal(t, []string{"hangup c1"}, phone.recorded())

	phone.updates <- softphone.Snapshot{Presence: types.AgentPresence{Status: types.PresenceOnCall}}
	require.NoError(t, conn.ReadJSON(&state))
	assert.Equal(t, types.PresenceOnCall, state.State.Presence.Status)
}
