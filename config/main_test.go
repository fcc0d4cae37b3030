package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		env     map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "defaults fill missing keys",
			body: `{"sip_server": "pbx.example.com:5060"}`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "udp", cfg.SIPProtocol)
				assert.Equal(t, "pbx.example.com", cfg.SIPDomain)
				assert.Equal(t, 2*time.Second, cfg.ReconnectBaseDelay.Std())
				assert.Equal(t, 60*time.Second, cfg.ReconnectCapDelay.Std())
				assert.Equal(t, 8, cfg.MaxReconnectAttempts)
				assert.Equal(t, "0.0.0.0", cfg.SIPContactHost)
				assert.Equal(t, "microphone", cfg.AudioCapture)
				assert.Equal(t, 10*time.Second, cfg.MediaTimeout.Std())
			},
		},
		{
			name: "file values and durations",
			body: `{
				"sip_server": "10.0.0.5",
				"sip_domain": "agents.example.com",
				"reconnect_base_delay": "500ms",
				"reconnect_cap_delay": "10s",
				"max_reconnect_attempts": 3,
				"no_answer_timeout": "20s",
				"log_phone_numbers": true
			}`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "agents.example.com", cfg.SIPDomain)
				assert.Equal(t, 500*time.Millisecond, cfg.ReconnectBaseDelay.Std())
				assert.Equal(t, 10*time.Second, cfg.ReconnectCapDelay.Std())
				assert.Equal(t, 3, cfg.MaxReconnectAttempts)
				assert.Equal(t, 20*time.Second, cfg.NoAnswerTimeout.Std())
				assert.True(t, cfg.LogPhoneNumbers)
			},
		},
		{
			name: "environment overrides file",
			body: `{"sip_server": "10.0.0.5", "max_reconnect_attempts": 3}`,
			env: map[string]string{
				"AGENT_PHONE_SIP_SERVER":             "pbx.internal",
				"AGENT_PHONE_MAX_RECONNECT_ATTEMPTS": "5",
				"AGENT_PHONE_LOG_LEVEL":              "debug",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "pbx.internal", cfg.SIPServer)
				assert.Equal(t, 5, cfg.MaxReconnectAttempts)
				assert.Equal(t, "debug", cfg.LogLevel)
			},
		},
		{
			name:    "missing sip server",
			body:    `{}`,
			wantErr: true,
		},
		{
			name:    "cap below base",
			body:    `{"sip_server": "pbx", "reconnect_base_delay": "5s", "reconnect_cap_delay": "1s"}`,
			wantErr: true,
		},
		{
			name:    "zero media timeout",
			body:    `{"sip_server": "pbx", "media_timeout": "0s"}`,
			wantErr: true,
		},
		{
			name:    "invalid duration",
			body:    `{"sip_server": "pbx", "reconnect_base_delay": "soon"}`,
			wantErr: true,
		},
		{
			name:    "invalid attempts env",
			body:    `{"sip_server": "pbx"}`,
			env:     map[string]string{"AGENT_PHONE_MAX_RECONNECT_ATTEMPTS": "many"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := LoadConfig(writeConfig(t, tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
