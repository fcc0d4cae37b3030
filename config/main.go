package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Duration is a time.Duration that reads "1s"/"500ms" strings from JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	SIPProtocol      string `json:"sip_protocol"`
	SIPPort          int    `json:"sip_port"`
	SIPListenAddress string `json:"sip_listen_address"`
	SIPServer        string `json:"sip_server"`
	SIPDomain        string `json:"sip_domain"`
	SIPContactHost   string `json:"sip_contact_host"`

	RegisterExpiry       Duration `json:"register_expiry"`
	KeepaliveInterval    Duration `json:"keepalive_interval"`
	NoAnswerTimeout      Duration `json:"no_answer_timeout"`
	ReconnectBaseDelay   Duration `json:"reconnect_base_delay"`
	ReconnectCapDelay    Duration `json:"reconnect_cap_delay"`
	MaxReconnectAttempts int      `json:"max_reconnect_attempts"`
	EndedRetention       Duration `json:"ended_retention"`
	RingtoneInterval     Duration `json:"ringtone_interval"`
	MediaTimeout         Duration `json:"media_timeout"`

	PresenceGRPCAddress string `json:"presence_grpc_address"`
	UIListenAddress     string `json:"ui_listen_address"`
	CredentialsFile     string `json:"credentials_file"`

	AudioCapture    string `json:"audio_capture"`
	PlaybackCommand string `json:"playback_command"`

	LogLevel        string `json:"log_level"`
	LogPhoneNumbers bool   `json:"log_phone_numbers"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	return &Config{
		SIPProtocol:          "udp",
		SIPPort:              5070,
		SIPListenAddress:     "0.0.0.0",
		RegisterExpiry:       Duration(300 * time.Second),
		KeepaliveInterval:    Duration(30 * time.Second),
		NoAnswerTimeout:      Duration(45 * time.Second),
		ReconnectBaseDelay:   Duration(2 * time.Second),
		ReconnectCapDelay:    Duration(60 * time.Second),
		MaxReconnectAttempts: 8,
		EndedRetention:       Duration(3 * time.Second),
		RingtoneInterval:     Duration(4 * time.Second),
		MediaTimeout:         Duration(10 * time.Second),
		UIListenAddress:      "127.0.0.1:8089",
		AudioCapture:         "microphone",
		LogLevel:             "info",
	}
}

// LoadConfig reads the JSON file at path on top of the defaults, then applies
// environment overrides (a .env file is loaded first when present).
func LoadConfig(path string) (*Config, error) {
	config := Default()

	if path != "" {
		configData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error opening config file: %w", err)
		}
		if err := json.Unmarshal(configData, config); err != nil {
			return nil, fmt.Errorf("error decoding config JSON: %w", err)
		}
	}

	_ = godotenv.Load()
	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	c.SIPServer = getEnv("AGENT_PHONE_SIP_SERVER", c.SIPServer)
	c.SIPDomain = getEnv("AGENT_PHONE_SIP_DOMAIN", c.SIPDomain)
	c.PresenceGRPCAddress = getEnv("AGENT_PHONE_PRESENCE_ADDR", c.PresenceGRPCAddress)
	c.UIListenAddress = getEnv("AGENT_PHONE_UI_ADDR", c.UIListenAddress)
	c.LogLevel = getEnv("AGENT_PHONE_LOG_LEVEL", c.LogLevel)
	c.CredentialsFile = getEnv("AGENT_PHONE_CREDENTIALS_FILE", c.CredentialsFile)

	if v := os.Getenv("AGENT_PHONE_MAX_RECONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid AGENT_PHONE_MAX_RECONNECT_ATTEMPTS: %w", err)
		}
		c.MaxReconnectAttempts = n
	}
	return nil
}

func (c *Config) Validate() error {
	if c.SIPServer == "" {
		return errors.New("sip_server is required")
	}
	if c.ReconnectBaseDelay <= 0 {
		return errors.New("reconnect_base_delay must be positive")
	}
	if c.ReconnectCapDelay < c.ReconnectBaseDelay {
		return errors.New("reconnect_cap_delay must not be below reconnect_base_delay")
	}
	if c.MediaTimeout <= 0 {
		return errors.New("media_timeout must be positive")
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.New("max_reconnect_attempts must not be negative")
	}
	if c.SIPDomain == "" {
		host, _, err := net.SplitHostPort(c.SIPServer)
		if err != nil {
			host = c.SIPServer
		}
		c.SIPDomain = host
	}
	if c.SIPContactHost == "" {
		c.SIPContactHost = c.SIPListenAddress
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
