package utils

import (
	"strings"
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCallerPhone(t *testing.T) {
	tests := []struct {
		name string
		from string
		want string
	}{
		{"angle brackets", "<sip:1001@pbx.example.com>;tag=abc", "1001"},
		{"display name", `"Alice" <sip:alice@pbx.example.com>;tag=1`, "alice"},
		{"bare uri", "sip:1002@10.0.0.1;tag=x", "1002"},
		{"no sip uri", "anonymous", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := []sip.Header{sip.NewHeader("From", tt.from)}
			assert.Equal(t, tt.want, ExtractCallerPhone(headers))
		})
	}
}

func TestGenerateCallID(t *testing.T) {
	a, b := GenerateCallID(), GenerateCallID()
	assert.True(t, strings.HasPrefix(a, "call_"))
	assert.NotEqual(t, a, b)
}

func TestDestinationURI(t *testing.T) {
	uri, err := DestinationURI("1002", "pbx.example.com")
	require.NoError(t, err)
	assert.Equal(t, "1002", uri.User)
	assert.Equal(t, "pbx.example.com", uri.Host)

	uri, err = DestinationURI("bob@other.example.com", "pbx.example.com")
	require.NoError(t, err)
	assert.Equal(t, "bob", uri.User)
	assert.Equal(t, "other.example.com", uri.Host)

	uri, err = DestinationURI("sip:1003@10.0.0.9:5080", "pbx.example.com")
	require.NoError(t, err)
	assert.Equal(t, "1003", uri.User)
	assert.Equal(t, 5080, uri.Port)

	_, err = DestinationURI("  ", "pbx.example.com")
	assert.Error(t, err)
}

func TestMaskNumber(t *testing.T) {
	assert.Equal(t, "**02", MaskNumber("1002"))
	assert.Equal(t, "**", MaskNumber("12"))
	assert.Equal(t, "", MaskNumber(""))
}
