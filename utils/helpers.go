package utils

import (
	"fmt"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// ExtractCallerPhone returns the user part of the From header, or "unknown".
func ExtractCallerPhone(headers []sip.Header) string {
	for _, header := range headers {
		if !strings.EqualFold(header.Name(), "From") {
			continue
		}
		from := header.Value()
		start := strings.Index(from, "sip:")
		if start < 0 {
			continue
		}
		addr := from[start+len("sip:"):]
		if end := strings.IndexAny(addr, ">;"); end >= 0 {
			addr = addr[:end]
		}
		user, _, _ := strings.Cut(addr, "@")
		if user != "" {
			return user
		}
	}
	return "unknown"
}

func GenerateCallID() string {
	return "call_" + uuid.NewString()
}

// DestinationURI turns a dialed destination ("1002", "1002@host" or a full
// sip: URI) into a request URI on the given domain.
func DestinationURI(destination, domain string) (sip.Uri, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return sip.Uri{}, fmt.Errorf("empty destination")
	}

	raw := destination
	if !strings.HasPrefix(raw, "sip:") && !strings.HasPrefix(raw, "sips:") {
		if !strings.Contains(raw, "@") {
			raw = raw + "@" + domain
		}
		raw = "sip:" + raw
	}

	var uri sip.Uri
	if err := sip.ParseUri(raw, &uri); err != nil {
		return sip.Uri{}, fmt.Errorf("invalid destination %q: %w", destination, err)
	}
	return uri, nil
}

// MaskNumber hides all but the last two characters of a phone number.
func MaskNumber(number string) string {
	if len(number) <= 2 {
		return strings.Repeat("*", len(number))
	}
	return strings.Repeat("*", len(number)-2) + number[len(number)-2:]
}
