// Package transfer converts binary media payloads to and from the data-URI
// form used on the wire. Raw bytes never cross the API boundary directly.
package transfer

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DefaultMediaType is used when a record carries no explicit media type.
const DefaultMediaType = "application/octet-stream"

// DataURI encodes a payload as data:<mediaType>;base64,<payload>.
func DataURI(mediaType string, payload []byte) string {
	trimmed := strings.TrimSpace(mediaType)
	if trimmed == "" {
		trimmed = DefaultMediaType
	}
	return fmt.Sprintf("data:%s;base64,%s", trimmed, base64.StdEncoding.EncodeToString(payload))
}

// ParseDataURI is the inverse of DataURI. It returns the declared media type
// and the decoded payload.
func ParseDataURI(uri string) (string, []byte, error) {
	const scheme = "data:"
	if !strings.HasPrefix(uri, scheme) {
		return "", nil, fmt.Errorf("parse data uri: missing %q prefix", scheme)
	}
	rest := uri[len(scheme):]
	meta, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("parse data uri: missing payload separator")
	}
	mediaType, encoding, ok := strings.Cut(meta, ";")
	if !ok || encoding != "base64" {
		return "", nil, fmt.Errorf("parse data uri: expected base64 encoding, got %q", meta)
	}
	if mediaType == "" {
		return "", nil, fmt.Errorf("parse data uri: media type is empty")
	}
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("parse data uri: decode payload: %w", err)
	}
	return mediaType, payload, nil
}
