package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// recordSeparator terminates every JSON record on the wire.
const recordSeparator byte = 0x1e

// Hub record types.
const (
	messageInvocation = 1
	messageCompletion = 3
	messagePing       = 6
	messageClose      = 7
)

// DefaultHubPath is appended to the API origin when no hub path is configured.
const DefaultHubPath = "/hubs/chat"

var handshakeRequest = []byte(`{"protocol":"json","version":1}`)

// outboundMessage is an invocation written to the hub.
type outboundMessage struct {
	Type         int    `json:"type"`
	InvocationID string `json:"invocationId,omitempty"`
	Target       string `json:"target,omitempty"`
	Arguments    []any  `json:"arguments"`
}

// inboundMessage covers every record type the hub may send.
type inboundMessage struct {
	Type           int               `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// HubError is an error reported by the hub for an invocation.
type HubError struct {
	Target  string
	Message string
}

func (e *HubError) Error() string {
	return fmt.Sprintf("hub invocation %s failed: %s", e.Target, e.Message)
}

// frame appends the record separator to an encoded record.
func frame(record []byte) []byte {
	out := make([]byte, 0, len(record)+1)
	out = append(out, record...)
	return append(out, recordSeparator)
}

func encode(msg outboundMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return frame(data), nil
}

// splitRecords returns the non-empty records in a websocket payload.
func splitRecords(payload []byte) [][]byte {
	parts := bytes.Split(payload, []byte{recordSeparator})
	records := make([][]byte, 0, len(parts))
	for _, p := range parts {
		if len(bytes.TrimSpace(p)) > 0 {
			records = append(records, p)
		}
	}
	return records
}

func parseHandshake(payload []byte) error {
	records := splitRecords(payload)
	if len(records) == 0 {
		return errors.New("empty handshake response")
	}
	var resp handshakeResponse
	if err := json.Unmarshal(records[0], &resp); err != nil {
		return fmt.Errorf("malformed handshake response: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("handshake rejected: %s", resp.Error)
	}
	return nil
}

// HubURL derives the websocket hub address from the REST API base URL.
// A trailing "/api" segment is replaced by hubPath and the scheme is switched to ws/wss.
func HubURL(apiBase, hubPath string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(apiBase))
	if err != nil {
		return "", fmt.Errorf("invalid API base URL: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported API base URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("API base URL has no host")
	}

	if hubPath == "" {
		hubPath = DefaultHubPath
	}
	if !strings.HasPrefix(hubPath, "/") {
		hubPath = "/" + hubPath
	}

	base := strings.TrimSuffix(u.Path, "/")
	base = strings.TrimSuffix(base, "/api")
	u.Path = base + hubPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
