package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TunnelConnectionMode discriminates the concrete shape of a tunnel
// endpoint on the wire.
type TunnelConnectionMode string

const (
	// ConnectionModeLocalNetwork reaches the host directly over the
	// local network.
	ConnectionModeLocalNetwork TunnelConnectionMode = "LocalNetwork"

	// ConnectionModeTunnelRelay reaches the host through a tunnel
	// relay service.
	ConnectionModeTunnelRelay TunnelConnectionMode = "TunnelRelay"

	// ConnectionModeLiveShareRelay appears in one legacy contract
	// generation. Recognized so the codec can report it as
	// unsupported rather than invalid; never dispatched.
	//
	// Deprecated: superseded by ConnectionModeTunnelRelay.
	ConnectionModeLiveShareRelay TunnelConnectionMode = "LiveShareRelay"
)

// ParseConnectionMode matches a wire discriminator value against the
// known connection modes, case-insensitively. Legacy emitters send
// camelCase ("tunnelRelay"); the canonical form is PascalCase.
func ParseConnectionMode(s string) (TunnelConnectionMode, bool) {
	for _, mode := range []TunnelConnectionMode{ConnectionModeLocalNetwork, ConnectionModeTunnelRelay, ConnectionModeLiveShareRelay} {
		if strings.EqualFold(s, string(mode)) {
			return mode, true
		}
	}
	return "", false
}

// connectionModeKey is the JSON discriminator field, matched
// case-insensitively against the object's keys.
const connectionModeKey = "connectionMode"

// FormatError reports a malformed or undecodable wire payload. It is
// deterministic over the input bytes and never retried.
type FormatError struct {
	// Message describes what was wrong with the payload.
	Message string

	// Value is the offending token or value, when one exists.
	Value string
}

func (e *FormatError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %q", e.Message, e.Value)
	}
	return e.Message
}

// TunnelEndpoint is a connection-mode-specific description of how to
// reach a tunnel's host. The set of implementations is closed:
// LocalNetworkEndpoint and TunnelRelayEndpoint.
type TunnelEndpoint interface {
	// ConnectionMode identifies the concrete variant. The value is
	// derived from the variant's type, so it can never disagree with
	// the shape it accompanies.
	ConnectionMode() TunnelConnectionMode

	// HostID returns the endpoint's host identity.
	HostID() string
}

// EndpointBase carries the fields shared by every endpoint variant.
type EndpointBase struct {
	// ID is the identity of the host that registered the endpoint.
	ID string `json:"hostId"`

	// HostPublicKeys optionally lists the host's public keys.
	HostPublicKeys []string `json:"hostPublicKeys,omitempty"`

	// PortURIFormat is a template for per-port client URIs. It
	// contains the literal token {port}.
	PortURIFormat string `json:"portUriFormat,omitempty"`

	// PortSSHCommandFormat is a template for per-port SSH commands.
	// It contains the literal token {port}.
	PortSSHCommandFormat string `json:"portSshCommandFormat,omitempty"`
}

// HostID implements TunnelEndpoint.
func (b *EndpointBase) HostID() string { return b.ID }

// LocalNetworkEndpoint describes a host reachable directly on the
// local network.
type LocalNetworkEndpoint struct {
	EndpointBase

	// HostEndpoints lists the URIs at which the host accepts
	// connections.
	HostEndpoints []string `json:"hostEndpoints"`
}

// ConnectionMode implements TunnelEndpoint.
func (*LocalNetworkEndpoint) ConnectionMode() TunnelConnectionMode {
	return ConnectionModeLocalNetwork
}

// TunnelRelayEndpoint describes a host reachable through a tunnel
// relay service.
type TunnelRelayEndpoint struct {
	EndpointBase

	// HostRelayURI is the relay URI the host connects to.
	HostRelayURI string `json:"hostRelayUri,omitempty"`

	// ClientRelayURI is the relay URI clients connect to.
	ClientRelayURI string `json:"clientRelayUri,omitempty"`
}

// ConnectionMode implements TunnelEndpoint.
func (*TunnelRelayEndpoint) ConnectionMode() TunnelConnectionMode {
	return ConnectionModeTunnelRelay
}

// MarshalEndpoint serializes an endpoint to a JSON object containing
// all fields of the concrete variant plus the connectionMode
// discriminator.
func MarshalEndpoint(e TunnelEndpoint) ([]byte, error) {
	switch v := e.(type) {
	case *LocalNetworkEndpoint:
		return json.Marshal(struct {
			ConnectionMode TunnelConnectionMode `json:"connectionMode"`
			*LocalNetworkEndpoint
		}{v.ConnectionMode(), v})
	case *TunnelRelayEndpoint:
		return json.Marshal(struct {
			ConnectionMode TunnelConnectionMode `json:"connectionMode"`
			*TunnelRelayEndpoint
		}{v.ConnectionMode(), v})
	default:
		return nil, fmt.Errorf("unknown endpoint type %T", e)
	}
}

// UnmarshalEndpoint deserializes a JSON object into the endpoint
// variant selected by its connectionMode discriminator. The
// discriminator governs dispatch regardless of the object's structural
// shape; a relay-mode object carrying hostEndpoints still decodes as a
// TunnelRelayEndpoint.
//
// The discriminator is located by a token-level scan of the object's
// top-level properties, independent of key order, without fully
// parsing the rest of the document; the input slice is then re-parsed
// whole into the selected shape. All failures are *FormatError.
func UnmarshalEndpoint(data []byte) (TunnelEndpoint, error) {
	mode, err := scanConnectionMode(data)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ConnectionModeLocalNetwork:
		var e LocalNetworkEndpoint
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, &FormatError{Message: "malformed endpoint object: " + err.Error()}
		}
		return &e, nil
	case ConnectionModeTunnelRelay:
		var e TunnelRelayEndpoint
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, &FormatError{Message: "malformed endpoint object: " + err.Error()}
		}
		return &e, nil
	default:
		// Recognized by the enum but not dispatchable (LiveShareRelay).
		return nil, &FormatError{Message: "unsupported connection mode", Value: string(mode)}
	}
}

// scanConnectionMode walks the top-level tokens of a JSON object to
// find the discriminator value. It reads from a fresh decoder over the
// input slice, so the caller's bytes are never consumed or mutated.
func scanConnectionMode(data []byte) (TunnelConnectionMode, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return "", &FormatError{Message: "malformed JSON: " + err.Error()}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return "", &FormatError{Message: "expected object"}
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return "", &FormatError{Message: "malformed JSON: " + err.Error()}
		}
		key, _ := keyTok.(string)

		if !strings.EqualFold(key, connectionModeKey) {
			// Skip the property's value without interpreting it.
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return "", &FormatError{Message: "malformed JSON: " + err.Error()}
			}
			continue
		}

		valTok, err := dec.Token()
		if err != nil {
			return "", &FormatError{Message: "malformed JSON: " + err.Error()}
		}
		value, ok := valTok.(string)
		if !ok {
			return "", &FormatError{Message: "invalid connection mode value", Value: fmt.Sprint(valTok)}
		}
		mode, ok := ParseConnectionMode(value)
		if !ok {
			return "", &FormatError{Message: "invalid connection mode value", Value: value}
		}
		return mode, nil
	}

	return "", &FormatError{Message: "missing " + connectionModeKey}
}

// EndpointList marshals a heterogeneous list of endpoints through the
// connection-mode codec, so tunnels hydrate their endpoints without
// the caller knowing each concrete shape.
type EndpointList []TunnelEndpoint

func (l EndpointList) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(l))
	for _, e := range l {
		b, err := MarshalEndpoint(e)
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}
	return json.Marshal(raw)
}

func (l *EndpointList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return &FormatError{Message: "expected endpoint array: " + err.Error()}
	}
	out := make(EndpointList, 0, len(raw))
	for _, r := range raw {
		e, err := UnmarshalEndpoint(r)
		if err != nil {
			return err
		}
		out = append(out, e)
	}
	*l = out
	return nil
}

// PortToken is the literal substring in URI and SSH command templates
// replaced with the decimal port number.
const PortToken = "{port}"

// FormatPortURI expands a portUriFormat template for one port. The
// port number is substituted with no other formatting.
func FormatPortURI(format string, port uint16) string {
	return strings.ReplaceAll(format, PortToken, strconv.Itoa(int(port)))
}

// FormatPortSSHCommand expands a portSshCommandFormat template for one
// port.
func FormatPortSSHCommand(format string, port uint16) string {
	return strings.ReplaceAll(format, PortToken, strconv.Itoa(int(port)))
}
