// Package descriptor converts stored credential payloads to and from the
// import strings VPN clients understand (vmess://, vless://, trojan://).
package descriptor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/NikoleTW/VPNBot/internal/domain"
)

// Descriptor is the protocol-agnostic connection record kept as a
// credential's payload. JSON keys match the payloads written by earlier
// versions of the shop so imported JSON descriptors decode unchanged.
type Descriptor struct {
	Protocol   domain.Protocol `json:"type"`
	ID         string          `json:"id"`
	Password   string          `json:"password,omitempty"`
	Address    string          `json:"address"`
	Port       int             `json:"port"`
	Network    string          `json:"network,omitempty"`
	HeaderType string          `json:"header_type,omitempty"`
	Security   string          `json:"security,omitempty"`
	TLS        bool            `json:"tls"`
	Encryption string          `json:"encryption,omitempty"`
	AlterID    int             `json:"alterId"`
	Host       string          `json:"host,omitempty"`
	Path       string          `json:"path,omitempty"`
	Flow       string          `json:"flow,omitempty"`
	SNI        string          `json:"sni,omitempty"`
	ALPN       string          `json:"alpn,omitempty"`
	Name       string          `json:"name,omitempty"`
}

// New builds the descriptor the shop hands out for a freshly provisioned
// client on the given protocol.
func New(protocol domain.Protocol, secret, address string, port int, label string) (Descriptor, error) {
	d := Descriptor{
		Protocol: protocol,
		ID:       secret,
		Address:  address,
		Port:     port,
		Name:     label,
	}
	switch protocol {
	case domain.ProtocolVLESS:
		d.Network = "tcp"
		d.Encryption = "none"
	case domain.ProtocolVMess:
		d.Network = "ws"
		d.HeaderType = "none"
		d.Security = "auto"
		d.TLS = true
	case domain.ProtocolTrojan:
		d.Password = secret
		d.Network = "tcp"
		d.Security = "tls"
		d.TLS = true
	default:
		return Descriptor{}, &UnsupportedProtocolError{Protocol: string(protocol)}
	}
	return d, nil
}

// Marshal serialises d for the credential payload column.
func Marshal(d Descriptor) (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal descriptor: %w", err)
	}
	return string(b), nil
}

func Unmarshal(payload string) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return Descriptor{}, &FormatError{Reason: "payload is not a JSON descriptor", Err: err}
	}
	return d, nil
}

// Encode renders d as an import string for d.Protocol.
func Encode(d Descriptor) (string, error) {
	switch d.Protocol {
	case domain.ProtocolVMess:
		return encodeVMess(d)
	case domain.ProtocolVLESS:
		return encodeVLESS(d), nil
	case domain.ProtocolTrojan:
		return encodeTrojan(d), nil
	}
	return "", &UnsupportedProtocolError{Protocol: string(d.Protocol)}
}

// Decode parses an import string. Raw JSON descriptors carrying a known
// "type" are accepted as well.
func Decode(raw string) (domain.Protocol, Descriptor, error) {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, vmessScheme):
		d, err := decodeVMess(s)
		return domain.ProtocolVMess, d, err
	case strings.HasPrefix(s, vlessScheme):
		d, err := decodeVLESS(s)
		return domain.ProtocolVLESS, d, err
	case strings.HasPrefix(s, trojanScheme):
		d, err := decodeTrojan(s)
		return domain.ProtocolTrojan, d, err
	}
	return decodeJSON(s)
}

// FormatForUser renders a stored credential as the string the buyer pastes
// into their client. The credential name is used when the payload has no label.
func FormatForUser(c domain.Credential) (string, error) {
	protocol, ok := domain.ParseProtocol(string(c.Protocol))
	if !ok {
		return "", &UnsupportedProtocolError{Protocol: string(c.Protocol)}
	}
	d, err := Unmarshal(c.Payload)
	if err != nil {
		return "", err
	}
	d.Protocol = protocol
	if d.Name == "" {
		d.Name = c.Name
	}
	return Encode(d)
}

func decodeJSON(s string) (domain.Protocol, Descriptor, error) {
	var probe struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal([]byte(s), &probe); err != nil || probe.Type == nil {
		return "", Descriptor{}, &FormatError{Reason: "unrecognised import string"}
	}
	protocol, ok := domain.ParseProtocol(*probe.Type)
	if !ok {
		return "", Descriptor{}, &UnsupportedProtocolError{Protocol: *probe.Type}
	}
	d, err := Unmarshal(s)
	if err != nil {
		return "", Descriptor{}, err
	}
	d.Protocol = protocol
	if d.Protocol == domain.ProtocolTrojan && d.Password == "" {
		d.Password = d.ID
	}
	return protocol, d, nil
}
