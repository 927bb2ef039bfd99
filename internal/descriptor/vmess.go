package descriptor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/NikoleTW/VPNBot/internal/domain"
)

const vmessScheme = "vmess://"

// vmessLink is the v2rayN share format.
type vmessLink struct {
	V    string   `json:"v"`
	PS   string   `json:"ps"`
	Add  string   `json:"add"`
	Port looseInt `json:"port"`
	ID   string   `json:"id"`
	Aid  looseInt `json:"aid"`
	Scy  string   `json:"scy,omitempty"`
	Net  string   `json:"net"`
	Type string   `json:"type"`
	Host string   `json:"host"`
	Path string   `json:"path"`
	TLS  string   `json:"tls"`
}

// looseInt is written as a JSON string and read from either a string or a
// number; share links in the wild use both.
type looseInt int

func (n looseInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.Itoa(int(n)))
}

func (n *looseInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*n = looseInt(v)
		return nil
	}
	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = looseInt(v)
	return nil
}

func encodeVMess(d Descriptor) (string, error) {
	link := vmessLink{
		V:    "2",
		PS:   d.Name,
		Add:  d.Address,
		Port: looseInt(d.Port),
		ID:   d.ID,
		Aid:  looseInt(d.AlterID),
		Scy:  d.Security,
		Net:  d.Network,
		Type: d.HeaderType,
		Host: d.Host,
		Path: d.Path,
	}
	if d.TLS {
		link.TLS = "tls"
	}
	body, err := json.Marshal(link)
	if err != nil {
		return "", err
	}
	return vmessScheme + base64.StdEncoding.EncodeToString(body), nil
}

func decodeVMess(s string) (Descriptor, error) {
	body, err := decodeBase64(strings.TrimSpace(strings.TrimPrefix(s, vmessScheme)))
	if err != nil {
		return Descriptor{}, &FormatError{Protocol: domain.ProtocolVMess, Reason: "payload is not base64", Err: err}
	}
	var link vmessLink
	if err := json.Unmarshal(body, &link); err != nil {
		return Descriptor{}, &FormatError{Protocol: domain.ProtocolVMess, Reason: "payload is not JSON", Err: err}
	}
	if link.ID == "" || link.Add == "" {
		return Descriptor{}, &FormatError{Protocol: domain.ProtocolVMess, Reason: "id and address are required"}
	}
	return Descriptor{
		Protocol:   domain.ProtocolVMess,
		ID:         link.ID,
		Address:    link.Add,
		Port:       int(link.Port),
		Network:    link.Net,
		HeaderType: link.Type,
		Security:   link.Scy,
		TLS:        link.TLS == "tls",
		AlterID:    int(link.Aid),
		Host:       link.Host,
		Path:       link.Path,
		Name:       link.PS,
	}, nil
}

func decodeBase64(s string) ([]byte, error) {
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
