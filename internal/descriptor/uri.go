package descriptor

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/NikoleTW/VPNBot/internal/domain"
)

const (
	vlessScheme  = "vless://"
	trojanScheme = "trojan://"
)

var (
	vlessPattern  = regexp.MustCompile(`^vless://([a-f0-9-]+)@([^:]+):(\d+)\?(.*?)(?:#(.*?))?$`)
	trojanPattern = regexp.MustCompile(`^trojan://([^@]+)@([^:]+):(\d+)(?:\?(.*?))?(?:#(.*?))?$`)
)

type param struct {
	key   string
	value string
}

func joinParams(params []param) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, p.key+"="+url.QueryEscape(p.value))
	}
	return strings.Join(parts, "&")
}

func splitParams(protocol domain.Protocol, raw string) (map[string]string, error) {
	out := make(map[string]string)
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			return nil, &FormatError{Protocol: protocol, Reason: "bad query value for " + key, Err: err}
		}
		out[key] = decoded
	}
	return out, nil
}

func label(raw string) string {
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func parsePort(protocol domain.Protocol, raw string) (int, error) {
	port, err := strconv.Atoi(raw)
	if err != nil || port > 65535 {
		return 0, &FormatError{Protocol: protocol, Reason: "port out of range", Err: err}
	}
	return port, nil
}

func encodeVLESS(d Descriptor) string {
	security := "none"
	if d.TLS {
		security = "tls"
	}
	network := d.Network
	if network == "" {
		network = "tcp"
	}
	params := []param{{"security", security}, {"type", network}}
	if d.Path != "" {
		params = append(params, param{"path", d.Path})
	}
	if d.Host != "" {
		params = append(params, param{"host", d.Host})
	}
	if d.Flow != "" {
		params = append(params, param{"flow", d.Flow})
	}

	var b strings.Builder
	b.WriteString(vlessScheme)
	b.WriteString(d.ID)
	b.WriteString("@")
	b.WriteString(d.Address)
	b.WriteString(":")
	b.WriteString(strconv.Itoa(d.Port))
	b.WriteString("?")
	b.WriteString(joinParams(params))
	b.WriteString("#")
	b.WriteString(url.PathEscape(d.Name))
	return b.String()
}

func decodeVLESS(s string) (Descriptor, error) {
	m := vlessPattern.FindStringSubmatch(s)
	if m == nil {
		return Descriptor{}, &FormatError{Protocol: domain.ProtocolVLESS, Reason: "expected vless://id@host:port?query#label"}
	}
	port, err := parsePort(domain.ProtocolVLESS, m[3])
	if err != nil {
		return Descriptor{}, err
	}
	params, err := splitParams(domain.ProtocolVLESS, m[4])
	if err != nil {
		return Descriptor{}, err
	}
	network := params["type"]
	if network == "" {
		network = "tcp"
	}
	return Descriptor{
		Protocol:   domain.ProtocolVLESS,
		ID:         m[1],
		Address:    m[2],
		Port:       port,
		Encryption: "none",
		TLS:        params["security"] == "tls",
		Network:    network,
		Path:       params["path"],
		Host:       params["host"],
		Flow:       params["flow"],
		Name:       label(m[5]),
	}, nil
}

func encodeTrojan(d Descriptor) string {
	password := d.Password
	if password == "" {
		password = d.ID
	}
	var params []param
	if d.SNI != "" {
		params = append(params, param{"sni", d.SNI})
	}
	if d.ALPN != "" {
		params = append(params, param{"alpn", d.ALPN})
	}

	var b strings.Builder
	b.WriteString(trojanScheme)
	b.WriteString(url.QueryEscape(password))
	b.WriteString("@")
	b.WriteString(d.Address)
	b.WriteString(":")
	b.WriteString(strconv.Itoa(d.Port))
	if len(params) > 0 {
		b.WriteString("?")
		b.WriteString(joinParams(params))
	}
	b.WriteString("#")
	b.WriteString(url.PathEscape(d.Name))
	return b.String()
}

func decodeTrojan(s string) (Descriptor, error) {
	m := trojanPattern.FindStringSubmatch(s)
	if m == nil {
		return Descriptor{}, &FormatError{Protocol: domain.ProtocolTrojan, Reason: "expected trojan://password@host:port#label"}
	}
	password, err := url.QueryUnescape(m[1])
	if err != nil {
		return Descriptor{}, &FormatError{Protocol: domain.ProtocolTrojan, Reason: "bad password escape", Err: err}
	}
	port, err := parsePort(domain.ProtocolTrojan, m[3])
	if err != nil {
		return Descriptor{}, err
	}
	params, err := splitParams(domain.ProtocolTrojan, m[4])
	if err != nil {
		return Descriptor{}, err
	}
	// trojan always runs over TLS
	return Descriptor{
		Protocol: domain.ProtocolTrojan,
		ID:       password,
		Password: password,
		Address:  m[2],
		Port:     port,
		Security: "tls",
		TLS:      true,
		SNI:      params["sni"],
		ALPN:     params["alpn"],
		Name:     label(m[5]),
	}, nil
}
