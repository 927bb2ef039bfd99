package descriptor

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVMessRoundTripKeepsEveryField(t *testing.T) {
	d := Descriptor{
		Protocol:   domain.ProtocolVMess,
		ID:         "0f8e5a3c-3d0e-4c1b-9a55-3f0b1b2c4d5e",
		Address:    "vpn.example.net",
		Port:       443,
		Network:    "ws",
		HeaderType: "none",
		Security:   "auto",
		TLS:        true,
		AlterID:    2,
		Host:       "cdn.example.net",
		Path:       "/ray",
		Name:       "Monthly 01-02-2025",
	}

	s, err := Encode(d)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s, "vmess://"))

	protocol, got, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtocolVMess, protocol)
	assert.Equal(t, d, got)
}

func TestVMessDecodeAcceptsNumericPortAndUnpaddedBase64(t *testing.T) {
	body := `{"v":"2","ps":"x","add":"1.2.3.4","port":8443,"id":"abc","aid":0,"net":"tcp","type":"none","host":"","path":"","tls":""}`
	s := "vmess://" + base64.RawURLEncoding.EncodeToString([]byte(body))

	_, got, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, 8443, got.Port)
	assert.False(t, got.TLS)
	assert.Equal(t, "x", got.Name)
}

func TestVMessDecodeRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "not base64", in: "vmess://%%%not-base64"},
		{name: "not json", in: "vmess://" + base64.StdEncoding.EncodeToString([]byte("hello"))},
		{name: "missing id", in: "vmess://" + base64.StdEncoding.EncodeToString([]byte(`{"add":"h","port":"1"}`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.in)
			var fe *FormatError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, domain.ProtocolVMess, fe.Protocol)
		})
	}
}

func TestVLESSRoundTripOnWhitelistedFields(t *testing.T) {
	d := Descriptor{
		Protocol:   domain.ProtocolVLESS,
		ID:         "5b1f2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d",
		Address:    "de1.example.net",
		Port:       8443,
		Encryption: "none",
		TLS:        true,
		Network:    "ws",
		Path:       "/a b",
		Host:       "front.example.net",
		Flow:       "xtls-rprx-vision",
		Name:       "Basic plan 05-06-2025",
	}

	s, err := Encode(d)
	require.NoError(t, err)
	assert.Equal(t,
		"vless://5b1f2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d@de1.example.net:8443?security=tls&type=ws&path=%2Fa+b&host=front.example.net&flow=xtls-rprx-vision#Basic%20plan%2005-06-2025",
		s)

	protocol, got, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtocolVLESS, protocol)
	assert.Equal(t, d, got)
}

func TestVLESSDropsFieldsOutsideTheQuery(t *testing.T) {
	d := Descriptor{
		Protocol: domain.ProtocolVLESS,
		ID:       "abcdef01-2345-6789-abcd-ef0123456789",
		Address:  "h",
		Port:     1,
		Network:  "tcp",
		SNI:      "ignored.example",
		AlterID:  7,
		Name:     "n",
	}
	s, err := Encode(d)
	require.NoError(t, err)

	_, got, err := Decode(s)
	require.NoError(t, err)
	assert.Empty(t, got.SNI)
	assert.Zero(t, got.AlterID)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, d.Name, got.Name)
}

func TestVLESSDecodeRequiresExactShape(t *testing.T) {
	for _, in := range []string{
		"vless://NOT-HEX@host:443?security=none",
		"vless://abc@host:443",
		"vless://abc@host:port?security=none",
		"vless://abc@host?security=none",
	} {
		_, _, err := Decode(in)
		var fe *FormatError
		assert.ErrorAs(t, err, &fe, in)
	}
}

func TestTrojanRoundTrip(t *testing.T) {
	d := Descriptor{
		Protocol: domain.ProtocolTrojan,
		ID:       "s3cret-pass",
		Password: "s3cret-pass",
		Address:  "tr.example.net",
		Port:     443,
		Security: "tls",
		TLS:      true,
		SNI:      "tr.example.net",
		ALPN:     "h2,http/1.1",
		Name:     "Trojan",
	}

	s, err := Encode(d)
	require.NoError(t, err)
	assert.Equal(t, "trojan://s3cret-pass@tr.example.net:443?sni=tr.example.net&alpn=h2%2Chttp%2F1.1#Trojan", s)

	protocol, got, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtocolTrojan, protocol)
	assert.Equal(t, d, got)
}

func TestTrojanWithoutQueryUsesIDAsPassword(t *testing.T) {
	s, err := Encode(Descriptor{Protocol: domain.ProtocolTrojan, ID: "pw", Address: "h", Port: 1, Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, "trojan://pw@h:1#x", s)

	_, got, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, "pw", got.Password)
	assert.Equal(t, "pw", got.ID)
	assert.True(t, got.TLS)
}

func TestDecodeJSONFallback(t *testing.T) {
	protocol, got, err := Decode(`{"type":"trojan","id":"pw","address":"h","port":443,"tls":true}`)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtocolTrojan, protocol)
	assert.Equal(t, "pw", got.Password)

	_, _, err = Decode(`{"type":"wireguard"}`)
	var upe *UnsupportedProtocolError
	assert.ErrorAs(t, err, &upe)

	_, _, err = Decode("ss://whatever")
	var fe *FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestFormatForUser(t *testing.T) {
	d, err := New(domain.ProtocolVLESS, "5b1f2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d", "vpn.example.net", 10000, "")
	require.NoError(t, err)
	payload, err := Marshal(d)
	require.NoError(t, err)

	c := domain.Credential{Protocol: domain.ProtocolVLESS, Name: "Basic 01-01-2025", Payload: payload, ValidUntil: time.Now()}
	s, err := FormatForUser(c)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s, "vless://5b1f2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d@vpn.example.net:10000?"))
	assert.True(t, strings.HasSuffix(s, "#Basic%2001-01-2025"))
}

func TestFormatForUserRejectsUnknownProtocol(t *testing.T) {
	for _, tag := range []domain.Protocol{"shadowsocks", "", "wireguard"} {
		_, err := FormatForUser(domain.Credential{Protocol: tag, Payload: `{}`})
		var upe *UnsupportedProtocolError
		require.ErrorAs(t, err, &upe)
		assert.Equal(t, string(tag), upe.Protocol)
	}
}

func TestNewDescriptorsEncodeForEveryProtocol(t *testing.T) {
	for _, p := range domain.Protocols {
		d, err := New(p, "0f8e5a3c-3d0e-4c1b-9a55-3f0b1b2c4d5e", "h.example", 443, "label")
		require.NoError(t, err)
		s, err := Encode(d)
		require.NoError(t, err)
		got, _, err := Decode(s)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := New("openvpn", "x", "h", 1, "l")
	var upe *UnsupportedProtocolError
	assert.ErrorAs(t, err, &upe)
}
