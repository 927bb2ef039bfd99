package xui

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/google/uuid"
)

// MemoryClient is what the in-memory panel knows about one client.
type MemoryClient struct {
	InboundID  int
	Identifier string
	Protocol   domain.Protocol
	Secret     string
	Enabled    bool
	ExpiresAt  time.Time
}

// Memory is a panel kept in process memory. It backs local runs without a
// real panel and the tests.
type Memory struct {
	mu       sync.Mutex
	inbounds []domain.Inbound
	clients  map[string]MemoryClient
	fail     map[string]error
}

// NewMemory starts with one enabled inbound per supported protocol.
func NewMemory(address string) *Memory {
	return &Memory{
		inbounds: []domain.Inbound{
			{ID: 1, Protocol: domain.ProtocolVLESS, Address: address, Port: 443, Network: "tcp", Security: "tls", Remark: "vless", Enabled: true},
			{ID: 2, Protocol: domain.ProtocolVMess, Address: address, Port: 8443, Network: "ws", Security: "tls", Remark: "vmess", Enabled: true},
			{ID: 3, Protocol: domain.ProtocolTrojan, Address: address, Port: 2083, Network: "tcp", Security: "tls", Remark: "trojan", Enabled: true},
		},
		clients: make(map[string]MemoryClient),
		fail:    make(map[string]error),
	}
}

// FailNext makes the next call of op ("list", "create", "update", "remove",
// "stats") return err.
func (m *Memory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = err
}

func (m *Memory) takeFailure(op string) error {
	err := m.fail[op]
	delete(m.fail, op)
	return err
}

func (m *Memory) Clients() []MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MemoryClient, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

func (m *Memory) ListInbounds(context.Context) ([]domain.Inbound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("list"); err != nil {
		return nil, err
	}
	return append([]domain.Inbound(nil), m.inbounds...), nil
}

func (m *Memory) CreateClient(_ context.Context, inboundID int, identifier string, protocol domain.Protocol, expiryDays int) (domain.RemoteClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("create"); err != nil {
		return domain.RemoteClient{}, err
	}
	if _, exists := m.clients[key(inboundID, identifier)]; exists {
		return domain.RemoteClient{}, fmt.Errorf("xui: duplicate client %s", identifier)
	}
	secret := uuid.NewString()
	c := MemoryClient{InboundID: inboundID, Identifier: identifier, Protocol: protocol, Secret: secret, Enabled: true}
	if expiryDays > 0 {
		c.ExpiresAt = time.Now().AddDate(0, 0, expiryDays)
	}
	m.clients[key(inboundID, identifier)] = c
	return domain.RemoteClient{RemoteID: secret, Secret: secret, Identifier: identifier}, nil
}

func (m *Memory) UpdateClient(_ context.Context, inboundID int, identifier string, update domain.ClientUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("update"); err != nil {
		return err
	}
	c, ok := m.clients[key(inboundID, identifier)]
	if !ok {
		return fmt.Errorf("%w: %s in inbound %d", ErrClientNotFound, identifier, inboundID)
	}
	if update.ExpiresAt != nil {
		c.ExpiresAt = *update.ExpiresAt
	}
	if update.Enabled != nil {
		c.Enabled = *update.Enabled
	}
	m.clients[key(inboundID, identifier)] = c
	return nil
}

func (m *Memory) RemoveClient(_ context.Context, inboundID int, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("remove"); err != nil {
		return err
	}
	delete(m.clients, key(inboundID, identifier))
	return nil
}

func (m *Memory) Stats(context.Context) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("stats"); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"clients": len(m.clients), "inbounds": len(m.inbounds), "xray": "running"})
}

func key(inboundID int, identifier string) string {
	return fmt.Sprintf("%d/%s", inboundID, identifier)
}
