package rpcjson

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/NikoleTW/VPNBot/internal/adapters/db/sqlite"
	"github.com/NikoleTW/VPNBot/internal/adapters/xui"
	"github.com/NikoleTW/VPNBot/internal/application"
	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcClient struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
	next int
}

func (c *rpcClient) call(t *testing.T, method string, params map[string]any) response {
	t.Helper()
	c.next++
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	require.NoError(t, c.enc.Encode(request{JSONRPC: "2.0", Method: method, Params: raw, ID: c.next}))
	var resp response
	require.NoError(t, c.dec.Decode(&resp))
	return resp
}

type fixture struct {
	client *rpcClient
	svc    *application.Service
	panel  *xui.Memory
	token  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir, err := os.MkdirTemp("", "vpnshop-rpc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	db, err := sqlite.Open(filepath.Join(dir, "shop.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.RunMigrations(ctx, db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	repo := sqlite.NewRepository(db)
	svc := application.NewService(repo, nil, nil)
	panel := xui.NewMemory("vpn.example.com")
	prov := application.NewProvisioner(repo, panel, application.ProvisionerOptions{})
	require.NoError(t, svc.BootstrapAdmin(ctx, "admin@example.com", "secret"))

	srv, err := Start(filepath.Join(dir, "rpc.sock"), svc, prov, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := net.Dial("unix", filepath.Join(dir, "rpc.sock"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	f := &fixture{client: &rpcClient{conn: conn, enc: json.NewEncoder(conn), dec: json.NewDecoder(conn)}, svc: svc, panel: panel}
	resp := f.client.call(t, "auth.login", map[string]any{"email": "admin@example.com", "password": "secret"})
	require.Nil(t, resp.Error)
	f.token = resp.Result.(map[string]any)["token"].(string)
	return f
}

func (f *fixture) call(t *testing.T, method string, params map[string]any) response {
	t.Helper()
	if params == nil {
		params = map[string]any{}
	}
	params["token"] = f.token
	return f.client.call(t, method, params)
}

func TestRPCRejectsMissingToken(t *testing.T) {
	f := newFixture(t)
	resp := f.client.call(t, "stats.get", map[string]any{"token": "nope"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeUnauthorized, resp.Error.Code)

	resp = f.call(t, "no.such.method", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeNoMethod, resp.Error.Code)
}

func TestRPCOrderLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.call(t, "catalog.create", map[string]any{"name": "Monthly", "price": 30000, "duration_days": 30, "protocol": "trojan", "is_active": true})
	require.Nil(t, resp.Error)
	resp = f.call(t, "payment_methods.create", map[string]any{"name": "Card", "instructions": "Pay to 0000", "is_active": true})
	require.Nil(t, resp.Error)

	buyer, err := f.svc.RegisterBuyer(ctx, domain.Buyer{TelegramID: 77, Username: "bob"})
	require.NoError(t, err)
	items, err := f.svc.ListCatalogItems(ctx, true)
	require.NoError(t, err)
	methods, err := f.svc.ListPaymentMethods(ctx, true)
	require.NoError(t, err)
	order, err := f.svc.PlaceOrder(ctx, buyer.ID, items[0], methods[0].ID)
	require.NoError(t, err)

	resp = f.call(t, "orders.confirm", map[string]any{"id": order.ID})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeConflict, resp.Error.Code)

	_, err = f.svc.MarkPaid(ctx, order.ID)
	require.NoError(t, err)

	f.panel.FailNext("create", errors.New("panel offline"))
	resp = f.call(t, "orders.confirm", map[string]any{"id": order.ID})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codePanel, resp.Error.Code)

	resp = f.call(t, "orders.confirm", map[string]any{"id": order.ID})
	require.Nil(t, resp.Error, "%v", resp.Error)
	assert.Len(t, f.panel.Clients(), 1)

	resp = f.call(t, "orders.get", map[string]any{"id": 999})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeNotFound, resp.Error.Code)

	resp = f.call(t, "stats.get", nil)
	require.Nil(t, resp.Error)
	assert.EqualValues(t, 30000, resp.Result.(map[string]any)["revenue"])
}

func TestRPCValidationAndParams(t *testing.T) {
	f := newFixture(t)
	resp := f.call(t, "catalog.create", map[string]any{"name": "", "duration_days": 1, "protocol": "vless"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalid, resp.Error.Code)

	resp = f.call(t, "credentials.extend", map[string]any{"id": "seven"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
}
