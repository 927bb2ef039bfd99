package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/NikoleTW/VPNBot/internal/adapters/db/sqlite"
	"github.com/NikoleTW/VPNBot/internal/adapters/xui"
	"github.com/NikoleTW/VPNBot/internal/application"
	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	srv   *httptest.Server
	svc   *application.Service
	panel *xui.Memory
	token string
	buyer domain.Buyer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "shop.db"))
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

	ts := &testServer{svc: svc, panel: panel}
	ts.srv = httptest.NewServer(NewRouter(svc, prov, nil))
	t.Cleanup(ts.srv.Close)

	ts.token = ts.login(t, "admin@example.com", "secret")
	ts.buyer, err = svc.RegisterBuyer(ctx, domain.Buyer{TelegramID: 4242, Username: "alice", FirstName: "Alice"})
	require.NoError(t, err)
	return ts
}

func (ts *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	status, body := ts.do(t, "", http.MethodPost, "/api/auth/login", map[string]any{"email": email, "password": password})
	require.Equal(t, http.StatusOK, status, body)
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func (ts *testServer) do(t *testing.T, token, method, path string, payload any) (int, string) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(raw)
}

func (ts *testServer) api(t *testing.T, method, path string, payload any) (int, string) {
	return ts.do(t, ts.token, method, path, payload)
}

// awaitingOrder creates catalog data through the API and drives one order to
// awaiting confirmation the way the bot would.
func (ts *testServer) awaitingOrder(t *testing.T) domain.Order {
	t.Helper()
	ctx := context.Background()

	status, body := ts.api(t, http.MethodPost, "/api/catalog", map[string]any{
		"name": "Monthly", "price": 30000, "duration_days": 30, "protocol": "vless", "is_active": true,
	})
	require.Equal(t, http.StatusOK, status, body)
	var item domain.CatalogItem
	require.NoError(t, json.Unmarshal([]byte(body), &item))

	status, body = ts.api(t, http.MethodPost, "/api/payment-methods", map[string]any{
		"name": "Card", "instructions": "Pay to 0000", "is_active": true,
	})
	require.Equal(t, http.StatusOK, status, body)
	var method domain.PaymentMethod
	require.NoError(t, json.Unmarshal([]byte(body), &method))

	order, err := ts.svc.PlaceOrder(ctx, ts.buyer.ID, item, method.ID)
	require.NoError(t, err)
	order, err = ts.svc.MarkPaid(ctx, order.ID)
	require.NoError(t, err)
	return order
}

func TestAPIRequiresAuthentication(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.do(t, "", http.MethodGet, "/api/catalog", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = ts.do(t, "not-a-token", http.MethodGet, "/api/catalog", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = ts.do(t, "", http.MethodPost, "/api/auth/login", map[string]any{"email": "admin@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestOperatorCannotChangeSettings(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.api(t, http.MethodPost, "/api/users", map[string]any{"email": "op@example.com", "password": "pw", "role": "operator"})
	require.Equal(t, http.StatusOK, status, body)

	op := ts.login(t, "op@example.com", "pw")
	status, _ = ts.do(t, op, http.MethodPut, "/api/settings/support_contact", map[string]any{"value": "@help"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = ts.do(t, op, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = ts.api(t, http.MethodPut, "/api/settings/support_contact", map[string]any{"value": "@help"})
	assert.Equal(t, http.StatusOK, status)
}

func TestCatalogValidationIsBadRequest(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.api(t, http.MethodPost, "/api/catalog", map[string]any{
		"name": "Broken", "price": 100, "duration_days": 0, "protocol": "wireguard",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "duration_days")
	assert.Contains(t, body, "protocol")
}

func TestConfirmOrderOverAPI(t *testing.T) {
	ts := newTestServer(t)
	order := ts.awaitingOrder(t)

	status, body := ts.api(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/confirm", order.ID), nil)
	require.Equal(t, http.StatusOK, status, body)
	var out struct {
		Order      domain.Order      `json:"order"`
		Credential domain.Credential `json:"credential"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, domain.OrderCompleted, out.Order.Status)
	assert.True(t, out.Credential.IsActive)
	assert.Len(t, ts.panel.Clients(), 1)

	status, body = ts.api(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/confirm", order.ID), nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body, `"conflict"`)

	status, _ = ts.api(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", order.ID), nil)
	assert.Equal(t, http.StatusConflict, status)

	status, body = ts.api(t, http.MethodPost, fmt.Sprintf("/api/credentials/%d/extend", out.Credential.ID), map[string]any{"days": 10})
	require.Equal(t, http.StatusOK, status, body)
	var extended domain.Credential
	require.NoError(t, json.Unmarshal([]byte(body), &extended))
	assert.True(t, extended.ValidUntil.After(out.Credential.ValidUntil))

	status, body = ts.api(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, status)
	var stats domain.ShopStats
	require.NoError(t, json.Unmarshal([]byte(body), &stats))
	assert.Equal(t, int64(1), stats.CompletedOrders)
	assert.Equal(t, int64(30000), stats.Revenue)

	status, body = ts.api(t, http.MethodGet, "/api/audit/logs", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "orders.confirm")
}

func TestConfirmOrderPanelFailureIsBadGateway(t *testing.T) {
	ts := newTestServer(t)
	order := ts.awaitingOrder(t)
	ts.panel.FailNext("create", errors.New("connection refused"))

	status, body := ts.api(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/confirm", order.ID), nil)
	assert.Equal(t, http.StatusBadGateway, status, body)

	status, body = ts.api(t, http.MethodGet, fmt.Sprintf("/api/orders/%d", order.ID), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, string(domain.OrderAwaitingConfirmation))
}

func TestUnknownOrderIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	status, _ := ts.api(t, http.MethodGet, "/api/orders/999", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = ts.api(t, http.MethodGet, "/api/orders/abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestBlockBuyer(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.api(t, http.MethodPost, fmt.Sprintf("/api/buyers/%d/block", ts.buyer.ID), map[string]any{"blocked": true})
	require.Equal(t, http.StatusOK, status, body)

	blocked, err := ts.svc.IsBlocked(context.Background(), ts.buyer.TelegramID)
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestGUILoginAndDashboard(t *testing.T) {
	ts := newTestServer(t)
	ts.awaitingOrder(t)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	res, err := client.Get(ts.srv.URL + "/dashboard")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)

	res, err = client.Post(ts.srv.URL+"/login", "application/x-www-form-urlencoded", strings.NewReader("email=admin%40example.com&password=secret"))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	var session *http.Cookie
	for _, c := range res.Cookies() {
		if c.Name == sessionCookieName {
			session = c
		}
	}
	require.NotNil(t, session)

	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/dashboard", nil)
	require.NoError(t, err)
	req.AddCookie(session)
	res, err = client.Do(req)
	require.NoError(t, err)
	raw, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(raw), "Monthly")
	assert.Contains(t, string(raw), "/gui/orders/1/confirm")
}
