package ui

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikoleTW/VPNBot/internal/domain"
)

func render(t *testing.T, c templ.Component) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Render(context.Background(), &buf))
	return buf.String()
}

func TestLoginPage(t *testing.T) {
	html := render(t, LoginPage(""))
	assert.Contains(t, html, `<form method="post" action="/login">`)
	assert.NotContains(t, html, "flash-error")
	assert.NotContains(t, html, "Log out")

	html = render(t, LoginPage("bad <creds>"))
	assert.Contains(t, html, `<p class="flash-error">bad &lt;creds&gt;</p>`)
}

func TestDashboardPage(t *testing.T) {
	paid := time.Now().Add(-2 * time.Hour)
	html := render(t, DashboardPage(Dashboard{
		Email: "admin@example.com",
		Stats: domain.ShopStats{Buyers: 3, BlockedBuyers: 1, CompletedOrders: 2, Revenue: 123456},
		Awaiting: []domain.OrderSummary{{
			Order:             domain.Order{ID: 7, ItemName: "Month <vless>", Amount: 30000, PaidAt: &paid},
			BuyerName:         "ivan",
			PaymentMethodName: "Card",
		}},
		Catalog: []domain.CatalogItem{{ID: 1, Name: "Month", Protocol: domain.ProtocolVLESS, DurationDays: 30, Price: 30000, IsActive: true}},
	}))

	assert.Contains(t, html, "admin@example.com")
	assert.Contains(t, html, `<div id="flash"></div>`)
	assert.Contains(t, html, "Buyers: 3 (1 blocked)")
	assert.Contains(t, html, "Revenue: 1,234.56")
	assert.Contains(t, html, `<tr id="order-7">`)
	assert.Contains(t, html, "Month &lt;vless&gt;")
	assert.Contains(t, html, "2 hours ago")
	assert.Contains(t, html, "/gui/orders/7/confirm")
	assert.Contains(t, html, "/gui/orders/7/cancel")
	assert.Contains(t, html, "<td>VLESS</td><td>30</td><td>300.00</td><td>yes</td>")
	assert.NotContains(t, html, "Nothing to confirm.")
}

func TestOrdersTableEmpty(t *testing.T) {
	html := render(t, OrdersTable(nil))
	assert.Contains(t, html, `<table id="orders-table">`)
	assert.Contains(t, html, "Nothing to confirm.")
}

func TestFlash(t *testing.T) {
	assert.Equal(t, `<div id="flash" class="flash-error">boom &amp; co</div>`, render(t, Flash("boom & co", "error")))
	assert.Equal(t, `<div id="flash" class="flash-info">done</div>`, render(t, Flash("done", "info")))
}

func TestPrice(t *testing.T) {
	assert.Equal(t, "0.05", Price(5))
	assert.Equal(t, "1,000.00", Price(100000))
	assert.Equal(t, "-3.50", Price(-350))
	assert.Equal(t, "-0.50", Price(-50))
}
