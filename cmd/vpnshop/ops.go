package main

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// operation names one admin call on both transports: the JSON-RPC method
// served on the unix socket and the equivalent HTTP route.
type operation struct {
	rpc    string
	params map[string]any

	verb  string
	path  string
	query url.Values
	body  any
}

func (op operation) do(ctx context.Context, cfg cliConfig, out any) error {
	if cfg.uds() {
		params := map[string]any{"token": cfg.Token}
		for k, v := range op.params {
			params[k] = v
		}
		return newRPCClient(cfg.Socket).call(ctx, op.rpc, params, out)
	}
	path := op.path
	if len(op.query) > 0 {
		path += "?" + op.query.Encode()
	}
	return newAPIClient(cfg.Server, cfg.Token).request(ctx, op.verb, path, op.body, out)
}

func idPath(prefix string, id uint, suffix string) string {
	return prefix + "/" + strconv.FormatUint(uint64(id), 10) + suffix
}

func opLogin(email, password, tokenName string) operation {
	return operation{
		rpc:    "auth.login",
		params: map[string]any{"email": email, "password": password, "token_name": tokenName},
		verb:   http.MethodPost,
		path:   "/api/auth/login",
		body:   map[string]any{"email": email, "password": password, "mode": "token", "token_name": tokenName},
	}
}

func opWhoAmI() operation {
	return operation{rpc: "auth.whoami", verb: http.MethodGet, path: "/api/auth/whoami"}
}

func opCatalogList(activeOnly bool) operation {
	q := url.Values{}
	if activeOnly {
		q.Set("active", "true")
	}
	return operation{
		rpc:    "catalog.list",
		params: map[string]any{"active_only": activeOnly},
		verb:   http.MethodGet,
		path:   "/api/catalog",
		query:  q,
	}
}

func opCatalogCreate(in map[string]any) operation {
	return operation{rpc: "catalog.create", params: in, verb: http.MethodPost, path: "/api/catalog", body: in}
}

func opCatalogUpdate(id uint, in map[string]any) operation {
	params := map[string]any{"id": id}
	for k, v := range in {
		params[k] = v
	}
	return operation{rpc: "catalog.update", params: params, verb: http.MethodPut, path: idPath("/api/catalog", id, ""), body: in}
}

func opCatalogSetActive(id uint, active bool) operation {
	return operation{
		rpc:    "catalog.set_active",
		params: map[string]any{"id": id, "active": active},
		verb:   http.MethodPost,
		path:   idPath("/api/catalog", id, "/active"),
		body:   map[string]any{"active": active},
	}
}

func opPaymentMethodsList(activeOnly bool) operation {
	q := url.Values{}
	if activeOnly {
		q.Set("active", "true")
	}
	return operation{
		rpc:    "payment_methods.list",
		params: map[string]any{"active_only": activeOnly},
		verb:   http.MethodGet,
		path:   "/api/payment-methods",
		query:  q,
	}
}

func opPaymentMethodsCreate(in map[string]any) operation {
	return operation{rpc: "payment_methods.create", params: in, verb: http.MethodPost, path: "/api/payment-methods", body: in}
}

func opPaymentMethodsUpdate(id uint, in map[string]any) operation {
	params := map[string]any{"id": id}
	for k, v := range in {
		params[k] = v
	}
	return operation{rpc: "payment_methods.update", params: params, verb: http.MethodPut, path: idPath("/api/payment-methods", id, ""), body: in}
}

func opOrdersList(status string, buyerID *uint, limit int) operation {
	q := url.Values{}
	params := map[string]any{"limit": limit}
	if status != "" {
		q.Set("status", status)
		params["status"] = status
	}
	if buyerID != nil {
		q.Set("buyer_id", strconv.FormatUint(uint64(*buyerID), 10))
		params["buyer_id"] = *buyerID
	}
	q.Set("limit", strconv.Itoa(limit))
	return operation{rpc: "orders.list", params: params, verb: http.MethodGet, path: "/api/orders", query: q}
}

func opOrdersGet(id uint) operation {
	return operation{rpc: "orders.get", params: map[string]any{"id": id}, verb: http.MethodGet, path: idPath("/api/orders", id, "")}
}

func opOrdersConfirm(id uint) operation {
	return operation{rpc: "orders.confirm", params: map[string]any{"id": id}, verb: http.MethodPost, path: idPath("/api/orders", id, "/confirm")}
}

func opOrdersCancel(id uint) operation {
	return operation{rpc: "orders.cancel", params: map[string]any{"id": id}, verb: http.MethodPost, path: idPath("/api/orders", id, "/cancel")}
}

func opCredentialsList(buyerID *uint, activeOnly bool, limit int) operation {
	q := url.Values{}
	params := map[string]any{"active_only": activeOnly, "limit": limit}
	if buyerID != nil {
		q.Set("buyer_id", strconv.FormatUint(uint64(*buyerID), 10))
		params["buyer_id"] = *buyerID
	}
	if activeOnly {
		q.Set("active", "true")
	}
	q.Set("limit", strconv.Itoa(limit))
	return operation{rpc: "credentials.list", params: params, verb: http.MethodGet, path: "/api/credentials", query: q}
}

func opCredentialsExtend(id uint, days int) operation {
	return operation{
		rpc:    "credentials.extend",
		params: map[string]any{"id": id, "days": days},
		verb:   http.MethodPost,
		path:   idPath("/api/credentials", id, "/extend"),
		body:   map[string]any{"days": days},
	}
}

func opCredentialsToggle(id uint) operation {
	return operation{rpc: "credentials.toggle", params: map[string]any{"id": id}, verb: http.MethodPost, path: idPath("/api/credentials", id, "/toggle")}
}

func opBuyersList(query string, limit int) operation {
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	q.Set("limit", strconv.Itoa(limit))
	return operation{rpc: "buyers.list", params: map[string]any{"q": query, "limit": limit}, verb: http.MethodGet, path: "/api/buyers", query: q}
}

func opBuyersBlock(id uint, blocked bool) operation {
	return operation{
		rpc:    "buyers.block",
		params: map[string]any{"id": id, "blocked": blocked},
		verb:   http.MethodPost,
		path:   idPath("/api/buyers", id, "/block"),
		body:   map[string]any{"blocked": blocked},
	}
}

func opSettingsList() operation {
	return operation{rpc: "settings.list", verb: http.MethodGet, path: "/api/settings"}
}

func opSettingsSet(key, value string) operation {
	return operation{
		rpc:    "settings.set",
		params: map[string]any{"key": key, "value": value},
		verb:   http.MethodPut,
		path:   "/api/settings/" + url.PathEscape(key),
		body:   map[string]any{"value": value},
	}
}

func opStats() operation {
	return operation{rpc: "stats.get", verb: http.MethodGet, path: "/api/stats"}
}

func opPanelStats() operation {
	return operation{rpc: "panel.stats", verb: http.MethodGet, path: "/api/panel/stats"}
}

func opCacheClear() operation {
	return operation{rpc: "cache.clear", verb: http.MethodPost, path: "/api/cache/clear"}
}

func opUsersList(query string, limit int) operation {
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	q.Set("limit", strconv.Itoa(limit))
	return operation{rpc: "users.list", params: map[string]any{"q": query, "limit": limit}, verb: http.MethodGet, path: "/api/users", query: q}
}

func opUsersCreate(email, password, role string) operation {
	in := map[string]any{"email": email, "password": password, "role": role}
	return operation{rpc: "users.create", params: in, verb: http.MethodPost, path: "/api/users", body: in}
}

func opAuditList(limit int) operation {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	return operation{rpc: "audit.list", params: map[string]any{"limit": limit}, verb: http.MethodGet, path: "/api/audit/logs", query: q}
}

// opLogout only exists on HTTP; socket tokens are simply forgotten.
func opLogout() operation {
	return operation{verb: http.MethodPost, path: "/api/auth/logout"}
}
