package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/NikoleTW/VPNBot/internal/application"
	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/go-chi/chi/v5"
)

type apiLoginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Mode      string `json:"mode"`
	TokenName string `json:"token_name"`
}

func (h *Handler) handleAPILogin(w http.ResponseWriter, r *http.Request) {
	var req apiLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = "token"
	}

	if mode == "session" {
		u, token, err := h.service.LoginWithSession(r.Context(), req.Email, req.Password, 12*time.Hour)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid credentials"})
			return
		}
		h.setSessionCookie(w, token)
		writeJSON(w, http.StatusOK, map[string]any{"user_id": u.ID, "email": u.Email, "mode": "session"})
		return
	}

	u, token, err := h.service.LoginWithAPIToken(r.Context(), req.Email, req.Password, req.TokenName, nil)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": u.ID, "email": u.Email, "token": token, "mode": "token"})
}

func (h *Handler) handleAPIWhoAmI(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	perms := make([]string, 0, len(identity.Permissions))
	for p := range identity.Permissions {
		perms = append(perms, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": identity.User.ID, "email": identity.User.Email, "role": identity.User.Role, "permissions": perms})
}

func (h *Handler) handleAPILogout(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(strings.ToLower(r.Header.Get("Authorization")), "bearer ") {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	c, err := r.Cookie(sessionCookieName)
	if err == nil && c.Value != "" {
		_ = h.service.LogoutSession(r.Context(), c.Value)
		h.clearSessionCookie(w)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleAPIListCatalog(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListCatalogItems(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleAPICreateCatalogItem(w http.ResponseWriter, r *http.Request) {
	var req application.CatalogItemInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	item, err := h.service.CreateCatalogItem(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeAudit(r.Context(), "catalog.create", "catalog_item", &item.ID)
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleAPIUpdateCatalogItem(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid id"})
		return
	}
	var req application.CatalogItemInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	item, err := h.service.UpdateCatalogItem(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeAudit(r.Context(), "catalog.update", "catalog_item", &item.ID)
	writeJSON(w, http.StatusOK, item)
}

type apiActiveRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) handleAPISetCatalogItemActive(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid id"})
		return
	}
	var req apiActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	item, err := h.service.SetCatalogItemActive(r.Context(), id, req.Active)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeAudit(r.Context(), "catalog.set_active", "catalog_item", &item.ID)
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleAPIListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListPaymentMethods(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleAPICreatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req application.PaymentMethodInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	m, err := h.service.CreatePaymentMethod(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeAudit(r.Context(), "payment_method.create", "payment_method", &m.ID)
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleAPIUpdatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid id"})
		return
	}
	var req application.PaymentMethodInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	m, err := h.service.UpdatePaymentMethod(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeAudit(r.Context(), "payment_method.update", "payment_method", &m.ID)
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleAPIListOrders(w http.ResponseWriter, r *http.Request) {
	buyerID, err := queryUint(r, "buyer_id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	filter := domain.OrderFilter{BuyerID: buyerID, Limit: queryInt(r, "limit", 100)}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := domain.OrderStatus(raw)
		filter.Status = &status
	}
	orders, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) handleAPIGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid id"})
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) handleAPIConfirmOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid id"})
		return
	}
	order, cred, err := h.provisioner.ConfirmOrder(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeAudit(r.Context(), "orders.confirm", "order", &order.ID)
	writeJSON(w, http.StatusOK, map[string]any{"order": order, "credential": cred})
}

func (h *Handler) handleAPICancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid id"})
		return
	}
	order, err := h.provisioner.CancelOrder(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeAudit(r.Context(), "orders.cancel", "order", &order.ID)
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) handleAPIListCredentials(w http.ResponseWriter, r *http.Request) {
	buyerID, err := queryUint(r, "buyer_id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	creds, err := h.service.ListCredentials(r.Context(), domain.CredentialFilter{
		BuyerID:    buyerID,
		ActiveOnly: r.URL.Query().Get("active") == "true",
		Limit:      queryInt(r, "limit", 200),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

type apiExtendRequest struct {
	Days int `json:"days"`
}

func (h *Handler) handleAPIExtendCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid id"})
		return
	}
	var req apiExtendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	cred, err := h.provisioner.ExtendCredential(r.Context(), id, req.Days)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeAudit(r.Context(), "credentials.extend", "credential", &cred.ID)
	writeJSON(w, http.StatusOK, cred)
}

func (h *Handler) handleAPIToggleCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid id"})
		return
	}
	cred, err := h.provisioner.ToggleCredential(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeAudit(r.Context(), "credentials.toggle", "credential", &cred.ID)
	writeJSON(w, http.StatusOK, cred)
}

func (h *Handler) handleAPIListBuyers(w http.ResponseWriter, r *http.Request) {
	buyers, err := h.service.ListBuyers(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit", 200))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buyers)
}

type apiBlockRequest struct {
	Blocked bool `json:"blocked"`
}

func (h *Handler) handleAPIBlockBuyer(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid id"})
		return
	}
	var req apiBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	buyer, err := h.service.SetBuyerBlocked(r.Context(), id, req.Blocked)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeAudit(r.Context(), "buyers.block", "buyer", &buyer.ID)
	writeJSON(w, http.StatusOK, buyer)
}

func (h *Handler) handleAPIListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.ListSettings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

type apiSettingRequest struct {
	Value string `json:"value"`
}

func (h *Handler) handleAPISetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req apiSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if err := h.service.SetSetting(r.Context(), key, req.Value); err != nil {
		writeError(w, err)
		return
	}
	h.writeAudit(r.Context(), "settings.set", "setting:"+key, nil)
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": req.Value})
}

func (h *Handler) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleAPIPanelStats(w http.ResponseWriter, r *http.Request) {
	raw, err := h.provisioner.PanelStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(raw))
}

func (h *Handler) handleAPIClearCaches(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearCaches(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.writeAudit(r.Context(), "cache.clear", "cache", nil)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleAPIListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit", 200))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		out = append(out, map[string]any{"id": u.ID, "email": u.Email, "role": u.Role, "created_at": u.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

type apiCreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *Handler) handleAPICreateUser(w http.ResponseWriter, r *http.Request) {
	var req apiCreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	u, err := h.service.CreateUser(r.Context(), req.Email, req.Password, req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeAudit(r.Context(), "users.create", "user", &u.ID)
	writeJSON(w, http.StatusOK, map[string]any{"id": u.ID, "email": u.Email, "role": u.Role})
}

func (h *Handler) handleAPIListAuditLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.service.ListAuditLogs(r.Context(), queryInt(r, "limit", 200))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
