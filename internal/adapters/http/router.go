package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NikoleTW/VPNBot/internal/application"
	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/NikoleTW/VPNBot/internal/ui"
	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/starfederation/datastar-go/datastar"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const sessionCookieName = "vpnshop_session"

type contextKey string

const identityKey contextKey = "identity"

type Handler struct {
	service     *application.Service
	provisioner *application.Provisioner
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewRouter(service *application.Service, provisioner *application.Provisioner, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		service:     service,
		provisioner: provisioner,
		logger:      logger,
		tracer:      otel.Tracer("github.com/NikoleTW/VPNBot/internal/adapters/http"),
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, h.traceRequests, middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/login", h.handleLoginPage)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/login", h.handleAPILogin)
		api.With(h.requireAuthAPI(application.PermShopRead)).Get("/auth/whoami", h.handleAPIWhoAmI)
		api.With(h.requireAuthAPI(application.PermShopRead)).Post("/auth/logout", h.handleAPILogout)

		api.With(h.requireAuthAPI(application.PermShopRead)).Get("/catalog", h.handleAPIListCatalog)
		api.With(h.requireAuthAPI(application.PermShopWrite)).Post("/catalog", h.handleAPICreateCatalogItem)
		api.With(h.requireAuthAPI(application.PermShopWrite)).Put("/catalog/{id}", h.handleAPIUpdateCatalogItem)
		api.With(h.requireAuthAPI(application.PermShopWrite)).Post("/catalog/{id}/active", h.handleAPISetCatalogItemActive)

		api.With(h.requireAuthAPI(application.PermShopRead)).Get("/payment-methods", h.handleAPIListPaymentMethods)
		api.With(h.requireAuthAPI(application.PermShopWrite)).Post("/payment-methods", h.handleAPICreatePaymentMethod)
		api.With(h.requireAuthAPI(application.PermShopWrite)).Put("/payment-methods/{id}", h.handleAPIUpdatePaymentMethod)

		api.With(h.requireAuthAPI(application.PermShopRead)).Get("/orders", h.handleAPIListOrders)
		api.With(h.requireAuthAPI(application.PermShopRead)).Get("/orders/{id}", h.handleAPIGetOrder)
		api.With(h.requireAuthAPI(application.PermOrdersConfirm)).Post("/orders/{id}/confirm", h.handleAPIConfirmOrder)
		api.With(h.requireAuthAPI(application.PermOrdersConfirm)).Post("/orders/{id}/cancel", h.handleAPICancelOrder)

		api.With(h.requireAuthAPI(application.PermShopRead)).Get("/credentials", h.handleAPIListCredentials)
		api.With(h.requireAuthAPI(application.PermShopWrite)).Post("/credentials/{id}/extend", h.handleAPIExtendCredential)
		api.With(h.requireAuthAPI(application.PermShopWrite)).Post("/credentials/{id}/toggle", h.handleAPIToggleCredential)

		api.With(h.requireAuthAPI(application.PermShopRead)).Get("/buyers", h.handleAPIListBuyers)
		api.With(h.requireAuthAPI(application.PermShopWrite)).Post("/buyers/{id}/block", h.handleAPIBlockBuyer)

		api.With(h.requireAuthAPI(application.PermShopRead)).Get("/settings", h.handleAPIListSettings)
		api.With(h.requireAuthAPI(application.PermSettingsWrite)).Put("/settings/{key}", h.handleAPISetSetting)

		api.With(h.requireAuthAPI(application.PermShopRead)).Get("/stats", h.handleAPIStats)
		api.With(h.requireAuthAPI(application.PermShopRead)).Get("/panel/stats", h.handleAPIPanelStats)
		api.With(h.requireAuthAPI(application.PermShopWrite)).Post("/cache/clear", h.handleAPIClearCaches)

		api.With(h.requireAuthAPI(application.PermSettingsWrite)).Get("/users", h.handleAPIListUsers)
		api.With(h.requireAuthAPI(application.PermSettingsWrite)).Post("/users", h.handleAPICreateUser)
		api.With(h.requireAuthAPI(application.PermAuditRead)).Get("/audit/logs", h.handleAPIListAuditLogs)
	})

	r.With(h.requireAuthGUI(application.PermShopRead)).Get("/", h.handleHomeRedirect)
	r.With(h.requireAuthGUI(application.PermShopRead)).Get("/dashboard", h.handleDashboard)
	r.With(h.requireAuthGUI(application.PermOrdersConfirm)).Post("/gui/orders/{id}/confirm", h.handleGUIConfirmOrder)
	r.With(h.requireAuthGUI(application.PermOrdersConfirm)).Post("/gui/orders/{id}/cancel", h.handleGUICancelOrder)
	r.With(h.requireAuthGUI(application.PermShopWrite)).Post("/gui/cache/clear", h.handleGUIClearCaches)

	return r
}

func (h *Handler) traceRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
		h.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if err := ui.LoginPage("").Render(r.Context(), w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	email := strings.TrimSpace(r.Form.Get("email"))
	password := r.Form.Get("password")

	_, token, err := h.service.LoginWithSession(r.Context(), email, password, 12*time.Hour)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		_ = ui.LoginPage("invalid credentials").Render(r.Context(), w)
		return
	}

	h.setSessionCookie(w, token)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(sessionCookieName)
	if err == nil && c.Value != "" {
		_ = h.service.LogoutSession(r.Context(), c.Value)
	}
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) handleHomeRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	awaiting, _ := h.service.PendingConfirmations(r.Context(), 100)
	catalog, _ := h.service.ListCatalogItems(r.Context(), false)
	page := ui.DashboardPage(ui.Dashboard{
		Email:    currentUserEmail(r.Context()),
		Stats:    stats,
		Awaiting: awaiting,
		Catalog:  catalog,
	})
	if err := page.Render(r.Context(), w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) handleGUIConfirmOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		h.patch(w, r, ui.Flash("invalid order id", "error"))
		return
	}
	order, cred, err := h.provisioner.ConfirmOrder(r.Context(), id)
	if err != nil {
		h.patch(w, r, ui.Flash(fmt.Sprintf("Order #%d: %s", id, err.Error()), "error"))
		return
	}
	h.writeAudit(r.Context(), "orders.confirm", "order", &order.ID)
	h.patchDashboard(w, r, ui.Flash(fmt.Sprintf("Order #%d confirmed, issued %s", order.ID, cred.Name), "info"))
}

func (h *Handler) handleGUICancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		h.patch(w, r, ui.Flash("invalid order id", "error"))
		return
	}
	order, err := h.provisioner.CancelOrder(r.Context(), id)
	if err != nil {
		h.patch(w, r, ui.Flash(fmt.Sprintf("Order #%d: %s", id, err.Error()), "error"))
		return
	}
	h.writeAudit(r.Context(), "orders.cancel", "order", &order.ID)
	h.patchDashboard(w, r, ui.Flash(fmt.Sprintf("Order #%d cancelled", order.ID), "info"))
}

func (h *Handler) handleGUIClearCaches(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearCaches(r.Context()); err != nil {
		h.patch(w, r, ui.Flash(err.Error(), "error"))
		return
	}
	h.writeAudit(r.Context(), "cache.clear", "cache", nil)
	h.patch(w, r, ui.Flash("Bot caches cleared", "info"))
}

// patchDashboard sends the flash message followed by fresh stats and order rows.
func (h *Handler) patchDashboard(w http.ResponseWriter, r *http.Request, flash templ.Component) {
	parts := []templ.Component{flash}
	if stats, err := h.service.Stats(r.Context()); err == nil {
		parts = append(parts, ui.StatsBar(stats))
	}
	if awaiting, err := h.service.PendingConfirmations(r.Context(), 100); err == nil {
		parts = append(parts, ui.OrdersTable(awaiting))
	}
	h.patch(w, r, parts...)
}

func (h *Handler) patch(w http.ResponseWriter, r *http.Request, parts ...templ.Component) {
	sse := datastar.NewSSE(w, r)
	for _, part := range parts {
		if err := sse.PatchElementTempl(part); err != nil {
			h.logger.Debug("datastar patch failed", "error", err)
			return
		}
	}
}

func (h *Handler) requireAuthGUI(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := h.authenticateRequest(r)
			if !ok {
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
			if !h.service.Can(identity, permission) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
		})
	}
}

func (h *Handler) requireAuthAPI(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := h.authenticateRequest(r)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
				return
			}
			if !h.service.Can(identity, permission) {
				writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
		})
	}
}

func (h *Handler) authenticateRequest(r *http.Request) (domain.Identity, bool) {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[7:])
		identity, err := h.service.AuthenticateBearerToken(r.Context(), token)
		if err == nil {
			return identity, true
		}
	}

	c, err := r.Cookie(sessionCookieName)
	if err == nil && strings.TrimSpace(c.Value) != "" {
		identity, authErr := h.service.AuthenticateSession(r.Context(), c.Value)
		if authErr == nil {
			return identity, true
		}
	}

	return domain.Identity{}, false
}

func identityFromContext(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(domain.Identity)
	return identity, ok
}

func currentUserEmail(ctx context.Context) string {
	identity, ok := identityFromContext(ctx)
	if !ok {
		return ""
	}
	return identity.User.Email
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func (h *Handler) writeAudit(ctx context.Context, action, targetType string, targetID *uint) {
	identity, ok := identityFromContext(ctx)
	if !ok {
		h.service.WriteAudit(ctx, nil, action, targetType, targetID, "")
		return
	}
	h.service.WriteAudit(ctx, &identity.User.ID, action, targetType, targetID, "")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps application errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		validation *application.ValidationError
		conflict   *application.StateConflictError
		adapter    *application.AdapterError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "code": "invalid"})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "code": "conflict", "status": conflict.Status})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error(), "code": "not_found"})
	case errors.As(err, &adapter):
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "code": "panel_unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}

func urlID(r *http.Request) (uint, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

func queryUint(r *http.Request, key string) (*uint, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", key)
	}
	id := uint(v)
	return &id, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return fallback
	}
	return v
}
