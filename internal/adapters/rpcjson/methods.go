package rpcjson

import (
	"context"
	"encoding/json"

	"github.com/NikoleTW/VPNBot/internal/application"
	"github.com/NikoleTW/VPNBot/internal/domain"
)

type idParams struct {
	ID uint `json:"id"`
}

func (s *Server) routes() map[string]method {
	return map[string]method{
		"auth.whoami": {call: func(_ context.Context, identity domain.Identity, _ json.RawMessage) (any, error) {
			return map[string]any{"id": identity.User.ID, "email": identity.User.Email, "role": identity.User.Role}, nil
		}},

		"catalog.list": {permission: application.PermShopRead, call: func(ctx context.Context, _ domain.Identity, raw json.RawMessage) (any, error) {
			var p struct {
				ActiveOnly bool `json:"active_only"`
			}
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			return s.service.ListCatalogItems(ctx, p.ActiveOnly)
		}},
		"catalog.create": {permission: application.PermShopWrite, call: func(ctx context.Context, identity domain.Identity, raw json.RawMessage) (any, error) {
			var p application.CatalogItemInput
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			item, err := s.service.CreateCatalogItem(ctx, p)
			if err != nil {
				return nil, err
			}
			s.audit(ctx, identity, "catalog.create", "catalog_item", &item.ID)
			return item, nil
		}},
		"catalog.update": {permission: application.PermShopWrite, call: func(ctx context.Context, identity domain.Identity, raw json.RawMessage) (any, error) {
			var p struct {
				idParams
				application.CatalogItemInput
			}
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			item, err := s.service.UpdateCatalogItem(ctx, p.ID, p.CatalogItemInput)
			if err != nil {
				return nil, err
			}
			s.audit(ctx, identity, "catalog.update", "catalog_item", &item.ID)
			return item, nil
		}},
		"catalog.set_active": {permission: application.PermShopWrite, call: func(ctx context.Context, identity domain.Identity, raw json.RawMessage) (any, error) {
			var p struct {
				idParams
				Active bool `json:"active"`
			}
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			item, err := s.service.SetCatalogItemActive(ctx, p.ID, p.Active)
			if err != nil {
				return nil, err
			}
			s.audit(ctx, identity, "catalog.set_active", "catalog_item", &item.ID)
			return item, nil
		}},

		"payment_methods.list": {permission: application.PermShopRead, call: func(ctx context.Context, _ domain.Identity, raw json.RawMessage) (any, error) {
			var p struct {
				ActiveOnly bool `json:"active_only"`
			}
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			return s.service.ListPaymentMethods(ctx, p.ActiveOnly)
		}},
		"payment_methods.create": {permission: application.PermShopWrite, call: func(ctx context.Context, identity domain.Identity, raw json.RawMessage) (any, error) {
			var p application.PaymentMethodInput
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			m, err := s.service.CreatePaymentMethod(ctx, p)
			if err != nil {
				return nil, err
			}
			s.audit(ctx, identity, "payment_method.create", "payment_method", &m.ID)
			return m, nil
		}},
		"payment_methods.update": {permission: application.PermShopWrite, call: func(ctx context.Context, identity domain.Identity, raw json.RawMessage) (any, error) {
			var p struct {
				idParams
				application.PaymentMethodInput
			}
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			m, err := s.service.UpdatePaymentMethod(ctx, p.ID, p.PaymentMethodInput)
			if err != nil {
				return nil, err
			}
			s.audit(ctx, identity, "payment_method.update", "payment_method", &m.ID)
			return m, nil
		}},

		"orders.list": {permission: application.PermShopRead, call: func(ctx context.Context, _ domain.Identity, raw json.RawMessage) (any, error) {
			var p struct {
				Status  string `json:"status"`
				BuyerID *uint  `json:"buyer_id"`
				Limit   int    `json:"limit"`
			}
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			filter := domain.OrderFilter{BuyerID: p.BuyerID, Limit: p.Limit}
			if p.Status != "" {
				status := domain.OrderStatus(p.Status)
				filter.Status = &status
			}
			return s.service.ListOrders(ctx, filter)
		}},
		"orders.get": {permission: application.PermShopRead, call: func(ctx context.Context, _ domain.Identity, raw json.RawMessage) (any, error) {
			var p idParams
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			return s.service.GetOrder(ctx, p.ID)
		}},
		"orders.confirm": {permission: application.PermOrdersConfirm, call: func(ctx context.Context, identity domain.Identity, raw json.RawMessage) (any, error) {
			var p idParams
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			order, cred, err := s.provisioner.ConfirmOrder(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			s.audit(ctx, identity, "orders.confirm", "order", &order.ID)
			return map[string]any{"order": order, "credential": cred}, nil
		}},
		"orders.cancel": {permission: application.PermOrdersConfirm, call: func(ctx context.Context, identity domain.Identity, raw json.RawMessage) (any, error) {
			var p idParams
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			order, err := s.provisioner.CancelOrder(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			s.audit(ctx, identity, "orders.cancel", "order", &order.ID)
			return order, nil
		}},

		"credentials.list": {permission: application.PermShopRead, call: func(ctx context.Context, _ domain.Identity, raw json.RawMessage) (any, error) {
			var p struct {
				BuyerID    *uint `json:"buyer_id"`
				ActiveOnly bool  `json:"active_only"`
				Limit      int   `json:"limit"`
			}
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			return s.service.ListCredentials(ctx, domain.CredentialFilter{BuyerID: p.BuyerID, ActiveOnly: p.ActiveOnly, Limit: p.Limit})
		}},
		"credentials.extend": {permission: application.PermShopWrite, call: func(ctx context.Context, identity domain.Identity, raw json.RawMessage) (any, error) {
			var p struct {
				idParams
				Days int `json:"days"`
			}
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			cred, err := s.provisioner.ExtendCredential(ctx, p.ID, p.Days)
			if err != nil {
				return nil, err
			}
			s.audit(ctx, identity, "credentials.extend", "credential", &cred.ID)
			return cred, nil
		}},
		"credentials.toggle": {permission: application.PermShopWrite, call: func(ctx context.Context, identity domain.Identity, raw json.RawMessage) (any, error) {
			var p idParams
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			cred, err := s.provisioner.ToggleCredential(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			s.audit(ctx, identity, "credentials.toggle", "credential", &cred.ID)
			return cred, nil
		}},

		"buyers.list": {permission: application.PermShopRead, call: func(ctx context.Context, _ domain.Identity, raw json.RawMessage) (any, error) {
			var p struct {
				Q     string `json:"q"`
				Limit int    `json:"limit"`
			}
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			return s.service.ListBuyers(ctx, p.Q, p.Limit)
		}},
		"buyers.block": {permission: application.PermShopWrite, call: func(ctx context.Context, identity domain.Identity, raw json.RawMessage) (any, error) {
			var p struct {
				idParams
				Blocked bool `json:"blocked"`
			}
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			buyer, err := s.service.SetBuyerBlocked(ctx, p.ID, p.Blocked)
			if err != nil {
				return nil, err
			}
			s.audit(ctx, identity, "buyers.block", "buyer", &buyer.ID)
			return buyer, nil
		}},

		"settings.list": {permission: application.PermShopRead, call: func(ctx context.Context, _ domain.Identity, _ json.RawMessage) (any, error) {
			return s.service.ListSettings(ctx)
		}},
		"settings.set": {permission: application.PermSettingsWrite, call: func(ctx context.Context, identity domain.Identity, raw json.RawMessage) (any, error) {
			var p struct {
				Key   string `json:"key"`
				Value string `json:"value"`
			}
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			if err := s.service.SetSetting(ctx, p.Key, p.Value); err != nil {
				return nil, err
			}
			s.audit(ctx, identity, "settings.set", "setting:"+p.Key, nil)
			return map[string]any{"key": p.Key, "value": p.Value}, nil
		}},

		"stats.get": {permission: application.PermShopRead, call: func(ctx context.Context, _ domain.Identity, _ json.RawMessage) (any, error) {
			return s.service.Stats(ctx)
		}},
		"panel.stats": {permission: application.PermShopRead, call: func(ctx context.Context, _ domain.Identity, _ json.RawMessage) (any, error) {
			raw, err := s.provisioner.PanelStats(ctx)
			if err != nil {
				return nil, err
			}
			return json.RawMessage(raw), nil
		}},
		"cache.clear": {permission: application.PermShopWrite, call: func(ctx context.Context, identity domain.Identity, _ json.RawMessage) (any, error) {
			if err := s.service.ClearCaches(ctx); err != nil {
				return nil, err
			}
			s.audit(ctx, identity, "cache.clear", "cache", nil)
			return map[string]any{"ok": true}, nil
		}},

		"users.list": {permission: application.PermSettingsWrite, call: func(ctx context.Context, _ domain.Identity, raw json.RawMessage) (any, error) {
			var p struct {
				Q     string `json:"q"`
				Limit int    `json:"limit"`
			}
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			users, err := s.service.ListUsers(ctx, p.Q, p.Limit)
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(users))
			for _, u := range users {
				out = append(out, map[string]any{"id": u.ID, "email": u.Email, "role": u.Role})
			}
			return out, nil
		}},
		"users.create": {permission: application.PermSettingsWrite, call: func(ctx context.Context, identity domain.Identity, raw json.RawMessage) (any, error) {
			var p struct {
				Email    string `json:"email"`
				Password string `json:"password"`
				Role     string `json:"role"`
			}
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			u, err := s.service.CreateUser(ctx, p.Email, p.Password, p.Role)
			if err != nil {
				return nil, err
			}
			s.audit(ctx, identity, "users.create", "user", &u.ID)
			return map[string]any{"id": u.ID, "email": u.Email, "role": u.Role}, nil
		}},
		"audit.list": {permission: application.PermAuditRead, call: func(ctx context.Context, _ domain.Identity, raw json.RawMessage) (any, error) {
			var p struct {
				Limit int `json:"limit"`
			}
			if err := params(raw, &p); err != nil {
				return nil, err
			}
			return s.service.ListAuditLogs(ctx, p.Limit)
		}},
	}
}

func (s *Server) audit(ctx context.Context, identity domain.Identity, action, targetType string, targetID *uint) {
	s.service.WriteAudit(ctx, &identity.User.ID, action, targetType, targetID, "rpc")
}
