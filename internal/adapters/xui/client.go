// Package xui talks to a 3x-ui panel, which owns the VPN client accounts.
package xui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

var ErrClientNotFound = errors.New("xui: client not found")

// APIError is a request the panel answered but rejected.
type APIError struct {
	Path   string
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("xui %s: %d: %s", e.Path, e.Status, e.Msg)
	}
	return fmt.Sprintf("xui %s: status %d", e.Path, e.Status)
}

type Config struct {
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	base     string
	username string
	password string
	http     *http.Client
	logger   *slog.Logger

	mu       sync.Mutex
	loggedIn bool
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("xui: invalid panel url %q", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		cp := *hc
		cp.Jar = jar
		hc = &cp
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{base: base, username: cfg.Username, password: cfg.Password, http: hc, logger: logger}, nil
}

func (c *Client) login(ctx context.Context) error {
	form := url.Values{"username": {c.username}, "password": {c.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("xui login: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("xui login: %w", err)
	}
	if res.StatusCode != http.StatusOK || !gjson.GetBytes(body, "success").Bool() {
		return &APIError{Path: "/login", Status: res.StatusCode, Msg: gjson.GetBytes(body, "msg").String()}
	}
	c.logger.Debug("xui login ok")
	return nil
}

func (c *Client) ensureLogin(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn && !force {
		return nil
	}
	c.loggedIn = false
	if err := c.login(ctx); err != nil {
		return err
	}
	c.loggedIn = true
	return nil
}

// call performs one API request and returns the "obj" member of the reply.
// An expired panel session is renewed once.
func (c *Client) call(ctx context.Context, method, path string, payload any) (gjson.Result, error) {
	if err := c.ensureLogin(ctx, false); err != nil {
		return gjson.Result{}, err
	}
	obj, status, err := c.send(ctx, method, path, payload)
	if status == http.StatusUnauthorized || status == http.StatusNotFound || status == http.StatusFound {
		c.logger.Info("xui session expired, logging in again", "path", path)
		if err := c.ensureLogin(ctx, true); err != nil {
			return gjson.Result{}, err
		}
		obj, _, err = c.send(ctx, method, path, payload)
	}
	return obj, err
}

func (c *Client) send(ctx context.Context, method, path string, payload any) (gjson.Result, int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return gjson.Result{}, 0, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return gjson.Result{}, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, 0, fmt.Errorf("xui %s: %w", path, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return gjson.Result{}, res.StatusCode, fmt.Errorf("xui %s: %w", path, err)
	}
	if res.StatusCode != http.StatusOK || !gjson.ValidBytes(raw) {
		return gjson.Result{}, res.StatusCode, &APIError{Path: path, Status: res.StatusCode}
	}
	doc := gjson.ParseBytes(raw)
	if !doc.Get("success").Bool() {
		return gjson.Result{}, res.StatusCode, &APIError{Path: path, Status: res.StatusCode, Msg: doc.Get("msg").String()}
	}
	return doc.Get("obj"), res.StatusCode, nil
}

func (c *Client) ListInbounds(ctx context.Context) ([]domain.Inbound, error) {
	obj, err := c.call(ctx, http.MethodGet, "/panel/api/inbounds/list", nil)
	if err != nil {
		return nil, err
	}
	var out []domain.Inbound
	obj.ForEach(func(_, in gjson.Result) bool {
		protocol, ok := domain.ParseProtocol(in.Get("protocol").String())
		if !ok {
			return true
		}
		stream := gjson.Parse(in.Get("streamSettings").String())
		out = append(out, domain.Inbound{
			ID:       int(in.Get("id").Int()),
			Protocol: protocol,
			Address:  in.Get("listen").String(),
			Port:     int(in.Get("port").Int()),
			Network:  stream.Get("network").String(),
			Security: stream.Get("security").String(),
			Remark:   in.Get("remark").String(),
			Enabled:  in.Get("enable").Bool(),
		})
		return true
	})
	return out, nil
}

func (c *Client) CreateClient(ctx context.Context, inboundID int, identifier string, protocol domain.Protocol, expiryDays int) (domain.RemoteClient, error) {
	secret := uuid.NewString()
	client := map[string]any{
		"email":      identifier,
		"enable":     true,
		"expiryTime": expiryMillis(time.Now().AddDate(0, 0, expiryDays), expiryDays > 0),
		"limitIp":    0,
		"totalGB":    0,
		"subId":      strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
	}
	switch protocol {
	case domain.ProtocolVLESS:
		client["id"] = secret
		client["flow"] = ""
	case domain.ProtocolVMess:
		client["id"] = secret
		client["alterId"] = 0
	case domain.ProtocolTrojan:
		client["password"] = secret
	default:
		return domain.RemoteClient{}, fmt.Errorf("xui: unsupported protocol %q", protocol)
	}

	if _, err := c.call(ctx, http.MethodPost, "/panel/api/inbounds/addClient", clientPayload(inboundID, client)); err != nil {
		return domain.RemoteClient{}, err
	}
	c.logger.Info("xui client created", "inbound_id", inboundID, "client", identifier)
	return domain.RemoteClient{RemoteID: secret, Secret: secret, Identifier: identifier}, nil
}

func (c *Client) UpdateClient(ctx context.Context, inboundID int, identifier string, update domain.ClientUpdate) error {
	key, client, err := c.findClient(ctx, inboundID, identifier)
	if err != nil {
		return err
	}
	if update.ExpiresAt != nil {
		client["expiryTime"] = expiryMillis(*update.ExpiresAt, true)
	}
	if update.Enabled != nil {
		client["enable"] = *update.Enabled
	}
	_, err = c.call(ctx, http.MethodPost, "/panel/api/inbounds/updateClient/"+url.PathEscape(key), clientPayload(inboundID, client))
	return err
}

func (c *Client) RemoveClient(ctx context.Context, inboundID int, identifier string) error {
	key, _, err := c.findClient(ctx, inboundID, identifier)
	if errors.Is(err, ErrClientNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = c.call(ctx, http.MethodPost, fmt.Sprintf("/panel/api/inbounds/%d/delClient/%s", inboundID, url.PathEscape(key)), nil)
	return err
}

func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	obj, err := c.call(ctx, http.MethodPost, "/server/status", nil)
	if err != nil {
		return nil, err
	}
	if obj.Raw == "" {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage(obj.Raw), nil
}

// findClient returns the key the panel addresses the client by (its uuid, or
// password for trojan) together with the full client object.
func (c *Client) findClient(ctx context.Context, inboundID int, identifier string) (string, map[string]any, error) {
	obj, err := c.call(ctx, http.MethodGet, fmt.Sprintf("/panel/api/inbounds/get/%d", inboundID), nil)
	if err != nil {
		return "", nil, err
	}
	settings := obj.Get("settings").String()
	match := gjson.Get(settings, fmt.Sprintf(`clients.#(email==%q)`, identifier))
	if !match.Exists() {
		return "", nil, fmt.Errorf("%w: %s in inbound %d", ErrClientNotFound, identifier, inboundID)
	}
	var client map[string]any
	if err := json.Unmarshal([]byte(match.Raw), &client); err != nil {
		return "", nil, fmt.Errorf("xui: decode client: %w", err)
	}
	key := match.Get("id").String()
	if strings.EqualFold(obj.Get("protocol").String(), string(domain.ProtocolTrojan)) || key == "" {
		key = match.Get("password").String()
	}
	return key, client, nil
}

func clientPayload(inboundID int, client map[string]any) map[string]any {
	settings, _ := json.Marshal(map[string]any{"clients": []any{client}})
	return map[string]any{"id": inboundID, "settings": string(settings)}
}

// expiryMillis renders an expiry the way the panel stores it. Zero means
// the client never expires.
func expiryMillis(t time.Time, set bool) int64 {
	if !set {
		return 0
	}
	return t.UnixMilli()
}
