// Package rpcjson serves the operator CLI over JSON-RPC 2.0 on a unix socket.
package rpcjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/NikoleTW/VPNBot/internal/application"
	"github.com/NikoleTW/VPNBot/internal/domain"
)

// Error codes beyond the JSON-RPC reserved range mirror HTTP statuses.
const (
	codeParse          = -32700
	codeInvalidRequest = -32600
	codeNoMethod       = -32601
	codeInvalidParams  = -32602
	codeInvalid        = 40000
	codeUnauthorized   = 40100
	codeForbidden      = 40300
	codeNotFound       = 40400
	codeConflict       = 40900
	codeInternal       = 50000
	codePanel          = 50200
)

type Server struct {
	service     *application.Service
	provisioner *application.Provisioner
	logger      *slog.Logger
	listener    net.Listener
	path        string
	ctx         context.Context
	cancel      context.CancelFunc
	methods     map[string]method
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// method is one callable. An empty permission still requires a valid token.
type method struct {
	permission string
	call       func(ctx context.Context, identity domain.Identity, params json.RawMessage) (any, error)
}

func Start(path string, service *application.Service, provisioner *application.Provisioner, logger *slog.Logger) (*Server, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("rpc socket path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		_ = os.Remove(path)
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{service: service, provisioner: provisioner, logger: logger, listener: ln, path: path, ctx: ctx, cancel: cancel}
	s.methods = s.routes()
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	s.cancel()
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			_ = enc.Encode(response{JSONRPC: "2.0", Error: &rpcError{Code: codeParse, Message: "parse error"}, ID: nil})
			return
		}

		resp := s.dispatch(s.ctx, req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: codeInvalidRequest, Message: "invalid request"}, ID: req.ID}
	}
	if req.Method == "auth.login" {
		return s.handleAuthLogin(ctx, req)
	}
	m, ok := s.methods[req.Method]
	if !ok {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: codeNoMethod, Message: "method not found"}, ID: req.ID}
	}
	identity, rpcErr := s.authz(ctx, req.Params, m.permission)
	if rpcErr != nil {
		return response{JSONRPC: "2.0", Error: rpcErr, ID: req.ID}
	}
	result, err := m.call(ctx, identity, req.Params)
	if err != nil {
		s.logger.Debug("rpc call failed", "method", req.Method, "error", err)
		return response{JSONRPC: "2.0", Error: toRPCError(err), ID: req.ID}
	}
	return response{JSONRPC: "2.0", Result: result, ID: req.ID}
}

func (s *Server) handleAuthLogin(ctx context.Context, req request) response {
	var p struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		TokenName string `json:"token_name"`
	}
	if !decodeParams(req.Params, &p) {
		return response{JSONRPC: "2.0", Error: errInvalidParams, ID: req.ID}
	}
	u, token, err := s.service.LoginWithAPIToken(ctx, p.Email, p.Password, p.TokenName, nil)
	if err != nil {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: codeUnauthorized, Message: "invalid credentials"}, ID: req.ID}
	}
	return response{JSONRPC: "2.0", Result: map[string]any{"user_id": u.ID, "email": u.Email, "token": token}, ID: req.ID}
}

func (s *Server) authz(ctx context.Context, params json.RawMessage, permission string) (domain.Identity, *rpcError) {
	var p struct {
		Token string `json:"token"`
	}
	if !decodeParams(params, &p) {
		return domain.Identity{}, errInvalidParams
	}
	identity, err := s.service.AuthenticateBearerToken(ctx, p.Token)
	if err != nil {
		return domain.Identity{}, &rpcError{Code: codeUnauthorized, Message: "unauthorized"}
	}
	if permission != "" && !s.service.Can(identity, permission) {
		return domain.Identity{}, &rpcError{Code: codeForbidden, Message: "forbidden"}
	}
	return identity, nil
}

var errInvalidParams = &rpcError{Code: codeInvalidParams, Message: "invalid params"}

func decodeParams(raw json.RawMessage, out any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// params decodes raw into out or reports invalid params.
func params(raw json.RawMessage, out any) error {
	if !decodeParams(raw, out) {
		return errInvalidParams
	}
	return nil
}

// toRPCError maps application errors onto the codes the CLI understands.
func toRPCError(err error) *rpcError {
	var (
		direct     *rpcError
		validation *application.ValidationError
		conflict   *application.StateConflictError
		adapter    *application.AdapterError
	)
	switch {
	case errors.As(err, &direct):
		return direct
	case errors.As(err, &validation):
		return &rpcError{Code: codeInvalid, Message: err.Error()}
	case errors.As(err, &conflict):
		return &rpcError{Code: codeConflict, Message: err.Error()}
	case errors.Is(err, domain.ErrNotFound):
		return &rpcError{Code: codeNotFound, Message: err.Error()}
	case errors.As(err, &adapter):
		return &rpcError{Code: codePanel, Message: err.Error()}
	}
	return &rpcError{Code: codeInternal, Message: fmt.Sprintf("internal error: %v", err)}
}
