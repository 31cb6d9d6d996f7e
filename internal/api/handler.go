// Package api exposes the core over one multiplexed endpoint. The action
// query parameter and the HTTP method select the operation.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pondok-erp/pondok-erp/internal/menu"
	"github.com/pondok-erp/pondok-erp/internal/platform/httpx"
	"github.com/pondok-erp/pondok-erp/internal/rbac"
	"github.com/pondok-erp/pondok-erp/internal/records"
	"github.com/pondok-erp/pondok-erp/internal/session"
	"github.com/pondok-erp/pondok-erp/internal/storage"
)

// Path is the endpoint every action is served from.
const Path = "/api"

// Records is the generic CRUD gateway.
type Records interface {
	Get(ctx context.Context, entityType, id string) ([]records.Record, error)
	Save(ctx context.Context, entityType string, fields map[string]any, explicitID string) (records.SaveResult, error)
	Delete(ctx context.Context, entityType, id string) error
}

// Sessions is the session lifecycle manager.
type Sessions interface {
	Login(ctx context.Context, username, password string) (session.Session, error)
	Logout(ctx context.Context, token string) error
	Revoke(ctx context.Context, token string) error
	List(ctx context.Context) ([]session.Session, error)
}

// Permissions resolves capabilities and visible menus.
type Permissions interface {
	Resolve(user rbac.UserRecord, routePath string) rbac.Capabilities
	Menu(user rbac.UserRecord) []menu.Node
}

// Uploads signs direct browser uploads.
type Uploads interface {
	SignUpload(params map[string]string) (storage.UploadSignature, error)
}

// Config collects Handler dependencies.
type Config struct {
	Logger      *slog.Logger
	Records     Records
	Sessions    Sessions
	Permissions Permissions
	Tree        *menu.Tree
	Uploads     Uploads
	Audit       http.Handler
}

// Handler serves Path.
type Handler struct {
	logger      *slog.Logger
	records     Records
	sessions    Sessions
	permissions Permissions
	tree        *menu.Tree
	uploads     Uploads
	audit       http.Handler
	validate    *validator.Validate
	actions     map[string]action
}

type action struct {
	methods []string
	serve   func(w http.ResponseWriter, r *http.Request) error
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	uploads := cfg.Uploads
	if uploads == nil {
		uploads = storage.Noop{}
	}
	h := &Handler{
		logger:      logger,
		records:     cfg.Records,
		sessions:    cfg.Sessions,
		permissions: cfg.Permissions,
		tree:        cfg.Tree,
		uploads:     uploads,
		audit:       cfg.Audit,
		validate:    validator.New(),
	}
	h.actions = map[string]action{
		"get":            {methods: []string{http.MethodGet}, serve: h.handleGet},
		"save":           {methods: []string{http.MethodPost, http.MethodPut}, serve: h.handleSave},
		"delete":         {methods: []string{http.MethodDelete, http.MethodPost}, serve: h.handleDelete},
		"login":          {methods: []string{http.MethodPost}, serve: h.handleLogin},
		"logout":         {methods: []string{http.MethodPost}, serve: h.handleLogout},
		"sessions":       {methods: []string{http.MethodGet}, serve: h.handleSessions},
		"revoke_session": {methods: []string{http.MethodPost}, serve: h.handleRevoke},
		"sign_upload":    {methods: []string{http.MethodPost}, serve: h.handleSignUpload},
		"permissions":    {methods: []string{http.MethodGet}, serve: h.handlePermissions},
		"menu":           {methods: []string{http.MethodGet}, serve: h.handleMenu},
		"audit":          {methods: []string{http.MethodGet}, serve: h.handleAudit},
	}
	return h
}

// MountRoutes registers Path on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Handle(Path, h)
}

// ServeHTTP dispatches on the action query parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("action"))
	act, ok := h.actions[name]
	if !ok {
		httpx.RespondError(w, fmt.Errorf("%w: %q", httpx.ErrUnknownAction, name))
		return
	}
	if !allowed(act.methods, r.Method) {
		w.Header().Set("Allow", strings.Join(act.methods, ", "))
		httpx.RespondError(w, httpx.ErrMethodNotAllowed)
		return
	}
	if err := act.serve(w, r); err != nil {
		h.fail(w, r, name, err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, name string, err error) {
	status, _ := httpx.StatusFor(err)
	attrs := []any{slog.String("action", name), slog.Any("error", err)}
	switch {
	case status >= http.StatusInternalServerError:
		h.logger.Error("api request failed", attrs...)
	case errors.Is(err, httpx.ErrBadRequest):
		h.logger.Debug("api request rejected", attrs...)
	default:
		h.logger.Info("api request rejected", attrs...)
	}
	httpx.RespondError(w, err)
}

func allowed(methods []string, method string) bool {
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %v", httpx.ErrBadRequest, err)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return badRequest(err)
	}
	if err := h.validate.Struct(target); err != nil {
		return badRequest(err)
	}
	return nil
}
