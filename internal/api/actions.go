package api

import (
	"net/http"
	"strings"

	"github.com/pondok-erp/pondok-erp/internal/platform/httpx"
	"github.com/pondok-erp/pondok-erp/internal/session"
	"github.com/pondok-erp/pondok-erp/internal/shared"
)

type loginRequest struct {
	Username string `json:"username" validate:"required,max=100"`
	Password string `json:"password" validate:"required,max=200"`
}

type tokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type loginResponse struct {
	Token string           `json:"token"`
	User  session.Snapshot `json:"user"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	recs, err := h.records.Get(r.Context(), q.Get("type"), q.Get("id"))
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, recs)
	return nil
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) error {
	var fields map[string]any
	if err := httpx.DecodeJSON(r, &fields); err != nil {
		return badRequest(err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	q := r.URL.Query()
	res, err := h.records.Save(r.Context(), q.Get("type"), fields, q.Get("id"))
	if err != nil {
		return err
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, res)
	return nil
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	if err := h.records.Delete(r.Context(), q.Get("type"), q.Get("id")); err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, statusResponse{Status: "deleted"})
	return nil
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) error {
	var req loginRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	sess, err := h.sessions.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, loginResponse{Token: sess.Token, User: sess.User})
	return nil
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) error {
	var req tokenRequest
	if token := requestToken(r); token != "" && r.ContentLength <= 0 {
		req.Token = token
	} else if err := h.decode(r, &req); err != nil {
		return err
	}
	if err := h.sessions.Logout(r.Context(), req.Token); err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, statusResponse{Status: session.StatusRevoked})
	return nil
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) error {
	list, err := h.sessions.List(r.Context())
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, list)
	return nil
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) error {
	var req tokenRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	if err := h.sessions.Revoke(r.Context(), req.Token); err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, statusResponse{Status: session.StatusRevoked})
	return nil
}

func (h *Handler) handleSignUpload(w http.ResponseWriter, r *http.Request) error {
	var params map[string]string
	if err := httpx.DecodeJSON(r, &params); err != nil {
		return badRequest(err)
	}
	sig, err := h.uploads.SignUpload(params)
	if err != nil {
		return err
	}
	httpx.JSON(w, http.StatusOK, sig)
	return nil
}

func (h *Handler) handlePermissions(w http.ResponseWriter, r *http.Request) error {
	user := session.UserFromContext(r.Context())
	if user == nil {
		return shared.ErrSessionNotActive
	}
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		return badRequest(errMissingPath)
	}
	httpx.JSON(w, http.StatusOK, h.permissions.Resolve(user.User(), path))
	return nil
}

func (h *Handler) handleMenu(w http.ResponseWriter, r *http.Request) error {
	user := session.UserFromContext(r.Context())
	if user == nil {
		return shared.ErrSessionNotActive
	}
	if r.URL.Query().Get("scope") == "all" && h.tree != nil {
		httpx.JSON(w, http.StatusOK, h.tree.Flatten())
		return nil
	}
	httpx.JSON(w, http.StatusOK, h.permissions.Menu(user.User()))
	return nil
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) error {
	if h.audit == nil {
		httpx.Error(w, http.StatusNotImplemented, "Audit unavailable")
		return nil
	}
	h.audit.ServeHTTP(w, r)
	return nil
}

// requestToken reads the session token from X-Session-Token or a bearer
// Authorization header.
func requestToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(TokenHeader)); token != "" {
		return token
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
