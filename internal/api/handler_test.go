package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondok-erp/pondok-erp/internal/menu"
	"github.com/pondok-erp/pondok-erp/internal/rbac"
	"github.com/pondok-erp/pondok-erp/internal/records"
	"github.com/pondok-erp/pondok-erp/internal/session"
	"github.com/pondok-erp/pondok-erp/internal/shared"
	"github.com/pondok-erp/pondok-erp/internal/storage"
)

type stubRecords struct {
	getType, getID string
	saveType       string
	saveFields     map[string]any
	saveID         string
	deleted        []string
	actor          shared.Actor
	err            error
}

func (s *stubRecords) Get(ctx context.Context, entityType, id string) ([]records.Record, error) {
	s.getType, s.getID = entityType, id
	if s.err != nil {
		return nil, s.err
	}
	v := "A1"
	return []records.Record{{ID: 2, Fields: map[string]*string{"nama_kamar": &v}}}, nil
}

func (s *stubRecords) Save(ctx context.Context, entityType string, fields map[string]any, explicitID string) (records.SaveResult, error) {
	s.saveType, s.saveFields, s.saveID = entityType, fields, explicitID
	s.actor = shared.ActorFromContext(ctx)
	if s.err != nil {
		return records.SaveResult{}, s.err
	}
	if explicitID != "" {
		return records.SaveResult{ID: 7}, nil
	}
	return records.SaveResult{ID: 8, Created: true}, nil
}

func (s *stubRecords) Delete(ctx context.Context, entityType, id string) error {
	s.deleted = append(s.deleted, entityType+"/"+id)
	return s.err
}

type stubSessions struct {
	active     map[string]*session.Snapshot
	loggedOut  []string
	revoked    []string
	lookupErr  error
	loginCalls int
}

func (s *stubSessions) Login(ctx context.Context, username, password string) (session.Session, error) {
	s.loginCalls++
	if username != "bendahara" || password != "bendahara123" {
		return session.Session{}, shared.ErrInvalidCredentials
	}
	snap := session.Snapshot{Token: "tok-1", Username: username, Role: "bendahara"}
	return session.Session{Token: snap.Token, Username: username, Role: snap.Role, Status: session.StatusActive, User: snap}, nil
}

func (s *stubSessions) Logout(ctx context.Context, token string) error {
	s.loggedOut = append(s.loggedOut, token)
	return nil
}

func (s *stubSessions) Revoke(ctx context.Context, token string) error {
	if _, ok := s.active[token]; !ok {
		return fmt.Errorf("session: revoke: %w", shared.ErrNotFound)
	}
	s.revoked = append(s.revoked, token)
	return nil
}

func (s *stubSessions) List(ctx context.Context) ([]session.Session, error) {
	out := []session.Session{}
	for token, snap := range s.active {
		out = append(out, session.Session{Token: token, Username: snap.Username, Status: session.StatusActive})
	}
	return out, nil
}

func (s *stubSessions) Lookup(ctx context.Context, token string) (*session.Snapshot, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	snap, ok := s.active[token]
	if !ok {
		return nil, shared.ErrSessionNotActive
	}
	return snap, nil
}

type fixture struct {
	router   http.Handler
	records  *stubRecords
	sessions *stubSessions
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	tree, err := menu.Load("")
	require.NoError(t, err)
	recs := &stubRecords{}
	sessions := &stubSessions{active: map[string]*session.Snapshot{
		"tok-bendahara": {Token: "tok-bendahara", Username: "bendahara", Role: "bendahara"},
		"tok-staf": {Token: "tok-staf", Username: "ustadz", Role: "staf", Grants: []rbac.Grant{
			{TargetID: "/kesantrian/kamar", Access: rbac.AccessEdit},
		}},
	}}
	h := NewHandler(Config{
		Records:     recs,
		Sessions:    sessions,
		Permissions: rbac.NewResolver(tree),
		Tree:        tree,
		Uploads:     storage.NewClient(storage.Config{CloudName: "pondok", APIKey: "key", APISecret: "secret"}),
		Audit: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	})
	r := chi.NewRouter()
	r.Use(ActorMiddleware(sessions, nil))
	h.MountRoutes(r)
	return fixture{router: r, records: recs, sessions: sessions}
}

func (f fixture) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Error
}

func TestUnknownActionAndMethod(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodGet, "/api?action=drop", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Unknown action", errorMessage(t, rr))

	rr = f.do(http.MethodGet, "/api?action=login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "POST", rr.Header().Get("Allow"))
}

func TestGetPassesTypeAndID(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodGet, "/api?action=get&type=kamar&id=2", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "kamar", f.records.getType)
	assert.Equal(t, "2", f.records.getID)
	assert.JSONEq(t, `[{"id":2,"nama_kamar":"A1"}]`, rr.Body.String())
}

func TestGetInvalidTypeIsShortMessage(t *testing.T) {
	f := newFixture(t)
	f.records.err = fmt.Errorf("schema: %q: %w", "pg_shadow", shared.ErrInvalidType)
	rr := f.do(http.MethodGet, "/api?action=get&type=pg_shadow", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid type", errorMessage(t, rr))
}

func TestSaveInsertAndUpdate(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/api?action=save&type=kamar", `{"nama_kamar":"A1","kapasitas":10}`, map[string]string{TokenHeader: "tok-bendahara"})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.JSONEq(t, `{"id":8,"created":true}`, rr.Body.String())
	assert.Equal(t, json.Number("10"), f.records.saveFields["kapasitas"])
	assert.Equal(t, "bendahara", f.records.actor.Username)

	rr = f.do(http.MethodPut, "/api?action=save&type=kamar&id=7", `{"asrama":""}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "7", f.records.saveID)

	rr = f.do(http.MethodPost, "/api?action=save&type=kamar", `[1,2]`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodDelete, "/api?action=delete&type=santri&id=3", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"santri/3"}, f.records.deleted)

	f.records.err = shared.ErrMissingID
	rr = f.do(http.MethodDelete, "/api?action=delete&type=santri", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/api?action=login", `{"username":"bendahara"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, f.sessions.loginCalls, "validation runs before login")

	rr = f.do(http.MethodPost, "/api?action=login", `{"username":"bendahara","password":"salah"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Invalid credentials", errorMessage(t, rr))

	rr = f.do(http.MethodPost, "/api?action=login", `{"username":"bendahara","password":"bendahara123"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body loginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "tok-1", body.Token)
	assert.Equal(t, "tok-1", body.User.Token)
	assert.Equal(t, "bendahara", body.User.Role)
}

func TestLogoutAndRevoke(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/api?action=logout", "", map[string]string{TokenHeader: "tok-staf"})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = f.do(http.MethodPost, "/api?action=logout", `{"token":"tok-lain"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"tok-staf", "tok-lain"}, f.sessions.loggedOut)

	rr = f.do(http.MethodPost, "/api?action=revoke_session", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(http.MethodPost, "/api?action=revoke_session", `{"token":"tidak-ada"}`, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = f.do(http.MethodPost, "/api?action=revoke_session", `{"token":"tok-staf"}`, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"tok-staf"}, f.sessions.revoked)
}

func TestSessionsList(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodGet, "/api?action=sessions", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []session.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestPermissions(t *testing.T) {
	f := newFixture(t)
	bendahara := map[string]string{TokenHeader: "tok-bendahara"}

	rr := f.do(http.MethodGet, "/api?action=permissions&path=/keuangan/pembayaran", "", bendahara)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"canEdit":true,"canDelete":true}`, rr.Body.String())

	rr = f.do(http.MethodGet, "/api?action=permissions&path=/keamanan/pelanggaran", "", bendahara)
	assert.JSONEq(t, `{"canEdit":false,"canDelete":false}`, rr.Body.String())

	rr = f.do(http.MethodGet, "/api?action=permissions&path=/kesantrian/kamar", "", map[string]string{"Authorization": "Bearer tok-staf"})
	assert.JSONEq(t, `{"canEdit":true,"canDelete":false}`, rr.Body.String())

	rr = f.do(http.MethodGet, "/api?action=permissions&path=/keuangan/pembayaran", "", map[string]string{TokenHeader: "revoked"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(http.MethodGet, "/api?action=permissions", "", bendahara)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMenu(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodGet, "/api?action=menu", "", map[string]string{TokenHeader: "tok-staf"})
	require.Equal(t, http.StatusOK, rr.Code)
	var nodes []menu.Node
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "Kesantrian", nodes[0].Label)
	require.Len(t, nodes[0].Children, 1)
	assert.Equal(t, "/kesantrian/kamar", nodes[0].Children[0].Path)

	rr = f.do(http.MethodGet, "/api?action=menu&scope=all", "", map[string]string{TokenHeader: "tok-staf"})
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []menu.Entry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	assert.Greater(t, len(entries), 10)
}

func TestSignUpload(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodPost, "/api?action=sign_upload", `{"folder":"santri","timestamp":"1700000000"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var sig storage.UploadSignature
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sig))
	assert.Equal(t, storage.NewSigner("secret").Sign(map[string]string{"folder": "santri", "timestamp": "1700000000"}), sig.Signature)
}

func TestAuditDelegates(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodGet, "/api?action=audit", "", nil)
	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestActorMiddleware(t *testing.T) {
	sessions := &stubSessions{active: map[string]*session.Snapshot{
		"tok": {Token: "tok", Username: "admin", Role: "admin"},
	}}
	var got shared.Actor
	var user *session.Snapshot
	h := ActorMiddleware(sessions, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = shared.ActorFromContext(r.Context())
		user = session.UserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.RemoteAddr = "10.0.0.5:51234"
	req.Header.Set(TokenHeader, "tok")
	req.Header.Set(ActorUsernameHeader, "spoofed")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, shared.Actor{Username: "admin", Role: "admin", Address: "10.0.0.5"}, got)
	require.NotNil(t, user)

	req = httptest.NewRequest(http.MethodGet, "/api", nil)
	req.RemoteAddr = "10.0.0.6:1000"
	req.Header.Set(ActorUsernameHeader, "sekretariat")
	req.Header.Set(ActorRoleHeader, "sekretariat")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, shared.Actor{Username: "sekretariat", Role: "sekretariat", Address: "10.0.0.6"}, got)
	assert.Nil(t, user)

	sessions.lookupErr = fmt.Errorf("redis down")
	req = httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set(TokenHeader, "tok")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Nil(t, user, "lookup failures never reject the request")
}
