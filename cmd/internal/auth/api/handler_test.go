package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/guard"
	"warden/cmd/internal/auth/session"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct horse battery staple"
	testSeedHex  = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"
)

var (
	testHashOnce sync.Once
	testHash     string
)

func testPasswordHash(t *testing.T) string {
	t.Helper()
	testHashOnce.Do(func() {
		h, err := identity.HashPassword(testPassword)
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		testHash = h
	})
	return testHash
}

// fakeUsers implements identity.UserStore for a single account.
type fakeUsers struct {
	mu   sync.Mutex
	auth identity.UserAuth
}

func (f *fakeUsers) GetUserAuthByEmail(_ context.Context, email string) (identity.UserAuth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if email != f.auth.User.Email {
		return identity.UserAuth{}, identity.ErrNotFound
	}
	return f.auth, nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, userID string) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if userID != f.auth.User.ID {
		return identity.User{}, identity.ErrNotFound
	}
	return f.auth.User, nil
}

func (f *fakeUsers) AdvanceTOTPCounter(_ context.Context, userID string, counter int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if userID != f.auth.User.ID || counter <= f.auth.TOTPLastCounter {
		return false, nil
	}
	f.auth.TOTPLastCounter = counter
	return true, nil
}

// memRefreshStore is an in-memory session.RefreshStore with conditional
// rotation semantics.
type memRefreshStore struct {
	mu   sync.Mutex
	rows map[string]*session.RefreshToken
	seq  int
}

func newMemRefreshStore() *memRefreshStore {
	return &memRefreshStore{rows: make(map[string]*session.RefreshToken)}
}

func (m *memRefreshStore) newID() string {
	m.seq++
	return "rt-" + strings.Repeat("x", m.seq)
}

func (m *memRefreshStore) Create(_ context.Context, now time.Time, userID, tokenHash, familyID string, expiresAt time.Time) (session.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := session.RefreshToken{
		ID: m.newID(), UserID: userID, TokenHash: tokenHash,
		FamilyID: familyID, ExpiresAt: expiresAt, CreatedAt: now,
	}
	m.rows[row.ID] = &row
	return row, nil
}

func (m *memRefreshStore) FindByHash(_ context.Context, tokenHash string) (session.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.TokenHash == tokenHash {
			return *row, nil
		}
	}
	return session.RefreshToken{}, session.ErrTokenNotFound
}

func (m *memRefreshStore) Rotate(_ context.Context, now time.Time, old session.RefreshToken, newTokenHash string, expiresAt time.Time) (session.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[old.ID]
	if !ok || cur.RevokedAt != nil {
		return session.RefreshToken{}, session.ErrTokenRotated
	}
	cur.RevokedAt = &now
	next := session.RefreshToken{
		ID: m.newID(), UserID: old.UserID, TokenHash: newTokenHash,
		FamilyID: old.FamilyID, ExpiresAt: expiresAt, CreatedAt: now,
	}
	m.rows[next.ID] = &next
	return next, nil
}

func (m *memRefreshStore) RevokeFamily(_ context.Context, now time.Time, familyID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hashes []string
	for _, row := range m.rows {
		if row.FamilyID != familyID {
			continue
		}
		if row.RevokedAt == nil {
			t := now
			row.RevokedAt = &t
		}
		hashes = append(hashes, row.TokenHash)
	}
	return hashes, nil
}

func (m *memRefreshStore) RevokeByID(_ context.Context, now time.Time, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok && row.RevokedAt == nil {
		t := now
		row.RevokedAt = &t
	}
	return nil
}

func (m *memRefreshStore) RevokeByHash(_ context.Context, now time.Time, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.TokenHash == tokenHash && row.RevokedAt == nil {
			t := now
			row.RevokedAt = &t
		}
	}
	return nil
}

type memRegistry struct {
	mu   sync.Mutex
	rows map[string]*session.Session
	seq  int
}

func newMemRegistry() *memRegistry {
	return &memRegistry{rows: make(map[string]*session.Session)}
}

func (m *memRegistry) Record(_ context.Context, now time.Time, userID, tokenHash string, meta session.ClientMeta, expiresAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := "sess-" + strings.Repeat("x", m.seq)
	m.rows[id] = &session.Session{
		ID: id, UserID: userID, TokenHash: tokenHash,
		IP: meta.IP, UserAgent: meta.UserAgent,
		CreatedAt: now, ExpiresAt: expiresAt,
	}
	return id, nil
}

func (m *memRegistry) UpdateByHash(_ context.Context, oldHash, newHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.TokenHash == oldHash && s.RevokedAt == nil {
			s.TokenHash = newHash
			s.ExpiresAt = expiresAt
		}
	}
	return nil
}

func (m *memRegistry) ListActive(_ context.Context, userID string, now time.Time) ([]session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []session.Session
	for _, s := range m.rows {
		if s.UserID == userID && s.RevokedAt == nil && s.ExpiresAt.After(now) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memRegistry) GetOwned(_ context.Context, sessionID, userID string) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[sessionID]
	if !ok || s.UserID != userID {
		return session.Session{}, session.ErrSessionNotFound
	}
	return *s, nil
}

func (m *memRegistry) RevokeByID(_ context.Context, now time.Time, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rows[sessionID]; ok && s.RevokedAt == nil {
		t := now
		s.RevokedAt = &t
	}
	return nil
}

func (m *memRegistry) RevokeByHash(_ context.Context, now time.Time, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.TokenHash == tokenHash && s.RevokedAt == nil {
			t := now
			s.RevokedAt = &t
		}
	}
	return nil
}

type testEnv struct {
	srv   *httptest.Server
	users *fakeUsers
	mr    *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := &fakeUsers{auth: identity.UserAuth{
		User:         identity.User{ID: "user-1", Email: testEmail, CreatedAt: time.Now().UTC()},
		PasswordHash: testPasswordHash(t),
	}}

	log := slog.New(slog.DiscardHandler)

	sessCfg := session.DefaultConfig()
	sessCfg.AccessKeySeedHex = testSeedHex
	tokens, err := session.NewJWTEd25519Manager(sessCfg)
	if err != nil {
		t.Fatalf("NewJWTEd25519Manager: %v", err)
	}
	svc := session.NewService(sessCfg, newMemRefreshStore(), newMemRegistry(), tokens, log)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := LoadConfigFromEnv()
	cfg.CookieSecure = false
	cfg.Lockout = guard.LockoutConfig{MaxAttempts: 3, Window: time.Minute}

	h, err := NewHandler(log, cfg, users, svc,
		guard.NewLockout(rdb, cfg.Lockout, log),
		guard.NewDenylist(rdb, log), nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, users: users, mr: mr}
}

func (e *testEnv) do(t *testing.T, method, path, body string, cookies []*http.Cookie, headers map[string]string) *http.Response {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func login(t *testing.T, e *testEnv) (*http.Response, loginResponse) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/sessions",
		`{"email":"`+testEmail+`","password":"`+testPassword+`"}`, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	return resp, decodeBody[loginResponse](t, resp)
}

func TestLoginSuccess(t *testing.T) {
	e := newTestEnv(t)

	resp, body := login(t, e)
	if body.User.ID != "user-1" {
		t.Fatalf("user id = %q", body.User.ID)
	}
	if body.Session.AccessExpiresAt.IsZero() || body.Session.RefreshExpiresAt.IsZero() {
		t.Fatal("expected session expiries in response")
	}

	access := findCookie(resp, AccessCookieName)
	refresh := findCookie(resp, RefreshCookieName)
	if access == nil || refresh == nil {
		t.Fatal("expected both session cookies")
	}
	if !access.HttpOnly || !refresh.HttpOnly {
		t.Fatal("session cookies must be HttpOnly")
	}
	if refresh.Path != refreshCookiePath {
		t.Fatalf("refresh cookie path = %q, want %q", refresh.Path, refreshCookiePath)
	}
}

func TestTokensTravelOnlyInCookies(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/sessions",
		`{"email":"`+testEmail+`","password":"`+testPassword+`"}`, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	access := findCookie(resp, AccessCookieName)
	refresh := findCookie(resp, RefreshCookieName)
	if access == nil || refresh == nil {
		t.Fatal("expected both session cookies")
	}
	assertNoTokensInBody(t, resp, access.Value, refresh.Value)

	resp2 := e.do(t, http.MethodPost, "/sessions/refresh", "", []*http.Cookie{refresh}, nil)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d", resp2.StatusCode)
	}
	rotatedAccess := findCookie(resp2, AccessCookieName)
	rotatedRefresh := findCookie(resp2, RefreshCookieName)
	assertNoTokensInBody(t, resp2, rotatedAccess.Value, rotatedRefresh.Value)
}

func assertNoTokensInBody(t *testing.T, resp *http.Response, tokens ...string) {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := string(raw)
	for _, key := range []string{"access_token", "refresh_token"} {
		if strings.Contains(body, key) {
			t.Fatalf("response body carries %q: %s", key, body)
		}
	}
	for _, token := range tokens {
		if token != "" && strings.Contains(body, token) {
			t.Fatalf("response body leaks a cookie token value: %s", body)
		}
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/sessions",
		`{"email":"`+testEmail+`","password":"wrong"}`, nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	body := decodeBody[errorResponse](t, resp)
	if body.Error.Code != "invalid_credentials" {
		t.Fatalf("code = %q", body.Error.Code)
	}
}

func TestLoginUnknownEmailIndistinguishable(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/sessions",
		`{"email":"nobody@example.com","password":"whatever"}`, nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	body := decodeBody[errorResponse](t, resp)
	if body.Error.Code != "invalid_credentials" {
		t.Fatalf("code = %q, unknown emails must not be distinguishable", body.Error.Code)
	}
}

func TestLoginLockout(t *testing.T) {
	e := newTestEnv(t)

	var last *http.Response
	for range 3 {
		last = e.do(t, http.MethodPost, "/sessions",
			`{"email":"`+testEmail+`","password":"wrong"}`, nil, nil)
	}
	if last.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 on threshold", last.StatusCode)
	}
	if last.Header.Get("Retry-After") == "" {
		t.Fatal("429 must carry Retry-After")
	}

	// Correct password is also rejected while locked.
	resp := e.do(t, http.MethodPost, "/sessions",
		`{"email":"`+testEmail+`","password":"`+testPassword+`"}`, nil, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 during lockout", resp.StatusCode)
	}

	// Lockout clears after the window.
	e.mr.FastForward(2 * time.Minute)
	resp = e.do(t, http.MethodPost, "/sessions",
		`{"email":"`+testEmail+`","password":"`+testPassword+`"}`, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 after window", resp.StatusCode)
	}
}

func TestLoginTOTPRequired(t *testing.T) {
	e := newTestEnv(t)
	secret := "JBSWY3DPEHPK3PXP"
	e.users.auth.TOTPSecret = &secret

	resp := e.do(t, http.MethodPost, "/sessions",
		`{"email":"`+testEmail+`","password":"`+testPassword+`"}`, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[totpRequiredResponse](t, resp)
	if !body.TOTPRequired {
		t.Fatal("expected totp_required response")
	}

	resp = e.do(t, http.MethodPost, "/sessions",
		`{"email":"`+testEmail+`","password":"`+testPassword+`","totp_code":"000000"}`, nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for bad code", resp.StatusCode)
	}
	errBody := decodeBody[errorResponse](t, resp)
	if errBody.Error.Code != "totp_invalid" {
		t.Fatalf("code = %q", errBody.Error.Code)
	}
}

func TestRefreshViaCookie(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := login(t, e)
	refresh := findCookie(resp, RefreshCookieName)

	resp2 := e.do(t, http.MethodPost, "/sessions/refresh", "", []*http.Cookie{refresh}, nil)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d", resp2.StatusCode)
	}
	rotated := findCookie(resp2, RefreshCookieName)
	if rotated == nil {
		t.Fatal("refresh must reset the refresh cookie")
	}
	if rotated.Value == refresh.Value {
		t.Fatal("rotation must mint a new refresh token")
	}
}

func TestRefreshReuseDetected(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := login(t, e)
	refresh := findCookie(resp, RefreshCookieName)

	if r := e.do(t, http.MethodPost, "/sessions/refresh", "", []*http.Cookie{refresh}, nil); r.StatusCode != http.StatusOK {
		t.Fatalf("first refresh status = %d", r.StatusCode)
	}

	resp2 := e.do(t, http.MethodPost, "/sessions/refresh", "", []*http.Cookie{refresh}, nil)
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", resp2.StatusCode)
	}
	body := decodeBody[errorResponse](t, resp2)
	if body.Error.Code != "reuse_detected" {
		t.Fatalf("code = %q, want reuse_detected", body.Error.Code)
	}

	cleared := findCookie(resp2, RefreshCookieName)
	if cleared == nil || cleared.Value != "" || cleared.MaxAge != -1 {
		t.Fatal("reuse detection must clear the refresh cookie")
	}
}

func TestRefreshMissingToken(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/sessions/refresh", "", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMeWithBearerAndCookie(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := login(t, e)
	access := findCookie(resp, AccessCookieName)

	r := e.do(t, http.MethodGet, "/sessions/me", "", nil,
		map[string]string{"Authorization": "Bearer " + access.Value})
	if r.StatusCode != http.StatusOK {
		t.Fatalf("bearer status = %d", r.StatusCode)
	}
	me := decodeBody[meResponse](t, r)
	if me.User.Email != testEmail {
		t.Fatalf("email = %q", me.User.Email)
	}

	r = e.do(t, http.MethodGet, "/sessions/me", "", []*http.Cookie{access}, nil)
	if r.StatusCode != http.StatusOK {
		t.Fatalf("cookie status = %d", r.StatusCode)
	}
}

func TestMeUnauthorized(t *testing.T) {
	e := newTestEnv(t)

	if r := e.do(t, http.MethodGet, "/sessions/me", "", nil, nil); r.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", r.StatusCode)
	}
	if r := e.do(t, http.MethodGet, "/sessions/me", "", nil,
		map[string]string{"Authorization": "Bearer garbage"}); r.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", r.StatusCode)
	}
}

func TestLogoutDenylistsAccessToken(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := login(t, e)
	refresh := findCookie(resp, RefreshCookieName)
	auth := map[string]string{"Authorization": "Bearer " + findCookie(resp, AccessCookieName).Value}

	r := e.do(t, http.MethodDelete, "/sessions", "", []*http.Cookie{refresh}, auth)
	if r.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", r.StatusCode)
	}

	// The still-unexpired access token must now be rejected.
	r = e.do(t, http.MethodGet, "/sessions/me", "", nil, auth)
	if r.StatusCode != http.StatusUnauthorized {
		t.Fatalf("post-logout me status = %d, want 401", r.StatusCode)
	}

	// The refresh token must be dead too.
	r = e.do(t, http.MethodPost, "/sessions/refresh", "", []*http.Cookie{refresh}, nil)
	if r.StatusCode != http.StatusUnauthorized {
		t.Fatalf("post-logout refresh status = %d, want 401", r.StatusCode)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	e := newTestEnv(t)

	for range 2 {
		r := e.do(t, http.MethodDelete, "/sessions", "", nil, nil)
		if r.StatusCode != http.StatusOK {
			t.Fatalf("logout status = %d, want 200 even without a session", r.StatusCode)
		}
	}
}

func TestSessionListAndRevoke(t *testing.T) {
	e := newTestEnv(t)

	// Two logins, two sessions.
	respA, bodyA := login(t, e)
	_, bodyB := login(t, e)
	refreshA := findCookie(respA, RefreshCookieName)
	authA := map[string]string{"Authorization": "Bearer " + findCookie(respA, AccessCookieName).Value}

	r := e.do(t, http.MethodGet, "/sessions", "", []*http.Cookie{refreshA}, authA)
	if r.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", r.StatusCode)
	}
	list := decodeBody[sessionListResponse](t, r)
	if len(list.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(list.Sessions))
	}
	currents := 0
	for _, s := range list.Sessions {
		if s.Current {
			currents++
			if s.ID != bodyA.Session.SessionID {
				t.Fatalf("current session = %q, want %q", s.ID, bodyA.Session.SessionID)
			}
		}
	}
	if currents != 1 {
		t.Fatalf("current sessions = %d, want exactly 1", currents)
	}

	// Revoke the other session from this one.
	r = e.do(t, http.MethodDelete, "/sessions/"+bodyB.Session.SessionID, "", nil, authA)
	if r.StatusCode != http.StatusOK {
		t.Fatalf("revoke status = %d, want 200", r.StatusCode)
	}
	if ack := decodeBody[sessionRevokedResponse](t, r); !ack.Revoked {
		t.Fatal("expected revoked ack")
	}

	r = e.do(t, http.MethodGet, "/sessions", "", []*http.Cookie{refreshA}, authA)
	list = decodeBody[sessionListResponse](t, r)
	if len(list.Sessions) != 1 {
		t.Fatalf("sessions = %d after revoke, want 1", len(list.Sessions))
	}

	// Revoking an unknown id is a 404.
	r = e.do(t, http.MethodDelete, "/sessions/does-not-exist", "", nil, authA)
	if r.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown revoke status = %d, want 404", r.StatusCode)
	}
}

func TestLoginRejectsUnknownFields(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/sessions",
		`{"email":"`+testEmail+`","password":"x","admin":true}`, nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown fields", resp.StatusCode)
	}
}
