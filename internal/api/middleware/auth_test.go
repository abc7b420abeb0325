package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const testKeyID = "test-key"

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

// newTestJWTAuth создаёт JWTAuth с RSA ключом для тестов.
func newTestJWTAuth(t *testing.T) (*JWTAuth, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc из JWKS JSON: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewJWTAuthWithKeyfunc(kf, "", []string{"tape-operators"}, 5*time.Second, logger), key
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims rawClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func registered(sub string, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
}

// TestJWTAuth_Roles проверяет вычисление роли и scopes.
func TestJWTAuth_Roles(t *testing.T) {
	auth, key := newTestJWTAuth(t)

	tests := []struct {
		name     string
		claims   rawClaims
		wantType SubjectType
		wantRole string
	}{
		{
			name:     "оператор из группы администраторов",
			claims:   rawClaims{RegisteredClaims: registered("u1", time.Hour), Groups: []string{"users", "tape-operators"}},
			wantType: SubjectTypeUser,
			wantRole: RoleAdmin,
		},
		{
			name: "роль из realm_access",
			claims: rawClaims{RegisteredClaims: registered("u2", time.Hour),
				RealmAccess: &realmAccess{Roles: []string{"offline_access", RoleReader}}},
			wantType: SubjectTypeUser,
			wantRole: RoleReader,
		},
		{
			name:     "сервисный аккаунт",
			claims:   rawClaims{RegisteredClaims: registered("sa", time.Hour), ClientID: "tape-scheduler", Scope: "catalogue:write profile"},
			wantType: SubjectTypeSA,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *AuthClaims
			handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClaimsFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/tapes/V1", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, key, tt.claims))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK || got == nil {
				t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
			}
			if got.SubjectType != tt.wantType || got.EffectiveRole != tt.wantRole {
				t.Errorf("claims = %+v", got)
			}
		})
	}
}

// TestJWTAuth_Rejected проверяет отказ для некорректных токенов.
func TestJWTAuth_Rejected(t *testing.T) {
	auth, key := newTestJWTAuth(t)
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler не должен быть вызван")
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"нет заголовка", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"пустой токен", "Bearer "},
		{"просроченный токен", "Bearer " + signToken(t, key, rawClaims{RegisteredClaims: registered("u", -time.Hour)})},
		{"мусор", "Bearer not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/tapes/V1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
		})
	}
}

// TestRequireRoleOrScope проверяет RBAC маршрутов каталога.
func TestRequireRoleOrScope(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name   string
		guard  func(http.Handler) http.Handler
		claims *AuthClaims
		want   int
	}{
		{"читатель читает", RequireRead, &AuthClaims{SubjectType: SubjectTypeUser, EffectiveRole: RoleReader}, http.StatusNoContent},
		{"читатель не пишет", RequireWrite, &AuthClaims{SubjectType: SubjectTypeUser, EffectiveRole: RoleReader}, http.StatusForbidden},
		{"планировщик пишет", RequireWrite, &AuthClaims{SubjectType: SubjectTypeSA, Scopes: []string{ScopeWrite}}, http.StatusNoContent},
		{"планировщик читает", RequireRead, &AuthClaims{SubjectType: SubjectTypeSA, Scopes: []string{ScopeWrite}}, http.StatusNoContent},
		{"планировщик не администрирует", RequireAdmin, &AuthClaims{SubjectType: SubjectTypeSA, Scopes: []string{ScopeWrite}}, http.StatusForbidden},
		{"администратор", RequireAdmin, &AuthClaims{SubjectType: SubjectTypeUser, EffectiveRole: RoleAdmin}, http.StatusNoContent},
		{"без claims", RequireRead, nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.claims != nil {
				req = req.WithContext(contextWithClaims(req, tt.claims))
			}
			rec := httptest.NewRecorder()
			tt.guard(ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.want)
			}
		})
	}
}

// TestJWKSReadinessChecker проверяет проверку готовности JWKS.
func TestJWKSReadinessChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"keys":[{}]}`))
	}))
	defer srv.Close()

	if status, msg := NewJWKSReadinessChecker(srv.URL, time.Second).CheckReady(); status != "ok" {
		t.Errorf("CheckReady() = %s %s", status, msg)
	}

	srv.Close()
	if status, _ := NewJWKSReadinessChecker(srv.URL, time.Second).CheckReady(); status != statusFail {
		t.Errorf("CheckReady() после остановки = %s, ожидался fail", status)
	}
}
