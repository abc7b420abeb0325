// auth.go — JWT middleware аутентификации и авторизации каталога.
// Подпись проверяется через JWKS (jwkset + keyfunc). Пользователь получает
// роль по группам IdP или realm-ролям, сервисный аккаунт — scopes из claim "scope".
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/tape-catalogue/internal/api/errors"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyClaims — извлечённые claims в контексте запроса.
const ContextKeyClaims contextKey = "jwt_claims"

// SubjectType — тип субъекта JWT.
type SubjectType string

const (
	// SubjectTypeUser — оператор (OIDC).
	SubjectTypeUser SubjectType = "user"
	// SubjectTypeSA — сервисный аккаунт (Client Credentials), например планировщик записи.
	SubjectTypeSA SubjectType = "service_account"
)

// Роли в порядке возрастания привилегий.
const (
	RoleReader = "reader"
	RoleAdmin  = "admin"
)

// Scopes сервисных аккаунтов.
const (
	ScopeRead  = "catalogue:read"
	ScopeWrite = "catalogue:write"
	ScopeAdmin = "catalogue:admin"
)

var roleWeight = map[string]int{
	RoleReader: 1,
	RoleAdmin:  2,
}

// AuthClaims — обработанные claims, доступные обработчикам.
type AuthClaims struct {
	Subject           string
	SubjectType       SubjectType
	PreferredUsername string
	// Groups — группы пользователя из JWT.
	Groups []string
	// EffectiveRole — роль пользователя (admin, reader, "").
	EffectiveRole string
	// Scopes — scopes сервисного аккаунта.
	Scopes   []string
	ClientID string
}

// HasAnyRole проверяет, совпадает ли роль с одной из указанных.
func (c *AuthClaims) HasAnyRole(roles ...string) bool {
	return slices.Contains(roles, c.EffectiveRole)
}

// HasAnyScope проверяет наличие хотя бы одного из указанных scopes.
func (c *AuthClaims) HasAnyScope(scopes ...string) bool {
	for _, s := range scopes {
		if slices.Contains(c.Scopes, s) {
			return true
		}
	}
	return false
}

// rawClaims — claims JWT в формате Keycloak.
type rawClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string       `json:"preferred_username"`
	RealmAccess       *realmAccess `json:"realm_access,omitempty"`
	Groups            []string     `json:"groups,omitempty"`
	Scope             string       `json:"scope,omitempty"`
	ClientID          string       `json:"client_id,omitempty"`
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks        keyfunc.Keyfunc
	logger      *slog.Logger
	adminGroups []string
	issuer      string
	jwtLeeway   time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS, обновляемым в фоне.
// Первая загрузка ключей не обязана быть успешной: сервис стартует,
// даже если IdP ещё недоступен.
func NewJWTAuth(
	jwksURL string,
	issuer string,
	adminGroups []string,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: 10 * time.Second},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(k, issuer, adminGroups, jwtLeeway, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с готовой keyfunc (для тестов).
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, adminGroups []string, jwtLeeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:        kf,
		logger:      logger.With(slog.String("component", "jwt_auth")),
		adminGroups: adminGroups,
		issuer:      issuer,
		jwtLeeway:   jwtLeeway,
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, валидирует подпись (RS256), помещает AuthClaims в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			raw := &rawClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, raw, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if raw.Subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, j.buildAuthClaims(raw))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// buildAuthClaims определяет тип субъекта и роль.
// Сервисный аккаунт в Keycloak несёт client_id и scope.
func (j *JWTAuth) buildAuthClaims(raw *rawClaims) *AuthClaims {
	claims := &AuthClaims{
		Subject:           raw.Subject,
		PreferredUsername: raw.PreferredUsername,
	}

	if raw.ClientID != "" && raw.Scope != "" {
		claims.SubjectType = SubjectTypeSA
		claims.ClientID = raw.ClientID
		claims.Scopes = strings.Fields(raw.Scope)
		return claims
	}

	claims.SubjectType = SubjectTypeUser
	claims.Groups = raw.Groups
	for _, g := range raw.Groups {
		if slices.Contains(j.adminGroups, g) {
			claims.EffectiveRole = RoleAdmin
			return claims
		}
	}
	if raw.RealmAccess != nil {
		claims.EffectiveRole = highestRole(raw.RealmAccess.Roles)
	}
	return claims
}

// highestRole возвращает максимальную известную роль из набора.
func highestRole(roles []string) string {
	highest := ""
	for _, r := range roles {
		if roleWeight[r] > roleWeight[highest] {
			highest = r
		}
	}
	return highest
}

// --- RBAC ---

// RequireRoleOrScope пропускает пользователей с одной из ролей roles
// или сервисные аккаунты с одним из scopes.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireRoleOrScope(roles, scopes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}

			switch claims.SubjectType {
			case SubjectTypeUser:
				if claims.HasAnyRole(roles...) {
					next.ServeHTTP(w, r)
					return
				}
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется роль %s", strings.Join(roles, " или ")))
			case SubjectTypeSA:
				if claims.HasAnyScope(scopes...) {
					next.ServeHTTP(w, r)
					return
				}
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется scope %s", strings.Join(scopes, " или ")))
			default:
				apierrors.Forbidden(w, "Неизвестный тип субъекта")
			}
		})
	}
}

// Готовые требования для маршрутов каталога.
var (
	// RequireRead — чтение и подготовка восстановления.
	RequireRead = RequireRoleOrScope(
		[]string{RoleReader, RoleAdmin},
		[]string{ScopeRead, ScopeWrite, ScopeAdmin},
	)
	// RequireWrite — регистрация пакетов записи.
	RequireWrite = RequireRoleOrScope([]string{RoleAdmin}, []string{ScopeWrite})
	// RequireAdmin — вывод копий и провизионирование.
	RequireAdmin = RequireRoleOrScope([]string{RoleAdmin}, []string{ScopeAdmin})
)

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// SubjectFromContext извлекает sub; пустая строка, если аутентификация выключена.
func SubjectFromContext(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}

// --- Проверка готовности JWKS ---

// JWKSReadinessChecker проверяет доступность JWKS endpoint.
type JWKSReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewJWKSReadinessChecker создаёт проверку JWKS с таймаутом timeout.
func NewJWKSReadinessChecker(jwksURL string, timeout time.Duration) *JWKSReadinessChecker {
	return &JWKSReadinessChecker{jwksURL: jwksURL, client: &http.Client{Timeout: timeout}}
}

const statusFail = "fail"

// CheckReady возвращает "ok", "degraded" (невалидный JSON) или "fail".
func (k *JWKSReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		return statusFail, fmt.Sprintf("JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("JWKS вернул статус %d", resp.StatusCode)
	}

	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("JWKS: невалидный JSON: %v", err)
	}
	return "ok", fmt.Sprintf("ключей: %d", len(jwksResp.Keys))
}
