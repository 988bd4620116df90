// auth.go — JWT middleware аутентификации и авторизации.
// Использует RS256 + JWKS для валидации токенов внешнего провайдера.
// Из claims собирается model.Principal: sub → ID,
// preferred_username/name → Name, роль администратора из
// realm_access.roles или roles.
//
// Без SM_JWKS_URL сервис работает в анонимном режиме: каждый запрос
// выполняется от model.Anonymous, административные endpoints закрыты.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/share-module/internal/api/errors"
	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyPrincipal — ключ для model.Principal в контексте запроса.
const ContextKeyPrincipal contextKey = "principal"

// Claims — JWT claims, из которых строится Principal.
type Claims struct {
	jwt.RegisteredClaims
	// PreferredUsername — preferred_username (Keycloak)
	PreferredUsername string `json:"preferred_username"`
	// Name — полное имя
	Name string `json:"name"`
	// RealmAccess — роли Keycloak (realm_access.roles)
	RealmAccess *realmAccess `json:"realm_access,omitempty"`
	// Roles — кастомный плоский список ролей
	Roles []string `json:"roles"`
}

// realmAccess — вложенная структура realm_access в Keycloak JWT.
type realmAccess struct {
	Roles []string `json:"roles"`
}

// AllRoles возвращает роли из обоих форматов.
func (c *Claims) AllRoles() []string {
	var result []string
	if c.RealmAccess != nil {
		result = append(result, c.RealmAccess.Roles...)
	}
	return append(result, c.Roles...)
}

// DisplayName возвращает отображаемое имя: preferred_username, name или sub.
func (c *Claims) DisplayName() string {
	if c.PreferredUsername != "" {
		return c.PreferredUsername
	}
	if c.Name != "" {
		return c.Name
	}
	return c.Subject
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	jwtLeeway time.Duration
	adminRole string
	logger    *slog.Logger
}

// JWTAuthConfig — параметры для создания JWT middleware.
type JWTAuthConfig struct {
	// URL JWKS endpoint
	JWKSURL string
	// Таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	RefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
	// AdminRole — роль, дающая права администратора
	AdminRole string
}

// NewJWTAuth создаёт JWT middleware с JWKS из указанного URL.
func NewJWTAuth(authCfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	// NoErrorReturnFirstHTTPReq позволяет стартовать даже если JWKS endpoint
	// ещё недоступен
	storage, err := jwkset.NewStorageFromHTTP(authCfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: authCfg.ClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           authCfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", authCfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(k, authCfg.JWTLeeway, authCfg.AdminRole, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, jwtLeeway time.Duration, adminRole string, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:      kf,
		jwtLeeway: jwtLeeway,
		adminRole: adminRole,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token из заголовка Authorization, валидирует подпись (RS256),
// проверяет exp/nbf, помещает Principal в контекст запроса.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, j.jwks.KeyfuncCtx(r.Context()),
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			)
			if err != nil || !token.Valid {
				if err != nil {
					j.logger.Debug("JWT валидация не пройдена",
						slog.String("error", err.Error()),
						slog.String("remote_addr", r.RemoteAddr),
					)
				}
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if claims.Subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			principal := model.Principal{
				ID:      claims.Subject,
				Name:    claims.DisplayName(),
				IsAdmin: j.adminRole != "" && slices.Contains(claims.AllRoles(), j.adminRole),
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// Anonymous возвращает middleware анонимного режима: каждый запрос
// выполняется от model.Anonymous.
func Anonymous() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), model.Anonymous)))
		})
	}
}

// RequireAdmin возвращает middleware, пропускающий только администраторов.
// Отсутствие Principal в контексте — отказ.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := r.Context().Value(ContextKeyPrincipal).(model.Principal)
			if !ok || !principal.IsAdmin {
				apierrors.Forbidden(w, "Недостаточно прав: требуется роль администратора")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithPrincipal помещает Principal в контекст.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipal, p)
}

// PrincipalFromContext извлекает Principal из контекста запроса.
// Возвращает model.Anonymous, если Principal не найден.
func PrincipalFromContext(ctx context.Context) model.Principal {
	p, ok := ctx.Value(ContextKeyPrincipal).(model.Principal)
	if !ok {
		return model.Anonymous
	}
	return p
}
