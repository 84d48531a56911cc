// auth.go — идентификация вызывающего для мутирующих операций реестра.
//
// Два режима:
//   - JWT: Bearer token (RS256) проверяется по JWKS, адрес берётся из claim
//     FR_JWT_ADDRESS_CLAIM (при отсутствии — из sub);
//   - заголовок: адрес берётся из X-Caller-Address (доверенный gateway
//     перед сервисом уже проверил вызывающего).
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/file-registry/internal/api/errors"
	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
)

// HeaderCallerAddress — заголовок с адресом вызывающего в режиме gateway.
const HeaderCallerAddress = "X-Caller-Address"

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyCaller — адрес вызывающего в контексте запроса.
	ContextKeyCaller contextKey = "caller_address"
)

// CallerAuth — middleware идентификации вызывающего.
type CallerAuth struct {
	// jwks — nil в режиме заголовка.
	jwks         keyfunc.Keyfunc
	issuer       string
	addressClaim string
	jwtLeeway    time.Duration
	logger       *slog.Logger
}

// NewCallerAuth создаёт middleware в режиме JWT с JWKS по HTTP.
// jwksURL — URL JWKS endpoint.
// caCertPath — опциональный путь к CA-сертификату для TLS.
// issuer — ожидаемый issuer JWT (пусто — не проверяется).
// addressClaim — claim с адресом вызывающего.
// jwksClientTimeout — таймаут HTTP-клиента JWKS (FR_JWKS_CLIENT_TIMEOUT).
// jwksRefreshInterval — интервал обновления ключей (FR_JWKS_REFRESH_INTERVAL).
// jwtLeeway — допустимое отклонение времени при проверке JWT (FR_JWT_LEEWAY).
func NewCallerAuth(
	jwksURL string,
	caCertPath string,
	issuer string,
	addressClaim string,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*CallerAuth, error) {
	httpClient := &http.Client{Timeout: jwksClientTimeout}
	if caCertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(caCertPath, jwksClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	// JWKS Storage с фоновым обновлением.
	// NoErrorReturnFirstHTTPReq — стартуем даже если IdP ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
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

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	auth := NewCallerAuthWithKeyfunc(k, issuer, addressClaim, logger)
	auth.jwtLeeway = jwtLeeway
	return auth, nil
}

// NewCallerAuthWithKeyfunc создаёт middleware в режиме JWT с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewCallerAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer, addressClaim string, logger *slog.Logger) *CallerAuth {
	return &CallerAuth{
		jwks:         kf,
		issuer:       issuer,
		addressClaim: addressClaim,
		logger:       logger.With(slog.String("component", "caller_auth")),
	}
}

// NewHeaderCallerAuth создаёт middleware в режиме заголовка X-Caller-Address.
func NewHeaderCallerAuth(logger *slog.Logger) *CallerAuth {
	return &CallerAuth{
		logger: logger.With(slog.String("component", "caller_auth")),
	}
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}

// Mode возвращает режим идентификации: "jwt" или "header".
func (a *CallerAuth) Mode() string {
	if a.jwks != nil {
		return "jwt"
	}
	return "header"
}

// Middleware возвращает HTTP middleware, требующий идентифицированного
// вызывающего. Адрес помещается в контекст запроса.
func (a *CallerAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				caller model.Address
				ok     bool
			)
			if a.jwks != nil {
				caller, ok = a.callerFromToken(w, r)
			} else {
				caller, ok = a.callerFromHeader(w, r)
			}
			if !ok {
				return
			}

			noteCaller(r.Context(), caller)
			ctx := context.WithValue(r.Context(), ContextKeyCaller, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// callerFromHeader читает адрес из X-Caller-Address.
func (a *CallerAuth) callerFromHeader(w http.ResponseWriter, r *http.Request) (model.Address, bool) {
	raw := strings.TrimSpace(r.Header.Get(HeaderCallerAddress))
	if raw == "" {
		apierrors.Unauthenticated(w, "Отсутствует заголовок "+HeaderCallerAddress)
		return model.Address{}, false
	}
	caller, err := model.ParseAddress(raw)
	if err != nil {
		apierrors.Unauthenticated(w, "Некорректный адрес в заголовке "+HeaderCallerAddress)
		return model.Address{}, false
	}
	return caller, true
}

// callerFromToken проверяет Bearer token и извлекает адрес из claims.
func (a *CallerAuth) callerFromToken(w http.ResponseWriter, r *http.Request) (model.Address, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		apierrors.Unauthenticated(w, "Отсутствует заголовок Authorization")
		return model.Address{}, false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		apierrors.Unauthenticated(w, "Неверный формат Authorization: ожидается Bearer <token>")
		return model.Address{}, false
	}

	tokenString := parts[1]
	if tokenString == "" {
		apierrors.Unauthenticated(w, "Пустой Bearer token")
		return model.Address{}, false
	}

	claims := jwt.MapClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.jwtLeeway),
	}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, a.jwks.KeyfuncCtx(r.Context()), parserOpts...)
	if err != nil || !token.Valid {
		a.logger.Debug("JWT валидация не пройдена",
			slog.Any("error", err),
			slog.String("remote_addr", r.RemoteAddr),
		)
		apierrors.Unauthenticated(w, "Невалидный или просроченный токен")
		return model.Address{}, false
	}

	raw := a.addressFromClaims(claims)
	if raw == "" {
		apierrors.Unauthenticated(w, "Токен не содержит адреса вызывающего")
		return model.Address{}, false
	}
	caller, err := model.ParseAddress(raw)
	if err != nil {
		apierrors.Unauthenticated(w, "Некорректный адрес вызывающего в токене")
		return model.Address{}, false
	}
	return caller, true
}

// addressFromClaims возвращает адрес из настроенного claim или из sub.
func (a *CallerAuth) addressFromClaims(claims jwt.MapClaims) string {
	if a.addressClaim != "" {
		if v, ok := claims[a.addressClaim].(string); ok && v != "" {
			return v
		}
	}
	sub, _ := claims.GetSubject()
	return sub
}

// --- Context helpers ---

// CallerFromContext извлекает адрес вызывающего из контекста запроса.
func CallerFromContext(ctx context.Context) (model.Address, bool) {
	caller, ok := ctx.Value(ContextKeyCaller).(model.Address)
	return caller, ok
}

// WithCaller помещает адрес вызывающего в контекст.
func WithCaller(ctx context.Context, caller model.Address) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, caller)
}

// --- ReadinessChecker для JWKS ---

// JWKSReadinessChecker — проверка доступности JWKS endpoint.
type JWKSReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewJWKSReadinessChecker создаёт checker доступности JWKS.
func NewJWKSReadinessChecker(jwksURL, caCertPath string, timeout time.Duration) (*JWKSReadinessChecker, error) {
	client := &http.Client{Timeout: timeout}
	if caCertPath != "" {
		var err error
		client, err = httpClientWithCA(caCertPath, timeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA для readiness checker: %w", err)
		}
	}

	return &JWKSReadinessChecker{
		jwksURL: jwksURL,
		client:  client,
	}, nil
}

const statusFail = "fail"

// CheckReady проверяет доступность JWKS endpoint.
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

	if len(jwksResp.Keys) == 0 {
		return "degraded", "JWKS: нет ключей"
	}

	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}
