// Пакет openapi — встроенный OpenAPI-документ File Registry и
// middleware валидации входящих запросов по нему (kin-openapi).
package openapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	apierrors "github.com/bigkaa/goartstore/file-registry/internal/api/errors"
)

//go:embed openapi.yaml
var document []byte

// Document возвращает исходный текст OpenAPI-документа.
func Document() []byte {
	return document
}

// Load разбирает и валидирует встроенный документ.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(document)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI-документа: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("валидация OpenAPI-документа: %w", err)
	}
	return doc, nil
}

// Validator — проверка запросов на соответствие OpenAPI-документу.
type Validator struct {
	router routers.Router
	logger *slog.Logger
}

// NewValidator создаёт валидатор по загруженному документу.
func NewValidator(doc *openapi3.T, logger *slog.Logger) (*Validator, error) {
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("создание маршрутизатора OpenAPI: %w", err)
	}
	return &Validator{
		router: router,
		logger: logger.With(slog.String("component", "openapi_validator")),
	}, nil
}

// HasRoute сообщает, описан ли метод и путь в документе.
func (v *Validator) HasRoute(method, path string) bool {
	req, err := http.NewRequest(method, path, http.NoBody)
	if err != nil {
		return false
	}
	_, _, err = v.router.FindRoute(req)
	return err == nil
}

// Middleware возвращает HTTP middleware валидации параметров и тела
// запроса. Запросы к путям вне документа передаются дальше без проверки.
func (v *Validator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := v.router.FindRoute(r)
			if err != nil {
				if !errors.Is(err, routers.ErrPathNotFound) && !errors.Is(err, routers.ErrMethodNotAllowed) {
					v.logger.Debug("Маршрут OpenAPI не определён", slog.String("error", err.Error()))
				}
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				},
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				apierrors.ValidationError(w, validationMessage(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// validationMessage возвращает краткое описание ошибки валидации.
func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			return fmt.Sprintf("параметр %s: %s", reqErr.Parameter.Name, reqErr.Reason)
		}
		if reqErr.Reason != "" {
			return reqErr.Reason
		}
	}
	return err.Error()
}
