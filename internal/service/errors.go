// errors.go — ошибки сервисного слоя.
package service

import "errors"

// ErrValidation — входные данные не разбираются (hex, число, тип события).
var ErrValidation = errors.New("ошибка валидации")
