// errors.go — ошибки операций реестра.
package registry

import (
	"errors"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/ownership"
)

var (
	// ErrInvalidFingerprint — нулевой отпечаток.
	ErrInvalidFingerprint = errors.New("некорректный отпечаток файла")
	// ErrEmptyName — пустое имя файла.
	ErrEmptyName = errors.New("имя файла не может быть пустым")
	// ErrInvalidSize — размер файла не положителен или превышает
	// предел хранимой разрядности.
	ErrInvalidSize = errors.New("размер файла должен быть больше 0")
	// ErrInvalidText — имя или content_id содержит NUL либо некорректный UTF-8.
	ErrInvalidText = errors.New("строка содержит NUL или некорректный UTF-8")
	// ErrDuplicateFile — отпечаток уже зарегистрирован.
	ErrDuplicateFile = errors.New("файл уже зарегистрирован")

	// ErrRegistryPaused — реестр закрыт для записи.
	ErrRegistryPaused = ownership.ErrRegistryPaused
	// ErrUnauthorized — вызывающий не является владельцем.
	ErrUnauthorized = ownership.ErrUnauthorized
	// ErrOwnerAlreadySet — владелец уже назначен.
	ErrOwnerAlreadySet = ownership.ErrOwnerAlreadySet
)

// IsDomainError сообщает, что ошибка — отказ операции реестра
// (валидация, конфликт состояния, доступ), а не сбой хранилища.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrInvalidFingerprint, ErrEmptyName, ErrInvalidText, ErrInvalidSize, ErrDuplicateFile,
		ErrRegistryPaused, ErrUnauthorized, ErrOwnerAlreadySet,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
