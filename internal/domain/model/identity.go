// Пакет model — доменные модели файлового реестра.
// Fingerprint и Address — значения фиксированной длины с текстовым
// представлением 0x + hex (совместимо с адресами и хешами EVM-кошельков).
package model

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// FingerprintSize — длина отпечатка файла в байтах (SHA-256 / keccak-256).
	FingerprintSize = 32
	// AddressSize — длина адреса участника в байтах.
	AddressSize = 20
)

// ErrInvalidHex — строка не является корректным hex-значением нужной длины.
var ErrInvalidHex = errors.New("некорректное hex-значение")

// Fingerprint — криптографический отпечаток содержимого файла.
// Первичный ключ FileRecord.
type Fingerprint [FingerprintSize]byte

// ParseFingerprint разбирает строку вида 0x<64 hex>. Префикс 0x необязателен,
// регистр не важен. Нулевой отпечаток разбирается без ошибки: его отклоняет
// ядро реестра при загрузке.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint
	if err := decodeFixedHex(s, f[:]); err != nil {
		return Fingerprint{}, fmt.Errorf("отпечаток %q: %w", s, err)
	}
	return f, nil
}

// IsZero сообщает, что отпечаток состоит из одних нулей.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// String возвращает 0x + 64 hex-символа в нижнем регистре.
func (f Fingerprint) String() string {
	return "0x" + hex.EncodeToString(f[:])
}

// MarshalText реализует encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := ParseFingerprint(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Address — идентификатор участника (адрес, производный от публичного ключа).
type Address [AddressSize]byte

// ParseAddress разбирает строку вида 0x<40 hex>.
func ParseAddress(s string) (Address, error) {
	var a Address
	if err := decodeFixedHex(s, a[:]); err != nil {
		return Address{}, fmt.Errorf("адрес %q: %w", s, err)
	}
	return a, nil
}

// IsZero сообщает, что адрес нулевой (владелец не назначен).
func (a Address) IsZero() bool {
	return a == Address{}
}

// String возвращает 0x + 40 hex-символов в нижнем регистре.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// MarshalText реализует encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// decodeFixedHex декодирует hex-строку (с необязательным 0x) ровно в len(dst) байт.
func decodeFixedHex(s string, dst []byte) error {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if len(s) != hex.EncodedLen(len(dst)) {
		return fmt.Errorf("%w: ожидается %d hex-символов, получено %d", ErrInvalidHex, hex.EncodedLen(len(dst)), len(s))
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return nil
}
