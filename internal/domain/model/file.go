package model

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrInvalidNumber — размер файла не является целым десятичным числом.
var ErrInvalidNumber = errors.New("некорректное целое число")

// FileRecord — запись файла в реестре.
// После создания все поля неизменяемы, удаления и обновления нет.
type FileRecord struct {
	// Fingerprint — отпечаток содержимого (первичный ключ)
	Fingerprint Fingerprint `json:"fingerprint"`
	// FileName — имя файла (непустое)
	FileName string `json:"file_name"`
	// FileSize — размер файла в байтах, произвольной точности
	FileSize *big.Int `json:"file_size"`
	// ContentID — внешний идентификатор содержимого (например, IPFS CID), не интерпретируется
	ContentID string `json:"content_id"`
	// Uploader — адрес загрузившего
	Uploader Address `json:"uploader"`
	// Timestamp — время регистрации, секунды unix (время реестра)
	Timestamp int64 `json:"timestamp"`
	// Exists — признак существования записи
	Exists bool `json:"exists"`
}

// Clone возвращает копию записи, не разделяющую *big.Int с оригиналом.
func (r FileRecord) Clone() FileRecord {
	if r.FileSize != nil {
		r.FileSize = new(big.Int).Set(r.FileSize)
	}
	return r
}

// Missing возвращает представление неизвестного отпечатка:
// exists = false, остальные поля по умолчанию (размер 0).
func Missing() FileRecord {
	return FileRecord{FileSize: new(big.Int)}
}

// ParseFileSize разбирает десятичную строку размера файла.
// Знак и ноль допускаются: положительность проверяет ядро реестра.
func ParseFileSize(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: пустое значение", ErrInvalidNumber)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return n, nil
}
