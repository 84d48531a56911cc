package model

import (
	"github.com/google/uuid"
)

// EventKind — тип записи журнала событий.
type EventKind string

const (
	// EventFileUploaded — файл зарегистрирован
	EventFileUploaded EventKind = "FileUploaded"
	// EventFileVerified — зафиксирована проверка отпечатка
	EventFileVerified EventKind = "FileVerified"
	// EventOwnerSet — назначен владелец реестра
	EventOwnerSet EventKind = "OwnerSet"
	// EventPaused — реестр приостановлен
	EventPaused EventKind = "Paused"
	// EventUnpaused — реестр возобновлён
	EventUnpaused EventKind = "Unpaused"
)

// IsValidEventKind проверяет, известен ли тип события.
func IsValidEventKind(k EventKind) bool {
	switch k {
	case EventFileUploaded, EventFileVerified, EventOwnerSet, EventPaused, EventUnpaused:
		return true
	default:
		return false
	}
}

// Event — неизменяемая запись журнала событий реестра.
// Набор заполненных полей зависит от Kind (см. Args).
type Event struct {
	// Seq — порядковый номер без пропусков, начиная с 1
	Seq uint64 `json:"seq"`
	// ID — уникальный идентификатор события
	ID uuid.UUID `json:"id"`
	// Kind — тип события
	Kind EventKind `json:"kind"`
	// Fingerprint — отпечаток (FileUploaded, FileVerified)
	Fingerprint Fingerprint `json:"fingerprint"`
	// Actor — uploader, verifier, owner или account в зависимости от типа
	Actor Address `json:"actor"`
	// FileName — имя файла (FileUploaded)
	FileName string `json:"file_name,omitempty"`
	// IsValid — результат проверки (FileVerified)
	IsValid bool `json:"is_valid,omitempty"`
	// Timestamp — время реестра, секунды unix
	Timestamp int64 `json:"timestamp"`
}

// FileUploadedArgs — аргументы FileUploaded в порядке контракта.
type FileUploadedArgs struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Uploader    Address     `json:"uploader"`
	Name        string      `json:"name"`
	Timestamp   int64       `json:"timestamp"`
}

// FileVerifiedArgs — аргументы FileVerified в порядке контракта.
type FileVerifiedArgs struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Verifier    Address     `json:"verifier"`
	IsValid     bool        `json:"is_valid"`
	Timestamp   int64       `json:"timestamp"`
}

// OwnerSetArgs — аргументы OwnerSet.
type OwnerSetArgs struct {
	Owner     Address `json:"owner"`
	Timestamp int64   `json:"timestamp"`
}

// PauseArgs — аргументы Paused / Unpaused.
type PauseArgs struct {
	Account   Address `json:"account"`
	Timestamp int64   `json:"timestamp"`
}

// Args возвращает аргументы события в форме, зафиксированной контрактом.
// Потребители декодируют их по имени или по позиции, поэтому состав
// меняется только вместе с версией реестра.
func (e Event) Args() any {
	switch e.Kind {
	case EventFileUploaded:
		return FileUploadedArgs{Fingerprint: e.Fingerprint, Uploader: e.Actor, Name: e.FileName, Timestamp: e.Timestamp}
	case EventFileVerified:
		return FileVerifiedArgs{Fingerprint: e.Fingerprint, Verifier: e.Actor, IsValid: e.IsValid, Timestamp: e.Timestamp}
	case EventOwnerSet:
		return OwnerSetArgs{Owner: e.Actor, Timestamp: e.Timestamp}
	default:
		return PauseArgs{Account: e.Actor, Timestamp: e.Timestamp}
	}
}

// EventEnvelope — внешнее представление события (API и поток).
type EventEnvelope struct {
	Seq   uint64    `json:"seq"`
	ID    uuid.UUID `json:"id"`
	Event EventKind `json:"event"`
	Args  any       `json:"args"`
}

// Envelope упаковывает событие для отдачи потребителям журнала.
func (e Event) Envelope() EventEnvelope {
	return EventEnvelope{Seq: e.Seq, ID: e.ID, Event: e.Kind, Args: e.Args()}
}

// EventFilter — параметры выборки журнала событий.
type EventFilter struct {
	// Kinds — допустимые типы (пусто — все)
	Kinds []EventKind
	// Fingerprint — только события по этому отпечатку
	Fingerprint *Fingerprint
	// Actor — только события этого участника
	Actor *Address
	// AfterSeq — только события с Seq > AfterSeq
	AfterSeq uint64
	// Limit — максимум записей (0 — без ограничения)
	Limit int
}

// Match проверяет событие на соответствие фильтру (без учёта Limit).
func (f EventFilter) Match(e Event) bool {
	if e.Seq <= f.AfterSeq {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == e.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Fingerprint != nil && *f.Fingerprint != e.Fingerprint {
		return false
	}
	if f.Actor != nil && *f.Actor != e.Actor {
		return false
	}
	return true
}
