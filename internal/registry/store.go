package registry

import (
	"context"
	"errors"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
)

// ErrRecordExists — хранилище отклонило вставку: отпечаток уже занят.
// Ядро преобразует её в ErrDuplicateFile.
var ErrRecordExists = errors.New("запись с таким отпечатком уже существует")

// Meta — скалярное состояние реестра.
type Meta struct {
	// Owner — владелец (нулевой адрес — не назначен)
	Owner model.Address
	// Paused — флаг приостановки
	Paused bool
	// TotalFiles — счётчик успешных загрузок
	TotalFiles uint64
	// LastTimestamp — последнее выданное время реестра
	LastTimestamp int64
	// LastEventSeq — номер последнего события журнала
	LastEventSeq uint64
}

// ReadTx — операции чтения внутри согласованного снимка.
type ReadTx interface {
	// Meta возвращает скалярное состояние реестра.
	Meta(ctx context.Context) (Meta, error)
	// GetRecord возвращает запись по отпечатку; false — запись не найдена.
	GetRecord(ctx context.Context, f model.Fingerprint) (model.FileRecord, bool, error)
	// UserFiles возвращает отпечатки пользователя в порядке загрузки.
	UserFiles(ctx context.Context, user model.Address) ([]model.Fingerprint, error)
	// UserRecords возвращает записи пользователя в порядке загрузки.
	UserRecords(ctx context.Context, user model.Address) ([]model.FileRecord, error)
	// Events возвращает события журнала по фильтру в порядке Seq.
	Events(ctx context.Context, filter model.EventFilter) ([]model.Event, error)
}

// Tx — транзакция записи. Изменения видимы внутри транзакции сразу,
// снаружи — только после успешного завершения Store.Update.
type Tx interface {
	ReadTx
	// InsertRecord добавляет запись, дописывает отпечаток в список
	// загрузившего и увеличивает счётчик. ErrRecordExists — отпечаток занят.
	InsertRecord(ctx context.Context, rec model.FileRecord) error
	// SetOwner сохраняет владельца.
	SetOwner(ctx context.Context, owner model.Address) error
	// SetPaused сохраняет флаг приостановки.
	SetPaused(ctx context.Context, paused bool) error
	// AppendEvent дописывает событие в журнал. Назначает ev.Seq и
	// продвигает LastEventSeq и LastTimestamp.
	AppendEvent(ctx context.Context, ev *model.Event) error
}

// Store — транзакционное хранилище состояния реестра.
//
// Update выполняет fn как единую атомарную транзакцию: не более одной
// транзакции записи одновременно; ошибка fn (или фиксации) откатывает
// все изменения. View выполняет fn над согласованным снимком последнего
// зафиксированного состояния и может выполняться параллельно.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx ReadTx) error) error
}
