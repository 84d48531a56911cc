// Пакет registry — ядро файлового реестра: охрана доступа, операции
// с записями, журнал событий и время реестра.
//
// Каждая мутация выполняется в одной транзакции хранилища:
// охрана доступа → изменение состояния → запись события. Ошибка на любом
// шаге откатывает транзакцию целиком. Подписчики получают события только
// после фиксации.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/file-registry/internal/domain/ownership"
)

// Version — семантическая версия реестра. Меняется вместе с составом
// аргументов событий.
const Version = "1.0.0"

// Publisher получает события после фиксации транзакции.
type Publisher interface {
	Publish(ev model.Event)
}

// Option — функциональная опция Registry.
type Option func(*Registry)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithPublisher подключает получателя зафиксированных событий.
func WithPublisher(p Publisher) Option {
	return func(r *Registry) { r.publisher = p }
}

// Registry — ядро файлового реестра.
type Registry struct {
	store     Store
	publisher Publisher
	// commitMu упорядочивает фиксацию и публикацию: события уходят
	// подписчикам строго по возрастанию seq
	commitMu  sync.Mutex
	now       func() time.Time
	logger    *slog.Logger
}

// New создаёт ядро реестра поверх хранилища.
func New(store Store, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		now:    time.Now,
		logger: logger.With(slog.String("component", "registry")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UploadRequest — параметры регистрации файла.
type UploadRequest struct {
	Fingerprint model.Fingerprint
	FileName    string
	FileSize    *big.Int
	ContentID   string
}

// Status — сводное состояние реестра.
type Status struct {
	Owner      model.Address   `json:"owner"`
	Paused     bool            `json:"paused"`
	State      ownership.State `json:"state"`
	TotalFiles uint64          `json:"total_files"`
	Version    string          `json:"version"`
}

// --- Административные операции ---

// SetOwner назначает вызывающего владельцем. Успешен ровно один раз:
// первый вызов выигрывает, последующие получают ErrOwnerAlreadySet.
func (r *Registry) SetOwner(ctx context.Context, caller model.Address) error {
	ev, err := r.transition(ctx, ownership.OpSetOwner, caller, model.EventOwnerSet)
	if err != nil {
		return err
	}
	if ev != nil {
		r.logger.Info("Назначен владелец реестра", slog.String("owner", caller.String()))
	}
	return nil
}

// Pause приостанавливает запись. Повторный вызов — успешный no-op.
func (r *Registry) Pause(ctx context.Context, caller model.Address) error {
	ev, err := r.transition(ctx, ownership.OpPause, caller, model.EventPaused)
	if err != nil {
		return err
	}
	if ev != nil {
		r.logger.Info("Реестр приостановлен", slog.String("owner", caller.String()))
	}
	return nil
}

// Unpause возобновляет запись. Вызов без паузы — успешный no-op.
func (r *Registry) Unpause(ctx context.Context, caller model.Address) error {
	ev, err := r.transition(ctx, ownership.OpUnpause, caller, model.EventUnpaused)
	if err != nil {
		return err
	}
	if ev != nil {
		r.logger.Info("Реестр возобновлён", slog.String("owner", caller.String()))
	}
	return nil
}

// transition выполняет административную операцию. Возвращает событие,
// если состояние изменилось, и nil для идемпотентного no-op.
func (r *Registry) transition(ctx context.Context, op ownership.Operation, caller model.Address, kind model.EventKind) (*model.Event, error) {
	var ev *model.Event

	err := r.commit(ctx, func() *model.Event { return ev }, func(tx Tx) error {
		meta, err := tx.Meta(ctx)
		if err != nil {
			return err
		}

		d, err := ownership.Authorize(meta.Owner, meta.Paused, op, caller)
		if err != nil {
			return err
		}
		if !d.Changed() {
			return nil
		}

		if op == ownership.OpSetOwner {
			if err := tx.SetOwner(ctx, caller); err != nil {
				return err
			}
		} else {
			if err := tx.SetPaused(ctx, d.To == ownership.StatePaused); err != nil {
				return err
			}
		}

		ev = &model.Event{
			ID:        uuid.New(),
			Kind:      kind,
			Actor:     caller,
			Timestamp: r.ledgerTime(meta),
		}
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		r.logRejected(string(op), caller, err)
		return nil, err
	}
	return ev, nil
}

// --- Операции с записями ---

// UploadFile регистрирует файл от имени caller.
//
// Порядок проверок: охрана доступа (реестр открыт для записи), отпечаток,
// имя, размер, уникальность. Любая ошибка оставляет состояние без изменений.
func (r *Registry) UploadFile(ctx context.Context, caller model.Address, req UploadRequest) error {
	var ev model.Event

	err := r.commit(ctx, func() *model.Event { return &ev }, func(tx Tx) error {
		meta, err := tx.Meta(ctx)
		if err != nil {
			return err
		}

		if _, err := ownership.Authorize(meta.Owner, meta.Paused, ownership.OpUpload, caller); err != nil {
			return err
		}
		if err := validateUpload(req); err != nil {
			return err
		}

		_, exists, err := tx.GetRecord(ctx, req.Fingerprint)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrDuplicateFile, req.Fingerprint)
		}

		ts := r.ledgerTime(meta)
		rec := model.FileRecord{
			Fingerprint: req.Fingerprint,
			FileName:    req.FileName,
			FileSize:    new(big.Int).Set(req.FileSize),
			ContentID:   req.ContentID,
			Uploader:    caller,
			Timestamp:   ts,
			Exists:      true,
		}
		if err := tx.InsertRecord(ctx, rec); err != nil {
			if errors.Is(err, ErrRecordExists) {
				return fmt.Errorf("%w: %s", ErrDuplicateFile, req.Fingerprint)
			}
			return err
		}

		ev = model.Event{
			ID:          uuid.New(),
			Kind:        model.EventFileUploaded,
			Fingerprint: req.Fingerprint,
			Actor:       caller,
			FileName:    req.FileName,
			Timestamp:   ts,
		}
		return tx.AppendEvent(ctx, &ev)
	})
	if err != nil {
		r.logRejected(string(ownership.OpUpload), caller, err,
			slog.String("fingerprint", req.Fingerprint.String()),
		)
		return err
	}

	r.logger.Info("Файл зарегистрирован",
		slog.String("fingerprint", req.Fingerprint.String()),
		slog.String("uploader", caller.String()),
		slog.String("file_name", req.FileName),
		slog.Int64("timestamp", ev.Timestamp),
	)
	return nil
}

// maxFileSizeBits — разрядность размера файла, гарантированно
// помещающаяся в NUMERIC PostgreSQL (до 131072 цифр до запятой).
// Одинаковый предел для всех хранилищ.
const maxFileSizeBits = 435411

// validateUpload проверяет входные данные загрузки.
func validateUpload(req UploadRequest) error {
	if req.Fingerprint.IsZero() {
		return ErrInvalidFingerprint
	}
	if req.FileName == "" {
		return ErrEmptyName
	}
	if !storableText(req.FileName) {
		return fmt.Errorf("%w: file_name", ErrInvalidText)
	}
	if req.FileSize == nil || req.FileSize.Sign() <= 0 {
		return ErrInvalidSize
	}
	if req.FileSize.BitLen() > maxFileSizeBits {
		return fmt.Errorf("%w: более %d бит", ErrInvalidSize, maxFileSizeBits)
	}
	if !storableText(req.ContentID) {
		return fmt.Errorf("%w: content_id", ErrInvalidText)
	}
	return nil
}

// storableText сообщает, что строку примет TEXT в PostgreSQL:
// корректный UTF-8 без байта NUL.
func storableText(s string) bool {
	return utf8.ValidString(s) && strings.IndexByte(s, 0) < 0
}

// VerifyFile возвращает запись по отпечатку. Для неизвестного отпечатка
// возвращается представление с Exists = false — это штатный результат.
// Ошибка возможна только при сбое хранилища.
func (r *Registry) VerifyFile(ctx context.Context, f model.Fingerprint) (model.FileRecord, error) {
	var rec model.FileRecord
	err := r.store.View(ctx, func(tx ReadTx) error {
		var err error
		rec, err = lookup(ctx, tx, f)
		return err
	})
	return rec, err
}

// LogVerification выполняет тот же поиск, что VerifyFile, и дописывает
// в журнал FileVerified(fingerprint, caller, exists, timestamp).
// Доступна в любом состоянии реестра, включая паузу.
func (r *Registry) LogVerification(ctx context.Context, caller model.Address, f model.Fingerprint) (model.FileRecord, error) {
	var (
		rec model.FileRecord
		ev  model.Event
	)

	err := r.commit(ctx, func() *model.Event { return &ev }, func(tx Tx) error {
		meta, err := tx.Meta(ctx)
		if err != nil {
			return err
		}
		if _, err := ownership.Authorize(meta.Owner, meta.Paused, ownership.OpLogVerification, caller); err != nil {
			return err
		}

		rec, err = lookup(ctx, tx, f)
		if err != nil {
			return err
		}

		ev = model.Event{
			ID:          uuid.New(),
			Kind:        model.EventFileVerified,
			Fingerprint: f,
			Actor:       caller,
			IsValid:     rec.Exists,
			Timestamp:   r.ledgerTime(meta),
		}
		return tx.AppendEvent(ctx, &ev)
	})
	if err != nil {
		r.logRejected(string(ownership.OpLogVerification), caller, err,
			slog.String("fingerprint", f.String()),
		)
		return model.FileRecord{}, err
	}

	r.logger.Debug("Проверка файла зафиксирована",
		slog.String("fingerprint", f.String()),
		slog.String("verifier", caller.String()),
		slog.Bool("is_valid", rec.Exists),
	)
	return rec, nil
}

// FileExist — проверка существования, эквивалентная VerifyFile(f).Exists.
func (r *Registry) FileExist(ctx context.Context, f model.Fingerprint) (bool, error) {
	rec, err := r.VerifyFile(ctx, f)
	if err != nil {
		return false, err
	}
	return rec.Exists, nil
}

// GetUserFiles возвращает отпечатки пользователя в порядке загрузки
// (пустой срез, если загрузок не было).
func (r *Registry) GetUserFiles(ctx context.Context, user model.Address) ([]model.Fingerprint, error) {
	var files []model.Fingerprint
	err := r.store.View(ctx, func(tx ReadTx) error {
		var err error
		files, err = tx.UserFiles(ctx, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []model.Fingerprint{}
	}
	return files, nil
}

// GetTotalFiles возвращает число успешных загрузок.
func (r *Registry) GetTotalFiles(ctx context.Context) (uint64, error) {
	meta, err := r.meta(ctx)
	if err != nil {
		return 0, err
	}
	return meta.TotalFiles, nil
}

// GetFilesByTimeRange возвращает отпечатки пользователя, чьё время
// регистрации лежит в [start, end], в порядке загрузки.
// При start > end результат пуст.
func (r *Registry) GetFilesByTimeRange(ctx context.Context, start, end int64, user model.Address) ([]model.Fingerprint, error) {
	result := []model.Fingerprint{}
	if start > end {
		return result, nil
	}

	err := r.store.View(ctx, func(tx ReadTx) error {
		records, err := tx.UserRecords(ctx, user)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if rec.Timestamp >= start && rec.Timestamp <= end {
				result = append(result, rec.Fingerprint)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetVersion возвращает неизменяемую версию реестра.
func (r *Registry) GetVersion() string {
	return Version
}

// --- Дополнительные операции чтения ---

// Owner возвращает владельца; false — владелец не назначен.
func (r *Registry) Owner(ctx context.Context) (model.Address, bool, error) {
	meta, err := r.meta(ctx)
	if err != nil {
		return model.Address{}, false, err
	}
	return meta.Owner, !meta.Owner.IsZero(), nil
}

// Paused возвращает флаг приостановки.
func (r *Registry) Paused(ctx context.Context) (bool, error) {
	meta, err := r.meta(ctx)
	if err != nil {
		return false, err
	}
	return meta.Paused, nil
}

// Status возвращает сводное состояние реестра.
func (r *Registry) Status(ctx context.Context) (Status, error) {
	meta, err := r.meta(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Owner:      meta.Owner,
		Paused:     meta.Paused,
		State:      ownership.StateOf(meta.Owner, meta.Paused),
		TotalFiles: meta.TotalFiles,
		Version:    Version,
	}, nil
}

// Events возвращает события журнала по фильтру в порядке Seq.
func (r *Registry) Events(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	var events []model.Event
	err := r.store.View(ctx, func(tx ReadTx) error {
		var err error
		events, err = tx.Events(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.Event{}
	}
	return events, nil
}

// OwnershipHistory восстанавливает историю переходов владения по журналу.
func (r *Registry) OwnershipHistory(ctx context.Context) ([]ownership.TransitionRecord, error) {
	events, err := r.Events(ctx, model.EventFilter{
		Kinds: []model.EventKind{model.EventOwnerSet, model.EventPaused, model.EventUnpaused},
	})
	if err != nil {
		return nil, err
	}

	history := make([]ownership.TransitionRecord, 0, len(events))
	for _, ev := range events {
		from, to, ok := ownership.TransitionForEvent(ev.Kind)
		if !ok {
			continue
		}
		history = append(history, ownership.TransitionRecord{
			From:      from,
			To:        to,
			Subject:   ev.Actor.String(),
			Timestamp: time.Unix(ev.Timestamp, 0).UTC(),
		})
	}
	return history, nil
}

// --- Вспомогательные функции ---

// meta читает скалярное состояние в отдельном снимке.
func (r *Registry) meta(ctx context.Context) (Meta, error) {
	var meta Meta
	err := r.store.View(ctx, func(tx ReadTx) error {
		var err error
		meta, err = tx.Meta(ctx)
		return err
	})
	return meta, err
}

// lookup возвращает копию записи или представление отсутствующей записи.
func lookup(ctx context.Context, tx ReadTx, f model.Fingerprint) (model.FileRecord, error) {
	rec, ok, err := tx.GetRecord(ctx, f)
	if err != nil {
		return model.FileRecord{}, err
	}
	if !ok {
		return model.Missing(), nil
	}
	return rec.Clone(), nil
}

// ledgerTime возвращает время реестра: не меньше последнего выданного,
// даже если системные часы сдвинулись назад.
func (r *Registry) ledgerTime(meta Meta) int64 {
	now := r.now().Unix()
	if now < meta.LastTimestamp {
		return meta.LastTimestamp
	}
	return now
}

// commit выполняет транзакцию хранилища и после фиксации передаёт
// подписчикам событие, которое вернёт committed (nil — события нет).
// Следующая мутация процесса начинается только после публикации.
func (r *Registry) commit(ctx context.Context, committed func() *model.Event, fn func(tx Tx) error) error {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	if err := r.store.Update(ctx, fn); err != nil {
		return err
	}
	if ev := committed(); ev != nil && r.publisher != nil {
		r.publisher.Publish(*ev)
	}
	return nil
}

// logRejected логирует отказ операции: доменные отказы — на уровне Debug,
// сбои хранилища — на уровне Error.
func (r *Registry) logRejected(op string, caller model.Address, err error, attrs ...slog.Attr) {
	level := slog.LevelError
	msg := "Ошибка операции реестра"
	if IsDomainError(err) {
		level = slog.LevelDebug
		msg = "Операция реестра отклонена"
	}
	attrs = append(attrs,
		slog.String("operation", op),
		slog.String("caller", caller.String()),
		slog.String("error", err.Error()),
	)
	r.logger.LogAttrs(context.Background(), level, msg, attrs...)
}
