// Пакет memstore — in-memory хранилище состояния реестра.
//
// Транзакции записи сериализуются (один писатель), чтения выполняются
// параллельно над последним зафиксированным состоянием. Изменения
// транзакции буферизуются и применяются к состоянию только после успешной
// фиксации. При подключённом журнале каждый набор изменений сначала
// фиксируется на диске, а при старте состояние восстанавливается
// из снимка и зафиксированных записей.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/file-registry/internal/registry"
	"github.com/bigkaa/goartstore/file-registry/internal/storage/journal"
)

// state — зафиксированное состояние реестра. Сериализуется в снимок журнала.
type state struct {
	Records       map[model.Fingerprint]model.FileRecord `json:"records"`
	UserFiles     map[model.Address][]model.Fingerprint  `json:"user_files"`
	Owner         model.Address                          `json:"owner"`
	Paused        bool                                   `json:"paused"`
	TotalFiles    uint64                                 `json:"total_files"`
	LastTimestamp int64                                  `json:"last_timestamp"`
	LastEventSeq  uint64                                 `json:"last_event_seq"`
	Events        []model.Event                          `json:"events"`
}

func newState() *state {
	return &state{
		Records:   make(map[model.Fingerprint]model.FileRecord),
		UserFiles: make(map[model.Address][]model.Fingerprint),
	}
}

// changeSet — изменения одной транзакции. Payload записи журнала.
type changeSet struct {
	Records []model.FileRecord `json:"records,omitempty"`
	Owner   *model.Address     `json:"owner,omitempty"`
	Paused  *bool              `json:"paused,omitempty"`
	Events  []model.Event      `json:"events,omitempty"`
}

func (cs *changeSet) empty() bool {
	return len(cs.Records) == 0 && cs.Owner == nil && cs.Paused == nil && len(cs.Events) == 0
}

// apply применяет набор изменений к состоянию.
func (s *state) apply(cs *changeSet) {
	for _, rec := range cs.Records {
		s.Records[rec.Fingerprint] = rec
		s.UserFiles[rec.Uploader] = append(s.UserFiles[rec.Uploader], rec.Fingerprint)
		s.TotalFiles++
	}
	if cs.Owner != nil {
		s.Owner = *cs.Owner
	}
	if cs.Paused != nil {
		s.Paused = *cs.Paused
	}
	for _, ev := range cs.Events {
		s.Events = append(s.Events, ev)
		s.LastEventSeq = ev.Seq
		if ev.Timestamp > s.LastTimestamp {
			s.LastTimestamp = ev.Timestamp
		}
	}
}

// Store — in-memory реализация registry.Store.
type Store struct {
	// writeMu сериализует транзакции записи
	writeMu sync.Mutex
	// mu защищает st
	mu sync.RWMutex
	st *state

	// journal — журнал изменений (nil — без сохранения на диск)
	journal      *journal.Journal
	compactEvery int
	sinceCompact int

	logger *slog.Logger
}

// New создаёт пустое хранилище без журнала. Состояние теряется
// при перезапуске процесса.
func New(logger *slog.Logger) *Store {
	return &Store{
		st:     newState(),
		logger: logger.With(slog.String("component", "memstore")),
	}
}

// Open создаёт хранилище поверх журнала и восстанавливает состояние:
// снимок, затем зафиксированные записи после него.
// compactEvery — число транзакций между свёртками журнала (0 — не сворачивать).
func Open(j *journal.Journal, compactEvery int, logger *slog.Logger) (*Store, error) {
	s := New(logger)
	s.journal = j
	s.compactEvery = compactEvery

	snapSeq, found, err := j.LoadSnapshot(s.st)
	if err != nil {
		return nil, fmt.Errorf("восстановление из снимка: %w", err)
	}
	if s.st.Records == nil {
		s.st.Records = make(map[model.Fingerprint]model.FileRecord)
	}
	if s.st.UserFiles == nil {
		s.st.UserFiles = make(map[model.Address][]model.Fingerprint)
	}

	replayed, err := j.Replay(snapSeq, func(e *journal.Entry) error {
		var cs changeSet
		if err := json.Unmarshal(e.Payload, &cs); err != nil {
			return fmt.Errorf("ошибка десериализации изменений: %w", err)
		}
		s.st.apply(&cs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("воспроизведение журнала: %w", err)
	}
	s.sinceCompact = replayed

	s.logger.Info("Состояние реестра восстановлено",
		slog.Bool("snapshot", found),
		slog.Uint64("snapshot_seq", snapSeq),
		slog.Int("replayed", replayed),
		slog.Uint64("total_files", s.st.TotalFiles),
		slog.Uint64("last_event_seq", s.st.LastEventSeq),
	)

	return s, nil
}

// Update выполняет fn как атомарную транзакцию записи.
func (s *Store) Update(ctx context.Context, fn func(tx registry.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx := newWriteTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	if tx.cs.empty() {
		return nil
	}

	var entry *journal.Entry
	if s.journal != nil {
		var err error
		entry, err = s.journal.Begin(&tx.cs)
		if err != nil {
			return fmt.Errorf("фиксация транзакции: %w", err)
		}
		if err := s.journal.Commit(entry); err != nil {
			if rbErr := s.journal.Rollback(entry); rbErr != nil {
				s.logger.Error("Не удалось отменить запись журнала",
					slog.Uint64("seq", entry.Seq),
					slog.String("error", rbErr.Error()),
				)
			}
			return fmt.Errorf("фиксация транзакции: %w", err)
		}
	}

	s.mu.Lock()
	s.st.apply(&tx.cs)
	s.mu.Unlock()

	if entry != nil {
		s.maybeCompact(entry.Seq)
	}
	return nil
}

// maybeCompact сворачивает журнал в снимок каждые compactEvery транзакций.
// Вызывается под writeMu: состояние не меняется во время сериализации.
func (s *Store) maybeCompact(seq uint64) {
	s.sinceCompact++
	if s.compactEvery <= 0 || s.sinceCompact < s.compactEvery {
		return
	}
	if _, err := s.journal.Compact(s.st, seq); err != nil {
		s.logger.Warn("Ошибка свёртки журнала",
			slog.Uint64("seq", seq),
			slog.String("error", err.Error()),
		)
		return
	}
	s.sinceCompact = 0
}

// View выполняет fn над последним зафиксированным состоянием.
func (s *Store) View(ctx context.Context, fn func(tx registry.ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(readTx{st: s.st})
}

// ReadinessChecker — проверка готовности in-memory хранилища.
type ReadinessChecker struct {
	store *Store
}

// NewReadinessChecker создаёт проверку готовности хранилища.
func NewReadinessChecker(s *Store) *ReadinessChecker {
	return &ReadinessChecker{store: s}
}

// CheckReady проверяет доступность директории журнала (если он подключён).
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	if c.store.journal == nil {
		return "ok", "in-memory, без журнала"
	}
	info, err := os.Stat(c.store.journal.Dir())
	if err != nil {
		return "fail", fmt.Sprintf("директория журнала недоступна: %v", err)
	}
	if !info.IsDir() {
		return "fail", "путь журнала не является директорией"
	}
	return "ok", "журнал доступен"
}

// --- Чтение зафиксированного состояния ---

type readTx struct {
	st *state
}

func (r readTx) Meta(ctx context.Context) (registry.Meta, error) {
	return registry.Meta{
		Owner:         r.st.Owner,
		Paused:        r.st.Paused,
		TotalFiles:    r.st.TotalFiles,
		LastTimestamp: r.st.LastTimestamp,
		LastEventSeq:  r.st.LastEventSeq,
	}, nil
}

func (r readTx) GetRecord(ctx context.Context, f model.Fingerprint) (model.FileRecord, bool, error) {
	rec, ok := r.st.Records[f]
	if !ok {
		return model.FileRecord{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (r readTx) UserFiles(ctx context.Context, user model.Address) ([]model.Fingerprint, error) {
	files := r.st.UserFiles[user]
	out := make([]model.Fingerprint, len(files))
	copy(out, files)
	return out, nil
}

func (r readTx) UserRecords(ctx context.Context, user model.Address) ([]model.FileRecord, error) {
	files := r.st.UserFiles[user]
	out := make([]model.FileRecord, 0, len(files))
	for _, f := range files {
		out = append(out, r.st.Records[f].Clone())
	}
	return out, nil
}

func (r readTx) Events(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	return filterEvents(nil, r.st.Events, filter), nil
}

// filterEvents дописывает в dst события src, подходящие под фильтр,
// с учётом Limit.
func filterEvents(dst, src []model.Event, filter model.EventFilter) []model.Event {
	for _, ev := range src {
		if filter.Limit > 0 && len(dst) >= filter.Limit {
			break
		}
		if filter.Match(ev) {
			dst = append(dst, ev)
		}
	}
	return dst
}
