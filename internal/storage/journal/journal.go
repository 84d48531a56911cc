package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Journal — файловый журнал транзакций.
// Протокол записи: Begin создаёт запись со статусом pending, после чего
// запись переводится в committed (Commit) или rolled_back (Rollback).
// При старте воспроизводятся только committed записи; pending записи
// от прерванного процесса помечаются rolled_back.
type Journal struct {
	// dir — директория хранения журнала (FR_JOURNAL_DIR)
	dir string
	// mu — мьютекс для потокобезопасности
	mu sync.Mutex
	// nextSeq — номер следующей записи
	nextSeq uint64
	// logger — логгер
	logger *slog.Logger
}

// snapshotEnvelope — содержимое снимка до сжатия.
type snapshotEnvelope struct {
	Seq   uint64          `json:"seq"`
	State json.RawMessage `json:"state"`
}

// Open открывает (или создаёт) журнал в директории dir.
// Проверяет доступность на запись и вычисляет номер следующей записи.
func Open(dir string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию журнала %s: %w", dir, err)
	}

	// Проверяем доступность на запись через temp файл
	testFile := filepath.Join(dir, ".journal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория журнала %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	j := &Journal{
		dir:    dir,
		logger: logger.With(slog.String("component", "journal")),
	}

	var last uint64
	snap, ok, err := j.readSnapshot()
	if err != nil {
		return nil, err
	}
	if ok {
		last = snap.Seq
	}

	seqs, err := j.listSeqs()
	if err != nil {
		return nil, err
	}
	if n := len(seqs); n > 0 && seqs[n-1] > last {
		last = seqs[n-1]
	}
	j.nextSeq = last + 1

	return j, nil
}

// Begin создаёт запись со статусом pending для набора изменений payload.
// Запись сохраняется атомарно: temp файл → fsync → rename.
func (j *Journal) Begin(payload any) (*Entry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации изменений: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.New().String(),
		Seq:           j.nextSeq,
		Status:        StatusPending,
		Payload:       data,
		StartedAt:     time.Now().UTC(),
	}

	if err := j.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать запись журнала: %w", err)
	}
	j.nextSeq++

	j.logger.Debug("Транзакция журнала начата",
		slog.String("tx_id", entry.TransactionID),
		slog.Uint64("seq", entry.Seq),
	)

	return entry, nil
}

// Commit помечает запись как зафиксированную.
func (j *Journal) Commit(entry *Entry) error {
	return j.complete(entry, StatusCommitted)
}

// Rollback помечает запись как отменённую.
func (j *Journal) Rollback(entry *Entry) error {
	return j.complete(entry, StatusRolledBack)
}

// complete переводит pending запись в конечный статус.
func (j *Journal) complete(entry *Entry, status TransactionStatus) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if entry.Status != StatusPending {
		return fmt.Errorf("запись журнала %d имеет статус %s, ожидается %s", entry.Seq, entry.Status, StatusPending)
	}

	now := time.Now().UTC()
	updated := *entry
	updated.Status = status
	updated.CompletedAt = &now

	if err := j.writeEntry(&updated); err != nil {
		return fmt.Errorf("не удалось обновить запись журнала %d: %w", entry.Seq, err)
	}
	*entry = updated

	j.logger.Debug("Транзакция журнала завершена",
		slog.String("tx_id", entry.TransactionID),
		slog.Uint64("seq", entry.Seq),
		slog.String("status", string(status)),
		slog.Duration("duration", now.Sub(entry.StartedAt)),
	)

	return nil
}

// LoadSnapshot читает последний снимок в dst.
// Возвращает номер последней записи, вошедшей в снимок, и false,
// если снимка нет.
func (j *Journal) LoadSnapshot(dst any) (uint64, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap, ok, err := j.readSnapshot()
	if err != nil || !ok {
		return 0, ok, err
	}
	if err := json.Unmarshal(snap.State, dst); err != nil {
		return 0, false, fmt.Errorf("ошибка десериализации снимка: %w", err)
	}
	return snap.Seq, true, nil
}

// Replay вызывает fn для каждой committed записи с Seq > afterSeq
// в порядке возрастания Seq. Незавершённые pending записи помечаются
// rolled_back и пропускаются.
func (j *Journal) Replay(afterSeq uint64, fn func(e *Entry) error) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	seqs, err := j.listSeqs()
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, seq := range seqs {
		if seq <= afterSeq {
			continue
		}
		entry, err := j.readEntry(seq)
		if err != nil {
			return replayed, fmt.Errorf("не удалось прочитать запись журнала %d: %w", seq, err)
		}

		switch entry.Status {
		case StatusPending:
			j.logger.Warn("Обнаружена незавершённая транзакция журнала, отмена",
				slog.String("tx_id", entry.TransactionID),
				slog.Uint64("seq", entry.Seq),
				slog.Time("started_at", entry.StartedAt),
			)
			now := time.Now().UTC()
			entry.Status = StatusRolledBack
			entry.CompletedAt = &now
			if err := j.writeEntry(entry); err != nil {
				return replayed, fmt.Errorf("не удалось отменить запись журнала %d: %w", seq, err)
			}
		case StatusCommitted:
			if err := fn(entry); err != nil {
				return replayed, fmt.Errorf("воспроизведение записи журнала %d: %w", seq, err)
			}
			replayed++
		}
	}

	return replayed, nil
}

// Compact сохраняет снимок состояния state, включающий все записи
// до upToSeq, и удаляет эти записи. Снимок сжимается zstd и пишется
// атомарно.
func (j *Journal) Compact(state any, upToSeq uint64) (int, error) {
	stateData, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("ошибка сериализации снимка: %w", err)
	}
	data, err := json.Marshal(snapshotEnvelope{Seq: upToSeq, State: stateData})
	if err != nil {
		return 0, fmt.Errorf("ошибка сериализации снимка: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return 0, fmt.Errorf("ошибка инициализации zstd: %w", err)
	}
	compressed := enc.EncodeAll(data, nil)
	enc.Close()

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := writeFileAtomic(filepath.Join(j.dir, snapshotName), compressed); err != nil {
		return 0, fmt.Errorf("ошибка записи снимка: %w", err)
	}

	seqs, err := j.listSeqs()
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, seq := range seqs {
		if seq > upToSeq {
			continue
		}
		path := filepath.Join(j.dir, entryFileName(seq))
		if err := os.Remove(path); err != nil {
			j.logger.Warn("Не удалось удалить запись журнала",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		cleaned++
	}

	j.logger.Info("Журнал свёрнут в снимок",
		slog.Uint64("seq", upToSeq),
		slog.Int("cleaned", cleaned),
		slog.Int("snapshot_bytes", len(compressed)),
	)

	return cleaned, nil
}

// Dir возвращает путь к директории журнала.
func (j *Journal) Dir() string {
	return j.dir
}

// readSnapshot читает и распаковывает снимок, если он есть.
func (j *Journal) readSnapshot() (*snapshotEnvelope, bool, error) {
	compressed, err := os.ReadFile(filepath.Join(j.dir, snapshotName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("ошибка чтения снимка: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка инициализации zstd: %w", err)
	}
	defer dec.Close()

	data, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка распаковки снимка: %w", err)
	}

	var snap snapshotEnvelope
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("ошибка десериализации снимка: %w", err)
	}
	return &snap, true, nil
}

// listSeqs возвращает номера записей журнала в порядке возрастания.
func (j *Journal) listSeqs() ([]uint64, error) {
	paths, err := filepath.Glob(filepath.Join(j.dir, "*"+entrySuffix))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	seqs := make([]uint64, 0, len(paths))
	for _, path := range paths {
		var seq uint64
		name := strings.TrimSuffix(filepath.Base(path), entrySuffix)
		if _, err := fmt.Sscanf(name, "%d", &seq); err != nil {
			j.logger.Warn("Пропущен файл с некорректным именем",
				slog.String("path", path),
			)
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(a, b int) bool { return seqs[a] < seqs[b] })
	return seqs, nil
}

// writeEntry атомарно записывает запись журнала на диск.
func (j *Journal) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}
	return writeFileAtomic(filepath.Join(j.dir, entryFileName(entry.Seq)), data)
}

// readEntry читает запись журнала из файла.
func (j *Journal) readEntry(seq uint64) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(j.dir, entryFileName(seq)))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}
	return &entry, nil
}

// writeFileAtomic записывает файл по схеме temp файл → fsync → atomic rename.
func writeFileAtomic(targetPath string, data []byte) error {
	tmpPath := targetPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}
