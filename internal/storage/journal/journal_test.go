package journal

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type testPayload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TestOpen_CreatesDirectory проверяет, что Open создаёт директорию журнала.
func TestOpen_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")

	j, err := Open(dir, testLogger())
	if err != nil {
		t.Fatalf("ожидалось успешное открытие журнала, получена ошибка: %v", err)
	}
	if j.Dir() != dir {
		t.Errorf("ожидался путь %s, получен %s", dir, j.Dir())
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("директория журнала не создана: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("путь журнала не является директорией")
	}
}

// TestOpen_ReadOnlyDir проверяет ошибку при недоступной для записи директории.
func TestOpen_ReadOnlyDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root игнорирует права на запись")
	}
	dir := filepath.Join(t.TempDir(), "journal")
	if err := os.MkdirAll(dir, 0o550); err != nil {
		t.Fatalf("не удалось создать директорию: %v", err)
	}

	if _, err := Open(dir, testLogger()); err == nil {
		t.Fatal("ожидалась ошибка при недоступной для записи директории")
	}
}

// TestBeginCommit проверяет протокол pending → committed.
func TestBeginCommit(t *testing.T) {
	j, err := Open(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка открытия журнала: %v", err)
	}

	entry, err := j.Begin(testPayload{Name: "a", Count: 1})
	if err != nil {
		t.Fatalf("ошибка Begin: %v", err)
	}
	if entry.TransactionID == "" {
		t.Error("TransactionID не должен быть пустым")
	}
	if entry.Seq != 1 {
		t.Errorf("ожидался seq 1, получен %d", entry.Seq)
	}
	if entry.Status != StatusPending {
		t.Errorf("ожидался статус %s, получен %s", StatusPending, entry.Status)
	}

	if err := j.Commit(entry); err != nil {
		t.Fatalf("ошибка Commit: %v", err)
	}
	if entry.Status != StatusCommitted {
		t.Errorf("ожидался статус %s, получен %s", StatusCommitted, entry.Status)
	}
	if entry.CompletedAt == nil {
		t.Error("CompletedAt должен быть заполнен")
	}

	// Повторное завершение запрещено
	if err := j.Rollback(entry); err == nil {
		t.Error("ожидалась ошибка при повторном завершении записи")
	}

	// Файл записи на диске
	data, err := os.ReadFile(filepath.Join(j.Dir(), entryFileName(1)))
	if err != nil {
		t.Fatalf("файл записи не найден: %v", err)
	}
	var onDisk Entry
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("ошибка десериализации записи: %v", err)
	}
	if onDisk.Status != StatusCommitted {
		t.Errorf("на диске ожидался статус %s, получен %s", StatusCommitted, onDisk.Status)
	}
}

// TestReplay_SkipsRolledBackAndPending проверяет, что воспроизводятся
// только committed записи, а pending помечаются rolled_back.
func TestReplay_SkipsRolledBackAndPending(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, testLogger())
	if err != nil {
		t.Fatalf("ошибка открытия журнала: %v", err)
	}

	e1, _ := j.Begin(testPayload{Name: "first", Count: 1})
	if err := j.Commit(e1); err != nil {
		t.Fatalf("ошибка Commit: %v", err)
	}
	e2, _ := j.Begin(testPayload{Name: "second", Count: 2})
	if err := j.Rollback(e2); err != nil {
		t.Fatalf("ошибка Rollback: %v", err)
	}
	e3, _ := j.Begin(testPayload{Name: "third", Count: 3})
	if err := j.Commit(e3); err != nil {
		t.Fatalf("ошибка Commit: %v", err)
	}
	// Прерванная транзакция
	if _, err := j.Begin(testPayload{Name: "crashed"}); err != nil {
		t.Fatalf("ошибка Begin: %v", err)
	}

	reopened, err := Open(dir, testLogger())
	if err != nil {
		t.Fatalf("ошибка повторного открытия: %v", err)
	}

	var names []string
	n, err := reopened.Replay(0, func(e *Entry) error {
		var p testPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		names = append(names, p.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("ошибка Replay: %v", err)
	}
	if n != 2 {
		t.Errorf("ожидалось 2 воспроизведённые записи, получено %d", n)
	}
	if len(names) != 2 || names[0] != "first" || names[1] != "third" {
		t.Errorf("неожиданный порядок воспроизведения: %v", names)
	}

	crashed, err := reopened.readEntry(4)
	if err != nil {
		t.Fatalf("ошибка чтения записи: %v", err)
	}
	if crashed.Status != StatusRolledBack {
		t.Errorf("прерванная запись должна быть rolled_back, получен %s", crashed.Status)
	}

	// Нумерация продолжается после существующих записей
	next, err := reopened.Begin(testPayload{Name: "next"})
	if err != nil {
		t.Fatalf("ошибка Begin: %v", err)
	}
	if next.Seq != 5 {
		t.Errorf("ожидался seq 5, получен %d", next.Seq)
	}
}

// TestReplay_AfterSeq проверяет пропуск записей, вошедших в снимок.
func TestReplay_AfterSeq(t *testing.T) {
	j, err := Open(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка открытия журнала: %v", err)
	}
	for i := 1; i <= 3; i++ {
		e, _ := j.Begin(testPayload{Count: i})
		if err := j.Commit(e); err != nil {
			t.Fatalf("ошибка Commit: %v", err)
		}
	}

	var seqs []uint64
	if _, err := j.Replay(2, func(e *Entry) error {
		seqs = append(seqs, e.Seq)
		return nil
	}); err != nil {
		t.Fatalf("ошибка Replay: %v", err)
	}
	if len(seqs) != 1 || seqs[0] != 3 {
		t.Errorf("ожидался только seq 3, получено %v", seqs)
	}
}

// TestCompact_SnapshotRoundTrip проверяет свёртку журнала в снимок
// и продолжение нумерации после неё.
func TestCompact_SnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, testLogger())
	if err != nil {
		t.Fatalf("ошибка открытия журнала: %v", err)
	}

	var last uint64
	for i := 1; i <= 3; i++ {
		e, _ := j.Begin(testPayload{Count: i})
		if err := j.Commit(e); err != nil {
			t.Fatalf("ошибка Commit: %v", err)
		}
		last = e.Seq
	}

	cleaned, err := j.Compact(testPayload{Name: "state", Count: 3}, last)
	if err != nil {
		t.Fatalf("ошибка Compact: %v", err)
	}
	if cleaned != 3 {
		t.Errorf("ожидалось удаление 3 записей, удалено %d", cleaned)
	}

	reopened, err := Open(dir, testLogger())
	if err != nil {
		t.Fatalf("ошибка повторного открытия: %v", err)
	}

	var state testPayload
	seq, ok, err := reopened.LoadSnapshot(&state)
	if err != nil {
		t.Fatalf("ошибка LoadSnapshot: %v", err)
	}
	if !ok {
		t.Fatal("снимок не найден")
	}
	if seq != last {
		t.Errorf("ожидался seq снимка %d, получен %d", last, seq)
	}
	if state.Name != "state" || state.Count != 3 {
		t.Errorf("неожиданное содержимое снимка: %+v", state)
	}

	next, err := reopened.Begin(testPayload{})
	if err != nil {
		t.Fatalf("ошибка Begin: %v", err)
	}
	if next.Seq != last+1 {
		t.Errorf("ожидался seq %d после свёртки, получен %d", last+1, next.Seq)
	}
}

// TestLoadSnapshot_Missing проверяет отсутствие снимка в новом журнале.
func TestLoadSnapshot_Missing(t *testing.T) {
	j, err := Open(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка открытия журнала: %v", err)
	}
	var state testPayload
	_, ok, err := j.LoadSnapshot(&state)
	if err != nil {
		t.Fatalf("ошибка LoadSnapshot: %v", err)
	}
	if ok {
		t.Error("снимок не должен существовать")
	}
}
