// Пакет journal — файловый журнал зафиксированных изменений реестра
// для in-memory хранилища.
// Каждая транзакция — отдельный файл {seq}.journal.json в FR_JOURNAL_DIR,
// периодически сворачиваемый в снимок snapshot.json.zst.
package journal

import (
	"encoding/json"
	"fmt"
	"time"
)

// TransactionStatus — статус транзакции журнала.
type TransactionStatus string

const (
	// StatusPending — транзакция начата, изменения ещё не применены
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — транзакция зафиксирована и подлежит воспроизведению
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — транзакция отменена, при воспроизведении пропускается
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись журнала. Хранится как JSON-файл {seq}.journal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Seq — порядковый номер записи, определяет порядок воспроизведения
	Seq uint64 `json:"seq"`

	// Status — текущий статус транзакции
	Status TransactionStatus `json:"status"`

	// Payload — набор изменений в формате хранилища
	Payload json.RawMessage `json:"payload"`

	// StartedAt — время начала транзакции (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения транзакции (UTC).
	// nil для pending транзакций.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

const (
	entrySuffix  = ".journal.json"
	snapshotName = "snapshot.json.zst"
)

// entryFileName возвращает имя файла записи. Номер дополняется нулями,
// чтобы лексикографический порядок совпадал с порядком Seq.
func entryFileName(seq uint64) string {
	return fmt.Sprintf("%020d%s", seq, entrySuffix)
}
