package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/file-registry/internal/registry"
)

// RegistryStore — реализация registry.Store поверх PostgreSQL.
//
// Транзакция записи начинается с блокировки строки registry_state
// (SELECT ... FOR UPDATE), что сериализует мутации между всеми
// экземплярами сервиса. Чтения выполняются в read-only транзакции
// REPEATABLE READ и видят согласованный снимок.
type RegistryStore struct {
	runner *TxRunner
}

// NewRegistryStore создаёт хранилище реестра поверх пула подключений.
func NewRegistryStore(pool *pgxpool.Pool) *RegistryStore {
	return &RegistryStore{runner: NewTxRunner(pool)}
}

// Update выполняет fn в транзакции записи.
func (s *RegistryStore) Update(ctx context.Context, fn func(tx registry.Tx) error) error {
	return s.runner.RunInTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		meta, err := queryMeta(ctx, tx, true)
		if err != nil {
			return err
		}
		return fn(&writeTx{readTx: readTx{db: tx}, meta: meta})
	})
}

// View выполняет fn в read-only транзакции над согласованным снимком.
func (s *RegistryStore) View(ctx context.Context, fn func(tx registry.ReadTx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return s.runner.RunInTx(ctx, opts, func(tx pgx.Tx) error {
		return fn(readTx{db: tx})
	})
}

// queryMeta читает строку registry_state. forUpdate — с блокировкой строки.
func queryMeta(ctx context.Context, db DBTX, forUpdate bool) (registry.Meta, error) {
	query := `
		SELECT owner, paused, total_files, last_timestamp, last_event_seq
		FROM registry_state
		WHERE id = 1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		meta          registry.Meta
		owner         []byte
		total, seq    int64
		lastTimestamp int64
	)
	err := db.QueryRow(ctx, query).Scan(&owner, &meta.Paused, &total, &lastTimestamp, &seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return meta, fmt.Errorf("состояние реестра не инициализировано: %w", ErrNotFound)
		}
		return meta, fmt.Errorf("ошибка чтения состояния реестра: %w", err)
	}

	meta.Owner, err = toAddress(owner)
	if err != nil {
		return meta, err
	}
	meta.TotalFiles = uint64(total)
	meta.LastTimestamp = lastTimestamp
	meta.LastEventSeq = uint64(seq)
	return meta, nil
}

// --- Чтение ---

type readTx struct {
	db DBTX
}

func (r readTx) Meta(ctx context.Context) (registry.Meta, error) {
	return queryMeta(ctx, r.db, false)
}

const selectRecordColumns = `
		SELECT fingerprint, file_name, file_size, content_id, uploader, uploaded_at
		FROM file_records`

func (r readTx) GetRecord(ctx context.Context, f model.Fingerprint) (model.FileRecord, bool, error) {
	row := r.db.QueryRow(ctx, selectRecordColumns+` WHERE fingerprint = $1`, f[:])
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.FileRecord{}, false, nil
		}
		return model.FileRecord{}, false, fmt.Errorf("ошибка получения записи файла: %w", err)
	}
	return rec, true, nil
}

func (r readTx) UserFiles(ctx context.Context, user model.Address) ([]model.Fingerprint, error) {
	rows, err := r.db.Query(ctx,
		`SELECT fingerprint FROM file_records WHERE uploader = $1 ORDER BY ordinal`, user[:])
	if err != nil {
		return nil, fmt.Errorf("ошибка получения файлов пользователя: %w", err)
	}
	defer rows.Close()

	var files []model.Fingerprint
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("ошибка сканирования отпечатка: %w", err)
		}
		f, err := toFingerprint(raw)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (r readTx) UserRecords(ctx context.Context, user model.Address) ([]model.FileRecord, error) {
	rows, err := r.db.Query(ctx, selectRecordColumns+` WHERE uploader = $1 ORDER BY ordinal`, user[:])
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записей пользователя: %w", err)
	}
	defer rows.Close()

	var records []model.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r readTx) Events(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	return queryEvents(ctx, r.db, filter)
}

// --- Запись ---

// writeTx — транзакция записи. meta отражает заблокированную строку
// registry_state с учётом изменений текущей транзакции.
type writeTx struct {
	readTx
	meta registry.Meta
}

func (t *writeTx) Meta(ctx context.Context) (registry.Meta, error) {
	return t.meta, nil
}

func (t *writeTx) InsertRecord(ctx context.Context, rec model.FileRecord) error {
	query := `
		INSERT INTO file_records (fingerprint, file_name, file_size, content_id, uploader, uploaded_at, ordinal)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := t.db.Exec(ctx, query,
		rec.Fingerprint[:], rec.FileName, bigIntToNumeric(rec.FileSize), rec.ContentID,
		rec.Uploader[:], rec.Timestamp, int64(t.meta.TotalFiles+1),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return registry.ErrRecordExists
		}
		return fmt.Errorf("ошибка вставки записи файла: %w", err)
	}

	if _, err := t.db.Exec(ctx,
		`UPDATE registry_state SET total_files = total_files + 1, updated_at = NOW() WHERE id = 1`,
	); err != nil {
		return fmt.Errorf("ошибка обновления счётчика файлов: %w", err)
	}
	t.meta.TotalFiles++
	return nil
}

func (t *writeTx) SetOwner(ctx context.Context, owner model.Address) error {
	if _, err := t.db.Exec(ctx,
		`UPDATE registry_state SET owner = $1, updated_at = NOW() WHERE id = 1`, nullableAddress(owner),
	); err != nil {
		return fmt.Errorf("ошибка сохранения владельца: %w", err)
	}
	t.meta.Owner = owner
	return nil
}

func (t *writeTx) SetPaused(ctx context.Context, paused bool) error {
	if _, err := t.db.Exec(ctx,
		`UPDATE registry_state SET paused = $1, updated_at = NOW() WHERE id = 1`, paused,
	); err != nil {
		return fmt.Errorf("ошибка сохранения флага паузы: %w", err)
	}
	t.meta.Paused = paused
	return nil
}

func (t *writeTx) AppendEvent(ctx context.Context, ev *model.Event) error {
	ev.Seq = t.meta.LastEventSeq + 1
	if err := insertEvent(ctx, t.db, ev); err != nil {
		return err
	}

	if _, err := t.db.Exec(ctx, `
		UPDATE registry_state
		SET last_event_seq = $1, last_timestamp = GREATEST(last_timestamp, $2), updated_at = NOW()
		WHERE id = 1`,
		int64(ev.Seq), ev.Timestamp,
	); err != nil {
		return fmt.Errorf("ошибка обновления позиции журнала: %w", err)
	}

	t.meta.LastEventSeq = ev.Seq
	if ev.Timestamp > t.meta.LastTimestamp {
		t.meta.LastTimestamp = ev.Timestamp
	}
	return nil
}

// scanRecord сканирует строку file_records.
func scanRecord(row pgx.Row) (model.FileRecord, error) {
	var (
		rec          model.FileRecord
		fp, uploader []byte
		size         pgtype.Numeric
	)
	if err := row.Scan(&fp, &rec.FileName, &size, &rec.ContentID, &uploader, &rec.Timestamp); err != nil {
		return rec, err
	}

	var err error
	if rec.Fingerprint, err = toFingerprint(fp); err != nil {
		return rec, err
	}
	if rec.Uploader, err = toAddress(uploader); err != nil {
		return rec, err
	}
	if rec.FileSize, err = numericToBigInt(size); err != nil {
		return rec, err
	}
	rec.Exists = true
	return rec, nil
}
