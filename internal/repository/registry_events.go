package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
)

// insertEvent добавляет событие в registry_events. ev.Seq уже назначен.
func insertEvent(ctx context.Context, db DBTX, ev *model.Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}

	query := `
		INSERT INTO registry_events (seq, id, kind, fingerprint, actor, file_name, is_valid, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := db.Exec(ctx, query,
		int64(ev.Seq), pgtype.UUID{Bytes: ev.ID, Valid: true}, string(ev.Kind),
		ev.Fingerprint[:], ev.Actor[:], ev.FileName, ev.IsValid, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи события %s: %w", ev.Kind, err)
	}
	return nil
}

// buildEventWhere строит WHERE-условие и аргументы для фильтрации событий.
func buildEventWhere(filter model.EventFilter) (string, []any) {
	conditions := []string{"seq > $1"}
	args := []any{int64(filter.AfterSeq)}
	argNum := 2

	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		conditions = append(conditions, fmt.Sprintf("kind = ANY($%d)", argNum))
		args = append(args, kinds)
		argNum++
	}
	if filter.Fingerprint != nil {
		conditions = append(conditions, fmt.Sprintf("fingerprint = $%d", argNum))
		args = append(args, filter.Fingerprint[:])
		argNum++
	}
	if filter.Actor != nil {
		conditions = append(conditions, fmt.Sprintf("actor = $%d", argNum))
		args = append(args, filter.Actor[:])
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

// queryEvents возвращает события по фильтру в порядке seq.
func queryEvents(ctx context.Context, db DBTX, filter model.EventFilter) ([]model.Event, error) {
	where, args := buildEventWhere(filter)
	query := `
		SELECT seq, id, kind, fingerprint, actor, file_name, is_valid, ts
		FROM registry_events` + where + ` ORDER BY seq`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения событий: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var (
			ev        model.Event
			seq       int64
			id        pgtype.UUID
			kind      string
			fp, actor []byte
		)
		if err := rows.Scan(&seq, &id, &kind, &fp, &actor, &ev.FileName, &ev.IsValid, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("ошибка сканирования события: %w", err)
		}

		ev.Seq = uint64(seq)
		ev.ID = uuid.UUID(id.Bytes)
		ev.Kind = model.EventKind(kind)
		if ev.Fingerprint, err = toFingerprint(fp); err != nil {
			return nil, err
		}
		if ev.Actor, err = toAddress(actor); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
