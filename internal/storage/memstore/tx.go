package memstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/file-registry/internal/registry"
)

// writeTx — транзакция записи. Чтения видят зафиксированное состояние
// с наложенными изменениями транзакции. Вызывается под writeMu, поэтому
// зафиксированное состояние во время транзакции не меняется.
type writeTx struct {
	base    readTx
	cs      changeSet
	meta    registry.Meta
	pending map[model.Fingerprint]int
}

func newWriteTx(s *Store) *writeTx {
	base := readTx{st: s.st}
	meta, _ := base.Meta(context.Background())
	return &writeTx{
		base:    base,
		meta:    meta,
		pending: make(map[model.Fingerprint]int),
	}
}

func (t *writeTx) Meta(ctx context.Context) (registry.Meta, error) {
	return t.meta, nil
}

func (t *writeTx) GetRecord(ctx context.Context, f model.Fingerprint) (model.FileRecord, bool, error) {
	if i, ok := t.pending[f]; ok {
		return t.cs.Records[i].Clone(), true, nil
	}
	return t.base.GetRecord(ctx, f)
}

func (t *writeTx) UserFiles(ctx context.Context, user model.Address) ([]model.Fingerprint, error) {
	files, err := t.base.UserFiles(ctx, user)
	if err != nil {
		return nil, err
	}
	for _, rec := range t.cs.Records {
		if rec.Uploader == user {
			files = append(files, rec.Fingerprint)
		}
	}
	return files, nil
}

func (t *writeTx) UserRecords(ctx context.Context, user model.Address) ([]model.FileRecord, error) {
	records, err := t.base.UserRecords(ctx, user)
	if err != nil {
		return nil, err
	}
	for _, rec := range t.cs.Records {
		if rec.Uploader == user {
			records = append(records, rec.Clone())
		}
	}
	return records, nil
}

func (t *writeTx) Events(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	events := filterEvents(nil, t.base.st.Events, filter)
	return filterEvents(events, t.cs.Events, filter), nil
}

func (t *writeTx) InsertRecord(ctx context.Context, rec model.FileRecord) error {
	if _, ok, _ := t.GetRecord(ctx, rec.Fingerprint); ok {
		return registry.ErrRecordExists
	}
	t.pending[rec.Fingerprint] = len(t.cs.Records)
	t.cs.Records = append(t.cs.Records, rec.Clone())
	t.meta.TotalFiles++
	return nil
}

func (t *writeTx) SetOwner(ctx context.Context, owner model.Address) error {
	t.cs.Owner = &owner
	t.meta.Owner = owner
	return nil
}

func (t *writeTx) SetPaused(ctx context.Context, paused bool) error {
	t.cs.Paused = &paused
	t.meta.Paused = paused
	return nil
}

func (t *writeTx) AppendEvent(ctx context.Context, ev *model.Event) error {
	ev.Seq = t.meta.LastEventSeq + 1
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	t.cs.Events = append(t.cs.Events, *ev)
	t.meta.LastEventSeq = ev.Seq
	if ev.Timestamp > t.meta.LastTimestamp {
		t.meta.LastTimestamp = ev.Timestamp
	}
	return nil
}
