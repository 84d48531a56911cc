// Пакет service — бизнес-логика File Registry поверх ядра реестра.
//
// RegistryService разбирает текстовые входные данные API (hex-отпечатки,
// адреса, десятичные размеры), кэширует существующие записи и ведёт
// доменные Prometheus-метрики. Правила доступа и атомарность мутаций
// обеспечивает ядро (пакет registry).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/file-registry/internal/domain/ownership"
	"github.com/bigkaa/goartstore/file-registry/internal/registry"
)

// Границы выборки журнала событий.
const (
	DefaultEventsLimit = 100
	MaxEventsLimit     = 1000
)

// Доменные метрики реестра.
var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fr_registry_mutations_total",
		Help: "Мутирующие операции реестра по операции и результату.",
	}, []string{"operation", "result"})

	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fr_registry_lookups_total",
		Help: "Проверки отпечатков по результату (found, missing).",
	}, []string{"result"})
)

// UploadInput — параметры загрузки в текстовом виде, как они приходят из API.
type UploadInput struct {
	Fingerprint string
	FileName    string
	FileSize    string
	ContentID   string
}

// EventsQuery — параметры выборки журнала событий в текстовом виде.
type EventsQuery struct {
	Kinds       []string
	Fingerprint string
	Actor       string
	AfterSeq    uint64
	Limit       int
}

// RegistryService — сервис файлового реестра.
type RegistryService struct {
	reg    *registry.Registry
	cache  *CacheService
	logger *slog.Logger
}

// NewRegistryService создаёт сервис реестра. cache может быть nil.
func NewRegistryService(reg *registry.Registry, cache *CacheService, logger *slog.Logger) *RegistryService {
	return &RegistryService{
		reg:    reg,
		cache:  cache,
		logger: logger.With(slog.String("component", "registry_service")),
	}
}

// --- Административные операции ---

// SetOwner назначает вызывающего владельцем реестра.
func (s *RegistryService) SetOwner(ctx context.Context, caller model.Address) error {
	err := s.reg.SetOwner(ctx, caller)
	observeMutation("set_owner", err)
	return err
}

// Pause приостанавливает запись.
func (s *RegistryService) Pause(ctx context.Context, caller model.Address) error {
	err := s.reg.Pause(ctx, caller)
	observeMutation("pause", err)
	return err
}

// Unpause возобновляет запись.
func (s *RegistryService) Unpause(ctx context.Context, caller model.Address) error {
	err := s.reg.Unpause(ctx, caller)
	observeMutation("unpause", err)
	return err
}

// --- Операции с записями ---

// UploadFile регистрирует файл и возвращает созданную запись.
//
// Синтаксически некорректный отпечаток или размер — ErrValidation.
// Нулевой отпечаток, пустое имя и неположительный размер разбираются
// успешно и отклоняются ядром с соответствующей доменной ошибкой.
func (s *RegistryService) UploadFile(ctx context.Context, caller model.Address, in UploadInput) (model.FileRecord, error) {
	fp, err := parseFingerprint(in.Fingerprint)
	if err != nil {
		observeMutation("upload", err)
		return model.FileRecord{}, err
	}
	size, err := model.ParseFileSize(in.FileSize)
	if err != nil {
		err = fmt.Errorf("%w: file_size: %v", ErrValidation, err)
		observeMutation("upload", err)
		return model.FileRecord{}, err
	}

	err = s.reg.UploadFile(ctx, caller, registry.UploadRequest{
		Fingerprint: fp,
		FileName:    in.FileName,
		FileSize:    size,
		ContentID:   in.ContentID,
	})
	observeMutation("upload", err)
	if err != nil {
		return model.FileRecord{}, err
	}

	return s.lookup(ctx, fp)
}

// VerifyFile возвращает запись по отпечатку; для неизвестного
// отпечатка — запись с Exists = false.
func (s *RegistryService) VerifyFile(ctx context.Context, fingerprint string) (model.FileRecord, error) {
	fp, err := parseFingerprint(fingerprint)
	if err != nil {
		return model.FileRecord{}, err
	}
	return s.lookup(ctx, fp)
}

// FileExist проверяет существование записи.
func (s *RegistryService) FileExist(ctx context.Context, fingerprint string) (bool, error) {
	rec, err := s.VerifyFile(ctx, fingerprint)
	if err != nil {
		return false, err
	}
	return rec.Exists, nil
}

// LogVerification фиксирует в журнале проверку отпечатка вызывающим.
func (s *RegistryService) LogVerification(ctx context.Context, caller model.Address, fingerprint string) (model.FileRecord, error) {
	fp, err := parseFingerprint(fingerprint)
	if err != nil {
		observeMutation("log_verification", err)
		return model.FileRecord{}, err
	}

	rec, err := s.reg.LogVerification(ctx, caller, fp)
	observeMutation("log_verification", err)
	if err != nil {
		return model.FileRecord{}, err
	}
	observeLookup(rec)
	if s.cache != nil {
		s.cache.Set(rec)
	}
	return rec, nil
}

// GetUserFiles возвращает отпечатки пользователя в порядке загрузки.
func (s *RegistryService) GetUserFiles(ctx context.Context, address string) ([]model.Fingerprint, error) {
	user, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	return s.reg.GetUserFiles(ctx, user)
}

// GetFilesByTimeRange возвращает отпечатки пользователя с временем
// регистрации в [start, end].
func (s *RegistryService) GetFilesByTimeRange(ctx context.Context, address string, start, end int64) ([]model.Fingerprint, error) {
	user, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	return s.reg.GetFilesByTimeRange(ctx, start, end, user)
}

// GetTotalFiles возвращает число зарегистрированных файлов.
func (s *RegistryService) GetTotalFiles(ctx context.Context) (uint64, error) {
	return s.reg.GetTotalFiles(ctx)
}

// GetVersion возвращает версию реестра.
func (s *RegistryService) GetVersion() string {
	return s.reg.GetVersion()
}

// Status возвращает сводное состояние реестра.
func (s *RegistryService) Status(ctx context.Context) (registry.Status, error) {
	return s.reg.Status(ctx)
}

// Events возвращает события журнала по текстовому фильтру.
// Limit нормализуется в [1, MaxEventsLimit], 0 — DefaultEventsLimit.
func (s *RegistryService) Events(ctx context.Context, q EventsQuery) ([]model.Event, error) {
	filter, err := q.toFilter()
	if err != nil {
		return nil, err
	}
	return s.reg.Events(ctx, filter)
}

// EventsAfter возвращает все события с Seq > afterSeq (для потока).
func (s *RegistryService) EventsAfter(ctx context.Context, afterSeq uint64) ([]model.Event, error) {
	return s.reg.Events(ctx, model.EventFilter{AfterSeq: afterSeq})
}

// OwnershipHistory возвращает историю переходов владения.
func (s *RegistryService) OwnershipHistory(ctx context.Context) ([]ownership.TransitionRecord, error) {
	return s.reg.OwnershipHistory(ctx)
}

// CheckOwnership логирует предупреждение, пока владелец не назначен:
// первый вызов SetOwner заберёт реестр.
func (s *RegistryService) CheckOwnership(ctx context.Context) error {
	_, owned, err := s.reg.Owner(ctx)
	if err != nil {
		return err
	}
	if !owned {
		s.logger.Warn("Владелец реестра не назначен: первый вызов POST /api/v1/owner станет владельцем")
	}
	return nil
}

// --- Вспомогательные функции ---

// lookup возвращает запись через кэш. Отсутствие записи не кэшируется.
func (s *RegistryService) lookup(ctx context.Context, fp model.Fingerprint) (model.FileRecord, error) {
	if s.cache != nil {
		if rec, ok := s.cache.Get(fp); ok {
			observeLookup(rec)
			return rec, nil
		}
	}

	rec, err := s.reg.VerifyFile(ctx, fp)
	if err != nil {
		return model.FileRecord{}, err
	}
	observeLookup(rec)
	if s.cache != nil {
		s.cache.Set(rec)
	}
	return rec, nil
}

// toFilter разбирает текстовый фильтр событий.
func (q EventsQuery) toFilter() (model.EventFilter, error) {
	filter := model.EventFilter{AfterSeq: q.AfterSeq, Limit: q.Limit}

	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultEventsLimit
	case filter.Limit > MaxEventsLimit:
		filter.Limit = MaxEventsLimit
	}

	for _, raw := range q.Kinds {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			kind := model.EventKind(part)
			if !model.IsValidEventKind(kind) {
				return filter, fmt.Errorf("%w: неизвестный тип события %q", ErrValidation, part)
			}
			filter.Kinds = append(filter.Kinds, kind)
		}
	}

	if q.Fingerprint != "" {
		fp, err := parseFingerprint(q.Fingerprint)
		if err != nil {
			return filter, err
		}
		filter.Fingerprint = &fp
	}
	if q.Actor != "" {
		actor, err := parseAddress(q.Actor)
		if err != nil {
			return filter, err
		}
		filter.Actor = &actor
	}
	return filter, nil
}

// parseFingerprint разбирает hex-отпечаток, оборачивая ошибку в ErrValidation.
func parseFingerprint(s string) (model.Fingerprint, error) {
	fp, err := model.ParseFingerprint(s)
	if err != nil {
		return fp, fmt.Errorf("%w: fingerprint: %v", ErrValidation, err)
	}
	return fp, nil
}

// parseAddress разбирает hex-адрес, оборачивая ошибку в ErrValidation.
func parseAddress(s string) (model.Address, error) {
	addr, err := model.ParseAddress(s)
	if err != nil {
		return addr, fmt.Errorf("%w: address: %v", ErrValidation, err)
	}
	return addr, nil
}

// observeMutation учитывает результат мутирующей операции.
func observeMutation(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrValidation), registry.IsDomainError(err):
		result = "rejected"
	default:
		result = "error"
	}
	mutationsTotal.WithLabelValues(op, result).Inc()
}

// observeLookup учитывает результат проверки отпечатка.
func observeLookup(rec model.FileRecord) {
	if rec.Exists {
		lookupsTotal.WithLabelValues("found").Inc()
		return
	}
	lookupsTotal.WithLabelValues("missing").Inc()
}
