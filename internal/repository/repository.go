// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
)

// ErrNotFound — запись не найдена.
var ErrNotFound = errors.New("запись не найдена")

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать запросы как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции с параметрами opts.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// --- Преобразование типов ---

// bigIntToNumeric кодирует размер файла для колонки NUMERIC(78,0).
func bigIntToNumeric(n *big.Int) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).Set(n), Exp: 0, Valid: true}
}

// numericToBigInt декодирует целое значение NUMERIC.
// pgx может вернуть значение с ненулевой экспонентой (1000 → 1e3).
func numericToBigInt(n pgtype.Numeric) (*big.Int, error) {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite {
		return nil, fmt.Errorf("некорректное значение NUMERIC")
	}
	result := new(big.Int).Set(n.Int)
	if n.Exp == 0 {
		return result, nil
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(abs(n.Exp))), nil)
	if n.Exp > 0 {
		return result.Mul(result, scale), nil
	}
	quo, rem := new(big.Int).QuoRem(result, scale, new(big.Int))
	if rem.Sign() != 0 {
		return nil, fmt.Errorf("значение NUMERIC не является целым")
	}
	return quo, nil
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// toFingerprint копирует BYTEA в отпечаток с проверкой длины.
func toFingerprint(b []byte) (model.Fingerprint, error) {
	var f model.Fingerprint
	if len(b) != len(f) {
		return f, fmt.Errorf("некорректная длина отпечатка: %d", len(b))
	}
	copy(f[:], b)
	return f, nil
}

// toAddress копирует BYTEA в адрес. NULL и пустое значение — нулевой адрес.
func toAddress(b []byte) (model.Address, error) {
	var a model.Address
	if len(b) == 0 {
		return a, nil
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("некорректная длина адреса: %d", len(b))
	}
	copy(a[:], b)
	return a, nil
}

// nullableAddress кодирует адрес владельца: нулевой адрес — NULL.
func nullableAddress(a model.Address) []byte {
	if a.IsZero() {
		return nil
	}
	return a[:]
}
