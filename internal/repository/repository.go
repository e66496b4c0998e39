// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена (или soft-deleted).
	ErrNotFound = errors.New("запись не найдена")
	// ErrAlreadyDeleted — запись существует, но уже удалена.
	// Оборачивает ErrNotFound.
	ErrAlreadyDeleted = fmt.Errorf("%w: запись уже удалена", ErrNotFound)
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrChecksumImmutable — попытка изменить установленный checksum.
	ErrChecksumImmutable = errors.New("checksum неизменяем")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner — источник транзакций (*pgxpool.Pool).
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Уровни изоляции, используемые репозиториями.
var (
	// WriteTx — транзакция записи.
	WriteTx = pgx.TxOptions{IsoLevel: pgx.Serializable}
	// ReadSnapshotTx — согласованный снимок для чтения (count + page).
	ReadSnapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
)

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	db      TxBeginner
	retries int
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
// retries — число повторов при serialization failure / deadlock.
func NewTxRunner(db TxBeginner, retries int) *TxRunner {
	if retries < 0 {
		retries = 0
	}
	return &TxRunner{db: db, retries: retries}
}

// RunInTx выполняет fn внутри транзакции с указанными опциями.
// При ошибке fn — транзакция откатывается, при успехе — коммитится.
// Конфликты сериализации повторяются до retries раз, затем
// возвращаются вызывающему.
func (r *TxRunner) RunInTx(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		err = r.runOnce(ctx, opts, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return err
		}
	}
	return fmt.Errorf("транзакция не выполнена после %d попыток: %w", r.retries+1, err)
}

func (r *TxRunner) runOnce(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, opts)
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

// isRetryable — serialization failure или deadlock.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected
	}
	return false
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

// isCheckViolation — нарушение CHECK или исключение триггера неизменяемости checksum.
func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.CheckViolation
	}
	return false
}
