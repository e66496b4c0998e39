package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeTx — транзакция-заглушка: реализует только Commit и Rollback.
type fakeTx struct {
	pgx.Tx
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

// fakeBeginner выдаёт заранее подготовленные транзакции.
type fakeBeginner struct {
	txs   []*fakeTx
	opts  []pgx.TxOptions
	begun int
}

func (b *fakeBeginner) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	b.opts = append(b.opts, opts)
	if b.begun >= len(b.txs) {
		return nil, errors.New("нет транзакций")
	}
	tx := b.txs[b.begun]
	b.begun++
	return tx, nil
}

func pgError(code string) error {
	return fmt.Errorf("обёртка: %w", &pgconn.PgError{Code: code})
}

// TestRunInTx_Commit проверяет успешный коммит и передачу опций.
func TestRunInTx_Commit(t *testing.T) {
	tx := &fakeTx{}
	b := &fakeBeginner{txs: []*fakeTx{tx}}
	runner := NewTxRunner(b, 3)

	if err := runner.RunInTx(context.Background(), WriteTx, func(pgx.Tx) error { return nil }); err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
	if !tx.committed {
		t.Error("транзакция не закоммичена")
	}
	if b.opts[0].IsoLevel != pgx.Serializable {
		t.Errorf("уровень изоляции %s, ожидался serializable", b.opts[0].IsoLevel)
	}
}

// TestRunInTx_RollbackOnError проверяет откат и отсутствие повторов
// для неповторяемой ошибки.
func TestRunInTx_RollbackOnError(t *testing.T) {
	tx := &fakeTx{}
	b := &fakeBeginner{txs: []*fakeTx{tx, {}}}
	runner := NewTxRunner(b, 3)

	err := runner.RunInTx(context.Background(), WriteTx, func(pgx.Tx) error { return ErrNotFound })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получено %v", err)
	}
	if !tx.rolledBack {
		t.Error("транзакция не откачена")
	}
	if b.begun != 1 {
		t.Errorf("начато транзакций: %d, ожидалась 1", b.begun)
	}
}

// TestRunInTx_RetrySerialization проверяет повтор после serialization failure.
func TestRunInTx_RetrySerialization(t *testing.T) {
	b := &fakeBeginner{txs: []*fakeTx{{}, {}, {}}}
	runner := NewTxRunner(b, 3)

	calls := 0
	err := runner.RunInTx(context.Background(), WriteTx, func(pgx.Tx) error {
		calls++
		if calls < 3 {
			return pgError(pgerrcode.SerializationFailure)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
	if calls != 3 {
		t.Errorf("вызовов fn: %d, ожидалось 3", calls)
	}
	if !b.txs[2].committed {
		t.Error("последняя попытка не закоммичена")
	}
}

// TestRunInTx_RetryOnCommit проверяет повтор при конфликте на COMMIT.
func TestRunInTx_RetryOnCommit(t *testing.T) {
	b := &fakeBeginner{txs: []*fakeTx{
		{commitErr: pgError(pgerrcode.SerializationFailure)},
		{},
	}}
	runner := NewTxRunner(b, 1)

	if err := runner.RunInTx(context.Background(), WriteTx, func(pgx.Tx) error { return nil }); err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
	if b.begun != 2 {
		t.Errorf("начато транзакций: %d, ожидалось 2", b.begun)
	}
}

// TestRunInTx_RetriesExhausted проверяет ошибку после исчерпания попыток.
func TestRunInTx_RetriesExhausted(t *testing.T) {
	b := &fakeBeginner{txs: []*fakeTx{{}, {}, {}}}
	runner := NewTxRunner(b, 2)

	err := runner.RunInTx(context.Background(), WriteTx, func(pgx.Tx) error {
		return pgError(pgerrcode.DeadlockDetected)
	})
	if err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if !isRetryable(err) {
		t.Errorf("исходная ошибка потеряна: %v", err)
	}
	if b.begun != 3 {
		t.Errorf("начато транзакций: %d, ожидалось 3", b.begun)
	}
}

// TestErrorClassification проверяет распознавание кодов PostgreSQL.
func TestErrorClassification(t *testing.T) {
	if !isUniqueViolation(pgError(pgerrcode.UniqueViolation)) {
		t.Error("unique_violation не распознан")
	}
	if isUniqueViolation(errors.New("другая")) {
		t.Error("обычная ошибка распознана как unique_violation")
	}
	if isRetryable(pgError(pgerrcode.UniqueViolation)) {
		t.Error("unique_violation считается повторяемой")
	}
	if !isChecksumTrigger(pgError(pgerrcode.CheckViolation)) {
		t.Error("исключение триггера не распознано")
	}
	constraint := &pgconn.PgError{Code: pgerrcode.CheckViolation, ConstraintName: "files_checksum_required"}
	if isChecksumTrigger(constraint) {
		t.Error("именованное ограничение распознано как триггер")
	}
	if !errors.Is(ErrAlreadyDeleted, ErrNotFound) {
		t.Error("ErrAlreadyDeleted должна оборачивать ErrNotFound")
	}
}

// TestBuildFileWhere проверяет построение условий фильтрации.
func TestBuildFileWhere(t *testing.T) {
	name := "report.pdf"
	ct := "application/pdf"
	sum := strings.Repeat("AB", 32)

	tests := []struct {
		name     string
		filters  FileFilters
		wantSQL  string
		wantArgs int
	}{
		{
			name:     "без фильтров",
			filters:  FileFilters{},
			wantSQL:  "WHERE status <> 'deleted'",
			wantArgs: 0,
		},
		{
			name:     "имя",
			filters:  FileFilters{FileName: &name},
			wantSQL:  "WHERE status <> 'deleted' AND file_name = $1",
			wantArgs: 1,
		},
		{
			name:     "все фильтры",
			filters:  FileFilters{FileName: &name, ContentType: &ct, Checksum: &sum},
			wantSQL:  "WHERE status <> 'deleted' AND file_name = $1 AND content_type = $2 AND checksum = $3",
			wantArgs: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildFileWhere(tt.filters, 1)
			if where != tt.wantSQL {
				t.Errorf("where = %q, ожидалось %q", where, tt.wantSQL)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("аргументов %d, ожидалось %d", len(args), tt.wantArgs)
			}
		})
	}

	_, args := buildFileWhere(FileFilters{Checksum: &sum}, 1)
	if args[0] != strings.ToLower(sum) {
		t.Errorf("checksum не приведён к нижнему регистру: %v", args[0])
	}
}
