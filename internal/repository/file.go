package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/file-service/internal/domain/model"
)

// FileRepository — интерфейс доступа к таблице files.
// Удалённые (status = deleted) записи исключаются из GetByID и List
// на уровне SQL.
type FileRepository interface {
	// Create сохраняет новую запись.
	Create(ctx context.Context, f *model.FileRecord) error
	// GetByID возвращает видимую запись по UUID.
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)
	// Update атомарно заменяет изменяемые поля записи.
	Update(ctx context.Context, f *model.FileRecord) error
	// UpdateMetadata меняет имя и/или MIME-тип видимой записи и возвращает
	// её состояние после изменения. nil-поля остаются прежними.
	UpdateMetadata(ctx context.Context, id string, fileName, contentType *string) (*model.FileRecord, error)
	// Delete выполняет soft delete (status → deleted).
	Delete(ctx context.Context, id string, at time.Time) error
	// List возвращает страницу видимых записей и общее число совпадений.
	List(ctx context.Context, offset, limit int, filters FileFilters) ([]*model.FileRecord, int, error)
	// TouchAccessed обновляет last_accessed_at.
	TouchAccessed(ctx context.Context, id string, at time.Time) error
	// ListReclaimable возвращает удалённые, но не очищенные записи
	// с deleted_at раньше deletedBefore.
	ListReclaimable(ctx context.Context, deletedBefore time.Time, limit int) ([]*model.FileRecord, error)
	// MarkReclaimed отмечает физическое удаление объекта.
	MarkReclaimed(ctx context.Context, id string, at time.Time) error
}

// FileFilters — фильтры на равенство для списка файлов.
type FileFilters struct {
	FileName    *string
	ContentType *string
	Checksum    *string
}

// DB — пул соединений: запросы вне транзакций и начало транзакций.
type DB interface {
	DBTX
	TxBeginner
}

// fileRepo — реализация FileRepository.
type fileRepo struct {
	db DBTX
	tx *TxRunner
}

// NewFileRepository создаёт репозиторий файлов.
// retries — число повторов транзакций записи при конфликте сериализации.
func NewFileRepository(db DB, retries int) FileRepository {
	return &fileRepo{db: db, tx: NewTxRunner(db, retries)}
}

const fileColumns = `id, file_name, size, content_type, status, storage_path, checksum,
	uploaded_by, created_at, updated_at, last_accessed_at, deleted_at, reclaimed_at`

// scanFile читает строку в FileRecord.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	var status string
	if err := row.Scan(
		&f.ID, &f.FileName, &f.Size, &f.ContentType, &status, &f.StoragePath, &f.Checksum,
		&f.UploadedBy, &f.CreatedAt, &f.UpdatedAt, &f.LastAccessedAt, &f.DeletedAt, &f.ReclaimedAt,
	); err != nil {
		return nil, err
	}
	f.Status = model.FileStatus(status)
	if !f.Status.IsValid() {
		return nil, fmt.Errorf("неизвестный статус файла %s: %q", f.ID, status)
	}
	return f, nil
}

func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	query := `
		INSERT INTO files (id, file_name, size, content_type, status, storage_path,
			checksum, uploaded_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	return r.tx.RunInTx(ctx, WriteTx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query,
			f.ID, f.FileName, f.Size, f.ContentType, string(f.Status), f.StoragePath,
			f.Checksum, f.UploadedBy, f.CreatedAt, f.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: файл с таким ID или ключом уже существует", ErrConflict)
			}
			return fmt.Errorf("ошибка создания записи файла: %w", err)
		}
		return nil
	})
}

func (r *fileRepo) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + `
		FROM files
		WHERE id = $1 AND status <> 'deleted'`

	f, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) Update(ctx context.Context, f *model.FileRecord) error {
	selectQuery := `SELECT ` + fileColumns + `
		FROM files
		WHERE id = $1 AND status <> 'deleted'
		FOR UPDATE`

	updateQuery := `
		UPDATE files
		SET file_name = $2, size = $3, content_type = $4, status = $5,
			storage_path = $6, checksum = $7, deleted_at = $8, updated_at = NOW()
		WHERE id = $1 AND status <> 'deleted'
		RETURNING updated_at`

	return r.tx.RunInTx(ctx, WriteTx, func(tx pgx.Tx) error {
		current, err := scanFile(tx.QueryRow(ctx, selectQuery, f.ID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("ошибка блокировки записи файла: %w", err)
		}

		if current.Checksum != nil && (f.Checksum == nil || *f.Checksum != *current.Checksum) {
			return ErrChecksumImmutable
		}
		if !model.CanTransition(current.Status, f.Status) {
			return fmt.Errorf("%w: %s → %s", model.ErrInvalidTransition, current.Status, f.Status)
		}

		deletedAt := current.DeletedAt
		if f.Status == model.StatusDeleted && deletedAt == nil {
			deletedAt = f.DeletedAt
			if deletedAt == nil {
				now := time.Now().UTC()
				deletedAt = &now
			}
		}

		err = tx.QueryRow(ctx, updateQuery,
			f.ID, f.FileName, f.Size, f.ContentType, string(f.Status),
			f.StoragePath, f.Checksum, deletedAt,
		).Scan(&f.UpdatedAt)
		if err != nil {
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				return ErrNotFound
			case isUniqueViolation(err):
				return fmt.Errorf("%w: ключ хранения уже занят", ErrConflict)
			case isChecksumTrigger(err):
				return ErrChecksumImmutable
			}
			return fmt.Errorf("ошибка обновления файла: %w", err)
		}
		f.DeletedAt = deletedAt
		return nil
	})
}

// UpdateMetadata сливает поля одним UPDATE: значения берутся из текущей
// версии строки под её блокировкой, поэтому параллельные изменения
// разных полей сохраняются оба.
func (r *fileRepo) UpdateMetadata(ctx context.Context, id string, fileName, contentType *string) (*model.FileRecord, error) {
	query := `
		UPDATE files
		SET file_name = COALESCE($2, file_name),
			content_type = COALESCE($3, content_type),
			updated_at = NOW()
		WHERE id = $1 AND status <> 'deleted'
		RETURNING ` + fileColumns

	var result *model.FileRecord
	err := r.tx.RunInTx(ctx, WriteTx, func(tx pgx.Tx) error {
		f, err := scanFile(tx.QueryRow(ctx, query, id, fileName, contentType))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("ошибка обновления метаданных файла: %w", err)
		}
		result = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *fileRepo) Delete(ctx context.Context, id string, at time.Time) error {
	deleteQuery := `
		UPDATE files
		SET status = 'deleted', deleted_at = $2
		WHERE id = $1 AND status = 'uploaded'`

	probeQuery := `SELECT status FROM files WHERE id = $1`

	return r.tx.RunInTx(ctx, WriteTx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, deleteQuery, id, at.UTC())
		if err != nil {
			return fmt.Errorf("ошибка удаления файла: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}

		var status string
		err = tx.QueryRow(ctx, probeQuery, id).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("ошибка проверки существования файла: %w", err)
		}
		if model.FileStatus(status) == model.StatusDeleted {
			return ErrAlreadyDeleted
		}
		return fmt.Errorf("%w: %s → %s", model.ErrInvalidTransition, status, model.StatusDeleted)
	})
}

// buildFileWhere строит WHERE-условие и аргументы для фильтрации видимых файлов.
// Условие status <> 'deleted' присутствует всегда.
func buildFileWhere(filters FileFilters, startArg int) (string, []any) {
	conditions := []string{"status <> 'deleted'"}
	var args []any
	argNum := startArg

	if filters.FileName != nil {
		conditions = append(conditions, fmt.Sprintf("file_name = $%d", argNum))
		args = append(args, *filters.FileName)
		argNum++
	}
	if filters.ContentType != nil {
		conditions = append(conditions, fmt.Sprintf("content_type = $%d", argNum))
		args = append(args, *filters.ContentType)
		argNum++
	}
	if filters.Checksum != nil {
		conditions = append(conditions, fmt.Sprintf("checksum = $%d", argNum))
		args = append(args, strings.ToLower(*filters.Checksum))
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *fileRepo) List(ctx context.Context, offset, limit int, filters FileFilters) ([]*model.FileRecord, int, error) {
	where, args := buildFileWhere(filters, 1)
	argNum := len(args) + 1

	countQuery := `SELECT COUNT(*) FROM files ` + where
	pageQuery := fmt.Sprintf(`SELECT %s
		FROM files
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, fileColumns, where, argNum, argNum+1)

	pageArgs := append(append([]any{}, args...), limit, offset)

	var (
		total  int
		result []*model.FileRecord
	)
	err := r.tx.RunInTx(ctx, ReadSnapshotTx, func(tx pgx.Tx) error {
		result = nil
		if err := tx.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
			return fmt.Errorf("ошибка подсчёта файлов: %w", err)
		}
		if total == 0 || offset >= total {
			return nil
		}

		rows, err := tx.Query(ctx, pageQuery, pageArgs...)
		if err != nil {
			return fmt.Errorf("ошибка получения списка файлов: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			f, err := scanFile(rows)
			if err != nil {
				return fmt.Errorf("ошибка сканирования файла: %w", err)
			}
			result = append(result, f)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (r *fileRepo) TouchAccessed(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE files
		SET last_accessed_at = $2
		WHERE id = $1 AND status <> 'deleted'`

	tag, err := r.db.Exec(ctx, query, id, at.UTC())
	if err != nil {
		return fmt.Errorf("ошибка обновления времени доступа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepo) ListReclaimable(ctx context.Context, deletedBefore time.Time, limit int) ([]*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + `
		FROM files
		WHERE status = 'deleted' AND reclaimed_at IS NULL AND deleted_at < $1
		ORDER BY deleted_at
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, deletedBefore.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения удалённых файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *fileRepo) MarkReclaimed(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE files
		SET reclaimed_at = $2
		WHERE id = $1 AND status = 'deleted' AND reclaimed_at IS NULL`

	tag, err := r.db.Exec(ctx, query, id, at.UTC())
	if err != nil {
		return fmt.Errorf("ошибка отметки очистки файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isChecksumTrigger — исключение триггера files_before_update
// (check_violation без имени ограничения).
func isChecksumTrigger(err error) bool {
	var pgErr *pgconn.PgError
	return isCheckViolation(err) && errors.As(err, &pgErr) && pgErr.ConstraintName == ""
}
