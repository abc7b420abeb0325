// Пакет repository — адаптеры каталога для PostgreSQL и SQLite.
// Все запросы — чистый SQL (pgx и database/sql), без ORM.
//
// Стратегии записи пакетов: rowlock (SELECT ... FOR UPDATE на строке
// ленты), staging (временные таблицы, COPY и INSERT ... SELECT,
// уникальность (vid, fseq) проверяется при COMMIT) и mutex для SQLite
// (общий мьютекс процесса и BEGIN IMMEDIATE).
package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/catalogue"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = catalogue.ErrNotFound
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = catalogue.ErrConflict
)

// Имена ограничений из миграций.
const (
	constraintVidFseq    = "tape_file_vid_fseq_key"
	constraintCopyNb     = "tape_file_archive_copy_key"
	pgUniqueViolation    = "23505"
	pgForeignKeyViolated = "23503"
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn транзакция откатывается.
// При успехе — коммитится. Нарушение отложенной уникальности (vid, fseq)
// при фиксации возвращается как catalogue.ErrCommitConflict.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrapErr("начало транзакции", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isConstraintViolation(err, constraintVidFseq) {
			return fmt.Errorf("%w: %v", catalogue.ErrCommitConflict, err)
		}
		return wrapErr("фиксация транзакции", err)
	}
	return nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// isConstraintViolation — нарушение уникальности конкретного ограничения.
func isConstraintViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
	}
	return false
}

// isForeignKeyViolation — ссылка на несуществующую запись.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgForeignKeyViolated
	}
	return false
}

// isLostConnection — ошибка означает потерю соединения с сервером,
// а не отказ самого запроса.
func isLostConnection(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Класс 08 — connection exception; 57P01..57P03 — остановка сервера
		return strings.HasPrefix(pgErr.Code, "08") ||
			pgErr.Code == "57P01" || pgErr.Code == "57P02" || pgErr.Code == "57P03"
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// wrapErr оборачивает ошибку драйвера: потеря соединения становится
// catalogue.LostConnectionError, остальное — обычной обёрткой с op.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isLostConnection(err) {
		return &catalogue.LostConnectionError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// toInt64s конвертирует идентификаторы для параметров bigint[].
func toInt64s(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
