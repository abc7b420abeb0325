package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/catalogue"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// SQLiteAdapter — catalogue.Adapter поверх файла SQLite.
// Пакеты записи сериализуются мьютексом mu: он общий для всех адаптеров,
// открытых на один файл в процессе.
type SQLiteAdapter struct {
	db *sql.DB
	mu *sync.Mutex
}

// NewSQLiteAdapter создаёт адаптер стратегии mutex.
func NewSQLiteAdapter(db *sql.DB, mu *sync.Mutex) *SQLiteAdapter {
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return &SQLiteAdapter{db: db, mu: mu}
}

// Strategy возвращает имя стратегии записи.
func (a *SQLiteAdapter) Strategy() string {
	return catalogue.StrategyMutex
}

// WithTx выполняет fn в транзакции BEGIN IMMEDIATE под мьютексом.
func (a *SQLiteAdapter) WithTx(ctx context.Context, fn func(ctx context.Context, tx catalogue.TransactionAdapter) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapSQLiteErr("начало транзакции", err)
	}
	defer tx.Rollback() //nolint:errcheck // откат после коммита — no-op

	if err := fn(ctx, &sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapSQLiteErr("фиксация транзакции", err)
	}
	return nil
}

// Ping проверяет доступность файла базы.
func (a *SQLiteAdapter) Ping(ctx context.Context) error {
	return wrapSQLiteErr("ping", a.db.PingContext(ctx))
}

func (a *SQLiteAdapter) getArchiveFile(ctx context.Context, archiveFileID uint64) (*model.ArchiveFile, error) {
	af, err := scanArchiveFile(a.db.QueryRowContext(ctx,
		`SELECT `+archiveFileColumns+` FROM archive_file WHERE archive_file_id = ?`,
		int64(archiveFileID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: archive_file_id=%d", ErrNotFound, archiveFileID)
		}
		return nil, wrapSQLiteErr("чтение archive_file", err)
	}
	return af, nil
}

// GetArchiveFile возвращает файл с живыми копиями.
func (a *SQLiteAdapter) GetArchiveFile(ctx context.Context, archiveFileID uint64) (*model.ArchiveFile, error) {
	af, err := a.getArchiveFile(ctx, archiveFileID)
	if err != nil {
		return nil, err
	}
	af.TapeFiles, err = sqliteTapeFiles(ctx, a.db, `
		SELECT `+tapeFileColumns+`
		FROM tape_file
		WHERE archive_file_id = ?
		ORDER BY copy_nb`, int64(archiveFileID))
	if err != nil {
		return nil, err
	}
	return af, nil
}

// GetTapeFileCopies возвращает файл и его копии с состоянием лент.
func (a *SQLiteAdapter) GetTapeFileCopies(ctx context.Context, archiveFileID uint64) (*model.ArchiveFile, []model.TapeFileCopy, error) {
	af, err := a.getArchiveFile(ctx, archiveFileID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT tf.vid, tf.fseq, tf.block_id, tf.logical_size_in_bytes, tf.copy_nb,
			tf.creation_time, tf.archive_file_id, t.state
		FROM tape_file tf
		JOIN tape t ON t.vid = tf.vid
		WHERE tf.archive_file_id = ?
		ORDER BY tf.copy_nb`, int64(archiveFileID))
	if err != nil {
		return nil, nil, wrapSQLiteErr("чтение копий файла", err)
	}
	defer rows.Close()

	var copies []model.TapeFileCopy
	for rows.Next() {
		var state string
		tf, err := scanTapeFile(rows, &state)
		if err != nil {
			return nil, nil, fmt.Errorf("ошибка сканирования копии: %w", err)
		}
		copies = append(copies, model.TapeFileCopy{TapeFile: tf, TapeState: model.TapeState(state)})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wrapSQLiteErr("чтение копий файла", err)
	}
	return af, copies, nil
}

// GetMountRules возвращает правила инстанса для запрашивающего и его группы.
func (a *SQLiteAdapter) GetMountRules(ctx context.Context, diskInstance, requester, group string) ([]model.MountRuleMatch, error) {
	rows, err := a.db.QueryContext(ctx, mountRulesQuery("?1", "?2", "?3"), diskInstance, requester, group)
	if err != nil {
		return nil, wrapSQLiteErr("чтение правил монтирования", err)
	}
	defer rows.Close()

	var result []model.MountRuleMatch
	for rows.Next() {
		m, err := scanMountRuleMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования правила: %w", err)
		}
		result = append(result, m)
	}
	return result, wrapSQLiteErr("чтение правил монтирования", rows.Err())
}

// GetTape возвращает ленту.
func (a *SQLiteAdapter) GetTape(ctx context.Context, vid string) (*model.Tape, error) {
	return sqliteSelectTape(ctx, a.db, vid)
}

// ListRecycleLog возвращает журнал выведенных копий ленты по fseq.
func (a *SQLiteAdapter) ListRecycleLog(ctx context.Context, vid string) ([]model.RecycleLogEntry, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT `+recycleLogColumns+`
		FROM file_recycle_log
		WHERE vid = ?
		ORDER BY fseq, id`, vid)
	if err != nil {
		return nil, wrapSQLiteErr("чтение журнала", err)
	}
	defer rows.Close()

	var result []model.RecycleLogEntry
	for rows.Next() {
		e, err := scanRecycleLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования журнала: %w", err)
		}
		result = append(result, e)
	}
	return result, wrapSQLiteErr("чтение журнала", rows.Err())
}

// CreateTape регистрирует ленту.
func (a *SQLiteAdapter) CreateTape(ctx context.Context, tape *model.Tape) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO tape (vid, state, state_reason, creation_time)
		VALUES (?, ?, ?, ?)`,
		tape.VID, string(tape.State), tape.StateReason, utc(tape.CreationTime))
	if err != nil {
		if isSQLiteUnique(err) {
			return fmt.Errorf("%w: лента %s уже зарегистрирована", ErrConflict, tape.VID)
		}
		return wrapSQLiteErr("создание ленты", err)
	}
	return nil
}

// SetTapeState меняет состояние ленты.
func (a *SQLiteAdapter) SetTapeState(ctx context.Context, vid string, state model.TapeState, reason *string) error {
	res, err := a.db.ExecContext(ctx,
		`UPDATE tape SET state = ?, state_reason = ? WHERE vid = ?`,
		string(state), reason, vid)
	if err != nil {
		return wrapSQLiteErr("смена состояния ленты", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: лента vid=%s", ErrNotFound, vid)
	}
	return nil
}

// CreateMountPolicy создаёт политику монтирования.
func (a *SQLiteAdapter) CreateMountPolicy(ctx context.Context, p *model.MountPolicy) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO mount_policy (name, archive_priority, archive_min_request_age,
			retrieve_priority, retrieve_min_request_age, comment, creation_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Name, int64(p.ArchivePriority), int64(p.ArchiveMinRequestAge),
		int64(p.RetrievePriority), int64(p.RetrieveMinRequestAge), p.Comment, utc(p.CreationTime))
	if err != nil {
		if isSQLiteUnique(err) {
			return fmt.Errorf("%w: политика %s", ErrConflict, p.Name)
		}
		return wrapSQLiteErr("создание политики", err)
	}
	return nil
}

// CreateMountRule создаёт правило в таблице своего вида.
func (a *SQLiteAdapter) CreateMountRule(ctx context.Context, r *model.MountRule) error {
	query, args, err := insertMountRuleQuery(r, "?")
	if err != nil {
		return err
	}
	if _, err := a.db.ExecContext(ctx, query, args...); err != nil {
		switch {
		case isSQLiteUnique(err):
			return fmt.Errorf("%w: правило %s/%s", ErrConflict, r.Kind, r.Name)
		case isSQLiteConstraint(err, sqlite3.ErrConstraintForeignKey):
			return fmt.Errorf("%w: политика %s", ErrNotFound, r.MountPolicyName)
		}
		return wrapSQLiteErr("создание правила", err)
	}
	return nil
}

// sqliteTx — TransactionAdapter стратегии mutex. Транзакция уже
// единственный писатель файла, блокировки строк не нужны.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) LockTape(ctx context.Context, vid string) (*model.Tape, error) {
	return sqliteSelectTape(ctx, t.tx, vid)
}

func (t *sqliteTx) GetArchiveFiles(ctx context.Context, ids []uint64) (map[uint64]*model.ArchiveFile, error) {
	result := make(map[uint64]*model.ArchiveFile, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+archiveFileColumns+` FROM archive_file WHERE archive_file_id IN (`+placeholders(len(ids))+`)`,
		anyInt64s(ids)...)
	if err != nil {
		return nil, wrapSQLiteErr("чтение archive_file", err)
	}
	defer rows.Close()

	for rows.Next() {
		af, err := scanArchiveFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования archive_file: %w", err)
		}
		result[af.ArchiveFileID] = af
	}
	return result, wrapSQLiteErr("чтение archive_file", rows.Err())
}

func (t *sqliteTx) InsertArchiveFilesIfAbsent(ctx context.Context, files []*model.ArchiveFile) error {
	if len(files) == 0 {
		return nil
	}
	rows, err := archiveFileRows(files)
	if err != nil {
		return err
	}

	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO archive_file (`+archiveFileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (archive_file_id) DO NOTHING`)
	if err != nil {
		return wrapSQLiteErr("подготовка вставки archive_file", err)
	}
	defer stmt.Close()

	for _, args := range rows {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return wrapSQLiteErr("вставка archive_file", err)
		}
	}
	return nil
}

func (t *sqliteTx) LiveCopies(ctx context.Context, keys []model.CopyKey) ([]model.TapeFile, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	stmt, err := t.tx.PrepareContext(ctx, `
		SELECT `+tapeFileColumns+`
		FROM tape_file
		WHERE archive_file_id = ? AND copy_nb = ?`)
	if err != nil {
		return nil, wrapSQLiteErr("подготовка чтения копий", err)
	}
	defer stmt.Close()

	var result []model.TapeFile
	for _, k := range keys {
		tf, err := scanTapeFile(stmt.QueryRowContext(ctx, int64(k.ArchiveFileID), int64(k.CopyNb)))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, wrapSQLiteErr("чтение живых копий", err)
		}
		result = append(result, tf)
	}
	return result, nil
}

func (t *sqliteTx) ArchiveFileCopies(ctx context.Context, archiveFileID uint64) ([]model.TapeFile, error) {
	return sqliteTapeFiles(ctx, t.tx, `
		SELECT `+tapeFileColumns+`
		FROM tape_file
		WHERE archive_file_id = ?
		ORDER BY copy_nb`, int64(archiveFileID))
}

func (t *sqliteTx) MoveToRecycleLog(ctx context.Context, entries []model.RecycleLogEntry) error {
	for _, e := range entries {
		blob, err := e.Checksum.Encode()
		if err != nil {
			return err
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO file_recycle_log (vid, fseq, block_id, copy_nb, tape_file_creation_time,
				archive_file_id, disk_instance_name, disk_file_id, disk_file_id_when_deleted,
				disk_file_uid, disk_file_gid, size_in_bytes, checksum_blob, storage_class_id,
				archive_file_creation_time, reconciliation_time, reason_log, recycle_log_time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.VID, int64(e.FSeq), int64(e.BlockID), int64(e.CopyNb), utc(e.TapeFileCreationTime),
			int64(e.ArchiveFileID), e.DiskInstanceName, e.DiskFileID, e.DiskFileIDWhenDeleted,
			int64(e.DiskFileOwnerUID), int64(e.DiskFileGID), int64(e.SizeInBytes), blob, int64(e.StorageClassID),
			utc(e.ArchiveFileCreationTime), utc(e.ReconciliationTime), e.ReasonLog, utc(e.RecycleLogTime),
		); err != nil {
			return wrapSQLiteErr("вставка file_recycle_log", err)
		}

		res, err := t.tx.ExecContext(ctx,
			`DELETE FROM tape_file WHERE vid = ? AND fseq = ?`, e.VID, int64(e.FSeq))
		if err != nil {
			return wrapSQLiteErr("удаление tape_file", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("%w: копия vid=%s fseq=%d уже удалена", ErrConflict, e.VID, e.FSeq)
		}
	}
	return nil
}

func (t *sqliteTx) InsertTapeFiles(ctx context.Context, files []model.TapeFile) error {
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO tape_file (`+tapeFileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return wrapSQLiteErr("подготовка вставки tape_file", err)
	}
	defer stmt.Close()

	for _, args := range tapeFileRows(files) {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			switch {
			case isSQLiteConstraint(err, sqlite3.ErrConstraintPrimaryKey):
				return fmt.Errorf("%w: %v", catalogue.ErrCommitConflict, err)
			case isSQLiteConstraint(err, sqlite3.ErrConstraintUnique):
				return fmt.Errorf("%w: копия с тем же номером уже записана: %v", ErrConflict, err)
			}
			return wrapSQLiteErr("вставка tape_file", err)
		}
	}
	return nil
}

func (t *sqliteTx) UpdateTapeUsage(ctx context.Context, u model.TapeUsage) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tape
		SET last_fseq = ?,
			data_in_bytes = data_in_bytes + ?,
			nb_files = nb_files + ?,
			last_write_drive = ?,
			last_write_time = ?
		WHERE vid = ? AND last_fseq = ?`,
		int64(u.LastFSeq), int64(u.Bytes), int64(u.Files), u.TapeDrive, utc(u.WriteTime),
		u.VID, int64(u.PrevLastFSeq),
	)
	if err != nil {
		return false, wrapSQLiteErr("обновление ленты", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapSQLiteErr("обновление ленты", err)
	}
	return n == 1, nil
}

// --- Общее для SQLite ---

// sqlQuerier — общий интерфейс *sql.DB и *sql.Tx.
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteSelectTape(ctx context.Context, q sqlQuerier, vid string) (*model.Tape, error) {
	tape, err := scanTape(q.QueryRowContext(ctx,
		`SELECT `+tapeColumns+` FROM tape WHERE vid = ?`, vid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: лента vid=%s", ErrNotFound, vid)
		}
		return nil, wrapSQLiteErr("чтение ленты", err)
	}
	return tape, nil
}

func sqliteTapeFiles(ctx context.Context, q sqlQuerier, query string, args ...any) ([]model.TapeFile, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapSQLiteErr("чтение tape_file", err)
	}
	defer rows.Close()

	var result []model.TapeFile
	for rows.Next() {
		tf, err := scanTapeFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования tape_file: %w", err)
		}
		result = append(result, tf)
	}
	return result, wrapSQLiteErr("чтение tape_file", rows.Err())
}

// placeholders возвращает "?, ?, ..." из n элементов.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func anyInt64s(ids []uint64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

// isSQLiteConstraint — нарушение ограничения с расширенным кодом code.
func isSQLiteConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code == sqlite3.ErrConstraint && sqErr.ExtendedCode == code
	}
	return false
}

// isSQLiteUnique — нарушение уникальности или первичного ключа.
func isSQLiteUnique(err error) bool {
	return isSQLiteConstraint(err, sqlite3.ErrConstraintUnique) ||
		isSQLiteConstraint(err, sqlite3.ErrConstraintPrimaryKey)
}

// wrapSQLiteErr — аналог wrapErr: отказ ввода-вывода или недоступный файл
// становятся catalogue.LostConnectionError.
func wrapSQLiteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	lost := errors.Is(err, sql.ErrConnDone)
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code {
		case sqlite3.ErrIoErr, sqlite3.ErrCantOpen, sqlite3.ErrBusy, sqlite3.ErrLocked:
			lost = true
		}
	}
	if lost {
		return &catalogue.LostConnectionError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
