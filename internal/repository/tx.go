package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/catalogue"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// rowLockTx — TransactionAdapter стратегии rowlock: лента захватывается
// SELECT ... FOR UPDATE, пакеты одной ленты выполняются строго по очереди.
type rowLockTx struct {
	db DBTX
}

func (t *rowLockTx) LockTape(ctx context.Context, vid string) (*model.Tape, error) {
	return selectTape(ctx, t.db, vid, "FOR UPDATE")
}

func (t *rowLockTx) GetArchiveFiles(ctx context.Context, ids []uint64) (map[uint64]*model.ArchiveFile, error) {
	result := make(map[uint64]*model.ArchiveFile, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := t.db.Query(ctx,
		`SELECT `+archiveFileColumns+` FROM archive_file WHERE archive_file_id = ANY($1)`,
		toInt64s(ids),
	)
	if err != nil {
		return nil, wrapErr("чтение archive_file", err)
	}
	defer rows.Close()

	for rows.Next() {
		af, err := scanArchiveFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования archive_file: %w", err)
		}
		result[af.ArchiveFileID] = af
	}
	return result, wrapErr("чтение archive_file", rows.Err())
}

func (t *rowLockTx) InsertArchiveFilesIfAbsent(ctx context.Context, files []*model.ArchiveFile) error {
	if len(files) == 0 {
		return nil
	}
	rows, err := archiveFileRows(files)
	if err != nil {
		return err
	}

	// По одной строке в порядке возрастания id: блокировки индекса
	// берутся в одном порядке во всех транзакциях.
	batch := &pgx.Batch{}
	for _, args := range rows {
		batch.Queue(`
			INSERT INTO archive_file (`+archiveFileColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (archive_file_id) DO NOTHING`, args...)
	}
	br := t.db.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return wrapErr("вставка archive_file", err)
		}
	}
	return wrapErr("вставка archive_file", br.Close())
}

func (t *rowLockTx) LiveCopies(ctx context.Context, keys []model.CopyKey) ([]model.TapeFile, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(keys))
	copyNbs := make([]int32, len(keys))
	for i, k := range keys {
		ids[i] = int64(k.ArchiveFileID)
		copyNbs[i] = int32(k.CopyNb)
	}

	rows, err := t.db.Query(ctx, `
		SELECT `+tapeFileColumns+`
		FROM tape_file
		WHERE (archive_file_id, copy_nb) IN (
			SELECT * FROM unnest($1::bigint[], $2::integer[])
		)
		ORDER BY archive_file_id, copy_nb
		FOR UPDATE`, ids, copyNbs)
	if err != nil {
		return nil, wrapErr("чтение живых копий", err)
	}
	return collectTapeFiles(rows)
}

func (t *rowLockTx) ArchiveFileCopies(ctx context.Context, archiveFileID uint64) ([]model.TapeFile, error) {
	rows, err := t.db.Query(ctx, `
		SELECT `+tapeFileColumns+`
		FROM tape_file
		WHERE archive_file_id = $1
		ORDER BY copy_nb
		FOR UPDATE`, int64(archiveFileID))
	if err != nil {
		return nil, wrapErr("чтение копий файла", err)
	}
	return collectTapeFiles(rows)
}

func (t *rowLockTx) MoveToRecycleLog(ctx context.Context, entries []model.RecycleLogEntry) error {
	return moveToRecycleLog(ctx, t.db, entries)
}

func (t *rowLockTx) InsertTapeFiles(ctx context.Context, files []model.TapeFile) error {
	_, err := t.db.CopyFrom(ctx, pgx.Identifier{"tape_file"}, tapeFileCopyColumns,
		pgx.CopyFromRows(tapeFileRows(files)))
	if err != nil {
		return tapeFileInsertErr(err)
	}
	return nil
}

func (t *rowLockTx) UpdateTapeUsage(ctx context.Context, usage model.TapeUsage) (bool, error) {
	return updateTapeUsage(ctx, t.db, usage)
}

// --- Общие операции ---

// selectTape читает ленту; lock — суффикс блокировки ("FOR UPDATE" или "").
func selectTape(ctx context.Context, db DBTX, vid, lock string) (*model.Tape, error) {
	tape, err := scanTape(db.QueryRow(ctx,
		`SELECT `+tapeColumns+` FROM tape WHERE vid = $1 `+lock, vid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: лента vid=%s", ErrNotFound, vid)
		}
		return nil, wrapErr("чтение ленты", err)
	}
	return tape, nil
}

func collectTapeFiles(rows pgx.Rows) ([]model.TapeFile, error) {
	defer rows.Close()
	var result []model.TapeFile
	for rows.Next() {
		tf, err := scanTapeFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования tape_file: %w", err)
		}
		result = append(result, tf)
	}
	return result, wrapErr("чтение tape_file", rows.Err())
}

// moveToRecycleLog сохраняет снимки и удаляет копии одним пакетом запросов.
func moveToRecycleLog(ctx context.Context, db DBTX, entries []model.RecycleLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		blob, err := e.Checksum.Encode()
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO file_recycle_log (vid, fseq, block_id, copy_nb, tape_file_creation_time,
				archive_file_id, disk_instance_name, disk_file_id, disk_file_id_when_deleted,
				disk_file_uid, disk_file_gid, size_in_bytes, checksum_blob, storage_class_id,
				archive_file_creation_time, reconciliation_time, reason_log, recycle_log_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			e.VID, int64(e.FSeq), int64(e.BlockID), int32(e.CopyNb), utc(e.TapeFileCreationTime),
			int64(e.ArchiveFileID), e.DiskInstanceName, e.DiskFileID, e.DiskFileIDWhenDeleted,
			int64(e.DiskFileOwnerUID), int64(e.DiskFileGID), int64(e.SizeInBytes), blob, int64(e.StorageClassID),
			utc(e.ArchiveFileCreationTime), utc(e.ReconciliationTime), e.ReasonLog, utc(e.RecycleLogTime),
		)
		batch.Queue(`DELETE FROM tape_file WHERE vid = $1 AND fseq = $2`, e.VID, int64(e.FSeq))
	}

	br := db.SendBatch(ctx, batch)
	defer br.Close()
	for _, e := range entries {
		if _, err := br.Exec(); err != nil {
			return wrapErr("вставка file_recycle_log", err)
		}
		tag, err := br.Exec()
		if err != nil {
			return wrapErr("удаление tape_file", err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("%w: копия vid=%s fseq=%d уже удалена", ErrConflict, e.VID, e.FSeq)
		}
	}
	return wrapErr("перенос в журнал", br.Close())
}

// tapeFileInsertErr классифицирует отказ вставки tape_file.
func tapeFileInsertErr(err error) error {
	switch {
	case isConstraintViolation(err, constraintVidFseq):
		return fmt.Errorf("%w: %v", catalogue.ErrCommitConflict, err)
	case isConstraintViolation(err, constraintCopyNb):
		return fmt.Errorf("%w: копия с тем же номером записана параллельно: %v", ErrConflict, err)
	default:
		return wrapErr("вставка tape_file", err)
	}
}

// updateTapeUsage — compare-and-set по last_fseq.
func updateTapeUsage(ctx context.Context, db DBTX, u model.TapeUsage) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE tape
		SET last_fseq = $3,
			data_in_bytes = data_in_bytes + $4,
			nb_files = nb_files + $5,
			last_write_drive = $6,
			last_write_time = $7
		WHERE vid = $1 AND last_fseq = $2`,
		u.VID, int64(u.PrevLastFSeq), int64(u.LastFSeq), int64(u.Bytes), int64(u.Files),
		u.TapeDrive, utc(u.WriteTime),
	)
	if err != nil {
		return false, wrapErr("обновление ленты", err)
	}
	return tag.RowsAffected() == 1, nil
}
