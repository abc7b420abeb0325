package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/catalogue"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// stagingTx — TransactionAdapter стратегии staging.
//
// Лента не блокируется. Кандидаты загружаются COPY во временные таблицы
// ON COMMIT DROP, сверяются с живыми таблицами соединениями и переносятся
// INSERT ... SELECT. Параллельный пакет на ту же ленту проигрывает CAS
// по last_fseq, а отложенная уникальность (vid, fseq) страхует при COMMIT.
type stagingTx struct {
	rowLockTx
}

func newStagingTx(db DBTX) *stagingTx {
	return &stagingTx{rowLockTx: rowLockTx{db: db}}
}

func (t *stagingTx) LockTape(ctx context.Context, vid string) (*model.Tape, error) {
	return selectTape(ctx, t.db, vid, "")
}

// stage создаёт (при необходимости) временную таблицу и загружает в неё строки.
func (t *stagingTx) stage(ctx context.Context, table, ddl string, columns []string, rows [][]any) error {
	if _, err := t.db.Exec(ctx, `CREATE TEMP TABLE IF NOT EXISTS `+table+` `+ddl+` ON COMMIT DROP`); err != nil {
		return wrapErr("создание "+table, err)
	}
	if _, err := t.db.Exec(ctx, `TRUNCATE `+table); err != nil {
		return wrapErr("очистка "+table, err)
	}
	if _, err := t.db.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows)); err != nil {
		return wrapErr("загрузка "+table, err)
	}
	return nil
}

func (t *stagingTx) InsertArchiveFilesIfAbsent(ctx context.Context, files []*model.ArchiveFile) error {
	if len(files) == 0 {
		return nil
	}
	rows, err := archiveFileRows(files)
	if err != nil {
		return err
	}
	if err := t.stage(ctx, "tc_stage_archive_file", "(LIKE archive_file)", archiveFileCopyColumns, rows); err != nil {
		return err
	}

	_, err = t.db.Exec(ctx, `
		INSERT INTO archive_file (`+archiveFileColumns+`)
		SELECT `+archiveFileColumns+`
		FROM tc_stage_archive_file
		ORDER BY archive_file_id
		ON CONFLICT (archive_file_id) DO NOTHING`)
	return wrapErr("перенос archive_file", err)
}

func (t *stagingTx) LiveCopies(ctx context.Context, keys []model.CopyKey) ([]model.TapeFile, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows := make([][]any, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []any{int64(k.ArchiveFileID), int32(k.CopyNb)})
	}
	if err := t.stage(ctx, "tc_stage_copy_key", "(archive_file_id BIGINT, copy_nb INTEGER)",
		[]string{"archive_file_id", "copy_nb"}, rows); err != nil {
		return nil, err
	}

	result, err := t.db.Query(ctx, `
		SELECT tf.vid, tf.fseq, tf.block_id, tf.logical_size_in_bytes, tf.copy_nb,
			tf.creation_time, tf.archive_file_id
		FROM tape_file tf
		JOIN tc_stage_copy_key k
			ON k.archive_file_id = tf.archive_file_id AND k.copy_nb = tf.copy_nb
		ORDER BY tf.archive_file_id, tf.copy_nb
		FOR UPDATE OF tf`)
	if err != nil {
		return nil, wrapErr("чтение живых копий", err)
	}
	return collectTapeFiles(result)
}

func (t *stagingTx) InsertTapeFiles(ctx context.Context, files []model.TapeFile) error {
	if err := t.stage(ctx, "tc_stage_tape_file", "(LIKE tape_file)", tapeFileCopyColumns, tapeFileRows(files)); err != nil {
		return err
	}

	// Позиция уже занята зафиксированной записью
	var vid string
	var fseq int64
	err := t.db.QueryRow(ctx, `
		SELECT s.vid, s.fseq
		FROM tc_stage_tape_file s
		JOIN tape_file tf ON tf.vid = s.vid AND tf.fseq = s.fseq
		LIMIT 1`).Scan(&vid, &fseq)
	switch {
	case err == nil:
		return fmt.Errorf("%w: позиция vid=%s fseq=%d занята", catalogue.ErrCommitConflict, vid, fseq)
	case !errors.Is(err, pgx.ErrNoRows):
		return wrapErr("проверка позиций", err)
	}

	_, err = t.db.Exec(ctx, `
		INSERT INTO tape_file (`+tapeFileColumns+`)
		SELECT `+tapeFileColumns+`
		FROM tc_stage_tape_file
		ORDER BY vid, fseq`)
	if err != nil {
		return tapeFileInsertErr(err)
	}
	return nil
}
