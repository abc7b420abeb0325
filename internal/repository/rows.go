package repository

import (
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/checksum"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// Списки столбцов для SELECT-запросов.
const (
	archiveFileColumns = `archive_file_id, disk_instance_name, disk_file_id,
	disk_file_uid, disk_file_gid, size_in_bytes, checksum_blob,
	storage_class_id, creation_time, reconciliation_time`

	tapeFileColumns = `vid, fseq, block_id, logical_size_in_bytes, copy_nb,
	creation_time, archive_file_id`

	tapeColumns = `vid, last_fseq, data_in_bytes, nb_files, state, state_reason,
	last_write_drive, last_write_time, creation_time`

	recycleLogColumns = `id, vid, fseq, block_id, copy_nb, tape_file_creation_time,
	archive_file_id, disk_instance_name, disk_file_id, disk_file_id_when_deleted,
	disk_file_uid, disk_file_gid, size_in_bytes, checksum_blob, storage_class_id,
	archive_file_creation_time, reconciliation_time, reason_log, recycle_log_time`
)

// Столбцы для COPY в archive_file и tape_file.
var (
	archiveFileCopyColumns = []string{
		"archive_file_id", "disk_instance_name", "disk_file_id",
		"disk_file_uid", "disk_file_gid", "size_in_bytes", "checksum_blob",
		"storage_class_id", "creation_time", "reconciliation_time",
	}
	tapeFileCopyColumns = []string{
		"vid", "fseq", "block_id", "logical_size_in_bytes", "copy_nb",
		"creation_time", "archive_file_id",
	}
)

// scanner — общий интерфейс pgx.Row и pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanArchiveFile(row scanner) (*model.ArchiveFile, error) {
	af := &model.ArchiveFile{}
	var blob string
	if err := row.Scan(
		&af.ArchiveFileID, &af.DiskInstanceName, &af.DiskFileID,
		&af.DiskFileOwnerUID, &af.DiskFileGID, &af.SizeInBytes, &blob,
		&af.StorageClassID, &af.CreationTime, &af.ReconciliationTime,
	); err != nil {
		return nil, err
	}
	sum, err := checksum.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("archive_file_id=%d: %w", af.ArchiveFileID, err)
	}
	af.Checksum = sum
	return af, nil
}

func scanTapeFile(row scanner, extra ...any) (model.TapeFile, error) {
	var tf model.TapeFile
	dest := []any{
		&tf.VID, &tf.FSeq, &tf.BlockID, &tf.LogicalSizeInBytes, &tf.CopyNb,
		&tf.CreationTime, &tf.ArchiveFileID,
	}
	err := row.Scan(append(dest, extra...)...)
	return tf, err
}

func scanTape(row scanner) (*model.Tape, error) {
	t := &model.Tape{}
	var state string
	if err := row.Scan(
		&t.VID, &t.LastFSeq, &t.DataInBytes, &t.NbFiles, &state, &t.StateReason,
		&t.LastWriteDrive, &t.LastWriteTime, &t.CreationTime,
	); err != nil {
		return nil, err
	}
	t.State = model.TapeState(state)
	return t, nil
}

func scanRecycleLogEntry(row scanner) (model.RecycleLogEntry, error) {
	var e model.RecycleLogEntry
	var blob string
	if err := row.Scan(
		&e.ID, &e.VID, &e.FSeq, &e.BlockID, &e.CopyNb, &e.TapeFileCreationTime,
		&e.ArchiveFileID, &e.DiskInstanceName, &e.DiskFileID, &e.DiskFileIDWhenDeleted,
		&e.DiskFileOwnerUID, &e.DiskFileGID, &e.SizeInBytes, &blob, &e.StorageClassID,
		&e.ArchiveFileCreationTime, &e.ReconciliationTime, &e.ReasonLog, &e.RecycleLogTime,
	); err != nil {
		return e, err
	}
	sum, err := checksum.Decode(blob)
	if err != nil {
		return e, fmt.Errorf("журнал id=%d: %w", e.ID, err)
	}
	e.Checksum = sum
	return e, nil
}

// archiveFileRows — строки для COPY в archive_file.
func archiveFileRows(files []*model.ArchiveFile) ([][]any, error) {
	rows := make([][]any, 0, len(files))
	for _, af := range files {
		blob, err := af.Checksum.Encode()
		if err != nil {
			return nil, err
		}
		rows = append(rows, []any{
			int64(af.ArchiveFileID), af.DiskInstanceName, af.DiskFileID,
			int64(af.DiskFileOwnerUID), int64(af.DiskFileGID), int64(af.SizeInBytes), blob,
			int64(af.StorageClassID), af.CreationTime.UTC(), af.ReconciliationTime.UTC(),
		})
	}
	return rows, nil
}

// tapeFileRows — строки для COPY в tape_file.
func tapeFileRows(files []model.TapeFile) [][]any {
	rows := make([][]any, 0, len(files))
	for _, tf := range files {
		rows = append(rows, []any{
			tf.VID, int64(tf.FSeq), int64(tf.BlockID), int64(tf.LogicalSizeInBytes),
			int32(tf.CopyNb), tf.CreationTime.UTC(), int64(tf.ArchiveFileID),
		})
	}
	return rows
}

// utc — время для записи в TIMESTAMPTZ.
func utc(t time.Time) time.Time {
	return t.UTC()
}
