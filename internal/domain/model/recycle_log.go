package model

import (
	"time"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/checksum"
)

// RecycleLogEntry — снимок выведенной из обращения копии файла на ленте.
// Хранится в таблице file_recycle_log, после создания не изменяется.
type RecycleLogEntry struct {
	ID                      int64         `json:"id"`
	VID                     string        `json:"vid"`
	FSeq                    uint64        `json:"fseq"`
	BlockID                 uint64        `json:"block_id"`
	CopyNb                  uint32        `json:"copy_nb"`
	TapeFileCreationTime    time.Time     `json:"tape_file_creation_time"`
	ArchiveFileID           uint64        `json:"archive_file_id"`
	DiskInstanceName        string        `json:"disk_instance_name"`
	DiskFileID              string        `json:"disk_file_id"`
	DiskFileIDWhenDeleted   string        `json:"disk_file_id_when_deleted"`
	DiskFileOwnerUID        uint32        `json:"disk_file_uid"`
	DiskFileGID             uint32        `json:"disk_file_gid"`
	SizeInBytes             uint64        `json:"size_in_bytes"`
	Checksum                checksum.Blob `json:"checksum"`
	StorageClassID          uint64        `json:"storage_class_id"`
	ArchiveFileCreationTime time.Time     `json:"archive_file_creation_time"`
	ReconciliationTime      time.Time     `json:"reconciliation_time"`
	ReasonLog               string        `json:"reason_log"`
	RecycleLogTime          time.Time     `json:"recycle_log_time"`
}

// NewRecycleLogEntry снимает копию tf файла af в запись журнала.
func NewRecycleLogEntry(af *ArchiveFile, tf TapeFile, reason string, now time.Time) RecycleLogEntry {
	return RecycleLogEntry{
		VID:                     tf.VID,
		FSeq:                    tf.FSeq,
		BlockID:                 tf.BlockID,
		CopyNb:                  tf.CopyNb,
		TapeFileCreationTime:    tf.CreationTime,
		ArchiveFileID:           af.ArchiveFileID,
		DiskInstanceName:        af.DiskInstanceName,
		DiskFileID:              af.DiskFileID,
		DiskFileIDWhenDeleted:   af.DiskFileID,
		DiskFileOwnerUID:        af.DiskFileOwnerUID,
		DiskFileGID:             af.DiskFileGID,
		SizeInBytes:             af.SizeInBytes,
		Checksum:                af.Checksum,
		StorageClassID:          af.StorageClassID,
		ArchiveFileCreationTime: af.CreationTime,
		ReconciliationTime:      af.ReconciliationTime,
		ReasonLog:               reason,
		RecycleLogTime:          now,
	}
}

// TapeFile восстанавливает копию, из которой сделана запись.
func (e RecycleLogEntry) TapeFile() TapeFile {
	return TapeFile{
		VID:                e.VID,
		FSeq:               e.FSeq,
		BlockID:            e.BlockID,
		LogicalSizeInBytes: e.SizeInBytes,
		CopyNb:             e.CopyNb,
		CreationTime:       e.TapeFileCreationTime,
		ArchiveFileID:      e.ArchiveFileID,
	}
}
