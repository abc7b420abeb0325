// Пакет model — сущности каталога ленточного архива.
package model

import (
	"time"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/checksum"
)

// ArchiveFile — логический файл, сохраняемый на ленты.
// Хранится в таблице archive_file.
type ArchiveFile struct {
	// ArchiveFileID — глобально уникальный идентификатор (выделяется снаружи)
	ArchiveFileID uint64 `json:"archive_file_id"`
	// DiskInstanceName — дисковый инстанс, которому принадлежит файл
	DiskInstanceName string `json:"disk_instance_name"`
	// DiskFileID — идентификатор файла в дисковой системе
	DiskFileID string `json:"disk_file_id"`
	// DiskFileOwnerUID — владелец файла на диске
	DiskFileOwnerUID uint32 `json:"disk_file_uid"`
	// DiskFileGID — группа файла на диске
	DiskFileGID uint32 `json:"disk_file_gid"`
	// SizeInBytes — размер файла, фиксируется первой копией на ленте
	SizeInBytes uint64 `json:"size_in_bytes"`
	// Checksum — набор контрольных сумм
	Checksum checksum.Blob `json:"checksum"`
	// StorageClassID — класс хранения
	StorageClassID uint64 `json:"storage_class_id"`
	// CreationTime — время создания записи
	CreationTime time.Time `json:"creation_time"`
	// ReconciliationTime — время последней сверки с диском
	ReconciliationTime time.Time `json:"reconciliation_time"`
	// TapeFiles — живые копии на лентах (заполняется при чтении)
	TapeFiles []TapeFile `json:"tape_files,omitempty"`
}

// TapeFile — одна физическая копия файла на ленте.
// Хранится в таблице tape_file.
type TapeFile struct {
	VID                string    `json:"vid"`
	FSeq               uint64    `json:"fseq"`
	BlockID            uint64    `json:"block_id"`
	LogicalSizeInBytes uint64    `json:"logical_size_in_bytes"`
	CopyNb             uint32    `json:"copy_nb"`
	CreationTime       time.Time `json:"creation_time"`
	ArchiveFileID      uint64    `json:"archive_file_id"`
}

// CopyKey — ключ живой копии: (archive_file_id, copy_nb).
type CopyKey struct {
	ArchiveFileID uint64
	CopyNb        uint32
}

// Key возвращает ключ копии.
func (tf TapeFile) Key() CopyKey {
	return CopyKey{ArchiveFileID: tf.ArchiveFileID, CopyNb: tf.CopyNb}
}

// TapeFileCopy — копия файла вместе с состоянием ленты, на которой она лежит.
type TapeFileCopy struct {
	TapeFile
	TapeState TapeState
}
